package bulk

import (
	"strings"
)

// Resolve validates the matcher configuration for kind on the given path and returns the
// operation to execute. It performs no I/O.
func Resolve(object ObjectSpec, kind OperationKind, cfg MatchConfig, path Path, events []Event) (Operation, error) {
	if !kind.Valid() {
		return nil, configErrorf("unsupported operation %q", kind)
	}
	if object.Name == "" {
		return nil, configErrorf("object name is required")
	}

	if kind == OperationCreate {
		if err := requireCreateFields(object, kind, events); err != nil {
			return nil, err
		}
		return Create{Object: object}, nil
	}

	match, err := strategyFor(cfg)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, configErrorf("operation %s requires a record matcher", kind)
	}

	if err := checkPath(kind, match, path); err != nil {
		return nil, err
	}
	if err := requireIdentifiers(match, events); err != nil {
		return nil, err
	}

	switch kind {
	case OperationUpdate:
		return Update{Object: object, Match: match}, nil
	case OperationDelete:
		return Delete{Object: object, Match: match}, nil
	default:
		if err := requireCreateFields(object, kind, events); err != nil {
			return nil, err
		}
		return Upsert{Object: object, Match: match}, nil
	}
}

// strategyFor converts cfg into a MatchStrategy. It returns nil, nil when no matcher is configured.
func strategyFor(cfg MatchConfig) (MatchStrategy, error) {
	switch cfg.Kind {
	case MatchNone:
		return nil, nil
	case MatchRecordID:
		return ByRecordID{}, nil
	case MatchExternalID:
		field := strings.TrimSpace(cfg.Field)
		if field == "" {
			return nil, configErrorf("external ID matcher requires a field name")
		}
		return ByExternalID{Field: field}, nil
	case MatchFields:
		fields := make([]string, 0, len(cfg.Fields))
		for _, f := range cfg.Fields {
			if f = strings.TrimSpace(f); f != "" {
				fields = append(fields, f)
			}
		}
		if len(fields) == 0 {
			return nil, configErrorf("field matcher requires at least one field")
		}
		op := cfg.Operator
		switch op {
		case "":
			op = MatchOperatorOR
		case MatchOperatorOR, MatchOperatorAND:
		default:
			return nil, configErrorf("unsupported match operator %q", cfg.Operator)
		}
		return ByCustomField{Fields: fields, Operator: op}, nil
	}
	return nil, configErrorf("unsupported match kind %q", cfg.Kind)
}

// checkPath rejects strategies the bulk job API cannot express.
func checkPath(kind OperationKind, match MatchStrategy, path Path) error {
	if path != PathBulk {
		return nil
	}
	switch match.(type) {
	case ByRecordID:
		return nil
	case ByExternalID:
		if kind == OperationUpsert {
			return nil
		}
		return configErrorf("bulk %s requires matching by record id, got %s", kind, match)
	}
	return configErrorf("bulk %s cannot match by %s", kind, match)
}

func requireIdentifiers(match MatchStrategy, events []Event) error {
	if m, ok := match.(ByCustomField); ok {
		for i, e := range events {
			found := false
			for _, f := range m.Fields {
				if e.Fields.Has(f) {
					found = true
					break
				}
			}
			if !found {
				return configErrorf("event %d has none of the match fields %s", i, strings.Join(m.Fields, ","))
			}
		}
		return nil
	}

	column, value, _ := identifier(match)
	for i, e := range events {
		if strings.TrimSpace(value(e)) == "" {
			return configErrorf("event %d is missing its %s value", i, column)
		}
	}
	return nil
}

// requireCreateFields checks every event, so a later event never masks a missing field on an earlier one.
func requireCreateFields(object ObjectSpec, kind OperationKind, events []Event) error {
	for i, e := range events {
		for _, name := range object.RequiredCreateFields {
			if !e.Fields.Has(name) {
				return configErrorf("missing %s value on event %d, required to %s %s", name, i, kind, object.Name)
			}
		}
	}
	return nil
}
