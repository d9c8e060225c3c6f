package bulk

import (
	"fmt"
	"strings"
)

// RecordIDColumn is the remote column holding the record identifier.
const RecordIDColumn = "Id"

// Path is the delivery mechanism an operation will be executed on.
type Path int

const (
	// PathRecord sends one REST call per event.
	PathRecord Path = iota

	// PathBulk sends batches through a bulk job.
	PathBulk
)

// String implements fmt.Stringer.
func (p Path) String() string {
	if p == PathBulk {
		return "bulk"
	}
	return "record"
}

// MatchKind selects how an existing remote record is identified.
type MatchKind string

const (
	// MatchNone configures no matcher; only valid for create.
	MatchNone MatchKind = ""

	// MatchRecordID matches on the remote record ID.
	MatchRecordID MatchKind = "id"

	// MatchExternalID matches on an external ID field.
	MatchExternalID MatchKind = "external_id"

	// MatchFields matches by looking up records whose fields equal the event's values.
	MatchFields MatchKind = "fields"
)

// MatchOperator combines multiple lookup fields.
type MatchOperator string

const (
	MatchOperatorOR  MatchOperator = "OR"
	MatchOperatorAND MatchOperator = "AND"
)

// MatchConfig is the caller-supplied matcher configuration.
type MatchConfig struct {
	// Field is the external ID field name, used with MatchExternalID.
	Field string `json:"field,omitempty"`

	// Fields are the lookup field names, used with MatchFields.
	Fields []string `json:"fields,omitempty"`

	// Kind selects the strategy.
	Kind MatchKind `json:"kind,omitempty"`

	// Operator combines Fields; defaults to OR.
	Operator MatchOperator `json:"operator,omitempty"`
}

// MatchStrategy identifies "the same remote record". It is one of ByRecordID, ByExternalID or ByCustomField.
type MatchStrategy interface {
	fmt.Stringer
	matchStrategy()
}

// ByRecordID matches on the remote record ID carried in Event.RecordID.
type ByRecordID struct{}

// ByExternalID matches on Field, with the value carried in Event.ExternalID.
type ByExternalID struct {
	Field string
}

// ByCustomField matches records whose Fields equal the event's own values for those fields.
type ByCustomField struct {
	Fields   []string
	Operator MatchOperator
}

func (ByRecordID) matchStrategy()    {}
func (ByExternalID) matchStrategy()  {}
func (ByCustomField) matchStrategy() {}

func (ByRecordID) String() string { return "record id" }

func (m ByExternalID) String() string { return "external id " + m.Field }

func (m ByCustomField) String() string {
	return fmt.Sprintf("fields %s (%s)", strings.Join(m.Fields, ","), m.Operator)
}

// ObjectSpec describes the remote object type being written.
type ObjectSpec struct {
	// Name is the remote object API name, e.g. Contact.
	Name string

	// RequiredCreateFields must be present and non-null on every event that may create a record.
	RequiredCreateFields []string
}

// Operation is a validated write. Each case carries exactly what it needs:
// Create has no matcher, while Update, Upsert and Delete always have one.
type Operation interface {
	Kind() OperationKind
	Target() ObjectSpec
	isOperation()
}

// Create inserts new records.
type Create struct {
	Object ObjectSpec
}

// Update modifies matched records.
type Update struct {
	Match  MatchStrategy
	Object ObjectSpec
}

// Upsert modifies matched records or creates them.
type Upsert struct {
	Match  MatchStrategy
	Object ObjectSpec
}

// Delete removes matched records.
type Delete struct {
	Match  MatchStrategy
	Object ObjectSpec
}

func (Create) Kind() OperationKind { return OperationCreate }
func (Update) Kind() OperationKind { return OperationUpdate }
func (Upsert) Kind() OperationKind { return OperationUpsert }
func (Delete) Kind() OperationKind { return OperationDelete }

func (o Create) Target() ObjectSpec { return o.Object }
func (o Update) Target() ObjectSpec { return o.Object }
func (o Upsert) Target() ObjectSpec { return o.Object }
func (o Delete) Target() ObjectSpec { return o.Object }

func (Create) isOperation() {}
func (Update) isOperation() {}
func (Upsert) isOperation() {}
func (Delete) isOperation() {}

// MatchOf returns the operation's match strategy, or nil for Create.
func MatchOf(op Operation) MatchStrategy {
	switch o := op.(type) {
	case Update:
		return o.Match
	case Upsert:
		return o.Match
	case Delete:
		return o.Match
	}
	return nil
}

// identifier returns the identifying column for m and how to read its value from an event.
// ok is false when m does not identify records by a payload column.
func identifier(m MatchStrategy) (column string, value func(Event) string, ok bool) {
	switch s := m.(type) {
	case ByRecordID:
		return RecordIDColumn, func(e Event) string { return e.RecordID }, true
	case ByExternalID:
		return s.Field, func(e Event) string { return e.ExternalID }, true
	}
	return "", nil, false
}
