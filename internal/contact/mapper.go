// Package contact maps upstream customer events onto Salesforce Contact records.
package contact

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/biter777/countries"
	"github.com/iancoleman/strcase"
	"github.com/tidwall/gjson"
	"github.com/ttacon/libphonenumber"

	"github.com/peteski22/sfbridge/internal/bulk"
)

// defaultRegion is the ISO 3166 region used to read phone numbers without a country code.
const defaultRegion = "US"

// Object describes the Salesforce Contact object. LastName is mandatory whenever a Contact may be created.
var Object = bulk.ObjectSpec{Name: "Contact", RequiredCreateFields: []string{"LastName"}}

// Input is one upstream event together with the identifiers used to match its Contact.
type Input struct {
	// CustomFields are Salesforce field values passed through verbatim, keyed by API name.
	CustomFields json.RawMessage `json:"custom_fields,omitempty"`

	// ExternalID is the external ID value used by external ID matching.
	ExternalID string `json:"external_id,omitempty"`

	// Operation overrides the request operation for this event.
	Operation bulk.OperationKind `json:"operation,omitempty"`

	// Payload is the upstream event, carrying traits and properties.
	Payload json.RawMessage `json:"payload"`

	// RecordID is the Salesforce record ID used by record ID matching.
	RecordID string `json:"record_id,omitempty"`
}

// mapping reads one Contact field from the first of paths that exists in the event.
type mapping struct {
	key       string
	paths     []string
	transform func(m *Mapper, value any) any
}

// mappings lists the Contact fields read from an event, keyed by their snake_case name.
var mappings = []mapping{
	{key: "last_name", paths: []string{"traits.last_name", "properties.last_name"}},
	{key: "first_name", paths: []string{"traits.first_name", "properties.first_name"}},
	{key: "account_id", paths: []string{"traits.account_id", "properties.account_id"}},
	{key: "email", paths: []string{"traits.email", "properties.email"}},
	{key: "phone", paths: []string{"traits.phone", "properties.phone"}, transform: (*Mapper).phone},
	{key: "mailing_street", paths: []string{"traits.address.street", "properties.address.street"}},
	{key: "mailing_city", paths: []string{"traits.address.city", "properties.address.city"}},
	{key: "mailing_state", paths: []string{"traits.address.state", "properties.address.state"}},
	{key: "mailing_postal_code", paths: []string{"traits.address.postal_code", "properties.address.postal_code"}},
	{key: "mailing_country", paths: []string{"traits.address.country", "properties.address.country"}, transform: (*Mapper).country},
}

// Config holds the configuration for creating a Mapper.
type Config struct {
	// DefaultRegion is the ISO 3166 alpha-2 region assumed for phone numbers without a country code.
	DefaultRegion string

	// Logger is the structured logger for normalisation warnings.
	Logger *slog.Logger
}

// validate checks the Config fields.
func (c *Config) validate() error {
	if c.DefaultRegion == "" {
		return nil
	}
	if countries.ByName(c.DefaultRegion) == countries.Unknown {
		return fmt.Errorf("unknown default region %q", c.DefaultRegion)
	}
	return nil
}

// Mapper converts Inputs to bulk events for the Contact object.
type Mapper struct {
	logger *slog.Logger
	region string
}

// NewMapper creates a new Mapper.
func NewMapper(cfg Config) (*Mapper, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	region := defaultRegion
	if cfg.DefaultRegion != "" {
		region = countries.ByName(cfg.DefaultRegion).Alpha2()
	}

	return &Mapper{logger: logger, region: region}, nil
}

// Map converts one input. Fields present in the event as null are kept as nil so they are cleared
// remotely; fields absent from the event are omitted. Delete events carry identifiers only.
func (m *Mapper) Map(in Input) (bulk.Event, error) {
	event := bulk.Event{
		ExternalID: strings.TrimSpace(in.ExternalID),
		Operation:  in.Operation,
		RecordID:   strings.TrimSpace(in.RecordID),
	}
	if in.Operation == bulk.OperationDelete {
		return event, nil
	}

	if len(in.Payload) > 0 {
		if !gjson.ValidBytes(in.Payload) {
			return bulk.Event{}, errors.New("payload is not valid JSON")
		}
		payload := gjson.ParseBytes(in.Payload)

		for _, mp := range mappings {
			result, ok := lookup(payload, mp.paths)
			if !ok {
				continue
			}
			value := toValue(result)
			if mp.transform != nil && value != nil {
				value = mp.transform(m, value)
			}
			event.Fields = append(event.Fields, bulk.Field{Name: strcase.ToCamel(mp.key), Value: value})
		}
	}

	if len(in.CustomFields) > 0 {
		custom := gjson.ParseBytes(in.CustomFields)
		if !gjson.ValidBytes(in.CustomFields) || !custom.IsObject() {
			return bulk.Event{}, errors.New("custom_fields must be a JSON object")
		}
		custom.ForEach(func(key, value gjson.Result) bool {
			event.Fields = setField(event.Fields, key.String(), toValue(value))
			return true
		})
	}

	return event, nil
}

// MapAll converts inputs in order.
func (m *Mapper) MapAll(inputs []Input) ([]bulk.Event, error) {
	events := make([]bulk.Event, len(inputs))
	for i, in := range inputs {
		e, err := m.Map(in)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		events[i] = e
	}
	return events, nil
}

// phone normalises a phone number to E.164, leaving numbers that cannot be parsed untouched.
func (m *Mapper) phone(value any) any {
	raw, ok := value.(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return value
	}

	num, err := libphonenumber.Parse(raw, m.region)
	if err != nil {
		m.logger.Debug("keeping unparsed phone number", "error", err)
		return raw
	}
	return libphonenumber.Format(num, libphonenumber.E164)
}

// country normalises a country code or name to its English name.
func (m *Mapper) country(value any) any {
	raw, ok := value.(string)
	if !ok {
		return value
	}

	c := countries.ByName(strings.TrimSpace(raw))
	if c == countries.Unknown {
		m.logger.Debug("keeping unrecognised country", "country", raw)
		return raw
	}
	return c.String()
}

// lookup returns the first of paths present in payload, including explicit nulls.
func lookup(payload gjson.Result, paths []string) (gjson.Result, bool) {
	for _, p := range paths {
		if r := payload.Get(p); r.Exists() {
			return r, true
		}
	}
	return gjson.Result{}, false
}

// toValue converts a JSON value to the Go value written to Salesforce.
func toValue(r gjson.Result) any {
	switch r.Type {
	case gjson.Null:
		return nil
	case gjson.String:
		return r.String()
	case gjson.Number:
		return json.Number(r.Raw)
	case gjson.True, gjson.False:
		return r.Bool()
	}
	return r.Value()
}

// setField replaces name in fields or appends it.
func setField(fields bulk.Fields, name string, value any) bulk.Fields {
	for i := range fields {
		if fields[i].Name == name {
			fields[i].Value = value
			return fields
		}
	}
	return append(fields, bulk.Field{Name: name, Value: value})
}
