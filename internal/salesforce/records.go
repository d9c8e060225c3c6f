package salesforce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/peteski22/sfbridge/internal/bulk"
)

// identifierPattern matches object and field API names that are safe to place in a SOQL query.
var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// CreateRecord inserts one record.
func (c *Client) CreateRecord(ctx context.Context, op bulk.Create, event bulk.Event) (bulk.RowResult, error) {
	id, err := c.insert(ctx, op.Object.Name, event.Fields)
	if err != nil {
		return bulk.RowResult{}, fmt.Errorf("creating %s: %w", op.Object.Name, err)
	}
	return bulk.RowResult{Created: true, RemoteID: id, Success: true}, nil
}

// UpdateRecord modifies every record matched by op.
func (c *Client) UpdateRecord(ctx context.Context, op bulk.Update, event bulk.Event) (bulk.RowResult, error) {
	ids, err := c.matchingIDs(ctx, op.Object.Name, op.Match, event)
	if err != nil {
		return bulk.RowResult{}, fmt.Errorf("updating %s: %w", op.Object.Name, err)
	}
	if len(ids) == 0 {
		return bulk.RowResult{}, fmt.Errorf("updating %s: no record matches %s", op.Object.Name, op.Match)
	}

	for _, id := range ids {
		if err := c.patch(ctx, op.Object.Name, id, event.Fields); err != nil {
			return bulk.RowResult{}, fmt.Errorf("updating %s %s: %w", op.Object.Name, id, err)
		}
	}
	return bulk.RowResult{RemoteID: ids[0], Success: true}, nil
}

// UpsertRecord modifies the records matched by op, or creates one when nothing matches.
func (c *Client) UpsertRecord(ctx context.Context, op bulk.Upsert, event bulk.Event) (bulk.RowResult, error) {
	switch m := op.Match.(type) {
	case bulk.ByRecordID:
		return c.upsertByField(ctx, op.Object.Name, bulk.RecordIDColumn, event.RecordID, event.Fields)
	case bulk.ByExternalID:
		return c.upsertByField(ctx, op.Object.Name, m.Field, event.ExternalID, event.Fields)
	}

	ids, err := c.matchingIDs(ctx, op.Object.Name, op.Match, event)
	if err != nil {
		return bulk.RowResult{}, fmt.Errorf("upserting %s: %w", op.Object.Name, err)
	}
	if len(ids) == 0 {
		id, err := c.insert(ctx, op.Object.Name, event.Fields)
		if err != nil {
			return bulk.RowResult{}, fmt.Errorf("upserting %s: %w", op.Object.Name, err)
		}
		return bulk.RowResult{Created: true, RemoteID: id, Success: true}, nil
	}

	for _, id := range ids {
		if err := c.patch(ctx, op.Object.Name, id, event.Fields); err != nil {
			return bulk.RowResult{}, fmt.Errorf("upserting %s %s: %w", op.Object.Name, id, err)
		}
	}
	return bulk.RowResult{RemoteID: ids[0], Success: true}, nil
}

// DeleteRecord removes every record matched by op.
func (c *Client) DeleteRecord(ctx context.Context, op bulk.Delete, event bulk.Event) (bulk.RowResult, error) {
	ids, err := c.matchingIDs(ctx, op.Object.Name, op.Match, event)
	if err != nil {
		return bulk.RowResult{}, fmt.Errorf("deleting %s: %w", op.Object.Name, err)
	}
	if len(ids) == 0 {
		return bulk.RowResult{}, fmt.Errorf("deleting %s: no record matches %s", op.Object.Name, op.Match)
	}

	for _, id := range ids {
		err := c.do(ctx, c.dataPath("/sobjects/%s/%s", op.Object.Name, id), func(b *requests.Builder) *requests.Builder {
			return b.
				Method(http.MethodDelete)
		})
		if err != nil {
			return bulk.RowResult{}, fmt.Errorf("deleting %s %s: %w", op.Object.Name, id, err)
		}
	}
	return bulk.RowResult{RemoteID: ids[0], Success: true}, nil
}

func (c *Client) insert(ctx context.Context, object string, fields bulk.Fields) (string, error) {
	body, err := recordBody(fields)
	if err != nil {
		return "", err
	}

	var resp string
	err = c.do(ctx, c.dataPath("/sobjects/%s/", object), func(b *requests.Builder) *requests.Builder {
		return b.
			BodyBytes(body).
			ContentType("application/json").
			ToString(&resp)
	})
	if err != nil {
		return "", err
	}

	id := gjson.Get(resp, "id").String()
	if id == "" {
		return "", errors.New("response did not include a record ID")
	}
	return id, nil
}

func (c *Client) patch(ctx context.Context, object string, id string, fields bulk.Fields) error {
	body, err := recordBody(fields)
	if err != nil {
		return err
	}
	return c.do(ctx, c.dataPath("/sobjects/%s/%s", object, id), func(b *requests.Builder) *requests.Builder {
		return b.
			Method(http.MethodPatch).
			BodyBytes(body).
			ContentType("application/json")
	})
}

// upsertByField upserts through the sobject external ID endpoint, which creates or updates atomically.
func (c *Client) upsertByField(
	ctx context.Context,
	object string,
	field string,
	value string,
	fields bulk.Fields,
) (bulk.RowResult, error) {
	body, err := recordBody(fields)
	if err != nil {
		return bulk.RowResult{}, fmt.Errorf("upserting %s: %w", object, err)
	}

	var resp string
	err = c.do(ctx, c.dataPath("/sobjects/%s/%s/%s", object, field, value), func(b *requests.Builder) *requests.Builder {
		return b.
			Method(http.MethodPatch).
			BodyBytes(body).
			ContentType("application/json").
			ToString(&resp)
	})
	if err != nil {
		return bulk.RowResult{}, fmt.Errorf("upserting %s %s=%s: %w", object, field, value, err)
	}

	// Older API versions answer an update with 204 and no body.
	result := gjson.Parse(resp)
	id := result.Get("id").String()
	if id == "" && field == bulk.RecordIDColumn {
		id = value
	}
	return bulk.RowResult{Created: result.Get("created").Bool(), RemoteID: id, Success: true}, nil
}

// matchingIDs resolves the record IDs op matches for event, querying by field when needed.
func (c *Client) matchingIDs(ctx context.Context, object string, match bulk.MatchStrategy, event bulk.Event) ([]string, error) {
	if _, ok := match.(bulk.ByRecordID); ok {
		if event.RecordID == "" {
			return nil, nil
		}
		return []string{event.RecordID}, nil
	}

	soql, err := lookupQuery(object, match, event)
	if err != nil {
		return nil, err
	}

	var resp string
	err = c.do(ctx, c.dataPath("/query/"), func(b *requests.Builder) *requests.Builder {
		return b.
			Param("q", soql).
			ToString(&resp)
	})
	if err != nil {
		return nil, fmt.Errorf("looking up records: %w", err)
	}

	var ids []string
	for _, id := range gjson.Get(resp, "records.#.Id").Array() {
		ids = append(ids, id.String())
	}
	return ids, nil
}

// lookupQuery builds the SOQL query that finds the records match identifies for event.
func lookupQuery(object string, match bulk.MatchStrategy, event bulk.Event) (string, error) {
	if !identifierPattern.MatchString(object) {
		return "", fmt.Errorf("%w: invalid object name %q", bulk.ErrConfiguration, object)
	}

	var (
		conditions []string
		joiner     = " OR "
	)
	switch m := match.(type) {
	case bulk.ByExternalID:
		if !identifierPattern.MatchString(m.Field) {
			return "", fmt.Errorf("%w: invalid field name %q", bulk.ErrConfiguration, m.Field)
		}
		conditions = append(conditions, m.Field+" = "+quote(event.ExternalID))
	case bulk.ByCustomField:
		if m.Operator == bulk.MatchOperatorAND {
			joiner = " AND "
		}
		for _, field := range m.Fields {
			if !identifierPattern.MatchString(field) {
				return "", fmt.Errorf("%w: invalid field name %q", bulk.ErrConfiguration, field)
			}
			value, ok := event.Fields.Get(field)
			if !ok {
				continue
			}
			literal, err := soqlLiteral(value)
			if err != nil {
				return "", fmt.Errorf("field %s: %w", field, err)
			}
			conditions = append(conditions, field+" = "+literal)
		}
	default:
		return "", fmt.Errorf("%w: unsupported match strategy %s", bulk.ErrConfiguration, match)
	}

	if len(conditions) == 0 {
		return "", fmt.Errorf("%w: no match values on event", bulk.ErrConfiguration)
	}
	return fmt.Sprintf("SELECT Id FROM %s WHERE %s", object, strings.Join(conditions, joiner)), nil
}

// soqlLiteral renders v as a SOQL literal.
func soqlLiteral(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "null", nil
	case string:
		return quote(x), nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case json.Number:
		return x.String(), nil
	case time.Time:
		return x.UTC().Format(time.RFC3339), nil
	}
	return "", fmt.Errorf("unsupported match value type %T", v)
}

// quote returns s as a single-quoted SOQL string literal.
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\r", `\r`, "\t", `\t`)
	return "'" + r.Replace(s) + "'"
}

// recordBody encodes fields as a JSON object. Nil values are sent as null to clear the field.
// The Id field is never sent in a body.
func recordBody(fields bulk.Fields) ([]byte, error) {
	body := []byte(`{}`)
	for _, f := range fields {
		if strings.EqualFold(f.Name, bulk.RecordIDColumn) {
			continue
		}
		var err error
		body, err = sjson.SetBytes(body, escapePath(f.Name), f.Value)
		if err != nil {
			return nil, fmt.Errorf("encoding field %s: %w", f.Name, err)
		}
	}
	return body, nil
}

// escapePath escapes the characters sjson treats as path syntax.
func escapePath(name string) string {
	var b strings.Builder
	for _, r := range name {
		if strings.ContainsRune(`\.*?|#@:!`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
