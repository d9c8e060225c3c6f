package bulk

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// NullSentinel tells the bulk API to clear a field. An empty cell leaves the field unchanged.
const NullSentinel = "#N/A"

// Frame serialises a batch into a CSV payload for op.
//
// The identifying column (Id or the external ID field) comes first when op needs one, followed
// by the union of event field names in first-seen order. A field absent from an event is written
// as an empty cell; a field explicitly set to nil is written as NullSentinel.
func Frame(batch Batch, op Operation) (Payload, error) {
	if len(batch.Events) == 0 {
		return Payload{}, configErrorf("cannot frame an empty batch")
	}

	var (
		idColumn string
		idValue  func(Event) string
	)
	if match := MatchOf(op); match != nil {
		column, value, ok := identifier(match)
		if !ok {
			return Payload{}, configErrorf("%s cannot be framed for a bulk job", match)
		}
		idColumn, idValue = column, value
	}

	columns := frameColumns(batch.Events, idColumn, op.Kind() == OperationDelete)
	for _, c := range columns {
		if err := checkColumnName(c); err != nil {
			return Payload{}, err
		}
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.UseCRLF = false

	if err := w.Write(columns); err != nil {
		return Payload{}, encodingErrorf("writing header: %v", err)
	}

	record := make([]string, len(columns))
	for i, e := range batch.Events {
		for j, column := range columns {
			cell, err := frameCell(e, column, idColumn, idValue)
			if err != nil {
				return Payload{}, encodingErrorf("event %d field %s: %v", batch.Offset+i, column, err)
			}
			record[j] = cell
		}
		// A lone empty cell would be written as a blank line, which CSV readers skip.
		if len(record) == 1 && record[0] == "" {
			w.Flush()
			buf.WriteString("\"\"\n")
			continue
		}
		if err := w.Write(record); err != nil {
			return Payload{}, encodingErrorf("writing event %d: %v", batch.Offset+i, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return Payload{}, encodingErrorf("flushing payload: %v", err)
	}

	return Payload{
		Columns: columns,
		Data:    buf.Bytes(),
		Rows:    len(batch.Events),
	}, nil
}

func frameColumns(events []Event, idColumn string, idOnly bool) []string {
	var columns []string
	seen := make(map[string]struct{})
	if idColumn != "" {
		columns = append(columns, idColumn)
		seen[idColumn] = struct{}{}
	}
	if idOnly {
		return columns
	}

	for _, e := range events {
		for _, f := range e.Fields {
			if _, ok := seen[f.Name]; ok {
				continue
			}
			seen[f.Name] = struct{}{}
			columns = append(columns, f.Name)
		}
	}
	return columns
}

func frameCell(e Event, column string, idColumn string, idValue func(Event) string) (string, error) {
	if column == idColumn {
		return checkText(idValue(e))
	}

	v, ok := e.Fields.Get(column)
	if !ok {
		return "", nil
	}
	if v == nil {
		return NullSentinel, nil
	}
	return formatValue(v)
}

func formatValue(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return checkText(t)
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case uint:
		return strconv.FormatUint(uint64(t), 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case float32:
		return formatFloat(float64(t), 32)
	case float64:
		return formatFloat(t, 64)
	case json.Number:
		return t.String(), nil
	case time.Time:
		return t.Format(time.RFC3339), nil
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return checkText(string(b))
	}

	return "", &unsupportedTypeError{value: v}
}

func formatFloat(f float64, bitSize int) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", errNonFinite
	}
	return strconv.FormatFloat(f, 'f', -1, bitSize), nil
}

// checkText normalises line endings and rejects text the tabular format cannot carry.
func checkText(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", errInvalidUTF8
	}
	if strings.ContainsRune(s, '\r') {
		s = strings.ReplaceAll(s, "\r\n", "\n")
		s = strings.ReplaceAll(s, "\r", "\n")
	}
	for _, r := range s {
		if r < 0x20 && r != '\n' && r != '\t' {
			return "", &controlCharError{r: r}
		}
	}
	if s == NullSentinel {
		return "", errSentinelValue
	}
	return s, nil
}

func checkColumnName(name string) error {
	if strings.TrimSpace(name) == "" {
		return encodingErrorf("empty column name")
	}
	if strings.ContainsAny(name, ",\"\r\n") {
		return encodingErrorf("column name %q contains a delimiter, quote or line break", name)
	}
	return nil
}

type frameError string

func (e frameError) Error() string { return string(e) }

const (
	errInvalidUTF8   = frameError("value is not valid UTF-8")
	errNonFinite     = frameError("value is not a finite number")
	errSentinelValue = frameError("value equals the reserved clear-field marker " + NullSentinel)
)

type controlCharError struct {
	r rune
}

func (e *controlCharError) Error() string {
	return "value contains control character " + strconv.QuoteRune(e.r)
}

type unsupportedTypeError struct {
	value any
}

func (e *unsupportedTypeError) Error() string {
	return "unsupported value type " + reflect.TypeOf(e.value).String()
}
