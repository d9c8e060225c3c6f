package bulk

import (
	"bytes"
	"encoding/csv"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFrameClearVersusAbsent(t *testing.T) {
	t.Parallel()

	batch := Batch{
		Operation: OperationUpdate,
		Events: []Event{
			{RecordID: "003A", Fields: Fields{{Name: "Email", Value: nil}, {Name: "LastName", Value: "Smith"}}},
			{RecordID: "003B", Fields: Fields{{Name: "LastName", Value: "Jones"}}},
		},
	}

	payload, err := Frame(batch, Update{Object: testContact, Match: ByRecordID{}})

	require.NoError(t, err)
	require.Equal(t, []string{"Id", "Email", "LastName"}, payload.Columns)
	require.Equal(t, 2, payload.Rows)
	require.Equal(t, "Id,Email,LastName\n003A,#N/A,Smith\n003B,,Jones\n", string(payload.Data))
}

func TestFrameSingleColumnKeepsEmptyRows(t *testing.T) {
	t.Parallel()

	batch := Batch{
		Operation: OperationCreate,
		Events: []Event{
			{Fields: Fields{{Name: "LastName", Value: "Smith"}}},
			{},
			{Fields: Fields{{Name: "LastName", Value: "Jones"}}},
		},
	}

	payload, err := Frame(batch, Create{Object: testContact})

	require.NoError(t, err)
	require.Equal(t, "LastName\nSmith\n\"\"\nJones\n", string(payload.Data))

	records, err := csv.NewReader(bytes.NewReader(payload.Data)).ReadAll()
	require.NoError(t, err)
	require.Equal(t, [][]string{{"LastName"}, {"Smith"}, {""}, {"Jones"}}, records)
}

func TestFrame(t *testing.T) {
	t.Parallel()

	when := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	tests := map[string]struct {
		events  []Event
		op      Operation
		want    string
		columns []string
	}{
		"create uses first-seen column order": {
			events: []Event{
				{Fields: Fields{{Name: "LastName", Value: "A"}, {Name: "Email", Value: "a@x.io"}}},
				{Fields: Fields{{Name: "Phone", Value: "+15551234567"}, {Name: "LastName", Value: "B"}}},
			},
			op:      Create{Object: testContact},
			columns: []string{"LastName", "Email", "Phone"},
			want:    "LastName,Email,Phone\nA,a@x.io,\nB,,+15551234567\n",
		},
		"upsert leads with external id column": {
			events: []Event{
				{ExternalID: "ext-1", Fields: Fields{{Name: "LastName", Value: "A"}}},
			},
			op:      Upsert{Object: testContact, Match: ByExternalID{Field: "Ext__c"}},
			columns: []string{"Ext__c", "LastName"},
			want:    "Ext__c,LastName\next-1,A\n",
		},
		"delete carries only the id": {
			events: []Event{
				{RecordID: "003A", Fields: Fields{{Name: "LastName", Value: "A"}}},
				{RecordID: "003B"},
			},
			op:      Delete{Object: testContact, Match: ByRecordID{}},
			columns: []string{"Id"},
			want:    "Id\n003A\n003B\n",
		},
		"id field on event does not duplicate the id column": {
			events: []Event{
				{RecordID: "003A", Fields: Fields{{Name: "Id", Value: "ignored"}, {Name: "LastName", Value: "A"}}},
			},
			op:      Update{Object: testContact, Match: ByRecordID{}},
			columns: []string{"Id", "LastName"},
			want:    "Id,LastName\n003A,A\n",
		},
		"scalars and objects": {
			events: []Event{
				{Fields: Fields{
					{Name: "LastName", Value: "A"},
					{Name: "Active__c", Value: true},
					{Name: "Score__c", Value: 12.5},
					{Name: "Count__c", Value: int64(7)},
					{Name: "Seen__c", Value: when},
					{Name: "Tags__c", Value: []string{"x", "y"}},
				}},
			},
			op:      Create{Object: testContact},
			columns: []string{"LastName", "Active__c", "Score__c", "Count__c", "Seen__c", "Tags__c"},
			want:    "LastName,Active__c,Score__c,Count__c,Seen__c,Tags__c\nA,true,12.5,7,2024-03-01T12:30:00Z,\"[\"\"x\"\",\"\"y\"\"]\"\n",
		},
		"delimiters quotes and line breaks are quoted": {
			events: []Event{
				{Fields: Fields{
					{Name: "LastName", Value: `O"Brien, Jr`},
					{Name: "MailingStreet", Value: "1 Main St\r\nSuite 2"},
				}},
			},
			op:      Create{Object: testContact},
			columns: []string{"LastName", "MailingStreet"},
			want:    "LastName,MailingStreet\n\"O\"\"Brien, Jr\",\"1 Main St\nSuite 2\"\n",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			payload, err := Frame(Batch{Events: tc.events, Operation: tc.op.Kind()}, tc.op)

			require.NoError(t, err)
			require.Equal(t, tc.columns, payload.Columns)
			require.Equal(t, len(tc.events), payload.Rows)
			require.Equal(t, tc.want, string(payload.Data))
		})
	}
}

func TestFrameEncodingErrors(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		fields Fields
		errMsg string
	}{
		"invalid utf8": {
			fields: Fields{{Name: "LastName", Value: "bad\xff"}},
			errMsg: "not valid UTF-8",
		},
		"nul byte": {
			fields: Fields{{Name: "LastName", Value: "a\x00b"}},
			errMsg: "control character",
		},
		"not finite": {
			fields: Fields{{Name: "Score__c", Value: math.NaN()}},
			errMsg: "not a finite number",
		},
		"unsupported type": {
			fields: Fields{{Name: "Fn__c", Value: func() {}}},
			errMsg: "unsupported value type",
		},
		"sentinel as literal value": {
			fields: Fields{{Name: "LastName", Value: NullSentinel}},
			errMsg: "reserved clear-field marker",
		},
		"column with delimiter": {
			fields: Fields{{Name: "Last,Name", Value: "A"}},
			errMsg: "contains a delimiter",
		},
		"empty column": {
			fields: Fields{{Name: " ", Value: "A"}},
			errMsg: "empty column name",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			batch := Batch{Operation: OperationCreate, Offset: 40, Events: []Event{{Fields: tc.fields}}}

			_, err := Frame(batch, Create{Object: testContact})

			require.ErrorIs(t, err, ErrEncoding)
			require.Contains(t, err.Error(), tc.errMsg)
		})
	}
}
