package bulk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPartition(t *testing.T) {
	t.Parallel()

	mixed := []Event{
		contactEvent(OperationCreate, 0),
		contactEvent(OperationCreate, 1),
		contactEvent(OperationUpdate, 2),
		contactEvent(OperationCreate, 3),
		contactEvent(OperationCreate, 4),
		contactEvent(OperationCreate, 5),
	}

	tests := map[string]struct {
		events      []Event
		maxSize     int
		wantOffsets []int
		wantOps     []OperationKind
		wantSizes   []int
		errMsg      string
	}{
		"max size split": {
			events:      contactEvents(OperationCreate, 25000),
			maxSize:     10000,
			wantOffsets: []int{0, 10000, 20000},
			wantOps:     []OperationKind{OperationCreate, OperationCreate, OperationCreate},
			wantSizes:   []int{10000, 10000, 5000},
		},
		"mixed operations keep input order": {
			events:      mixed,
			maxSize:     2,
			wantOffsets: []int{0, 2, 3, 5},
			wantOps:     []OperationKind{OperationCreate, OperationUpdate, OperationCreate, OperationCreate},
			wantSizes:   []int{2, 1, 2, 1},
		},
		"single event": {
			events:      contactEvents(OperationDelete, 1),
			maxSize:     10,
			wantOffsets: []int{0},
			wantOps:     []OperationKind{OperationDelete},
			wantSizes:   []int{1},
		},
		"empty input": {
			events:  nil,
			maxSize: 10,
			errMsg:  "no events to partition",
		},
		"non-positive size": {
			events:  contactEvents(OperationCreate, 3),
			maxSize: 0,
			errMsg:  "batch size must be positive",
		},
		"unsupported operation": {
			events:  contactEvents("merge", 2),
			maxSize: 10,
			errMsg:  `unsupported operation "merge"`,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			batches, err := Partition(tc.events, tc.maxSize)

			if tc.errMsg != "" {
				require.ErrorIs(t, err, ErrConfiguration)
				require.Contains(t, err.Error(), tc.errMsg)
				return
			}

			require.NoError(t, err)
			require.Len(t, batches, len(tc.wantSizes))
			for i, b := range batches {
				require.Equal(t, tc.wantOffsets[i], b.Offset)
				require.Equal(t, tc.wantOps[i], b.Operation)
				require.Len(t, b.Events, tc.wantSizes[i])
			}
		})
	}
}

func TestPartitionBatchesAreHomogeneous(t *testing.T) {
	t.Parallel()

	ops := []OperationKind{OperationCreate, OperationUpdate, OperationUpsert, OperationDelete}
	var events []Event
	for i := range 500 {
		// Runs of varying length per operation.
		events = append(events, contactEvent(ops[(i/7+i/13)%len(ops)], i))
	}

	for _, maxSize := range []int{1, 3, 10, 64, 1000} {
		batches, err := Partition(events, maxSize)
		require.NoError(t, err)

		next := 0
		for _, b := range batches {
			require.NotEmpty(t, b.Events)
			require.LessOrEqual(t, len(b.Events), maxSize)
			require.Equal(t, next, b.Offset)
			for j, e := range b.Events {
				require.Equal(t, b.Operation, e.Operation)
				require.Equal(t, events[b.Offset+j].Fields, e.Fields)
			}
			next += len(b.Events)
		}
		require.Equal(t, len(events), next)
	}
}
