package bulk

import (
	"errors"
	"fmt"
)

// Correlate pairs each event in batch with the row result at the same position.
// rows must contain exactly one result per event.
func Correlate(batch Batch, rows []RowResult) ([]SyncResult, error) {
	if len(rows) != len(batch.Events) {
		return nil, fmt.Errorf("%w: %d results for %d events", ErrFatalJob, len(rows), len(batch.Events))
	}

	results := make([]SyncResult, len(batch.Events))
	for i, e := range batch.Events {
		results[i] = resultFromRow(batch.Offset+i, e, rows[i])
	}
	return results, nil
}

// FailBatch reports every event in batch as failed with the job-level error err.
func FailBatch(batch Batch, err error) []SyncResult {
	results := make([]SyncResult, len(batch.Events))
	for i, e := range batch.Events {
		results[i] = SyncResult{
			Err:   err,
			Event: e,
			Index: batch.Offset + i,
		}
	}
	return results
}

func resultFromRow(index int, e Event, row RowResult) SyncResult {
	r := SyncResult{
		Created:  row.Created,
		Event:    e,
		Index:    index,
		RemoteID: row.RemoteID,
		Success:  row.Success,
	}
	if !row.Success {
		msg := row.ErrorMessage
		if msg == "" {
			msg = "record rejected without a reason"
		}
		r.Err = errors.New(msg)
	}
	return r
}
