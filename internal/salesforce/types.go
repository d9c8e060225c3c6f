// Package salesforce provides a client for the Salesforce REST and Bulk API 2.0.
package salesforce

import (
	"fmt"

	"github.com/peteski22/sfbridge/internal/bulk"
)

// Bulk API 2.0 job states as reported by the API.
const (
	stateOpen           = "Open"
	stateUploadComplete = "UploadComplete"
	stateInProgress     = "InProgress"
	stateJobComplete    = "JobComplete"
	stateFailed         = "Failed"
	stateAborted        = "Aborted"
)

// Result file columns added by the Bulk API 2.0 in front of the submitted columns.
const (
	columnCreated = "sf__Created"
	columnError   = "sf__Error"
	columnID      = "sf__Id"
)

// unprocessedMessage is reported for rows the job never reached.
const unprocessedMessage = "record was not processed before the job ended"

// jobState maps a Bulk API 2.0 job state onto the local lifecycle.
func jobState(state string) (bulk.JobState, error) {
	switch state {
	case stateOpen:
		return bulk.JobStateDataUploaded, nil
	case stateUploadComplete:
		return bulk.JobStateSubmitted, nil
	case stateInProgress:
		return bulk.JobStateInProgress, nil
	case stateJobComplete:
		return bulk.JobStateCompleted, nil
	case stateFailed:
		return bulk.JobStateFailed, nil
	case stateAborted:
		return bulk.JobStateAborted, nil
	}
	return "", fmt.Errorf("unknown job state %q", state)
}

// bulkOperation returns the Bulk API 2.0 operation name for kind.
func bulkOperation(kind bulk.OperationKind) (string, error) {
	switch kind {
	case bulk.OperationCreate:
		return "insert", nil
	case bulk.OperationUpdate:
		return "update", nil
	case bulk.OperationUpsert:
		return "upsert", nil
	case bulk.OperationDelete:
		return "delete", nil
	}
	return "", fmt.Errorf("unsupported bulk operation %q", kind)
}

// externalIDField returns the field an upsert job matches on, or "" for other operations.
func externalIDField(op bulk.Operation) string {
	upsert, ok := op.(bulk.Upsert)
	if !ok {
		return ""
	}
	switch m := upsert.Match.(type) {
	case bulk.ByExternalID:
		return m.Field
	case bulk.ByRecordID:
		return bulk.RecordIDColumn
	}
	return ""
}
