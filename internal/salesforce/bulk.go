package salesforce

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/carlmjohnson/requests"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/peteski22/sfbridge/internal/bulk"
)

// CreateJob creates a Bulk API 2.0 ingest job and returns its ID.
func (c *Client) CreateJob(ctx context.Context, req bulk.JobRequest) (string, error) {
	if req.Operation == nil {
		return "", errors.New("creating job: operation is required")
	}
	operation, err := bulkOperation(req.Operation.Kind())
	if err != nil {
		return "", fmt.Errorf("creating job: %w", err)
	}

	body := []byte(`{"contentType":"CSV","columnDelimiter":"COMMA","lineEnding":"LF"}`)
	body, _ = sjson.SetBytes(body, "object", req.Object)
	body, _ = sjson.SetBytes(body, "operation", operation)
	if field := externalIDField(req.Operation); field != "" {
		body, _ = sjson.SetBytes(body, "externalIdFieldName", field)
	}

	var resp string
	err = c.do(ctx, c.dataPath("/jobs/ingest/"), func(b *requests.Builder) *requests.Builder {
		return b.
			BodyBytes(body).
			ContentType("application/json").
			ToString(&resp)
	})
	if err != nil {
		return "", fmt.Errorf("creating job: %w", err)
	}

	id := gjson.Get(resp, "id").String()
	if id == "" {
		return "", errors.New("creating job: response did not include a job ID")
	}
	return id, nil
}

// UploadJobData uploads the CSV payload to an open job.
func (c *Client) UploadJobData(ctx context.Context, jobID string, payload bulk.Payload) error {
	err := c.do(ctx, c.dataPath("/jobs/ingest/%s/batches", jobID), func(b *requests.Builder) *requests.Builder {
		return b.
			Method(http.MethodPut).
			BodyBytes(payload.Data).
			ContentType("text/csv")
	})
	if err != nil {
		return fmt.Errorf("uploading job data: %w", err)
	}
	return nil
}

// CloseJob marks the upload as complete so the job is queued for processing.
func (c *Client) CloseJob(ctx context.Context, jobID string) error {
	if err := c.setJobState(ctx, jobID, stateUploadComplete); err != nil {
		return fmt.Errorf("closing job: %w", err)
	}
	return nil
}

// AbortJob asks Salesforce to stop processing a job.
func (c *Client) AbortJob(ctx context.Context, jobID string) error {
	if err := c.setJobState(ctx, jobID, stateAborted); err != nil {
		return fmt.Errorf("aborting job: %w", err)
	}
	return nil
}

func (c *Client) setJobState(ctx context.Context, jobID string, state string) error {
	body, _ := sjson.SetBytes([]byte(`{}`), "state", state)
	return c.do(ctx, c.dataPath("/jobs/ingest/%s/", jobID), func(b *requests.Builder) *requests.Builder {
		return b.
			Method(http.MethodPatch).
			BodyBytes(body).
			ContentType("application/json")
	})
}

// JobStatus reads the current state of a job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (bulk.JobStatus, error) {
	var resp string
	err := c.do(ctx, c.dataPath("/jobs/ingest/%s/", jobID), func(b *requests.Builder) *requests.Builder {
		return b.
			ToString(&resp)
	})
	if err != nil {
		return bulk.JobStatus{}, fmt.Errorf("reading job status: %w", err)
	}

	info := gjson.Parse(resp)
	state, err := jobState(info.Get("state").String())
	if err != nil {
		return bulk.JobStatus{}, fmt.Errorf("reading job status: %w", err)
	}

	return bulk.JobStatus{
		ErrorMessage:     info.Get("errorMessage").String(),
		RecordsFailed:    int(info.Get("numberRecordsFailed").Int()),
		RecordsProcessed: int(info.Get("numberRecordsProcessed").Int()),
		State:            state,
	}, nil
}

// JobResults downloads the successful, failed and unprocessed result files and returns one
// result per payload row in submission order.
func (c *Client) JobResults(ctx context.Context, jobID string, payload bulk.Payload) ([]bulk.RowResult, error) {
	files := make(map[string][][]string, 3)
	for _, name := range []string{"successfulResults", "failedResults", "unprocessedrecords"} {
		var buf bytes.Buffer
		err := c.do(ctx, c.dataPath("/jobs/ingest/%s/%s/", jobID, name), func(b *requests.Builder) *requests.Builder {
			return b.
				Accept("text/csv").
				ToBytesBuffer(&buf)
		})
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", name, err)
		}

		records, err := readCSV(buf.Bytes())
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}
		files[name] = records
	}

	rows, err := orderResults(payload, files["successfulResults"], files["failedResults"], files["unprocessedrecords"])
	if err != nil {
		return nil, fmt.Errorf("correlating results for job %s: %w", jobID, err)
	}
	return rows, nil
}

func readCSV(data []byte) ([][]string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	return r.ReadAll()
}

// orderResults matches result rows back to payload rows by the submitted column values, which
// Salesforce echoes in every result file. Identical submitted rows are assigned in file order.
func orderResults(payload bulk.Payload, successful, failed, unprocessed [][]string) ([]bulk.RowResult, error) {
	submitted, err := readCSV(payload.Data)
	if err != nil {
		return nil, fmt.Errorf("parsing payload: %w", err)
	}
	if len(submitted) == 0 {
		return nil, errors.New("payload has no header")
	}

	columns := submitted[0]
	pending := make(map[string][]int, len(submitted)-1)
	for i, row := range submitted[1:] {
		key := fingerprint(row)
		pending[key] = append(pending[key], i)
	}

	results := make([]bulk.RowResult, len(submitted)-1)
	assigned := make([]bool, len(results))

	assign := func(file string, records [][]string, toResult func(row []string, col map[string]int) bulk.RowResult) error {
		if len(records) == 0 {
			return nil
		}
		col := make(map[string]int, len(records[0]))
		for i, name := range records[0] {
			col[name] = i
		}

		for n, row := range records[1:] {
			values := make([]string, len(columns))
			for i, name := range columns {
				if j, ok := col[name]; ok && j < len(row) {
					values[i] = row[j]
				}
			}

			key := fingerprint(values)
			queue := pending[key]
			if len(queue) == 0 {
				return fmt.Errorf("%s row %d does not match any submitted row", file, n+1)
			}
			index := queue[0]
			pending[key] = queue[1:]

			results[index] = toResult(row, col)
			assigned[index] = true
		}
		return nil
	}

	cell := func(row []string, col map[string]int, name string) string {
		if j, ok := col[name]; ok && j < len(row) {
			return row[j]
		}
		return ""
	}

	err = assign("successful results", successful, func(row []string, col map[string]int) bulk.RowResult {
		return bulk.RowResult{
			Created:  strings.EqualFold(cell(row, col, columnCreated), "true"),
			RemoteID: cell(row, col, columnID),
			Success:  true,
		}
	})
	if err != nil {
		return nil, err
	}

	err = assign("failed results", failed, func(row []string, col map[string]int) bulk.RowResult {
		return bulk.RowResult{
			ErrorMessage: cell(row, col, columnError),
			RemoteID:     cell(row, col, columnID),
		}
	})
	if err != nil {
		return nil, err
	}

	err = assign("unprocessed records", unprocessed, func([]string, map[string]int) bulk.RowResult {
		return bulk.RowResult{ErrorMessage: unprocessedMessage}
	})
	if err != nil {
		return nil, err
	}

	for i, ok := range assigned {
		if !ok {
			return nil, fmt.Errorf("no result for row %d", i)
		}
	}
	return results, nil
}

// fingerprint joins values with a separator that cannot occur in framed cells.
func fingerprint(values []string) string {
	return strings.Join(values, "\x1f")
}
