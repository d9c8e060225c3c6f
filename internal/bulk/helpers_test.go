package bulk

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// errMock is a simple error type for testing.
type errMock string

// Error implements the error interface.
func (e errMock) Error() string {
	return string(e)
}

// instantTimer fires as soon as it is started and records every requested delay.
type instantTimer struct {
	c      chan time.Time
	delays *delayLog
}

// delayLog collects delays across timers.
type delayLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (l *delayLog) add(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delays = append(l.delays, d)
}

func (l *delayLog) all() []time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Duration(nil), l.delays...)
}

func instantTimers(log *delayLog) TimerFunc {
	return func() backoff.Timer {
		return &instantTimer{c: make(chan time.Time, 1), delays: log}
	}
}

func (t *instantTimer) Start(d time.Duration) {
	if t.delays != nil {
		t.delays.add(d)
	}
	select {
	case t.c <- time.Time{}:
	default:
	}
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time {
	return t.c
}

// mockBulkAPI implements BulkAPI for testing. It is safe for concurrent use.
type mockBulkAPI struct {
	mu sync.Mutex

	// createErr is returned by every CreateJob call.
	createErr error

	// uploadErrs are returned by successive UploadJobData calls.
	uploadErrs []error

	// closeErr is returned by every CloseJob call.
	closeErr error

	// statuses are returned by successive JobStatus calls; the last one repeats.
	statuses []JobStatus

	// statusErrs are returned by successive JobStatus calls before statuses are used.
	statusErrs []error

	// statusFor overrides statuses per uploaded payload.
	statusFor func(payload Payload) JobStatus

	// resultErrs are returned by successive JobResults calls.
	resultErrs []error

	// results overrides the default all-success results.
	results func(payload Payload) ([]RowResult, error)

	calls    map[string]int
	aborted  []string
	nextID   int
	payloads map[string]Payload
}

func newMockBulkAPI() *mockBulkAPI {
	return &mockBulkAPI{
		calls:    make(map[string]int),
		payloads: make(map[string]Payload),
		statuses: []JobStatus{{State: JobStateCompleted}},
	}
}

func (m *mockBulkAPI) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *mockBulkAPI) AbortJob(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["abort"]++
	m.aborted = append(m.aborted, jobID)
	return nil
}

func (m *mockBulkAPI) CloseJob(_ context.Context, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["close"]++
	return m.closeErr
}

func (m *mockBulkAPI) CreateJob(_ context.Context, _ JobRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["create"]++
	if m.createErr != nil {
		return "", m.createErr
	}
	m.nextID++
	return fmt.Sprintf("job-%d", m.nextID), nil
}

func (m *mockBulkAPI) JobResults(_ context.Context, _ string, payload Payload) ([]RowResult, error) {
	m.mu.Lock()
	m.calls["results"]++
	if len(m.resultErrs) > 0 {
		err := m.resultErrs[0]
		m.resultErrs = m.resultErrs[1:]
		m.mu.Unlock()
		if err != nil {
			return nil, err
		}
	} else {
		m.mu.Unlock()
	}

	if m.results != nil {
		return m.results(payload)
	}
	return refResults(payload)
}

func (m *mockBulkAPI) JobStatus(_ context.Context, jobID string) (JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["status"]++

	if len(m.statusErrs) > 0 {
		err := m.statusErrs[0]
		m.statusErrs = m.statusErrs[1:]
		if err != nil {
			return JobStatus{}, err
		}
	}
	if m.statusFor != nil {
		return m.statusFor(m.payloads[jobID]), nil
	}

	status := m.statuses[0]
	if len(m.statuses) > 1 {
		m.statuses = m.statuses[1:]
	}
	return status, nil
}

func (m *mockBulkAPI) UploadJobData(_ context.Context, jobID string, payload Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["upload"]++
	if len(m.uploadErrs) > 0 {
		err := m.uploadErrs[0]
		m.uploadErrs = m.uploadErrs[1:]
		if err != nil {
			return err
		}
	}
	m.payloads[jobID] = payload
	return nil
}

// refResults returns a successful row per payload row whose RemoteID echoes the Ref column.
func refResults(payload Payload) ([]RowResult, error) {
	records, err := csv.NewReader(bytes.NewReader(payload.Data)).ReadAll()
	if err != nil {
		return nil, err
	}

	ref := -1
	for i, c := range records[0] {
		if c == "Ref" {
			ref = i
		}
	}

	rows := make([]RowResult, 0, len(records)-1)
	for i, rec := range records[1:] {
		id := fmt.Sprintf("row-%d", i)
		if ref >= 0 {
			id = "rid-" + rec[ref]
		}
		rows = append(rows, RowResult{Created: true, RemoteID: id, Success: true})
	}
	return rows, nil
}

// mockRecordClient implements RecordClient for testing.
type mockRecordClient struct {
	mu    sync.Mutex
	calls []OperationKind
	err   error
}

func (m *mockRecordClient) record(kind OperationKind, e Event) (RowResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, kind)
	if m.err != nil {
		return RowResult{}, m.err
	}
	ref, _ := e.Fields.Get("Ref")
	return RowResult{Created: kind == OperationCreate, RemoteID: fmt.Sprintf("rid-%v", ref), Success: true}, nil
}

func (m *mockRecordClient) CreateRecord(_ context.Context, _ Create, e Event) (RowResult, error) {
	return m.record(OperationCreate, e)
}

func (m *mockRecordClient) DeleteRecord(_ context.Context, _ Delete, e Event) (RowResult, error) {
	return m.record(OperationDelete, e)
}

func (m *mockRecordClient) UpdateRecord(_ context.Context, _ Update, e Event) (RowResult, error) {
	return m.record(OperationUpdate, e)
}

func (m *mockRecordClient) UpsertRecord(_ context.Context, _ Upsert, e Event) (RowResult, error) {
	return m.record(OperationUpsert, e)
}

// recordingObserver collects transitions.
type recordingObserver struct {
	mu          sync.Mutex
	transitions []Transition
}

func (o *recordingObserver) JobTransition(_ context.Context, t Transition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, t)
}

func (o *recordingObserver) states() []JobState {
	o.mu.Lock()
	defer o.mu.Unlock()
	states := make([]JobState, len(o.transitions))
	for i, t := range o.transitions {
		states[i] = t.To
	}
	return states
}

var testContact = ObjectSpec{Name: "Contact", RequiredCreateFields: []string{"LastName"}}

// contactEvent builds an event with a Ref field used to trace it through results.
func contactEvent(op OperationKind, ref int) Event {
	return Event{
		Fields: Fields{
			{Name: "Ref", Value: fmt.Sprintf("e%d", ref)},
			{Name: "LastName", Value: fmt.Sprintf("Last %d", ref)},
		},
		Operation:  op,
		RecordID:   fmt.Sprintf("003%012d", ref),
		ExternalID: fmt.Sprintf("ext-%d", ref),
	}
}

func contactEvents(op OperationKind, n int) []Event {
	events := make([]Event, n)
	for i := range events {
		events[i] = contactEvent(op, i)
	}
	return events
}
