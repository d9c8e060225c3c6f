package bulk

const (
	// MaxBatchSize is the largest number of rows submitted in one bulk job.
	MaxBatchSize = 10000

	// DefaultBatchSize is used when no batch size is configured.
	DefaultBatchSize = 5000
)

// Partition splits events into operation-homogeneous batches of at most maxSize events.
// Consecutive events with the same operation share a batch; batches are returned in input order
// and operations are never reordered, since a remote bulk job runs a single operation.
func Partition(events []Event, maxSize int) ([]Batch, error) {
	if len(events) == 0 {
		return nil, configErrorf("no events to partition")
	}
	if maxSize <= 0 {
		return nil, configErrorf("batch size must be positive, got %d", maxSize)
	}

	var batches []Batch
	start := 0
	for i := 1; i <= len(events); i++ {
		if i < len(events) && events[i].Operation == events[start].Operation && i-start < maxSize {
			continue
		}
		op := events[start].Operation
		if !op.Valid() {
			return nil, configErrorf("event %d has unsupported operation %q", start, op)
		}
		batches = append(batches, Batch{
			Events:    events[start:i:i],
			Offset:    start,
			Operation: op,
		})
		start = i
	}

	return batches, nil
}
