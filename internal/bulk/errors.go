package bulk

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks a request that cannot be executed as configured. Nothing was sent.
	ErrConfiguration = errors.New("configuration error")

	// ErrEncoding marks a batch whose values cannot be framed into the bulk payload.
	ErrEncoding = errors.New("encoding error")

	// ErrTransientNetwork marks a failed call that is safe to retry.
	ErrTransientNetwork = errors.New("transient network error")

	// ErrTimeout marks a job that did not finish within its poll budget.
	ErrTimeout = errors.New("timeout")

	// ErrFatalJob marks a job that failed remotely or could not be driven to completion.
	ErrFatalJob = errors.New("fatal job error")

	// ErrCancelled marks a job abandoned because the caller cancelled the context.
	ErrCancelled = errors.New("cancelled")
)

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func encodingErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrEncoding, fmt.Sprintf(format, args...))
}
