package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/catalog_sync/utils"
)

var (
	ErrNotFound          = utils.ErrorRecordNotFound
	ErrAlreadyResolved   = errors.New("conflict already resolved")
	ErrAlreadyInReview   = errors.New("conflict already in manual review")
	ErrSyncInProgress    = errors.New("sync already in progress for scope")
	ErrInvalidScope      = errors.New("invalid sync scope")
	ErrInvalidResolution = errors.New("invalid resolution")
)

// ConnectionError marks a failure to reach or authenticate with the fulfillment provider.
type ConnectionError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s failed with status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err means the provider could not be reached in time.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var ce *ConnectionError
	return errors.As(err, &ce) || errors.Is(err, context.DeadlineExceeded)
}
