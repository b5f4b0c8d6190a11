package rate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStoreUnavailable reports that the origin counter store could not
	// be reached. Callers must treat the attempt as throttled.
	ErrStoreUnavailable = errors.New("rate: store unavailable")

	// ErrDegraded reports that the identifier counter store could not be
	// reached. Callers may proceed without identifier throttle cover.
	ErrDegraded = errors.New("rate: identifier counter degraded")
)

// BlockedError reports a tripped counter together with the time left on
// its block.
type BlockedError struct {
	Scope      string // "identifier" or "origin"
	RetryAfter time.Duration
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("rate: %s blocked, retry after %s", e.Scope, e.RetryAfter)
}
