package bundleadjust

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/openterra/stereopipeline/logging"
)

// DefaultFailureLogLimit is how many projection failures a tracker logs
// individually before going quiet.
const DefaultFailureLogLimit = 100

// FailureTracker accumulates projection failures across every residual that
// shares it. Failures below the limit are logged individually; when the limit
// is reached one notice is logged, and everything past it is only counted.
// A single tracker is typically shared by all of a problem's costs so the
// total failure count of an optimizer run can be inspected afterwards.
type FailureTracker struct {
	logger logging.Logger
	limit  int64
	count  atomic.Int64

	// mu serializes the logging decision so the cutoff notice appears exactly once.
	mu sync.Mutex
}

// NewFailureTracker returns a tracker that reports through the given logger.
func NewFailureTracker(logger logging.Logger) *FailureTracker {
	if logger == nil {
		logger = logging.NewLogger("bundleadjust")
	}
	return &FailureTracker{logger: logger, limit: DefaultFailureLogLimit}
}

// Record counts one projection failure. Cheap once the log limit has been
// passed; successful evaluations never touch the tracker at all.
func (ft *FailureTracker) Record(err error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	n := ft.count.Inc()
	if n < ft.limit {
		ft.logger.Error(err)
	} else if n == ft.limit {
		ft.logger.Info("Will print no more error messages about failing to compute residuals.")
	}
}

// Count returns the number of failures recorded so far. It does not block
// concurrent evaluations.
func (ft *FailureTracker) Count() int64 {
	return ft.count.Load()
}
