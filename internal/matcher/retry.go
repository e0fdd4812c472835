package matcher

import (
	"math"
	"math/rand"
	"time"

	"github.com/sells-group/womatch-cli/internal/resilience"
	"github.com/sells-group/womatch-cli/pkg/assistants"
)

// runBackoff returns the delay before retry n (1-based): base doubled per
// retry, plus up to one second of uniform jitter.
func runBackoff(base time.Duration, retry int) time.Duration {
	d := time.Duration(float64(base) * math.Pow(2, float64(retry-1)))
	return d + time.Duration(rand.Float64()*float64(time.Second))
}

// retriableRun reports whether a failed run carries an error code from the
// retriable set. Runs that fail without a classification are terminal.
func retriableRun(run *assistants.Run) bool {
	return run.LastError != nil && resilience.IsRetriableRunCode(run.LastError.Code)
}

// runErrorText renders a failed run's classification for error results.
func runErrorText(run *assistants.Run) string {
	if run.LastError == nil {
		return "run failed without an error classification"
	}
	return run.LastError.Code + ": " + run.LastError.Message
}
