package history

import (
	"context"
	"time"

	"github.com/Iron-Ham/rollout/internal/deploy"
	"github.com/Iron-Ham/rollout/internal/logging"
)

// Recorder writes phase events to a Store as a deploy progresses. It
// implements deploy.Observer. Write failures are logged and never affect the
// deploy.
type Recorder struct {
	store  *Store
	runID  string
	logger *logging.Logger
	clock  func() time.Time
}

var _ deploy.Observer = (*Recorder)(nil)

// NewRecorder creates a Recorder for runID.
func NewRecorder(store *Store, runID string, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Recorder{store: store, runID: runID, logger: logger, clock: time.Now}
}

// PhaseStarted is a no-op; only finished phases are recorded.
func (r *Recorder) PhaseStarted(string, deploy.Phase) {}

// PhaseFinished records the phase result.
func (r *Recorder) PhaseFinished(host string, phase deploy.Phase, res deploy.PhaseResult) {
	e := Event{
		RunID:   r.runID,
		Host:    host,
		Phase:   phase,
		Outcome: res.Outcome.String(),
		Elapsed: res.Elapsed,
		At:      r.clock(),
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
	}
	// Finalize may be recording after the caller's context was cancelled.
	if err := r.store.RecordEvent(context.Background(), e); err != nil {
		r.logger.WithHost(host).Warn("history event not recorded", "phase", string(phase), "error", err.Error())
	}
}
