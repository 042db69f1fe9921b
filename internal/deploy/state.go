package deploy

import (
	"fmt"
	"sync"
	"time"

	"github.com/Iron-Ham/rollout/internal/errors"
)

// Phase names one stage of the deploy lifecycle.
type Phase string

const (
	PhasePre      Phase = "pre"
	PhaseDeploy   Phase = "deploy"
	PhasePost     Phase = "post"
	PhaseFinalize Phase = "finalize"
)

// Phases returns the lifecycle phases in execution order.
func Phases() []Phase {
	return []Phase{PhasePre, PhaseDeploy, PhasePost, PhaseFinalize}
}

// Outcome is the recorded result of a phase.
type Outcome int

const (
	OutcomeUnset Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	default:
		return "unset"
	}
}

// PhaseResult is what a phase boundary reports.
type PhaseResult struct {
	Outcome Outcome
	Err     error
	Elapsed time.Duration
}

// Succeeded builds a successful PhaseResult.
func Succeeded() PhaseResult {
	return PhaseResult{Outcome: OutcomeSucceeded}
}

// Failed builds a failed PhaseResult carrying err.
func Failed(err error) PhaseResult {
	return PhaseResult{Outcome: OutcomeFailed, Err: err}
}

// ErrPhaseRecorded is returned when a phase outcome is written twice.
var ErrPhaseRecorded = errors.New("phase outcome already recorded")

// RunState maps each phase of one invocation to its outcome. Each phase is
// written at most once. Readers may run on other goroutines (live view,
// history) while the deployer writes.
type RunState struct {
	mu      sync.RWMutex
	results map[Phase]PhaseResult
}

// NewRunState returns an empty RunState.
func NewRunState() *RunState {
	return &RunState{results: make(map[Phase]PhaseResult, 4)}
}

// Record stores the result of phase. A second write for the same phase is
// refused with ErrPhaseRecorded and leaves the first result in place.
func (s *RunState) Record(phase Phase, result PhaseResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.results[phase]; ok {
		return fmt.Errorf("%w: %s is %s", ErrPhaseRecorded, phase, prev.Outcome)
	}
	s.results[phase] = result
	return nil
}

// Outcome returns the recorded outcome of phase.
func (s *RunState) Outcome(phase Phase) Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.results[phase].Outcome
}

// Result returns the recorded result of phase.
func (s *RunState) Result(phase Phase) (PhaseResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[phase]
	return r, ok
}

// Succeeded reports whether phase was recorded as succeeded.
func (s *RunState) Succeeded(phase Phase) bool {
	return s.Outcome(phase) == OutcomeSucceeded
}

// Failed reports whether any phase failed.
func (s *RunState) Failed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.results {
		if r.Outcome == OutcomeFailed {
			return true
		}
	}
	return false
}

// Err joins the errors of all failed phases in phase order.
func (s *RunState) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var errs []error
	for _, phase := range Phases() {
		if r := s.results[phase]; r.Outcome == OutcomeFailed && r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}

// Snapshot copies the outcomes.
func (s *RunState) Snapshot() map[Phase]Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[Phase]Outcome, len(s.results))
	for phase, r := range s.results {
		out[phase] = r.Outcome
	}
	return out
}
