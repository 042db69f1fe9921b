package deploy

import (
	"sync"
	"testing"

	"github.com/Iron-Ham/rollout/internal/errors"
)

func TestRunState_RecordOnce(t *testing.T) {
	s := NewRunState()
	if err := s.Record(PhasePre, Succeeded()); err != nil {
		t.Fatalf("first Record: %v", err)
	}

	err := s.Record(PhasePre, Failed(errors.New("late")))
	if !errors.Is(err, ErrPhaseRecorded) {
		t.Fatalf("second Record = %v, want ErrPhaseRecorded", err)
	}
	if got := s.Outcome(PhasePre); got != OutcomeSucceeded {
		t.Errorf("Outcome = %s, want first write kept", got)
	}
}

func TestRunState_Unset(t *testing.T) {
	s := NewRunState()
	for _, phase := range Phases() {
		if got := s.Outcome(phase); got != OutcomeUnset {
			t.Errorf("%s = %s, want unset", phase, got)
		}
		if _, ok := s.Result(phase); ok {
			t.Errorf("%s reported as recorded", phase)
		}
	}
	if s.Failed() || s.Err() != nil {
		t.Error("empty state reports failure")
	}
}

func TestRunState_ErrJoinsInPhaseOrder(t *testing.T) {
	s := NewRunState()
	errPost := errors.New("post broke")
	errPre := errors.New("pre broke")
	_ = s.Record(PhasePost, Failed(errPost))
	_ = s.Record(PhaseDeploy, Succeeded())
	_ = s.Record(PhasePre, Failed(errPre))

	if !s.Failed() {
		t.Fatal("Failed() = false")
	}
	err := s.Err()
	if !errors.Is(err, errPre) || !errors.Is(err, errPost) {
		t.Fatalf("Err() = %v", err)
	}
	if got, want := err.Error(), "pre broke\npost broke"; got != want {
		t.Errorf("Err() = %q, want %q", got, want)
	}

	snap := s.Snapshot()
	want := map[Phase]Outcome{PhasePre: OutcomeFailed, PhaseDeploy: OutcomeSucceeded, PhasePost: OutcomeFailed}
	if len(snap) != len(want) {
		t.Fatalf("Snapshot = %v", snap)
	}
	for phase, outcome := range want {
		if snap[phase] != outcome {
			t.Errorf("Snapshot[%s] = %s, want %s", phase, snap[phase], outcome)
		}
	}
}

func TestRunState_ConcurrentReaders(t *testing.T) {
	s := NewRunState()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.Snapshot()
				_ = s.Failed()
			}
		}()
	}
	for _, phase := range Phases() {
		_ = s.Record(phase, Succeeded())
	}
	wg.Wait()

	if s.Failed() {
		t.Error("Failed() = true")
	}
}

func TestOutcome_String(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    string
	}{
		{OutcomeUnset, "unset"},
		{OutcomeSucceeded, "succeeded"},
		{OutcomeFailed, "failed"},
	}
	for _, tt := range tests {
		if got := tt.outcome.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.outcome, got, tt.want)
		}
	}
}
