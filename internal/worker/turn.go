package worker

import "fmt"

// Phase is the lifecycle of one conversational turn inside the worker.
// Completed, blocked, and failed are terminal.
type Phase string

const (
	PhaseReceived  Phase = "received"
	PhaseScreened  Phase = "screened"
	PhaseRouted    Phase = "routed"
	PhaseExecuting Phase = "executing"
	PhaseCompleted Phase = "completed"
	PhaseBlocked   Phase = "blocked"
	PhaseFailed    Phase = "failed"
)

var phaseTransitions = map[Phase][]Phase{
	PhaseReceived:  {PhaseScreened, PhaseBlocked, PhaseFailed},
	PhaseScreened:  {PhaseRouted, PhaseBlocked, PhaseFailed},
	PhaseRouted:    {PhaseExecuting, PhaseFailed},
	PhaseExecuting: {PhaseCompleted, PhaseFailed},
}

// Turn tracks one job's progress through the pipeline. It is owned by a
// single worker goroutine; no locking needed.
type Turn struct {
	MessageID int64
	phase     Phase
}

func NewTurn(messageID int64) *Turn {
	return &Turn{MessageID: messageID, phase: PhaseReceived}
}

func (t *Turn) Phase() Phase { return t.phase }

func (t *Turn) Terminal() bool {
	switch t.phase {
	case PhaseCompleted, PhaseBlocked, PhaseFailed:
		return true
	}
	return false
}

// Advance moves the turn to next, rejecting transitions the lifecycle does
// not define. Terminal phases reject everything.
func (t *Turn) Advance(next Phase) error {
	for _, legal := range phaseTransitions[t.phase] {
		if legal == next {
			t.phase = next
			return nil
		}
	}
	return fmt.Errorf("illegal turn transition %s -> %s", t.phase, next)
}
