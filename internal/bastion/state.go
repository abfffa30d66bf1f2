package bastion

import "fmt"

// State is the lifecycle state of a bastion.
type State string

// Lifecycle states.
const (
	StateNone         State = ""
	StateProvisioning State = "Provisioning"
	StateReady        State = "Ready"
	StateFailed       State = "Failed"
	StateTearingDown  State = "TearingDown"
	StateDestroyed    State = "Destroyed"
)

// transitions lists the legal successor states of each state.
var transitions = map[State][]State{
	StateNone:         {StateProvisioning},
	StateProvisioning: {StateProvisioning, StateReady, StateFailed},
	StateReady:        {StateReady, StateTearingDown},
	StateFailed:       {StateTearingDown},
	StateTearingDown:  {StateTearingDown, StateDestroyed},
	StateDestroyed:    {StateProvisioning},
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionError reports an illegal state change.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	from := e.From
	if from == StateNone {
		from = "<none>"
	}
	return fmt.Sprintf("illegal state transition %s -> %s", from, e.To)
}
