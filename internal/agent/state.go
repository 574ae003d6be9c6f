package agent

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/KafClaw/sysclaw/internal/policy"
)

// DefaultBudget is the iteration budget used when none is configured.
const DefaultBudget = 10

// State is a node of the loop state machine.
type State string

const (
	StatePlanning         State = "planning"
	StateAwaitingApproval State = "awaiting_approval"
	StateExecuting        State = "executing"
	StateObserving        State = "observing"
	StateTerminated       State = "terminated"
)

// Planning may go straight to Observing when a proposal fails validation,
// so the corrective turn is counted like any executed call.
var allowedTransitions = map[State]map[State]struct{}{
	StatePlanning: {
		StateAwaitingApproval: {},
		StateObserving:        {},
		StateTerminated:       {},
	},
	StateAwaitingApproval: {
		StateExecuting:  {},
		StatePlanning:   {},
		StateTerminated: {},
	},
	StateExecuting: {
		StateObserving: {},
	},
	StateObserving: {
		StatePlanning:   {},
		StateTerminated: {},
	},
	StateTerminated: {},
}

func validateTransition(from, to State) error {
	allowed, ok := allowedTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown source state %q", ErrInvalidStateTransition, from)
	}
	if _, ok := allowed[to]; !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, from, to)
	}
	return nil
}

// Termination names why a run ended.
type Termination string

const (
	TerminationFinalAnswer         Termination = "final_answer"
	TerminationUserCancelled       Termination = "user_cancelled"
	TerminationBudgetExceeded      Termination = "budget_exceeded"
	TerminationResolverUnavailable Termination = "resolver_unavailable"
)

// RunContext is the per-run mutable state. It must not be shared between runs.
type RunContext struct {
	ID        string
	Mode      policy.Mode
	Budget    int
	Iteration int
	State     State

	history History
}

// NewRunContext starts a run in Planning. A budget of zero or less selects
// DefaultBudget.
func NewRunContext(mode policy.Mode, budget int) *RunContext {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &RunContext{
		ID:     uuid.NewString(),
		Mode:   mode,
		Budget: budget,
		State:  StatePlanning,
	}
}

// History returns the run's history.
func (rc *RunContext) History() *History { return &rc.history }

func (rc *RunContext) transition(to State) error {
	if err := validateTransition(rc.State, to); err != nil {
		return err
	}
	rc.State = to
	return nil
}
