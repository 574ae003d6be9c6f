package agent

import "errors"

var (
	// ErrResolverUnavailable is fatal to a run.
	ErrResolverUnavailable = errors.New("intent resolver unavailable")
	// ErrApprovalDenied ends a run after a Deny decision.
	ErrApprovalDenied = errors.New("action denied")
	// ErrBudgetExceeded ends a run that used its iteration budget.
	ErrBudgetExceeded = errors.New("iteration budget exceeded")
	// ErrInvalidStateTransition reports a state machine bug.
	ErrInvalidStateTransition = errors.New("invalid run state transition")
)
