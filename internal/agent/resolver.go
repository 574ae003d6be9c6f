package agent

import (
	"context"

	"github.com/KafClaw/sysclaw/internal/tools"
)

// ResolveRequest is everything the resolver sees when planning.
type ResolveRequest struct {
	Goal    string
	History []Turn
	Tools   []tools.Definition
}

// Proposal is the resolver's answer: a tool call or a final answer.
type Proposal struct {
	Tool        string
	Arguments   map[string]any
	Rationale   string
	FinalAnswer string
	Final       bool
}

// Resolver maps a goal and history to the next step. Implementations must
// return an error wrapping ErrResolverUnavailable when the backend cannot be
// reached or answers with something unusable.
type Resolver interface {
	Resolve(ctx context.Context, req ResolveRequest) (Proposal, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, req ResolveRequest) (Proposal, error)

func (f ResolverFunc) Resolve(ctx context.Context, req ResolveRequest) (Proposal, error) {
	return f(ctx, req)
}
