package access

import (
	"context"

	"modeld/pkg/domain"
)

// Engine evaluates the two guards for a protected operation.
type Engine struct {
	resolver *Resolver
}

// NewEngine builds the access control engine.
func NewEngine(resolver *Resolver) *Engine {
	return &Engine{resolver: resolver}
}

// ResolveAccess runs the session guard, then the role guard. Guard
// evaluation is cheap and performs no storage writes; callers must consult it
// before any storage access.
func (e *Engine) ResolveAccess(ctx context.Context, identity *domain.Identity, op Operation) Decision {
	if identity == nil {
		return Decision{
			Reason:   ReasonNoSession,
			Redirect: FallbackSignIn,
		}
	}
	role, ok := e.resolver.Resolve(ctx, identity)
	if !ok {
		return Decision{
			Reason:   ReasonNoSession,
			Redirect: FallbackSignIn,
		}
	}
	if !Allowed(op, role) {
		return Decision{
			Role:     role,
			Reason:   ReasonRoleNotAllowed,
			Redirect: FallbackLanding,
		}
	}
	return Decision{Allowed: true, Role: role}
}
