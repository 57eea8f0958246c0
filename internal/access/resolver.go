package access

import (
	"context"
	"log/slog"

	"modeld/pkg/domain"
)

// RoleAssignments is the persisted identity -> role lookup.
type RoleAssignments interface {
	GetRole(identityID string) (domain.Role, bool, error)
}

// Resolver determines the effective role of the current identity.
type Resolver struct {
	assignments RoleAssignments
}

// NewResolver builds a resolver over a role assignment store.
func NewResolver(assignments RoleAssignments) *Resolver {
	return &Resolver{assignments: assignments}
}

type overrideKey struct{}

// WithOverride injects an explicit role override into the request context.
// The override wins over any persisted assignment, without any check against
// the identity. That lets any caller self-assign admin; it exists for
// environments without a configured identity provider and the HTTP boundary
// only populates it when the deployment enables it.
func WithOverride(ctx context.Context, role domain.Role) context.Context {
	return context.WithValue(ctx, overrideKey{}, role)
}

// OverrideFromContext returns the injected override role, if any.
func OverrideFromContext(ctx context.Context) (domain.Role, bool) {
	role, ok := ctx.Value(overrideKey{}).(domain.Role)
	return role, ok
}

// Resolve returns the effective role, or ok=false when no role applies.
// Priority: context override verbatim; absent identity resolves to no role;
// persisted assignment; unknown identities default to viewer. A failing
// lookup also defaults to viewer rather than propagating the fault, keeping
// read access available during store outages. The fallback is logged.
func (r *Resolver) Resolve(ctx context.Context, identity *domain.Identity) (domain.Role, bool) {
	if role, ok := OverrideFromContext(ctx); ok {
		return role, true
	}
	if identity == nil {
		return "", false
	}
	role, found, err := r.assignments.GetRole(identity.ID)
	if err != nil {
		slog.Warn("role lookup failed, defaulting to viewer",
			"identity_id", identity.ID,
			"err", err,
		)
		return domain.RoleViewer, true
	}
	if !found {
		return domain.RoleViewer, true
	}
	return role, true
}
