// Package tenant carries the request-scoped tenancy context: who is
// acting, for which organization, with which role. Every repository
// accessor and access predicate reads from it.
package tenant

import (
	"context"

	"github.com/google/uuid"

	"github.com/deciframe-hq/deciframe/internal/domain"
)

type Context struct {
	ActorID      uuid.UUID
	OrgID        uuid.UUID
	Role         domain.Role
	DepartmentID *uuid.UUID
	// ExtraDepartments are explicitly granted departments outside the
	// actor's own subtree.
	ExtraDepartments []uuid.UUID
	Authenticated    bool
	// CrossTenant is held only by platform-admin actors; it is
	// orthogonal to the tenant Admin role.
	CrossTenant bool
}

type ctxKey struct{}

func With(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

func From(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}

// System returns a context for engine-internal work scoped to one
// organization. It is authenticated but has no actor.
func System(ctx context.Context, orgID uuid.UUID) context.Context {
	return With(ctx, Context{
		OrgID:         orgID,
		Role:          domain.RoleAdmin,
		Authenticated: true,
	})
}

// Platform returns a context with the cross-tenant capability, used by
// the queue worker to claim events across organizations.
func Platform(ctx context.Context) context.Context {
	return With(ctx, Context{
		Role:          domain.RoleAdmin,
		Authenticated: true,
		CrossTenant:   true,
	})
}
