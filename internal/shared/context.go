package shared

import "context"

// Role values asserted by the upstream gateway.
const (
	RoleCustomer = "customer"
	RoleStaff    = "staff"
	RoleAdmin    = "admin"
)

// Actor identifies the authenticated caller of a workflow operation.
// Identity verification happens upstream; the service only consumes
// the asserted id and role.
type Actor struct {
	UserID int64
	Role   string
}

// IsStaff reports whether the actor may perform staff-only operations.
func (a Actor) IsStaff() bool {
	return a.Role == RoleStaff || a.Role == RoleAdmin
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context. The zero Actor is
// returned for unauthenticated (guest) requests.
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorContextKey{}).(Actor)
	return actor
}
