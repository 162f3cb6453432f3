package shared

import (
	"context"
	"errors"
)

// Role enumerates the workflow actors recognised by the engine.
type Role string

const (
	RoleSubmitter     Role = "SUBMITTER"
	RoleRegistrar     Role = "REGISTRAR"
	RoleVerifier      Role = "VERIFIER"
	RoleCorrector     Role = "CORRECTOR"
	RoleSP2DRegistrar Role = "SP2D_REGISTRAR"
	RoleTaxOfficer    Role = "TAX_OFFICER"
	RoleAdmin         Role = "ADMIN"
)

var validRoles = map[Role]struct{}{
	RoleSubmitter:     {},
	RoleRegistrar:     {},
	RoleVerifier:      {},
	RoleCorrector:     {},
	RoleSP2DRegistrar: {},
	RoleTaxOfficer:    {},
	RoleAdmin:         {},
}

// Valid reports whether the role is one of the known workflow roles.
func (r Role) Valid() bool {
	_, ok := validRoles[r]
	return ok
}

// Actor identifies the authenticated user performing an operation. Identity
// itself is established upstream; the engine only consumes id and role.
type Actor struct {
	ID   int64
	Role Role
	Org  string
}

// ErrNoActor indicates the request context carries no actor.
var ErrNoActor = errors.New("shared: actor missing from context")

type actorContextKey struct{}

// ContextWithActor stores the actor in the context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext retrieves the actor placed by the identity middleware.
func ActorFromContext(ctx context.Context) (Actor, error) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	if !ok || actor.ID == 0 {
		return Actor{}, ErrNoActor
	}
	return actor, nil
}
