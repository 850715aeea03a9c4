package domain

import "context"

// Role is the caller's role as asserted by the external auth layer
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Identity is the authenticated caller. Authentication itself happens
// upstream; we only consume the asserted headers.
type Identity struct {
	OwnerID string
	Role    Role
}

// IsAdmin reports whether the caller holds the admin role
func (id Identity) IsAdmin() bool {
	return id.Role == RoleAdmin
}

// CanActOn reports whether the caller may modify the given owner's data
func (id Identity) CanActOn(ownerID string) bool {
	return id.OwnerID == ownerID || id.IsAdmin()
}

type identityKey struct{}

// WithIdentity attaches the caller identity to the context
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom extracts the caller identity from the context
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
