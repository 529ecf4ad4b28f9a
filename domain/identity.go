package domain

import "context"

// Identity is the authenticated principal attached to a request by the
// authn middleware. The gateway treats it as an opaque key; how it was
// established (OAuth, static service token, ...) is the verifier's concern.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

type identityContextKey struct{}

// WithIdentity returns a context carrying the authenticated identity.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext retrieves the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || id == nil || id.ID == "" {
		return nil, false
	}
	return id, true
}
