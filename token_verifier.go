package chatkit

import (
	"context"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"go.pilab.hu/chatkit/cache"
	"go.pilab.hu/chatkit/domain"
)

// ErrInvalidToken is returned when a bearer token matches no provisioned
// credential.
var ErrInvalidToken = errors.New("invalid or unknown bearer token")

// TokenVerifier establishes the caller's identity from a bearer token.
// It is the gateway's seam to the external auth collaborator: swap in an
// OAuth introspection client here without touching the handlers.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*domain.Identity, error)
}

// StaticToken is one provisioned service credential: a bcrypt hash of the
// bearer token and the identity it authenticates as.
type StaticToken struct {
	TokenHash string
	Identity  domain.Identity
}

// StaticTokenVerifier verifies bearer tokens against a fixed,
// config-provisioned credential list.
type StaticTokenVerifier struct {
	tokens []StaticToken
}

// NewStaticTokenVerifier creates a verifier over the given credentials.
func NewStaticTokenVerifier(tokens []StaticToken) *StaticTokenVerifier {
	return &StaticTokenVerifier{tokens: tokens}
}

// Verify implements TokenVerifier by bcrypt-comparing the presented token
// against each provisioned hash.
func (v *StaticTokenVerifier) Verify(_ context.Context, token string) (*domain.Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	for i := range v.tokens {
		if err := bcrypt.CompareHashAndPassword([]byte(v.tokens[i].TokenHash), []byte(token)); err == nil {
			identity := v.tokens[i].Identity
			return &identity, nil
		}
	}
	return nil, ErrInvalidToken
}

// CachingTokenVerifier wraps another verifier with an identity cache so
// repeated requests skip the bcrypt comparison. Entries are keyed by
// sha256 digest of the token.
type CachingTokenVerifier struct {
	verifier TokenVerifier
	cache    cache.IdentityCache
	ttl      time.Duration
}

// NewCachingTokenVerifier wraps verifier with the given cache and entry TTL.
func NewCachingTokenVerifier(verifier TokenVerifier, identityCache cache.IdentityCache, ttl time.Duration) *CachingTokenVerifier {
	return &CachingTokenVerifier{
		verifier: verifier,
		cache:    identityCache,
		ttl:      ttl,
	}
}

// Verify implements TokenVerifier.
func (v *CachingTokenVerifier) Verify(ctx context.Context, token string) (*domain.Identity, error) {
	tokenHash := HashToken(token)

	if entry, err := v.cache.Get(ctx, tokenHash); err == nil {
		identity := entry.Identity
		return &identity, nil
	}

	identity, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	// A failed cache write only costs the next request a re-verification.
	_ = v.cache.Set(ctx, &cache.IdentityEntry{
		TokenHash:  tokenHash,
		Identity:   *identity,
		ExpiresAt:  now.Add(v.ttl),
		CreatedAt:  now,
		LastUsedAt: now,
	})

	return identity, nil
}

// Ensure interface compliance.
var (
	_ TokenVerifier = (*StaticTokenVerifier)(nil)
	_ TokenVerifier = (*CachingTokenVerifier)(nil)
)
