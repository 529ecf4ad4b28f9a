// Package cache holds short-lived lookup stores for verified bearer
// tokens, so the authn middleware does not pay the bcrypt cost on every
// request. Entries are keyed by token digest, never by the raw token.
package cache

import (
	"context"
	"time"

	"go.pilab.hu/chatkit/domain"
)

// IdentityEntry is one cached verification result.
type IdentityEntry struct {
	TokenHash  string          `json:"token_hash"`
	Identity   domain.Identity `json:"identity"`
	ExpiresAt  time.Time       `json:"expires_at"`
	CreatedAt  time.Time       `json:"created_at"`
	LastUsedAt time.Time       `json:"last_used_at"`
}

// IdentityCache stores verified token digests with a TTL.
type IdentityCache interface {
	Set(ctx context.Context, entry *IdentityEntry) error
	Get(ctx context.Context, tokenHash string) (*IdentityEntry, error)
	Delete(ctx context.Context, tokenHash string) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) int
	Close() error
}
