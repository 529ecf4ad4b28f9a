package chatkit

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken returns the hex sha256 digest of a bearer token. Caches and
// logs only ever see this digest, never the raw token.
func HashToken(token string) string {
	hasher := sha256.New()
	hasher.Write([]byte(token))
	return hex.EncodeToString(hasher.Sum(nil))
}
