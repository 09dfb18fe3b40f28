package cryptox

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Token size constants (in bytes before encoding).
const (
	// TokenSize128 provides 128 bits of entropy (22 chars base64url).
	// This is the size issued for browser session tokens.
	TokenSize128 = 16
	// TokenSize256 provides 256 bits of entropy (43 chars base64url).
	TokenSize256 = 32
)

// ErrEmptySecret is returned when constructing a Codec without a secret key.
var ErrEmptySecret = errors.New("cryptox: empty secret key")

// GenerateToken creates a cryptographically secure random token of the
// specified byte length, returned as a base64url string (URL-safe, no
// padding). Returns an error if the random number generator fails.
func GenerateToken(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("token size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Codec derives storable digests from raw session tokens. The digest is the
// only representation ever persisted; the raw token travels to the client and
// is never written down server-side.
type Codec struct {
	key []byte
}

// NewCodec builds a Codec keyed with the process-wide secret. The secret may
// be any non-empty string; it is folded to a fixed-size key first so callers
// don't have to care about BLAKE2b key-length limits.
func NewCodec(secret string) (*Codec, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key := blake2b.Sum256([]byte(secret))
	return &Codec{key: key[:]}, nil
}

// Digest returns the keyed BLAKE2b-256 digest of a raw token as a base64url
// string (43 chars). Equal tokens under the same secret always produce equal
// digests; without the secret the mapping is not invertible.
func (c *Codec) Digest(token string) string {
	h, err := blake2b.New256(c.key)
	if err != nil {
		// New256 only fails for oversized keys; ours is always 32 bytes.
		panic(fmt.Sprintf("cryptox: blake2b init: %v", err))
	}
	h.Write([]byte(token))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
