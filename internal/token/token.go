// Package token mints the opaque per-response security tokens attached to
// counter updates. Tokens are never verified; they exist as an auditable
// nonce bound to the page URL, the server secret and the issue instant.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Size is the length of a generated token in hex characters.
const Size = blake2b.Size256 * 2

// Generator produces tokens keyed by a secret.
type Generator struct {
	secret []byte
	now    func() time.Time
}

// Option customises a Generator.
type Option func(*Generator)

// WithClock replaces time.Now as the token timestamp source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// New returns a Generator keyed by secret. BLAKE2b accepts keys of up to 64
// bytes; longer secrets are rejected.
func New(secret string, opts ...Option) (*Generator, error) {
	if len(secret) > blake2b.Size {
		return nil, fmt.Errorf("token secret must be at most %d bytes, got %d", blake2b.Size, len(secret))
	}
	g := &Generator{secret: []byte(secret), now: time.Now}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// Generate returns the hex digest of pageURL and the current instant under
// the generator's key.
func (g *Generator) Generate(pageURL string) string {
	h, err := blake2b.New256(g.secret)
	if err != nil {
		// New already bounded the key length.
		panic(err)
	}
	h.Write([]byte(pageURL))
	h.Write([]byte{0})
	h.Write([]byte(g.now().UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}

// RandomSecret returns a fresh 64-character hex secret for servers started
// without one configured.
func RandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
