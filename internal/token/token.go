// Package token issues the tracking tokens embedded in outbound subjects
// and recognized again in replies.
package token

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrExhausted is returned when repeated draws keep colliding with tokens
// already present in the log history. It is fatal for one send only, never
// for the batch.
var ErrExhausted = errors.New("token generation exhausted retries")

const (
	suffixLen   = 8
	maxAttempts = 5
)

// History is the slice of the log store the generator needs: the full
// outbound token history.
type History interface {
	TokenExists(ctx context.Context, token string) (bool, error)
}

// Token is an issued tracking token, e.g. "ABA#A1B2C3D4". Immutable once
// issued.
type Token string

// Marker renders the bracketed form injected into subject lines.
func (t Token) Marker() string {
	return "[" + string(t) + "]"
}

// MarkerPattern compiles the case-insensitive pattern matching any marker
// with the given prefix, in a subject or body.
func MarkerPattern(prefix string) (*regexp.Regexp, error) {
	return regexp.Compile(fmt.Sprintf(`(?i)\[%s[A-Z0-9]{%d}\]`, regexp.QuoteMeta(prefix), suffixLen))
}

// Generator draws collision-checked tokens against the store's history.
type Generator struct {
	prefix  string
	history History

	// draw is swappable in tests to force collisions.
	draw func() string
}

// NewGenerator returns a Generator for the configured prefix.
func NewGenerator(prefix string, history History) *Generator {
	return &Generator{
		prefix:  prefix,
		history: history,
		draw:    randomSuffix,
	}
}

// Generate draws a fresh token, retrying on collision up to a small fixed
// bound. It has no side effects; the token only becomes durable when the
// caller appends an outbound record carrying it.
func (g *Generator) Generate(ctx context.Context) (Token, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate := g.prefix + g.draw()
		exists, err := g.history.TokenExists(ctx, candidate)
		if err != nil {
			return "", errors.Wrap(err, "check token history")
		}
		if !exists {
			return Token(candidate), nil
		}
	}
	return "", ErrExhausted
}

func randomSuffix() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:suffixLen])
}
