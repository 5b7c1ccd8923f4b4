package token

import (
	"context"
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidflow/mailtrack/internal/logstore"
)

func openStore(t *testing.T) *logstore.Store {
	t.Helper()
	store, err := logstore.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestGenerateUniqueAgainstHistory(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	// Pre-populate the history.
	existing := map[string]bool{}
	for i := 0; i < 20; i++ {
		tok := fmt.Sprintf("ABA#%08d", i)
		existing[tok] = true
		require.NoError(t, store.InsertOutbound(ctx, logstore.OutboundRecord{
			Token: tok, Email: "x@example.com", Status: logstore.StatusSent,
		}))
	}

	gen := NewGenerator("ABA#", store)
	issued := map[string]bool{}
	for i := 0; i < 50; i++ {
		tok, err := gen.Generate(ctx)
		require.NoError(t, err)
		assert.False(t, existing[string(tok)], "token %s collides with history", tok)
		assert.False(t, issued[string(tok)], "token %s issued twice", tok)
		issued[string(tok)] = true

		// Issued tokens only join the history once recorded.
		require.NoError(t, store.InsertOutbound(ctx, logstore.OutboundRecord{
			Token: string(tok), Email: "x@example.com", Status: logstore.StatusSent,
		}))
	}

	total, err := store.CountTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, 70, total)
}

func TestGenerateShape(t *testing.T) {
	gen := NewGenerator("ABA#", openStore(t))
	tok, err := gen.Generate(context.Background())
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^ABA#[A-Z0-9]{8}$`), string(tok))
	assert.Equal(t, "["+string(tok)+"]", tok.Marker())
}

func TestGenerateExhaustion(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertOutbound(ctx, logstore.OutboundRecord{
		Token: "ABA#SAMESAME", Email: "x@example.com", Status: logstore.StatusSent,
	}))

	gen := NewGenerator("ABA#", store)
	gen.draw = func() string { return "SAMESAME" }

	_, err := gen.Generate(ctx)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestMarkerPattern(t *testing.T) {
	pattern, err := MarkerPattern("ABA#")
	require.NoError(t, err)

	assert.Equal(t, "[ABA#A1B2C3D4]", pattern.FindString("Re: [ABA#A1B2C3D4] Invitation"))
	assert.Equal(t, "[aba#a1b2c3d4]", pattern.FindString("quoting [aba#a1b2c3d4] inline"))
	assert.Empty(t, pattern.FindString("[ABA#TOOSHORT1X] is nine chars"))
	assert.Empty(t, pattern.FindString("no marker here"))
}
