package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPlainTextPassthrough(t *testing.T) {
	out, err := Render("no templates here", nil)
	require.NoError(t, err)
	assert.Equal(t, "no templates here", out)
}

func TestRenderVariables(t *testing.T) {
	out, err := Render("Hello {{.User}} on {{.Platform}}", map[string]any{
		"User":     "alice",
		"Platform": "telegram",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello alice on telegram", out)
}

func TestRenderFuncs(t *testing.T) {
	out, err := Render(`{{upper .User}} {{default "guest" .Missing}}`, map[string]any{"User": "alice"})
	require.NoError(t, err)
	assert.Equal(t, "ALICE guest", out)
}

func TestRenderInvalidTemplate(t *testing.T) {
	_, err := Render("{{.Unclosed", nil)
	assert.Error(t, err)
}
