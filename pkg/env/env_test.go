package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	t.Setenv("LOCAD_LOG_FORMAT", " console ")
	assert.Equal(t, "console", Get("LOCAD_LOG_FORMAT", "json"))

	t.Setenv("LOCAD_LOG_FORMAT", "  ")
	assert.Equal(t, "json", Get("LOCAD_LOG_FORMAT", "json"))
}

func TestSecretPrefersEnvironment(t *testing.T) {
	t.Setenv("LOCAD_STRIPE_API_KEY", "sk_test_env")
	t.Setenv("LOCAD_STRIPE_API_KEY_FILE", "/does/not/exist")

	val, err := Secret("LOCAD_STRIPE_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk_test_env", val)
}

func TestSecretReadsMountedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webhook-secret")
	require.NoError(t, os.WriteFile(path, []byte("whsec_file\n"), 0o600))
	t.Setenv("LOCAD_STRIPE_WEBHOOK_SECRET", "")
	t.Setenv("LOCAD_STRIPE_WEBHOOK_SECRET_FILE", path)

	val, err := Secret("LOCAD_STRIPE_WEBHOOK_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "whsec_file", val)
}

func TestSecretMissingFile(t *testing.T) {
	t.Setenv("LOCAD_STRIPE_API_KEY", "")
	t.Setenv("LOCAD_STRIPE_API_KEY_FILE", filepath.Join(t.TempDir(), "missing"))

	_, err := Secret("LOCAD_STRIPE_API_KEY")
	assert.ErrorContains(t, err, "LOCAD_STRIPE_API_KEY_FILE")
}

func TestSecretUnset(t *testing.T) {
	t.Setenv("LOCAD_STRIPE_API_KEY", "")
	t.Setenv("LOCAD_STRIPE_API_KEY_FILE", "")

	val, err := Secret("LOCAD_STRIPE_API_KEY")
	require.NoError(t, err)
	assert.Empty(t, val)
}
