package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T) {
	t.Helper()
	reset()
	t.Cleanup(reset)
	Register(
		KeyInfo{Key: "backend.url", Type: "string"},
		KeyInfo{Key: "backend.timeout", Type: "duration", Default: "10s"},
		KeyInfo{Key: "guard.loginPath", Type: "string", Default: "/login"},
		KeyInfo{Key: "guard.loadingTimeout", Type: "duration"},
		KeyInfo{Key: "guard.homes", Type: "map", Namespace: true},
	)
	RegisterDeprecated("backend.baseUrl", "backend.url")
}

func TestTransformEnv(t *testing.T) {
	tests := map[string]string{
		"AS__BACKEND__URL":              "backend.url",
		"AS__GUARD__LOADING_TIMEOUT":    "guard.loadingTimeout",
		"AS__IDP__FIREBASE__API_KEY":    "idp.firebase.apiKey",
		"AS__SESSION__COOKIE_NAME":      "session.cookieName",
		"AS__GUARD__HOMES__STUDENT":     "guard.homes.student",
		"AS__LOGGING__MODE":             "logging.mode",
		"AS__GATEWAY__IDLE_SESSION_TTL": "gateway.idleSessionTtl",
	}
	for in, want := range tests {
		assert.Equal(t, want, TransformEnv(in), in)
	}
}

func TestSearch(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "authsync.yaml"), []byte("backend:\n  url: x\n"), 0o600))

	assert.Equal(t, filepath.Join(root, "authsync.yaml"), Search("authsync.yaml", nested))
	assert.Equal(t, "", Search("missing.yaml", nested))
}

func TestDefaults(t *testing.T) {
	seed(t)
	k := koanf.New(".")
	require.NoError(t, k.Load(confmap.Provider(map[string]any{"guard.loginPath": "/signin"}, "."), nil))

	ApplyDefaults(k)
	assert.Equal(t, "/signin", k.String("guard.loginPath"), "explicit values win")
	assert.Equal(t, "10s", k.String("backend.timeout"))
}

func TestSimilarKeys(t *testing.T) {
	seed(t)
	assert.Equal(t, []string{"guard.loginPath"}, SimilarKeys("guard.loginPth", 3))
	assert.Contains(t, SimilarKeys("backend.ur", 3), "backend.url")
	assert.Empty(t, SimilarKeys("completely.unrelated.key", 3))
}

func TestValidate(t *testing.T) {
	seed(t)
	k := koanf.New(".")
	require.NoError(t, k.Load(confmap.Provider(map[string]any{
		"backend.url":         "http://api",
		"backend.baseUrl":     "http://old",
		"guard.loginPth":      "/login",
		"guard.homes.teacher": "/t",
	}, "."), nil))

	warnings := Validate(k)
	require.Len(t, warnings, 2)

	byKey := map[string]Warning{}
	for _, w := range warnings {
		byKey[w.Key] = w
	}
	assert.True(t, byKey["backend.baseUrl"].Deprecated)
	assert.Equal(t, "'backend.baseUrl' is deprecated, use 'backend.url'", byKey["backend.baseUrl"].String())
	assert.Equal(t, "'guard.loginPth' is not a known config key. Did you mean 'guard.loginPath'?", byKey["guard.loginPth"].String())

	assert.Contains(t, FormatWarnings(warnings), "configuration warnings:")
	assert.Equal(t, "", FormatWarnings(nil))
}
