package keys

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/colony/pkg/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Providers: []config.ProviderConfig{
			{
				Name: "openrouter",
				APIKeys: []config.KeyConfig{
					{APIKey: "key-1", Referer: "https://a.test"},
					{APIKey: "key-2"},
					{APIKey: "key-3"},
				},
			},
			{Name: "ollama", Local: true},
		},
	}
}

func TestActiveKeyRotatesPastQuarantine(t *testing.T) {
	m := NewManager(testConfig())

	key, ok := m.ActiveKeyConfig("openrouter")
	require.True(t, ok)
	assert.Equal(t, "key-1", key.APIKey)
	assert.Equal(t, "https://a.test", key.Referer)

	m.QuarantineKey("openrouter", "key-1", time.Hour)

	key, ok = m.ActiveKeyConfig("openrouter")
	require.True(t, ok)
	assert.Equal(t, "key-2", key.APIKey)
}

func TestQuarantineExpires(t *testing.T) {
	now := time.Now()
	m := NewManager(testConfig(), WithNowFunc(func() time.Time { return now }))

	m.QuarantineKey("openrouter", "key-1", 5*time.Minute)
	key, _ := m.ActiveKeyConfig("openrouter")
	assert.Equal(t, "key-2", key.APIKey)

	now = now.Add(6 * time.Minute)
	key, ok := m.ActiveKeyConfig("openrouter")
	require.True(t, ok)
	assert.Equal(t, "key-1", key.APIKey, "expired quarantine restores configured order")
}

func TestProviderDepletion(t *testing.T) {
	now := time.Now()
	m := NewManager(testConfig(), WithNowFunc(func() time.Time { return now }))

	assert.False(t, m.IsProviderDepleted("openrouter"))

	for _, k := range []string{"key-1", "key-2", "key-3"} {
		m.QuarantineKey("openrouter", k, 5*time.Minute)
	}
	assert.True(t, m.IsProviderDepleted("openrouter"))

	_, ok := m.ActiveKeyConfig("openrouter")
	assert.False(t, ok)

	now = now.Add(10 * time.Minute)
	assert.False(t, m.IsProviderDepleted("openrouter"))
}

func TestLocalProviderNeverDepleted(t *testing.T) {
	m := NewManager(testConfig())
	assert.False(t, m.IsProviderDepleted("ollama"))
}

func TestUnknownProviderIsDepleted(t *testing.T) {
	m := NewManager(testConfig())
	assert.True(t, m.IsProviderDepleted("nonexistent"))
}

func TestQuarantineUnknownKeyIgnored(t *testing.T) {
	m := NewManager(testConfig())
	m.QuarantineKey("openrouter", "not-a-key", time.Hour)

	key, ok := m.ActiveKeyConfig("openrouter")
	require.True(t, ok)
	assert.Equal(t, "key-1", key.APIKey)
}

func TestSourceBindsProvider(t *testing.T) {
	m := NewManager(testConfig())

	src := m.Source("openrouter")
	key, ok := src()
	require.True(t, ok)
	assert.Equal(t, "key-1", key.APIKey)

	none := m.Source("ollama")
	_, ok = none()
	assert.False(t, ok)
}

func TestReloadPreservesQuarantine(t *testing.T) {
	m := NewManager(testConfig())
	m.QuarantineKey("openrouter", "key-1", time.Hour)

	m.Reload(config.ProviderConfig{
		Name: "openrouter",
		APIKeys: []config.KeyConfig{
			{APIKey: "key-1"},
			{APIKey: "key-4"},
		},
	})

	key, ok := m.ActiveKeyConfig("openrouter")
	require.True(t, ok)
	assert.Equal(t, "key-4", key.APIKey, "key-1 stays quarantined across reload")
}

func TestLoadKeysFile(t *testing.T) {
	t.Setenv("COLONY_TEST_KEY", "from-env")

	path := filepath.Join(t.TempDir(), "keys.yaml")
	content := `
providers:
  - name: openrouter
    api_keys:
      - api_key: ${COLONY_TEST_KEY}
        referer: https://b.test
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	m := NewManager(testConfig())
	require.NoError(t, m.LoadKeysFile(path))

	key, ok := m.ActiveKeyConfig("openrouter")
	require.True(t, ok)
	assert.Equal(t, "from-env", key.APIKey)
	assert.Equal(t, "https://b.test", key.Referer)
}

func TestLoadKeysFileMissing(t *testing.T) {
	m := NewManager(testConfig())
	assert.Error(t, m.LoadKeysFile(filepath.Join(t.TempDir(), "absent.yaml")))
}
