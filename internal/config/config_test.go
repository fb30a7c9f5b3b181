package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"sudocast/internal/cast"
	"sudocast/pkg/bytesource"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, cast.DefaultHeader(), cfg.Header())
	require.Equal(t, bytesource.None, cfg.CompressionMode())
}

func TestLoad_MissingDefaultFileIsFine(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
width = 120
height = 40
compression = "gzip"
shell = "/bin/zsh"
idle_limit = 2.5
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 120, cfg.Width)
	require.Equal(t, 40, cfg.Height)
	require.Equal(t, "/bin/zsh", cfg.Shell)
	require.Equal(t, "xterm-256color", cfg.Term)
	require.Equal(t, 27.221634, cfg.Duration)
	require.Equal(t, 2.5, cfg.IdleLimit)
	require.Equal(t, bytesource.Gzip, cfg.CompressionMode())
}

func TestLoad_FromEnvironment(t *testing.T) {
	path := writeConfig(t, "height = 50\n")
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 50, cfg.Height)
}

func TestLoad_Rejects(t *testing.T) {
	inputs := map[string]string{
		"unknown key":       "colour = \"red\"\n",
		"bad compression":   "compression = \"zstd\"\n",
		"zero width":        "width = 0\n",
		"negative duration": "duration = -1.0\n",
		"nan duration":      "duration = nan\n",
		"inf duration":      "duration = inf\n",
		"nan idle limit":    "idle_limit = nan\n",
		"syntax error":      "width = \n",
	}
	for name, content := range inputs {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			require.Error(t, err)
		})
	}
}
