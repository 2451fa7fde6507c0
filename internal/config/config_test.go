package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Name    string `json:"name"`
	Workers int    `json:"workers"`
	Dir     string `json:"dir"`
}

func write(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_KeepsDefaults(t *testing.T) {
	t.Parallel()

	cfg := testConfig{Name: "default", Workers: 4, Dir: "/tmp"}
	require.NoError(t, Load(write(t, `{"workers": 16}`), &cfg))
	require.Equal(t, testConfig{Name: "default", Workers: 16, Dir: "/tmp"}, cfg)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	var cfg testConfig
	require.Error(t, Load(filepath.Join(t.TempDir(), "missing.json"), &cfg))
	require.Error(t, Load(write(t, `{"workers": "many"}`), &cfg))
	require.Error(t, Load(write(t, `{"typo": 1}`), &cfg))
}
