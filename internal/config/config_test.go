package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, "./data", cfg.DataDir)
	require.Equal(t, "chimerax", cfg.Render.Binary)
	require.Equal(t, []string{"--nogui", "--offscreen", "--silent"}, cfg.Render.Args)
	require.Equal(t, 4, cfg.Render.MaxSessions)
	require.Equal(t, 15*time.Minute, cfg.Render.IdleTimeout.Std())
	require.Equal(t, "vina", cfg.Docking.VinaBinary)
	require.Equal(t, "obabel", cfg.Docking.ObabelBinary)
	require.Equal(t, 64, cfg.Store.ParsedCacheSize)
}

func TestLoadFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /var/lib/proteosurf
render:
  binary: /opt/chimerax/bin/chimerax
  max_sessions: 2
  idle_timeout: 5m
docking:
  max_jobs: 1
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/proteosurf", cfg.DataDir)
	require.Equal(t, "/opt/chimerax/bin/chimerax", cfg.Render.Binary)
	require.Equal(t, 2, cfg.Render.MaxSessions)
	require.Equal(t, 5*time.Minute, cfg.Render.IdleTimeout.Std())
	require.Equal(t, 1, cfg.Docking.MaxJobs)

	// Untouched keys keep their defaults.
	require.Equal(t, 30*time.Second, cfg.Render.CommandTimeout.Std())
	require.Equal(t, "vina", cfg.Docking.VinaBinary)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadEmptyPathKeepsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default().Render.Binary, cfg.Render.Binary)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHIMERAX_BIN", "/usr/local/bin/chimerax-daily")
	t.Setenv("VINA_BIN", "/opt/vina/vina")
	t.Setenv("OBABEL_BIN", "/opt/openbabel/obabel")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "/usr/local/bin/chimerax-daily", cfg.Render.Binary)
	require.Equal(t, "/opt/vina/vina", cfg.Docking.VinaBinary)
	require.Equal(t, "/opt/openbabel/obabel", cfg.Docking.ObabelBinary)
}
