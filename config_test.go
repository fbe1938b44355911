package dill

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	c := NewConfig()
	require.IsType(t, NoopLogger{}, c.logger())
	require.IsType(t, NoopPoller{}, c.poller())
	require.NotEmpty(t, c.runID())
}

func TestConfigWithOptions(t *testing.T) {
	logger := NewDefaultLogger(LevelWarn)
	c := NewConfig(WithLogger(logger), WithRunID("fixed-id"))
	require.Same(t, logger, c.logger())
	require.Equal(t, "fixed-id", c.runID())
}

func TestLoadFileConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dill.toml")
	require.NoError(t, os.WriteFile(path, []byte("log_level = \"debug\"\npoller = \"noop\"\n"), 0o644))

	fc, err := LoadFileConfig(path)
	require.NoError(t, err)
	require.Equal(t, LevelDebug, fc.Level())
	require.Equal(t, "noop", fc.Poller)
}

func TestLoadFeatureToggles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "toggles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- fdwait\n- strict-close\n"), 0o644))

	toggles, err := LoadFeatureToggles(path)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"fdwait", "strict-close"}, toggles)

	cfg := NewConfig()
	cfg.FeatureToggles = toggles
	require.True(t, cfg.HasToggle("fdwait"))
	require.False(t, cfg.HasToggle("missing"))
}

func TestWithFileConfigAppliesLoggerAndPoller(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dill.toml")
	require.NoError(t, os.WriteFile(path, []byte("log_level = \"warn\"\npoller = \"noop\"\n"), 0o644))

	fc, err := LoadFileConfig(path)
	require.NoError(t, err)

	c := NewConfig(WithFileConfig(fc))
	dl, ok := c.logger().(*DefaultLogger)
	require.True(t, ok)
	require.True(t, dl.Enabled(LevelWarn))
	require.False(t, dl.Enabled(LevelInfo))
	require.IsType(t, NoopPoller{}, c.poller())
}

func TestWithFeatureTogglesReachesRuntime(t *testing.T) {
	rt := New(NewConfig(WithFeatureToggles([]string{"strict-close", "fdwait"})))
	require.True(t, rt.HasToggle("strict-close"))
	require.True(t, rt.HasToggle("fdwait"))
	require.False(t, rt.HasToggle("unknown"))
}
