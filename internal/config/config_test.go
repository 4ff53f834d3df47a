package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/isol8/isol8/internal/engine"
	"github.com/isol8/isol8/internal/pool"
)

func writeConfigFile(t *testing.T, dir string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), data, 0644))
}

func TestLoadReturnsDefaultsWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	opts, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, engine.DefaultEngineOptions(), opts)
}

func TestLoadOverlaysProvidedFields(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, File{
		Mode:      "persistent",
		Network:   "filtered",
		MemoryMB:  int64Ptr(1024),
		PidsLimit: int64Ptr(64),
	})

	opts, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, engine.ModePersistent, opts.Mode)
	require.Equal(t, engine.NetworkFiltered, opts.Network)
	require.Equal(t, int64(1024*1024*1024), opts.MemoryBytes)
	require.Equal(t, int64(64), opts.PidsLimit)

	def := engine.DefaultEngineOptions()
	require.Equal(t, def.SandboxMB, opts.SandboxMB)
	require.Equal(t, def.Security, opts.Security)
}

func TestLoadAppliesNetworkFilter(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, File{
		NetworkFilter: &NetworkFilterFile{Whitelist: []string{"^pypi\\.org$"}},
	})

	opts, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"^pypi\\.org$"}, opts.NetworkFilter.Whitelist)
}

func TestLoadRejectsInvalidMode(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, File{Mode: "bogus"})
	_, err := Load(dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "mode must be")
}

func TestLoadRejectsTooSmallMemory(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, File{MemoryMB: int64Ptr(4)})
	_, err := Load(dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "memoryMB must be at least 16")
}

func TestLoadRejectsBadJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("{not json"), 0644))
	_, err := Load(dir)
	require.Error(t, err)
}

func TestLoadAppliesPoolStrategy(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, File{PoolStrategy: "secure"})
	opts, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, pool.StrategySecure, opts.PoolStrategy)
}

func TestLoadRejectsOutOfRangeProxyPort(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, File{ProxyPort: intPtr(70000)})
	_, err := Load(dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "proxyPort must be between")
}

func int64Ptr(v int64) *int64 { return &v }
func intPtr(v int) *int       { return &v }
