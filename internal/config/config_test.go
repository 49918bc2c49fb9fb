package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
bridge:
  host: 127.0.0.1
  port: 9100
  timeout_ms: 5000
  allowed_path_prefixes:
    - /snapshots
    - /intraday
symbols:
  roots:
    - root: NQ
      exchange: CME
      months: ["H", "M", "U", "Z"]
      tick_size: "0.25"
      multiplier: "20"
      asset_class: Future
      expiration_dates: ["2027-03-19", "2027-06-18", "2027-09-17", "2027-12-17"]
      pre_roll_business_days: 10
      priority: 1
ingestor:
  poll_interval_ms: 100
  stale_threshold_s: 60
store:
  data_dir: /var/lib/mdic
  backend: mongo
gapfiller:
  lookback_days: 30
  max_concurrent: 4
  interval_s: 300
orders:
  submit_timeout_ms: 10000
  poll_interval_ms: 200
logging:
  level: info
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mdic.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:9100", c.Bridge.BaseURL())
	assert.Len(t, c.Symbols.Roots, 1)
	assert.Equal(t, "NQ", c.Symbols.Roots[0].Root)
	assert.Equal(t, 8100, c.Server.Port) // defaulted, not present in YAML
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsEmptyRoots(t *testing.T) {
	c := &Config{
		Bridge:  BridgeConfig{Host: "h", Port: 1, AllowedPathPrefixes: []string{"/a"}},
		Store:   StoreConfig{DataDir: "/d"},
		Logging: LoggingConfig{Level: "info"},
		Server:  ServerConfig{Port: 8100},
	}
	c.normalize()
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbols.roots")
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	path := writeTempConfig(t, sampleYAML+"\n")
	c, err := Load(path)
	require.NoError(t, err)

	c.Logging.Level = "verbose"
	err = c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	c, err := Load(path)
	require.NoError(t, err)

	c.Server.Port = 70000
	err = c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}
