package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "localhost:9090", cfg.Payee.Listen)
	assert.True(t, cfg.Payee.Exclusive)
	assert.Equal(t, "ignore", cfg.Payee.OnReject)
	assert.Equal(t, BackendMemory, cfg.Ledger.Backend)
	assert.Equal(t, "development", cfg.Ledger.Network)
	assert.Equal(t, int64(1337), cfg.Ledger.ChainID)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "micropay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
payee:
  listen: 0.0.0.0:7000
  on_reject: terminate
ledger:
  backend: eth
  network: mainnet
  key_files:
    - /keys/payee.key
redis:
  addr: localhost:6379
`), 0o600))

	t.Setenv("MICROPAY_PAYEE_LISTEN", "127.0.0.1:7001")
	t.Setenv("MICROPAY_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7001", cfg.Payee.Listen)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "terminate", cfg.Payee.OnReject)
	assert.Equal(t, BackendEth, cfg.Ledger.Backend)
	assert.Equal(t, "mainnet", cfg.Ledger.Network)
	assert.Equal(t, []string{"/keys/payee.key"}, cfg.Ledger.KeyFiles)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("MICROPAY_LEDGER_BACKEND", "sqlite")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvOnlyKeys(t *testing.T) {
	t.Setenv("MICROPAY_PAYEE_ADDRESS", "0x00000000000000000000000000000000000000b2")
	t.Setenv("MICROPAY_PAYER_ADDRESS", "0x00000000000000000000000000000000000000a1")
	t.Setenv("MICROPAY_PAYER_BYTES_PER_PAYMENT", "4096")
	t.Setenv("MICROPAY_LEDGER_CONTRACT", "0x00000000000000000000000000000000000000c0")
	t.Setenv("MICROPAY_LEDGER_GAS_MULTIPLIER", "1.5")
	t.Setenv("MICROPAY_LEDGER_KEY_FILES", "/keys/a.key,/keys/b.key")
	t.Setenv("MICROPAY_REDIS_PASSWORD", "secret")
	t.Setenv("MICROPAY_PAYEE_MIN_INCREMENT", "100")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0x00000000000000000000000000000000000000b2", cfg.Payee.Address)
	assert.Equal(t, "0x00000000000000000000000000000000000000a1", cfg.Payer.Address)
	assert.Equal(t, uint64(4096), cfg.Payer.BytesPerPayment)
	assert.Equal(t, "0x00000000000000000000000000000000000000c0", cfg.Ledger.Contract)
	assert.Equal(t, 1.5, cfg.Ledger.GasMultiplier)
	assert.Equal(t, []string{"/keys/a.key", "/keys/b.key"}, cfg.Ledger.KeyFiles)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, "100", cfg.Payee.MinIncrement)
}
