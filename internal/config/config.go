// Package config loads daemon settings from an optional file and MICROPAY_*
// environment variables.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const EnvPrefix = "MICROPAY"

const (
	BackendEth    = "eth"
	BackendMemory = "memory"
)

type (
	Config struct {
		Log    Log    `mapstructure:"log"`
		Payee  Payee  `mapstructure:"payee"`
		Payer  Payer  `mapstructure:"payer"`
		Ledger Ledger `mapstructure:"ledger"`
		Redis  Redis  `mapstructure:"redis"`
		Mongo  Mongo  `mapstructure:"mongo"`
	}

	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	}

	Payee struct {
		Address string `mapstructure:"address"`
		Listen  string `mapstructure:"listen"`
		// Exclusive refuses a second sender while a channel is open.
		Exclusive bool `mapstructure:"exclusive"`
		// OnReject is "ignore" or "terminate".
		OnReject string `mapstructure:"on_reject"`
		// MinIncrement in wei; empty disables the check.
		MinIncrement string `mapstructure:"min_increment"`
		EventBuffer  int    `mapstructure:"event_buffer"`
	}

	Payer struct {
		Address         string `mapstructure:"address"`
		ReceiverURL     string `mapstructure:"receiver_url"`
		BytesPerPayment uint64 `mapstructure:"bytes_per_payment"`
		SettlingPeriod  uint64 `mapstructure:"settling_period"`
	}

	Ledger struct {
		Backend  string `mapstructure:"backend"`
		RPCURL   string `mapstructure:"rpc_url"`
		Contract string `mapstructure:"contract"`
		ChainID  int64  `mapstructure:"chain_id"`
		Network  string `mapstructure:"network"`
		// GasMultiplier overrides the network default when positive.
		GasMultiplier float64  `mapstructure:"gas_multiplier"`
		KeyFiles      []string `mapstructure:"key_files"`
	}

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	}

	Mongo struct {
		URI      string `mapstructure:"uri"`
		Database string `mapstructure:"database"`
	}
)

// setDefaults registers every key, zero values included. AutomaticEnv only
// reaches keys viper already knows when unmarshalling.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("payee.address", "")
	v.SetDefault("payee.listen", "localhost:9090")
	v.SetDefault("payee.exclusive", true)
	v.SetDefault("payee.on_reject", "ignore")
	v.SetDefault("payee.min_increment", "")
	v.SetDefault("payee.event_buffer", 64)

	v.SetDefault("payer.address", "")
	v.SetDefault("payer.receiver_url", "http://localhost:9090")
	v.SetDefault("payer.bytes_per_payment", 0)
	v.SetDefault("payer.settling_period", 10)

	v.SetDefault("ledger.backend", BackendMemory)
	v.SetDefault("ledger.rpc_url", "http://localhost:8545")
	v.SetDefault("ledger.chain_id", 1337)
	v.SetDefault("ledger.contract", "")
	v.SetDefault("ledger.network", "development")
	v.SetDefault("ledger.gas_multiplier", 0.0)
	v.SetDefault("ledger.key_files", []string{})

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "micropay")
}

// Load reads file when it is not empty, then applies the environment.
// MICROPAY_PAYEE_LISTEN overrides payee.listen and so on.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", file)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Ledger.Backend {
	case BackendEth, BackendMemory:
	default:
		return errors.Errorf("ledger.backend %q: want %s or %s", c.Ledger.Backend, BackendEth, BackendMemory)
	}
	switch c.Payee.OnReject {
	case "ignore", "terminate":
	default:
		return errors.Errorf("payee.on_reject %q: want ignore or terminate", c.Payee.OnReject)
	}
	return nil
}
