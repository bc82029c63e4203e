package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"basketd/native/cdp"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// RateLimitConfig tunes one route group's token bucket.
type RateLimitConfig struct {
	Group         string         `yaml:"group"`
	RatePerSecond float64        `yaml:"rate_per_second"`
	Burst         int            `yaml:"burst"`
	DefaultTokens int            `yaml:"default_tokens"`
	Tokens        map[string]int `yaml:"tokens"`
}

// QuotaConfig bounds per-address request and mint volume.
type QuotaConfig struct {
	MaxRequestsPerMin uint32 `yaml:"max_requests_per_min"`
	MaxCreditPerEpoch uint64 `yaml:"max_credit_per_epoch"`
	EpochSeconds      uint32 `yaml:"epoch_seconds"`
}

// GovernanceAuthConfig guards basket governance and admin routes with
// HMAC-signed bearer tokens.
type GovernanceAuthConfig struct {
	Enabled    bool     `yaml:"enabled"`
	HMACSecret string   `yaml:"hmac_secret"`
	Issuer     string   `yaml:"issuer"`
	Audience   string   `yaml:"audience"`
	ClockSkew  Duration `yaml:"clock_skew"`
}

// CORSConfig lists the browser origins allowed to call the gateway.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Config captures runtime configuration for the basketd daemon.
type Config struct {
	ListenAddress string `yaml:"listen"`
	Environment   string `yaml:"environment"`
	// DataDir holds the LevelDB engine state.
	DataDir string `yaml:"data_dir"`
	// PriceDBPath is the sqlite price audit database.
	PriceDBPath string `yaml:"price_db"`
	// EngineConfig points at the TOML risk parameter file.
	EngineConfig string `yaml:"engine_config"`
	// OracleEndpoint is the price oracle service base URL.
	OracleEndpoint string   `yaml:"oracle_endpoint"`
	OracleTimeout  Duration `yaml:"oracle_timeout"`

	ReadTimeout   Duration `yaml:"read_timeout"`
	WriteTimeout  Duration `yaml:"write_timeout"`
	ShutdownGrace Duration `yaml:"shutdown_grace"`

	RateLimits     []RateLimitConfig    `yaml:"rate_limits"`
	Quota          QuotaConfig          `yaml:"quota"`
	GovernanceAuth GovernanceAuthConfig `yaml:"governance_auth"`
	CORS           CORSConfig           `yaml:"cors"`
}

// Load reads the daemon configuration from the supplied YAML path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if cfg.GovernanceAuth.Enabled && cfg.GovernanceAuth.HMACSecret == "" {
		return cfg, fmt.Errorf("governance_auth enabled without hmac_secret")
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7480"
	}
	if cfg.Environment == "" {
		cfg.Environment = "dev"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.ReadTimeout.Duration == 0 {
		cfg.ReadTimeout.Duration = 10 * time.Second
	}
	if cfg.WriteTimeout.Duration == 0 {
		cfg.WriteTimeout.Duration = 15 * time.Second
	}
	if cfg.ShutdownGrace.Duration == 0 {
		cfg.ShutdownGrace.Duration = 10 * time.Second
	}
	if cfg.Quota.EpochSeconds == 0 {
		cfg.Quota.EpochSeconds = 60
	}
}

// LoadEngine reads the engine's risk parameters from the TOML file. Missing
// fields fall back to protocol defaults through the engine itself.
func LoadEngine(path string) (cdp.Config, error) {
	cfg := cdp.Config{}
	if path == "" {
		cfg.EnsureDefaults()
		return cfg, nil
	}
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("decode engine config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("engine config %s: unknown key %s", path, undecoded[0].String())
	}
	cfg.EnsureDefaults()
	return cfg, nil
}
