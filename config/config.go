package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	DataDir     string `toml:"DataDir"`
	GenesisFile string `toml:"GenesisFile"`
	NetworkName string `toml:"NetworkName"`

	Log   Log   `toml:"Log"`
	Auth  Auth  `toml:"Auth"`
	Limit Limit `toml:"Limit"`

	Protocol Protocol `toml:"Protocol"`
}

// Log controls the structured logger and optional file rotation.
type Log struct {
	Level      string `toml:"Level"`
	Format     string `toml:"Format"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Auth configures admin RPC authentication. The JWT secret is never stored
// in the file; SecretEnv names the environment variable carrying it.
type Auth struct {
	SecretEnv string `toml:"SecretEnv"`
	Issuer    string `toml:"Issuer"`
}

// Limit throttles the public RPC surface per client.
type Limit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

// Protocol bundles the lending parameters enforced at startup. Amounts in
// wad units are decimal strings so the file stays readable.
type Protocol struct {
	AdminAddress    string `toml:"AdminAddress"`
	TreasuryAddress string `toml:"TreasuryAddress"`
	FeeRecipient    string `toml:"FeeRecipient"`

	InterestFeeBps    uint64 `toml:"InterestFeeBps"`
	LiquidationFeeBps uint64 `toml:"LiquidationFeeBps"`
	CloseFactorWad    string `toml:"CloseFactorWad"`
	DiscountWad       string `toml:"DiscountWad"`

	MinLtvWad    string `toml:"MinLtvWad"`
	MaxLtvWad    string `toml:"MaxLtvWad"`
	TimelockSecs uint64 `toml:"TimelockSecs"`
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0].String())
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "isolend-local"
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./isolend-data"
	}
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
	if strings.TrimSpace(cfg.Log.Format) == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Limit.RequestsPerSecond <= 0 {
		cfg.Limit.RequestsPerSecond = 25
	}
	if cfg.Limit.Burst <= 0 {
		cfg.Limit.Burst = 50
	}
	if strings.TrimSpace(cfg.Auth.SecretEnv) == "" {
		cfg.Auth.SecretEnv = "ISOLEND_ADMIN_SECRET"
	}
	if strings.TrimSpace(cfg.Protocol.CloseFactorWad) == "" {
		cfg.Protocol.CloseFactorWad = "500000000000000000"
	}
	if strings.TrimSpace(cfg.Protocol.DiscountWad) == "" {
		cfg.Protocol.DiscountWad = "100000000000000000"
	}
	if strings.TrimSpace(cfg.Protocol.MinLtvWad) == "" {
		cfg.Protocol.MinLtvWad = "100000000000000000"
	}
	if strings.TrimSpace(cfg.Protocol.MaxLtvWad) == "" {
		cfg.Protocol.MaxLtvWad = "980000000000000000"
	}
	if cfg.Protocol.TimelockSecs == 0 {
		cfg.Protocol.TimelockSecs = 24 * 60 * 60
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:  ":8080",
		DataDir:     "./isolend-data",
		GenesisFile: "",
		NetworkName: "isolend-local",
	}
	applyDefaults(cfg)

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
