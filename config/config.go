package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"dataspace/storage"
)

type Config struct {
	DataDir        string `toml:"DataDir"`
	Backend        string `toml:"Backend"`
	Env            string `toml:"Env"`
	HTTPAddress    string `toml:"HTTPAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	GenesisFile    string `toml:"GenesisFile"`
	LogLevel       string `toml:"LogLevel"`
	LogFile        string `toml:"LogFile"`
	// AllowedOrigins lists browser origins for CORS and the event stream.
	AllowedOrigins []string `toml:"AllowedOrigins"`
	// BlockIntervalSeconds advances the ledger height by one block on each
	// tick. Zero leaves height to an external driver.
	BlockIntervalSeconds uint64 `toml:"BlockIntervalSeconds"`

	Escrow    Escrow    `toml:"escrow"`
	Limits    Limits    `toml:"limits"`
	Auth      Auth      `toml:"auth"`
	RateLimit RateLimit `toml:"rate_limit"`
	Kafka     Kafka     `toml:"kafka"`
	Webhook   Webhook   `toml:"webhook"`
	Telemetry Telemetry `toml:"telemetry"`
}

// Escrow holds the lock periods, measured in blocks, and the modules that
// start paused.
type Escrow struct {
	LockBlocks         uint64   `toml:"LockBlocks"`
	PunitiveLockBlocks uint64   `toml:"PunitiveLockBlocks"`
	PausedModules      []string `toml:"PausedModules"`
}

type Limits struct {
	MaxPayloadBytes     int    `toml:"MaxPayloadBytes"`
	UploadsPerEpoch     uint32 `toml:"UploadsPerEpoch"`
	UploadBytesPerEpoch uint64 `toml:"UploadBytesPerEpoch"`
	QuotaEpochBlocks    uint64 `toml:"QuotaEpochBlocks"`
}

// Auth configures bearer token verification. HMACSecretEnv, when set, names
// the environment variable that holds the secret and wins over HMACSecret.
type Auth struct {
	HMACSecret    string `toml:"HMACSecret"`
	HMACSecretEnv string `toml:"HMACSecretEnv"`
	Issuer        string `toml:"Issuer"`
	Audience      string `toml:"Audience"`
}

// Secret resolves the signing secret.
func (a Auth) Secret() string {
	if env := strings.TrimSpace(a.HMACSecretEnv); env != "" {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(a.HMACSecret)
}

type RateLimit struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
}

// Kafka enables the event sink when at least one broker is listed.
type Kafka struct {
	Brokers []string `toml:"Brokers"`
	Topic   string   `toml:"Topic"`
}

func (k Kafka) Enabled() bool { return len(k.Brokers) > 0 }

// Webhook enables signed delivery of escrow events when Endpoint is set.
type Webhook struct {
	Endpoint  string `toml:"Endpoint"`
	Secret    string `toml:"Secret"`
	SecretEnv string `toml:"SecretEnv"`
}

func (w Webhook) Enabled() bool { return strings.TrimSpace(w.Endpoint) != "" }

func (w Webhook) ResolveSecret() string {
	if env := strings.TrimSpace(w.SecretEnv); env != "" {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(w.Secret)
}

type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
	// SampleRatio keeps this share of root spans; 0 keeps all.
	SampleRatio float64 `toml:"SampleRatio"`
}

// Load reads the configuration at path, writing a default file first when
// none exists, and validates the result.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration written on first start.
func Default() *Config {
	return &Config{
		DataDir:        "./dataspace-data",
		Backend:        storage.BackendLevelDB,
		Env:            "local",
		HTTPAddress:    ":8080",
		MetricsAddress: ":9100",
		LogLevel:       "info",
		AllowedOrigins: []string{},

		BlockIntervalSeconds: 5,
		Escrow: Escrow{
			LockBlocks:         100,
			PunitiveLockBlocks: 100,
			PausedModules:      []string{},
		},
		Limits: Limits{
			MaxPayloadBytes:  1 << 20,
			QuotaEpochBlocks: 100,
		},
		Auth: Auth{
			HMACSecretEnv: "DATASPACE_JWT_SECRET",
			Issuer:        "dataspace",
		},
		RateLimit: RateLimit{RequestsPerSecond: 20, Burst: 40},
		Kafka:     Kafka{Brokers: []string{}, Topic: "dataspace.events"},
		Telemetry: Telemetry{Endpoint: "localhost:4318", Insecure: true},
	}
}

func (c *Config) applyDefaults() {
	def := Default()
	if strings.TrimSpace(c.Backend) == "" {
		c.Backend = def.Backend
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = def.DataDir
	}
	if c.Escrow.PausedModules == nil {
		c.Escrow.PausedModules = []string{}
	}
	if c.AllowedOrigins == nil {
		c.AllowedOrigins = []string{}
	}
	if c.Kafka.Brokers == nil {
		c.Kafka.Brokers = []string{}
	}
	if strings.TrimSpace(c.Kafka.Topic) == "" {
		c.Kafka.Topic = def.Kafka.Topic
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
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
