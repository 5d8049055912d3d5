package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cuemby/relay/pkg/resilience"
	"github.com/cuemby/relay/pkg/security"
)

// EnvPrefix prefixes every environment override, e.g. RELAY_API_ADDRESS
const EnvPrefix = "RELAY"

// Store drivers
const (
	StoreBolt     = "bolt"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Broadcast drivers
const (
	BroadcastNone  = "none"
	BroadcastKafka = "kafka"
	BroadcastNATS  = "nats"
)

// Config is the coordinator configuration
type Config struct {
	Node       NodeConfig       `mapstructure:"node"`
	API        APIConfig        `mapstructure:"api"`
	Health     HealthConfig     `mapstructure:"health"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Resilience ResilienceConfig `mapstructure:"resilience"`
	Store      StoreConfig      `mapstructure:"store"`
	Broadcast  BroadcastConfig  `mapstructure:"broadcast"`
	DNS        DNSConfig        `mapstructure:"dns"`
	Log        LogConfig        `mapstructure:"log"`
}

type NodeConfig struct {
	ID      string `mapstructure:"id"`
	DataDir string `mapstructure:"data_dir"`
}

type APIConfig struct {
	Address         string        `mapstructure:"address"`
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
	// AppendRetries bounds the reload-and-retry loop when handler events conflict
	AppendRetries int `mapstructure:"append_retries"`
	// TLS is off unless a certificate is configured
	TLS security.TLSFiles `mapstructure:"tls"`
}

type HealthConfig struct {
	// Address serves /health, /ready and /metrics
	Address          string        `mapstructure:"address"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	DeregisterAfter  time.Duration `mapstructure:"deregister_after"`
	Probe            ProbeConfig   `mapstructure:"probe"`
}

type ProbeConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Retries     int           `mapstructure:"retries"`
	StartPeriod time.Duration `mapstructure:"start_period"`
}

type RegistryConfig struct {
	WatchBuffer int `mapstructure:"watch_buffer"`
}

type ResilienceConfig struct {
	MaxAttempts          int           `mapstructure:"max_attempts"`
	InitialBackoff       time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff           time.Duration `mapstructure:"max_backoff"`
	Multiplier           float64       `mapstructure:"multiplier"`
	Jitter               float64       `mapstructure:"jitter"`
	MinimumCalls         uint32        `mapstructure:"minimum_calls"`
	FailureRateThreshold float64       `mapstructure:"failure_rate_threshold"`
	Interval             time.Duration `mapstructure:"interval"`
	OpenTimeout          time.Duration `mapstructure:"open_timeout"`
	HalfOpenMaxCalls     uint32        `mapstructure:"half_open_max_calls"`
}

type StoreConfig struct {
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	DSN     string `mapstructure:"dsn"`
	Migrate bool   `mapstructure:"migrate"`
}

type BroadcastConfig struct {
	Driver             string        `mapstructure:"driver"`
	TopicPrefix        string        `mapstructure:"topic_prefix"`
	Partitions         int           `mapstructure:"partitions"`
	DeadLetterInterval time.Duration `mapstructure:"dead_letter_interval"`
	Kafka              KafkaConfig   `mapstructure:"kafka"`
	NATS               NATSConfig    `mapstructure:"nats"`
}

type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	GroupID  string   `mapstructure:"group_id"`
	ClientID string   `mapstructure:"client_id"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// DNSConfig enables registry lookups over DNS
type DNSConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Domain   string        `mapstructure:"domain"`
	TTL      time.Duration `mapstructure:"ttl"`
	Upstream []string      `mapstructure:"upstream"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// New returns a viper instance with defaults and environment overrides set
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	r := resilience.DefaultConfig()

	v.SetDefault("node.id", "")
	v.SetDefault("node.data_dir", "./relay-data")

	v.SetDefault("api.address", ":7070")
	v.SetDefault("api.dispatch_timeout", "5s")
	v.SetDefault("api.append_retries", 3)
	v.SetDefault("api.tls.cert_file", "")
	v.SetDefault("api.tls.key_file", "")
	v.SetDefault("api.tls.ca_file", "")

	v.SetDefault("health.address", ":9090")
	v.SetDefault("health.sweep_interval", "5s")
	v.SetDefault("health.heartbeat_timeout", "15s")
	v.SetDefault("health.deregister_after", "60s")
	v.SetDefault("health.probe.enabled", false)
	v.SetDefault("health.probe.timeout", "2s")
	v.SetDefault("health.probe.retries", 3)
	v.SetDefault("health.probe.start_period", "10s")

	v.SetDefault("registry.watch_buffer", 64)

	v.SetDefault("resilience.max_attempts", r.MaxAttempts)
	v.SetDefault("resilience.initial_backoff", r.InitialBackoff)
	v.SetDefault("resilience.max_backoff", r.MaxBackoff)
	v.SetDefault("resilience.multiplier", r.Multiplier)
	v.SetDefault("resilience.jitter", r.Jitter)
	v.SetDefault("resilience.minimum_calls", r.MinimumCalls)
	v.SetDefault("resilience.failure_rate_threshold", r.FailureRateThreshold)
	v.SetDefault("resilience.interval", r.Interval)
	v.SetDefault("resilience.open_timeout", r.OpenTimeout)
	v.SetDefault("resilience.half_open_max_calls", r.HalfOpenMaxCalls)

	v.SetDefault("store.driver", StoreBolt)
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.migrate", true)

	v.SetDefault("broadcast.driver", BroadcastNone)
	v.SetDefault("broadcast.topic_prefix", "relay")
	v.SetDefault("broadcast.partitions", 16)
	v.SetDefault("broadcast.dead_letter_interval", "30s")
	v.SetDefault("broadcast.kafka.brokers", []string{})
	v.SetDefault("broadcast.kafka.group_id", "")
	v.SetDefault("broadcast.kafka.client_id", "")
	v.SetDefault("broadcast.nats.url", "nats://127.0.0.1:4222")

	v.SetDefault("dns.enabled", false)
	v.SetDefault("dns.address", "127.0.0.1:8600")
	v.SetDefault("dns.domain", "relay")
	v.SetDefault("dns.ttl", "5s")
	v.SetDefault("dns.upstream", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// Load reads path (optional) on top of defaults and environment
func Load(path string) (Config, error) {
	return LoadFrom(New(), path)
}

// LoadFrom is Load on a prepared viper instance, e.g. one with flags bound
func LoadFrom(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required fields and enumerations
func (c Config) Validate() error {
	var errs []error
	if c.Node.ID == "" {
		errs = append(errs, errors.New("node.id is required"))
	}
	if c.API.Address == "" {
		errs = append(errs, errors.New("api.address is required"))
	}
	if c.API.TLS.Enabled() {
		if err := c.API.TLS.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("api.%w", err))
		} else if c.API.TLS.CertFile == "" {
			errs = append(errs, errors.New("api.tls.ca_file needs api.tls.cert_file and api.tls.key_file"))
		}
	}
	if c.Health.HeartbeatTimeout <= 0 {
		errs = append(errs, errors.New("health.heartbeat_timeout must be positive"))
	}
	if c.Health.DeregisterAfter > 0 && c.Health.DeregisterAfter < c.Health.HeartbeatTimeout {
		errs = append(errs, errors.New("health.deregister_after must not be shorter than health.heartbeat_timeout"))
	}

	switch c.Store.Driver {
	case StoreBolt:
		if c.Node.DataDir == "" {
			errs = append(errs, errors.New("node.data_dir is required for the bolt store"))
		}
	case StorePostgres:
		if c.Store.Postgres.DSN == "" {
			errs = append(errs, errors.New("store.postgres.dsn is required for the postgres store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	switch c.Broadcast.Driver {
	case BroadcastNone:
	case BroadcastKafka:
		if len(c.Broadcast.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("broadcast.kafka.brokers is required for the kafka driver"))
		}
	case BroadcastNATS:
		if c.Broadcast.NATS.URL == "" {
			errs = append(errs, errors.New("broadcast.nats.url is required for the nats driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown broadcast.driver %q", c.Broadcast.Driver))
	}

	if c.DNS.Enabled {
		if c.DNS.Address == "" {
			errs = append(errs, errors.New("dns.address is required when dns is enabled"))
		}
		if strings.Trim(c.DNS.Domain, ".") == "" {
			errs = append(errs, errors.New("dns.domain is required when dns is enabled"))
		}
	}
	return errors.Join(errs...)
}

// ResilienceConfig converts to the wrapper policy
func (c Config) ResilienceConfig() resilience.Config {
	r := c.Resilience
	return resilience.Config{
		MaxAttempts:          r.MaxAttempts,
		InitialBackoff:       r.InitialBackoff,
		MaxBackoff:           r.MaxBackoff,
		Multiplier:           r.Multiplier,
		Jitter:               r.Jitter,
		MinimumCalls:         r.MinimumCalls,
		FailureRateThreshold: r.FailureRateThreshold,
		Interval:             r.Interval,
		OpenTimeout:          r.OpenTimeout,
		HalfOpenMaxCalls:     r.HalfOpenMaxCalls,
	}
}
