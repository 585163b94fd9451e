// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"` // per-request context deadline
	AllowedOrigins []string      `yaml:"allowed_origins"` // CORS; empty allows any origin
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type MpesaConfig struct {
	Gateway            string        `yaml:"gateway"`     // daraja|noop
	Environment        string        `yaml:"environment"` // sandbox|production
	BaseURL            string        `yaml:"base_url"`    // overrides environment
	ConsumerKey        string        `yaml:"consumer_key"`
	ConsumerSecret     string        `yaml:"consumer_secret"`
	ShortCode          string        `yaml:"shortcode"`
	PassKey            string        `yaml:"passkey"`
	PartyB             string        `yaml:"party_b"` // receiving account; defaults to shortcode
	TransactionType    string        `yaml:"transaction_type"`
	CallbackURL        string        `yaml:"callback_url"`
	AccountReference   string        `yaml:"account_reference"`
	DefaultDescription string        `yaml:"default_description"`
	Timeout            time.Duration `yaml:"timeout"`
}

type StoreConfig struct {
	Driver           string        `yaml:"driver"`    // memory|redis|postgres|bolt
	Retention        time.Duration `yaml:"retention"` // 0 keeps records forever
	EvictionInterval time.Duration `yaml:"eviction_interval"`
}

type RedisConfig struct {
	URL       string `yaml:"url"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type BoltConfig struct {
	Path string `yaml:"path"`
}

type EventsConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id"`
}

type ReconcileConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
	BatchSize  int           `yaml:"batch_size"`
}

// RateLimitConfig caps STK prompts per payer phone. Needs redis.url.
type RateLimitConfig struct {
	PerPhone int           `yaml:"per_phone"` // 0 disables
	Window   time.Duration `yaml:"window"`
}

type WorkersConfig struct {
	Count int `yaml:"count"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Mpesa     MpesaConfig     `yaml:"mpesa"`
	Store     StoreConfig     `yaml:"store"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Bolt      BoltConfig      `yaml:"bolt"`
	Events    EventsConfig    `yaml:"events"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Workers   WorkersConfig   `yaml:"workers"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path. ${VAR} references are expanded from the
// environment before parsing.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Parse decodes, defaults and validates a config document.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = 25 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	m := &cfg.Mpesa
	if m.Gateway == "" {
		m.Gateway = "daraja"
	}
	if m.Environment == "" {
		m.Environment = "sandbox"
	}
	if m.BaseURL == "" {
		m.BaseURL = "https://sandbox.safaricom.co.ke"
		if m.Environment == "production" {
			m.BaseURL = "https://api.safaricom.co.ke"
		}
	}
	m.BaseURL = strings.TrimRight(m.BaseURL, "/")
	if m.PartyB == "" {
		m.PartyB = m.ShortCode
	}
	if m.TransactionType == "" {
		m.TransactionType = "CustomerPayBillOnline"
	}
	if m.AccountReference == "" {
		m.AccountReference = "Payment"
	}
	if m.DefaultDescription == "" {
		m.DefaultDescription = "Payment"
	}
	if m.Timeout <= 0 {
		m.Timeout = 15 * time.Second
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	if cfg.Store.EvictionInterval <= 0 {
		cfg.Store.EvictionInterval = 10 * time.Minute
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "stk"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Bolt.Path == "" {
		cfg.Bolt.Path = "payments.db"
	}
	if cfg.Events.Topic == "" {
		cfg.Events.Topic = "payments.finalized"
	}
	if cfg.Events.ClientID == "" {
		cfg.Events.ClientID = "mpesa-stk-mediator"
	}
	if cfg.Reconcile.Interval <= 0 {
		cfg.Reconcile.Interval = time.Minute
	}
	if cfg.Reconcile.StaleAfter <= 0 {
		cfg.Reconcile.StaleAfter = 5 * time.Minute
	}
	if cfg.Reconcile.BatchSize <= 0 {
		cfg.Reconcile.BatchSize = 50
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = time.Minute
	}
	if cfg.Workers.Count <= 0 {
		cfg.Workers.Count = 4
	}
}

func validate(cfg *Config) error {
	m := cfg.Mpesa
	switch m.Gateway {
	case "daraja":
		if m.ConsumerKey == "" || m.ConsumerSecret == "" {
			return errors.New("mpesa.consumer_key and mpesa.consumer_secret are required")
		}
		if m.ShortCode == "" {
			return errors.New("mpesa.shortcode is required")
		}
		if m.PassKey == "" {
			return errors.New("mpesa.passkey is required")
		}
	case "noop":
	default:
		return fmt.Errorf("mpesa.gateway %q is not supported", m.Gateway)
	}
	if m.CallbackURL == "" {
		return errors.New("mpesa.callback_url is required")
	}
	if u, err := url.Parse(m.CallbackURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("mpesa.callback_url %q is not an absolute url", m.CallbackURL)
	}

	switch cfg.Store.Driver {
	case "memory", "bolt":
	case "redis":
		if cfg.Redis.URL == "" {
			return errors.New("redis.url is required for store.driver=redis")
		}
	case "postgres":
		if cfg.Database.URL == "" {
			return errors.New("database.url is required for store.driver=postgres")
		}
	default:
		return fmt.Errorf("store.driver %q is not supported", cfg.Store.Driver)
	}

	if cfg.RateLimit.PerPhone > 0 && cfg.Redis.URL == "" {
		return errors.New("redis.url is required when rate_limit.per_phone is set")
	}
	if cfg.Events.Enabled && len(cfg.Events.Brokers) == 0 {
		return errors.New("events.brokers is required when events are enabled")
	}
	return nil
}
