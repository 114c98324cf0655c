// Package config loads service configuration from an optional YAML file
// followed by GATEHOUSE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type HTTP struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

type GRPC struct {
	Addr string `yaml:"addr"`
}

type Auth struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type Storage struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type Redis struct {
	URL    string `yaml:"url"`
	Stream string `yaml:"stream"`
	MaxLen int64  `yaml:"max_len"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type Notify struct {
	QueueSize int           `yaml:"queue_size"`
	Timeout   time.Duration `yaml:"timeout"`
	Log       bool          `yaml:"log"`
	Redis     Redis         `yaml:"redis"`
	Kafka     Kafka         `yaml:"kafka"`
}

type RateLimit struct {
	ConsumeRPS   float64 `yaml:"consume_rps"`
	ConsumeBurst int     `yaml:"consume_burst"`
}

// Config is the full service configuration.
type Config struct {
	LogLevel      string    `yaml:"log_level"`
	HTTP          HTTP      `yaml:"http"`
	GRPC          GRPC      `yaml:"grpc"`
	Auth          Auth      `yaml:"auth"`
	Storage       Storage   `yaml:"storage"`
	DirectoryFile string    `yaml:"directory_file"`
	Notify        Notify    `yaml:"notify"`
	RateLimit     RateLimit `yaml:"rate_limit"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		LogLevel: "info",
		HTTP: HTTP{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		GRPC: GRPC{Addr: ":9090"},
		Auth: Auth{Issuer: "gatehouse", TokenTTL: 12 * time.Hour},
		Storage: Storage{
			Driver:          StorageMemory,
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 15 * time.Minute,
		},
		Notify: Notify{
			QueueSize: 256,
			Timeout:   2 * time.Second,
			Log:       true,
			Redis:     Redis{Stream: "gatehouse:events", MaxLen: 10_000},
			Kafka:     Kafka{Topic: "gatehouse.events"},
		},
		RateLimit: RateLimit{ConsumeRPS: 5, ConsumeBurst: 10},
	}
}

// Load reads the YAML file at path (skipped when empty) over the defaults,
// then applies environment overrides read through getenv.
func Load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv loads the file named by GATEHOUSE_CONFIG, then the environment.
func FromEnv() (Config, error) {
	return Load(os.Getenv("GATEHOUSE_CONFIG"), os.Getenv)
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*dst = out
	}
	var errs []error
	parse := func(key string, fn func(string) error) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			if err := fn(v); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	}

	str("GATEHOUSE_LOG_LEVEL", &cfg.LogLevel)
	str("GATEHOUSE_HTTP_ADDR", &cfg.HTTP.Addr)
	list("GATEHOUSE_CORS_ORIGINS", &cfg.HTTP.CORSOrigins)
	str("GATEHOUSE_GRPC_ADDR", &cfg.GRPC.Addr)
	str("GATEHOUSE_AUTH_SECRET", &cfg.Auth.Secret)
	str("GATEHOUSE_AUTH_ISSUER", &cfg.Auth.Issuer)
	parse("GATEHOUSE_TOKEN_TTL", func(v string) (err error) {
		cfg.Auth.TokenTTL, err = time.ParseDuration(v)
		return err
	})
	str("GATEHOUSE_STORAGE_DRIVER", &cfg.Storage.Driver)
	str("GATEHOUSE_PG_DSN", &cfg.Storage.DSN)
	str("GATEHOUSE_DIRECTORY_FILE", &cfg.DirectoryFile)
	parse("GATEHOUSE_NOTIFY_QUEUE", func(v string) (err error) {
		cfg.Notify.QueueSize, err = strconv.Atoi(v)
		return err
	})
	str("GATEHOUSE_REDIS_URL", &cfg.Notify.Redis.URL)
	str("GATEHOUSE_REDIS_STREAM", &cfg.Notify.Redis.Stream)
	list("GATEHOUSE_KAFKA_BROKERS", &cfg.Notify.Kafka.Brokers)
	str("GATEHOUSE_KAFKA_TOPIC", &cfg.Notify.Kafka.Topic)
	parse("GATEHOUSE_CONSUME_RPS", func(v string) (err error) {
		cfg.RateLimit.ConsumeRPS, err = strconv.ParseFloat(v, 64)
		return err
	})
	parse("GATEHOUSE_CONSUME_BURST", func(v string) (err error) {
		cfg.RateLimit.ConsumeBurst, err = strconv.Atoi(v)
		return err
	})
	return errors.Join(errs...)
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.Secret) == "" {
		errs = append(errs, errors.New("auth.secret (GATEHOUSE_AUTH_SECRET) is required"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn (GATEHOUSE_PG_DSN) is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q must be %q or %q", c.Storage.Driver, StorageMemory, StoragePostgres))
	}
	if c.RateLimit.ConsumeRPS <= 0 || c.RateLimit.ConsumeBurst <= 0 {
		errs = append(errs, errors.New("rate_limit.consume_rps and consume_burst must be positive"))
	}
	if c.Notify.QueueSize <= 0 {
		errs = append(errs, errors.New("notify.queue_size must be positive"))
	}
	if len(c.Notify.Kafka.Brokers) > 0 && strings.TrimSpace(c.Notify.Kafka.Topic) == "" {
		errs = append(errs, errors.New("notify.kafka.topic is required when brokers are set"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	return errors.Join(errs...)
}
