// Package config loads the hub's configuration from an optional YAML file,
// environment overrides and defaults, in that order of precedence (env wins).
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

// Config is the complete process configuration.
type Config struct {
	Server    Server    `yaml:"server"`
	Log       Log       `yaml:"log"`
	Auth      Auth      `yaml:"auth"`
	Hub       Hub       `yaml:"hub"`
	Redis     Redis     `yaml:"redis"`
	Postgres  Postgres  `yaml:"postgres"`
	Kafka     Kafka     `yaml:"kafka"`
	MQTT      MQTT      `yaml:"mqtt"`
	Backplane Backplane `yaml:"backplane"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Auth configures bearer token validation.
type Auth struct {
	JWTSigningKey string `yaml:"jwt_signing_key"`
	Issuer        string `yaml:"issuer"`
	Audience      string `yaml:"audience"`

	// VehicleAssignments checks driver vehicle ownership against Redis in
	// addition to token claims.
	VehicleAssignments bool `yaml:"vehicle_assignments"`
}

// Hub tunes the realtime core.
type Hub struct {
	Shards           int           `yaml:"shards"`
	SendBuffer       int           `yaml:"send_buffer"`
	ReapQueue        int           `yaml:"reap_queue"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PongTimeout      time.Duration `yaml:"pong_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	MaxMessageBytes  int64         `yaml:"max_message_bytes"`
	StoreTimeout     time.Duration `yaml:"store_timeout"`
	ReportsPerSecond int           `yaml:"reports_per_second"`
	ThrottleSweep    time.Duration `yaml:"throttle_sweep"`
	LocationStore    string        `yaml:"location_store"`
	PositionTTL      time.Duration `yaml:"position_ttl"`
	RecordHistory    bool          `yaml:"record_history"`
	BreakerFailures  int           `yaml:"breaker_failures"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
}

// Redis holds connection settings for the Redis client. An empty URL disables
// every Redis-backed component.
type Redis struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type Postgres struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// Kafka configures the business-event feed. No brokers disables it.
type Kafka struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
	Topics  []string `yaml:"topics"`

	// CreateTopics provisions missing topics at startup.
	CreateTopics      bool  `yaml:"create_topics"`
	Partitions        int32 `yaml:"partitions"`
	ReplicationFactor int16 `yaml:"replication_factor"`
}

// MQTT configures the telematics feed. An empty broker URL disables it.
type MQTT struct {
	BrokerURL string `yaml:"broker_url"`
	ClientID  string `yaml:"client_id"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Topic     string `yaml:"topic"`
}

type Backplane struct {
	Enabled bool   `yaml:"enabled"`
	Channel string `yaml:"channel"`
}

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Log: Log{Level: "info", Format: "json"},
		Auth: Auth{
			Issuer:   "trackhub",
			Audience: "trackhub",
		},
		Hub: Hub{
			Shards:           32,
			SendBuffer:       64,
			ReapQueue:        1024,
			PingInterval:     25 * time.Second,
			PongTimeout:      60 * time.Second,
			WriteTimeout:     10 * time.Second,
			MaxMessageBytes:  16 << 10,
			StoreTimeout:     3 * time.Second,
			ReportsPerSecond: 10,
			ThrottleSweep:    time.Minute,
			LocationStore:    StoreMemory,
			PositionTTL:      24 * time.Hour,
			BreakerFailures:  5,
			BreakerCooldown:  2 * time.Second,
		},
		Redis: Redis{
			PoolSize:     20,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Postgres: Postgres{MaxConns: 10},
		Kafka: Kafka{
			GroupID:           "trackhub",
			Topics:            []string{"trackhub.events"},
			Partitions:        6,
			ReplicationFactor: 1,
		},
		MQTT: MQTT{ClientID: "trackhub"},
		Backplane: Backplane{
			Channel: "trackhub:events",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (if non-empty) and
// TRACKHUB_* environment variables. ${VAR} references in the file are expanded.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the process cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Auth.JWTSigningKey == "" {
		errs = append(errs, errors.New("auth.jwt_signing_key is required"))
	}
	if c.Hub.Shards <= 0 {
		errs = append(errs, errors.New("hub.shards must be positive"))
	}
	if c.Hub.SendBuffer <= 0 {
		errs = append(errs, errors.New("hub.send_buffer must be positive"))
	}
	if c.Hub.PongTimeout <= c.Hub.PingInterval {
		errs = append(errs, errors.New("hub.pong_timeout must exceed hub.ping_interval"))
	}
	switch c.Hub.LocationStore {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("hub.location_store=redis requires redis.url"))
		}
	case StorePostgres:
		if c.Postgres.URL == "" {
			errs = append(errs, errors.New("hub.location_store=postgres requires postgres.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("hub.location_store %q is not one of memory, redis, postgres", c.Hub.LocationStore))
	}
	if c.Backplane.Enabled && c.Redis.URL == "" {
		errs = append(errs, errors.New("backplane.enabled requires redis.url"))
	}
	if c.Auth.VehicleAssignments && c.Redis.URL == "" {
		errs = append(errs, errors.New("auth.vehicle_assignments requires redis.url"))
	}
	return errors.Join(errs...)
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = splitList(v)
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	str("TRACKHUB_ADDR", &cfg.Server.Addr)
	dur("TRACKHUB_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	list("TRACKHUB_ALLOWED_ORIGINS", &cfg.Server.AllowedOrigins)
	str("TRACKHUB_LOG_LEVEL", &cfg.Log.Level)
	str("TRACKHUB_LOG_FORMAT", &cfg.Log.Format)
	str("TRACKHUB_JWT_SIGNING_KEY", &cfg.Auth.JWTSigningKey)
	str("TRACKHUB_JWT_ISSUER", &cfg.Auth.Issuer)
	str("TRACKHUB_JWT_AUDIENCE", &cfg.Auth.Audience)
	flag("TRACKHUB_VEHICLE_ASSIGNMENTS", &cfg.Auth.VehicleAssignments)
	str("TRACKHUB_LOCATION_STORE", &cfg.Hub.LocationStore)
	num("TRACKHUB_REPORTS_PER_SECOND", &cfg.Hub.ReportsPerSecond)
	dur("TRACKHUB_STORE_TIMEOUT", &cfg.Hub.StoreTimeout)
	str("TRACKHUB_REDIS_URL", &cfg.Redis.URL)
	str("TRACKHUB_DATABASE_URL", &cfg.Postgres.URL)
	list("TRACKHUB_KAFKA_BROKERS", &cfg.Kafka.Brokers)
	list("TRACKHUB_KAFKA_TOPICS", &cfg.Kafka.Topics)
	str("TRACKHUB_KAFKA_GROUP", &cfg.Kafka.GroupID)
	flag("TRACKHUB_KAFKA_CREATE_TOPICS", &cfg.Kafka.CreateTopics)
	str("TRACKHUB_MQTT_BROKER", &cfg.MQTT.BrokerURL)
	str("TRACKHUB_MQTT_USERNAME", &cfg.MQTT.Username)
	str("TRACKHUB_MQTT_PASSWORD", &cfg.MQTT.Password)
	flag("TRACKHUB_BACKPLANE", &cfg.Backplane.Enabled)
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
