package configuration

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Duration reads "5s" style strings from JSON and from the environment.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.UnmarshalText([]byte(s))
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(n)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

type ServerConfig struct {
	AppPort        int      `json:"app_port" env:"SAFECHAT_SERVER_APP_PORT" validate:"min=1,max=65535"`
	SocketPort     int      `json:"socket_port" env:"SAFECHAT_SERVER_SOCKET_PORT" validate:"min=1,max=65535"`
	SocketRoute    string   `json:"socket_route" env:"SAFECHAT_SERVER_SOCKET_ROUTE" validate:"required,startswith=/"`
	AllowedOrigins []string `json:"allowed_origins" env:"SAFECHAT_SERVER_ALLOWED_ORIGINS" envSeparator:","`
}

type AuthConfig struct {
	JWTSecret string   `json:"jwt_secret" env:"SAFECHAT_AUTH_JWT_SECRET" validate:"required"`
	Issuer    string   `json:"issuer" env:"SAFECHAT_AUTH_ISSUER"`
	TokenTTL  Duration `json:"token_ttl" env:"SAFECHAT_AUTH_TOKEN_TTL"`
}

type MongoConfig struct {
	Uri                string `json:"uri" env:"SAFECHAT_STORE_MONGO_URI"`
	Database           string `json:"database" env:"SAFECHAT_STORE_MONGO_DATABASE"`
	MessagesCollection string `json:"messages_collection" env:"SAFECHAT_STORE_MONGO_MESSAGES_COLLECTION"`
}

type PostgresConfig struct {
	Dsn string `json:"dsn" env:"SAFECHAT_STORE_POSTGRES_DSN"`
}

type StoreConfig struct {
	Driver   string         `json:"driver" env:"SAFECHAT_STORE_DRIVER" validate:"oneof=mongo postgres memory"`
	Mongo    MongoConfig    `json:"mongo"`
	Postgres PostgresConfig `json:"postgres"`
}

type DeliveryConfig struct {
	GracePeriod     Duration `json:"grace_period" env:"SAFECHAT_DELIVERY_GRACE_PERIOD"`
	Timezone        string   `json:"timezone" env:"SAFECHAT_DELIVERY_TIMEZONE" validate:"required"`
	DeletionWorkers int      `json:"deletion_workers" env:"SAFECHAT_DELIVERY_DELETION_WORKERS" validate:"min=1"`
	StoreTimeout    Duration `json:"store_timeout" env:"SAFECHAT_DELIVERY_STORE_TIMEOUT"`
}

type SessionConfig struct {
	MailboxCapacity int      `json:"mailbox_capacity" env:"SAFECHAT_SESSION_MAILBOX_CAPACITY" validate:"min=1"`
	WriteWait       Duration `json:"write_wait" env:"SAFECHAT_SESSION_WRITE_WAIT"`
	PongWait        Duration `json:"pong_wait" env:"SAFECHAT_SESSION_PONG_WAIT"`
	MaxMessageSize  int64    `json:"max_message_size" env:"SAFECHAT_SESSION_MAX_MESSAGE_SIZE" validate:"min=1"`
	EvictSuperseded bool     `json:"evict_superseded" env:"SAFECHAT_SESSION_EVICT_SUPERSEDED"`
}

type LogConfig struct {
	Level       string `json:"level" env:"SAFECHAT_LOG_LEVEL" validate:"oneof=debug info warn error"`
	Development bool   `json:"development" env:"SAFECHAT_LOG_DEVELOPMENT"`
}

type Config struct {
	Server   ServerConfig   `json:"server"`
	Auth     AuthConfig     `json:"auth"`
	Store    StoreConfig    `json:"store"`
	Delivery DeliveryConfig `json:"delivery"`
	Session  SessionConfig  `json:"session"`
	Log      LogConfig      `json:"log"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			AppPort:     8080,
			SocketPort:  8081,
			SocketRoute: "/ws",
		},
		Auth: AuthConfig{
			TokenTTL: Duration(24 * time.Hour),
		},
		Store: StoreConfig{
			Driver: DriverMongo,
			Mongo: MongoConfig{
				Uri:                "mongodb://localhost:27017",
				Database:           "safechat",
				MessagesCollection: "messages",
			},
		},
		Delivery: DeliveryConfig{
			GracePeriod:     Duration(5 * time.Second),
			Timezone:        "Europe/Brussels",
			DeletionWorkers: 4,
			StoreTimeout:    Duration(5 * time.Second),
		},
		Session: SessionConfig{
			MailboxCapacity: 100,
			WriteWait:       Duration(10 * time.Second),
			PongWait:        Duration(60 * time.Second),
			MaxMessageSize:  512 * 1024,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads the JSON file at configPath over the defaults, then applies
// .env and SAFECHAT_* environment overrides. A missing file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(file, config); err != nil {
			return nil, fmt.Errorf("parse %s: %w", configPath, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	_ = godotenv.Load()
	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Store.Driver {
	case DriverMongo:
		if c.Store.Mongo.Uri == "" || c.Store.Mongo.Database == "" || c.Store.Mongo.MessagesCollection == "" {
			return errors.New("invalid config: mongo store needs uri, database and messages_collection")
		}
	case DriverPostgres:
		if c.Store.Postgres.Dsn == "" {
			return errors.New("invalid config: postgres store needs a dsn")
		}
	}

	if _, err := time.LoadLocation(c.Delivery.Timezone); err != nil {
		return fmt.Errorf("invalid config: timezone %q: %w", c.Delivery.Timezone, err)
	}
	return nil
}

// Location is the zone message timestamps are taken in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Delivery.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
