package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	// Empty means "generate one at boot".
	InstanceID string `env:"INSTANCE_ID"`

	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort uint16 `env:"REDIS_PORT" envDefault:"6379" validate:"min=1000,max=65535"`

	StoreDriver      string `env:"STORE_DRIVER"      envDefault:"postgres" validate:"oneof=postgres memory"`
	PostgresHost     string `env:"POSTGRES_HOST"     envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT"     envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER"     envDefault:"chat_user"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"chat_password"`
	PostgresDb       string `env:"POSTGRES_DB"       envDefault:"chat_db"`

	RateLimitBackend string        `env:"RATE_LIMIT_BACKEND" envDefault:"redis" validate:"oneof=redis memory"`
	RateLimitPoints  int           `env:"RATE_LIMIT_POINTS"  envDefault:"10"    validate:"min=1"`
	RateLimitWindow  time.Duration `env:"RATE_LIMIT_WINDOW"  envDefault:"3s"    validate:"min=1ms"`
	RateLimitTimeout time.Duration `env:"RATE_LIMIT_TIMEOUT" envDefault:"500ms" validate:"min=1ms"`

	EventBusDriver      string        `env:"EVENT_BUS_DRIVER"      envDefault:"redis" validate:"oneof=redis nats log"`
	EventPublishTimeout time.Duration `env:"EVENT_PUBLISH_TIMEOUT" envDefault:"3s"    validate:"min=1ms"`
	EventStreamMaxLen   int64         `env:"EVENT_STREAM_MAXLEN"   envDefault:"100000" validate:"min=0"`
	NatsURL             string        `env:"NATS_URL"              envDefault:"nats://localhost:4222"`
	NatsUser            string        `env:"NATS_USER"`
	NatsPassword        string        `env:"NATS_PASSWORD"`

	FanoutDriver string `env:"FANOUT_DRIVER" envDefault:"redis" validate:"oneof=redis local"`

	DisplacePreviousDevice bool `env:"DISPLACE_PREVIOUS_DEVICE" envDefault:"false"`

	// Deadline applied to the registry calls of a single inbound event.
	EventTimeout time.Duration `env:"EVENT_TIMEOUT" envDefault:"5s" validate:"min=1ms"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"5s"  validate:"min=1ms"`
	HeartbeatTTL      time.Duration `env:"HEARTBEAT_TTL"      envDefault:"15s" validate:"gtfield=HeartbeatInterval"`

	// Must hold a frame with the largest accepted message; see ws.MinReadLimit.
	WsReadLimit int64 `env:"WS_READ_LIMIT" envDefault:"32768" validate:"min=25600"`
	WsSendQueue int   `env:"WS_SEND_QUEUE" envDefault:"32"   validate:"min=1"`

	HttpServerPort uint16 `env:"HTTP_SERVER_PORT" envDefault:"8080" validate:"min=1000,max=65535"`
}

func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().Debug(".env file not found", zap.Error(err))
	}

	cfg := &Config{}
	if err = env.Parse(cfg); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	validate := validator.New()
	err = validate.Struct(cfg)
	if err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}
