package shared

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv   string `env:"APP_ENV" env-default:"prod"`
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`
	HTTPAddr string `env:"HTTP_ADDR" env-default:":8080"`
	HTTP     HTTPConfig
	MySQLDSN string `env:"MYSQL_DSN" env-default:"root:root@tcp(localhost:3306)/stays?parseTime=true&charset=utf8mb4,utf8&loc=UTC"`

	Redis    RedisConfig
	Rentals  RentalsConfig
	Sync     SyncConfig
	CacheTTL time.Duration `env:"CACHE_TTL" env-default:"15m"`

	SchedulerEnabled bool          `env:"SCHEDULER_ENABLED" env-default:"true"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"20s"`
}

type HTTPConfig struct {
	RequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT" env-default:"15s"`
	ReadTimeout    time.Duration `env:"HTTP_READ_TIMEOUT" env-default:"10s"`
	IdleTimeout    time.Duration `env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}

type RentalsConfig struct {
	BaseURL     string        `env:"RU_BASE_URL" env-default:"https://rm.rentalsunited.com/api/Handler.ashx"`
	Username    string        `env:"RU_USERNAME"`
	Password    string        `env:"RU_PASSWORD"`
	RPS         int           `env:"RU_RPS" env-default:"2"`
	Timeout     time.Duration `env:"RU_TIMEOUT" env-default:"30s"`
	WebhookHash string        `env:"RU_WEBHOOK_HASH"`
}

type SyncConfig struct {
	Workers    int           `env:"SYNC_WORKERS" env-default:"2"`
	UnitDelay  time.Duration `env:"SYNC_UNIT_DELAY" env-default:"250ms"`
	At         string        `env:"SYNC_AT" env-default:"02:00"`
	Poll       time.Duration `env:"SYNC_POLL" env-default:"1m"`
	TZ         string        `env:"SYNC_TZ" env-default:"Local"`
	StaleAfter time.Duration `env:"SYNC_STALE_AFTER" env-default:"26h"`
	LockTTL    time.Duration `env:"SYNC_LOCK_TTL" env-default:"2h"`
}

// Location resolves SYNC_TZ; "Local" and "" mean the process timezone.
func (c SyncConfig) Location() (*time.Location, error) {
	if c.TZ == "" || c.TZ == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TZ)
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_TZ %q: %w", c.TZ, err)
	}
	return loc, nil
}

func Load() (Config, error) {
	var c Config
	if err := cleanenv.ReadEnv(&c); err != nil {
		return Config{}, fmt.Errorf("read env: %w", err)
	}
	if c.Sync.Workers <= 0 {
		c.Sync.Workers = 1
	}
	if _, err := time.Parse("15:04", c.Sync.At); err != nil {
		return Config{}, fmt.Errorf("invalid SYNC_AT %q: %w", c.Sync.At, err)
	}
	if _, err := c.Sync.Location(); err != nil {
		return Config{}, err
	}
	if c.Rentals.Username == "" || c.Rentals.Password == "" {
		log.Warn().Msg("RU_USERNAME or RU_PASSWORD is empty")
	}
	if c.Rentals.WebhookHash == "" {
		log.Warn().Msg("RU_WEBHOOK_HASH is empty; webhook authentication disabled")
	}
	return c, nil
}
