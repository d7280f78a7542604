package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full environment surface of the server. Timing values
// default to the documented production settings.
type Config struct {
	Addr      string `env:"ADDR" envDefault:":8080"`
	SessionID string `env:"SESSION_ID" envDefault:"lobby"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	GraceWindow     time.Duration `env:"GRACE_WINDOW" envDefault:"2s"`
	PollInterval    time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
	WinThreshold    int           `env:"WIN_THRESHOLD" envDefault:"10"`
	MoveBound       int           `env:"MOVE_BOUND" envDefault:"20"`
	GoalDedupWindow time.Duration `env:"GOAL_DEDUP_WINDOW" envDefault:"500ms"`
}

// Load reads an optional .env file, then parses the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.GraceWindow <= 0 {
		return fmt.Errorf("GRACE_WINDOW must be positive, got %s", c.GraceWindow)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.WinThreshold <= 0 {
		return fmt.Errorf("WIN_THRESHOLD must be positive, got %d", c.WinThreshold)
	}
	if c.MoveBound <= 0 {
		return fmt.Errorf("MOVE_BOUND must be positive, got %d", c.MoveBound)
	}
	if c.GoalDedupWindow < 0 {
		return fmt.Errorf("GOAL_DEDUP_WINDOW must not be negative, got %s", c.GoalDedupWindow)
	}
	return nil
}
