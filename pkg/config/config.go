package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds everything the client needs to reach the backend and keep
// credentials on disk. Values come from the environment, optionally seeded
// from an env file (REACTION_ENV_FILE, falling back to ./.env).
type Config struct {
	BaseURL   string `envconfig:"BASE_URL" default:"http://37.18.110.82:3000"`
	SocketURL string `envconfig:"SOCKET_URL" default:"ws://37.18.110.82:3000/ws"`

	StorePath   string `envconfig:"STORE_PATH" default:"./data/reaction.db"`
	StoreSecret string `envconfig:"STORE_SECRET" default:"change-me-in-production"`

	ProbeAddress  string        `envconfig:"PROBE_ADDRESS" default:"37.18.110.82:3000"`
	ProbeInterval time.Duration `envconfig:"PROBE_INTERVAL" default:"5s"`

	RetryDelay  time.Duration `envconfig:"RETRY_DELAY" default:"5s"`
	WaitTimeout time.Duration `envconfig:"WAIT_TIMEOUT" default:"10s"`

	Username string `envconfig:"REACTION_USERNAME"`
	Password string `envconfig:"REACTION_PASSWORD"`
}

func Load() (Config, error) {
	envFile := os.Getenv("REACTION_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	// a missing env file is fine; the environment and defaults cover it
	_ = godotenv.Load(envFile)

	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("unable to process envconfig: %w", err)
	}

	return c, nil
}
