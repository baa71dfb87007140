package server

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the server configuration, read from the environment and layered
// under command-line flags in main.
type Config struct {
	Addr       string `env:"METIS_ADDR" envDefault:":8080"`
	MissionDir string `env:"METIS_MISSION_DIR" envDefault:"missions"`

	// EventRate and EventBurst bound inbound events per connection.
	EventRate  float64 `env:"METIS_EVENT_RATE" envDefault:"25"`
	EventBurst int     `env:"METIS_EVENT_BURST" envDefault:"50"`
}

// LoadConfig parses the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("server: parse environment: %w", err)
	}
	if cfg.EventRate <= 0 || cfg.EventBurst <= 0 {
		return Config{}, fmt.Errorf("server: event rate and burst must be positive")
	}
	return cfg, nil
}
