package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load parses environment variables into cfg, which should declare its
// mappings with `env` and `envDefault` tags:
//
//	type Config struct {
//	    Port        int    `env:"HTTP_PORT" envDefault:"8080"`
//	    StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
//	}
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// LoadFrom parses cfg from an explicit variable map instead of the process
// environment.
func LoadFrom(cfg any, vars map[string]string) error {
	if err := env.ParseWithOptions(cfg, env.Options{Environment: vars}); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
