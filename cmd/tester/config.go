package main

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	RelayAddr string        `envconfig:"RELAY_ADDR" default:"127.0.0.1:12000"`
	AdminPort int           `envconfig:"ADMIN_PORT" default:"6666"`
	Timeout   time.Duration `envconfig:"TESTER_TIMEOUT" default:"2s"`
	// TESTER_ADMIN runs the kick scenario, which binds the admin port locally
	Admin bool `envconfig:"TESTER_ADMIN" default:"true"`
	// TESTER_COLOURS enables colorized output
	Colours bool `envconfig:"TESTER_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
