package main

import (
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Host                      string        `env:"HOST,default=0.0.0.0" validate:"required"`
	Port                      int           `env:"PORT,default=12000" validate:"min=1,max=65535"`
	AdminPort                 int           `env:"ADMIN_PORT,default=6666" validate:"min=1,max=65535"`
	MaxClients                int           `env:"MAX_CLIENTS,default=128" validate:"min=1"`
	MaxMutes                  int           `env:"MAX_MUTES,default=64" validate:"min=0"`
	MaxNameLength             int           `env:"MAX_NAME_LENGTH,default=63" validate:"min=1"`
	HistorySize               int           `env:"HISTORY_SIZE,default=15" validate:"min=0"`
	MaxDatagramSize           int           `env:"MAX_DATAGRAM_SIZE,default=4096" validate:"min=64,max=65507"`
	NumberOfWorkers           int           `env:"NUMBER_OF_WORKERS,default=8" validate:"min=1"`
	QueueSize                 int           `env:"QUEUE_SIZE,default=1024" validate:"min=1"`
	LivenessInterval          time.Duration `env:"LIVENESS_INTERVAL,default=10s" validate:"gt=0"`
	InactivityThreshold       time.Duration `env:"INACTIVITY_THRESHOLD,default=60s" validate:"gt=0"`
	PingTimeout               time.Duration `env:"PING_TIMEOUT,default=10s" validate:"gt=0"`
	LivenessSweep             string        `env:"LIVENESS_SWEEP,default=oldest" validate:"oneof=oldest all"`
	MetricInterval            time.Duration `env:"METRIC_INTERVAL,default=30s" validate:"gt=0"`
	RestartInterval           time.Duration `env:"RESTART_INTERVAL,default=200ms" validate:"gt=0"`
	ModerationEnabled         bool          `env:"MODERATION_ENABLED,default=false"`
	ModerationCharReplacement string        `env:"MODERATION_CHARACTER_REPLACEMENT,default=*" validate:"len=1"`
	LogLevel                  string        `env:"LOG_LEVEL,default=INFO" validate:"required"`
}

func (c Config) Validate() error {
	return validator.New().Struct(c)
}

// CharReplacement is the rune used to mask censored words.
func (c Config) CharReplacement() rune {
	return []rune(c.ModerationCharReplacement)[0]
}
