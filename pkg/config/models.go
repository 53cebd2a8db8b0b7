package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Store     StoreConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

// StoreConfig selects and tunes the presence store backend.
type StoreConfig struct {
	Backend       string        `mapstructure:"backend"` // "memory" or "redis"
	RedisAddr     string        `mapstructure:"redisAddr"`
	RedisDB       int           `mapstructure:"redisDB"`
	OpTimeout     time.Duration `mapstructure:"opTimeout"`
	BoardIndexTTL time.Duration `mapstructure:"boardIndexTTL"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}
