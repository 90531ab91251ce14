package main

import "time"

var DefConfig Config

type Config struct {
	Host      string `json:"host"`
	PprofHost string `json:"pprof_host" yaml:"pprof_host" mapstructure:"pprof_host"`
	// Secret verifies the HS256 tokens presented on /ws. Empty disables
	// token checks and sockets identify themselves with register/join.
	Secret      string `json:"secret"`
	AdminSecret string `json:"adminsecret"`
	// AdminSkew bounds the age of a signed admin request.
	AdminSkew time.Duration `json:"admin_skew" yaml:"admin_skew" mapstructure:"admin_skew"`

	Log       LogConfig       `json:"log" yaml:"log" mapstructure:"log"`
	Redis     RedisConfig     `json:"redis" yaml:"redis" mapstructure:"redis"`
	Client    ClientConfig    `json:"client" yaml:"client" mapstructure:"client"`
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit" mapstructure:"rate_limit"`
}

type LogConfig struct {
	Level       string `json:"level" yaml:"level" mapstructure:"level"`
	Development bool   `json:"development" yaml:"development" mapstructure:"development"`
}

type RedisConfig struct {
	Enable  bool   `json:"enable" yaml:"enable" mapstructure:"enable"`
	Host    string `json:"host" yaml:"host" mapstructure:"host"`
	Name    string `json:"name" yaml:"name" mapstructure:"name"`
	Channel string `json:"channel" yaml:"channel" mapstructure:"channel"`
}

type ClientConfig struct {
	ReadMessageSizeLimit int64 `json:"read_message_size_limit" yaml:"read_message_size_limit" mapstructure:"read_message_size_limit"`
	Compression          bool  `json:"compression" yaml:"compression" mapstructure:"compression"`
	CompressionLevel     int   `json:"compression_level" yaml:"compression_level" mapstructure:"compression_level"`
	ReadBufferSize       int   `json:"read_buffer_size" yaml:"read_buffer_size" mapstructure:"read_buffer_size"`
	WriteBufferSize      int   `json:"write_buffer_size" yaml:"write_buffer_size" mapstructure:"write_buffer_size"`
	SendBuffer           int   `json:"send_buffer" yaml:"send_buffer" mapstructure:"send_buffer"`
}

// RateLimitConfig caps inbound frames per socket. Zero PerSecond disables
// the limit.
type RateLimitConfig struct {
	PerSecond float64 `json:"per_second" yaml:"per_second" mapstructure:"per_second"`
	Burst     int     `json:"burst" yaml:"burst" mapstructure:"burst"`
}

func (c *Config) defaults() {
	if c.Client.ReadMessageSizeLimit <= 0 {
		c.Client.ReadMessageSizeLimit = 64 << 10
	}
	if c.Client.SendBuffer <= 0 {
		c.Client.SendBuffer = 32
	}
	if c.AdminSkew <= 0 {
		c.AdminSkew = 5 * time.Minute
	}
	if c.RateLimit.PerSecond > 0 && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = int(c.RateLimit.PerSecond) + 1
	}
	if c.Redis.Name == "" {
		c.Redis.Name = time.Now().Format("Node-20060102150405")
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = "carewire"
	}
}
