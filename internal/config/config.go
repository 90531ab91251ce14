// Package config loads the client configuration with viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nzlov/carewire/internal/reminder"
	"github.com/nzlov/carewire/internal/transport"
)

const (
	PrefsMemory   = "memory"
	PrefsRedis    = "redis"
	PrefsPostgres = "postgres"
)

type Client struct {
	Identity  IdentityConfig  `json:"identity" yaml:"identity" mapstructure:"identity"`
	Signaling EndpointConfig  `json:"signaling" yaml:"signaling" mapstructure:"signaling"`
	PubSub    EndpointConfig  `json:"pubsub" yaml:"pubsub" mapstructure:"pubsub"`
	Reminders RemindersConfig `json:"reminders" yaml:"reminders" mapstructure:"reminders"`
	Prefs     PrefsConfig     `json:"prefs" yaml:"prefs" mapstructure:"prefs"`
	Admin     AdminConfig     `json:"admin" yaml:"admin" mapstructure:"admin"`
	Log       LogConfig       `json:"log" yaml:"log" mapstructure:"log"`
}

type IdentityConfig struct {
	UserID string `json:"user_id" yaml:"user_id" mapstructure:"user_id"`
	Role   string `json:"role" yaml:"role" mapstructure:"role"`
	Token  string `json:"token" yaml:"token" mapstructure:"token"`
}

func (c IdentityConfig) Identity() transport.Identity {
	return transport.Identity{UserID: c.UserID, Role: transport.Role(c.Role), Token: c.Token}
}

// EndpointConfig is one websocket use site with its own reconnect policy.
type EndpointConfig struct {
	URL       string           `json:"url" yaml:"url" mapstructure:"url"`
	Transport transport.Config `json:"transport" yaml:"transport" mapstructure:"transport"`
}

type RemindersConfig struct {
	Timezone           string            `json:"timezone" yaml:"timezone" mapstructure:"timezone"`
	Defaults           reminder.Defaults `json:"defaults" yaml:"defaults" mapstructure:"defaults"`
	InactivityDays     int               `json:"inactivity_days" yaml:"inactivity_days" mapstructure:"inactivity_days"`
	InactivityInterval time.Duration     `json:"inactivity_interval" yaml:"inactivity_interval" mapstructure:"inactivity_interval"`
}

// Location resolves Timezone, empty meaning the local zone.
func (c RemindersConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

func (c RemindersConfig) InactivityThreshold() time.Duration {
	return time.Duration(c.InactivityDays) * 24 * time.Hour
}

type PrefsConfig struct {
	Driver string `json:"driver" yaml:"driver" mapstructure:"driver"`
	// DSN is the postgres connection string.
	DSN       string `json:"dsn" yaml:"dsn" mapstructure:"dsn"`
	DBLog     bool   `json:"dblog" yaml:"dblog" mapstructure:"dblog"`
	RedisAddr string `json:"redis_addr" yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisDB   int    `json:"redis_db" yaml:"redis_db" mapstructure:"redis_db"`
	Prefix    string `json:"prefix" yaml:"prefix" mapstructure:"prefix"`
}

// AdminConfig is used by the publish command.
type AdminConfig struct {
	URL    string `json:"url" yaml:"url" mapstructure:"url"`
	Secret string `json:"secret" yaml:"secret" mapstructure:"secret"`
}

type LogConfig struct {
	Level       string `json:"level" yaml:"level" mapstructure:"level"`
	Development bool   `json:"development" yaml:"development" mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	t := transport.DefaultConfig()
	for _, site := range []string{"signaling", "pubsub"} {
		v.SetDefault(site+".transport.reconnect_interval", t.ReconnectInterval)
		v.SetDefault(site+".transport.max_reconnect_attempts", t.MaxReconnectAttempts)
		v.SetDefault(site+".transport.heartbeat_interval", t.HeartbeatInterval)
	}
	v.SetDefault("signaling.url", "ws://localhost:8000/ws")
	v.SetDefault("pubsub.url", "ws://localhost:8000/ws")
	// keys without a default are invisible to AutomaticEnv
	v.SetDefault("identity.user_id", "")
	v.SetDefault("identity.role", string(transport.RoleUser))
	v.SetDefault("identity.token", "")

	d := reminder.DefaultDefaults()
	v.SetDefault("reminders.defaults.diary_enabled", d.DiaryEnabled)
	v.SetDefault("reminders.defaults.diary_hour", d.DiaryHour)
	v.SetDefault("reminders.defaults.diary_minute", d.DiaryMinute)
	v.SetDefault("reminders.defaults.checkin_day", int(d.CheckInDay))
	v.SetDefault("reminders.defaults.checkin_hour", d.CheckInHour)
	v.SetDefault("reminders.defaults.checkin_minute", d.CheckInMinute)
	v.SetDefault("reminders.inactivity_days", 3)
	v.SetDefault("reminders.inactivity_interval", time.Hour)

	v.SetDefault("prefs.driver", PrefsMemory)
	v.SetDefault("prefs.prefix", "carewire")
	v.SetDefault("prefs.dsn", "")
	v.SetDefault("prefs.redis_addr", "")
	v.SetDefault("admin.url", "http://localhost:8000/admin/publish")
	v.SetDefault("admin.secret", "")
	v.SetDefault("log.level", "info")
}

// Load reads path, or a file named config in the working directory when
// path is empty. A missing default file is not an error. Environment
// variables such as IDENTITY_USER_ID override file values.
func Load(path string) (*Client, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./")
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("init config: %w", err)
		}
	}

	cfg := &Client{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("init config unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Client) Validate() error {
	switch c.Prefs.Driver {
	case PrefsMemory:
	case PrefsRedis:
		if c.Prefs.RedisAddr == "" {
			return errors.New("config: prefs.redis_addr is required for the redis driver")
		}
	case PrefsPostgres:
		if c.Prefs.DSN == "" {
			return errors.New("config: prefs.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown prefs driver %q", c.Prefs.Driver)
	}
	if _, err := c.Reminders.Location(); err != nil {
		return fmt.Errorf("config: reminders.timezone: %w", err)
	}
	if c.Reminders.InactivityDays <= 0 {
		return fmt.Errorf("config: reminders.inactivity_days must be positive, got %d", c.Reminders.InactivityDays)
	}
	return nil
}
