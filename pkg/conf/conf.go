// Package conf contains utility functions for loading and parsing configuration files.
package conf

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// BackendConf describes how to reach the hosted backend.
type BackendConf struct {
	URL     string `mapstructure:"url"`
	AnonKey string `mapstructure:"anon_key"`

	// ServiceRoleKey bypasses row level security, only admin commands read it.
	ServiceRoleKey string `mapstructure:"service_role_key"`
}

// PostgresConf describes a direct connection to the backend's postgres database.
type PostgresConf struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConf describes a default configuration for the redis.
type RedisConf struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	Database   int    `mapstructure:"database"`
	DisableTLS bool   `mapstructure:"disabletls"`
}

// StorageConf names the buckets used for uploads.
type StorageConf struct {
	MediaBucket  string `mapstructure:"media_bucket"`
	AvatarBucket string `mapstructure:"avatar_bucket"`
}

// SessionConf describes where the signed in session is persisted.
type SessionConf struct {
	Store string `mapstructure:"store"`
	Path  string `mapstructure:"path"`
	Name  string `mapstructure:"name"`
}

// TrackingConf describes the analytics sink.
type TrackingConf struct {
	MixpanelToken string `mapstructure:"mixpanel_token"`
}

// AddrConf describes a listen address.
type AddrConf struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Env maps configuration keys to the environment variables that override them.
var Env = map[string]string{
	"backend.url":              "SUPABASE_URL",
	"backend.anon_key":         "SUPABASE_ANON_KEY",
	"backend.service_role_key": "SUPABASE_SERVICE_ROLE_KEY",
	"db.dsn":                   "DATABASE_URL",
	"redis.host":               "REDIS_HOST",
	"redis.port":               "REDIS_PORT",
	"redis.password":           "REDIS_PASSWORD",
	"tracking.mixpanel_token":  "MIXPANEL_TOKEN",
}

// Load opens and parses a configuration file.
func Load(file string, conf interface{}) error {
	_, err := os.Stat(file)
	if err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigFile(file)
	v.SetConfigType("toml")

	err = v.ReadInConfig()
	if err != nil {
		return err
	}

	return unmarshal(v, conf)
}

// LoadEnv parses a configuration from the environment variables in Env alone.
func LoadEnv(conf interface{}) error {
	return unmarshal(viper.New(), conf)
}

func unmarshal(v *viper.Viper, conf interface{}) error {
	for key, env := range Env {
		err := v.BindEnv(key, env)
		if err != nil {
			return err
		}
	}

	return v.Unmarshal(conf)
}

// Defaults fills unset values of the storage and session configurations.
func Defaults(storage *StorageConf, session *SessionConf) {
	if storage.MediaBucket == "" {
		storage.MediaBucket = "media"
	}

	if storage.AvatarBucket == "" {
		storage.AvatarBucket = "avatars"
	}

	if session.Store == "" {
		session.Store = "file"
	}

	if session.Name == "" {
		session.Name = "default"
	}

	if session.Path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}

		session.Path = strings.TrimSuffix(home, "/") + "/.glimpse"
	}
}
