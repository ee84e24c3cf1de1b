package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	Backend   BackendConfig   `mapstructure:"backend"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Session   SessionConfig   `mapstructure:"session"`
	Overlay   OverlayConfig   `mapstructure:"overlay"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
}

// ServerConfig holds settings for the operator-facing HTTP server.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DBConfig holds settings for the local SQLite state store.
type DBConfig struct {
	File string `mapstructure:"file"`
}

// BackendConfig describes how to reach the media-analyzer backend: its base
// URL, the API base path mounted on it, and the browser-relative prefix that
// HLS playlist URLs get rewritten to. The backend may only be reachable on an
// internal Docker network, so its own playlist URLs are useless to a player.
type BackendConfig struct {
	URL       string `mapstructure:"url"`
	APIBase   string `mapstructure:"api_base"`
	HLSPrefix string `mapstructure:"hls_prefix"`
}

// WebSocketConfig holds settings for the realtime analysis channel.
type WebSocketConfig struct {
	URL string `mapstructure:"url"`
}

// SessionConfig holds stream-session lifecycle settings.
type SessionConfig struct {
	MaxAge            time.Duration `mapstructure:"max_age"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	ValidateOnRestore bool          `mapstructure:"validate_on_restore"`
}

// OverlayConfig holds detection-overlay settings.
type OverlayConfig struct {
	Width   int  `mapstructure:"width"`
	Height  int  `mapstructure:"height"`
	Visible bool `mapstructure:"visible"`
}

// MQTTConfig holds the configuration for the optional MQTT notifier.
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// Load reads the configuration from file, environment variables and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	// Environment variables override the file.
	v.AutomaticEnv()
	v.SetEnvPrefix("MEDIA_DASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 4200)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	v.SetDefault("db.file", "data/media-analyzer.db")

	v.SetDefault("backend.url", "http://localhost:8000")
	v.SetDefault("backend.api_base", "/api/streaming")
	v.SetDefault("backend.hls_prefix", "/streaming")

	v.SetDefault("websocket.url", "ws://localhost:8000/ws/stream/")

	v.SetDefault("session.max_age", time.Hour)
	v.SetDefault("session.settle_delay", time.Second)
	v.SetDefault("session.validate_on_restore", true)

	v.SetDefault("overlay.width", 1280)
	v.SetDefault("overlay.height", 720)
	v.SetDefault("overlay.visible", true)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "media-analyzer-go")
	v.SetDefault("mqtt.topic_prefix", "media-analyzer")
}

func ensureDirectories(cfg *Config) error {
	if cfg.DB.File != "" {
		dbDir := filepath.Dir(cfg.DB.File)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	if cfg.Log.File != "" {
		logDir := filepath.Dir(cfg.Log.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}
