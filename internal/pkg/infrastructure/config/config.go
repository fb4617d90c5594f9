package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//Config holds everything the dashboard needs to reach the platform and serve the browser
type Config struct {
	ServiceName string

	Backend   BackendConfig
	Live      LiveConfig
	Service   ServiceConfig
	Session   SessionConfig
	Messaging MessagingConfig
	Log       LogConfig
}

//BackendConfig points at the platform REST API
type BackendConfig struct {
	URL     string
	Timeout time.Duration
}

//LiveConfig points at the live value WebSocket feed
type LiveConfig struct {
	URL            string
	Reconnect      bool
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

//ServiceConfig is the browser facing HTTP listener
type ServiceConfig struct {
	Port        string
	CORSOrigins []string
}

//SessionConfig selects where the signed-in session is kept between restarts
type SessionConfig struct {
	Driver string
	DSN    string
}

//MessagingConfig toggles republishing of live values on the message bus
type MessagingConfig struct {
	Enabled bool
}

//LogConfig sets the minimum log level
type LogConfig struct {
	Level string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.url", "http://localhost:3000")
	v.SetDefault("backend.timeout", "15s")
	v.SetDefault("live.url", "ws://localhost:8080")
	v.SetDefault("live.reconnect", true)
	v.SetDefault("live.backoff.initial", "1s")
	v.SetDefault("live.backoff.max", "30s")
	v.SetDefault("service.port", "8880")
	v.SetDefault("cors.origins", []string{"*"})
	v.SetDefault("session.driver", "sqlite")
	v.SetDefault("session.dsn", "file:dashboard-session.db?cache=shared")
	v.SetDefault("messaging.enabled", false)
	v.SetDefault("log.level", "info")
}

//New returns a viper instance with defaults and DASHBOARD_ prefixed env bindings,
//e.g. DASHBOARD_BACKEND_URL or DASHBOARD_LIVE_BACKOFF_MAX
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("dashboard")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

//LoadConfiguration reads an optional config file on top of defaults and environment
func LoadConfiguration(serviceName, configFile string) (*Config, error) {
	v := New()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	return FromViper(serviceName, v)
}

//FromViper builds and validates a Config from an already populated viper instance
func FromViper(serviceName string, v *viper.Viper) (*Config, error) {
	cfg := &Config{
		ServiceName: serviceName,
		Backend: BackendConfig{
			URL:     strings.TrimSuffix(v.GetString("backend.url"), "/"),
			Timeout: v.GetDuration("backend.timeout"),
		},
		Live: LiveConfig{
			URL:            v.GetString("live.url"),
			Reconnect:      v.GetBool("live.reconnect"),
			InitialBackoff: v.GetDuration("live.backoff.initial"),
			MaxBackoff:     v.GetDuration("live.backoff.max"),
		},
		Service: ServiceConfig{
			Port:        v.GetString("service.port"),
			CORSOrigins: v.GetStringSlice("cors.origins"),
		},
		Session: SessionConfig{
			Driver: strings.ToLower(v.GetString("session.driver")),
			DSN:    v.GetString("session.dsn"),
		},
		Messaging: MessagingConfig{
			Enabled: v.GetBool("messaging.enabled"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.Backend.URL == "" {
		return errors.New("backend.url must be set")
	}
	if cfg.Live.URL == "" {
		return errors.New("live.url must be set")
	}
	if !strings.HasPrefix(cfg.Live.URL, "ws://") && !strings.HasPrefix(cfg.Live.URL, "wss://") {
		return fmt.Errorf("live.url %q must use ws:// or wss://", cfg.Live.URL)
	}
	if cfg.Live.InitialBackoff <= 0 || cfg.Live.MaxBackoff < cfg.Live.InitialBackoff {
		return fmt.Errorf("invalid live backoff window %s..%s", cfg.Live.InitialBackoff, cfg.Live.MaxBackoff)
	}

	switch cfg.Session.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported session driver: %s", cfg.Session.Driver)
	}

	return nil
}
