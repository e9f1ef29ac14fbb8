// Package config loads proxy configuration from environment variables with
// the PROXY_ prefix, applies defaults, and validates the result. The loaded
// configuration is immutable for the process lifetime.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// AppConfig holds the proxy's configuration, parsed from environment
// variables. Every component reads it at startup; nothing mutates it after.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// Host is the local address the listener binds for client traffic.
	Host string `koanf:"host" validate:"required,ip"`

	// Port is the local UDP port the listener binds.
	Port int `koanf:"port" validate:"required,gte=1,lte=65535"`

	// UpstreamHost is the resolver every query is forwarded to.
	UpstreamHost string `koanf:"upstream_host" validate:"required,ip"`

	// UpstreamPort is the upstream resolver's UDP port.
	UpstreamPort int `koanf:"upstream_port" validate:"required,gte=1,lte=65535"`

	// UpstreamTimeout is the maximum wait for one upstream reply before the
	// query is treated as unanswered.
	UpstreamTimeout time.Duration `koanf:"upstream_timeout" validate:"required,gt=0"`

	// ObserverTimeout bounds how long the handler waits for one reply
	// observer before abandoning it.
	ObserverTimeout time.Duration `koanf:"observer_timeout" validate:"required,gt=0"`

	// ResolvedDB is the path of the resolved-address database. Empty
	// disables persistence; resolutions are then only logged.
	ResolvedDB string `koanf:"resolved_db"`

	// ResolvedRecent sizes the LRU that suppresses duplicate writes of
	// unchanged resolutions to the resolved-address database.
	ResolvedRecent int `koanf:"resolved_recent" validate:"gte=0"`
}

// DEFAULT_APP_CONFIG mirrors the defaults of the classic proxy invocation:
// listen on all interfaces, forward to a public resolver, wait five seconds.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:             "prod",
	LogLevel:        "info",
	Host:            "0.0.0.0",
	Port:            53,
	UpstreamHost:    "8.8.8.8",
	UpstreamPort:    53,
	UpstreamTimeout: 5 * time.Second,
	ObserverTimeout: time.Second,
	ResolvedDB:      "",
	ResolvedRecent:  1024,
}

// ListenAddr returns the host:port string the listener binds.
func (c *AppConfig) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// UpstreamAddr returns the host:port string of the upstream resolver.
func (c *AppConfig) UpstreamAddr() string {
	return net.JoinHostPort(c.UpstreamHost, strconv.Itoa(c.UpstreamPort))
}

// envLoader loads environment variables with the prefix "PROXY_",
// lowercasing keys and stripping the prefix. Mockable in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "PROXY_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "PROXY_"))
			return key, strings.TrimSpace(value)
		},
	}), nil)
}

// defaultLoader seeds the Koanf instance with DEFAULT_APP_CONFIG via the
// structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// Load parses environment variables into an AppConfig, applying defaults
// and running validation.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
