// Package config resolves server preferences from the environment.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
)

// Proxy selection values for the PROXY variable.
const (
	ProxyDirect  = "direct"
	ProxyConnect = "connect"
)

// Config holds all environment-based configuration for the server.
type Config struct {
	// Proxy selects the transport backend: "direct" or "connect".
	Proxy string `env:"PROXY" envDefault:"direct"`

	// Port is the direct-transport listen port.
	Port int `env:"SERVER_PORT" envDefault:"1359"`

	// Password protects the message stream. Empty disables encryption on the
	// relay; direct connections always run the authentication handshake.
	Password string `env:"SERVER_PASSWORD"`

	// InstallationID identifies this server install to clients. Generated
	// and persisted by the host integration; a fresh one is derived when
	// unset.
	InstallationID string `env:"INSTALLATION_ID"`

	// DeviceName is shown to clients after authentication. Defaults to the
	// system hostname.
	DeviceName string `env:"DEVICE_NAME"`

	// Relay account parameters, required when Proxy is "connect".
	ConnectAddress string `env:"CONNECT_ADDRESS" envDefault:"wss://connect.airmessage.org"`
	ConnectUserID  string `env:"CONNECT_USER_ID"`
	ConnectIDToken string `env:"CONNECT_ID_TOKEN"`

	// UploadDirectory is where inbound file transfers are reassembled.
	// Defaults to the system temp directory.
	UploadDirectory string `env:"UPLOAD_DIR"`

	// LogLevel sets the logrus level name.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads configuration from environment variables and fills derived
// defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.InstallationID == "" {
		cfg.InstallationID = uuid.NewString()
	}
	if cfg.DeviceName == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "AirMessage Server"
		}
		cfg.DeviceName = hostname
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Proxy {
	case ProxyDirect:
		if c.Port < 1 || c.Port > 65535 {
			return fmt.Errorf("SERVER_PORT %d is out of range", c.Port)
		}
	case ProxyConnect:
		if c.ConnectAddress == "" {
			return fmt.Errorf("CONNECT_ADDRESS is required when the connect proxy is selected")
		}
		if c.ConnectUserID == "" && c.ConnectIDToken == "" {
			return fmt.Errorf("one of CONNECT_USER_ID or CONNECT_ID_TOKEN is required when the connect proxy is selected")
		}
	default:
		return fmt.Errorf("unknown proxy type %q", c.Proxy)
	}
	return nil
}
