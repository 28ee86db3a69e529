package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// Target is the device being queried.
type Target struct {
	IP   string `toml:"ip"`
	Port int    `toml:"port"`
}

// Exchange holds the send/receive settings.
type Exchange struct {
	Bind       string  `toml:"bind"`
	Timeout    float64 `toml:"timeout"` // seconds
	Retries    int     `toml:"retries"`
	MaxPackets int     `toml:"max_packets"`
}

// HomeKit configures the HomeKit bridge.
type HomeKit struct {
	PIN     string `toml:"pin"`
	Store   string `toml:"store"`
	Refresh int    `toml:"refresh"` // seconds
}

type Config struct {
	Target   Target   `toml:"target"`
	Exchange Exchange `toml:"exchange"`
	HomeKit  HomeKit  `toml:"homekit"`
}

func Default() Config {
	return Config{
		Target: Target{
			IP:   "192.168.1.227",
			Port: 30000,
		},
		Exchange: Exchange{
			Timeout:    1.5,
			Retries:    2,
			MaxPackets: 16,
		},
		HomeKit: HomeKit{
			PIN:     "00102030",
			Store:   "./db",
			Refresh: 30,
		},
	}
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "marstek", "config.toml")
}

// LoadEnv loads a .env file into the process environment when present.
// Variables already set are left alone.
func LoadEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "loading %s", path)
	}
	return nil
}

// Load reads the TOML file at path over the defaults. A missing file is not
// an error when path is the default location.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
		if path == "" {
			return &cfg, nil
		}
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return &cfg, nil
		}
		return nil, errors.Wrap(err, "opening config")
	}
	defer f.Close()

	if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Target.IP) == "" {
		return errors.New("target.ip must be set")
	}
	if c.Target.Port <= 0 || c.Target.Port > 65535 {
		return errors.Errorf("target.port %d out of range", c.Target.Port)
	}
	if c.Exchange.Retries < 0 {
		return errors.New("exchange.retries must not be negative")
	}
	if c.Exchange.MaxPackets <= 0 {
		return errors.New("exchange.max_packets must be positive")
	}
	if c.HomeKit.Refresh <= 0 {
		return errors.New("homekit.refresh must be positive")
	}
	return nil
}

// TimeoutDuration converts the timeout in seconds to a duration.
func (e Exchange) TimeoutDuration() time.Duration {
	return time.Duration(e.Timeout * float64(time.Second))
}

func (h HomeKit) RefreshInterval() time.Duration {
	return time.Duration(h.Refresh) * time.Second
}
