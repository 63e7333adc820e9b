package config

import (
	"errors"
	"fmt"
	"net/url"

	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/sirupsen/logrus"

	"github.com/iTrooz/offline-worker/internal/cache"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `koanf:"server" yaml:"server"`
	Origin       string             `koanf:"origin" yaml:"origin"`
	Cache        CacheConfig        `koanf:"cache" yaml:"cache"`
	Seed         []string           `koanf:"seed" yaml:"seed"`
	Notification NotificationConfig `koanf:"notification" yaml:"notification"`
	Log          LogConfig          `koanf:"log" yaml:"log"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port  int         `koanf:"port" yaml:"port"`
	HTTPS HTTPSConfig `koanf:"https" yaml:"https"`
}

// HTTPSConfig holds the CA used to intercept HTTPS traffic to the origin
type HTTPSConfig struct {
	CACertFile string `koanf:"ca_cert_file" yaml:"ca_cert_file"`
	CAKeyFile  string `koanf:"ca_key_file" yaml:"ca_key_file"`
}

// CacheConfig contains cache-related configuration
type CacheConfig struct {
	Generation string `koanf:"generation" yaml:"generation"`
	Backend    string `koanf:"backend" yaml:"backend"` // "disk" or "sqlite"
	Folder     string `koanf:"folder" yaml:"folder"`
}

// NotificationConfig contains the assets shown with push notifications and where they are delivered
type NotificationConfig struct {
	Icon   string       `koanf:"icon" yaml:"icon"`
	Badge  string       `koanf:"badge" yaml:"badge"`
	Jabber JabberConfig `koanf:"jabber" yaml:"jabber"`
}

type JabberConfig struct {
	Server    string `koanf:"server" yaml:"server"`
	Username  string `koanf:"username" yaml:"username"`
	Password  string `koanf:"password" yaml:"password"`
	Recipient string `koanf:"recipient" yaml:"recipient"`
	Room      bool   `koanf:"room" yaml:"room"`
	Nick      string `koanf:"nick" yaml:"nick"`
	NoTLS     bool   `koanf:"no_tls" yaml:"no_tls"`
}

// Enabled reports whether notifications should be sent over XMPP
func (j JabberConfig) Enabled() bool {
	return j.Server != ""
}

// LogConfig controls the logger
type LogConfig struct {
	Level      string `koanf:"level" yaml:"level"`
	Format     string `koanf:"format" yaml:"format"` // "text" or "json"
	File       string `koanf:"file" yaml:"file"`
	MaxSize    int    `koanf:"max_size" yaml:"max_size"`
	MaxBackups int    `koanf:"max_backups" yaml:"max_backups"`
	Compress   bool   `koanf:"compress" yaml:"compress"`
}

// Default returns the configuration used for every key the file leaves out
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Origin: "http://localhost:3000",
		Cache: CacheConfig{
			Generation: "hsaban-app-cache-v1",
			Backend:    cache.BackendDisk,
			Folder:     "./cache",
		},
		Seed: []string{
			"/",
			"dream_app_upgrade.html",
			"manifest.json",
			"images/logo192.png",
			"images/logo512.png",
		},
		Notification: NotificationConfig{
			Icon:  "images/logo192.png",
			Badge: "images/logo192.png",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSize:    10,
			MaxBackups: 3,
		},
	}
}

// Load loads configuration from a YAML file on top of the defaults
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		logrus.Debugf("Loaded configuration from %s", path)
	}

	var config Config
	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &config, nil
}

// OriginURL parses the application origin
func (c *Config) OriginURL() (*url.URL, error) {
	u, err := url.Parse(c.Origin)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("origin must be an http or https URL, got: %s", c.Origin)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("origin has no host: %s", c.Origin)
	}
	return u, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if (c.Server.HTTPS.CACertFile == "") != (c.Server.HTTPS.CAKeyFile == "") {
		return errors.New("https CA certificate and key must be set together")
	}

	if _, err := c.OriginURL(); err != nil {
		return fmt.Errorf("invalid origin: %w", err)
	}

	if err := cache.ValidateGeneration(c.Cache.Generation); err != nil {
		return fmt.Errorf("invalid cache generation: %w", err)
	}

	if c.Cache.Backend != cache.BackendDisk && c.Cache.Backend != cache.BackendSQLite {
		return fmt.Errorf("cache backend must be 'disk' or 'sqlite', got: %s", c.Cache.Backend)
	}

	if c.Cache.Folder == "" {
		return errors.New("cache folder is required")
	}

	for _, path := range c.Seed {
		if path == "" {
			return errors.New("seed paths must not be empty")
		}
		if _, err := url.Parse(path); err != nil {
			return fmt.Errorf("invalid seed path %q: %w", path, err)
		}
	}

	if j := c.Notification.Jabber; j.Enabled() && j.Recipient == "" {
		return errors.New("jabber recipient is required when a jabber server is set")
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log format must be 'text' or 'json', got: %s", c.Log.Format)
	}

	return nil
}
