// Package config loads the daemon's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/mastercactapus/cncd/controller"
	"github.com/mastercactapus/cncd/eventtrigger"
	"github.com/mastercactapus/cncd/transport"
	"github.com/mastercactapus/cncd/transport/serial"
	"github.com/mastercactapus/cncd/transport/socket"
	"github.com/mastercactapus/cncd/transport/spjs"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListen   = ":9091"
	DefaultWatchDir = "./data"
)

type Config struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`
	WatchDir string `yaml:"watch_dir"`
	// Shell runs system event triggers.
	Shell string `yaml:"shell"`

	Controller  ControllerConfig     `yaml:"controller"`
	Macros      []controller.Macro   `yaml:"macros"`
	Events      []eventtrigger.Event `yaml:"events"`
	Connections []Connection         `yaml:"connections"`
}

type ControllerConfig struct {
	Exception struct {
		IgnoreErrors bool `yaml:"ignore_errors"`
	} `yaml:"exception"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Connection describes an endpoint to open, either at startup or through
// the API.
type Connection struct {
	Controller string `yaml:"controller" json:"controllerType"`
	Type       string `yaml:"type" json:"type"`

	// serial and spjs
	Path   string `yaml:"path" json:"path"`
	Baud   int    `yaml:"baud" json:"baudRate"`
	RTSCTS bool   `yaml:"rtscts" json:"rtscts"`

	// socket
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	// spjs
	URL             string `yaml:"url" json:"url"`
	BufferAlgorithm string `yaml:"buffer_algorithm" json:"bufferAlgorithm"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:   DefaultListen,
		LogLevel: "info",
		WatchDir: DefaultWatchDir,
	}
}

// Load reads a YAML file. $VAR and ${VAR} references are expanded from the
// environment first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: load: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads environment variables from path. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (c *Config) Validate() error {
	if c.LogLevel != "off" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("config: log_level: %w", err)
		}
	}
	if c.Controller.PollInterval < 0 {
		return fmt.Errorf("config: controller.poll_interval must not be negative")
	}

	ids := make(map[string]struct{}, len(c.Macros))
	for _, m := range c.Macros {
		if m.ID == "" {
			return fmt.Errorf("config: macro %q: id is required", m.Name)
		}
		if _, dup := ids[m.ID]; dup {
			return fmt.Errorf("config: duplicate macro id %q", m.ID)
		}
		ids[m.ID] = struct{}{}
	}

	for i, e := range c.Events {
		if e.Event == "" {
			return fmt.Errorf("config: events[%d]: event is required", i)
		}
		switch e.Trigger {
		case eventtrigger.System, eventtrigger.GCode:
		default:
			return fmt.Errorf("config: events[%d]: unknown trigger %q", i, e.Trigger)
		}
	}

	for i, conn := range c.Connections {
		if err := conn.Validate(); err != nil {
			return fmt.Errorf("config: connections[%d]: %w", i, err)
		}
	}
	return nil
}

func (c Connection) Validate() error {
	if _, err := controller.NewAdapter(c.Controller); err != nil {
		return err
	}
	switch c.Type {
	case serial.Type:
		if c.Path == "" {
			return errors.New("path is required")
		}
	case socket.Type:
		if c.Host == "" || c.Port <= 0 {
			return errors.New("host and port are required")
		}
	case spjs.Type:
		if c.URL == "" || c.Path == "" {
			return errors.New("url and path are required")
		}
	default:
		return fmt.Errorf("unknown connection type %q", c.Type)
	}
	return nil
}

// Transport builds the transport for c.
func (c Connection) Transport(log *logrus.Entry) (transport.Transport, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	switch c.Type {
	case socket.Type:
		return socket.New(socket.Options{Host: c.Host, Port: c.Port}), nil
	case spjs.Type:
		return spjs.New(spjs.Options{
			URL:             c.URL,
			Port:            c.Path,
			Baud:            c.Baud,
			BufferAlgorithm: c.BufferAlgorithm,
			Log:             log,
		}), nil
	}
	return serial.New(serial.Options{Path: c.Path, Baud: c.Baud, RTSCTS: c.RTSCTS}), nil
}

// Macro looks up a configured macro by ID.
func (c *Config) Macro(id string) (controller.Macro, bool) {
	for _, m := range c.Macros {
		if m.ID == id {
			return m, true
		}
	}
	return controller.Macro{}, false
}

// TriggerEvents returns the configured event triggers.
func (c *Config) TriggerEvents() []eventtrigger.Event { return c.Events }

// Logger builds the process logger. A level of "off" discards everything.
func (c *Config) Logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	if c.LogLevel == "off" {
		logger.SetOutput(io.Discard)
		return logger
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetOutput(os.Stdout)
	return logger
}
