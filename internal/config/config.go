package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultDebugHost = "127.0.0.1"
	DefaultDebugPort = 2222
)

type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Debug    DebugConfig    `yaml:"debug"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ListenConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type UpstreamConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// DialTimeout bounds the upstream connect, e.g. "5s". Empty means no limit.
	DialTimeout string `yaml:"dial_timeout"`
}

type DebugConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

func (c ListenConfig) Addr() string   { return joinHostPort(c.Host, c.Port) }
func (c UpstreamConfig) Addr() string { return joinHostPort(c.Host, c.Port) }
func (c DebugConfig) Addr() string    { return joinHostPort(c.Host, c.Port) }

func Default() *Config {
	return &Config{
		Debug:   DebugConfig{Host: DefaultDebugHost, Port: DefaultDebugPort},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path on top of Default, so keys missing from the file keep
// their default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Override applies "host:port" values from the command line. Empty values
// leave the corresponding section untouched.
func (c *Config) Override(listen, upstream, debug string) error {
	if listen != "" {
		host, port, err := splitHostPort(listen)
		if err != nil {
			return fmt.Errorf("listen address: %w", err)
		}
		c.Listen.Host, c.Listen.Port = host, port
	}
	if upstream != "" {
		host, port, err := splitHostPort(upstream)
		if err != nil {
			return fmt.Errorf("upstream address: %w", err)
		}
		c.Upstream.Host, c.Upstream.Port = host, port
	}
	if debug != "" {
		host, port, err := splitHostPort(debug)
		if err != nil {
			return fmt.Errorf("debug address: %w", err)
		}
		c.Debug.Host, c.Debug.Port = host, port
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if c.Listen.Host == "" && c.Listen.Port == 0 {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.Upstream.Host == "" {
		errs = append(errs, errors.New("upstream.host is required"))
	}
	if c.Upstream.Port <= 0 || c.Upstream.Port > 65535 {
		errs = append(errs, fmt.Errorf("upstream.port %d out of range", c.Upstream.Port))
	}
	if c.Debug.Port < 0 || c.Debug.Port > 65535 {
		errs = append(errs, fmt.Errorf("debug.port %d out of range", c.Debug.Port))
	}
	if _, err := c.Upstream.Timeout(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c UpstreamConfig) Timeout() (time.Duration, error) {
	if c.DialTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.DialTimeout)
	if err != nil {
		return 0, fmt.Errorf("upstream.dial_timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("upstream.dial_timeout %s is negative", d)
	}
	return d, nil
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	if port < 0 || port > 65535 {
		return "", 0, fmt.Errorf("port %d out of range", port)
	}
	return host, port, nil
}
