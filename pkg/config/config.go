/*
Package config resolves the exchange name, master host and listen port a
component uses, and loads the optional yaml configuration file for the
mx tool.
*/
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Listen ports derived from the exchange name always fall inside this
// range.
const (
	MinPort = 1024
	MaxPort = 65535
)

// ErrNoName is returned when no exchange name is given and neither
// MX_NAME nor USER is set in the environment.
var ErrNoName = errors.New("couldn't determine exchange name")

// EffectiveName returns the exchange name to use if name was given on
// the command line or API. A non-empty name wins, then the MX_NAME
// environment variable, then USER.
func EffectiveName(name string) (string, error) {
	if name != "" {
		return name, nil
	}
	if env := os.Getenv("MX_NAME"); env != "" {
		return env, nil
	}
	if env := os.Getenv("USER"); env != "" {
		return env, nil
	}
	return "", ErrNoName
}

// EffectiveHost returns the master host to use if host was given. A
// non-empty host wins, then the MX_HOST environment variable, then
// "localhost".
func EffectiveHost(host string) string {
	if host != "" {
		return host
	}
	if env := os.Getenv("MX_HOST"); env != "" {
		return env
	}
	return "localhost"
}

// EffectivePort returns the listen port the master component uses for
// the given exchange name. The mapping is a character-sum hash over the
// UTF-8 bytes of the name; every participant computes the same port.
func EffectivePort(name string) uint16 {
	sum := 0
	for _, c := range []byte(name) {
		sum += int(c) * 307
	}
	return uint16(MinPort + sum%(MaxPort-MinPort+1))
}

// Logger holds the logging section of the config file.
type Logger struct {
	LogEncoding string `yaml:"LogEncoding"`
	LogLevel    string `yaml:"LogLevel"`
	LogPath     string `yaml:"LogPath"`
}

// Validate returns an error if the Logger configuration is not valid.
func (l Logger) Validate() error {
	if len(l.LogEncoding) > 0 && l.LogEncoding != "console" && l.LogEncoding != "json" {
		return fmt.Errorf("invalid LogEncoding: %s", l.LogEncoding)
	}
	return nil
}

// BasicService is a simple base for side services like Prometheus
// monitoring or pprof.
type BasicService struct {
	Enabled bool `yaml:"Enabled"`
	// Addresses holds the list of bind addresses in the form of "address:port".
	Addresses []string `yaml:"Addresses"`
}

// Config is the top level structure of the mx configuration file. All
// fields are optional. A command-line flag overrides its field; a Name
// set here is used before the MX_NAME and USER environment variables are
// consulted.
type Config struct {
	Name       string       `yaml:"Name"`
	Host       string       `yaml:"Host"`
	Logger     `yaml:",inline"`
	Prometheus BasicService `yaml:"Prometheus"`
	Pprof      BasicService `yaml:"Pprof"`
}

// Validate returns an error if the configuration is not valid.
func (c Config) Validate() error {
	return c.Logger.Validate()
}

// LoadFile loads a Config from the given path.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("unable to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
