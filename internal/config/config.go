// Package config loads the gateway configuration from a YAML file.
//
// Environment variables referenced as $VAR or ${VAR} inside the file are
// expanded before parsing, so secrets can stay out of the file itself.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the Synapse gateway.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Agent     AgentConfig     `yaml:"agent"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Duration is a time.Duration that decodes from YAML either as a Go
// duration string ("30s", "1h") or as a bare number of seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var secs int64
	if err := value.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// ServerConfig configures the websocket listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret   string   `yaml:"jwt_secret"`
	TokenExpiry Duration `yaml:"token_expiry"`
}

// RedisConfig configures the shared flag and job stores.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig configures the thread directory database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AgentConfig configures the agent runtime backend.
type AgentConfig struct {
	OpenAIKey string `yaml:"openai_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// IngestionConfig configures ingestion job tracking.
type IngestionConfig struct {
	StatusTTL    Duration `yaml:"status_ttl"`
	PollInterval Duration `yaml:"poll_interval"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8071,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Database: DatabaseConfig{
			Path: "synapse.db",
		},
		Agent: AgentConfig{
			Model:     "gpt-4o",
			MaxTokens: 4096,
		},
		Ingestion: IngestionConfig{
			StatusTTL:    Duration(time.Hour),
			PollInterval: Duration(time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads, env-expands and parses the YAML config at path, layered over
// Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes a single YAML document from r over the defaults.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	if err := decoder.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Ingestion.PollInterval <= 0 {
		c.Ingestion.PollInterval = Duration(time.Second)
	}
	if c.Ingestion.StatusTTL <= 0 {
		c.Ingestion.StatusTTL = Duration(time.Hour)
	}
	return nil
}

// Addr returns the host:port the server should listen on.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
