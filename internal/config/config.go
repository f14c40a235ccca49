package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	xrayclassifier "github.com/menta2k/xray-classifier"
	"github.com/menta2k/xray-classifier/pkg/classify"
	"github.com/menta2k/xray-classifier/pkg/gradio"
	"github.com/menta2k/xray-classifier/pkg/processing"
)

// Config holds the application configuration
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Retry     RetryConfig     `yaml:"retry"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// TransportConfig selects the remote inference service.
// An empty URL selects the transport's default endpoint.
type TransportConfig struct {
	Kind         string        `yaml:"kind"`
	URL          string        `yaml:"url"`
	Token        string        `yaml:"token"`
	APIName      string        `yaml:"api_name"`
	Model        string        `yaml:"model"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxImageSide int           `yaml:"max_image_side"`
}

// RetryConfig holds the backoff parameters
type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

// ServerConfig holds configuration for the HTTP front end
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with default values
func Default() *Config {
	policy := classify.DefaultRetryPolicy()
	return &Config{
		Transport: TransportConfig{
			Kind:         xrayclassifier.TransportHFAPI,
			APIName:      gradio.DefaultAPIName,
			Timeout:      60 * time.Second,
			MaxImageSide: processing.DefaultMaxSide,
		},
		Retry: RetryConfig{
			MaxRetries:    policy.MaxRetries,
			InitialDelay:  policy.InitialDelay,
			BackoffFactor: policy.BackoffFactor,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			AllowedOrigins:  []string{"*"},
			MaxUploadBytes:  10 << 20,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromFile loads configuration from a YAML file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Load reads the optional YAML file, overlays variables from envFile and the
// process environment, and validates the result. Process variables win over
// the env file. A missing env file is ignored.
func Load(filename, envFile string) (*Config, error) {
	config := Default()
	if filename != "" {
		var err error
		if config, err = LoadFromFile(filename); err != nil {
			return nil, err
		}
	}

	fileEnv := map[string]string{}
	if envFile != "" {
		values, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			fileEnv = values
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read env file: %w", err)
		}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	}
	if err := config.ApplyEnv(lookup); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv overrides fields from environment variables found through lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	first := func(keys ...string) (string, bool) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v), true
			}
		}
		return "", false
	}

	if v, ok := first("XRAY_TRANSPORT"); ok {
		c.Transport.Kind = v
	}
	if v, ok := first("XRAY_URL", "HF_API_URL", "NEXT_PUBLIC_HF_API_URL"); ok {
		c.Transport.URL = v
	}
	if v, ok := first("XRAY_TOKEN", "HF_TOKEN", "NEXT_PUBLIC_HF_TOKEN"); ok {
		c.Transport.Token = v
	}
	if v, ok := first("XRAY_API_NAME"); ok {
		c.Transport.APIName = v
	}
	if v, ok := first("XRAY_MODEL"); ok {
		c.Transport.Model = v
	}
	if v, ok := first("XRAY_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("XRAY_TIMEOUT: %w", err)
		}
		c.Transport.Timeout = d
	}
	if v, ok := first("XRAY_MAX_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("XRAY_MAX_RETRIES: %w", err)
		}
		c.Retry.MaxRetries = n
	}
	if v, ok := first("XRAY_INITIAL_DELAY"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("XRAY_INITIAL_DELAY: %w", err)
		}
		c.Retry.InitialDelay = d
	}
	if v, ok := first("XRAY_BACKOFF_FACTOR"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("XRAY_BACKOFF_FACTOR: %w", err)
		}
		c.Retry.BackoffFactor = f
	}
	if v, ok := first("XRAY_HOST"); ok {
		c.Server.Host = v
	}
	if v, ok := first("XRAY_PORT", "PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = n
	}
	if v, ok := first("XRAY_ALLOWED_ORIGINS"); ok {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.Server.AllowedOrigins = origins
	}
	if v, ok := first("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := first("LOG_FORMAT"); ok {
		c.Log.Format = v
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch strings.ToLower(c.Transport.Kind) {
	case xrayclassifier.TransportHFAPI, xrayclassifier.TransportGradio:
	case xrayclassifier.TransportLlamaCpp:
	case xrayclassifier.TransportOllama:
		if strings.TrimSpace(c.Transport.Model) == "" {
			return fmt.Errorf("transport.model is required for the ollama transport")
		}
	default:
		return fmt.Errorf("transport.kind must be one of hfapi, gradio, ollama, llamacpp (got %q)", c.Transport.Kind)
	}

	if c.Transport.Timeout <= 0 {
		return fmt.Errorf("transport.timeout must be positive")
	}

	if c.Transport.MaxImageSide < 0 {
		return fmt.Errorf("transport.max_image_side cannot be negative")
	}

	if err := c.Policy().Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}

	if c.Server.Port < 1 || c.Server.Port > math.MaxUint16 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive")
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console")
	}

	return nil
}

// Policy returns the retry policy described by the configuration
func (c *Config) Policy() classify.RetryPolicy {
	return classify.RetryPolicy{
		MaxRetries:    c.Retry.MaxRetries,
		InitialDelay:  c.Retry.InitialDelay,
		BackoffFactor: c.Retry.BackoffFactor,
	}
}

// Options converts the configuration into classifier options
func (c *Config) Options() xrayclassifier.Options {
	return xrayclassifier.Options{
		Transport:    strings.ToLower(c.Transport.Kind),
		URL:          c.Transport.URL,
		Token:        c.Transport.Token,
		APIName:      c.Transport.APIName,
		Model:        c.Transport.Model,
		Timeout:      c.Transport.Timeout,
		MaxImageSide: c.Transport.MaxImageSide,
		Retry:        c.Policy(),
	}
}

// Addr returns the listen address of the HTTP server
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
