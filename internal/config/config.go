// Package config loads WebHDFS client configuration from a YAML file and the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/nucleus/webhdfs/pkg/webhdfs"
)

// File is the on-disk layout. Sizes and durations are human readable
// ("1MB", "90s").
type File struct {
	Host          string  `yaml:"host"`
	Port          int     `yaml:"port"`
	Transport     string  `yaml:"transport"`
	Endpoint      string  `yaml:"endpoint"`
	APIVersion    string  `yaml:"api_version"`
	User          string  `yaml:"user"`
	ChunkSize     string  `yaml:"chunk_size"`
	Timeout       string  `yaml:"timeout"`
	Delegation    string  `yaml:"delegation"`
	RetryAttempts int     `yaml:"retry_attempts"`
	RetryWindow   string  `yaml:"retry_window"`
	RetryInterval string  `yaml:"retry_interval"`
	RateLimit     float64 `yaml:"rate_limit"`
	UserAgent     string  `yaml:"user_agent"`
}

// Load reads path, if non-empty, and overlays WEBHDFS_* environment variables.
// The result is not validated; webhdfs.New does that.
func Load(path string) (webhdfs.Config, error) {
	var cfg webhdfs.Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return webhdfs.Config{}, fmt.Errorf("read config: %w", err)
		}
		cfg, err = Parse(raw)
		if err != nil {
			return webhdfs.Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return FromEnv(cfg), nil
}

// Parse decodes a YAML document.
func Parse(raw []byte) (webhdfs.Config, error) {
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return webhdfs.Config{}, err
	}
	return f.Config()
}

// Config converts the file layout into a client configuration.
func (f File) Config() (webhdfs.Config, error) {
	cfg := webhdfs.Config{
		Host:          f.Host,
		Port:          f.Port,
		Transport:     f.Transport,
		Endpoint:      f.Endpoint,
		APIVersion:    f.APIVersion,
		User:          f.User,
		Delegation:    f.Delegation,
		RetryAttempts: f.RetryAttempts,
		RateLimit:     f.RateLimit,
		UserAgent:     f.UserAgent,
	}

	if f.ChunkSize != "" {
		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(f.ChunkSize)); err != nil {
			return webhdfs.Config{}, fmt.Errorf("chunk_size %q: %w", f.ChunkSize, err)
		}
		cfg.ChunkSize = size
	}

	var err error
	if cfg.Timeout, err = duration("timeout", f.Timeout); err != nil {
		return webhdfs.Config{}, err
	}
	if cfg.RetryWindow, err = duration("retry_window", f.RetryWindow); err != nil {
		return webhdfs.Config{}, err
	}
	if cfg.RetryInterval, err = duration("retry_interval", f.RetryInterval); err != nil {
		return webhdfs.Config{}, err
	}
	return cfg, nil
}

// FromEnv returns base with any WEBHDFS_* variables applied on top.
func FromEnv(base webhdfs.Config) webhdfs.Config {
	cfg := base
	cfg.Host = getEnv("WEBHDFS_HOST", cfg.Host)
	cfg.Port = getEnvInt("WEBHDFS_PORT", cfg.Port)
	cfg.User = getEnv("WEBHDFS_USER", cfg.User)
	cfg.Transport = getEnv("WEBHDFS_TRANSPORT", cfg.Transport)
	cfg.Endpoint = getEnv("WEBHDFS_ENDPOINT", cfg.Endpoint)
	cfg.APIVersion = getEnv("WEBHDFS_API_VERSION", cfg.APIVersion)
	cfg.Delegation = getEnv("WEBHDFS_DELEGATION", cfg.Delegation)
	cfg.RetryAttempts = getEnvInt("WEBHDFS_RETRY_ATTEMPTS", cfg.RetryAttempts)

	if kb := getEnvInt("WEBHDFS_CHUNK_SIZE_KB", 0); kb > 0 {
		cfg.ChunkSize = datasize.ByteSize(kb) * datasize.KB
	}
	if s := getEnvInt("WEBHDFS_TIMEOUT_SECONDS", 0); s > 0 {
		cfg.Timeout = time.Duration(s) * time.Second
	}
	if s := getEnvInt("WEBHDFS_RETRY_WINDOW_SECONDS", 0); s > 0 {
		cfg.RetryWindow = time.Duration(s) * time.Second
	}
	return cfg
}

func duration(key, val string) (time.Duration, error) {
	if val == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", key, val, err)
	}
	return d, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
