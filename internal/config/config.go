package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Grading struct {
		Workers     int    `yaml:"workers"`
		LockWait    string `yaml:"lock_wait"`
		LockTTL     string `yaml:"lock_ttl"`
		KeyCacheTTL string `yaml:"key_cache_ttl"`
	} `yaml:"grading"`
	Queue struct {
		Enabled    bool `yaml:"enabled"`
		MaxWorkers int  `yaml:"max_workers"`
		// Attempts bounds retries of the in-process queue used without Postgres.
		Attempts int `yaml:"attempts"`
	} `yaml:"queue"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

// Load reads YAML config from path. A missing file yields the zero config so the
// service can run fully in memory.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
