// Package config loads service configuration from an optional YAML file,
// with environment variables taking precedence.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts Go duration strings ("30s", "1m") in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := time.ParseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Port          string `yaml:"port"`
	DatabaseURL   string `yaml:"databaseUrl"`
	RedisURL      string `yaml:"redisUrl"`
	DirectionsURL string `yaml:"directionsUrl"`
	AuthMode      string `yaml:"authMode"`
	CacheDir      string `yaml:"cacheDir"`

	RateRPS   float64 `yaml:"rateRps"`
	RateBurst int     `yaml:"rateBurst"`

	// Scheduling knobs
	BufferMinutes      int `yaml:"bufferMinutes"`
	GapThresholdMin    int `yaml:"gapThresholdMinutes"`
	DefaultDurationMin int `yaml:"defaultDurationMinutes"`
	HistoryCap         int `yaml:"historyCap"`

	// Cache staleness windows
	CacheLoadSkew Duration `yaml:"cacheLoadSkew"`
	CacheLiveSkew Duration `yaml:"cacheLiveSkew"`
}

func defaults() Config {
	return Config{
		Port:      "8080",
		AuthMode:  "dev",
		RateRPS:   50,
		RateBurst: 100,
	}
}

// Load reads the file named by CONFIG_FILE (if set and present) and then
// applies environment overrides. A missing file is not an error.
func Load() (Config, error) {
	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, err
		}
		if err == nil {
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, err
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setStr(&cfg.Port, "PORT")
	setStr(&cfg.DatabaseURL, "DATABASE_URL")
	setStr(&cfg.RedisURL, "REDIS_URL")
	setStr(&cfg.DirectionsURL, "DIRECTIONS_URL")
	setStr(&cfg.AuthMode, "AUTH_MODE")
	setStr(&cfg.CacheDir, "CACHE_DIR")
	if v := os.Getenv("RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.RateRPS = f
		}
	}
	setInt(&cfg.RateBurst, "RATE_BURST")
	setInt(&cfg.BufferMinutes, "BUFFER_MINUTES")
	setInt(&cfg.GapThresholdMin, "GAP_THRESHOLD_MINUTES")
	setInt(&cfg.DefaultDurationMin, "DEFAULT_DURATION_MINUTES")
	setInt(&cfg.HistoryCap, "HISTORY_CAP")
	setDur(&cfg.CacheLoadSkew, "CACHE_LOAD_SKEW")
	setDur(&cfg.CacheLiveSkew, "CACHE_LIVE_SKEW")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func setDur(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = Duration(d)
		}
	}
}
