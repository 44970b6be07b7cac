package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Storage struct {
		// Driver is one of memory, sqlite, redis, postgres.
		Driver     string `yaml:"driver"`
		SQLitePath string `yaml:"sqlitePath"`
	} `yaml:"storage"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	LLM struct {
		Endpoint      string `yaml:"endpoint"`
		Model         string `yaml:"model"`
		APIKey        string `yaml:"apiKey"`
		Service       string `yaml:"service"`
		MaxConcurrent int    `yaml:"maxConcurrent"`
		Timeout       string `yaml:"timeout"`
		MaxRetries    int    `yaml:"maxRetries"`
		BaseDelay     string `yaml:"baseDelay"`
		MaxDelay      string `yaml:"maxDelay"`
	} `yaml:"llm"`
	Quota struct {
		Warning  float64 `yaml:"warning"`
		Critical float64 `yaml:"critical"`
	} `yaml:"quota"`
	Cache struct {
		MaxEntries int    `yaml:"maxEntries"`
		TTL        string `yaml:"ttl"`
		FlushDelay string `yaml:"flushDelay"`
	} `yaml:"cache"`
	Offline struct {
		ProbeURL      string `yaml:"probeUrl"`
		ProbeInterval string `yaml:"probeInterval"`
		ProbeTimeout  string `yaml:"probeTimeout"`
		MaxRetries    int    `yaml:"maxRetries"`
		Cooldown      string `yaml:"cooldown"`
	} `yaml:"offline"`
	User struct {
		ID string `yaml:"id"`
	} `yaml:"user"`
}

// Load reads YAML config from path. A missing file yields defaults so the
// tool runs out of the box; secrets come from the environment or a .env file.
func Load(path string) (Config, error) {
	_ = godotenv.Load() // .env is optional

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() Config {
	cfg := Config{}
	cfg.Server.Port = "8080"
	cfg.Log.Level = "info"
	cfg.Log.Format = "pretty"
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.SQLitePath = "./data/quiz-studio.db"
	cfg.Quiz.TTL = "10m"
	cfg.LLM.Endpoint = "https://api.deepseek.com/v1/chat/completions"
	cfg.LLM.Model = "deepseek-chat"
	cfg.LLM.Service = "deepseek"
	cfg.LLM.MaxConcurrent = 2
	cfg.LLM.Timeout = "30s"
	cfg.LLM.MaxRetries = 3
	cfg.LLM.BaseDelay = "500ms"
	cfg.LLM.MaxDelay = "8s"
	cfg.Quota.Warning = 0.80
	cfg.Quota.Critical = 0.95
	cfg.Cache.MaxEntries = 500
	cfg.Cache.TTL = "24h"
	cfg.Cache.FlushDelay = "1s"
	cfg.Offline.ProbeInterval = "30s"
	cfg.Offline.ProbeTimeout = "5s"
	cfg.Offline.MaxRetries = 3
	cfg.Offline.Cooldown = "5s"
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_ENDPOINT"); v != "" {
		cfg.LLM.Endpoint = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Postgres.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
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
