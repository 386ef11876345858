package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	defaultAddress         = ":4001"
	defaultConfigPath      = "config/config.yaml"
	defaultBackendURL      = "http://localhost:8000"
	defaultBackendTimeout  = 10 * time.Second
	defaultPollInterval    = 2 * time.Second
	defaultMaxPollAttempts = 45
	defaultCentsPerCredit  = 10
	defaultIntentTTL       = 24 * time.Hour
	defaultSessionTTL      = 24 * time.Hour
	defaultIdleTTL         = 30 * time.Minute
	defaultCookieName      = "bb_session"
	defaultCheckoutBurst   = 3
	defaultCheckoutPerMin  = 6
)

type Config struct {
	Server struct {
		Address        string   `yaml:"address"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Backend struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"backend"`
	Workflow struct {
		PollInterval    time.Duration `yaml:"poll_interval"`
		MaxPollAttempts int           `yaml:"max_poll_attempts"`
		CentsPerCredit  int64         `yaml:"cents_per_credit"`
		IntentTTL       time.Duration `yaml:"intent_ttl"`
		IdleTTL         time.Duration `yaml:"idle_ttl"`
	} `yaml:"workflow"`
	Session struct {
		CookieName string        `yaml:"cookie_name"`
		Secret     string        `yaml:"secret"`
		TTL        time.Duration `yaml:"ttl"`
		Secure     bool          `yaml:"secure"`
	} `yaml:"session"`
	Checkout struct {
		PerMinute int `yaml:"per_minute"`
		Burst     int `yaml:"burst"`
	} `yaml:"checkout"`
}

// LoadConfig reads the YAML file named by CONFIG_PATH (a missing file is not an
// error), applies environment overrides and defaults, and validates the result.
func LoadConfig() (Config, error) {
	var cfg Config

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("unmarshal config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Address = ":" + strings.TrimPrefix(v, ":")
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v, err := readIntEnv("REDIS_DB"); err != nil {
		return fmt.Errorf("parse REDIS_DB: %w", err)
	} else if v != nil {
		cfg.Redis.DB = *v
	}
	if v := os.Getenv("BACKEND_BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v, err := readIntEnv("BACKEND_TIMEOUT_SECONDS"); err != nil {
		return fmt.Errorf("parse BACKEND_TIMEOUT_SECONDS: %w", err)
	} else if v != nil {
		cfg.Backend.Timeout = time.Duration(*v) * time.Second
	}
	if v, err := readIntEnv("POLL_INTERVAL_MS"); err != nil {
		return fmt.Errorf("parse POLL_INTERVAL_MS: %w", err)
	} else if v != nil {
		cfg.Workflow.PollInterval = time.Duration(*v) * time.Millisecond
	}
	if v, err := readIntEnv("MAX_POLL_ATTEMPTS"); err != nil {
		return fmt.Errorf("parse MAX_POLL_ATTEMPTS: %w", err)
	} else if v != nil {
		cfg.Workflow.MaxPollAttempts = *v
	}
	if v, err := readIntEnv("CENTS_PER_CREDIT"); err != nil {
		return fmt.Errorf("parse CENTS_PER_CREDIT: %w", err)
	} else if v != nil {
		cfg.Workflow.CentsPerCredit = int64(*v)
	}
	if v := os.Getenv("SESSION_SECRET"); v != "" {
		cfg.Session.Secret = v
	}
	if v := os.Getenv("SESSION_COOKIE_SECURE"); v != "" {
		secure, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse SESSION_COOKIE_SECURE: %w", err)
		}
		cfg.Session.Secure = secure
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = defaultAddress
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "pgx"
	}
	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = defaultBackendURL
	}
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = defaultBackendTimeout
	}
	if cfg.Workflow.PollInterval == 0 {
		cfg.Workflow.PollInterval = defaultPollInterval
	}
	if cfg.Workflow.MaxPollAttempts == 0 {
		cfg.Workflow.MaxPollAttempts = defaultMaxPollAttempts
	}
	if cfg.Workflow.CentsPerCredit == 0 {
		cfg.Workflow.CentsPerCredit = defaultCentsPerCredit
	}
	if cfg.Workflow.IntentTTL == 0 {
		cfg.Workflow.IntentTTL = defaultIntentTTL
	}
	if cfg.Workflow.IdleTTL == 0 {
		cfg.Workflow.IdleTTL = defaultIdleTTL
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = defaultCookieName
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = defaultSessionTTL
	}
	if cfg.Checkout.PerMinute == 0 {
		cfg.Checkout.PerMinute = defaultCheckoutPerMin
	}
	if cfg.Checkout.Burst == 0 {
		cfg.Checkout.Burst = defaultCheckoutBurst
	}
}

// Validate checks values that defaults cannot repair.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Session.Secret) == "" {
		return fmt.Errorf("SESSION_SECRET is required")
	}
	switch c.Database.Driver {
	case "pgx", "mysql":
	default:
		return fmt.Errorf("database driver must be pgx or mysql, got %q", c.Database.Driver)
	}
	if c.Workflow.PollInterval < 0 || c.Workflow.MaxPollAttempts <= 0 {
		return fmt.Errorf("poll interval must be >= 0 and max poll attempts positive")
	}
	if c.Workflow.CentsPerCredit <= 0 {
		return fmt.Errorf("cents per credit must be positive")
	}
	if !strings.HasPrefix(c.Backend.BaseURL, "http://") && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
		return fmt.Errorf("backend base url must be http(s), got %q", c.Backend.BaseURL)
	}
	return nil
}

func readIntEnv(name string) (*int, error) {
	val := os.Getenv(name)
	if val == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(val)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
