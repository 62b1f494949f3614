package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration

	SecretKey      string
	TokenAlgorithm string
	TokenTTL       time.Duration // 0 disables expiry
	Accounts       []Account

	RateLimitRPS   int // 0 disables the limiter
	RateLimitBurst int

	CORSAllowedOrigins []string

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration
}

// Account is a static login account as it appears in config.
type Account struct {
	Username       string `yaml:"username"`
	FullName       string `yaml:"full_name"`
	Email          string `yaml:"email"`
	HashedPassword string `yaml:"hashed_password"`
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Auth struct {
		Algorithm string    `yaml:"algorithm"`
		TokenTTL  string    `yaml:"token_ttl"`
		Accounts  []Account `yaml:"accounts"`
	} `yaml:"auth"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
	SecretKey     string `yaml:"secret_key"`
}

// DefaultAccounts is the account set used when auth.accounts is empty.
// The hash is bcrypt of "password2024".
func DefaultAccounts() []Account {
	return []Account{
		{
			Username:       "ismayalegit",
			FullName:       "ISMAYA LEGIT GROUP",
			Email:          "example@mail.com",
			HashedPassword: "$2b$12$aEX1Goa9uVq/i7hOQNicu.Msjh3R7OfPql.nx54ZM/iKd3NpmB/qi",
		},
	}
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// WEATHER_API_KEY (or API_KEY), SECRET_KEY, ALGORITHM and PORT env vars take precedence
// over file values. Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	sec, err := loadSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(os.Getenv("PORT"), fc.Server.Port, "8080")

	cfg.WeatherAPIKey = firstNonEmpty(os.Getenv("WEATHER_API_KEY"), os.Getenv("API_KEY"), sec.WeatherAPIKey)
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env or config/secrets.yaml weather_api_key)")
	}
	cfg.SecretKey = firstNonEmpty(os.Getenv("SECRET_KEY"), sec.SecretKey)
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("SECRET_KEY required (set env or config/secrets.yaml secret_key)")
	}

	cfg.WeatherAPIURL = fc.WeatherAPI.URL
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.openweathermap.org/data/2.5/weather"
	}
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 10*time.Second)

	cfg.TokenAlgorithm = strings.ToUpper(strings.TrimSpace(firstNonEmpty(os.Getenv("ALGORITHM"), fc.Auth.Algorithm, "HS256")))
	if ttl := strings.TrimSpace(fc.Auth.TokenTTL); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return nil, fmt.Errorf("auth.token_ttl: invalid duration %q: %w", ttl, err)
		}
		cfg.TokenTTL = d
	}
	cfg.Accounts = fc.Auth.Accounts
	if len(cfg.Accounts) == 0 {
		cfg.Accounts = DefaultAccounts()
	}

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = cfg.RateLimitRPS
	}

	for _, o := range fc.CORS.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadSecrets reads the optional secrets file. A missing file yields empty secrets.
func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.TokenTTL < 0 {
		return fmt.Errorf("auth.token_ttl must not be negative")
	}
	switch cfg.TokenAlgorithm {
	case "HS256", "HS384", "HS512":
		// valid
	default:
		return fmt.Errorf("auth.algorithm must be HS256, HS384 or HS512, got %q", cfg.TokenAlgorithm)
	}
	seen := make(map[string]struct{}, len(cfg.Accounts))
	for i, a := range cfg.Accounts {
		if a.Username == "" || a.HashedPassword == "" {
			return fmt.Errorf("auth.accounts[%d]: username and hashed_password are required", i)
		}
		if _, dup := seen[a.Username]; dup {
			return fmt.Errorf("auth.accounts[%d]: duplicate username %q", i, a.Username)
		}
		seen[a.Username] = struct{}{}
	}
	return nil
}
