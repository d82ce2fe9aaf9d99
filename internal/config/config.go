package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	EnvDev  = "DEV"
	EnvProd = "PROD"
)

// Config is loaded once at start-up and handed to every component's constructor.
type Config struct {
	Server     Server
	App        App        `envPrefix:"APP_"`
	OAuth      OAuth      `envPrefix:"OAUTH_"`
	RateLimits RateLimits `envPrefix:"RATE_LIMIT_"`
	Captcha    Captcha    `envPrefix:"RECAPTCHA_"`
	Throttle   Throttle   `envPrefix:"HTTP_THROTTLE_"`
	Cors       Cors       `envPrefix:"CORS_"`
	Storage    Storage
}

type Server struct {
	Port     string `env:"PORT" envDefault:"8080"`
	Env      string `env:"ENV" envDefault:"DEV"`
	AppName  string `env:"APP_NAME" envDefault:"Go IdP Server"`
	BaseURL  string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// TrustProxy takes the client IP from X-Forwarded-For or X-Real-IP.
	// Only enable it behind reverse proxies that set those headers.
	TrustProxy bool `env:"TRUST_PROXY"`
	// TrustedProxyCount is how many proxies append to X-Forwarded-For.
	TrustedProxyCount int `env:"TRUSTED_PROXY_COUNT" envDefault:"1"`
}

// Addr returns the listen address in host:port form.
func (s Server) Addr() string {
	if strings.HasPrefix(s.Port, ":") {
		return s.Port
	}
	return ":" + s.Port
}

// App is the privileged first-party credential pair. It never lives in the client store.
type App struct {
	ClientID     string `env:"CLIENT_ID" envDefault:"app"`
	ClientSecret string `env:"CLIENT_SECRET"`
}

type Storage struct {
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/idp.db"`
	// ClientsFile is an optional JSON file of clients registered at start-up.
	ClientsFile string `env:"CLIENTS_FILE"`
}

// Load reads an optional .env file and then the process environment on top of Default.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a configuration with every value populated.
func Default() *Config {
	cfg := &Config{
		Server: Server{
			Port:     "8080",
			Env:      EnvDev,
			AppName:  "Go IdP Server",
			BaseURL:  "http://localhost:8080",
			LogLevel: "info",

			TrustedProxyCount: 1,
		},
		App:        App{ClientID: "app"},
		OAuth:      DefaultOAuth(),
		RateLimits: DefaultRateLimits(),
		Captcha:    DefaultCaptcha(),
		Throttle:   Throttle{RequestsPerSecond: 20, Burst: 40},
		Cors:       Cors{AllowedMethods: "GET, POST, OPTIONS", AllowedHeaders: "Content-Type, Authorization"},
		Storage:    Storage{DatabasePath: "./data/idp.db"},
	}
	return cfg
}

func (c *Config) Validate() error {
	if c.App.ClientID == "" {
		return fmt.Errorf("APP_CLIENT_ID is required")
	}
	if c.IsProduction() && c.App.ClientSecret == "" {
		return fmt.Errorf("APP_CLIENT_SECRET is required in production")
	}
	if c.Server.TrustProxy && c.Server.TrustedProxyCount < 1 {
		return fmt.Errorf("TRUSTED_PROXY_COUNT must be at least 1 when TRUST_PROXY is set")
	}
	if err := c.OAuth.validate(); err != nil {
		return err
	}
	if err := c.RateLimits.validate(); err != nil {
		return err
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == EnvProd
}

func (c *Config) IsDev() bool {
	return c.Server.Env == EnvDev
}
