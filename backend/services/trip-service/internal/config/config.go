package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "fleetride/backend/libs/config"
	"fleetride/backend/services/trip-service/internal/clients"
	"fleetride/backend/services/trip-service/internal/service"
	"fleetride/backend/services/trip-service/internal/trip"
)

// HTTPConfig is the listener of the service.
type HTTPConfig struct {
	Port         string `yaml:"port" env:"TRIP_HTTP_PORT"`
	CookieSecure bool   `yaml:"cookieSecure" env:"TRIP_COOKIE_SECURE"`
}

// DatabaseConfig points at the trip history database.
type DatabaseConfig struct {
	DSN            string `yaml:"dsn" env:"TRIP_POSTGRES_DSN"`
	MigrateOnStart bool   `yaml:"migrateOnStart" env:"TRIP_MIGRATE_ON_START"`
}

// RedisConfig holds tokens and the active trip cache.
type RedisConfig struct {
	Addr      string        `yaml:"addr" env:"TRIP_REDIS_ADDR"`
	Password  string        `yaml:"password" env:"TRIP_REDIS_PASSWORD"`
	DB        int           `yaml:"db" env:"TRIP_REDIS_DB"`
	ActiveTTL time.Duration `yaml:"activeTtl" env:"TRIP_ACTIVE_TTL"`
}

// JWTConfig verifies customer bearer tokens.
type JWTConfig struct {
	Secret string `yaml:"secret" env:"TRIP_JWT_SECRET"`
}

// FleetConfig is the vendor API and OAuth client.
type FleetConfig struct {
	ClientID       string        `yaml:"clientId" env:"FLEET_CLIENT_ID"`
	ClientSecret   string        `yaml:"clientSecret" env:"FLEET_CLIENT_SECRET"`
	RedirectURI    string        `yaml:"redirectUri" env:"FLEET_REDIRECT_URI"`
	AuthURL        string        `yaml:"authUrl" env:"FLEET_AUTH_URL"`
	APIBaseURL     string        `yaml:"apiBaseUrl" env:"FLEET_API_BASE_URL"`
	Audience       string        `yaml:"audience" env:"FLEET_AUDIENCE"`
	Scopes         []string      `yaml:"scopes" env:"FLEET_SCOPES"`
	PrivateKeyPath string        `yaml:"privateKeyPath" env:"FLEET_PRIVATE_KEY_PATH"`
	PrivateKey     string        `yaml:"privateKey" env:"FLEET_PRIVATE_KEY"`
	HTTPTimeout    time.Duration `yaml:"httpTimeout" env:"FLEET_HTTP_TIMEOUT"`
	RateLimit      float64       `yaml:"rateLimit" env:"FLEET_RATE_LIMIT"`
	RateBurst      int           `yaml:"rateBurst" env:"FLEET_RATE_BURST"`
	TokenLifetime  time.Duration `yaml:"tokenLifetime" env:"FLEET_TOKEN_LIFETIME"`
}

// TripConfig tunes polling, wake-up and pricing.
type TripConfig struct {
	PollInterval  time.Duration `yaml:"pollInterval" env:"TRIP_POLL_INTERVAL"`
	WakeAttempts  int           `yaml:"wakeAttempts" env:"TRIP_WAKE_ATTEMPTS"`
	WakeInterval  time.Duration `yaml:"wakeInterval" env:"TRIP_WAKE_INTERVAL"`
	FareBase      float64       `yaml:"fareBase" env:"TRIP_FARE_BASE"`
	FarePerMile   float64       `yaml:"farePerMile" env:"TRIP_FARE_PER_MILE"`
	FarePerMinute float64       `yaml:"farePerMinute" env:"TRIP_FARE_PER_MINUTE"`
}

// Config defines trip service configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	JWT      JWTConfig      `yaml:"jwt"`
	Fleet    FleetConfig    `yaml:"fleet"`
	Trip     TripConfig     `yaml:"trip"`
}

// Default returns the configuration before file and env overrides.
func Default() *Config {
	fare := trip.DefaultFareParams()
	return &Config{
		HTTP:     HTTPConfig{Port: "8085", CookieSecure: true},
		Database: DatabaseConfig{MigrateOnStart: true},
		Redis:    RedisConfig{Addr: "localhost:6379", ActiveTTL: 12 * time.Hour},
		Fleet: FleetConfig{
			AuthURL:       "https://auth.tesla.com/oauth2/v3",
			APIBaseURL:    "https://fleet-api.prd.eu.vn.cloud.tesla.com",
			Scopes:        append([]string(nil), clients.DefaultScopes...),
			HTTPTimeout:   30 * time.Second,
			RateLimit:     5,
			RateBurst:     10,
			TokenLifetime: clients.DefaultTokenLifetime,
		},
		Trip: TripConfig{
			PollInterval:  5 * time.Second,
			WakeAttempts:  10,
			WakeInterval:  2 * time.Second,
			FareBase:      fare.Base,
			FarePerMile:   fare.PerMile,
			FarePerMinute: fare.PerMinute,
		},
	}
}

// Load reads configuration via shared helper.
func Load() (*Config, error) {
	cfg := Default()
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings. Fleet OAuth settings are checked lazily by the client.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("config: database dsn required")
	}
	if strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("config: redis addr required")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return errors.New("config: jwt secret required")
	}
	if c.Trip.FareBase < 0 || c.Trip.FarePerMile < 0 || c.Trip.FarePerMinute < 0 {
		return errors.New("config: fare parameters must not be negative")
	}
	return nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8085"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// FareParams returns the configured pricing.
func (c *Config) FareParams() trip.FareParams {
	return trip.FareParams{
		Base:      c.Trip.FareBase,
		PerMile:   c.Trip.FarePerMile,
		PerMinute: c.Trip.FarePerMinute,
	}
}

// WakePolicy returns the wake-up budget.
func (c *Config) WakePolicy() service.WakePolicy {
	return service.WakePolicy{Attempts: c.Trip.WakeAttempts, Interval: c.Trip.WakeInterval}
}

// FleetClientConfig maps fleet settings onto the client.
func (c *Config) FleetClientConfig() clients.Config {
	return clients.Config{
		BaseURL:       c.Fleet.APIBaseURL,
		AuthURL:       c.Fleet.AuthURL,
		ClientID:      c.Fleet.ClientID,
		ClientSecret:  c.Fleet.ClientSecret,
		RedirectURI:   c.Fleet.RedirectURI,
		Audience:      c.Fleet.Audience,
		Scopes:        c.Fleet.Scopes,
		RateLimit:     c.Fleet.RateLimit,
		RateBurst:     c.Fleet.RateBurst,
		TokenLifetime: c.Fleet.TokenLifetime,
	}
}

// FleetHTTPTimeout returns the vendor request timeout.
func (c *Config) FleetHTTPTimeout() time.Duration {
	if c.Fleet.HTTPTimeout <= 0 {
		return 30 * time.Second
	}
	return c.Fleet.HTTPTimeout
}
