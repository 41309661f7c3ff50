package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL        string        `mapstructure:"REDIS_URL"`
	HolidayCacheTTL time.Duration `mapstructure:"HOLIDAY_CACHE_TTL"`
	AuthIssuer      string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL     string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience    string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey  string        `mapstructure:"AUTH_SIGNING_KEY"`
	DefaultHospital string        `mapstructure:"DEFAULT_HOSPITAL_ID"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	MigrationsDir   string        `mapstructure:"MIGRATIONS_DIR"`

	// Booking rules.
	HospitalTimezone      string        `mapstructure:"HOSPITAL_TIMEZONE"`
	MaxAdvanceBookingDays int           `mapstructure:"MAX_ADVANCE_BOOKING_DAYS"`
	BookingBufferMinutes  int           `mapstructure:"BOOKING_BUFFER_MINUTES"`
	SlotGenerationDays    int           `mapstructure:"SLOT_GENERATION_DAYS"`
	BookingTxTimeout      time.Duration `mapstructure:"BOOKING_TX_TIMEOUT"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "HOLIDAY_CACHE_TTL",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"DEFAULT_HOSPITAL_ID", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"REQUEST_TIMEOUT", "MIGRATIONS_DIR",
	"HOSPITAL_TIMEZONE", "MAX_ADVANCE_BOOKING_DAYS", "BOOKING_BUFFER_MINUTES",
	"SLOT_GENERATION_DAYS", "BOOKING_TX_TIMEOUT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("HOLIDAY_CACHE_TTL", time.Hour)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", 30*time.Second)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("HOSPITAL_TIMEZONE", "Asia/Kolkata")
	v.SetDefault("MAX_ADVANCE_BOOKING_DAYS", 30)
	v.SetDefault("BOOKING_BUFFER_MINUTES", 15)
	v.SetDefault("SLOT_GENERATION_DAYS", 30)
	v.SetDefault("BOOKING_TX_TIMEOUT", 5*time.Second)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.HospitalTimezone); err != nil {
		return fmt.Errorf("HOSPITAL_TIMEZONE %q is not a valid IANA zone: %w", c.HospitalTimezone, err)
	}
	if c.MaxAdvanceBookingDays <= 0 {
		return fmt.Errorf("MAX_ADVANCE_BOOKING_DAYS must be positive, got %d", c.MaxAdvanceBookingDays)
	}
	if c.BookingBufferMinutes < 0 {
		return fmt.Errorf("BOOKING_BUFFER_MINUTES must not be negative, got %d", c.BookingBufferMinutes)
	}
	if c.SlotGenerationDays <= 0 {
		return fmt.Errorf("SLOT_GENERATION_DAYS must be positive, got %d", c.SlotGenerationDays)
	}
	if c.BookingTxTimeout <= 0 {
		return fmt.Errorf("BOOKING_TX_TIMEOUT must be positive, got %s", c.BookingTxTimeout)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}

	if !c.IsDev() {
		if c.AuthIssuer == "" {
			return fmt.Errorf("AUTH_ISSUER must be set outside development (current ENV=%q)", c.Env)
		}
		if c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
			return fmt.Errorf("AUTH_SIGNING_KEY or AUTH_JWKS_URL must be set outside development")
		}
	}
	return nil
}
