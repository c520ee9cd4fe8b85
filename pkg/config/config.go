package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the full configuration of verifyd and verifyctl
type Config struct {
	Environment Environment `env:"APP_ENV" env-default:"development"`

	Database     DatabaseConfig
	Email        EmailConfig
	Verification VerificationConfig
	Delivery     DeliveryConfig
	Queue        QueueConfig
	RateLimit    RateLimitConfig
	JWT          JWTConfig
	Log          LogConfig
}

// Load reads an optional .env file, then the environment, and validates
// the result.
func Load(envFile string) (Config, error) {
	if err := LoadEnvFile(envFile); err != nil {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section and returns ValidationErrors listing all
// problems found.
func (c Config) Validate() error {
	var errs ValidationErrors
	if c.Verification.Persistence == "postgres" || c.Queue.Backend == QueueBackendPostgres {
		errs = append(errs, c.Database.validate()...)
	}
	errs = append(errs, c.Email.validate()...)
	errs = append(errs, c.Verification.validate()...)
	errs = append(errs, c.Delivery.validate()...)
	errs = append(errs, c.Queue.validate()...)
	errs = append(errs, c.RateLimit.validate()...)
	errs = append(errs, c.JWT.validate()...)
	errs = append(errs, c.Log.validate()...)

	if c.Environment.IsProduction() && c.JWT.Secret == "very-secure-jwt-secret" {
		errs = append(errs, ValidationError{Field: "JWT_SECRET", Message: "must be changed in production"})
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Usage describes every environment variable read by Load
func Usage() string {
	var cfg Config
	desc, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return ""
	}
	return desc
}
