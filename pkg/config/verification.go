package config

import (
	"time"

	"github.com/tendant/simple-verify/pkg/emailverification"
)

// VerificationConfig controls token issuance and housekeeping
type VerificationConfig struct {
	BaseURL       string        `env:"BASE_URL" env-default:"http://localhost:4000"`
	Persistence   string        `env:"VERIFY_PERSISTENCE" env-default:"postgres"`
	TokenTTL      time.Duration `env:"VERIFY_TOKEN_TTL" env-default:"24h"`
	TokenBytes    int           `env:"VERIFY_TOKEN_BYTES" env-default:"32"`
	SweepSchedule string        `env:"VERIFY_SWEEP_SCHEDULE" env-default:"@every 15m"`
	Retention     time.Duration `env:"VERIFY_RETENTION" env-default:"168h"`
}

// GeneratorOptions returns the options for emailverification.NewGenerator
func (v VerificationConfig) GeneratorOptions() []emailverification.GeneratorOption {
	return []emailverification.GeneratorOption{
		emailverification.WithTokenBytes(v.TokenBytes),
		emailverification.WithTokenTTL(v.TokenTTL),
	}
}

func (v VerificationConfig) validate() ValidationErrors {
	return CollectErrors(
		RequireValidURL("BASE_URL", v.BaseURL),
		RequireOneOf("VERIFY_PERSISTENCE", v.Persistence, []string{"postgres", "memory"}),
		RequirePositiveDuration("VERIFY_TOKEN_TTL", v.TokenTTL),
		RequireGreaterThan("VERIFY_TOKEN_BYTES", v.TokenBytes, emailverification.MinTokenBytes-1),
		RequireNonEmpty("VERIFY_SWEEP_SCHEDULE", v.SweepSchedule),
		RequirePositiveDuration("VERIFY_RETENTION", v.Retention),
	)
}
