package config

import (
	"time"

	"github.com/tendant/simple-verify/pkg/delivery"
)

// DeliveryConfig controls the delivery worker pool and its retry schedule
type DeliveryConfig struct {
	Workers        int           `env:"DELIVERY_WORKERS" env-default:"4"`
	MaxAttempts    int           `env:"DELIVERY_MAX_ATTEMPTS" env-default:"5"`
	BackoffInitial time.Duration `env:"DELIVERY_BACKOFF_INITIAL" env-default:"2s"`
	BackoffMax     time.Duration `env:"DELIVERY_BACKOFF_MAX" env-default:"10m"`
	BackoffJitter  float64       `env:"DELIVERY_BACKOFF_JITTER" env-default:"0.2"`
	PollInterval   time.Duration `env:"DELIVERY_POLL_INTERVAL" env-default:"1s"`
	Lease          time.Duration `env:"DELIVERY_LEASE" env-default:"2m"`
}

// Backoff returns the retry schedule described by the config
func (d DeliveryConfig) Backoff() delivery.Backoff {
	b := delivery.DefaultBackoff()
	b.Initial = d.BackoffInitial
	b.Max = d.BackoffMax
	b.Jitter = d.BackoffJitter
	return b
}

// WorkerOptions returns the options for delivery.NewWorker
func (d DeliveryConfig) WorkerOptions() []delivery.WorkerOption {
	return []delivery.WorkerOption{
		delivery.WithBackoff(d.Backoff()),
		delivery.WithConcurrency(d.Workers),
		delivery.WithPollInterval(d.PollInterval),
	}
}

func (d DeliveryConfig) validate() ValidationErrors {
	errs := CollectErrors(
		RequirePositive("DELIVERY_WORKERS", d.Workers),
		RequirePositive("DELIVERY_MAX_ATTEMPTS", d.MaxAttempts),
		RequirePositiveDuration("DELIVERY_BACKOFF_INITIAL", d.BackoffInitial),
		RequirePositiveDuration("DELIVERY_BACKOFF_MAX", d.BackoffMax),
		RequirePositiveDuration("DELIVERY_POLL_INTERVAL", d.PollInterval),
		RequirePositiveDuration("DELIVERY_LEASE", d.Lease),
	)
	if d.BackoffMax < d.BackoffInitial {
		errs = append(errs, ValidationError{Field: "DELIVERY_BACKOFF_MAX", Message: "must not be less than DELIVERY_BACKOFF_INITIAL"})
	}
	if d.BackoffJitter < 0 || d.BackoffJitter >= 1 {
		errs = append(errs, ValidationError{Field: "DELIVERY_BACKOFF_JITTER", Message: "must be in [0, 1)"})
	}
	return errs
}
