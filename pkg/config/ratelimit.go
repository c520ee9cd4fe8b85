package config

import "time"

// RateLimitConfig contains resend rate limiting settings. Each limit allows
// Capacity requests per Window. With RedisAddr set the limits are shared
// fixed windows in Redis, otherwise per-process token buckets.
type RateLimitConfig struct {
	Enabled   bool   `env:"RATELIMIT_ENABLED" env-default:"true"`
	RedisAddr string `env:"RATELIMIT_REDIS_ADDR"`
	RedisDB   int    `env:"RATELIMIT_REDIS_DB" env-default:"0"`
	Prefix    string `env:"RATELIMIT_PREFIX" env-default:"verify:ratelimit"`

	PerEmailCapacity int           `env:"RATELIMIT_PER_EMAIL_CAPACITY" env-default:"3"`
	PerEmailWindow   time.Duration `env:"RATELIMIT_PER_EMAIL_WINDOW" env-default:"15m"`

	PerIPCapacity int           `env:"RATELIMIT_PER_IP_CAPACITY" env-default:"20"`
	PerIPWindow   time.Duration `env:"RATELIMIT_PER_IP_WINDOW" env-default:"1m"`

	// IdleTTL is how long an idle in-memory bucket is kept
	IdleTTL time.Duration `env:"RATELIMIT_IDLE_TTL" env-default:"1h"`
}

// UseRedis reports whether limits are shared through Redis
func (r RateLimitConfig) UseRedis() bool {
	return r.RedisAddr != ""
}

// PerEmailRefillRate is the token bucket refill rate in tokens per second
func (r RateLimitConfig) PerEmailRefillRate() float64 {
	return refillRate(r.PerEmailCapacity, r.PerEmailWindow)
}

// PerIPRefillRate is the token bucket refill rate in tokens per second
func (r RateLimitConfig) PerIPRefillRate() float64 {
	return refillRate(r.PerIPCapacity, r.PerIPWindow)
}

func refillRate(capacity int, window time.Duration) float64 {
	if window <= 0 {
		return 0
	}
	return float64(capacity) / window.Seconds()
}

func (r RateLimitConfig) validate() ValidationErrors {
	if !r.Enabled {
		return nil
	}
	return CollectErrors(
		RequirePositive("RATELIMIT_PER_EMAIL_CAPACITY", r.PerEmailCapacity),
		RequirePositiveDuration("RATELIMIT_PER_EMAIL_WINDOW", r.PerEmailWindow),
		RequirePositive("RATELIMIT_PER_IP_CAPACITY", r.PerIPCapacity),
		RequirePositiveDuration("RATELIMIT_PER_IP_WINDOW", r.PerIPWindow),
		RequireNonNegative("RATELIMIT_REDIS_DB", r.RedisDB),
		WhenSet(r.RedisAddr, func() *ValidationError { return RequireNonEmpty("RATELIMIT_PREFIX", r.Prefix) }),
	)
}
