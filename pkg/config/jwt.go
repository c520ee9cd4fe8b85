package config

import (
	"github.com/go-chi/jwtauth/v5"
)

// JWTConfig holds the settings used to verify bearer tokens on the
// authenticated resend and status routes. Tokens are minted elsewhere.
type JWTConfig struct {
	Secret    string `env:"JWT_SECRET" env-default:"very-secure-jwt-secret"`
	Algorithm string `env:"JWT_ALGORITHM" env-default:"HS256"`
}

// TokenAuth builds the jwtauth verifier for the configured secret
func (j JWTConfig) TokenAuth() *jwtauth.JWTAuth {
	return jwtauth.New(j.Algorithm, []byte(j.Secret), nil)
}

func (j JWTConfig) validate() ValidationErrors {
	return CollectErrors(
		RequireMinLength("JWT_SECRET", j.Secret, 16),
		RequireOneOf("JWT_ALGORITHM", j.Algorithm, []string{"HS256", "HS384", "HS512"}),
	)
}
