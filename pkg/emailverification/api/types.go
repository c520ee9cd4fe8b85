package api

import (
	"time"

	"github.com/google/uuid"
)

// RegisterRequest represents the request to create an account
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// AccountResponse represents a created account. It never carries the token.
type AccountResponse struct {
	ID     uuid.UUID `json:"id"`
	Email  string    `json:"email"`
	Status string    `json:"status"`
}

// VerifyEmailResponse represents the response after email verification
type VerifyEmailResponse struct {
	Status     string     `json:"status"`
	Message    string     `json:"message"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

// ResendVerificationRequest represents the unauthenticated resend request
type ResendVerificationRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResendVerificationResponse represents the response after resending verification
type ResendVerificationResponse struct {
	Message string `json:"message"`
}

// VerificationStatusResponse represents the verification status
type VerificationStatusResponse struct {
	State      string     `json:"state"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
