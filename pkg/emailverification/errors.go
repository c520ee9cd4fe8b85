package emailverification

import (
	"errors"

	"github.com/tendant/simple-verify/pkg/account"
)

var (
	// ErrAccountNotFound is returned when the account does not exist
	ErrAccountNotFound = account.ErrAccountNotFound

	// ErrAccountAlreadyVerified is returned when issuing a token for a verified account
	ErrAccountAlreadyVerified = errors.New("account already verified")

	// ErrDuplicateToken is returned when a generated token value collides with a stored one
	ErrDuplicateToken = errors.New("duplicate verification token")

	// ErrTokenNotFound is returned when a verification token is not found
	ErrTokenNotFound = errors.New("verification token not found")

	// ErrTokenExpired is returned when a verification token has expired
	ErrTokenExpired = errors.New("verification token has expired")

	// ErrTokenAlreadyConsumed is returned when a verification token was already used or superseded
	ErrTokenAlreadyConsumed = errors.New("verification token has already been used")

	// ErrInvalidTransition is returned when an event is not allowed in the current state
	ErrInvalidTransition = errors.New("invalid verification state transition")
)
