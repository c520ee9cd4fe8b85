package account

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// CredentialHasher turns a plaintext password into the opaque credential
// stored with the account.
type CredentialHasher interface {
	Hash(password string) ([]byte, error)
}

// BcryptHasher implements CredentialHasher with bcrypt
type BcryptHasher struct {
	Cost int
}

// Hash implements CredentialHasher.Hash
func (h BcryptHasher) Hash(password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("password cannot be empty")
	}

	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return bcrypt.GenerateFromPassword([]byte(password), cost)
}
