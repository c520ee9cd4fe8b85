package emailverification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-verify/pkg/account"
)

// State is the verification state of an account as seen by the user
type State string

const (
	StateUnverified      State = "unverified"
	StatePendingDelivery State = "pending_delivery"
	StateExpired         State = "expired"
	StateVerified        State = "verified"
)

// Event drives a transition between states
type Event string

const (
	EventAccountCreated  Event = "account_created"
	EventTokenValid      Event = "token_valid"
	EventTokenExpired    Event = "token_expired"
	EventTokenReplayed   Event = "token_replayed"
	EventResendRequested Event = "resend_requested"
)

type transitionKey struct {
	from  State
	event Event
}

var transitions = map[transitionKey]State{
	{StateUnverified, EventAccountCreated}:       StatePendingDelivery,
	{StatePendingDelivery, EventTokenValid}:      StateVerified,
	{StatePendingDelivery, EventTokenExpired}:    StateExpired,
	{StatePendingDelivery, EventTokenReplayed}:   StatePendingDelivery,
	{StatePendingDelivery, EventResendRequested}: StatePendingDelivery,
	{StateExpired, EventTokenExpired}:            StateExpired,
	{StateExpired, EventTokenReplayed}:           StateExpired,
	{StateExpired, EventResendRequested}:         StatePendingDelivery,
	{StateUnverified, EventResendRequested}:      StatePendingDelivery,
	{StateVerified, EventTokenReplayed}:          StateVerified,
	{StateVerified, EventTokenValid}:             StateVerified,
}

// Next returns the state reached from s on event e, or ErrInvalidTransition
func Next(s State, e Event) (State, error) {
	next, ok := transitions[transitionKey{s, e}]
	if !ok {
		return s, ErrInvalidTransition
	}
	return next, nil
}

// Terminal reports whether no event can leave s
func (s State) Terminal() bool {
	return s == StateVerified
}

// VerificationStatus is the derived verification state of an account
type VerificationStatus struct {
	AccountID  uuid.UUID  `json:"account_id"`
	State      State      `json:"state"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

// deriveState computes the state from the account and its active token.
// An unverified account without an active token is Expired: its last token
// lapsed or was never issued, and a resend is required.
func deriveState(ctx context.Context, store Store, acct *account.Account, now time.Time) (*VerificationStatus, error) {
	status := &VerificationStatus{AccountID: acct.ID}
	if acct.IsVerified() {
		status.State = StateVerified
		status.VerifiedAt = acct.VerifiedAt
		return status, nil
	}

	active, err := store.ActiveForAccount(ctx, acct.ID, now)
	switch {
	case err == nil:
		status.State = StatePendingDelivery
		expiresAt := active.ExpiresAt
		status.ExpiresAt = &expiresAt
	case errors.Is(err, ErrTokenNotFound):
		status.State = StateExpired
	default:
		return nil, err
	}
	return status, nil
}
