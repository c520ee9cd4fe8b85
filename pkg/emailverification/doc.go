// Package emailverification manages the lifecycle of account verification
// tokens: issuing, single-use consumption, expiry and re-send.
//
// # Overview
//
// The package provides:
//   - Generator, which issues random single-use tokens and supersedes older ones
//   - Store, with PostgreSQL and in-memory implementations
//   - Service, which drives the verification state machine
//   - Sweeper, which expires lapsed tokens and purges old ones on a schedule
//
// Delivery is not performed here. The Service hands issued tokens to a
// Dispatcher, which is expected to queue them for a worker.
//
// # Basic Usage
//
//	store := emailverification.NewPostgresStore(pool)
//	generator := emailverification.NewGenerator(store, accounts,
//		emailverification.WithTokenTTL(24*time.Hour),
//	)
//	service := emailverification.NewService(accounts, store, generator, dispatcher)
//
//	acct, err := service.Register(ctx, "user@example.com", "secret")
//
//	// Later, when the user follows the link
//	acct, err = service.Verify(ctx, token)
//
// # States
//
// An account is Unverified until a token is consumed, and Verified after.
// While unverified it is PendingDelivery when an active token exists and
// Expired otherwise. Only a re-send leaves Expired.
//
//	Unverified      --account created-->  PendingDelivery
//	PendingDelivery --valid token------>  Verified
//	PendingDelivery --expired token---->  Expired
//	Expired         --re-send---------->  PendingDelivery
//
// # Errors
//
// Verify returns ErrTokenNotFound, ErrTokenExpired or ErrTokenAlreadyConsumed.
// Replaying any token of a verified account yields ErrTokenAlreadyConsumed and
// leaves the account unchanged.
package emailverification
