package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/tendant/simple-verify/pkg/account"
	"github.com/tendant/simple-verify/pkg/emailverification"
	"github.com/tendant/simple-verify/pkg/notification"
	"golang.org/x/sync/errgroup"
)

// DefaultPollInterval is how long an idle worker waits before polling again
const DefaultPollInterval = time.Second

// TokenLookup finds tokens by value
type TokenLookup interface {
	Lookup(ctx context.Context, value string) (*emailverification.VerificationToken, error)
}

// NoticeSender renders and sends a notice
type NoticeSender interface {
	Send(ctx context.Context, noticeType notification.NoticeType, to string, data map[string]string) error
}

// Worker drains the queue and sends verification emails
type Worker struct {
	queue        Queue
	accounts     account.Store
	tokens       TokenLookup
	notices      NoticeSender
	baseURL      string
	tokenTTL     time.Duration
	backoff      Backoff
	concurrency  int
	pollInterval time.Duration
	metrics      *Metrics
	now          func() time.Time
}

// WorkerOption configures a Worker
type WorkerOption func(*Worker)

// WithBackoff sets the retry schedule
func WithBackoff(b Backoff) WorkerOption {
	return func(w *Worker) {
		w.backoff = b
	}
}

// WithConcurrency sets the number of worker goroutines
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithPollInterval sets the idle wait between polls
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithMetrics sets the outcome collectors
func WithMetrics(m *Metrics) WorkerOption {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithTokenTTL sets the validity shown in the email
func WithTokenTTL(ttl time.Duration) WorkerOption {
	return func(w *Worker) {
		w.tokenTTL = ttl
	}
}

// WithWorkerClock overrides the time source
func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		w.now = now
	}
}

// NewWorker creates a delivery worker. Links point at baseURL/verify/{token}.
func NewWorker(queue Queue, accounts account.Store, tokens TokenLookup, notices NoticeSender, baseURL string, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:        queue,
		accounts:     accounts,
		tokens:       tokens,
		notices:      notices,
		baseURL:      strings.TrimRight(baseURL, "/"),
		tokenTTL:     emailverification.DefaultTokenTTL,
		backoff:      DefaultBackoff(),
		concurrency:  1,
		pollInterval: DefaultPollInterval,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.metrics == nil {
		w.metrics = NewMetrics(nil)
	}
	return w
}

// Run processes the queue with the configured concurrency until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("Delivery workers started", "concurrency", w.concurrency)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			w.loop(ctx)
			return nil
		})
	}
	err := g.Wait()
	slog.Info("Delivery workers stopped")
	return err
}

func (w *Worker) loop(ctx context.Context) {
	for {
		processed, err := w.ProcessOne(ctx)
		if err != nil && ctx.Err() == nil {
			slog.Error("Delivery worker error", "error", err)
		}
		if processed && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.pollInterval):
		}
	}
}

// ProcessOne handles the next ready attempt. It reports false when the queue was empty.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	attempt, err := w.queue.Dequeue(ctx)
	if errors.Is(err, ErrQueueEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, w.handle(ctx, attempt)
}

func (w *Worker) handle(ctx context.Context, a *DeliveryAttempt) error {
	acct, err := w.accounts.GetByID(ctx, a.AccountID)
	switch {
	case errors.Is(err, account.ErrAccountNotFound):
		return w.cancel(ctx, a, "account not found")
	case err != nil:
		return w.fail(ctx, a, fmt.Errorf("failed to load account: %w", err))
	case acct.IsVerified():
		return w.cancel(ctx, a, "account already verified")
	}

	token, err := w.tokens.Lookup(ctx, a.TokenValue)
	switch {
	case errors.Is(err, emailverification.ErrTokenNotFound):
		return w.cancel(ctx, a, "token not found")
	case err != nil:
		return w.fail(ctx, a, fmt.Errorf("failed to load token: %w", err))
	case !token.IsActive(w.now()):
		return w.cancel(ctx, a, "token no longer active")
	}

	err = w.notices.Send(ctx, notification.EmailVerification, acct.Email, map[string]string{
		"VerificationLink": w.link(a.TokenValue),
		"ExpiryHours":      fmt.Sprintf("%.0f", w.tokenTTL.Hours()),
	})
	if err != nil {
		return w.fail(ctx, a, err)
	}

	if err := w.queue.Ack(ctx, a); err != nil {
		if w.leaseLost(a, err) {
			return nil
		}
		return fmt.Errorf("failed to ack delivery %s: %w", a.ID, err)
	}
	w.metrics.observe(outcomeSent, a.Attempts)
	slog.Info("Verification email sent", "delivery_id", a.ID, "account_id", a.AccountID, "attempts", a.Attempts)
	return nil
}

// fail retries a transient failure or dead-letters when no attempts remain
func (w *Worker) fail(ctx context.Context, a *DeliveryAttempt, cause error) error {
	if notification.IsPermanent(cause) || a.Exhausted() {
		if err := w.queue.DeadLetter(ctx, a, cause); err != nil {
			if w.leaseLost(a, err) {
				return nil
			}
			return fmt.Errorf("failed to dead-letter delivery %s: %w", a.ID, err)
		}
		w.metrics.observe(outcomeDeadLettered, a.Attempts)
		slog.Error("Verification email dead-lettered", "delivery_id", a.ID, "account_id", a.AccountID, "attempts", a.Attempts, "error", cause)
		return nil
	}

	nextAt := w.now().Add(w.backoff.Delay(a.Attempts))
	if err := w.queue.Retry(ctx, a, nextAt, cause); err != nil {
		if w.leaseLost(a, err) {
			return nil
		}
		return fmt.Errorf("failed to reschedule delivery %s: %w", a.ID, err)
	}
	w.metrics.observe(outcomeRetried, a.Attempts)
	slog.Warn("Verification email failed, retrying", "delivery_id", a.ID, "attempts", a.Attempts, "next_attempt_at", nextAt, "error", cause)
	return nil
}

func (w *Worker) cancel(ctx context.Context, a *DeliveryAttempt, reason string) error {
	if err := w.queue.Cancel(ctx, a, reason); err != nil {
		if w.leaseLost(a, err) {
			return nil
		}
		return fmt.Errorf("failed to cancel delivery %s: %w", a.ID, err)
	}
	w.metrics.observe(outcomeCancelled, a.Attempts)
	slog.Info("Verification email skipped", "delivery_id", a.ID, "account_id", a.AccountID, "reason", reason)
	return nil
}

// leaseLost drops a settle whose lease expired and passed to another worker
func (w *Worker) leaseLost(a *DeliveryAttempt, err error) bool {
	if !errors.Is(err, ErrLeaseLost) {
		return false
	}
	w.metrics.observe(outcomeLeaseLost, a.Attempts)
	slog.Warn("Delivery lease lost before settling", "delivery_id", a.ID, "account_id", a.AccountID, "attempts", a.Attempts)
	return true
}

func (w *Worker) link(token string) string {
	return w.baseURL + "/verify/" + url.PathEscape(token)
}
