package emailverification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron"
)

// DefaultSweepSchedule runs the expiry sweep every 15 minutes
const DefaultSweepSchedule = "@every 15m"

// Sweeper runs Service.Sweep on a cron schedule
type Sweeper struct {
	service *Service
	cron    *cron.Cron
	timeout time.Duration
}

// NewSweeper creates a sweeper for the given cron schedule
func NewSweeper(service *Service, schedule string) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	s := &Sweeper{
		service: service,
		cron:    cron.New(),
		timeout: time.Minute,
	}
	if err := s.cron.AddFunc(schedule, s.runOnce); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs the schedule until ctx is cancelled
func (s *Sweeper) Start(ctx context.Context) {
	s.cron.Start()
	slog.Info("Verification sweeper started")
	go func() {
		<-ctx.Done()
		s.cron.Stop()
		slog.Info("Verification sweeper stopped")
	}()
}

func (s *Sweeper) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.service.Sweep(ctx); err != nil {
		slog.Error("Verification sweep failed", "error", err)
	}
}
