package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	flags "github.com/jessevdk/go-flags"
	dbutils "github.com/tendant/db-utils/db"
	"github.com/tendant/simple-verify/pkg/account"
	"github.com/tendant/simple-verify/pkg/config"
	"github.com/tendant/simple-verify/pkg/delivery"
	"github.com/tendant/simple-verify/pkg/emailverification"
)

// verifyctl is the operator tool for the delivery queue and token store.
// It talks to the same backends as verifyd, so the memory backends are
// not supported.
type verifyctl struct {
	EnvFile string `long:"env-file" description:"Path to a .env file"`

	DeadLetters deadLettersCmd `command:"dead-letters" description:"List dead-lettered delivery attempts"`
	Replay      replayCmd      `command:"replay" description:"Requeue a dead-lettered delivery attempt"`
	Sweep       sweepCmd       `command:"sweep" description:"Expire stale tokens and purge old ones now"`
}

var cli verifyctl

// backends holds the connections shared by every command
type backends struct {
	cfg        config.Config
	pool       *pgxpool.Pool
	queue      delivery.Queue
	closeQueue func()
}

func (b *backends) Close() {
	if b.closeQueue != nil {
		b.closeQueue()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}

func connect(ctx context.Context) (*backends, error) {
	cfg, err := config.Load(cli.EnvFile)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(cfg.Log.NewLogger(os.Stderr))

	if cfg.Verification.Persistence == "memory" || cfg.Queue.Backend == config.QueueBackendMemory {
		return nil, errors.New("verifyctl needs the postgres or rabbitmq backends, memory state lives inside verifyd")
	}

	b := &backends{cfg: cfg}
	b.pool, err = dbutils.NewDbPool(ctx, cfg.Database.ToDbConfig())
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	b.queue, b.closeQueue, err = delivery.NewQueue(cfg.Queue.Backend, delivery.QueueConfig{
		Pool:    b.pool,
		AMQPURL: cfg.Queue.AMQPURL,
		Name:    cfg.Queue.Name,
		Lease:   cfg.Delivery.Lease,
	})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("open queue: %w", err)
	}
	return b, nil
}

func (b *backends) service() *emailverification.Service {
	accounts := account.NewPostgresRepository(b.pool)
	store := emailverification.NewPostgresStore(b.pool)
	generator := emailverification.NewGenerator(store, accounts, b.cfg.Verification.GeneratorOptions()...)
	dispatcher := delivery.NewDispatcher(b.queue, b.cfg.Delivery.MaxAttempts)
	return emailverification.NewService(accounts, store, generator, dispatcher,
		emailverification.WithRetention(b.cfg.Verification.Retention),
	)
}

func main() {
	parser := flags.NewParser(&cli, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
