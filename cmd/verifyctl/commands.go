package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-verify/pkg/delivery"
)

const commandTimeout = 30 * time.Second

// deadLettersCmd lists dead-lettered attempts, newest first
type deadLettersCmd struct {
	Limit int `long:"limit" default:"50" description:"Maximum number of attempts to list"`
}

// Execute satisfies the go-flags Commander interface.
func (c *deadLettersCmd) Execute(args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	b, err := connect(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	attempts, err := b.queue.DeadLetters(ctx, c.Limit)
	if err != nil {
		return err
	}
	printAttempts(attempts)
	return nil
}

// replayCmd moves a dead-lettered attempt back to pending with a fresh budget
type replayCmd struct {
	Args struct {
		ID string `positional-arg-name:"id"`
	} `positional-args:"true" required:"true"`
}

// Execute satisfies the go-flags Commander interface.
func (c *replayCmd) Execute(args []string) error {
	id, err := uuid.Parse(c.Args.ID)
	if err != nil {
		return fmt.Errorf("invalid attempt id %q: %w", c.Args.ID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	b, err := connect(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	a, err := b.queue.Replay(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("Replayed %s for account %s, next attempt at %s\n", a.ID, a.AccountID, a.NextAttemptAt.Format(time.RFC3339))
	return nil
}

// sweepCmd runs the expiry sweep once
type sweepCmd struct{}

// Execute satisfies the go-flags Commander interface.
func (c *sweepCmd) Execute(args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	b, err := connect(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	res, err := b.service().Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Expired %d tokens, purged %d\n", res.Expired, res.Purged)
	return nil
}

func printAttempts(attempts []*delivery.DeliveryAttempt) {
	if len(attempts) == 0 {
		fmt.Println("No dead-lettered attempts")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tACCOUNT\tATTEMPTS\tUPDATED\tLAST ERROR")
	for _, a := range attempts {
		lastErr := ""
		if a.LastError != nil {
			lastErr = *a.LastError
		}
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\n",
			a.ID, a.AccountID, a.Attempts, a.MaxAttempts, a.UpdatedAt.Format(time.RFC3339), lastErr)
	}
	w.Flush()
}
