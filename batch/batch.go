// Package batch runs the scrape-compile-send digest pipeline.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"seminar-hub/digest"
	"seminar-hub/pkg/seminar"
)

// Scraper interface for fetching the event source.
type Scraper interface {
	FetchEvents(ctx context.Context) ([]seminar.RawEvent, error)
}

// Store interface for catalogue and subscriber persistence.
type Store interface {
	UpsertEvents(ctx context.Context, raws []seminar.RawEvent) (stored, skipped int, err error)
	ActiveSubscribers(ctx context.Context) ([]seminar.Subscriber, error)
	SubscriberByEmail(ctx context.Context, email string) (*seminar.Subscriber, error)
	RecordSent(ctx context.Context, subscriberID int64, hashes []string) error
}

// Compiler interface for assembling a subscriber's digest.
type Compiler interface {
	Compile(ctx context.Context, subscriberID int64, windowStart, windowEnd time.Time) ([]seminar.Event, error)
}

// Emailer interface for digest delivery.
type Emailer interface {
	SendDigest(ctx context.Context, sub *seminar.Subscriber, events []seminar.Event, weekStart time.Time, unsubToken string) error
}

// Tokens interface for per-subscriber unsubscribe tokens.
type Tokens interface {
	UnsubscribeToken(email string) string
}

// Runner drives the weekly digest pipeline.
type Runner struct {
	scraper  Scraper
	store    Store
	compiler Compiler
	emailer  Emailer
	tokens   Tokens
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
}

// New creates a batch runner.
func New(scraper Scraper, store Store, compiler Compiler, emailer Emailer, tokens Tokens, timeout time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		scraper:  scraper,
		store:    store,
		compiler: compiler,
		emailer:  emailer,
		tokens:   tokens,
		logger:   logger,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Run executes one full digest run: refresh the catalogue, then deliver
// this week's digest to every active subscriber. A scrape failure is
// reported as the run error but never blocks delivery from the catalogue
// already on hand.
func (r *Runner) Run(ctx context.Context) error {
	runID := uuid.NewString()
	logger := r.logger.With("run_id", runID)

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := r.now()
	logger.Info("Digest run starting", "timestamp", start.Format(time.RFC3339))

	var scrapeErr error
	if _, _, err := r.scrape(ctx, logger); err != nil {
		scrapeErr = err
		logger.Warn("Scrape failed, delivering from the existing catalogue", "error", err)
	}

	subs, err := r.store.ActiveSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("list active subscribers: %w", err)
	}

	windowStart, windowEnd := digest.WeekWindow(start)
	logger.Info("Delivering digests",
		"subscribers", len(subs),
		"week_start", windowStart.Format("2006-01-02"),
		"week_end", windowEnd.Format("2006-01-02"))

	var sent, empty, failed int
	for i := range subs {
		select {
		case <-ctx.Done():
			logger.Info("Context cancelled, stopping digest run", "error", ctx.Err())
			return ctx.Err()
		default:
		}

		delivered, err := r.deliver(ctx, &subs[i], windowStart, windowEnd, logger)
		switch {
		case err != nil:
			logger.Warn("Digest delivery failed", "email", subs[i].Email, "error", err)
			failed++
		case delivered:
			sent++
		default:
			empty++
		}
	}

	logger.Info("Digest run completed",
		"subscribers", len(subs),
		"sent", sent,
		"empty", empty,
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds())

	if scrapeErr != nil {
		return fmt.Errorf("scrape: %w", scrapeErr)
	}
	return nil
}

// SendImmediate compiles and sends the current week's digest for one
// just-activated subscriber. Reports whether anything went out; an empty
// week sends nothing.
func (r *Runner) SendImmediate(ctx context.Context, email string) (bool, error) {
	sub, err := r.store.SubscriberByEmail(ctx, email)
	if err != nil {
		return false, fmt.Errorf("load subscriber: %w", err)
	}

	windowStart, windowEnd := digest.WeekWindow(r.now())
	return r.deliver(ctx, sub, windowStart, windowEnd, r.logger)
}

// Scrape refreshes the event catalogue without sending any mail.
func (r *Runner) Scrape(ctx context.Context) (stored, skipped int, err error) {
	return r.scrape(ctx, r.logger)
}

func (r *Runner) scrape(ctx context.Context, logger *slog.Logger) (stored, skipped int, err error) {
	raws, err := r.scraper.FetchEvents(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch events: %w", err)
	}

	stored, skipped, err = r.store.UpsertEvents(ctx, raws)
	if err != nil {
		return stored, skipped, fmt.Errorf("upsert events: %w", err)
	}

	logger.Info("Catalogue updated", "fetched", len(raws), "stored", stored, "skipped", skipped)
	return stored, skipped, nil
}

// deliver compiles one subscriber's digest and sends it. Ledger rows are
// written only after the provider accepts the message, so a failed send
// leaves the events eligible for the next run.
func (r *Runner) deliver(ctx context.Context, sub *seminar.Subscriber, windowStart, windowEnd time.Time, logger *slog.Logger) (bool, error) {
	events, err := r.compiler.Compile(ctx, sub.ID, windowStart, windowEnd)
	if err != nil {
		return false, fmt.Errorf("compile digest: %w", err)
	}
	if len(events) == 0 {
		logger.Debug("Nothing new this week", "email", sub.Email)
		return false, nil
	}

	unsubToken := r.tokens.UnsubscribeToken(sub.Email)
	if err := r.emailer.SendDigest(ctx, sub, events, windowStart, unsubToken); err != nil {
		return false, fmt.Errorf("send digest: %w", err)
	}

	hashes := make([]string, len(events))
	for i, ev := range events {
		hashes[i] = ev.Hash
	}
	if err := r.store.RecordSent(ctx, sub.ID, hashes); err != nil {
		// The mail went out; without ledger rows the next run repeats it.
		return true, fmt.Errorf("record sent events: %w", err)
	}

	logger.Info("Digest delivered", "email", sub.Email, "events", len(events))
	return true, nil
}
