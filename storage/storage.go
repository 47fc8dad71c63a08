// Package storage persists the event catalogue, subscriber roster and sent
// log in Postgres.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry-go"
	"github.com/lib/pq"

	"seminar-hub/pkg/seminar"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps the Postgres connection pool.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a storage handler on an open connection pool.
func New(db *sql.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, errors.Join(fmt.Errorf("ping database: %w", err), closeErr)
		}
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// InitSchema applies the embedded DDL. Every statement is idempotent, so
// running it on every startup is safe.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// withRetry runs one store operation with bounded backoff. Errors marked
// retry.Unrecoverable (lookup misses, malformed input) are returned as-is
// without further attempts.
func (s *Store) withRetry(ctx context.Context, op string, fn func() error) error {
	return retry.Do(
		fn,
		retry.Attempts(3),
		retry.Delay(250*time.Millisecond),
		retry.MaxDelay(2*time.Second),
		retry.MaxJitter(250*time.Millisecond),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying store operation after error", "op", op, "attempt", n, "error", retryErr)
		}),
	)
}

// UpsertEvent writes one canonicalized event. First sight inserts the row
// and fixes first_seen_at; later sights update every non-identity column and
// leave first_seen_at untouched.
func (s *Store) UpsertEvent(ctx context.Context, ev seminar.Event) error {
	const q = `
		INSERT INTO events (
			event_hash, title, speaker, institution, date, start_time,
			end_time, location, description, categories, organizer, url
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (event_hash) DO UPDATE SET
			title       = EXCLUDED.title,
			speaker     = EXCLUDED.speaker,
			institution = EXCLUDED.institution,
			date        = EXCLUDED.date,
			start_time  = EXCLUDED.start_time,
			end_time    = EXCLUDED.end_time,
			location    = EXCLUDED.location,
			description = EXCLUDED.description,
			categories  = EXCLUDED.categories,
			organizer   = EXCLUDED.organizer,
			url         = EXCLUDED.url`

	err := s.withRetry(ctx, "upsert event", func() error {
		_, execErr := s.db.ExecContext(ctx, q,
			ev.Hash, ev.Title, ev.Speaker, ev.Institution,
			ev.Date.Format("2006-01-02"), clockParam(ev.StartTime), clockParam(ev.EndTime),
			ev.Location, ev.Description, pq.Array(ev.Categories), ev.Organizer, ev.URL)
		if execErr != nil {
			return fmt.Errorf("upsert event %s: %w", ev.Hash, execErr)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert after retries: %w", err)
	}
	return nil
}

// UpsertEvents canonicalizes and writes a whole scrape batch. Malformed
// records are logged and skipped; any store failure aborts the batch.
func (s *Store) UpsertEvents(ctx context.Context, raws []seminar.RawEvent) (stored, skipped int, err error) {
	for _, raw := range raws {
		ev, canonErr := seminar.Canonicalize(raw)
		if canonErr != nil {
			s.logger.Warn("Skipping malformed event record", "url", raw.URL, "error", canonErr)
			skipped++
			continue
		}
		if upsertErr := s.UpsertEvent(ctx, ev); upsertErr != nil {
			return stored, skipped, upsertErr
		}
		stored++
	}
	return stored, skipped, nil
}

// EventsBetween returns catalogue events dated within [from, to] inclusive,
// ordered by date, start time (unknown first), then title.
func (s *Store) EventsBetween(ctx context.Context, from, to time.Time) ([]seminar.Event, error) {
	const q = selectEvents + `
		WHERE date >= $1 AND date <= $2
		ORDER BY date, start_time NULLS FIRST, title`
	return s.queryEvents(ctx, "events between", q, from.Format("2006-01-02"), to.Format("2006-01-02"))
}

// EventsFrom returns catalogue events dated on or after from, in feed order.
func (s *Store) EventsFrom(ctx context.Context, from time.Time) ([]seminar.Event, error) {
	const q = selectEvents + `
		WHERE date >= $1
		ORDER BY date, start_time NULLS FIRST, title`
	return s.queryEvents(ctx, "events from", q, from.Format("2006-01-02"))
}

const selectEvents = `
	SELECT event_hash, title, speaker, institution, date, start_time,
	       end_time, location, description, categories, organizer, url,
	       first_seen_at
	FROM events`

func (s *Store) queryEvents(ctx context.Context, op, q string, args ...any) ([]seminar.Event, error) {
	var events []seminar.Event
	err := s.withRetry(ctx, op, func() error {
		rows, queryErr := s.db.QueryContext(ctx, q, args...)
		if queryErr != nil {
			return fmt.Errorf("query events: %w", queryErr)
		}
		defer func() {
			if closeErr := rows.Close(); closeErr != nil {
				s.logger.Warn("Failed to close rows", "op", op, "error", closeErr)
			}
		}()

		events = events[:0]
		for rows.Next() {
			ev, scanErr := scanEvent(rows)
			if scanErr != nil {
				return fmt.Errorf("scan event: %w", scanErr)
			}
			events = append(events, ev)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("%s after retries: %w", op, err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (seminar.Event, error) {
	var (
		ev         seminar.Event
		start, end sql.NullString
		cats       pq.StringArray
	)
	if err := rows.Scan(&ev.Hash, &ev.Title, &ev.Speaker, &ev.Institution,
		&ev.Date, &start, &end, &ev.Location, &ev.Description, &cats,
		&ev.Organizer, &ev.URL, &ev.FirstSeenAt); err != nil {
		return seminar.Event{}, err
	}
	ev.StartTime = clockValue(start)
	ev.EndTime = clockValue(end)
	ev.Categories = []string(cats)
	return ev, nil
}

// clockParam converts an "HH:MM" string to a TIME parameter, NULL when empty.
func clockParam(hhmm string) sql.NullString {
	return sql.NullString{String: hhmm, Valid: hhmm != ""}
}

// clockValue trims a scanned TIME value ("13:15:00") back to "HH:MM".
func clockValue(v sql.NullString) string {
	if !v.Valid {
		return ""
	}
	if len(v.String) > 5 {
		return v.String[:5]
	}
	return v.String
}

// CreateSubscriber inserts a pending row for email, or returns the existing
// row when the address is already on file.
func (s *Store) CreateSubscriber(ctx context.Context, email string) (*seminar.Subscriber, error) {
	const q = `
		INSERT INTO subscribers (email, status) VALUES ($1, 'pending')
		ON CONFLICT (email) DO NOTHING
		RETURNING id, email, status, confirm_token, created_at`

	var sub *seminar.Subscriber
	err := s.withRetry(ctx, "create subscriber", func() error {
		row := s.db.QueryRowContext(ctx, q, email)
		got, scanErr := scanSubscriber(row)
		if errors.Is(scanErr, sql.ErrNoRows) {
			// Lost the insert race; the row exists now.
			row = s.db.QueryRowContext(ctx, selectSubscriber+` WHERE email = $1`, email)
			got, scanErr = scanSubscriber(row)
		}
		if scanErr != nil {
			return fmt.Errorf("create subscriber: %w", scanErr)
		}
		sub = got
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create subscriber after retries: %w", err)
	}
	s.logger.Info("Subscriber created", "email", email, "id", sub.ID, "status", sub.Status)
	return sub, nil
}

const selectSubscriber = `
	SELECT id, email, status, confirm_token, created_at FROM subscribers`

// SubscriberByEmail looks up one subscriber. A miss returns an error
// satisfying errors.Is(err, seminar.ErrNotFound).
func (s *Store) SubscriberByEmail(ctx context.Context, email string) (*seminar.Subscriber, error) {
	var sub *seminar.Subscriber
	err := s.withRetry(ctx, "subscriber by email", func() error {
		row := s.db.QueryRowContext(ctx, selectSubscriber+` WHERE email = $1`, email)
		got, scanErr := scanSubscriber(row)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return retry.Unrecoverable(fmt.Errorf("subscriber %q: %w", email, seminar.ErrNotFound))
		}
		if scanErr != nil {
			return fmt.Errorf("load subscriber: %w", scanErr)
		}
		sub = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// ActiveSubscribers lists every subscriber owed a weekly digest.
func (s *Store) ActiveSubscribers(ctx context.Context) ([]seminar.Subscriber, error) {
	var subs []seminar.Subscriber
	err := s.withRetry(ctx, "active subscribers", func() error {
		rows, queryErr := s.db.QueryContext(ctx, selectSubscriber+` WHERE status = 'active' ORDER BY id`)
		if queryErr != nil {
			return fmt.Errorf("query subscribers: %w", queryErr)
		}
		defer func() {
			if closeErr := rows.Close(); closeErr != nil {
				s.logger.Warn("Failed to close rows", "op", "active subscribers", "error", closeErr)
			}
		}()

		subs = subs[:0]
		for rows.Next() {
			var (
				sub   seminar.Subscriber
				tok   sql.NullString
				statS string
			)
			if scanErr := rows.Scan(&sub.ID, &sub.Email, &statS, &tok, &sub.CreatedAt); scanErr != nil {
				return fmt.Errorf("scan subscriber: %w", scanErr)
			}
			sub.Status = seminar.Status(statS)
			sub.ConfirmToken = tok.String
			subs = append(subs, sub)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("active subscribers after retries: %w", err)
	}
	return subs, nil
}

func scanSubscriber(row *sql.Row) (*seminar.Subscriber, error) {
	var (
		sub   seminar.Subscriber
		tok   sql.NullString
		statS string
	)
	if err := row.Scan(&sub.ID, &sub.Email, &statS, &tok, &sub.CreatedAt); err != nil {
		return nil, err
	}
	sub.Status = seminar.Status(statS)
	sub.ConfirmToken = tok.String
	return &sub, nil
}

// ActivateSubscriber moves a pending row to active. The status guard and the
// update are one statement, so racing transitions serialize on the row and a
// completed unsubscribe is never overwritten.
func (s *Store) ActivateSubscriber(ctx context.Context, email string) (bool, error) {
	return s.transition(ctx, "activate subscriber",
		`UPDATE subscribers SET status = 'active' WHERE email = $1 AND status = 'pending'`, email)
}

// ReactivateSubscriber moves an unsubscribed row back to pending for a fresh
// double-opt-in cycle.
func (s *Store) ReactivateSubscriber(ctx context.Context, email string) (bool, error) {
	return s.transition(ctx, "reactivate subscriber",
		`UPDATE subscribers SET status = 'pending' WHERE email = $1 AND status = 'unsubscribed'`, email)
}

// UnsubscribeSubscriber moves a row to the terminal state from any other.
func (s *Store) UnsubscribeSubscriber(ctx context.Context, email string) (bool, error) {
	return s.transition(ctx, "unsubscribe subscriber",
		`UPDATE subscribers SET status = 'unsubscribed' WHERE email = $1 AND status <> 'unsubscribed'`, email)
}

func (s *Store) transition(ctx context.Context, op, q, email string) (bool, error) {
	var changed bool
	err := s.withRetry(ctx, op, func() error {
		res, execErr := s.db.ExecContext(ctx, q, email)
		if execErr != nil {
			return fmt.Errorf("%s: %w", op, execErr)
		}
		n, affErr := res.RowsAffected()
		if affErr != nil {
			return fmt.Errorf("%s rows affected: %w", op, affErr)
		}
		changed = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%s after retries: %w", op, err)
	}
	if changed {
		s.logger.Info("Subscriber transitioned", "op", op, "email", email)
	}
	return changed, nil
}

// SentHashes returns the set of event hashes already delivered to a
// subscriber. The sent log is the sole source of delivery truth.
func (s *Store) SentHashes(ctx context.Context, subscriberID int64) (map[string]bool, error) {
	var sent map[string]bool
	err := s.withRetry(ctx, "sent hashes", func() error {
		rows, queryErr := s.db.QueryContext(ctx,
			`SELECT event_hash FROM sent_log WHERE subscriber_id = $1`, subscriberID)
		if queryErr != nil {
			return fmt.Errorf("query sent log: %w", queryErr)
		}
		defer func() {
			if closeErr := rows.Close(); closeErr != nil {
				s.logger.Warn("Failed to close rows", "op", "sent hashes", "error", closeErr)
			}
		}()

		sent = make(map[string]bool)
		for rows.Next() {
			var hash string
			if scanErr := rows.Scan(&hash); scanErr != nil {
				return fmt.Errorf("scan sent log: %w", scanErr)
			}
			sent[hash] = true
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("sent hashes after retries: %w", err)
	}
	return sent, nil
}

// RecordSent writes one ledger row per delivered hash inside a single
// transaction. Duplicate pairs hit the UNIQUE constraint and are ignored, so
// re-recording is a benign no-op.
func (s *Store) RecordSent(ctx context.Context, subscriberID int64, hashes []string) error {
	if len(hashes) == 0 {
		return nil
	}

	err := s.withRetry(ctx, "record sent", func() error {
		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("begin record sent: %w", txErr)
		}
		for _, hash := range hashes {
			if _, execErr := tx.ExecContext(ctx,
				`INSERT INTO sent_log (subscriber_id, event_hash) VALUES ($1, $2)
				 ON CONFLICT (subscriber_id, event_hash) DO NOTHING`,
				subscriberID, hash); execErr != nil {
				if rbErr := tx.Rollback(); rbErr != nil {
					s.logger.Warn("Rollback failed", "error", rbErr)
				}
				return fmt.Errorf("insert sent row: %w", execErr)
			}
		}
		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("commit record sent: %w", commitErr)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record sent after retries: %w", err)
	}
	s.logger.Debug("Deliveries recorded", "subscriber_id", subscriberID, "events", len(hashes))
	return nil
}
