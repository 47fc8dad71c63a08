// Package digest computes the set of events still owed to a subscriber for
// a given week.
package digest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"seminar-hub/pkg/seminar"
)

// Catalog is the slice of the store the compiler reads events from.
type Catalog interface {
	EventsBetween(ctx context.Context, from, to time.Time) ([]seminar.Event, error)
}

// Ledger answers which events a subscriber has already received.
type Ledger interface {
	SentHashes(ctx context.Context, subscriberID int64) (map[string]bool, error)
}

// Compiler assembles digests from the catalogue minus the sent log. It is a
// pure reader; recording deliveries is the caller's job.
type Compiler struct {
	catalog Catalog
	ledger  Ledger
}

// New creates a digest compiler.
func New(catalog Catalog, ledger Ledger) *Compiler {
	return &Compiler{catalog: catalog, ledger: ledger}
}

// WeekWindow returns the Monday and Sunday dates of the week containing now,
// in now's location. Both bounds are inclusive digest-window days.
func WeekWindow(now time.Time) (start, end time.Time) {
	y, m, d := now.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
	start = day.AddDate(0, 0, -offset)
	end = start.AddDate(0, 0, 6)
	return start, end
}

// Compile returns the events dated within [windowStart, windowEnd] that the
// subscriber has not yet received, ordered by date, then start time (events
// without a time first), then title.
func (c *Compiler) Compile(ctx context.Context, subscriberID int64, windowStart, windowEnd time.Time) ([]seminar.Event, error) {
	events, err := c.catalog.EventsBetween(ctx, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("load window events: %w", err)
	}
	sent, err := c.ledger.SentHashes(ctx, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("load sent log: %w", err)
	}

	owed := make([]seminar.Event, 0, len(events))
	for _, ev := range events {
		if sent[ev.Hash] {
			continue
		}
		owed = append(owed, ev)
	}

	sort.SliceStable(owed, func(i, j int) bool {
		a, b := owed[i], owed[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.Title < b.Title
	})
	return owed, nil
}
