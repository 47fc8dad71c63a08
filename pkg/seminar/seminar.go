// Package seminar contains the core domain types for the seminar catalogue
// and digest service.
package seminar

import (
	"errors"
	"time"
)

// ErrNotFound reports a subscriber or event lookup that matched nothing.
var ErrNotFound = errors.New("not found")

// RawEvent is a single event record as produced by the scraper, before it
// has been assigned a canonical identity.
type RawEvent struct {
	Title       string
	Speaker     string
	Institution string
	Date        time.Time // calendar date in the seminar timezone
	StartTime   string    // "HH:MM", empty when unknown
	EndTime     string    // "HH:MM", empty when unknown
	Location    string
	Description string
	Categories  []string
	Organizer   string
	URL         string
}

// Event is one catalogued event. Hash is the canonical identity; every other
// field may be updated in place by later scrapes without changing identity.
type Event struct {
	Hash        string
	Title       string
	Speaker     string
	Institution string
	Date        time.Time
	StartTime   string
	EndTime     string
	Location    string
	Description string
	Categories  []string
	Organizer   string
	URL         string
	FirstSeenAt time.Time
}

// HasCategory reports whether the event carries the given series label.
func (e Event) HasCategory(label string) bool {
	for _, c := range e.Categories {
		if c == label {
			return true
		}
	}
	return false
}

// Status is a subscriber's position in the double-opt-in lifecycle.
type Status string

const (
	StatusPending      Status = "pending"
	StatusActive       Status = "active"
	StatusUnsubscribed Status = "unsubscribed"
)

// Subscriber is one mailing-list member. Email is unique and stored
// lower-cased.
type Subscriber struct {
	ID           int64
	Email        string
	Status       Status
	ConfirmToken string // informational column only, never read for verification
	CreatedAt    time.Time
}
