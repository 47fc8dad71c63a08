package seminar

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedEvent reports a scraped record missing one of the identity
// fields (title, source URL). Such records are skipped, never catalogued.
var ErrMalformedEvent = errors.New("malformed event record")

// IdentityHash computes the canonical identity of an event: hex SHA-256 over
// the normalized title, the ISO start time, and the source URL, joined by
// newlines. Only these three inputs participate.
func IdentityHash(title string, date time.Time, startTime, url string) string {
	payload := NormalizeTitle(title) + "\n" + isoStart(date, startTime) + "\n" + strings.TrimSpace(url)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// NormalizeTitle trims a title, collapses internal whitespace runs to single
// spaces and lower-cases it before hashing.
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}

// isoStart renders the identity timestamp: the ISO date, plus "THH:MM" when
// a start time is known.
func isoStart(date time.Time, startTime string) string {
	s := date.Format("2006-01-02")
	if startTime != "" {
		s += "T" + startTime
	}
	return s
}

// Canonicalize validates a scraped record, tidies its text fields and
// assigns the canonical identity hash.
func Canonicalize(raw RawEvent) (Event, error) {
	title := strings.TrimSpace(raw.Title)
	url := strings.TrimSpace(raw.URL)
	if title == "" {
		return Event{}, fmt.Errorf("%w: missing title (url %q)", ErrMalformedEvent, raw.URL)
	}
	if url == "" {
		return Event{}, fmt.Errorf("%w: missing source url (title %q)", ErrMalformedEvent, raw.Title)
	}

	cats := make([]string, 0, len(raw.Categories))
	seen := make(map[string]bool, len(raw.Categories))
	for _, c := range raw.Categories {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		cats = append(cats, c)
	}

	return Event{
		Hash:        IdentityHash(title, raw.Date, raw.StartTime, url),
		Title:       title,
		Speaker:     strings.TrimSpace(raw.Speaker),
		Institution: strings.TrimSpace(raw.Institution),
		Date:        raw.Date,
		StartTime:   raw.StartTime,
		EndTime:     raw.EndTime,
		Location:    strings.TrimSpace(raw.Location),
		Description: strings.TrimSpace(raw.Description),
		Categories:  cats,
		Organizer:   strings.TrimSpace(raw.Organizer),
		URL:         url,
	}, nil
}
