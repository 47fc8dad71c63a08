// Package feed renders per-series iCalendar documents from the event
// catalogue.
package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"seminar-hub/pkg/seminar"
)

const (
	prodID = "-//HGSE Seminar Hub//EN"

	// uidSuffix makes event UIDs globally unique while keeping them a pure
	// function of the identity hash, so calendar clients update entries on
	// re-fetch instead of duplicating them.
	uidSuffix = "@hgse-seminar-hub"
)

// ErrUnknownSeries reports a feed request for a series key that is not in
// the configured set.
var ErrUnknownSeries = errors.New("feed: unknown series")

// Catalog is the slice of the store feeds read from.
type Catalog interface {
	EventsFrom(ctx context.Context, from time.Time) ([]seminar.Event, error)
}

// Generator renders calendar documents on demand. It holds no state between
// calls; the catalogue is the only input.
type Generator struct {
	catalog Catalog
	series  map[string]string // feed key -> category label
	loc     *time.Location
	now     func() time.Time
}

// New creates a feed generator for the configured series set.
func New(catalog Catalog, series map[string]string, loc *time.Location) *Generator {
	return &Generator{catalog: catalog, series: series, loc: loc, now: time.Now}
}

// Render produces the iCalendar document for one series key, listing every
// upcoming catalogue event labeled with that series. An empty match set
// yields a valid empty calendar.
func (g *Generator) Render(ctx context.Context, seriesKey string) ([]byte, error) {
	label, ok := g.series[seriesKey]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSeries, seriesKey)
	}

	now := g.now().In(g.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, g.loc)
	events, err := g.catalog.EventsFrom(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("load upcoming events: %w", err)
	}

	cal := ical.NewCalendar()
	cal.SetProductId(prodID)
	cal.SetVersion("2.0")
	cal.SetXWRCalName("HGSE: " + label)
	cal.SetXWRTimezone(g.loc.String())

	for _, ev := range events {
		if !ev.HasCategory(label) {
			continue
		}
		g.addEvent(cal, ev)
	}
	return []byte(cal.Serialize()), nil
}

func (g *Generator) addEvent(cal *ical.Calendar, ev seminar.Event) {
	ve := cal.AddEvent(ev.Hash + uidSuffix)
	// first_seen_at never changes, which keeps re-renders of an unchanged
	// catalogue byte-stable.
	ve.SetDtStampTime(ev.FirstSeenAt.UTC())
	ve.SetSummary(ev.Title)
	if ev.Location != "" {
		ve.SetLocation(ev.Location)
	}
	if desc := describe(ev); desc != "" {
		ve.SetDescription(desc)
	}
	if ev.URL != "" {
		ve.SetProperty(ical.ComponentPropertyUrl, ev.URL)
	}

	if ev.StartTime == "" {
		ve.SetAllDayStartAt(ev.StartAt(g.loc))
		ve.SetAllDayEndAt(ev.EndAt(g.loc))
		return
	}
	ve.SetStartAt(ev.StartAt(g.loc))
	ve.SetEndAt(ev.EndAt(g.loc))
}

// describe joins the speaker line and the abstract for the VEVENT
// description.
func describe(ev seminar.Event) string {
	speaker := ev.Speaker
	if speaker != "" && ev.Institution != "" {
		speaker += " (" + ev.Institution + ")"
	}
	switch {
	case speaker != "" && ev.Description != "":
		return speaker + "\n\n" + ev.Description
	case speaker != "":
		return speaker
	default:
		return ev.Description
	}
}
