package email

import (
	"net/url"
	"strings"
	"time"

	"seminar-hub/pkg/seminar"
)

const (
	googleCalendarBase = "https://calendar.google.com/calendar/render"
	outlookComposeBase = "https://outlook.live.com/calendar/0/action/compose"
)

// googleCalendarURL builds a prefilled Google Calendar event link. Timed
// events carry clock times interpreted in loc via the ctz parameter;
// date-only events use the all-day YYYYMMDD span.
func googleCalendarURL(ev seminar.Event, loc *time.Location) string {
	v := url.Values{}
	v.Set("action", "TEMPLATE")
	v.Set("text", ev.Title)
	if ev.StartTime == "" {
		v.Set("dates", ev.StartAt(loc).Format("20060102")+"/"+ev.EndAt(loc).Format("20060102"))
	} else {
		v.Set("dates", ev.StartAt(loc).Format("20060102T150405")+"/"+ev.EndAt(loc).Format("20060102T150405"))
		v.Set("ctz", loc.String())
	}
	if d := linkDetails(ev); d != "" {
		v.Set("details", d)
	}
	if ev.Location != "" {
		v.Set("location", ev.Location)
	}
	return googleCalendarBase + "?" + v.Encode()
}

// outlookCalendarURL builds a prefilled Outlook web compose link.
func outlookCalendarURL(ev seminar.Event, loc *time.Location) string {
	v := url.Values{}
	v.Set("path", "/calendar/action/compose")
	v.Set("rru", "addevent")
	v.Set("subject", ev.Title)
	if ev.StartTime == "" {
		v.Set("allday", "true")
		v.Set("startdt", ev.StartAt(loc).Format("2006-01-02"))
		v.Set("enddt", ev.EndAt(loc).Format("2006-01-02"))
	} else {
		v.Set("startdt", ev.StartAt(loc).Format("2006-01-02T15:04:05"))
		v.Set("enddt", ev.EndAt(loc).Format("2006-01-02T15:04:05"))
	}
	if d := linkDetails(ev); d != "" {
		v.Set("body", d)
	}
	if ev.Location != "" {
		v.Set("location", ev.Location)
	}
	return outlookComposeBase + "?" + v.Encode()
}

// linkDetails is the prefilled description for add-to-calendar links. The
// abstract stays out to keep the URLs short; the event page carries it.
func linkDetails(ev seminar.Event) string {
	var parts []string
	speaker := ev.Speaker
	if speaker != "" && ev.Institution != "" {
		speaker += " (" + ev.Institution + ")"
	}
	if speaker != "" {
		parts = append(parts, speaker)
	}
	if ev.URL != "" {
		parts = append(parts, ev.URL)
	}
	return strings.Join(parts, "\n\n")
}
