package seminar

import "time"

// StartAt reports the instant the event begins in loc. Events without a
// start clock begin at midnight.
func (e Event) StartAt(loc *time.Location) time.Time {
	y, m, d := e.Date.Date()
	hh, mm := splitClock(e.StartTime)
	return time.Date(y, m, d, hh, mm, 0, 0, loc)
}

// EndAt reports the instant the event ends in loc. Date-only events run to
// the next midnight; timed events without an explicit end run one hour.
func (e Event) EndAt(loc *time.Location) time.Time {
	y, m, d := e.Date.Date()
	if e.StartTime == "" {
		return time.Date(y, m, d, 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	}
	if e.EndTime == "" {
		return e.StartAt(loc).Add(time.Hour)
	}
	hh, mm := splitClock(e.EndTime)
	return time.Date(y, m, d, hh, mm, 0, 0, loc)
}

// splitClock parses a zero-padded "HH:MM" string. Catalogue rows only ever
// carry this shape, so a malformed value degrades to midnight.
func splitClock(hhmm string) (hour, minute int) {
	if len(hhmm) != 5 || hhmm[2] != ':' {
		return 0, 0
	}
	hour = int(hhmm[0]-'0')*10 + int(hhmm[1]-'0')
	minute = int(hhmm[3]-'0')*10 + int(hhmm[4]-'0')
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0
	}
	return hour, minute
}
