package seminar

import (
	"testing"
	"time"
)

func TestEventStartEndAt(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Helsinki")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	day := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		start     string
		end       string
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "timed",
			start:     "12:15",
			end:       "13:00",
			wantStart: time.Date(2026, 2, 3, 12, 15, 0, 0, loc),
			wantEnd:   time.Date(2026, 2, 3, 13, 0, 0, 0, loc),
		},
		{
			name:      "start only runs one hour",
			start:     "16:00",
			wantStart: time.Date(2026, 2, 3, 16, 0, 0, 0, loc),
			wantEnd:   time.Date(2026, 2, 3, 17, 0, 0, 0, loc),
		},
		{
			name:      "date only spans the day",
			wantStart: time.Date(2026, 2, 3, 0, 0, 0, 0, loc),
			wantEnd:   time.Date(2026, 2, 4, 0, 0, 0, 0, loc),
		},
		{
			name:      "malformed clock degrades to midnight",
			start:     "noon",
			wantStart: time.Date(2026, 2, 3, 0, 0, 0, 0, loc),
			wantEnd:   time.Date(2026, 2, 3, 1, 0, 0, 0, loc),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Event{Date: day, StartTime: tt.start, EndTime: tt.end}
			if got := ev.StartAt(loc); !got.Equal(tt.wantStart) {
				t.Errorf("StartAt = %v, want %v", got, tt.wantStart)
			}
			if got := ev.EndAt(loc); !got.Equal(tt.wantEnd) {
				t.Errorf("EndAt = %v, want %v", got, tt.wantEnd)
			}
		})
	}
}
