package task

import (
	"testing"
	"time"
)

func TestParseDue(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 15, 0, 0, time.UTC) // a Sunday

	tests := []struct {
		name     string
		expr     string
		wantDate string
		wantTime string
	}{
		{name: "empty defaults to now", expr: "", wantDate: "18-10-2026", wantTime: "09:15"},
		{name: "stored format", expr: "31-12-2026 18:00", wantDate: "31-12-2026", wantTime: "18:00"},
		{name: "bare stored date", expr: "01-11-2026", wantDate: "01-11-2026", wantTime: "09:15"},
		{name: "natural language", expr: "tomorrow at 5pm", wantDate: "19-10-2026", wantTime: "17:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, tm, err := ParseDue(tt.expr, now)
			if err != nil {
				t.Fatalf("ParseDue(%q) failed: %v", tt.expr, err)
			}
			if d != tt.wantDate || tm != tt.wantTime {
				t.Errorf("ParseDue(%q) = %s %s, want %s %s", tt.expr, d, tm, tt.wantDate, tt.wantTime)
			}
		})
	}
}

func TestParseDue_NoMatch(t *testing.T) {
	if _, _, err := ParseDue("whenever I feel like it", time.Now()); err == nil {
		t.Error("ParseDue should fail when no date is recognized")
	}
}
