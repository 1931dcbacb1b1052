package bridge

import (
	"testing"
	"time"
)

func TestDurationString(t *testing.T) {
	cases := []struct {
		name string
		span time.Duration
		want string
	}{
		{"sub-second rounds up", 200 * time.Millisecond, "1 S"},
		{"zero floors at one second", 0, "1 S"},
		{"seconds", 90 * time.Second, "90 S"},
		{"just under a day", 24*time.Hour - time.Second, "86399 S"},
		{"one day", 24 * time.Hour, "1 D"},
		{"partial day rounds up", 36 * time.Hour, "2 D"},
		{"six days", 6 * 24 * time.Hour, "6 D"},
		{"one week", 7 * 24 * time.Hour, "1 W"},
		{"four weeks", 28 * 24 * time.Hour, "4 W"},
		{"thirty days", 30 * 24 * time.Hour, "30 D"},
		{"one year", 365 * 24 * time.Hour, "1 Y"},
		{"partial year rounds up", 400 * 24 * time.Hour, "2 Y"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DurationString(tc.span); got != tc.want {
				t.Fatalf("DurationString(%v) = %q, want %q", tc.span, got, tc.want)
			}
		})
	}
}
