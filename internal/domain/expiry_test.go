package domain

import (
	"errors"
	"testing"
	"time"
)

func TestRemainingDays(t *testing.T) {
	today := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt string
		want      int
		wantErr   bool
	}{
		{name: "ten days ahead", expiresAt: "2026-03-20", want: 10},
		{name: "expires today", expiresAt: "2026-03-10", want: 0},
		{name: "expired yesterday", expiresAt: "2026-03-09", want: -1},
		{name: "across month boundary", expiresAt: "2026-04-01", want: 22},
		{name: "leap year february", expiresAt: "2028-03-01", want: 722},
		{name: "lifetime license", expiresAt: "9999-12-31", want: 2912374},
		{name: "long past", expiresAt: "1700-01-01", want: -119137},
		{name: "surrounding spaces", expiresAt: " 2026-03-11 ", want: 1},
		{name: "garbage", expiresAt: "next tuesday", wantErr: true},
		{name: "wrong layout", expiresAt: "10/03/2026", wantErr: true},
		{name: "empty", expiresAt: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RemainingDays(tt.expiresAt, today)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("RemainingDays(%q) error = nil, want error", tt.expiresAt)
				}
				if !errors.Is(err, ErrMalformedDate) {
					t.Errorf("RemainingDays(%q) error = %v, want ErrMalformedDate", tt.expiresAt, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("RemainingDays(%q) unexpected error: %v", tt.expiresAt, err)
			}
			if got != tt.want {
				t.Errorf("RemainingDays(%q) = %d, want %d", tt.expiresAt, got, tt.want)
			}
		})
	}
}

func TestRemainingDaysUsesLocalDate(t *testing.T) {
	// 23:30 in UTC+5 is still the 10th locally, but already past midnight
	// of the 10th in UTC. The local calendar date must win.
	loc := time.FixedZone("UTC+5", 5*60*60)
	today := time.Date(2026, 3, 10, 23, 30, 0, 0, loc)

	got, err := RemainingDays("2026-03-11", today)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1 {
		t.Errorf("RemainingDays() = %d, want 1", got)
	}
}
