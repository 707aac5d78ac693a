package main

import (
	"testing"
	"time"
)

func TestFormatCount(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{45230, "45,230"},
		{15728640, "15,728,640"},
		{-1234, "-1,234"},
	}

	for _, tt := range tests {
		got := formatCount(tt.input)
		if got != tt.want {
			t.Errorf("formatCount(%d) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"a much longer title", 10, "a much ..."},
		{"héllo wörld", 8, "héllo..."},
		{"abcdef", 3, "abc"},
	}

	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestFormatTime(t *testing.T) {
	if got := formatTime(time.Time{}); got != "-" {
		t.Errorf("formatTime(zero) = %q, want -", got)
	}
	ts := time.Date(2026, 3, 4, 5, 6, 0, 0, time.Local)
	if got := formatTime(ts); got != "2026-03-04 05:06" {
		t.Errorf("formatTime = %q", got)
	}
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		pct  int
		want string
	}{
		{0, "[....................]   0%"},
		{50, "[##########..........]  50%"},
		{100, "[####################] 100%"},
		{150, "[####################] 100%"},
		{-5, "[....................]   0%"},
	}

	for _, tt := range tests {
		if got := progressBar(tt.pct); got != tt.want {
			t.Errorf("progressBar(%d) = %q, want %q", tt.pct, got, tt.want)
		}
	}
}
