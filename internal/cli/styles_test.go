package cli

import (
	"testing"
	"time"
)

func TestFormatters(t *testing.T) {
	testCases := []struct {
		name string
		got  string
		want string
	}{
		{"count", FormatCount(1234567), "1,234,567"},
		{"small count", FormatCount(12), "12"},
		{"rate", FormatRate(250000), "250 kHz"},
		{"bytes", FormatBytes(2048), "2.0 KiB"},
		{"negative bytes", FormatBytes(-5), "0 B"},
		{"duration ms", FormatDuration(1500 * time.Microsecond), "1.5ms"},
		{"duration s", FormatDuration(2500 * time.Millisecond), "2.5s"},
		{"duration zero", FormatDuration(0), "0s"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Errorf("got %q, want %q", tc.got, tc.want)
			}
		})
	}
}
