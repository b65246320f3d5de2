package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value    string
		def      bool
		expected bool
	}{
		{"", true, true},
		{"true", false, true},
		{"YES", false, true},
		{" on ", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
		{"maybe", false, false},
	}
	for _, tt := range tests {
		t.Setenv("SENDLATER_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("SENDLATER_TEST_BOOL", tt.def); got != tt.expected {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.expected)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		value    string
		expected time.Duration
	}{
		{"", time.Second},
		{"250ms", 250 * time.Millisecond},
		{"2s", 2 * time.Second},
		{"soon", time.Second},
		{"-1s", time.Second},
		{"0s", time.Second},
	}
	for _, tt := range tests {
		t.Setenv("SENDLATER_TEST_DURATION", tt.value)
		if got := ParseDurationEnv("SENDLATER_TEST_DURATION", time.Second); got != tt.expected {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.value, got, tt.expected)
		}
	}
}

func TestParseUintEnv(t *testing.T) {
	tests := []struct {
		value    string
		expected uint
	}{
		{"", 5},
		{"10", 10},
		{" 3 ", 3},
		{"0", 5},
		{"-2", 5},
		{"many", 5},
	}
	for _, tt := range tests {
		t.Setenv("SENDLATER_TEST_UINT", tt.value)
		if got := ParseUintEnv("SENDLATER_TEST_UINT", 5); got != tt.expected {
			t.Errorf("ParseUintEnv(%q) = %d, want %d", tt.value, got, tt.expected)
		}
	}
}

func TestStringEnv(t *testing.T) {
	t.Setenv("SENDLATER_TEST_STRING", "  ")
	if got := StringEnv("SENDLATER_TEST_STRING", "fallback"); got != "fallback" {
		t.Errorf("expected fallback for blank value, got %q", got)
	}
	t.Setenv("SENDLATER_TEST_STRING", " value ")
	if got := StringEnv("SENDLATER_TEST_STRING", "fallback"); got != "value" {
		t.Errorf("expected trimmed value, got %q", got)
	}
}
