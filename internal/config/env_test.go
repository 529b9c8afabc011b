// SPDX-License-Identifier: MIT

package config

import (
	"testing"
	"time"
)

func TestParseString(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		setEnv   bool
		def      string
		want     string
	}{
		{name: "unset returns default", def: "fallback", want: "fallback"},
		{name: "set returns value", envValue: "custom", setEnv: true, def: "fallback", want: "custom"},
		{name: "empty returns default", envValue: "", setEnv: true, def: "fallback", want: "fallback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TOUCHSTREAM_TEST_STRING"
			if tt.setEnv {
				t.Setenv(key, tt.envValue)
			}
			if got := ParseString(key, tt.def); got != tt.want {
				t.Errorf("ParseString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		setEnv   bool
		def      int
		want     int
	}{
		{name: "unset returns default", def: 42, want: 42},
		{name: "valid integer", envValue: "7", setEnv: true, def: 42, want: 7},
		{name: "invalid integer returns default", envValue: "seven", setEnv: true, def: 42, want: 42},
		{name: "empty returns default", envValue: "", setEnv: true, def: 42, want: 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TOUCHSTREAM_TEST_INT"
			if tt.setEnv {
				t.Setenv(key, tt.envValue)
			}
			if got := ParseInt(key, tt.def); got != tt.want {
				t.Errorf("ParseInt() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		setEnv   bool
		def      bool
		want     bool
	}{
		{name: "unset returns default", def: true, want: true},
		{name: "true", envValue: "true", setEnv: true, want: true},
		{name: "one", envValue: "1", setEnv: true, want: true},
		{name: "yes", envValue: "yes", setEnv: true, want: true},
		{name: "false", envValue: "false", setEnv: true, def: true, want: false},
		{name: "zero", envValue: "0", setEnv: true, def: true, want: false},
		{name: "garbage returns default", envValue: "maybe", setEnv: true, def: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TOUCHSTREAM_TEST_BOOL"
			if tt.setEnv {
				t.Setenv(key, tt.envValue)
			}
			if got := ParseBool(key, tt.def); got != tt.want {
				t.Errorf("ParseBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		setEnv   bool
		def      time.Duration
		want     time.Duration
	}{
		{name: "unset returns default", def: 5 * time.Second, want: 5 * time.Second},
		{name: "valid duration", envValue: "250ms", setEnv: true, def: 5 * time.Second, want: 250 * time.Millisecond},
		{name: "invalid duration returns default", envValue: "fast", setEnv: true, def: 5 * time.Second, want: 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TOUCHSTREAM_TEST_DURATION"
			if tt.setEnv {
				t.Setenv(key, tt.envValue)
			}
			if got := ParseDuration(key, tt.def); got != tt.want {
				t.Errorf("ParseDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseStringSlice(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		setEnv   bool
		def      []string
		want     []string
	}{
		{name: "unset returns default", def: []string{"a"}, want: []string{"a"}},
		{name: "single value", envValue: "one", setEnv: true, want: []string{"one"}},
		{name: "csv with spaces", envValue: "one, two ,three", setEnv: true, want: []string{"one", "two", "three"}},
		{name: "only commas returns default", envValue: ",,", setEnv: true, def: []string{"a"}, want: []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TOUCHSTREAM_TEST_SLICE"
			if tt.setEnv {
				t.Setenv(key, tt.envValue)
			}
			got := ParseStringSlice(key, tt.def)
			if len(got) != len(tt.want) {
				t.Fatalf("ParseStringSlice() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ParseStringSlice()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
