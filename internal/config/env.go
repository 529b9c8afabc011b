// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/opentouch/touchstream/internal/log"
)

// lookupEnv is the shared decide-and-log flow behind every typed reader.
// Unset and empty keys keep the default, unparseable values keep the
// default with a warning, and anything else wins over the default. Values
// of secret-looking keys are never written to the log.
func lookupEnv[T any](key string, def T, parse func(string) (T, error)) T {
	logger := log.WithComponent("config")

	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		logger.Debug().
			Str("key", key).
			Interface("default", def).
			Str("source", "default").
			Msg("using default value")
		return def
	}

	v, err := parse(raw)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", raw).
			Interface("default", def).
			Msg("unparseable environment value, using default")
		return def
	}

	evt := logger.Debug().Str("key", key).Str("source", "environment")
	if isSecretKey(key) {
		evt = evt.Bool("sensitive", true)
	} else {
		evt = evt.Interface("value", v)
	}
	evt.Msg("using environment variable")
	return v
}

func isSecretKey(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "token") || strings.Contains(k, "password") || strings.Contains(k, "secret")
}

// ParseString reads a string from the environment, treating empty as unset.
func ParseString(key, defaultValue string) string {
	return lookupEnv(key, defaultValue, func(raw string) (string, error) {
		return raw, nil
	})
}

// ParseInt reads an integer from the environment, keeping the default on
// anything strconv.Atoi rejects.
func ParseInt(key string, defaultValue int) int {
	return lookupEnv(key, defaultValue, strconv.Atoi)
}

// ParseFloat reads a float64 from the environment.
func ParseFloat(key string, defaultValue float64) float64 {
	return lookupEnv(key, defaultValue, func(raw string) (float64, error) {
		return strconv.ParseFloat(raw, 64)
	})
}

// ParseDuration reads a Go duration ("250ms", "5s") from the environment.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	return lookupEnv(key, defaultValue, time.ParseDuration)
}

// ParseBool reads a boolean from the environment. It accepts "true",
// "false", "1", "0", "yes" and "no", case-insensitive.
func ParseBool(key string, defaultValue bool) bool {
	return lookupEnv(key, defaultValue, parseBool)
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", raw)
}

// ParseStringSlice reads a comma-separated list from the environment.
// Entries are trimmed and empty ones dropped; a list that collapses to
// nothing keeps the default.
func ParseStringSlice(key string, defaultValue []string) []string {
	raw := ParseString(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
