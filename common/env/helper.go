package env

import (
	"os"
	"strconv"
	"time"
)

// Bool reads a boolean environment variable, falling back to defaultValue
// when the variable is unset or unparsable.
func Bool(name string, defaultValue bool) bool {
	if value := os.Getenv(name); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Int reads an integer environment variable with a default.
func Int(name string, defaultValue int) int {
	if value := os.Getenv(name); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// String reads a string environment variable with a default.
func String(name string, defaultValue string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return defaultValue
}

// Duration reads a duration environment variable (time.ParseDuration syntax)
// with a default.
func Duration(name string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(name); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
