package utils

import (
	"os"
	"slices"
	"strconv"

	"go.viam.com/contactplan/logging"
)

// EnvTrueValues contains strings that we interpret as boolean true in env vars.
var EnvTrueValues = []string{"true", "yes", "1", "TRUE", "YES"}

// GetenvInt returns the integer value of the environment variable `name`, or `defaultVal` if it is
// unset. A value that fails to parse is logged and the default is used.
func GetenvInt(name string, defaultVal int, logger logging.Logger) int {
	raw := os.Getenv(name)
	if raw == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		logger.Warnw("Failed to parse env var, falling back to default", "name", name, "value", raw, "default", defaultVal)
		return defaultVal
	}
	return val
}

// GetenvBool reports whether the environment variable `name` holds one of EnvTrueValues.
func GetenvBool(name string) bool {
	return slices.Contains(EnvTrueValues, os.Getenv(name))
}
