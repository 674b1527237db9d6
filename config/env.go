package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func BoolEnv(name string, defaultValue bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if v == "" {
		return defaultValue
	}

	switch v {
	case "1", "true", "on", "yes":
		return true
	case "0", "false", "off", "no":
		return false
	default:
		return defaultValue
	}
}

// DurationEnv reads a Go duration ("15s") or a plain number of seconds and
// clamps it to [minValue, maxValue]. Unset or unparsable values give
// defaultValue.
func DurationEnv(name string, defaultValue, minValue, maxValue time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return defaultValue
	}

	d, ok := parseDuration(v)
	if !ok {
		return defaultValue
	}
	return clampDuration(d, minValue, maxValue)
}

func StringEnv(name, defaultValue string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return defaultValue
}

func parseDuration(v string) (time.Duration, bool) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, true
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}

func clampDuration(d, minValue, maxValue time.Duration) time.Duration {
	if minValue <= maxValue {
		if d < minValue {
			d = minValue
		}
		if d > maxValue {
			d = maxValue
		}
	}
	return d
}
