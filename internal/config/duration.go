package config

import (
	"fmt"
	"strings"
	"time"
)

// Durations in the file are Go duration strings such as "90s" or "1h30m".
// A blank value means unset.

// ParseDurationField reads an optional duration at path. Unset yields 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	return durationAt(path, raw, 0)
}

// ParseDurationOrDefault reads the duration at path and falls back to def
// when it is unset or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return durationAt(path, raw, def)
}

func durationAt(path, raw string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration (want e.g. 30s or 5m): %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	case d == 0:
		return def, nil
	}
	return d, nil
}
