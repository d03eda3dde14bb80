package utils

import (
	"errors"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL is used whenever a configured token lifetime cannot be parsed.
const DefaultTTL = time.Hour

var ErrInvalidDuration = errors.New("invalid duration")

var durationPattern = regexp.MustCompile(`(?i)^(-?(?:\d+)?\.?\d+) *(milliseconds?|msecs?|ms|seconds?|secs?|s|minutes?|mins?|m|hours?|hrs?|h|days?|d|weeks?|w|years?|yrs?|y)?$`)

const (
	msPerSecond = 1000
	msPerMinute = 60 * msPerSecond
	msPerHour   = 60 * msPerMinute
	msPerDay    = 24 * msPerHour
	msPerWeek   = 7 * msPerDay
	msPerYear   = 365.25 * msPerDay
)

const maxDurationMillis = math.MaxInt64 / int64(time.Millisecond)

// ParseMillis parses a human duration such as "500ms", "15m", "1h", "30d",
// "2 weeks" or a bare number of milliseconds into milliseconds.
func ParseMillis(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 100 {
		return 0, ErrInvalidDuration
	}
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, ErrInvalidDuration
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, ErrInvalidDuration
	}

	var unit float64
	switch u := strings.ToLower(m[2]); u {
	case "", "ms", "msec", "msecs", "millisecond", "milliseconds":
		unit = 1
	case "s", "sec", "secs", "second", "seconds":
		unit = msPerSecond
	case "m", "min", "mins", "minute", "minutes":
		unit = msPerMinute
	case "h", "hr", "hrs", "hour", "hours":
		unit = msPerHour
	case "d", "day", "days":
		unit = msPerDay
	case "w", "week", "weeks":
		unit = msPerWeek
	case "y", "yr", "yrs", "year", "years":
		unit = msPerYear
	default:
		return 0, ErrInvalidDuration
	}

	ms := math.Round(n * unit)
	if math.IsInf(ms, 0) || math.Abs(ms) > math.MaxInt64/2 {
		return 0, ErrInvalidDuration
	}
	return int64(ms), nil
}

// TTL resolves a configured lifetime with DefaultTTL as the fallback.
func TTL(logger *slog.Logger, setting, raw string) time.Duration {
	return DurationOr(logger, setting, raw, DefaultTTL)
}

// DurationOr parses raw like ParseMillis. Anything that does not parse to a
// positive duration returns fallback and emits a config_warning so a bad
// setting is visible instead of silently producing a zero TTL. Values too
// large for a time.Duration are rejected the same way.
func DurationOr(logger *slog.Logger, setting, raw string, fallback time.Duration) time.Duration {
	ms, err := ParseMillis(raw)
	if err == nil && ms > 0 && ms <= maxDurationMillis {
		return time.Duration(ms) * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("invalid duration setting, using default",
		"event", "config_warning",
		"setting", setting,
		"value", raw,
		"fallback_ms", fallback.Milliseconds(),
	)
	return fallback
}
