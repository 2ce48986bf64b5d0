package stats

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ValidationError reports a malformed query parameter
type ValidationError struct {
	Param string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Param, e.Err.Error())
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// MaxHours is the longest window whose start still fits in a time.Duration
const MaxHours = int(math.MaxInt64 / int64(time.Hour))

func checkHours(h int) error {
	if h <= 0 {
		return &ValidationError{Param: "hours", Err: fmt.Errorf("%d is not positive", h)}
	}
	if h > MaxHours {
		return &ValidationError{Param: "hours", Err: fmt.Errorf("%d exceeds the maximum of %d", h, MaxHours)}
	}
	return nil
}

// ParseHours reads a comma separated list of positive window sizes. An empty value yields a
// copy of defaults. A single bad token rejects the whole list.
func ParseHours(raw string, defaults []int) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return append([]int(nil), defaults...), nil
	}
	tokens := strings.Split(raw, ",")
	hours := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		h, err := strconv.Atoi(tok)
		if err != nil {
			return nil, &ValidationError{Param: "hours", Err: fmt.Errorf("%q is not an integer", tok)}
		}
		if err := checkHours(h); err != nil {
			return nil, err
		}
		hours = append(hours, h)
	}
	return hours, nil
}

// ParseTimezone returns the IANA zone name to bucket weekdays in, defaulting to UTC
func ParseTimezone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultTimezone, nil
	}
	// Local resolves to the server zone, which the database does not know
	if raw == "Local" {
		return "", &ValidationError{Param: "timezone", Err: fmt.Errorf("unknown time zone %s", raw)}
	}
	if _, err := time.LoadLocation(raw); err != nil {
		return "", &ValidationError{Param: "timezone", Err: err}
	}
	return raw, nil
}
