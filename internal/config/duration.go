package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidDurationFormat is returned for lifetime strings that do not
// match <number><unit> with unit in s, m, h, d.
var ErrInvalidDurationFormat = errors.New("invalid duration format")

// ParseDuration parses token lifetime strings like "15m", "7d", "48h".
// Unlike time.ParseDuration it accepts days and rejects compound values
// such as "1h30m": lifetimes are stored in the settings table and a
// single unit keeps them unambiguous there.
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if len(value) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDurationFormat, value)
	}

	unit := value[len(value)-1]
	n, err := strconv.ParseInt(value[:len(value)-1], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDurationFormat, value)
	}

	switch unit {
	case 's':
		return time.Duration(n) * time.Second, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidDurationFormat, value)
	}
}
