package models

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidDelay      = errors.New("invalid delay duration")
	ErrDelayFieldMissing = errors.New("delay reference field not set on contact")
)

const day = 24 * time.Hour

// ParseDelay parses a delay literal. Whole days ("2d") and weeks ("1w") are accepted
// alongside anything time.ParseDuration understands ("48h", "30m", "1h30m").
func ParseDelay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidDelay)
	}

	unit := time.Duration(0)

	switch {
	case strings.HasSuffix(s, "d"):
		unit = day
	case strings.HasSuffix(s, "w"):
		unit = 7 * day
	}

	if unit != 0 {
		n, err := strconv.Atoi(s[:len(s)-1])
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDelay, s)
		}

		if int64(n) > math.MaxInt64/int64(unit) {
			return 0, fmt.Errorf("%w: %q out of range", ErrInvalidDelay, s)
		}

		return time.Duration(n) * unit, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDelay, s)
	}

	if d < 0 {
		return 0, fmt.Errorf("%w: negative %q", ErrInvalidDelay, s)
	}

	return d, nil
}

// ResumeAt computes when a delay ends. Without a reference field the delay starts at now.
func (d *DelayConfig) ResumeAt(now time.Time, contact *Contact) (time.Time, error) {
	duration, err := ParseDelay(d.Duration)
	if err != nil {
		return time.Time{}, err
	}

	if d.Field == "" {
		return now.Add(duration), nil
	}

	if contact == nil {
		return time.Time{}, fmt.Errorf("%w: %s", ErrDelayFieldMissing, d.Field)
	}

	base, ok := contact.TimeField(d.Field)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrDelayFieldMissing, d.Field)
	}

	return base.Add(duration), nil
}
