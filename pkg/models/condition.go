package models

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var (
	ErrConditionFieldMissing = errors.New("condition field not found")
	ErrUnknownOperator       = errors.New("unknown condition operator")
	ErrNotComparable         = errors.New("values are not comparable")
)

// Truthy converts a rendered condition expression into a boolean.
// Nil and empty strings are false; strings must parse with strconv.ParseBool.
func Truthy(exp any) (bool, error) {
	switch v := exp.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return false, nil
		}

		result, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("cannot convert string %q to boolean: %w", v, err)
		}

		return result, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	default:
		return false, fmt.Errorf("cannot convert %T to boolean", exp)
	}
}

// Apply compares actual against expected. present tells whether the field was resolved at all;
// only exists and not_exists accept an absent field.
func (o ConditionOperator) Apply(actual any, present bool, expected any) (bool, error) {
	switch o {
	case OperatorExists:
		return present, nil
	case OperatorNotExists:
		return !present, nil
	}

	if !present {
		return false, ErrConditionFieldMissing
	}

	switch o {
	case OperatorEquals:
		return equalValues(actual, expected), nil
	case OperatorNotEquals:
		return !equalValues(actual, expected), nil
	case OperatorContains:
		return contains(actual, expected), nil
	case OperatorNotContains:
		return !contains(actual, expected), nil
	case OperatorIn:
		return contains(expected, actual), nil
	case OperatorGreaterThan, OperatorGreaterOrEq, OperatorLessThan, OperatorLessOrEq:
		cmp, err := compare(actual, expected)
		if err != nil {
			return false, err
		}

		switch o {
		case OperatorGreaterThan:
			return cmp > 0, nil
		case OperatorGreaterOrEq:
			return cmp >= 0, nil
		case OperatorLessThan:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, o)
	}
}

// IsValid reports whether the operator is known.
func (o ConditionOperator) IsValid() bool {
	switch o {
	case OperatorEquals, OperatorNotEquals, OperatorContains, OperatorNotContains,
		OperatorExists, OperatorNotExists, OperatorGreaterThan, OperatorGreaterOrEq,
		OperatorLessThan, OperatorLessOrEq, OperatorIn:
		return true
	default:
		return false
	}
}

func equalValues(a, b any) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func contains(haystack, needle any) bool {
	if s, ok := haystack.(string); ok {
		return strings.Contains(s, fmt.Sprintf("%v", needle))
	}

	rv := reflect.ValueOf(haystack)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}

	for i := range rv.Len() {
		if equalValues(rv.Index(i).Interface(), needle) {
			return true
		}
	}

	return false
}

func compare(a, b any) (int, error) {
	if ta, ok := toTime(a); ok {
		tb, ok := toTime(b)
		if !ok {
			return 0, fmt.Errorf("%w: %v and %v", ErrNotComparable, a, b)
		}

		return ta.Compare(tb), nil
	}

	fa, okA := toFloat(a)
	fb, okB := toFloat(b)

	if !okA || !okB {
		return 0, fmt.Errorf("%w: %v and %v", ErrNotComparable, a, b)
	}

	switch {
	case fa < fb:
		return -1, nil
	case fa > fb:
		return 1, nil
	default:
		return 0, nil
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)

		return f, err == nil
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)

		return parsed, err == nil
	default:
		return time.Time{}, false
	}
}
