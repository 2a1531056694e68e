package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	errNotDigits     = errors.New("phone number must contain only digits")
	errNegative      = errors.New("phone number must not be negative")
	errNotIntegral   = errors.New("phone number must be an integer")
	errOutOfRange    = errors.New("phone number does not fit in 64 bits")
	errUnsupportedTy = errors.New("phone number has an unsupported type")
)

// ParsePhoneNumber converts a decoded field value into an integer phone
// number. Strings may carry surrounding whitespace and one leading '+'.
// Null and blank strings report false without error.
func ParsePhoneNumber(v any) (int64, bool, error) {
	switch t := v.(type) {
	case nil:
		return 0, false, nil
	case string:
		return parseNumberString(t)
	case json.Number:
		return parseNumberString(t.String())
	case int:
		return checkSign(int64(t))
	case int32:
		return checkSign(int64(t))
	case int64:
		return checkSign(t)
	case uint32:
		return int64(t), true, nil
	case uint64:
		if t > math.MaxInt64 {
			return 0, false, errOutOfRange
		}
		return int64(t), true, nil
	case float64:
		return parseFloat(t)
	default:
		return 0, false, fmt.Errorf("%w: %T", errUnsupportedTy, v)
	}
}

func parseNumberString(s string) (int64, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, nil
	}
	digits := strings.TrimPrefix(s, "+")
	if digits == "" {
		return 0, false, errNotDigits
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			if f, err := strconv.ParseFloat(s, 64); err == nil && s == digits {
				return parseFloat(f)
			}
			if strings.HasPrefix(digits, "-") {
				return 0, false, errNegative
			}
			return 0, false, errNotDigits
		}
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false, errOutOfRange
	}
	return n, true, nil
}

func parseFloat(f float64) (int64, bool, error) {
	switch {
	case math.IsNaN(f) || math.IsInf(f, 0):
		return 0, false, errNotIntegral
	case f < 0:
		return 0, false, errNegative
	case f != math.Trunc(f):
		return 0, false, errNotIntegral
	case f >= math.MaxInt64:
		return 0, false, errOutOfRange
	}
	return int64(f), true, nil
}

func checkSign(n int64) (int64, bool, error) {
	if n < 0 {
		return 0, false, errNegative
	}
	return n, true, nil
}
