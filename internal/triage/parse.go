package triage

import (
	"math"
	"strconv"
	"strings"

	"github.com/careops/triage-cli/internal/model"
)

// ParseNumber converts a loosely typed record field into a finite float64.
// Native numbers pass through; strings are trimmed and parsed. Empty or
// whitespace-only strings, NaN, and infinities are all rejected.
func ParseNumber(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	case float32:
		return ParseNumber(float64(v))
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// ParseBloodPressure parses a "<systolic>/<diastolic>" string. The reading
// is valid only when the value is a non-empty string splitting on "/" into
// exactly two numeric segments. No plausibility bounds are applied.
func ParseBloodPressure(raw any) model.BloodPressureReading {
	s, ok := raw.(string)
	if !ok || s == "" {
		return model.BloodPressureReading{}
	}

	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return model.BloodPressureReading{}
	}

	sys, ok := ParseNumber(parts[0])
	if !ok {
		return model.BloodPressureReading{}
	}
	dia, ok := ParseNumber(parts[1])
	if !ok {
		return model.BloodPressureReading{}
	}

	return model.BloodPressureReading{Systolic: sys, Diastolic: dia, Valid: true}
}
