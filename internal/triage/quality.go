package triage

import (
	"github.com/careops/triage-cli/internal/model"
)

// HasQualityIssue reports whether any required field of the record fails to
// parse. Evaluated independently of scoring: a record can score 0 on every
// axis and still be flagged here.
func HasQualityIssue(rec model.PatientRecord) bool {
	if !ParseBloodPressure(rec.BloodPressure).Valid {
		return true
	}
	if _, ok := ParseNumber(rec.Temperature); !ok {
		return true
	}
	if _, ok := ParseNumber(rec.Age); !ok {
		return true
	}
	return false
}
