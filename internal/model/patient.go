package model

// PatientRecord is a single record as returned by the patients API. The
// upstream feed gives no type guarantees: any field may be missing, empty,
// a number, or a string, so every field is held loosely typed and validated
// downstream by the triage parsers.
type PatientRecord struct {
	PatientID     any `json:"patient_id"`
	BloodPressure any `json:"blood_pressure"`
	Temperature   any `json:"temperature"`
	Age           any `json:"age"`
}

// ID returns the patient identifier if it is a usable (non-empty string)
// value. Records without a usable identifier are excluded from every
// output list.
func (p PatientRecord) ID() (string, bool) {
	id, ok := p.PatientID.(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// BloodPressureReading holds a parsed systolic/diastolic pair. Valid is
// false when the source value did not split into exactly two numeric
// segments; Systolic and Diastolic are zero in that case.
type BloodPressureReading struct {
	Systolic  float64
	Diastolic float64
	Valid     bool
}

// RiskAssessment is the per-record scoring result. Each axis degrades to 0
// on unparsable input rather than erroring.
type RiskAssessment struct {
	BPScore   int `json:"bp_score"`
	TempScore int `json:"temp_score"`
	AgeScore  int `json:"age_score"`
	Total     int `json:"total"`
}
