package triage

import (
	"github.com/careops/triage-cli/internal/model"
)

// Blood pressure staging follows the upstream clinical table. The diastolic
// axis has no stage 2: 80-89 maps straight to 3. Kept as-is to stay
// bit-compatible with the service we report into.
func systolicStage(v float64) int {
	switch {
	case v < 120:
		return 1
	case v <= 129:
		return 2
	case v <= 139:
		return 3
	case v >= 140:
		return 4
	default:
		return 0
	}
}

func diastolicStage(v float64) int {
	switch {
	case v < 80:
		return 1
	case v <= 89:
		return 3
	case v >= 90:
		return 4
	default:
		return 0
	}
}

// ScoreBloodPressure maps a parsed reading to a 0-4 risk score. The two
// explicit low categories (normal, elevated) require both axes to agree;
// everything else takes the worse of the two stages, landing in {3,4}.
func ScoreBloodPressure(bp model.BloodPressureReading) int {
	if !bp.Valid {
		return 0
	}

	if bp.Systolic < 120 && bp.Diastolic < 80 {
		return 1
	}
	if bp.Systolic >= 120 && bp.Systolic <= 129 && bp.Diastolic < 80 {
		return 2
	}

	stage := max(systolicStage(bp.Systolic), diastolicStage(bp.Diastolic))
	if stage >= 4 {
		return 4
	}
	return 3
}

// ScoreTemperature maps a temperature field to a 0-2 score. Unparsable
// values score 0.
func ScoreTemperature(raw any) int {
	t, ok := ParseNumber(raw)
	if !ok {
		return 0
	}
	switch {
	case t >= 101.0:
		return 2
	case t >= 99.6:
		return 1
	default:
		return 0
	}
}

// ScoreAge maps an age field to a 0-2 score. Any parseable age at or below
// 65 scores 1, including implausible negatives; only unparsable values
// score 0.
func ScoreAge(raw any) int {
	a, ok := ParseNumber(raw)
	if !ok {
		return 0
	}
	if a > 65 {
		return 2
	}
	return 1
}

// Assess computes the full risk assessment for a record. Pure and
// total: malformed fields degrade to zero scores instead of erroring.
func Assess(rec model.PatientRecord) model.RiskAssessment {
	bp := ScoreBloodPressure(ParseBloodPressure(rec.BloodPressure))
	temp := ScoreTemperature(rec.Temperature)
	age := ScoreAge(rec.Age)

	return model.RiskAssessment{
		BPScore:   bp,
		TempScore: temp,
		AgeScore:  age,
		Total:     bp + temp + age,
	}
}
