package triage

import (
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/careops/triage-cli/internal/model"
)

const (
	// HighRiskThreshold is the minimum total score that classifies a
	// patient as high risk.
	HighRiskThreshold = 4

	// FeverThreshold is the minimum parsed temperature (Fahrenheit) that
	// classifies a patient as febrile.
	FeverThreshold = 99.6
)

// Aggregate scores every record with a usable identifier and builds the
// final result set. Records without a non-empty string patient_id are
// skipped silently and reported only through the returned skip count.
// Output lists are deduplicated and sorted ascending, so the result is
// identical regardless of input ordering or duplicate records.
func Aggregate(records []model.PatientRecord) (model.ResultSet, int) {
	highRisk := make(map[string]struct{})
	fever := make(map[string]struct{})
	quality := make(map[string]struct{})

	skipped := 0
	for _, rec := range records {
		id, ok := rec.ID()
		if !ok {
			skipped++
			continue
		}

		if Assess(rec).Total >= HighRiskThreshold {
			highRisk[id] = struct{}{}
		}
		if t, ok := ParseNumber(rec.Temperature); ok && t >= FeverThreshold {
			fever[id] = struct{}{}
		}
		if HasQualityIssue(rec) {
			quality[id] = struct{}{}
		}
	}

	if skipped > 0 {
		zap.L().Warn("triage: records without usable patient_id skipped",
			zap.Int("skipped", skipped),
		)
	}

	return model.ResultSet{
		HighRiskPatients:  sortedIDs(highRisk),
		FeverPatients:     sortedIDs(fever),
		DataQualityIssues: sortedIDs(quality),
	}, skipped
}

// sortedIDs returns the set members ascending. Always non-nil so empty
// lists serialize as [] rather than null.
func sortedIDs(set map[string]struct{}) []string {
	ids := make([]string, 0, len(set))
	ids = append(ids, slices.Sorted(maps.Keys(set))...)
	return ids
}
