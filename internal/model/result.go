package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ResultSet is the aggregated output of a triage run. Each list holds
// patient identifiers, deduplicated and sorted ascending so repeated runs
// over the same records (in any order) produce identical payloads.
type ResultSet struct {
	HighRiskPatients  []string `json:"high_risk_patients" yaml:"high_risk_patients"`
	FeverPatients     []string `json:"fever_patients" yaml:"fever_patients"`
	DataQualityIssues []string `json:"data_quality_issues" yaml:"data_quality_issues"`
}

// RunStats captures per-run counters for logging and the run summary.
type RunStats struct {
	PagesFetched   int           `json:"pages_fetched"`
	RecordsFetched int           `json:"records_fetched"`
	RecordsSkipped int           `json:"records_skipped"`
	Duration       time.Duration `json:"duration"`
}

// RunResult is the outcome of a full assessment run.
type RunResult struct {
	RunID    uuid.UUID       `json:"run_id"`
	Results  ResultSet       `json:"results"`
	Response json.RawMessage `json:"response,omitempty"`
	Stats    RunStats        `json:"stats"`
	DryRun   bool            `json:"dry_run"`
}
