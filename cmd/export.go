package main

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/careops/triage-cli/internal/model"
)

// writeResults exports the result set to a file in the requested format.
func writeResults(path, format string, results model.ResultSet) error {
	switch strings.ToLower(format) {
	case "json":
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return eris.Wrap(err, "export: marshal json")
		}
		return eris.Wrap(os.WriteFile(path, append(data, '\n'), 0644), "export: write file")

	case "yaml", "yml":
		data, err := yaml.Marshal(results)
		if err != nil {
			return eris.Wrap(err, "export: marshal yaml")
		}
		return eris.Wrap(os.WriteFile(path, data, 0644), "export: write file")

	case "csv":
		f, err := os.Create(path)
		if err != nil {
			return eris.Wrap(err, "export: create file")
		}
		defer f.Close() //nolint:errcheck

		w := csv.NewWriter(f)
		if err := w.Write([]string{"category", "patient_id"}); err != nil {
			return eris.Wrap(err, "export: write header")
		}
		rows := [][2]string{}
		for _, id := range results.HighRiskPatients {
			rows = append(rows, [2]string{"high_risk", id})
		}
		for _, id := range results.FeverPatients {
			rows = append(rows, [2]string{"fever", id})
		}
		for _, id := range results.DataQualityIssues {
			rows = append(rows, [2]string{"data_quality", id})
		}
		for _, row := range rows {
			if err := w.Write(row[:]); err != nil {
				return eris.Wrap(err, "export: write row")
			}
		}
		w.Flush()
		return eris.Wrap(w.Error(), "export: flush")

	default:
		return eris.Errorf("export: unknown format %q (expected json, yaml, or csv)", format)
	}
}
