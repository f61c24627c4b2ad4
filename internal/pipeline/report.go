package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/carnamapa/carnamapa/internal/model"
)

// writeReport logs the run summary and, except on dry runs, persists the
// report JSON next to the output files.
func (p *Pipeline) writeReport(report *model.RunReport, dryRun bool) error {
	logSummary(report)

	if dryRun || p.reportPath == "" {
		return nil
	}

	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return eris.Wrap(err, "pipeline: marshal report")
	}
	if err := os.MkdirAll(filepath.Dir(p.reportPath), 0o755); err != nil {
		return eris.Wrap(err, "pipeline: report dir")
	}
	if err := os.WriteFile(p.reportPath, raw, 0o644); err != nil {
		return eris.Wrap(err, "pipeline: write report")
	}
	return nil
}

func logSummary(report *model.RunReport) {
	log := zap.L().With(
		zap.String("run_id", report.ID),
		zap.String("mode", report.Mode),
	)
	for _, c := range report.Cities {
		if c.Failed() {
			log.Warn("city failed",
				zap.String("city", c.Slug),
				zap.String("error", c.Error),
			)
		}
	}
	log.Info("run complete",
		zap.Duration("duration", report.Duration()),
		zap.Int("cities", report.Totals.Cities),
		zap.Int("failures", report.Totals.Failures),
		zap.Int("found", report.Totals.Found),
		zap.Int("new", report.Totals.New),
		zap.Int("skipped", report.Totals.Skipped),
		zap.Int("geocoded", report.Totals.Geocoded),
		zap.Int("unresolved", report.Totals.Unresolved),
		zap.Int("errors", report.Totals.Errors),
		zap.Int("cache_hits", report.Geocoding.CacheHits),
	)
}
