package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/carnamapa/carnamapa/pkg/geocode"
)

// CityRunStats summarizes one city's pass through the pipeline.
type CityRunStats struct {
	City       string        `json:"city"`
	Slug       string        `json:"slug"`
	Pages      int           `json:"pages"`
	Found      int           `json:"found"`
	New        int           `json:"new"`
	Skipped    int           `json:"skipped"`
	Geocoded   int           `json:"geocoded"`
	Unresolved int           `json:"unresolved"`
	// Errors counts event pages that failed to fetch or parse. The city
	// keeps going past them, so they only surface here.
	Errors int `json:"errors"`
	// UnresolvedIDs names the events still lacking coordinates, so an
	// operator can judge whether a retry pass is worth running.
	UnresolvedIDs []string      `json:"unresolved_ids,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
	Error         string        `json:"error,omitempty"`
}

// Failed reports whether the city's run aborted with an error.
func (s CityRunStats) Failed() bool { return s.Error != "" }

// RunTotals aggregates the per-city stats.
type RunTotals struct {
	Cities     int `json:"cities"`
	Failures   int `json:"failures"`
	Found      int `json:"found"`
	New        int `json:"new"`
	Skipped    int `json:"skipped"`
	Geocoded   int `json:"geocoded"`
	Unresolved int `json:"unresolved"`
	Errors     int `json:"errors"`
}

// RunReport is the machine-readable summary written at the end of a run.
type RunReport struct {
	ID         string             `json:"id"`
	Mode       string             `json:"mode"` // "scrape" or "retry"
	DryRun     bool               `json:"dry_run,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Cities     []CityRunStats     `json:"cities"`
	Totals     RunTotals          `json:"totals"`
	Geocoding  geocode.ChainStats `json:"geocoding"`
}

// NewRunReport starts a report for a run in the given mode.
func NewRunReport(mode string) *RunReport {
	return &RunReport{
		ID:        uuid.NewString(),
		Mode:      mode,
		StartedAt: time.Now().UTC(),
	}
}

// Add records a finished city and folds it into the totals.
func (r *RunReport) Add(stats CityRunStats) {
	r.Cities = append(r.Cities, stats)
	r.Totals.Cities++
	if stats.Failed() {
		r.Totals.Failures++
	}
	r.Totals.Found += stats.Found
	r.Totals.New += stats.New
	r.Totals.Skipped += stats.Skipped
	r.Totals.Geocoded += stats.Geocoded
	r.Totals.Unresolved += stats.Unresolved
	r.Totals.Errors += stats.Errors
}

// Finish stamps the end time and attaches the geocoding counters.
func (r *RunReport) Finish(stats geocode.ChainStats) {
	r.FinishedAt = time.Now().UTC()
	r.Geocoding = stats
}

// Duration is the wall-clock length of the run.
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
