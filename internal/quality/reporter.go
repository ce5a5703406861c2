// Package quality derives coverage and quality statistics over a patient's
// normalized corpus. Reports are computed on demand and never persisted.
package quality

import (
	"time"

	"github.com/savegress/vitalsync/internal/config"
	"github.com/savegress/vitalsync/internal/pipeline"
	"github.com/savegress/vitalsync/internal/store"
	"github.com/savegress/vitalsync/pkg/models"
)

// Reporter builds data quality reports from the normalized store. It only
// reads snapshots, so it is safe to run while ingestion is writing.
type Reporter struct {
	store        *store.Store
	gapMetric    string
	gapThreshold time.Duration
}

// NewReporter creates a reporter. gapMetric is the highest-cadence vital
// used for missing-interval detection; gaps between its consecutive points
// longer than the threshold are flagged.
func NewReporter(cfg *config.QualityConfig, st *store.Store) *Reporter {
	return &Reporter{
		store:        st,
		gapMetric:    cfg.GapMetric,
		gapThreshold: cfg.GapThreshold,
	}
}

// Report summarizes the patient's points inside [start, end]. An unknown
// patient or empty window yields a zeroed report with level invalid, so
// dashboards for freshly registered patients still render.
func (r *Reporter) Report(patientID string, start, end time.Time) *models.DataQualityReport {
	report := &models.DataQualityReport{
		PatientID:    patientID,
		PeriodStart:  start,
		PeriodEnd:    end,
		OverallLevel: models.QualityInvalid,
	}

	points := r.store.GetData(patientID, store.Filter{Start: &start, End: &end})
	if len(points) == 0 {
		return report
	}

	var scoreSum float64
	for _, p := range points {
		report.TotalPoints++
		scoreSum += p.QualityScore
		if p.QualityScore > 0 {
			report.ValidPoints++
		}
		if p.IsInterpolated {
			report.InterpolatedCount++
		}
		if p.IsOutlier {
			report.OutlierCount++
		}
	}

	report.AverageScore = scoreSum / float64(report.TotalPoints)
	report.OverallLevel = pipeline.LevelForScore(report.AverageScore)
	report.Gaps = r.detectGaps(points)
	report.MissingIntervals = len(report.Gaps)

	return report
}

// detectGaps scans the gap-detection metric's series for silences longer
// than the threshold. Long outages must stay visible as missingness; the
// interpolator never smooths them away.
func (r *Reporter) detectGaps(points []*models.NormalizedPoint) []models.GapInterval {
	var series []*models.NormalizedPoint
	for _, p := range points {
		if p.Metric == r.gapMetric {
			series = append(series, p)
		}
	}
	if len(series) < 2 {
		return nil
	}

	var gaps []models.GapInterval
	for i := 0; i < len(series)-1; i++ {
		cur, next := series[i], series[i+1]
		gap := next.Timestamp.Sub(cur.Timestamp)
		if gap <= r.gapThreshold {
			continue
		}
		gaps = append(gaps, models.GapInterval{
			Metric:          r.gapMetric,
			Start:           cur.Timestamp,
			End:             next.Timestamp,
			DurationMinutes: gap.Minutes(),
		})
	}
	return gaps
}
