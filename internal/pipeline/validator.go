package pipeline

import (
	"github.com/google/uuid"

	"github.com/savegress/vitalsync/internal/metrics"
	"github.com/savegress/vitalsync/pkg/models"
)

// Validator checks raw readings against the metric range table and turns
// accepted ones into normalized points
type Validator struct {
	catalog      *metrics.Catalog
	outlierScore float64
}

// NewValidator creates a validator. outlierScore is the quality score
// assigned to readings inside hard bounds but outside the soft range.
func NewValidator(catalog *metrics.Catalog, outlierScore float64) *Validator {
	return &Validator{catalog: catalog, outlierScore: outlierScore}
}

// Validate reports whether a reading is acceptable and what quality score
// it earns. Unknown metrics and hard-bound violations score 0 and are
// rejected; such readings never become normalized points.
func (v *Validator) Validate(raw *models.RawReading) (bool, float64) {
	def, ok := v.catalog.Lookup(raw.Metric)
	if !ok {
		return false, 0
	}
	if raw.Value < def.HardMin || raw.Value > def.HardMax {
		return false, 0
	}
	if raw.Value < def.OutlierMin || raw.Value > def.OutlierMax {
		return true, v.outlierScore
	}
	return true, 1.0
}

// Normalize converts an accepted reading into its canonical point. Returns
// nil when the reading fails validation; persistence is the pipeline's job,
// not the validator's.
func (v *Validator) Normalize(raw *models.RawReading) *models.NormalizedPoint {
	accepted, score := v.Validate(raw)
	if !accepted {
		return nil
	}

	def, _ := v.catalog.Lookup(raw.Metric)
	unit := raw.Unit
	if unit == "" {
		unit = def.Unit
	}

	return &models.NormalizedPoint{
		ID:           uuid.New().String(),
		ReadingID:    raw.ID,
		DeviceID:     raw.DeviceID,
		PatientID:    raw.PatientID,
		Timestamp:    raw.Timestamp.UTC(),
		Metric:       raw.Metric,
		Value:        raw.Value,
		Unit:         unit,
		QualityScore: score,
		QualityLevel: LevelForScore(score),
		IsOutlier:    score < 1.0,
		Provenance:   models.ProvenanceDevice,
	}
}
