package pipeline

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/savegress/vitalsync/pkg/models"
)

// Interpolator synthesizes points across short data gaps. Gaps longer than
// maxGapFactor x the nominal interval are left alone: the quality reporter
// surfaces those as missing intervals instead of fabricating clinically
// misleading values across long outages.
type Interpolator struct {
	minGapFactor float64
	maxGapFactor float64
	score        float64
}

// NewInterpolator creates an interpolator. A gap is fillable when it
// exceeds minGapFactor x interval and does not exceed maxGapFactor x
// interval; synthesized points carry the fixed score.
func NewInterpolator(minGapFactor, maxGapFactor, score float64) *Interpolator {
	return &Interpolator{minGapFactor: minGapFactor, maxGapFactor: maxGapFactor, score: score}
}

// Interpolate scans a per-metric series, sorted ascending by timestamp,
// and returns linearly interpolated points for every fillable gap.
// intervalMinutes is the metric's nominal sampling cadence.
func (in *Interpolator) Interpolate(series []*models.NormalizedPoint, intervalMinutes float64) []*models.NormalizedPoint {
	if intervalMinutes <= 0 || len(series) < 2 {
		return nil
	}

	var filled []*models.NormalizedPoint
	for i := 0; i < len(series)-1; i++ {
		cur, next := series[i], series[i+1]
		gapMinutes := next.Timestamp.Sub(cur.Timestamp).Minutes()
		if gapMinutes <= in.minGapFactor*intervalMinutes || gapMinutes > in.maxGapFactor*intervalMinutes {
			continue
		}

		missing := int(math.Floor(gapMinutes/intervalMinutes)) - 1
		for slot := 1; slot <= missing; slot++ {
			offset := time.Duration(float64(slot) * intervalMinutes * float64(time.Minute))
			ts := cur.Timestamp.Add(offset)
			fraction := ts.Sub(cur.Timestamp).Minutes() / gapMinutes
			value := cur.Value + (next.Value-cur.Value)*fraction

			filled = append(filled, &models.NormalizedPoint{
				ID:             uuid.New().String(),
				PatientID:      cur.PatientID,
				Timestamp:      ts,
				Metric:         cur.Metric,
				Value:          value,
				Unit:           cur.Unit,
				QualityScore:   in.score,
				QualityLevel:   LevelForScore(in.score),
				IsInterpolated: true,
				Provenance:     models.ProvenanceInterpolated,
			})
		}
	}
	return filled
}
