package pipeline

import (
	"github.com/savegress/vitalsync/pkg/models"
)

// Merge deduplicates the union of existing and incoming points keyed by
// (patient, metric, timestamp). The candidate with the highest quality
// score wins each slot; on a tie the already-present point stays, so
// re-ingesting the same batch never reshuffles the store.
//
// Pure and idempotent: Merge(Merge(a, b), b) == Merge(a, b).
func Merge(existing, incoming []*models.NormalizedPoint) []*models.NormalizedPoint {
	merged := make(map[models.PointKey]*models.NormalizedPoint, len(existing)+len(incoming))
	for _, p := range existing {
		key := p.Key()
		if cur, ok := merged[key]; ok && p.QualityScore <= cur.QualityScore {
			continue
		}
		merged[key] = p
	}
	for _, p := range incoming {
		key := p.Key()
		if cur, ok := merged[key]; ok && p.QualityScore <= cur.QualityScore {
			continue
		}
		merged[key] = p
	}

	result := make([]*models.NormalizedPoint, 0, len(merged))
	for _, p := range merged {
		result = append(result, p)
	}
	return result
}
