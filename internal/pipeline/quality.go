package pipeline

import (
	"github.com/savegress/vitalsync/pkg/models"
)

// LevelForScore maps a quality score onto its level. This is the single
// source of the mapping; the validator and the quality reporter must agree
// on thresholds or dashboards and raw data drift apart.
func LevelForScore(score float64) models.QualityLevel {
	switch {
	case score >= 0.9:
		return models.QualityExcellent
	case score >= 0.7:
		return models.QualityGood
	case score >= 0.5:
		return models.QualityFair
	case score > 0:
		return models.QualityPoor
	default:
		return models.QualityInvalid
	}
}
