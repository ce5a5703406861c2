// Package pipeline implements the telemetry ingestion path: validate raw
// readings, normalize accepted ones, merge them into the per-patient store
// and, as a separate maintenance pass, fill short data gaps.
package pipeline

import (
	"go.uber.org/zap"

	"github.com/savegress/vitalsync/internal/config"
	"github.com/savegress/vitalsync/internal/metrics"
	"github.com/savegress/vitalsync/internal/store"
	"github.com/savegress/vitalsync/pkg/models"
)

// Pipeline orchestrates validation, normalization, deduplication and gap
// interpolation for one deployment
type Pipeline struct {
	catalog      *metrics.Catalog
	validator    *Validator
	interpolator *Interpolator
	store        *store.Store
	gapMetrics   []string
	logger       *zap.Logger
	onData       func(*models.NormalizedPoint)
}

// New creates a pipeline over the given store and catalog
func New(cfg *config.PipelineConfig, catalog *metrics.Catalog, st *store.Store, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		catalog:      catalog,
		validator:    NewValidator(catalog, cfg.OutlierScore),
		interpolator: NewInterpolator(cfg.MinGapFactor, cfg.MaxGapFactor, cfg.InterpolatedScore),
		store:        st,
		gapMetrics:   cfg.GapSensitiveMetrics,
		logger:       logger,
	}
}

// SetDataCallback registers a callback invoked for every point that lands
// in the store. The callback runs on the ingesting goroutine and must not
// block.
func (p *Pipeline) SetDataCallback(cb func(*models.NormalizedPoint)) {
	p.onData = cb
}

// IngestBatch validates and merges a batch of raw readings for one patient.
// Invalid readings are counted and skipped, never fatal: one bad reading
// cannot poison the rest of the batch. A reading labeled for a different
// patient is rejected outright — relabeling or misfiling it would silently
// corrupt clinical data. duplicatesRemoved counts only the shrinkage caused
// by deduplication, not rejections.
func (p *Pipeline) IngestBatch(patientID string, readings []models.RawReading) models.BatchResult {
	var result models.BatchResult

	accepted := make([]*models.NormalizedPoint, 0, len(readings))
	for i := range readings {
		raw := readings[i]
		if raw.PatientID == "" {
			raw.PatientID = patientID
		}
		if raw.PatientID != patientID {
			result.Rejected++
			p.logger.Warn("reading rejected: patient mismatch",
				zap.String("patient_id", patientID),
				zap.String("reading_patient_id", raw.PatientID),
				zap.String("reading_id", raw.ID))
			continue
		}
		point := p.validator.Normalize(&raw)
		if point == nil {
			result.Rejected++
			continue
		}
		accepted = append(accepted, point)
	}
	result.Accepted = len(accepted)

	if len(accepted) > 0 {
		before := 0
		after := 0
		var landed []*models.NormalizedPoint
		p.store.Update(patientID, func(current []*models.NormalizedPoint) []*models.NormalizedPoint {
			before = len(current) + len(accepted)
			merged := Merge(current, accepted)
			after = len(merged)
			kept := make(map[*models.NormalizedPoint]struct{}, len(merged))
			for _, mp := range merged {
				kept[mp] = struct{}{}
			}
			for _, ap := range accepted {
				if _, ok := kept[ap]; ok {
					landed = append(landed, ap)
				}
			}
			return merged
		})
		result.DuplicatesRemoved = before - after

		if p.onData != nil {
			for _, point := range landed {
				p.onData(point)
			}
		}
	}

	p.logger.Debug("batch ingested",
		zap.String("patient_id", patientID),
		zap.Int("accepted", result.Accepted),
		zap.Int("rejected", result.Rejected),
		zap.Int("duplicates_removed", result.DuplicatesRemoved))

	return result
}

// IngestOne validates and merges a single real-time reading. Returns nil
// when the reading is rejected. Gap interpolation is skipped entirely: it
// needs a complete local series, which a single point cannot provide.
func (p *Pipeline) IngestOne(raw *models.RawReading) *models.NormalizedPoint {
	point := p.validator.Normalize(raw)
	if point == nil {
		p.logger.Debug("reading rejected",
			zap.String("patient_id", raw.PatientID),
			zap.String("metric", raw.Metric),
			zap.Float64("value", raw.Value))
		return nil
	}

	landed := false
	p.store.Update(point.PatientID, func(current []*models.NormalizedPoint) []*models.NormalizedPoint {
		merged := Merge(current, []*models.NormalizedPoint{point})
		for _, mp := range merged {
			if mp == point {
				landed = true
				break
			}
		}
		return merged
	})

	if landed && p.onData != nil {
		p.onData(point)
	}
	return point
}

// FillGaps runs the interpolation maintenance pass over the patient's
// gap-sensitive metrics and merges any synthesized points into the store.
// Returns the number of points inserted. Invoked after a batch or on
// demand, never per-ingest.
func (p *Pipeline) FillGaps(patientID string) int {
	inserted := 0
	for _, metric := range p.gapMetrics {
		interval := p.catalog.Interval(metric)
		if interval <= 0 {
			continue
		}

		series := p.store.GetSeries(patientID, metric)
		filled := p.interpolator.Interpolate(series, interval)
		if len(filled) == 0 {
			continue
		}

		p.store.Update(patientID, func(current []*models.NormalizedPoint) []*models.NormalizedPoint {
			return Merge(current, filled)
		})
		inserted += len(filled)

		for _, point := range filled {
			if p.onData != nil {
				p.onData(point)
			}
		}
	}

	if inserted > 0 {
		p.logger.Info("gaps filled",
			zap.String("patient_id", patientID),
			zap.Int("points", inserted))
	}
	return inserted
}

// Store exposes the underlying normalized store for read paths
func (p *Pipeline) Store() *store.Store {
	return p.store
}
