// Package metrics holds the static range table used to validate readings.
package metrics

import (
	"github.com/savegress/vitalsync/pkg/models"
)

// Catalog is an immutable lookup table of metric definitions.
// Built once at startup; safe for concurrent reads.
type Catalog struct {
	defs map[string]models.MetricDefinition
}

// NewCatalog builds a catalog from the built-in definitions plus any
// overrides. An override with a known ID replaces the built-in entry;
// unknown IDs extend the catalog.
func NewCatalog(overrides []models.MetricDefinition) *Catalog {
	defs := make(map[string]models.MetricDefinition, len(builtins)+len(overrides))
	for _, d := range builtins {
		defs[d.ID] = d
	}
	for _, d := range overrides {
		defs[d.ID] = d
	}
	return &Catalog{defs: defs}
}

// Lookup returns the definition for a metric identifier
func (c *Catalog) Lookup(metric string) (models.MetricDefinition, bool) {
	d, ok := c.defs[metric]
	return d, ok
}

// Interval returns the nominal sampling interval in minutes, or 0 if the
// metric is unknown
func (c *Catalog) Interval(metric string) float64 {
	if d, ok := c.defs[metric]; ok {
		return d.IntervalMinutes
	}
	return 0
}

// IDs returns all known metric identifiers
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.defs))
	for id := range c.defs {
		ids = append(ids, id)
	}
	return ids
}

// Built-in wearable metric ranges. Hard bounds mark physiologically
// impossible values; outlier bounds mark plausible-but-unusual ones.
var builtins = []models.MetricDefinition{
	{ID: "heart-rate-resting", DisplayName: "Resting Heart Rate", Unit: "bpm", HardMin: 30, HardMax: 200, OutlierMin: 38, OutlierMax: 120, IntervalMinutes: 5},
	{ID: "heart-rate", DisplayName: "Heart Rate", Unit: "bpm", HardMin: 25, HardMax: 250, OutlierMin: 40, OutlierMax: 190, IntervalMinutes: 1},
	{ID: "hrv-rmssd", DisplayName: "Heart Rate Variability (RMSSD)", Unit: "ms", HardMin: 1, HardMax: 300, OutlierMin: 10, OutlierMax: 150, IntervalMinutes: 5},
	{ID: "spo2", DisplayName: "Blood Oxygen Saturation", Unit: "%", HardMin: 50, HardMax: 100, OutlierMin: 88, OutlierMax: 100, IntervalMinutes: 5},
	{ID: "respiratory-rate", DisplayName: "Respiratory Rate", Unit: "breaths/min", HardMin: 4, HardMax: 60, OutlierMin: 8, OutlierMax: 25, IntervalMinutes: 5},
	{ID: "body-temperature", DisplayName: "Body Temperature", Unit: "celsius", HardMin: 30, HardMax: 43, OutlierMin: 35, OutlierMax: 38.5, IntervalMinutes: 30},
	{ID: "blood-glucose", DisplayName: "Blood Glucose", Unit: "mg/dL", HardMin: 20, HardMax: 600, OutlierMin: 60, OutlierMax: 250, IntervalMinutes: 15},
	{ID: "blood-pressure-systolic", DisplayName: "Systolic Blood Pressure", Unit: "mmHg", HardMin: 50, HardMax: 260, OutlierMin: 85, OutlierMax: 165, IntervalMinutes: 60},
	{ID: "blood-pressure-diastolic", DisplayName: "Diastolic Blood Pressure", Unit: "mmHg", HardMin: 30, HardMax: 160, OutlierMin: 50, OutlierMax: 105, IntervalMinutes: 60},
	{ID: "steps", DisplayName: "Step Count", Unit: "steps", HardMin: 0, HardMax: 10000, OutlierMin: 0, OutlierMax: 5000, IntervalMinutes: 15},
	{ID: "weight", DisplayName: "Body Weight", Unit: "kg", HardMin: 20, HardMax: 400, OutlierMin: 35, OutlierMax: 250, IntervalMinutes: 1440},
}
