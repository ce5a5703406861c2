package models

import (
	"time"
)

// QualityLevel classifies a quality score into a clinical usefulness band
type QualityLevel string

const (
	QualityExcellent QualityLevel = "excellent"
	QualityGood      QualityLevel = "good"
	QualityFair      QualityLevel = "fair"
	QualityPoor      QualityLevel = "poor"
	QualityInvalid   QualityLevel = "invalid"
)

// Provenance identifies how a normalized point came to exist
type Provenance string

const (
	ProvenanceDevice       Provenance = "device"
	ProvenanceInterpolated Provenance = "interpolated"
	ProvenanceManual       Provenance = "manual"
)

// ConnectionStatus represents device connectivity
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionIntermittent ConnectionStatus = "intermittent"
)

// SyncStatus represents the outcome of a synchronization attempt
type SyncStatus string

const (
	SyncStatusSynced        SyncStatus = "synced"
	SyncStatusPending       SyncStatus = "pending"
	SyncStatusConflict      SyncStatus = "conflict"
	SyncStatusFailed        SyncStatus = "failed"
	SyncStatusOfflineQueued SyncStatus = "offline_queued"
)

// MetricDefinition describes the physical bounds and cadence of one metric.
// Hard bounds are physiological validity limits; outlier bounds are the
// narrower plausible range. Immutable after catalog load.
type MetricDefinition struct {
	ID              string  `yaml:"id" json:"id"`
	DisplayName     string  `yaml:"display_name" json:"display_name"`
	Unit            string  `yaml:"unit" json:"unit"`
	HardMin         float64 `yaml:"hard_min" json:"hard_min"`
	HardMax         float64 `yaml:"hard_max" json:"hard_max"`
	OutlierMin      float64 `yaml:"outlier_min" json:"outlier_min"`
	OutlierMax      float64 `yaml:"outlier_max" json:"outlier_max"`
	IntervalMinutes float64 `yaml:"interval_minutes" json:"interval_minutes"`
}

// RawReading is a single device observation before validation
type RawReading struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	PatientID string    `json:"patient_id"`
	Timestamp time.Time `json:"timestamp"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
}

// NormalizedPoint is the canonical quality-scored record stored per
// (patient, metric, timestamp). Never mutated after creation; the
// deduplicator replaces superseded points wholesale.
type NormalizedPoint struct {
	ID             string       `json:"id"`
	ReadingID      string       `json:"reading_id,omitempty"`
	DeviceID       string       `json:"device_id,omitempty"`
	PatientID      string       `json:"patient_id"`
	Timestamp      time.Time    `json:"timestamp"`
	Metric         string       `json:"metric"`
	Value          float64      `json:"value"`
	Unit           string       `json:"unit"`
	QualityScore   float64      `json:"quality_score"`
	QualityLevel   QualityLevel `json:"quality_level"`
	IsInterpolated bool         `json:"is_interpolated"`
	IsOutlier      bool         `json:"is_outlier"`
	Provenance     Provenance   `json:"provenance"`
}

// Key identifies the dedup slot a point occupies
func (p *NormalizedPoint) Key() PointKey {
	return PointKey{PatientID: p.PatientID, Metric: p.Metric, Timestamp: p.Timestamp.UnixNano()}
}

// PointKey is the uniqueness key for normalized points
type PointKey struct {
	PatientID string
	Metric    string
	Timestamp int64
}

// Device is a registered wearable sensor
type Device struct {
	ID              string           `json:"id"`
	PatientID       string           `json:"patient_id"`
	Type            string           `json:"type"`
	Name            string           `json:"name,omitempty"`
	IntervalMinutes float64          `json:"interval_minutes,omitempty"`
	Status          ConnectionStatus `json:"status"`
	BatteryLevel    int              `json:"battery_level"`
	CalibratedAt    *time.Time       `json:"calibrated_at,omitempty"`
	CalibrationDue  *time.Time       `json:"calibration_due,omitempty"`
	Timezone        string           `json:"timezone,omitempty"`
	LastSeen        *time.Time       `json:"last_seen,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// SyncRecord is one immutable audit entry for a synchronization attempt
type SyncRecord struct {
	ID                string     `json:"id"`
	DeviceID          string     `json:"device_id"`
	PatientID         string     `json:"patient_id"`
	Timestamp         time.Time  `json:"timestamp"`
	Status            SyncStatus `json:"status"`
	PointCount        int        `json:"point_count"`
	ConflictsResolved int        `json:"conflicts_resolved"`
	DuplicatesRemoved int        `json:"duplicates_removed"`
	Error             string     `json:"error,omitempty"`
}

// OfflineQueueEntry buffers readings a device captured while it could not
// reach the pipeline. RetryCount is the only mutable field.
type OfflineQueueEntry struct {
	ID         string       `json:"id"`
	DeviceID   string       `json:"device_id"`
	PatientID  string       `json:"patient_id"`
	QueuedAt   time.Time    `json:"queued_at"`
	Readings   []RawReading `json:"readings"`
	RetryCount int          `json:"retry_count"`
	MaxRetries int          `json:"max_retries"`
}

// BatchResult reports the outcome of one batch ingestion
type BatchResult struct {
	Accepted          int `json:"accepted"`
	Rejected          int `json:"rejected"`
	DuplicatesRemoved int `json:"duplicates_removed"`
}

// ReplayResult reports the outcome of one offline queue pass
type ReplayResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// GapInterval is a detected stretch of missing data
type GapInterval struct {
	Metric          string    `json:"metric"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes float64   `json:"duration_minutes"`
}

// DataQualityReport summarizes a patient's normalized corpus over a window.
// Derived on demand, never persisted.
type DataQualityReport struct {
	PatientID         string        `json:"patient_id"`
	PeriodStart       time.Time     `json:"period_start"`
	PeriodEnd         time.Time     `json:"period_end"`
	TotalPoints       int           `json:"total_points"`
	ValidPoints       int           `json:"valid_points"`
	InterpolatedCount int           `json:"interpolated_count"`
	OutlierCount      int           `json:"outlier_count"`
	MissingIntervals  int           `json:"missing_intervals"`
	AverageScore      float64       `json:"average_quality_score"`
	OverallLevel      QualityLevel  `json:"overall_quality_level"`
	Gaps              []GapInterval `json:"gaps,omitempty"`
}
