// Package syncer tracks per-device synchronization outcomes and buffers
// readings captured while a device was offline, replaying them with a
// bounded retry budget.
package syncer

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/savegress/vitalsync/internal/config"
	"github.com/savegress/vitalsync/pkg/models"
)

// Ingester replays buffered readings into the pipeline
type Ingester interface {
	IngestBatch(patientID string, readings []models.RawReading) models.BatchResult
}

// Manager owns the append-only sync audit trail and the per-patient active
// offline queues. Replay is caller-driven: nothing here runs on a timer,
// the surrounding system decides when a reconnect warrants a pass.
type Manager struct {
	mu       sync.Mutex
	cfg      *config.SyncConfig
	ingester Ingester
	records  map[string][]*models.SyncRecord        // patient -> audit trail, append order
	queues   map[string][]*models.OfflineQueueEntry // patient -> active queue
	logger   *zap.Logger
	onRecord func(*models.SyncRecord)
	onSynced func(deviceID string)
}

// NewManager creates a sync manager replaying into the given ingester
func NewManager(cfg *config.SyncConfig, ingester Ingester, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		ingester: ingester,
		records:  make(map[string][]*models.SyncRecord),
		queues:   make(map[string][]*models.OfflineQueueEntry),
		logger:   logger,
	}
}

// SetRecordCallback registers a callback invoked for every audit record
// appended, e.g. to archive it. Runs on the recording goroutine.
func (m *Manager) SetRecordCallback(cb func(*models.SyncRecord)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRecord = cb
}

// SetSyncedCallback registers a callback invoked when a device completes a
// successful sync, e.g. to refresh its registry heartbeat
func (m *Manager) SetSyncedCallback(cb func(deviceID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSynced = cb
}

// QueueOfflineData buffers readings a device captured while it could not
// reach the pipeline. Always succeeds; the entry joins the patient's
// active queue and an offline_queued record lands in the audit trail.
func (m *Manager) QueueOfflineData(deviceID, patientID string, readings []models.RawReading) *models.OfflineQueueEntry {
	entry := &models.OfflineQueueEntry{
		ID:         uuid.New().String(),
		DeviceID:   deviceID,
		PatientID:  patientID,
		QueuedAt:   time.Now().UTC(),
		Readings:   readings,
		MaxRetries: m.cfg.MaxRetries,
	}

	m.mu.Lock()
	m.queues[patientID] = append(m.queues[patientID], entry)
	m.appendRecord(&models.SyncRecord{
		ID:         uuid.New().String(),
		DeviceID:   deviceID,
		PatientID:  patientID,
		Timestamp:  time.Now().UTC(),
		Status:     models.SyncStatusOfflineQueued,
		PointCount: len(readings),
	})
	m.mu.Unlock()

	m.logger.Info("offline data queued",
		zap.String("patient_id", patientID),
		zap.String("device_id", deviceID),
		zap.Int("readings", len(readings)))

	return entry
}

// ProcessOfflineQueue walks the patient's active queue once. Entries whose
// retry budget is already spent are dropped as failed without another
// attempt; the rest are replayed through the pipeline. An entry that gets
// at least one reading accepted is synced and removed; otherwise its retry
// count grows and it either stays queued or goes terminal at the budget.
// Repeated immediate calls are safe.
func (m *Manager) ProcessOfflineQueue(patientID string) models.ReplayResult {
	m.mu.Lock()
	pending := m.queues[patientID]
	m.queues[patientID] = nil
	m.mu.Unlock()

	var result models.ReplayResult
	var keep []*models.OfflineQueueEntry

	for _, entry := range pending {
		if entry.RetryCount >= entry.MaxRetries {
			result.Failed++
			m.record(entry, models.SyncStatusFailed, models.BatchResult{}, "retry budget exhausted")
			continue
		}

		res := m.ingester.IngestBatch(patientID, entry.Readings)
		if res.Accepted > 0 {
			result.Processed++
			m.record(entry, models.SyncStatusSynced, res, "")
			if m.onSynced != nil {
				m.onSynced(entry.DeviceID)
			}
			continue
		}

		entry.RetryCount++
		if entry.RetryCount >= entry.MaxRetries {
			result.Failed++
			m.record(entry, models.SyncStatusFailed, res, "retry budget exhausted")
			continue
		}
		m.record(entry, models.SyncStatusPending, res,
			fmt.Sprintf("replay accepted no readings, attempt %d of %d", entry.RetryCount, entry.MaxRetries))
		keep = append(keep, entry)
	}

	m.mu.Lock()
	// Entries queued while we were replaying stay behind today's survivors
	m.queues[patientID] = append(keep, m.queues[patientID]...)
	result.Remaining = len(m.queues[patientID])
	m.mu.Unlock()

	m.logger.Info("offline queue processed",
		zap.String("patient_id", patientID),
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed),
		zap.Int("remaining", result.Remaining))

	return result
}

// Record appends an audit entry for a live (non-queued) sync, e.g. a batch
// delivered straight to the ingestion API by a connected device
func (m *Manager) Record(deviceID, patientID string, status models.SyncStatus, res models.BatchResult, errMsg string) *models.SyncRecord {
	rec := &models.SyncRecord{
		ID:                uuid.New().String(),
		DeviceID:          deviceID,
		PatientID:         patientID,
		Timestamp:         time.Now().UTC(),
		Status:            status,
		PointCount:        res.Accepted,
		ConflictsResolved: res.DuplicatesRemoved,
		DuplicatesRemoved: res.DuplicatesRemoved,
		Error:             errMsg,
	}

	m.mu.Lock()
	m.appendRecord(rec)
	m.mu.Unlock()

	if status == models.SyncStatusSynced && m.onSynced != nil {
		m.onSynced(deviceID)
	}
	return rec
}

// GetSyncHistory returns the patient's audit trail, most recent first.
// limit <= 0 applies the configured default.
func (m *Manager) GetSyncHistory(patientID string, limit int) []*models.SyncRecord {
	if limit <= 0 {
		limit = m.cfg.HistoryLimit
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	trail := m.records[patientID]
	history := make([]*models.SyncRecord, 0, limit)
	for i := len(trail) - 1; i >= 0 && len(history) < limit; i-- {
		history = append(history, trail[i])
	}
	return history
}

// GetLastSyncPerDevice returns the most recent synced record per device id
func (m *Manager) GetLastSyncPerDevice(patientID string) map[string]*models.SyncRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	last := make(map[string]*models.SyncRecord)
	for _, rec := range m.records[patientID] {
		if rec.Status != models.SyncStatusSynced {
			continue
		}
		cur, ok := last[rec.DeviceID]
		if !ok || rec.Timestamp.After(cur.Timestamp) {
			last[rec.DeviceID] = rec
		}
	}
	return last
}

// GetOfflineQueueSize returns the patient's active queue length
func (m *Manager) GetOfflineQueueSize(patientID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[patientID])
}

func (m *Manager) record(entry *models.OfflineQueueEntry, status models.SyncStatus, res models.BatchResult, errMsg string) {
	rec := &models.SyncRecord{
		ID:                uuid.New().String(),
		DeviceID:          entry.DeviceID,
		PatientID:         entry.PatientID,
		Timestamp:         time.Now().UTC(),
		Status:            status,
		PointCount:        res.Accepted,
		ConflictsResolved: res.DuplicatesRemoved,
		DuplicatesRemoved: res.DuplicatesRemoved,
		Error:             errMsg,
	}

	m.mu.Lock()
	m.appendRecord(rec)
	m.mu.Unlock()
}

// appendRecord must run with m.mu held
func (m *Manager) appendRecord(rec *models.SyncRecord) {
	m.records[rec.PatientID] = append(m.records[rec.PatientID], rec)
	if m.onRecord != nil {
		go m.onRecord(rec)
	}
}
