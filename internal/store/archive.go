package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/savegress/vitalsync/pkg/models"
)

// Archive is a write-behind SQLite audit trail of normalized points and
// sync records. The in-memory store stays the source of truth for reads;
// losing an archive write degrades the audit, never the pipeline, so every
// write here is buffered and best-effort.
type Archive struct {
	db     *sql.DB
	logger *zap.Logger

	bufferMu sync.Mutex
	points   []*models.NormalizedPoint
	records  []*models.SyncRecord

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewArchive opens (or creates) the archive database under dataPath and
// starts the background flusher
func NewArchive(dataPath string, logger *zap.Logger) (*Archive, error) {
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataPath, "vitalsync.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &Archive{
		db:      db,
		logger:  logger,
		points:  make([]*models.NormalizedPoint, 0, 1000),
		records: make([]*models.SyncRecord, 0, 100),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	go a.backgroundFlusher()

	return a, nil
}

func (a *Archive) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS points (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		device_id TEXT,
		metric TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		value REAL NOT NULL,
		unit TEXT,
		quality_score REAL NOT NULL,
		quality_level TEXT NOT NULL,
		is_interpolated INTEGER NOT NULL DEFAULT 0,
		is_outlier INTEGER NOT NULL DEFAULT 0,
		provenance TEXT NOT NULL,
		archived_at INTEGER DEFAULT (strftime('%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_points_patient_metric_ts ON points(patient_id, metric, timestamp);

	CREATE TABLE IF NOT EXISTS sync_records (
		id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		patient_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		status TEXT NOT NULL,
		point_count INTEGER NOT NULL DEFAULT 0,
		conflicts_resolved INTEGER NOT NULL DEFAULT 0,
		duplicates_removed INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sync_patient_ts ON sync_records(patient_id, timestamp);
	`

	_, err := a.db.Exec(schema)
	return err
}

// SavePoint buffers one point for the next flush
func (a *Archive) SavePoint(p *models.NormalizedPoint) {
	a.bufferMu.Lock()
	a.points = append(a.points, p)
	a.bufferMu.Unlock()
}

// SaveSyncRecord buffers one sync record for the next flush
func (a *Archive) SaveSyncRecord(rec *models.SyncRecord) {
	a.bufferMu.Lock()
	a.records = append(a.records, rec)
	a.bufferMu.Unlock()
}

func (a *Archive) backgroundFlusher() {
	defer close(a.doneCh)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			a.flush()
			return
		case <-ticker.C:
			a.flush()
		}
	}
}

func (a *Archive) flush() {
	a.bufferMu.Lock()
	points := a.points
	records := a.records
	a.points = make([]*models.NormalizedPoint, 0, 1000)
	a.records = make([]*models.SyncRecord, 0, 100)
	a.bufferMu.Unlock()

	if len(points) == 0 && len(records) == 0 {
		return
	}

	tx, err := a.db.Begin()
	if err != nil {
		a.logger.Error("archive flush failed", zap.Error(err))
		return
	}
	defer tx.Rollback()

	if len(points) > 0 {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO points
			(id, patient_id, device_id, metric, timestamp, value, unit,
			 quality_score, quality_level, is_interpolated, is_outlier, provenance)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			a.logger.Error("archive prepare failed", zap.Error(err))
			return
		}
		for _, p := range points {
			stmt.Exec(p.ID, p.PatientID, p.DeviceID, p.Metric, p.Timestamp.UnixNano(),
				p.Value, p.Unit, p.QualityScore, string(p.QualityLevel),
				boolToInt(p.IsInterpolated), boolToInt(p.IsOutlier), string(p.Provenance))
		}
		stmt.Close()
	}

	if len(records) > 0 {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO sync_records
			(id, device_id, patient_id, timestamp, status, point_count,
			 conflicts_resolved, duplicates_removed, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			a.logger.Error("archive prepare failed", zap.Error(err))
			return
		}
		for _, r := range records {
			stmt.Exec(r.ID, r.DeviceID, r.PatientID, r.Timestamp.UnixNano(), string(r.Status),
				r.PointCount, r.ConflictsResolved, r.DuplicatesRemoved, r.Error)
		}
		stmt.Close()
	}

	if err := tx.Commit(); err != nil {
		a.logger.Error("archive commit failed", zap.Error(err))
	}
}

// PointCount returns the number of archived points, for health reporting
func (a *Archive) PointCount() (int64, error) {
	var n int64
	err := a.db.QueryRow(`SELECT COUNT(*) FROM points`).Scan(&n)
	return n, err
}

// Close flushes pending writes and closes the database
func (a *Archive) Close() error {
	close(a.stopCh)
	<-a.doneCh
	return a.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
