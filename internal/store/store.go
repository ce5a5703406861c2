// Package store owns the per-patient normalized point corpus.
//
// Each patient maps to one shard guarded by its own RWMutex, so devices
// belonging to different patients ingest fully in parallel while all writes
// for one patient are serialized. Reads copy out snapshots and never block
// behind other readers.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/savegress/vitalsync/pkg/models"
)

// Store holds normalized points keyed by (patient, metric, timestamp)
type Store struct {
	mu       sync.RWMutex
	patients map[string]*shard
}

type shard struct {
	mu     sync.RWMutex
	points map[models.PointKey]*models.NormalizedPoint
}

// Filter narrows a GetData query. The zero value returns everything.
type Filter struct {
	Metric              string
	DeviceID            string
	Start               *time.Time
	End                 *time.Time
	ExcludeOutliers     bool
	ExcludeInterpolated bool
}

// New creates an empty store
func New() *Store {
	return &Store{patients: make(map[string]*shard)}
}

func (s *Store) shardFor(patientID string, create bool) *shard {
	s.mu.RLock()
	sh, ok := s.patients[patientID]
	s.mu.RUnlock()
	if ok || !create {
		return sh
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok = s.patients[patientID]; ok {
		return sh
	}
	sh = &shard{points: make(map[models.PointKey]*models.NormalizedPoint)}
	s.patients[patientID] = sh
	return sh
}

// Update applies fn to the patient's current points under the shard's write
// lock and swaps in the result wholesale. fn receives a snapshot it may
// inspect freely; the returned slice becomes the new store state. This is
// the single-writer discipline: ingestion, dedup-driven writes and offline
// replay all funnel through here.
//
// A duplicate (metric, timestamp) key in the returned slice indicates a
// merge bug that would silently corrupt clinical data, so Update panics
// rather than store it.
func (s *Store) Update(patientID string, fn func(current []*models.NormalizedPoint) []*models.NormalizedPoint) {
	sh := s.shardFor(patientID, true)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	current := make([]*models.NormalizedPoint, 0, len(sh.points))
	for _, p := range sh.points {
		current = append(current, p)
	}

	next := fn(current)

	replaced := make(map[models.PointKey]*models.NormalizedPoint, len(next))
	for _, p := range next {
		key := p.Key()
		if _, dup := replaced[key]; dup {
			panic(fmt.Sprintf("store: duplicate key survived merge: patient=%s metric=%s ts=%s",
				p.PatientID, p.Metric, p.Timestamp.Format(time.RFC3339)))
		}
		replaced[key] = p
	}
	sh.points = replaced
}

// Count returns the number of points held for a patient
func (s *Store) Count(patientID string) int {
	sh := s.shardFor(patientID, false)
	if sh == nil {
		return 0
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.points)
}

// GetData returns the patient's points matching the filter, sorted ascending
// by timestamp
func (s *Store) GetData(patientID string, filter Filter) []*models.NormalizedPoint {
	sh := s.shardFor(patientID, false)
	if sh == nil {
		return nil
	}

	sh.mu.RLock()
	result := make([]*models.NormalizedPoint, 0, len(sh.points))
	for _, p := range sh.points {
		if !matches(p, filter) {
			continue
		}
		result = append(result, p)
	}
	sh.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result
}

// GetSeries returns the patient's points for one metric sorted ascending,
// the shape the gap interpolator and reporter work over
func (s *Store) GetSeries(patientID, metric string) []*models.NormalizedPoint {
	return s.GetData(patientID, Filter{Metric: metric})
}

// GetLatestMetrics returns the most recent point per metric for a patient
func (s *Store) GetLatestMetrics(patientID string) map[string]*models.NormalizedPoint {
	sh := s.shardFor(patientID, false)
	latest := make(map[string]*models.NormalizedPoint)
	if sh == nil {
		return latest
	}

	sh.mu.RLock()
	defer sh.mu.RUnlock()
	for _, p := range sh.points {
		cur, ok := latest[p.Metric]
		if !ok || p.Timestamp.After(cur.Timestamp) {
			latest[p.Metric] = p
		}
	}
	return latest
}

func matches(p *models.NormalizedPoint, f Filter) bool {
	if f.Metric != "" && p.Metric != f.Metric {
		return false
	}
	if f.DeviceID != "" && p.DeviceID != f.DeviceID {
		return false
	}
	if f.Start != nil && p.Timestamp.Before(*f.Start) {
		return false
	}
	if f.End != nil && p.Timestamp.After(*f.End) {
		return false
	}
	if f.ExcludeOutliers && p.IsOutlier {
		return false
	}
	if f.ExcludeInterpolated && p.IsInterpolated {
		return false
	}
	return true
}
