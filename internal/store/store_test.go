package store

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/savegress/vitalsync/pkg/models"
)

func point(patientID, metric, deviceID string, ts time.Time, value float64) *models.NormalizedPoint {
	return &models.NormalizedPoint{
		ID:           patientID + "-" + metric + "-" + ts.Format(time.RFC3339),
		PatientID:    patientID,
		DeviceID:     deviceID,
		Metric:       metric,
		Timestamp:    ts,
		Value:        value,
		QualityScore: 1.0,
		QualityLevel: models.QualityExcellent,
		Provenance:   models.ProvenanceDevice,
	}
}

func seed(s *Store, patientID string, points ...*models.NormalizedPoint) {
	s.Update(patientID, func(current []*models.NormalizedPoint) []*models.NormalizedPoint {
		return append(current, points...)
	})
}

func TestStore_UpdateAndCount(t *testing.T) {
	s := New()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	seed(s, "p-1",
		point("p-1", "heart-rate-resting", "d-1", base, 62),
		point("p-1", "spo2", "d-1", base, 98))
	seed(s, "p-2",
		point("p-2", "heart-rate-resting", "d-2", base, 70))

	if got := s.Count("p-1"); got != 2 {
		t.Errorf("Count(p-1) = %d, want 2", got)
	}
	if got := s.Count("p-2"); got != 1 {
		t.Errorf("Count(p-2) = %d, want 1", got)
	}
	if got := s.Count("p-3"); got != 0 {
		t.Errorf("Count(p-3) = %d, want 0", got)
	}
}

func TestStore_UpdateReplacesWholesale(t *testing.T) {
	s := New()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	seed(s, "p-1",
		point("p-1", "heart-rate-resting", "d-1", base, 62),
		point("p-1", "heart-rate-resting", "d-1", base.Add(5*time.Minute), 64))

	// Returning a subset drops everything else
	s.Update("p-1", func(current []*models.NormalizedPoint) []*models.NormalizedPoint {
		return current[:1]
	})
	if got := s.Count("p-1"); got != 1 {
		t.Errorf("Count = %d after subset swap, want 1", got)
	}
}

func TestStore_UpdatePanicsOnDuplicateKey(t *testing.T) {
	s := New()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic on duplicate key")
		}
		if !strings.Contains(r.(string), "duplicate key") {
			t.Errorf("unexpected panic message: %v", r)
		}
	}()

	s.Update("p-1", func(current []*models.NormalizedPoint) []*models.NormalizedPoint {
		return []*models.NormalizedPoint{
			point("p-1", "heart-rate-resting", "d-1", base, 62),
			point("p-1", "heart-rate-resting", "d-2", base, 64),
		}
	})
}

func TestStore_GetData(t *testing.T) {
	s := New()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	outlier := point("p-1", "heart-rate-resting", "d-1", base.Add(10*time.Minute), 130)
	outlier.IsOutlier = true
	outlier.QualityScore = 0.4
	outlier.QualityLevel = models.QualityPoor

	interp := point("p-1", "heart-rate-resting", "d-1", base.Add(5*time.Minute), 66)
	interp.IsInterpolated = true
	interp.Provenance = models.ProvenanceInterpolated
	interp.QualityScore = 0.6

	seed(s, "p-1",
		point("p-1", "heart-rate-resting", "d-1", base.Add(15*time.Minute), 64),
		point("p-1", "heart-rate-resting", "d-1", base, 62),
		point("p-1", "spo2", "d-2", base, 97),
		outlier,
		interp)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"everything", Filter{}, 5},
		{"by metric", Filter{Metric: "heart-rate-resting"}, 4},
		{"by device", Filter{DeviceID: "d-2"}, 1},
		{"exclude outliers", Filter{Metric: "heart-rate-resting", ExcludeOutliers: true}, 3},
		{"exclude interpolated", Filter{Metric: "heart-rate-resting", ExcludeInterpolated: true}, 3},
		{"device readings only", Filter{ExcludeOutliers: true, ExcludeInterpolated: true}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.GetData("p-1", tt.filter)
			if len(got) != tt.want {
				t.Errorf("got %d points, want %d", len(got), tt.want)
			}
			for i := 1; i < len(got); i++ {
				if got[i].Timestamp.Before(got[i-1].Timestamp) {
					t.Error("points not sorted ascending by timestamp")
				}
			}
		})
	}
}

func TestStore_GetDataTimeRange(t *testing.T) {
	s := New()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		seed(s, "p-1", point("p-1", "heart-rate-resting", "d-1", base.Add(time.Duration(i)*5*time.Minute), 60))
	}

	start := base.Add(5 * time.Minute)
	end := base.Add(15 * time.Minute)
	got := s.GetData("p-1", Filter{Start: &start, End: &end})
	if len(got) != 3 {
		t.Fatalf("got %d points in range, want 3 (bounds inclusive)", len(got))
	}
	if !got[0].Timestamp.Equal(start) || !got[2].Timestamp.Equal(end) {
		t.Error("range bounds should be inclusive")
	}
}

func TestStore_GetLatestMetrics(t *testing.T) {
	s := New()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	seed(s, "p-1",
		point("p-1", "heart-rate-resting", "d-1", base, 62),
		point("p-1", "heart-rate-resting", "d-1", base.Add(30*time.Minute), 68),
		point("p-1", "spo2", "d-1", base, 97))

	latest := s.GetLatestMetrics("p-1")
	if len(latest) != 2 {
		t.Fatalf("got %d metrics, want 2", len(latest))
	}
	if latest["heart-rate-resting"].Value != 68 {
		t.Errorf("latest heart rate = %v, want the most recent 68", latest["heart-rate-resting"].Value)
	}

	if got := s.GetLatestMetrics("p-9"); len(got) != 0 {
		t.Error("unknown patient should yield an empty map")
	}
}

func TestStore_UnknownPatientReads(t *testing.T) {
	s := New()
	if got := s.GetData("nobody", Filter{}); got != nil {
		t.Errorf("GetData for unknown patient = %v, want nil", got)
	}
	if got := s.GetSeries("nobody", "spo2"); got != nil {
		t.Errorf("GetSeries for unknown patient = %v, want nil", got)
	}
}

func TestStore_ConcurrentPatients(t *testing.T) {
	s := New()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	patients := []string{"p-1", "p-2", "p-3", "p-4"}
	for _, id := range patients {
		wg.Add(1)
		go func(patientID string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				ts := base.Add(time.Duration(i) * time.Minute)
				seed(s, patientID, point(patientID, "heart-rate-resting", "d-1", ts, 60))
				s.GetData(patientID, Filter{})
			}
		}(id)
	}
	wg.Wait()

	for _, id := range patients {
		if got := s.Count(id); got != 50 {
			t.Errorf("Count(%s) = %d, want 50", id, got)
		}
	}
}
