package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/savegress/vitalsync/internal/config"
	"github.com/savegress/vitalsync/internal/devices"
	"github.com/savegress/vitalsync/internal/metrics"
	"github.com/savegress/vitalsync/internal/pipeline"
	"github.com/savegress/vitalsync/internal/quality"
	"github.com/savegress/vitalsync/internal/store"
	"github.com/savegress/vitalsync/internal/syncer"
	"github.com/savegress/vitalsync/internal/ws"
	"github.com/savegress/vitalsync/pkg/models"
)

func newTestServer() *Server {
	logger := zap.NewNop()
	cfg := config.LoadFromEnv()

	catalog := metrics.NewCatalog(nil)
	st := store.New()
	pipe := pipeline.New(&cfg.Pipeline, catalog, st, logger)
	syncMgr := syncer.NewManager(&cfg.Sync, pipe, logger)
	reporter := quality.NewReporter(&cfg.Quality, st)
	registry := devices.NewRegistry(&cfg.Devices, logger)
	hub := ws.NewHub(logger)

	return NewServer(pipe, syncMgr, reporter, registry, hub, logger)
}

func doRequest(s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func readingPayload(offset time.Duration, value float64) map[string]interface{} {
	return map[string]interface{}{
		"id":        fmt.Sprintf("r-%d", offset/time.Minute),
		"device_id": "d-1",
		"timestamp": time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC).Add(offset).Format(time.RFC3339),
		"metric":    "heart-rate-resting",
		"value":     value,
		"unit":      "bpm",
	}
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer()

	w := doRequest(s, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("status field = %v, want healthy", resp["status"])
	}
}

func TestIngestBatchEndpoint(t *testing.T) {
	s := newTestServer()

	body := map[string]interface{}{
		"device_id": "d-1",
		"readings": []interface{}{
			readingPayload(0, 62),
			readingPayload(5*time.Minute, 25), // hard-bound violation
		},
	}

	w := doRequest(s, http.MethodPost, "/api/v1/patients/p-1/readings", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}

	var result models.BatchResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Accepted != 1 || result.Rejected != 1 {
		t.Errorf("result = %+v, want 1 accepted 1 rejected", result)
	}

	// The device batch shows up as a live sync
	w = doRequest(s, http.MethodGet, "/api/v1/patients/p-1/sync/history", nil)
	var history []models.SyncRecord
	if err := json.NewDecoder(w.Body).Decode(&history); err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Status != models.SyncStatusSynced {
		t.Errorf("history = %+v, want one synced record", history)
	}
}

func TestIngestBatchEndpoint_BadRequests(t *testing.T) {
	s := newTestServer()

	w := doRequest(s, http.MethodPost, "/api/v1/patients/p-1/readings",
		map[string]interface{}{"readings": []interface{}{}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty batch status = %d, want 400", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients/p-1/readings",
		bytes.NewBufferString("{not json"))
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", w.Code)
	}
}

func TestIngestOneEndpoint(t *testing.T) {
	s := newTestServer()

	reading := readingPayload(0, 62)
	reading["patient_id"] = "p-1"
	w := doRequest(s, http.MethodPost, "/api/v1/readings", reading)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", w.Code, w.Body.String())
	}

	var point models.NormalizedPoint
	if err := json.NewDecoder(w.Body).Decode(&point); err != nil {
		t.Fatal(err)
	}
	if point.QualityScore != 1.0 || point.QualityLevel != models.QualityExcellent {
		t.Errorf("point = %+v, want excellent quality", point)
	}

	// Hard-bound violation is rejected
	bad := readingPayload(time.Minute, 10)
	bad["patient_id"] = "p-1"
	w = doRequest(s, http.MethodPost, "/api/v1/readings", bad)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("rejected reading status = %d, want 422", w.Code)
	}

	// Missing patient id
	w = doRequest(s, http.MethodPost, "/api/v1/readings", readingPayload(2*time.Minute, 62))
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing patient status = %d, want 400", w.Code)
	}
}

func TestGetDataEndpoint(t *testing.T) {
	s := newTestServer()

	doRequest(s, http.MethodPost, "/api/v1/patients/p-1/readings", map[string]interface{}{
		"readings": []interface{}{
			readingPayload(0, 62),
			readingPayload(5*time.Minute, 130), // outlier
		},
	})

	w := doRequest(s, http.MethodGet, "/api/v1/patients/p-1/data?metric=heart-rate-resting", nil)
	var points []models.NormalizedPoint
	if err := json.NewDecoder(w.Body).Decode(&points); err != nil {
		t.Fatal(err)
	}
	if len(points) != 2 {
		t.Fatalf("got %d points, want 2", len(points))
	}

	w = doRequest(s, http.MethodGet, "/api/v1/patients/p-1/data?include_outliers=false", nil)
	points = nil
	if err := json.NewDecoder(w.Body).Decode(&points); err != nil {
		t.Fatal(err)
	}
	if len(points) != 1 {
		t.Errorf("got %d points with outliers excluded, want 1", len(points))
	}
}

func TestOfflineQueueEndpoints(t *testing.T) {
	s := newTestServer()

	body := map[string]interface{}{
		"device_id": "d-1",
		"readings":  []interface{}{readingPayload(0, 62), readingPayload(5*time.Minute, 64)},
	}
	w := doRequest(s, http.MethodPost, "/api/v1/patients/p-1/offline", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("queue status = %d, want 201 (body %s)", w.Code, w.Body.String())
	}

	w = doRequest(s, http.MethodGet, "/api/v1/patients/p-1/offline/size", nil)
	var size map[string]int
	json.NewDecoder(w.Body).Decode(&size)
	if size["size"] != 1 {
		t.Errorf("queue size = %d, want 1", size["size"])
	}

	w = doRequest(s, http.MethodPost, "/api/v1/patients/p-1/offline/process", nil)
	var result models.ReplayResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Processed != 1 || result.Remaining != 0 {
		t.Errorf("replay = %+v, want processed=1 remaining=0", result)
	}

	// Replayed readings are now queryable
	w = doRequest(s, http.MethodGet, "/api/v1/patients/p-1/data", nil)
	var points []models.NormalizedPoint
	json.NewDecoder(w.Body).Decode(&points)
	if len(points) != 2 {
		t.Errorf("got %d points after replay, want 2", len(points))
	}

	// Missing device id
	w = doRequest(s, http.MethodPost, "/api/v1/patients/p-1/offline",
		map[string]interface{}{"readings": []interface{}{readingPayload(0, 62)}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing device status = %d, want 400", w.Code)
	}
}

func TestQualityReportEndpoint(t *testing.T) {
	s := newTestServer()

	// Readings timestamped now so the default 7-day window covers them
	now := time.Now().UTC()
	doRequest(s, http.MethodPost, "/api/v1/patients/p-1/readings", map[string]interface{}{
		"readings": []interface{}{
			map[string]interface{}{
				"id": "r-1", "device_id": "d-1", "metric": "heart-rate-resting",
				"timestamp": now.Add(-time.Hour).Format(time.RFC3339), "value": 62.0, "unit": "bpm",
			},
			map[string]interface{}{
				"id": "r-2", "device_id": "d-1", "metric": "heart-rate-resting",
				"timestamp": now.Format(time.RFC3339), "value": 64.0, "unit": "bpm",
			},
		},
	})

	w := doRequest(s, http.MethodGet, "/api/v1/patients/p-1/quality", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var report models.DataQualityReport
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if report.TotalPoints != 2 || report.OverallLevel != models.QualityExcellent {
		t.Errorf("report = %+v, want 2 excellent points", report)
	}
}

func TestDeviceEndpoints(t *testing.T) {
	s := newTestServer()

	w := doRequest(s, http.MethodPost, "/api/v1/devices/", map[string]interface{}{
		"patient_id": "p-1",
		"type":       "wristband",
		"name":       "Ward 7 Wristband",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, want 201 (body %s)", w.Code, w.Body.String())
	}

	var device models.Device
	if err := json.NewDecoder(w.Body).Decode(&device); err != nil {
		t.Fatal(err)
	}
	if device.ID == "" || device.Status != models.ConnectionConnected {
		t.Errorf("device = %+v, want generated id and connected status", device)
	}

	w = doRequest(s, http.MethodGet, "/api/v1/devices/"+device.ID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("get status = %d, want 200", w.Code)
	}

	w = doRequest(s, http.MethodPost, "/api/v1/devices/"+device.ID+"/heartbeat", nil)
	if w.Code != http.StatusOK {
		t.Errorf("heartbeat status = %d, want 200", w.Code)
	}

	w = doRequest(s, http.MethodGet, "/api/v1/devices/?patient_id=p-1", nil)
	var list []models.Device
	json.NewDecoder(w.Body).Decode(&list)
	if len(list) != 1 {
		t.Errorf("list = %d devices, want 1", len(list))
	}

	w = doRequest(s, http.MethodDelete, "/api/v1/devices/"+device.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", w.Code)
	}
	w = doRequest(s, http.MethodGet, "/api/v1/devices/"+device.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
}

func TestRespondError(t *testing.T) {
	w := httptest.NewRecorder()
	respondError(w, http.StatusNotFound, "device not found")

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["error"] != "Not Found" || resp["message"] != "device not found" {
		t.Errorf("body = %v, want error text and message", resp)
	}
}
