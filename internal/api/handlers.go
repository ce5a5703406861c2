package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/savegress/vitalsync/internal/devices"
	"github.com/savegress/vitalsync/internal/store"
	"github.com/savegress/vitalsync/internal/ws"
	"github.com/savegress/vitalsync/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Health check
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "vitalsync",
		"time":    time.Now().UTC(),
	})
}

// Ingestion handlers

type batchRequest struct {
	DeviceID string              `json:"device_id,omitempty"`
	Readings []models.RawReading `json:"readings"`
}

func (s *Server) ingestBatch(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Readings) == 0 {
		respondError(w, http.StatusBadRequest, "No readings provided")
		return
	}

	result := s.pipeline.IngestBatch(patientID, req.Readings)

	// A batch delivered by a known device counts as a live sync
	if req.DeviceID != "" {
		status := models.SyncStatusSynced
		errMsg := ""
		if result.Accepted == 0 {
			status = models.SyncStatusFailed
			errMsg = "no readings accepted"
		}
		s.syncMgr.Record(req.DeviceID, patientID, status, result, errMsg)
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) ingestOne(w http.ResponseWriter, r *http.Request) {
	var raw models.RawReading
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if raw.PatientID == "" {
		respondError(w, http.StatusBadRequest, "patient_id is required")
		return
	}

	point := s.pipeline.IngestOne(&raw)
	if point == nil {
		respondError(w, http.StatusUnprocessableEntity, "Reading rejected")
		return
	}

	respondJSON(w, http.StatusCreated, point)
}

func (s *Server) fillGaps(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")
	inserted := s.pipeline.FillGaps(patientID)
	respondJSON(w, http.StatusOK, map[string]int{"inserted": inserted})
}

// Read handlers

func (s *Server) getData(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")

	filter := store.Filter{
		Metric:   r.URL.Query().Get("metric"),
		DeviceID: r.URL.Query().Get("device_id"),
	}
	if t, ok := parseTimeParam(r, "start_time"); ok {
		filter.Start = &t
	}
	if t, ok := parseTimeParam(r, "end_time"); ok {
		filter.End = &t
	}
	filter.ExcludeOutliers = !boolParam(r, "include_outliers", true)
	filter.ExcludeInterpolated = !boolParam(r, "include_interpolated", true)

	points := s.pipeline.Store().GetData(patientID, filter)
	respondJSON(w, http.StatusOK, points)
}

func (s *Server) getLatestMetrics(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")
	latest := s.pipeline.Store().GetLatestMetrics(patientID)
	respondJSON(w, http.StatusOK, latest)
}

func (s *Server) getQualityReport(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")

	end := time.Now().UTC()
	if t, ok := parseTimeParam(r, "end_time"); ok {
		end = t
	}
	start := end.Add(-7 * 24 * time.Hour)
	if t, ok := parseTimeParam(r, "start_time"); ok {
		start = t
	}

	report := s.reporter.Report(patientID, start, end)
	respondJSON(w, http.StatusOK, report)
}

// Sync handlers

type offlineRequest struct {
	DeviceID string              `json:"device_id"`
	Readings []models.RawReading `json:"readings"`
}

func (s *Server) queueOfflineData(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")

	var req offlineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.DeviceID == "" {
		respondError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	entry := s.syncMgr.QueueOfflineData(req.DeviceID, patientID, req.Readings)
	respondJSON(w, http.StatusCreated, entry)
}

func (s *Server) processOfflineQueue(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")
	result := s.syncMgr.ProcessOfflineQueue(patientID)
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) getOfflineQueueSize(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")
	respondJSON(w, http.StatusOK, map[string]int{
		"size": s.syncMgr.GetOfflineQueueSize(patientID),
	})
}

func (s *Server) getSyncHistory(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}

	history := s.syncMgr.GetSyncHistory(patientID, limit)
	respondJSON(w, http.StatusOK, history)
}

func (s *Server) getLastSyncPerDevice(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")
	respondJSON(w, http.StatusOK, s.syncMgr.GetLastSyncPerDevice(patientID))
}

// Device handlers

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	filter := devices.DeviceFilter{
		PatientID: r.URL.Query().Get("patient_id"),
		Type:      r.URL.Query().Get("type"),
		Status:    models.ConnectionStatus(r.URL.Query().Get("status")),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			filter.Limit = l
		}
	}

	respondJSON(w, http.StatusOK, s.registry.List(filter))
}

func (s *Server) registerDevice(w http.ResponseWriter, r *http.Request) {
	var device models.Device
	if err := json.NewDecoder(r.Body).Decode(&device); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.registry.Register(&device); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, device)
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	device, ok := s.registry.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "Device not found")
		return
	}
	respondJSON(w, http.StatusOK, device)
}

func (s *Server) updateDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var device models.Device
	if err := json.NewDecoder(r.Body).Decode(&device); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	device.ID = id
	if err := s.registry.Update(&device); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, device)
}

func (s *Server) unregisterDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.registry.Unregister(id); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deviceHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.registry.Heartbeat(id); err != nil {
		if errors.Is(err, devices.ErrDeviceNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// WebSocket handler

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := ws.NewClient(s.hub, conn, uuid.New().String())
	s.hub.Register(client)

	go client.WritePump(r.Context())
	go client.ReadPump(r.Context())
}

// Helpers

func parseTimeParam(r *http.Request, name string) (time.Time, bool) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func boolParam(r *http.Request, name string, defaultValue bool) bool {
	value := r.URL.Query().Get(name)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}
