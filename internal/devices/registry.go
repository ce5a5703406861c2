// Package devices tracks registered wearable sensors and their
// connectivity state.
package devices

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/savegress/vitalsync/internal/config"
	"github.com/savegress/vitalsync/pkg/models"
)

// Registry errors
var (
	ErrDeviceNotFound    = errors.New("device not found")
	ErrMaxDevicesReached = errors.New("maximum number of devices reached")
)

// Registry manages device registration and connectivity status
type Registry struct {
	config  *config.DevicesConfig
	devices map[string]*models.Device
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	logger  *zap.Logger

	onStatusChange func(device *models.Device, oldStatus, newStatus models.ConnectionStatus)
}

// NewRegistry creates a new device registry
func NewRegistry(cfg *config.DevicesConfig, logger *zap.Logger) *Registry {
	return &Registry{
		config:  cfg,
		devices: make(map[string]*models.Device),
		stopCh:  make(chan struct{}),
		logger:  logger,
	}
}

// Start starts the connectivity monitor
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()

	go r.monitorLoop(ctx)
	return nil
}

// Stop stops the connectivity monitor
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		close(r.stopCh)
		r.running = false
	}
}

// SetStatusChangeCallback sets a callback for connectivity changes
func (r *Registry) SetStatusChangeCallback(cb func(device *models.Device, oldStatus, newStatus models.ConnectionStatus)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStatusChange = cb
}

func (r *Registry) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(r.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.checkDeviceStatus()
		}
	}
}

func (r *Registry) checkDeviceStatus() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, device := range r.devices {
		if device.LastSeen == nil {
			continue
		}

		oldStatus := device.Status
		if now.Sub(*device.LastSeen) > r.config.OfflineThreshold {
			if device.Status == models.ConnectionConnected {
				device.Status = models.ConnectionDisconnected
				device.UpdatedAt = now

				r.logger.Warn("device went silent",
					zap.String("device_id", device.ID),
					zap.String("patient_id", device.PatientID))

				if r.onStatusChange != nil {
					go r.onStatusChange(device, oldStatus, device.Status)
				}
			}
		}
	}
}

// Register registers a new device
func (r *Registry) Register(device *models.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.devices) >= r.config.MaxDevices {
		return ErrMaxDevicesReached
	}

	if device.ID == "" {
		device.ID = uuid.New().String()
	}

	now := time.Now()
	device.CreatedAt = now
	device.UpdatedAt = now
	if device.Status == "" {
		device.Status = models.ConnectionConnected
	}
	device.LastSeen = &now

	r.devices[device.ID] = device
	return nil
}

// Unregister removes a device
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[id]; !ok {
		return ErrDeviceNotFound
	}

	delete(r.devices, id)
	return nil
}

// Get retrieves a device by ID
func (r *Registry) Get(id string) (*models.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	device, ok := r.devices[id]
	return device, ok
}

// Update updates a device
func (r *Registry) Update(device *models.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[device.ID]; !ok {
		return ErrDeviceNotFound
	}

	device.UpdatedAt = time.Now()
	r.devices[device.ID] = device
	return nil
}

// DeviceFilter defines filters for device queries
type DeviceFilter struct {
	PatientID string
	Type      string
	Status    models.ConnectionStatus
	Limit     int
}

// List lists devices with optional filters
func (r *Registry) List(filter DeviceFilter) []*models.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*models.Device
	for _, device := range r.devices {
		if !matchesFilter(device, filter) {
			continue
		}
		results = append(results, device)
		if filter.Limit > 0 && len(results) >= filter.Limit {
			break
		}
	}
	return results
}

func matchesFilter(device *models.Device, filter DeviceFilter) bool {
	if filter.PatientID != "" && device.PatientID != filter.PatientID {
		return false
	}
	if filter.Type != "" && device.Type != filter.Type {
		return false
	}
	if filter.Status != "" && device.Status != filter.Status {
		return false
	}
	return true
}

// Heartbeat marks a device as seen now, reconnecting it if it had dropped
func (r *Registry) Heartbeat(deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, ok := r.devices[deviceID]
	if !ok {
		return ErrDeviceNotFound
	}

	now := time.Now()
	oldStatus := device.Status
	device.LastSeen = &now
	device.UpdatedAt = now

	if device.Status != models.ConnectionConnected {
		device.Status = models.ConnectionConnected
		if r.onStatusChange != nil {
			go r.onStatusChange(device, oldStatus, device.Status)
		}
	}

	return nil
}

// MarkIntermittent flags a device whose replays keep oscillating between
// success and failure, so clinical staff can spot flaky sensors
func (r *Registry) MarkIntermittent(deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, ok := r.devices[deviceID]
	if !ok {
		return ErrDeviceNotFound
	}

	oldStatus := device.Status
	device.Status = models.ConnectionIntermittent
	device.UpdatedAt = time.Now()

	if oldStatus != device.Status && r.onStatusChange != nil {
		go r.onStatusChange(device, oldStatus, device.Status)
	}
	return nil
}
