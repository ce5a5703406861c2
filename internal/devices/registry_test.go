package devices

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/savegress/vitalsync/internal/config"
	"github.com/savegress/vitalsync/pkg/models"
)

func newTestRegistry() *Registry {
	return NewRegistry(&config.DevicesConfig{
		MaxDevices:        5,
		HeartbeatInterval: 10 * time.Millisecond,
		OfflineThreshold:  50 * time.Millisecond,
	}, zap.NewNop())
}

func testDevice(id, patientID string) *models.Device {
	return &models.Device{
		ID:        id,
		PatientID: patientID,
		Type:      "wristband",
		Name:      "Test Wristband",
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := newTestRegistry()

	dev := testDevice("d-1", "p-1")
	if err := r.Register(dev); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if dev.Status != models.ConnectionConnected {
		t.Errorf("status = %s, want %s", dev.Status, models.ConnectionConnected)
	}
	if dev.LastSeen == nil {
		t.Error("LastSeen should be set on registration")
	}

	got, ok := r.Get("d-1")
	if !ok || got.PatientID != "p-1" {
		t.Errorf("Get returned %+v, %v", got, ok)
	}

	// Missing ID gets generated
	anon := testDevice("", "p-2")
	if err := r.Register(anon); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if anon.ID == "" {
		t.Error("expected a generated device id")
	}
}

func TestRegistry_MaxDevices(t *testing.T) {
	r := newTestRegistry()

	for i := 0; i < 5; i++ {
		if err := r.Register(testDevice("", "p-1")); err != nil {
			t.Fatalf("Register %d failed: %v", i, err)
		}
	}
	if err := r.Register(testDevice("", "p-1")); !errors.Is(err, ErrMaxDevicesReached) {
		t.Errorf("err = %v, want ErrMaxDevicesReached", err)
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r := newTestRegistry()
	r.Register(testDevice("d-1", "p-1"))

	if err := r.Unregister("d-1"); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	if _, ok := r.Get("d-1"); ok {
		t.Error("device still present after Unregister")
	}
	if err := r.Unregister("d-1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("err = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_List(t *testing.T) {
	r := newTestRegistry()
	r.Register(testDevice("d-1", "p-1"))
	r.Register(testDevice("d-2", "p-1"))
	chest := testDevice("d-3", "p-2")
	chest.Type = "chest-strap"
	r.Register(chest)

	if got := r.List(DeviceFilter{}); len(got) != 3 {
		t.Errorf("unfiltered list = %d devices, want 3", len(got))
	}
	if got := r.List(DeviceFilter{PatientID: "p-1"}); len(got) != 2 {
		t.Errorf("p-1 list = %d devices, want 2", len(got))
	}
	if got := r.List(DeviceFilter{Type: "chest-strap"}); len(got) != 1 {
		t.Errorf("chest-strap list = %d devices, want 1", len(got))
	}
	if got := r.List(DeviceFilter{PatientID: "p-1", Limit: 1}); len(got) != 1 {
		t.Errorf("limited list = %d devices, want 1", len(got))
	}
}

func TestRegistry_HeartbeatReconnects(t *testing.T) {
	r := newTestRegistry()

	dev := testDevice("d-1", "p-1")
	dev.Status = models.ConnectionDisconnected
	r.Register(dev)

	// Register honors a preset status
	if got, _ := r.Get("d-1"); got.Status != models.ConnectionDisconnected {
		t.Fatalf("status = %s, want preset %s", got.Status, models.ConnectionDisconnected)
	}

	statusCh := make(chan models.ConnectionStatus, 1)
	r.SetStatusChangeCallback(func(device *models.Device, oldStatus, newStatus models.ConnectionStatus) {
		statusCh <- newStatus
	})

	if err := r.Heartbeat("d-1"); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	got, _ := r.Get("d-1")
	if got.Status != models.ConnectionConnected {
		t.Errorf("status = %s, want %s", got.Status, models.ConnectionConnected)
	}

	select {
	case status := <-statusCh:
		if status != models.ConnectionConnected {
			t.Errorf("callback status = %s, want %s", status, models.ConnectionConnected)
		}
	case <-time.After(time.Second):
		t.Error("status change callback never fired")
	}

	if err := r.Heartbeat("nope"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("err = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_MarkIntermittent(t *testing.T) {
	r := newTestRegistry()
	r.Register(testDevice("d-1", "p-1"))

	if err := r.MarkIntermittent("d-1"); err != nil {
		t.Fatalf("MarkIntermittent failed: %v", err)
	}
	got, _ := r.Get("d-1")
	if got.Status != models.ConnectionIntermittent {
		t.Errorf("status = %s, want %s", got.Status, models.ConnectionIntermittent)
	}
}

func TestRegistry_MonitorMarksSilentDevices(t *testing.T) {
	r := newTestRegistry()
	r.Register(testDevice("d-1", "p-1"))

	past := time.Now().Add(-time.Minute)
	dev, _ := r.Get("d-1")
	dev.LastSeen = &past

	r.checkDeviceStatus()

	got, _ := r.Get("d-1")
	if got.Status != models.ConnectionDisconnected {
		t.Errorf("status = %s, want %s after going silent", got.Status, models.ConnectionDisconnected)
	}
}
