package nats

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/smazurov/hald/internal/events"
)

func TestServerStartStop(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	server := NewServer(ServerOptions{
		Port:   14222, // Use non-default port for testing
		Name:   "test-server",
		Logger: logger,
	})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	if !server.IsRunning() {
		t.Error("Server should be running after Start()")
	}

	url := server.ClientURL()
	if url == "" {
		t.Error("ClientURL should not be empty")
	}

	server.Stop()

	if server.IsRunning() {
		t.Error("Server should not be running after Stop()")
	}
}

func TestAddonClientGracefulDegradation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	// Create client with non-existent server
	client := NewAddonClient("nats://localhost:59999", "/org/freedesktop/Hal/devices/acpi_lid", logger)

	// Connect should fail but not panic
	err := client.Connect()
	if err == nil {
		t.Error("Connect should fail with non-existent server")
	}

	// Should be a no-op without panicking
	client.PublishCondition("ButtonPressed", "lid")

	if client.IsConnected() {
		t.Error("Client should not be connected")
	}

	client.Close()
}

func TestAddonClientConnectAndPublish(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	server := NewServer(ServerOptions{
		Port:   14223,
		Name:   "test-server",
		Logger: logger,
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	client := NewAddonClient(server.ClientURL(), "/org/freedesktop/Hal/devices/acpi_lid", logger)
	if err := client.Connect(); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("Client should be connected")
	}

	client.PublishCondition("ButtonPressed", "lid")
}

func TestCommandPublisher(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	server := NewServer(ServerOptions{
		Port:   14224,
		Name:   "test-server",
		Logger: logger,
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	publisher, err := NewCommandPublisher(server.ClientURL(), logger)
	if err != nil {
		t.Fatalf("Failed to create command publisher: %v", err)
	}
	defer publisher.Close()

	if err := publisher.Rescan("/org/freedesktop/Hal/devices/computer", "test"); err != nil {
		t.Errorf("Rescan failed: %v", err)
	}
	if err := publisher.Reprobe("/org/freedesktop/Hal/devices/computer", "test"); err != nil {
		t.Errorf("Reprobe failed: %v", err)
	}
}

func TestMessageMarshalUnmarshal(t *testing.T) {
	original := CommandMessage{
		Action:    "rescan",
		UDI:       "/org/freedesktop/Hal/devices/computer",
		Timestamp: "2024-01-01T00:00:00Z",
		Reason:    "test",
	}

	data, err := original.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	parsed, err := UnmarshalCommand(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if parsed.Action != original.Action {
		t.Errorf("Action mismatch: got %s, want %s", parsed.Action, original.Action)
	}
	if parsed.UDI != original.UDI {
		t.Errorf("UDI mismatch: got %s, want %s", parsed.UDI, original.UDI)
	}
	if parsed.Reason != original.Reason {
		t.Errorf("Reason mismatch: got %s, want %s", parsed.Reason, original.Reason)
	}
}

func TestSubjectConstants(t *testing.T) {
	tests := []struct {
		name     string
		subject  string
		expected string
	}{
		{"DeviceAdded", SubjectDeviceAdded, "hald.device.added"},
		{"DeviceRemoved", SubjectDeviceRemoved, "hald.device.removed"},
		{"PropertyChanged", SubjectPropertyChanged, "hald.device.property_changed"},
		{"CapabilityAdded", SubjectCapabilityAdded, "hald.device.capability_added"},
		{"LockAcquired", SubjectLockAcquired, "hald.device.lock_acquired"},
		{"LockReleased", SubjectLockReleased, "hald.device.lock_released"},
		{"ConditionRaised", SubjectConditionRaised, "hald.device.condition"},
		{"CommandRescan", SubjectCommandRescan, "hald.control.rescan"},
		{"CommandReprobe", SubjectCommandReprobe, "hald.control.reprobe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.subject != tt.expected {
				t.Errorf("Got %s, want %s", tt.subject, tt.expected)
			}
		})
	}
}

func TestBridgeCommandRoundTrip(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	server := NewServer(ServerOptions{
		Port:   14226,
		Name:   "test-server",
		Logger: logger,
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	bus := events.New()
	bridge := NewBridge(server.ClientURL(), bus, logger)

	rescanned := make(chan string, 1)
	if err := bridge.Start(CommandHandlers{
		Rescan: func(udi string) { rescanned <- udi },
	}); err != nil {
		t.Fatalf("Failed to start bridge: %v", err)
	}
	defer bridge.Stop()

	publisher, err := NewCommandPublisher(server.ClientURL(), logger)
	if err != nil {
		t.Fatalf("Failed to create command publisher: %v", err)
	}
	defer publisher.Close()

	if err := publisher.Rescan("/org/freedesktop/Hal/devices/computer", "test"); err != nil {
		t.Fatalf("Rescan failed: %v", err)
	}

	select {
	case udi := <-rescanned:
		if udi != "/org/freedesktop/Hal/devices/computer" {
			t.Errorf("got udi %s, want /org/freedesktop/Hal/devices/computer", udi)
		}
	case <-time.After(2 * time.Second):
		t.Error("Rescan handler was not called within timeout")
	}
}
