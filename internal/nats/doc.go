// Package nats provides embedded NATS messaging for the daemon's
// fire-and-forget signal plane, complementing the synchronous huma query
// API in internal/ipc.
//
// # Architecture
//
//   - Server: embedded NATS server running inside the daemon process
//   - Bridge: republishes device lifecycle events from the in-process event
//     bus onto NATS subjects, and forwards rescan/reprobe commands received
//     over NATS into the daemon's hotplug queue
//   - AddonClient: used by long-lived callout addon processes to raise
//     condition signals for the device they were spawned against
//   - CommandPublisher: for external clients (scripts, other programs) to
//     send rescan/reprobe commands into the daemon; the hald CLI talks to
//     the HTTP API instead
//
// # Subject Hierarchy
//
//	hald.device.added              # DeviceAddedEvent
//	hald.device.removed            # DeviceRemovedEvent
//	hald.device.property_changed   # PropertyChangedEvent
//	hald.device.capability_added   # CapabilityAddedEvent
//	hald.device.lock_acquired      # LockAcquiredEvent
//	hald.device.lock_released      # LockReleasedEvent
//	hald.device.condition          # ConditionEvent
//	hald.control.rescan            # rescan command (client → daemon)
//	hald.control.reprobe           # reprobe command (client → daemon)
//	hald.addon.ready               # addon self-declares ready (addon → daemon)
//
// Device events carry their UDI in the JSON body, not the subject: UDIs
// contain '/' and are not safe NATS subject tokens, so subscribers filter on
// the payload. The package uses fire-and-forget messaging (core NATS, no
// JetStream); addon clients gracefully degrade when NATS is unavailable.
//
// # Debugging with nats CLI
//
// Install the NATS CLI:
//
//	# macOS
//	brew install nats-io/nats-tools/nats
//
//	# Linux (download from GitHub releases)
//	curl -L https://github.com/nats-io/natscli/releases/latest/download/nats-0.1.5-linux-amd64.zip -o nats.zip
//	unzip nats.zip && sudo mv nats /usr/local/bin/
//
//	# Or via Go
//	go install github.com/nats-io/natscli/nats@latest
//
// # Useful Debug Commands
//
// Monitor all device signals:
//
//	nats sub "hald.device.>"
//
// Monitor all control commands:
//
//	nats sub "hald.control.>"
//
// Send a rescan command manually:
//
//	nats pub "hald.control.rescan" '{"action":"rescan","udi":"/org/freedesktop/Hal/devices/computer","timestamp":"2024-01-01T00:00:00Z","reason":"manual_debug"}'
//
// Check server info and connected clients:
//
//	nats server info
//	nats server list
//
// Pretty-print JSON messages:
//
//	nats sub "hald.device.>" | jq .
//
// # Example Debug Session
//
// Terminal 1 - Start hald with NATS:
//
//	./hald
//
// Terminal 2 - Monitor all NATS traffic:
//
//	nats sub "hald.>" -s nats://localhost:4222
//
// Terminal 3 - Manually trigger a reprobe:
//
//	nats pub "hald.control.reprobe" \
//	  '{"action":"reprobe","udi":"/org/freedesktop/Hal/devices/computer","reason":"debug"}' \
//	  -s nats://localhost:4222
//
// # Message Formats
//
// Device events (hald.device.*) serialize the same JSON shape as their
// internal/events counterparts, e.g. DeviceAddedEvent:
//
//	{
//	  "udi": "/org/freedesktop/Hal/devices/computer",
//	  "properties": {"info.product": "Computer"},
//	  "timestamp": "2024-01-01T12:00:00Z"
//	}
//
// CommandMessage (hald.control.rescan, hald.control.reprobe):
//
//	{
//	  "action": "rescan",
//	  "udi": "/org/freedesktop/Hal/devices/computer",
//	  "timestamp": "2024-01-01T12:00:00Z",
//	  "reason": "api_request"
//	}
package nats
