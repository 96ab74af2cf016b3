package nats

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/smazurov/hald/internal/events"
)

// CommandHandlers are invoked when a rescan/reprobe command or an
// addon-ready declaration arrives over NATS, addressed to a single UDI.
type CommandHandlers struct {
	Rescan     func(udi string)
	Reprobe    func(udi string)
	AddonReady func(udi string)
}

// Bridge connects the in-process event bus to NATS: device lifecycle events
// published on the bus are republished as NATS messages for external
// subscribers, and rescan/reprobe commands arriving over NATS are forwarded
// into the daemon via CommandHandlers.
type Bridge struct {
	url      string
	eventBus *events.Bus
	conn     *nats.Conn
	subs     []*nats.Subscription
	unsubs   []func()
	logger   *slog.Logger
	mu       sync.Mutex
}

// NewBridge creates a new event-bus-to-NATS bridge.
func NewBridge(url string, eventBus *events.Bus, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}

	return &Bridge{
		url:      url,
		eventBus: eventBus,
		logger:   logger.With("component", "nats-bridge"),
	}
}

// Start connects to NATS, subscribes to command subjects, and wires the
// event bus to republish device events as NATS messages.
func (b *Bridge) Start(handlers CommandHandlers) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	conn, err := nats.Connect(b.url,
		nats.Name("hald-bridge"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn("NATS bridge disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			b.logger.Info("NATS bridge reconnected")
		}),
	)
	if err != nil {
		return err
	}
	b.conn = conn
	b.logger.Info("NATS bridge connected", "url", b.url)

	if handlers.Rescan != nil {
		sub, err := conn.Subscribe(SubjectCommandRescan, b.handleCommand(handlers.Rescan))
		if err != nil {
			b.cleanupLocked()
			return err
		}
		b.subs = append(b.subs, sub)
	}

	if handlers.Reprobe != nil {
		sub, err := conn.Subscribe(SubjectCommandReprobe, b.handleCommand(handlers.Reprobe))
		if err != nil {
			b.cleanupLocked()
			return err
		}
		b.subs = append(b.subs, sub)
	}

	if handlers.AddonReady != nil {
		sub, err := conn.Subscribe(SubjectAddonReady, b.handleAddonReady(handlers.AddonReady))
		if err != nil {
			b.cleanupLocked()
			return err
		}
		b.subs = append(b.subs, sub)
	}

	b.unsubs = append(b.unsubs,
		b.eventBus.Subscribe(func(e events.DeviceAddedEvent) { b.publish(e) }),
		b.eventBus.Subscribe(func(e events.DeviceRemovedEvent) { b.publish(e) }),
		b.eventBus.Subscribe(func(e events.PropertyChangedEvent) { b.publish(e) }),
		b.eventBus.Subscribe(func(e events.CapabilityAddedEvent) { b.publish(e) }),
		b.eventBus.Subscribe(func(e events.LockAcquiredEvent) { b.publish(e) }),
		b.eventBus.Subscribe(func(e events.LockReleasedEvent) { b.publish(e) }),
		b.eventBus.Subscribe(func(e events.ConditionEvent) { b.publish(e) }),
	)

	b.logger.Info("NATS bridge subscribed", "rescan", handlers.Rescan != nil, "reprobe", handlers.Reprobe != nil)
	return nil
}

// handleCommand parses an incoming CommandMessage and invokes fn with its UDI.
func (b *Bridge) handleCommand(fn func(udi string)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		cmd, err := UnmarshalCommand(msg.Data)
		if err != nil {
			b.logger.Warn("Failed to unmarshal command", "error", err, "subject", msg.Subject)
			return
		}
		if cmd.UDI == "" {
			b.logger.Warn("Command missing udi", "subject", msg.Subject)
			return
		}
		b.logger.Debug("Received command", "action", cmd.Action, "udi", cmd.UDI, "reason", cmd.Reason)
		fn(cmd.UDI)
	}
}

// handleAddonReady parses an incoming AddonReadyMessage and invokes fn with
// its UDI.
func (b *Bridge) handleAddonReady(fn func(udi string)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		ready, err := UnmarshalAddonReady(msg.Data)
		if err != nil || ready.UDI == "" {
			b.logger.Warn("Malformed addon-ready message", "error", err)
			return
		}
		b.logger.Debug("Addon declared ready", "udi", ready.UDI, "addon", ready.Addon)
		fn(ready.UDI)
	}
}

// publish republishes a device event to its NATS subject. It holds no lock:
// callers run from the event bus's own dispatch goroutine and b.conn is only
// ever replaced under b.mu during Start/Stop, never while running.
func (b *Bridge) publish(ev events.Event) {
	subject, ok := SubjectForEvent(ev)
	if !ok {
		return
	}

	conn := b.conn
	if conn == nil {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("Failed to marshal event", "error", err, "subject", subject)
		return
	}

	if err := conn.Publish(subject, data); err != nil {
		b.logger.Warn("Failed to publish event", "error", err, "subject", subject)
	}
}

// cleanupLocked unsubscribes and closes the connection. Callers must hold b.mu.
func (b *Bridge) cleanupLocked() {
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil

	for _, unsub := range b.unsubs {
		unsub()
	}
	b.unsubs = nil

	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}

// Stop closes the bridge connection and unsubscribes from the event bus.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cleanupLocked()
	b.logger.Info("NATS bridge stopped")
}

// IsConnected returns true if the bridge is connected to NATS.
func (b *Bridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && b.conn.IsConnected()
}
