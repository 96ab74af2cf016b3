package nats

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/smazurov/hald/internal/events"
)

// AddonClient is a NATS client used by long-lived callout addon processes
// (external binaries spawned by the callout chain, e.g. a battery poller or
// a lid-switch watcher) to raise condition signals for the device they were
// spawned against. It gracefully degrades when NATS is unavailable: a
// disconnected addon keeps running and simply drops signals rather than
// blocking or crashing.
type AddonClient struct {
	url       string
	udi       string
	conn      *nats.Conn
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool
}

// NewAddonClient creates a new NATS client for an addon process watching udi.
func NewAddonClient(url, udi string, logger *slog.Logger) *AddonClient {
	if logger == nil {
		logger = slog.Default()
	}

	return &AddonClient{
		url:    url,
		udi:    udi,
		logger: logger.With("component", "nats-addon-client", "udi", udi),
	}
}

// Connect establishes a connection to the NATS server.
// Returns an error if connection fails, but the client remains usable in
// offline mode: PublishCondition becomes a no-op until reconnected.
func (c *AddonClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	opts := []nats.Option{
		nats.Name("hald-addon-" + c.udi),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			if err != nil {
				c.logger.Warn("NATS disconnected", "error", err)
			} else {
				c.logger.Debug("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.mu.Lock()
			c.connected = true
			c.mu.Unlock()
			c.logger.Info("NATS reconnected")
		}),
		nats.ConnectHandler(func(_ *nats.Conn) {
			c.logger.Debug("NATS connected")
		}),
	}

	conn, err := nats.Connect(c.url, opts...)
	if err != nil {
		c.logger.Warn("Failed to connect to NATS, running in offline mode", "error", err)
		return err
	}

	c.conn = conn
	c.connected = true
	c.logger.Info("Connected to NATS", "url", c.url)
	return nil
}

// PublishCondition raises a condition signal for this addon's device.
// No-op if not connected (graceful degradation).
func (c *AddonClient) PublishCondition(name, detail string) {
	c.mu.RLock()
	conn := c.conn
	connected := c.connected
	c.mu.RUnlock()

	if conn == nil || !connected {
		return
	}

	ev := events.ConditionEvent{
		UDI:       c.udi,
		Name:      name,
		Detail:    detail,
		Timestamp: time.Now().Format(time.RFC3339),
	}

	data, err := json.Marshal(ev)
	if err != nil {
		c.logger.Warn("Failed to marshal condition", "error", err)
		return
	}

	if err := conn.Publish(SubjectConditionRaised, data); err != nil {
		c.logger.Warn("Failed to publish condition", "error", err)
	}
}

// PublishReady declares this addon's startup complete, releasing its
// device's add-callouts-done gate in the daemon. No-op if not connected;
// the daemon then counts the addon ready on its exit instead, so a
// disconnected addon cannot stall the pipeline.
func (c *AddonClient) PublishReady(addon string) {
	c.mu.RLock()
	conn := c.conn
	connected := c.connected
	c.mu.RUnlock()

	if conn == nil || !connected {
		return
	}

	msg := AddonReadyMessage{
		UDI:       c.udi,
		Addon:     addon,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	data, err := msg.Marshal()
	if err != nil {
		c.logger.Warn("Failed to marshal addon-ready", "error", err)
		return
	}
	if err := conn.Publish(SubjectAddonReady, data); err != nil {
		c.logger.Warn("Failed to publish addon-ready", "error", err)
	}
}

// IsConnected returns true if connected to NATS.
func (c *AddonClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.conn != nil
}

// Close closes the NATS connection.
func (c *AddonClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	c.connected = false
	c.logger.Debug("NATS addon client closed")
}

// CommandPublisher lets an external client send fire-and-forget
// rescan/reprobe commands into the daemon over NATS. The hald CLI and the
// IPC API do not use it.
type CommandPublisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewCommandPublisher creates a publisher for rescan/reprobe commands.
func NewCommandPublisher(url string, logger *slog.Logger) (*CommandPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(url,
		nats.Name("hald-control"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(5),
	)
	if err != nil {
		return nil, err
	}

	return &CommandPublisher{
		conn:   conn,
		logger: logger.With("component", "nats-control"),
	}, nil
}

// Rescan sends a rescan command for udi.
func (p *CommandPublisher) Rescan(udi, reason string) error {
	return p.send(SubjectCommandRescan, "rescan", udi, reason)
}

// Reprobe sends a reprobe command for udi.
func (p *CommandPublisher) Reprobe(udi, reason string) error {
	return p.send(SubjectCommandReprobe, "reprobe", udi, reason)
}

func (p *CommandPublisher) send(subject, action, udi, reason string) error {
	msg := CommandMessage{
		Action:    action,
		UDI:       udi,
		Timestamp: time.Now().Format(time.RFC3339),
		Reason:    reason,
	}

	data, err := msg.Marshal()
	if err != nil {
		return err
	}

	if err := p.conn.Publish(subject, data); err != nil {
		return err
	}

	p.logger.Info("Sent command", "action", action, "udi", udi, "reason", reason)
	return nil
}

// Close closes the command publisher connection.
func (p *CommandPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
