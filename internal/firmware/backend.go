package firmware

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/hald/internal/events"
	"github.com/smazurov/hald/internal/hotplug"
	"github.com/smazurov/hald/internal/store"
	"github.com/smazurov/hald/internal/sysfs"
)

// ObjectSpec is one firmware object a backend discovered at startup: a
// subsystem name ("battery", "ac_adapter", "button") plus its pseudo-fs
// path, used to build its synthetic add event.
type ObjectSpec struct {
	Subsystem string
	Path      string
}

// Backend is one firmware namespace. A Backend only participates
// if its Namespace exists under the polled Tree.
type Backend interface {
	Name() string
	Namespace() string
	Interval() time.Duration

	// Discover lists every object present at startup, for the one-time
	// coldplug-style add burst.
	Discover(fs sysfs.Tree) []ObjectSpec

	// Poll re-reads every known object's state file and mutates its GDL
	// device's properties in place, publishing condition signals for any
	// transition worth surfacing.
	Poll(fs sysfs.Tree, gdl *store.Store, bus *events.Bus, log *slog.Logger)
}

// Manager registers every Backend whose namespace exists, drives its
// one-time Discover burst through the hotplug queue, then ticks its Poll on
// its own cadence until Stop is called.
type Manager struct {
	FS     sysfs.Tree
	Queue  *hotplug.Queue
	GDL    *store.Store
	Bus    *events.Bus
	Logger *slog.Logger

	backends []Backend
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewManager returns a Manager over the given collaborators. A nil logger
// falls back to slog.Default().
func NewManager(fs sysfs.Tree, queue *hotplug.Queue, gdl *store.Store, bus *events.Bus, logger *slog.Logger, backends ...Backend) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{FS: fs, Queue: queue, GDL: gdl, Bus: bus, Logger: logger, backends: backends}
}

// Start registers every backend whose namespace exists, runs its discovery
// burst, and launches its poll loop. Safe to call once; call Stop to tear
// the poll loops down.
func (m *Manager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	for _, b := range m.backends {
		log := m.Logger.With("firmware_backend", b.Name())
		if !m.FS.Exists(b.Namespace()) {
			log.Debug("firmware: namespace absent, backend not registered")
			continue
		}
		log.Info("firmware: backend registered", "interval", b.Interval())

		for _, spec := range b.Discover(m.FS) {
			m.Queue.Enqueue(&hotplug.Event{
				Firmware:        true,
				Action:          hotplug.ActionAdd,
				Subsystem:       spec.Subsystem,
				FirmwareSubtype: b.Name(),
				FirmwarePath:    spec.Path,
			})
		}
		m.Queue.Pump()

		m.wg.Add(1)
		go m.pollLoop(ctx, b, log)
	}
}

func (m *Manager) pollLoop(ctx context.Context, b Backend, log *slog.Logger) {
	defer m.wg.Done()
	ticker := time.NewTicker(b.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Poll(m.FS, m.GDL, m.Bus, log)
		}
	}
}

// Stop cancels every backend's poll loop and waits for them to exit.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
