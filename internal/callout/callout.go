// Package callout implements the callout chain: the user-configurable
// hook scripts run at preprobe/add/remove, plus the two
// "addon" forms (long-lived daemons tied to a device's lifetime) whose
// readiness gates the add-callouts-done pipeline transition.
//
// Callout scripts run to completion at their trigger point; addons are
// supervised through internal/process.Pool for their whole lifetime and
// gate publication until each has declared ready or died.
package callout

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/smazurov/hald/internal/device"
	"github.com/smazurov/hald/internal/process"
)

// Kind identifies which of the three fixed callout points fired.
type Kind string

// The three callout points.
const (
	KindPreprobe Kind = "preprobe"
	KindAdd      Kind = "add"
	KindRemove   Kind = "remove"
)

func propertyKey(k Kind) string {
	return "info.callouts." + string(k)
}

// ScriptRunner runs a single callout script to completion. Swapped out in
// tests for a fake that records invocations instead of exec'ing.
type ScriptRunner func(ctx context.Context, script, udi string) error

// DefaultScriptRunner execs script with the device's UDI as its sole
// argument, matching the documented callout contract.
func DefaultScriptRunner(ctx context.Context, script, udi string) error {
	cmd := exec.CommandContext(ctx, script, udi)
	cmd.Env = []string{"UDI=" + udi}
	return cmd.Run()
}

// Chain runs callout scripts and supervises addons for every device passing
// through the pipeline.
type Chain struct {
	run    ScriptRunner
	logger *slog.Logger

	mu            sync.Mutex
	addonPools    map[string]*addonEntry // per-device addon pool, keyed by UDI
	singletonRefs map[string]int         // singleton addon path -> live reference count
	singletonPool map[string]process.Pool
}

type addonEntry struct {
	pool    process.Pool
	pending int
	ready   chan struct{}
	readyMu sync.Mutex
}

// New creates a Chain. run defaults to DefaultScriptRunner when nil.
func New(run ScriptRunner, logger *slog.Logger) *Chain {
	if run == nil {
		run = DefaultScriptRunner
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		run:           run,
		logger:        logger,
		addonPools:    make(map[string]*addonEntry),
		singletonRefs: make(map[string]int),
		singletonPool: make(map[string]process.Pool),
	}
}

// Run executes every script listed in info.callouts.<kind> on dev, in
// order, sequentially. A failing script is logged and does not abort the
// remaining scripts or the pipeline.
func (c *Chain) Run(ctx context.Context, kind Kind, dev *device.Device) {
	scripts, _ := dev.GetStrlist(propertyKey(kind))
	for _, script := range scripts {
		if err := c.run(ctx, script, dev.UDI()); err != nil {
			c.logger.Warn("callout script failed", "kind", kind, "script", script, "udi", dev.UDI(), "error", err)
		}
	}
}

// StartAddons launches every addon listed in info.addons and
// info.addons.singleton for dev, setting the chain's pending counter for
// dev to the number of addons. It returns a channel that closes once every addon for this
// device has either signalled ready (via MarkReady) or exited (counted as
// ready with a warning).
func (c *Chain) StartAddons(dev *device.Device) <-chan struct{} {
	udi := dev.UDI()
	perDevice, _ := dev.GetStrlist("info.addons")
	singletons, _ := dev.GetStrlist("info.addons.singleton")

	entry := &addonEntry{ready: make(chan struct{})}
	total := len(perDevice) + len(singletons)
	if total == 0 {
		close(entry.ready)
		return entry.ready
	}
	entry.pending = total

	c.mu.Lock()
	c.addonPools[udi] = entry
	c.mu.Unlock()

	for _, addon := range perDevice {
		c.startPerDeviceAddon(udi, addon, entry)
	}
	for _, addon := range singletons {
		c.startSingletonAddon(udi, addon, entry)
	}
	return entry.ready
}

func (c *Chain) startPerDeviceAddon(udi, addon string, entry *addonEntry) {
	id := udi + "::" + addon
	pool := process.NewPool(&process.PoolOptions{
		CommandProvider: func(string) (string, error) { return fmt.Sprintf("%s %s", addon, udi), nil },
		OnStateChange:   c.onAddonStateChange(udi, entry),
		Logger:          c.logger,
	})
	c.mu.Lock()
	entry.pool = pool
	c.mu.Unlock()
	if err := pool.Start(id); err != nil {
		c.logger.Warn("failed to start addon", "addon", addon, "udi", udi, "error", err)
		c.addonDone(entry)
	}
}

// startSingletonAddon launches addon at most once across every device that
// references it, reference-counting its lifetime.
func (c *Chain) startSingletonAddon(udi, addon string, entry *addonEntry) {
	c.mu.Lock()
	c.singletonRefs[addon]++
	pool, exists := c.singletonPool[addon]
	if !exists {
		pool = process.NewPool(&process.PoolOptions{
			CommandProvider: func(string) (string, error) { return addon, nil },
			Logger:          c.logger,
		})
		c.singletonPool[addon] = pool
	}
	c.mu.Unlock()

	if !exists {
		if err := pool.Start(addon); err != nil {
			c.logger.Warn("failed to start singleton addon", "addon", addon, "error", err)
		}
	}
	// Singleton readiness is immediate for every referencing device, the
	// first one included: the singleton is counted as ready as soon as it
	// has been started (or found already running), and its supervision
	// lifetime is independent of add-callouts.
	c.addonDone(entry)
}

// ReleaseSingleton decrements addon's reference count, stopping it once the
// last referencing device is gone.
func (c *Chain) ReleaseSingleton(addon string) {
	c.mu.Lock()
	c.singletonRefs[addon]--
	n := c.singletonRefs[addon]
	pool := c.singletonPool[addon]
	if n <= 0 {
		delete(c.singletonRefs, addon)
		delete(c.singletonPool, addon)
	}
	c.mu.Unlock()

	if n <= 0 && pool != nil {
		pool.StopAll()
	}
}

func (c *Chain) onAddonStateChange(udi string, entry *addonEntry) process.StateChangeCallback {
	var firedReady bool
	var mu sync.Mutex
	return func(id string, oldState, newState process.State, err error) {
		if newState != process.StateRunning && newState != process.StateError && newState != process.StateIdle {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if newState == process.StateRunning {
			return // running does not by itself imply ready; MarkReady or death does
		}
		if firedReady {
			return
		}
		if newState == process.StateError {
			c.logger.Warn("addon exited unexpectedly, counting as ready", "id", id, "udi", udi, "error", err)
		}
		firedReady = true
		c.addonDone(entry)
	}
}

// MarkReady records that one addon of udi has self-declared ready over
// IPC, decrementing that device's pending counter by one (the message
// does not say which addon). Exposed for the IPC layer
// to call when it receives the corresponding message.
func (c *Chain) MarkReady(udi string) {
	c.mu.Lock()
	entry := c.addonPools[udi]
	c.mu.Unlock()
	if entry == nil {
		return
	}
	c.addonDone(entry)
}

func (c *Chain) addonDone(entry *addonEntry) {
	entry.readyMu.Lock()
	defer entry.readyMu.Unlock()
	if entry.pending <= 0 {
		return
	}
	entry.pending--
	if entry.pending == 0 {
		close(entry.ready)
	}
}

// StopAddons stops every addon running for dev (called on device removal).
func (c *Chain) StopAddons(ctx context.Context, dev *device.Device) {
	udi := dev.UDI()
	c.mu.Lock()
	entry := c.addonPools[udi]
	delete(c.addonPools, udi)
	singletons, _ := dev.GetStrlist("info.addons.singleton")
	c.mu.Unlock()

	if entry != nil && entry.pool != nil {
		entry.pool.StopAll()
	}
	for _, addon := range singletons {
		c.ReleaseSingleton(addon)
	}
	_ = ctx
}

// WaitAddonsReady blocks until ready closes or timeout elapses, used by the
// pipeline's add-callouts-done transition.
func WaitAddonsReady(ready <-chan struct{}, timeout time.Duration) bool {
	select {
	case <-ready:
		return true
	case <-time.After(timeout):
		return false
	}
}
