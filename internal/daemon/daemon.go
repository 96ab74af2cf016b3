// Package daemon wires every core component into the running hald process:
// the device stores, the hotplug queue and pipeline, the rule engine, the
// helper/callout runners, the coldplug walker, the firmware backends, the
// mount monitor, the uevent netlink source, and the two IPC surfaces (huma
// query API, NATS signal plane). All state is built in New and threaded
// explicitly; nothing here is a hidden singleton.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/smazurov/hald/internal/callout"
	"github.com/smazurov/hald/internal/coldplug"
	"github.com/smazurov/hald/internal/device"
	"github.com/smazurov/hald/internal/events"
	"github.com/smazurov/hald/internal/firmware"
	"github.com/smazurov/hald/internal/hal"
	"github.com/smazurov/hald/internal/handlers"
	"github.com/smazurov/hald/internal/helper"
	"github.com/smazurov/hald/internal/hotplug"
	"github.com/smazurov/hald/internal/identity"
	"github.com/smazurov/hald/internal/ipc"
	"github.com/smazurov/hald/internal/logging"
	"github.com/smazurov/hald/internal/metrics"
	"github.com/smazurov/hald/internal/mount"
	halnats "github.com/smazurov/hald/internal/nats"
	"github.com/smazurov/hald/internal/rules"
	"github.com/smazurov/hald/internal/store"
	"github.com/smazurov/hald/internal/sysfs"
	"github.com/smazurov/hald/internal/systemd"
	"github.com/smazurov/hald/internal/uevent"
)

// Options carries every daemon-wide knob, populated by the CLI/config
// layer.
type Options struct {
	SysfsRoot string
	ProcRoot  string

	// RuleDir is the fixed rule prefix; preprobe/, information/ and
	// policy/ live beneath it.
	RuleDir string

	HelperTimeout time.Duration
	SlowProbers   []string
	AddonsTimeout time.Duration

	Coldplug     bool
	UeventSource bool

	MountStateFile     string
	MountIgnoreFSTypes []string
	MountPollInterval  time.Duration
	CleanupHelper      string

	ACPIPollInterval time.Duration
	APMPollInterval  time.Duration
	PMUPollInterval  time.Duration

	HTTPAddr     string
	AuthUsername string
	AuthPassword string

	NATSEnabled bool
	NATSPort    int
}

// DefaultOptions returns the production defaults; tests override roots and
// disable the external sources.
func DefaultOptions() Options {
	return Options{
		SysfsRoot:          "/sys",
		ProcRoot:           "/proc",
		RuleDir:            "/usr/share/hal/fdi",
		HelperTimeout:      10 * time.Second,
		SlowProbers:        []string{"hald-probe-storage", "hald-probe-volume"},
		AddonsTimeout:      30 * time.Second,
		Coldplug:           true,
		UeventSource:       true,
		MountStateFile:     "/var/run/hald/mtab.hald",
		MountIgnoreFSTypes: []string{"nfs", "nfs4", "cifs", "smbfs", "ncpfs", "autofs"},
		MountPollInterval:  2 * time.Second,
		CleanupHelper:      "hald-cleanup-mountpoint",
		ACPIPollInterval:   30 * time.Second,
		APMPollInterval:    2 * time.Second,
		PMUPollInterval:    2 * time.Second,
		HTTPAddr:           ":8088",
		NATSEnabled:        true,
		NATSPort:           4222,
	}
}

// Daemon owns the assembled component graph.
type Daemon struct {
	opts Options
	log  *slog.Logger

	Bus      *events.Bus
	TDL, GDL *store.Store
	Queue    *hotplug.Queue
	Pipeline *handlers.Pipeline
	Rules    *rules.Engine
	Helpers  *helper.Supervisor
	Callouts *callout.Chain
	Firmware *firmware.Manager
	Mounts   *mount.Monitor
	Metrics  *metrics.Metrics

	uevents    *uevent.Source
	natsServer *halnats.Server
	natsBridge *halnats.Bridge
	ipcServer  *ipc.Server
	notifier   *systemd.Notifier

	sysfsTree sysfs.Tree
	procTree  sysfs.Tree
}

// New assembles a Daemon from opts. Nothing external (listeners, netlink,
// subprocesses) is touched until Run.
func New(opts Options) *Daemon {
	d := &Daemon{
		opts:      opts,
		log:       logging.GetLogger("daemon"),
		Bus:       events.New(),
		TDL:       store.New(store.KindTDL),
		GDL:       store.New(store.KindGDL, "linux.subsystem", "info.parent"),
		sysfsTree: sysfs.New(opts.SysfsRoot),
		procTree:  sysfs.New(opts.ProcRoot),
		notifier:  systemd.NewNotifier(logging.GetLogger("systemd")),
	}

	d.Queue = hotplug.New(d.dispatch, d.onQueueIdle)
	d.Metrics = metrics.New(d.Queue.Len, d.Queue.InProgressLen, d.TDL.Len, d.GDL.Len)

	d.Rules = rules.New(map[rules.Pass][]string{
		rules.Preprobe:    {filepath.Join(opts.RuleDir, "preprobe")},
		rules.Information: {filepath.Join(opts.RuleDir, "information")},
		rules.Policy:      {filepath.Join(opts.RuleDir, "policy")},
	}, logging.GetLogger("rules"))
	d.Rules.OnPass = func(pass rules.Pass, elapsed time.Duration) {
		d.Metrics.ObserveRulePass(pass.String(), elapsed)
	}

	d.Helpers = helper.NewSupervisor(opts.HelperTimeout, logging.GetLogger("helper"), func() {
		d.Metrics.HelpersStarted.Inc()
		d.Queue.Pump()
	})
	d.Helpers.OnFailure = func(subkind hal.HelperSubkind) {
		d.Metrics.HelperFailures.WithLabelValues(string(subkind)).Inc()
	}
	d.Callouts = callout.New(callout.DefaultScriptRunner, logging.GetLogger("callout"))

	d.Mounts = mount.NewMonitor(d.GDL, d.Queue, logging.GetLogger("mount"))
	d.Mounts.ProcRoot = opts.ProcRoot
	d.Mounts.IgnoreFSTypes = opts.MountIgnoreFSTypes
	d.Mounts.Interval = opts.MountPollInterval
	if opts.MountStateFile != "" {
		d.Mounts.State = mount.NewStateFile(opts.MountStateFile)
	}
	d.Mounts.Cleanup = d.runMountCleanup

	table := handlers.NewTable(handlers.GenericHandler{},
		handlers.PCIHandler{},
		handlers.USBDeviceHandler{},
		handlers.USBInterfaceHandler{},
		handlers.IEEE1394Handler{},
		handlers.IDEHandler{},
		handlers.SCSIHandler{},
		handlers.BlockHandler{},
		handlers.NetHandler{},
		handlers.InputHandler{},
		handlers.BatteryHandler{},
		handlers.ACAdapterHandler{},
		handlers.ButtonHandler{},
	)

	d.Pipeline = handlers.NewPipeline(
		d.TDL, d.GDL, d.Queue, table, d.Rules, d.Helpers, d.Callouts,
		d.Mounts, d.sysfsTree, logging.GetLogger("pipeline"),
	)
	d.Pipeline.ProcFS = d.procTree
	d.Pipeline.AddonsTimeout = opts.AddonsTimeout
	slow := make(map[string]bool, len(opts.SlowProbers))
	for _, p := range opts.SlowProbers {
		slow[p] = true
	}
	d.Pipeline.SlowProbers = slow

	acpi := firmware.NewACPIBackend()
	acpi.PollInterval = opts.ACPIPollInterval
	apm := firmware.NewAPMBackend()
	apm.PollInterval = opts.APMPollInterval
	pmu := firmware.NewPMUBackend()
	pmu.PollInterval = opts.PMUPollInterval
	d.Firmware = firmware.NewManager(d.procTree, d.Queue, d.GDL, d.Bus,
		logging.GetLogger("firmware"), acpi, apm, pmu)

	d.uevents = uevent.NewSource(func(ev *hotplug.Event) {
		d.Queue.Enqueue(ev)
		d.Queue.Pump()
	}, logging.GetLogger("uevent"))
	d.uevents.OnReceive = func(action string) {
		d.Metrics.UeventsReceived.WithLabelValues(action).Inc()
	}

	d.GDL.Subscribe(d.forwardStoreEvent)
	d.Bus.Subscribe(func(e events.ConditionEvent) {
		d.Metrics.ConditionsRaised.Inc()
		d.log.Info("condition raised", "udi", e.UDI, "name", e.Name, "detail", e.Detail)
	})

	d.ipcServer = ipc.NewServer(&ipc.Options{
		AuthUsername:   opts.AuthUsername,
		AuthPassword:   opts.AuthPassword,
		GDL:            d.GDL,
		Commands:       ipc.Commands{Rescan: d.Rescan, Reprobe: d.Reprobe},
		MetricsHandler: d.Metrics.Handler(),
		Logger:         logging.GetLogger("ipc"),
	})

	return d
}

// dispatch hands a released event to the pipeline, counting it.
func (d *Daemon) dispatch(ev *hotplug.Event) {
	d.Metrics.EventsDispatched.Inc()
	d.Pipeline.Dispatch(ev)
}

// onQueueIdle publishes the idle notification once the queue and
// in-progress set drain.
func (d *Daemon) onQueueIdle() {
	d.Metrics.QueueIdle.Inc()
	d.Bus.Publish(events.QueueIdleEvent{Timestamp: timestamp()})
}

// Run starts every external-facing component, blocks until ctx is
// cancelled, then tears everything down in reverse order.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info("hald starting",
		"sysfs", d.opts.SysfsRoot, "proc", d.opts.ProcRoot, "rules", d.opts.RuleDir)

	d.Rules.Reload()

	if d.opts.NATSEnabled {
		d.natsServer = halnats.NewServer(halnats.ServerOptions{
			Port:   d.opts.NATSPort,
			Name:   "hald",
			Logger: logging.GetLogger("nats"),
		})
		if err := d.natsServer.Start(); err != nil {
			return fmt.Errorf("starting NATS server: %w", err)
		}
		d.natsBridge = halnats.NewBridge(d.natsServer.ClientURL(), d.Bus, logging.GetLogger("nats"))
		if err := d.natsBridge.Start(halnats.CommandHandlers{
			Rescan:     func(udi string) { _ = d.Rescan(udi) },
			Reprobe:    func(udi string) { _ = d.Reprobe(udi) },
			AddonReady: d.Callouts.MarkReady,
		}); err != nil {
			d.log.Warn("NATS bridge failed to start", "error", err)
		}
	}

	if d.opts.HTTPAddr != "" {
		go func() {
			if err := d.ipcServer.Start(d.opts.HTTPAddr); err != nil {
				d.log.Error("query API server failed", "error", err)
			}
		}()
	}

	if err := d.addComputerDevice(); err != nil {
		return fmt.Errorf("synthesizing root device: %w", err)
	}

	if d.opts.Coldplug {
		walker := coldplug.New(d.sysfsTree, d.Queue, logging.GetLogger("coldplug"))
		runID := walker.Run()
		d.log.Info("coldplug probe complete", "run", runID, "devices", d.GDL.Len())
	}

	d.Firmware.Start()

	if d.opts.UeventSource {
		if err := d.uevents.Start(); err != nil {
			d.log.Warn("uevent source unavailable, running without hotplug", "error", err)
		}
	}

	if err := d.Mounts.Start(); err != nil {
		d.log.Warn("mount monitor unavailable", "error", err)
	}

	d.notifier.Ready()
	go d.notifier.WatchdogLoop(ctx)

	<-ctx.Done()
	d.log.Info("hald shutting down")
	d.notifier.Stopping()

	d.Mounts.Stop()
	d.uevents.Stop()
	d.Firmware.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.ipcServer.Stop(shutdownCtx); err != nil {
		d.log.Warn("query API shutdown error", "error", err)
	}
	if d.natsBridge != nil {
		d.natsBridge.Stop()
	}
	if d.natsServer != nil {
		d.natsServer.Stop()
	}
	return nil
}

// addComputerDevice synthesizes the root "computer" device every root-class
// subsystem attaches under, collecting DMI (or devicetree) identity
// first.
func (d *Daemon) addComputerDevice() error {
	c := device.New(identity.Root)
	c.SetProperty("info.product", device.String("Computer"))
	c.SetProperty("info.subsystem", device.String("machine"))
	c.SetProperty("linux.hotplug_type", device.String("coldplug"))

	dmi := map[string]string{
		"/class/dmi/id/sys_vendor":      "system.hardware.vendor",
		"/class/dmi/id/product_name":    "system.hardware.product",
		"/class/dmi/id/product_version": "system.hardware.version",
		"/class/dmi/id/product_serial":  "system.hardware.serial",
		"/class/dmi/id/product_uuid":    "system.hardware.uuid",
		"/class/dmi/id/bios_vendor":     "system.firmware.vendor",
		"/class/dmi/id/bios_version":    "system.firmware.version",
		"/class/dmi/id/bios_date":       "system.firmware.release_date",
	}
	for attr, key := range dmi {
		if v, ok := d.sysfsTree.ReadAttr(attr); ok && v != "" {
			c.SetProperty(key, device.String(strings.TrimSpace(v)))
		}
	}
	// Openfirmware machines carry no DMI; the devicetree model string is
	// the closest equivalent.
	if !c.HasProperty("system.hardware.product") {
		if v, ok := d.sysfsTree.ReadAttr("/firmware/devicetree/base/model"); ok && v != "" {
			c.SetProperty("system.hardware.product", device.String(strings.TrimRight(v, "\x00")))
		}
	}

	return d.GDL.Add(c)
}

// firmwareSubsystems maps the subsystems whose devices originate from a
// firmware backend rather than a sysfs uevent.
var firmwareSubsystems = map[string]bool{
	"battery":    true,
	"ac_adapter": true,
	"button":     true,
}

// eventFor builds a queue event re-targeting an already-published device.
func (d *Daemon) eventFor(dev *device.Device, action hotplug.Action) *hotplug.Event {
	subsystem, _ := dev.GetString("linux.subsystem")
	path, _ := dev.GetString("linux.sysfs_path")
	ev := &hotplug.Event{Action: action, Subsystem: subsystem}
	if firmwareSubsystems[subsystem] {
		ev.Firmware = true
		ev.FirmwarePath = path
		ev.FirmwareSubtype = subsystem
	} else {
		ev.SysfsPath = path
		if df, err := dev.GetString("linux.device_file"); err == nil {
			ev.DevicePath = df
		}
	}
	return ev
}

// Rescan re-reads a published device's state by injecting a change event,
// the queue consuming it like any kernel-originated one.
func (d *Daemon) Rescan(udi string) error {
	dev, ok := d.GDL.Find(udi)
	if !ok {
		return fmt.Errorf("%w: %s", hal.ErrNotFound, udi)
	}
	d.log.Info("rescan requested", "udi", udi)
	d.Queue.Enqueue(d.eventFor(dev, hotplug.ActionChange))
	d.Queue.Pump()
	return nil
}

// Reprobe tears a published device down and re-runs its full add pipeline:
// a remove followed by an add on the same path, which the queue's dominance
// rules keep strictly ordered.
func (d *Daemon) Reprobe(udi string) error {
	dev, ok := d.GDL.Find(udi)
	if !ok {
		return fmt.Errorf("%w: %s", hal.ErrNotFound, udi)
	}
	d.log.Info("reprobe requested", "udi", udi)
	d.Queue.Enqueue(d.eventFor(dev, hotplug.ActionRemove))
	d.Queue.Enqueue(d.eventFor(dev, hotplug.ActionAdd))
	d.Queue.Pump()
	return nil
}

// runMountCleanup reaps a vanished daemon-performed mount's mount point via
// the cleanup helper.
func (d *Daemon) runMountCleanup(ctx context.Context, rec mount.Record) {
	if d.opts.CleanupHelper == "" {
		return
	}
	_, err := d.Helpers.RunOnce(ctx, helper.Spec{
		Helper: d.opts.CleanupHelper,
		Args:   []string{rec.MountPoint},
		Env: map[string]string{
			"HALD_ACTION":  "unmount-cleanup",
			"HALD_DEVICE":  rec.Device,
			"HALD_UID":     rec.UID,
			"HALD_SESSION": rec.Session,
		},
	})
	if err != nil {
		d.log.Warn("mount cleanup helper failed", "mount_point", rec.MountPoint, "error", err)
	}
}

// forwardStoreEvent translates a GDL mutation into its externally visible
// bus event. TDL events never reach here: only the GDL is subscribed, and
// only External-visibility events are forwarded.
func (d *Daemon) forwardStoreEvent(ev store.Event) {
	if ev.Visibility != store.External {
		return
	}
	ts := timestamp()

	switch {
	case ev.Change != nil:
		if ev.Change.Kind == store.ChangeAdded {
			props := make(map[string]any)
			if dev, ok := d.GDL.Find(ev.Change.UDI); ok {
				props = ipc.ModelFromDevice(dev).Properties
			}
			d.Bus.Publish(events.DeviceAddedEvent{UDI: ev.Change.UDI, Properties: props, Timestamp: ts})
		} else {
			d.Bus.Publish(events.DeviceRemovedEvent{UDI: ev.Change.UDI, Timestamp: ts})
		}
	case ev.DeviceHook != nil:
		h := ev.DeviceHook
		switch h.Kind {
		case device.HookPropertyChanged:
			d.Bus.Publish(events.PropertyChangedEvent{
				UDI: h.UDI, Key: h.Key, Added: h.Added, Removed: h.Removed, Timestamp: ts,
			})
		case device.HookCapabilityAdded:
			d.Bus.Publish(events.CapabilityAddedEvent{UDI: h.UDI, Capability: h.Capability, Timestamp: ts})
		case device.HookLockAcquired:
			d.Bus.Publish(events.LockAcquiredEvent{UDI: h.UDI, Name: h.LockName, Owner: h.LockOwner, Timestamp: ts})
		case device.HookLockReleased:
			d.Bus.Publish(events.LockReleasedEvent{UDI: h.UDI, Name: h.LockName, Owner: h.LockOwner, Timestamp: ts})
		}
	}
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
