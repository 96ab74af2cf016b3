package handlers

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/smazurov/hald/internal/callout"
	"github.com/smazurov/hald/internal/device"
	"github.com/smazurov/hald/internal/helper"
	"github.com/smazurov/hald/internal/hotplug"
	"github.com/smazurov/hald/internal/identity"
	"github.com/smazurov/hald/internal/rules"
	"github.com/smazurov/hald/internal/store"
	"github.com/smazurov/hald/internal/sysfs"
)

// VolumeUnmounter forces a lazy unmount of a live mount point before a
// volume is removed. Implemented by internal/mount;
// declared here to avoid a dependency cycle.
type VolumeUnmounter interface {
	LazyUnmount(ctx context.Context, mountPoint string) error
}

// Pipeline drives a raw hotplug.Event through the full dispatch sequence
// for its subsystem: parent resolution, add, preprobe, probe, identity,
// information/policy, add-callouts, GDL publication. One Pipeline.Dispatch
// call per event, each running to completion on its own goroutine — the
// idiomatic realization of the cooperative "suspension point" event loop
// (see internal/helper.Supervisor.RunOnce).
type Pipeline struct {
	TDL, GDL *store.Store
	Queue    *hotplug.Queue
	Table    *Table
	Rules    *rules.Engine
	Helpers  *helper.Supervisor
	Callouts *callout.Chain
	Mounts   VolumeUnmounter
	FS       sysfs.Tree
	// ProcFS is the pseudo-filesystem tree firmware event paths resolve
	// against (/proc/acpi, /proc/apm, ...). Left zero, firmware events
	// fall back to FS.
	ProcFS sysfs.Tree
	Logger *slog.Logger

	// SlowProbers names prober binaries that get the 60-second
	// slow-probe timeout instead of the Supervisor default.
	SlowProbers map[string]bool

	AddonsTimeout time.Duration
}

// NewPipeline wires the collaborators above into a ready-to-use Pipeline.
// Callers still must set SlowProbers/AddonsTimeout if non-default.
func NewPipeline(tdl, gdl *store.Store, queue *hotplug.Queue, table *Table, engine *rules.Engine, helpers *helper.Supervisor, callouts *callout.Chain, mounts VolumeUnmounter, fs sysfs.Tree, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		TDL: tdl, GDL: gdl, Queue: queue, Table: table, Rules: engine,
		Helpers: helpers, Callouts: callouts, Mounts: mounts, FS: fs, Logger: logger,
		AddonsTimeout: 30 * time.Second,
	}
}

// Dispatch satisfies hotplug.Dispatcher: the queue hands it a releasable
// event and considers it owned until EndEvent or Repost is called, however
// long that takes.
func (p *Pipeline) Dispatch(ev *hotplug.Event) {
	go p.run(ev)
}

func (p *Pipeline) run(ev *hotplug.Event) {
	// Re-scan for newly releasable work whenever this dispatch finishes,
	// however it finishes: EndEvent/Repost only flip the queue's restart
	// flag, they don't themselves re-drive Pump. This is what turns a
	// reposted or synthesized child event (the fakevolume and eject
	// cascades) into an actually-dispatched one instead of a
	// queued-forever one.
	defer p.Queue.Pump()
	ctx := context.Background()
	switch ev.Action {
	case hotplug.ActionRemove:
		p.handleRemove(ctx, ev)
		return
	case hotplug.ActionChange:
		if p.handleRefresh(ctx, ev, ev.SysfsPath) {
			return
		}
	case hotplug.ActionMove:
		if p.handleRefresh(ctx, ev, ev.OldPath) {
			return
		}
	}
	p.handleAdd(ctx, ev)
}

// handleRefresh re-reads the handler's sysfs-derived properties for an
// already-published device and merges them in place.
// There is no separate handler callback for this — Handler exposes only
// the five operations of the handler contract — so refresh reuses Add's own
// attribute-reading logic against a scratch device and merges the result
// onto the live one. Returns false if no matching device exists, in which
// case the caller falls back to treating the event as an add.
func (p *Pipeline) handleRefresh(ctx context.Context, ev *hotplug.Event, lookupPath string) bool {
	existing, ok := p.GDL.MatchFirst("linux.sysfs_path", lookupPath)
	if !ok {
		existing, ok = p.TDL.MatchFirst("linux.sysfs_path", lookupPath)
	}
	if !ok {
		return false
	}

	if ev.Action == hotplug.ActionMove {
		existing.SetProperty("linux.sysfs_path", device.String(ev.SysfsPath))
	}

	existingSubsystem, _ := existing.GetString("linux.subsystem")
	handler := p.Table.Lookup(existingSubsystem)
	ac := p.buildAddContext(ev, existing)
	scratch, err := handler.Add(ac)
	if err != nil {
		p.Logger.Warn("refresh failed", "udi", existing.UDI(), "error", err)
		p.Queue.EndEvent(ev)
		return true
	}
	device.MergeWithRewrite(scratch, existing, "", "")
	p.Rules.RunPass(rules.Information, existing)
	p.Rules.RunPass(rules.Policy, existing)
	p.Queue.EndEvent(ev)
	return true
}

func (p *Pipeline) buildAddContext(ev *hotplug.Event, parent *device.Device) AddContext {
	ac := AddContext{
		SysfsPath:    ev.Path(),
		DeviceFile:   ev.DevicePath,
		Subsystem:    ev.Subsystem,
		Vendor:       ev.Vendor,
		Model:        ev.Model,
		Serial:       ev.Serial,
		FSUsage:      ev.FSUsage,
		FSType:       ev.FSType,
		FSUUID:       ev.FSUUID,
		FSLabel:      ev.FSLabel,
		IfIndex:      ev.IfIndex,
		IsFakevolume: ev.IsFakevolume,
		FS:           p.FS,
	}
	if ev.Firmware && p.ProcFS.Root != "" {
		ac.FS = p.ProcFS
	}
	if parent != nil {
		ac.ParentUDI = parent.UDI()
		ac.ParentPath, _ = parent.GetString("linux.sysfs_path")
	}
	return ac
}

// handleAdd runs the full add sequence against a freshly seen event.
func (p *Pipeline) handleAdd(ctx context.Context, ev *hotplug.Event) {
	parent, subsystem, ok := p.resolveParent(ev)
	if !ok {
		p.Logger.Debug("no parent device, dropping event", "path", ev.Path())
		p.Queue.EndEvent(ev)
		return
	}

	handler := p.Table.Lookup(subsystem)
	ac := p.buildAddContext(ev, parent)
	ac.Subsystem = subsystem

	draft, err := handler.Add(ac)
	if err != nil {
		p.Logger.Warn("handler add failed", "path", ev.Path(), "subsystem", subsystem, "error", err)
		p.Queue.EndEvent(ev)
		return
	}

	tempUDI := draft.UDI()
	if err := p.TDL.Add(draft); err != nil {
		p.Logger.Warn("could not insert draft into TDL", "udi", tempUDI, "error", err)
		p.Queue.EndEvent(ev)
		return
	}

	p.Rules.RunPass(rules.Preprobe, draft)
	if ignore, _ := draft.GetBool("info.ignore"); ignore {
		p.discardAsIgnored(tempUDI, draft)
		p.Queue.EndEvent(ev)
		return
	}

	if proberName, hasProber := handler.GetProber(draft); hasProber {
		if !p.runProbe(ctx, handler, draft, proberName) {
			p.TDL.Remove(tempUDI)
			p.Queue.EndEvent(ev)
			return
		}
		p.maybeSynthesizeFakevolume(draft, ac)
	}

	final := p.resolveIdentity(handler, draft)
	if final == "" {
		// Treated as an equivalent duplicate of a live device: discard silently.
		p.TDL.Remove(tempUDI)
		p.Queue.EndEvent(ev)
		return
	}
	draft.SetUDI(final)

	p.Rules.RunPass(rules.Information, draft)
	p.Rules.RunPass(rules.Policy, draft)

	p.Callouts.Run(ctx, callout.KindAdd, draft)
	ready := p.Callouts.StartAddons(draft)
	callout.WaitAddonsReady(ready, p.AddonsTimeout)

	if _, err := store.MoveTo(p.TDL, p.GDL, tempUDI); err != nil {
		p.Logger.Warn("failed to publish device", "udi", final, "error", err)
	}
	p.Queue.EndEvent(ev)
}

// resolveParent ascends ev's path looking
// for an already-published ancestor, falling back to the synthetic root
// for root-class subsystems.
func (p *Pipeline) resolveParent(ev *hotplug.Event) (*device.Device, string, bool) {
	subsystem := p.classifySubsystem(ev)

	if ev.Firmware {
		root, ok := p.GDL.Find(identity.Root)
		return root, subsystem, ok
	}

	path := ev.Path()
	for _, ancestor := range ancestorPaths(path) {
		if d, ok := p.GDL.MatchFirst("linux.sysfs_path", ancestor); ok {
			return d, subsystem, true
		}
	}
	if IsRootClass(subsystem) {
		root, ok := p.GDL.Find(identity.Root)
		return root, subsystem, ok
	}
	return nil, subsystem, false
}

// classifySubsystem resolves the "block/device distinction derived from
// sysfs layout: prefer the uevent's own SUBSYSTEM
// hint, falling back to /sys/block/... prefix detection for bare block
// device paths that carry no subsystem symlink of their own.
func (p *Pipeline) classifySubsystem(ev *hotplug.Event) string {
	if ev.Subsystem != "" {
		return ev.Subsystem
	}
	if strings.HasPrefix(ev.Path(), "/sys/block/") || strings.Contains(ev.Path(), "/block/") {
		return "block"
	}
	if link, ok := p.FS.ReadLink(ev.Path() + "/subsystem"); ok {
		return sysfs.BaseName(link)
	}
	return ""
}

// ancestorPaths returns every proper ancestor of path, nearest first, down
// to (but not including) the sysfs root.
func ancestorPaths(path string) []string {
	var out []string
	for {
		idx := strings.LastIndexByte(path, '/')
		if idx <= 0 {
			return out
		}
		path = path[:idx]
		out = append(out, path)
	}
}

// discardAsIgnored hides a device the preprobe pass flagged with
// info.ignore=true.
// Multiple ignored devices share the single sentinel UDI; since a Store
// rejects a duplicate key, only the first survives in the GDL and later
// ones are silently dropped after TDL removal — correct, since ignored
// devices are never queried by UDI.
func (p *Pipeline) discardAsIgnored(tempUDI string, draft *device.Device) {
	p.TDL.Remove(tempUDI)
	draft.ClearCapabilities()
	draft.RemoveProperty("info.category")
	draft.SetUDI(identity.Ignored)
	if err := p.GDL.Add(draft); err != nil {
		path, _ := draft.GetString("linux.sysfs_path")
		p.Logger.Debug("ignored-device sentinel already present", "path", path)
	}
}

// runProbe spawns handler's prober against draft and applies its result,
// returning false if the draft should be discarded.
func (p *Pipeline) runProbe(ctx context.Context, handler Handler, draft *device.Device, proberName string) bool {
	allow2 := false
	if ae, ok := handler.(AllowsExitCode2); ok {
		allow2 = ae.AllowsExitCode2(draft)
	}

	spec := helper.Spec{
		UDI:    draft.UDI(),
		Helper: proberName,
		Env:    halPropEnv(draft),
	}
	if p.SlowProbers[proberName] {
		spec.Timeout = 60 * time.Second
	}

	result, err := p.Helpers.RunOnce(ctx, spec)
	if err != nil && (result == nil || !result.Succeeded(allow2)) {
		p.Logger.Warn("probe failed", "udi", draft.UDI(), "helper", proberName, "error", err)
		return false
	}
	if err := handler.PostProbing(draft); err != nil {
		p.Logger.Warn("post_probing failed", "udi", draft.UDI(), "error", err)
		return false
	}
	return true
}

// halPropEnv mirrors the device's current properties into HAL_PROP_*
// environment variables for the prober.
func halPropEnv(dev *device.Device) map[string]string {
	env := make(map[string]string)
	for key, v := range dev.Properties() {
		envKey := "HAL_PROP_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
		env[envKey] = v.GoString()
	}
	return env
}

// maybeSynthesizeFakevolume enqueues the synthetic fakevolume child event
// when a whole-disk probe
// reported a filesystem directly on the device with no partition table.
func (p *Pipeline) maybeSynthesizeFakevolume(draft *device.Device, ac AddContext) {
	if !IsStorage(draft) {
		return
	}
	fsType, _ := draft.GetString("volume.fstype")
	if fsType == "" {
		return
	}
	fsUUID, _ := draft.GetString("volume.uuid")
	fsLabel, _ := draft.GetString("volume.label")

	child := &hotplug.Event{
		Action:       hotplug.ActionAdd,
		Subsystem:    "block",
		SysfsPath:    ac.SysfsPath + "/fakevolume",
		IsFakevolume: true,
		FSType:       fsType,
		FSUUID:       fsUUID,
		FSLabel:      fsLabel,
	}
	p.Queue.Enqueue(child)
}

// resolveIdentity runs compute_udi, sanitizes, and
// resolve any collision against the GDL. Returns "" if the draft should be
// discarded as a duplicate of a live, equivalent device.
func (p *Pipeline) resolveIdentity(handler Handler, draft *device.Device) string {
	candidate := identity.Sanitize(handler.ComputeUDI(draft))

	if existing, ok := p.GDL.Find(candidate); ok {
		if unplugged, _ := existing.GetBool("info.is_unplugged"); unplugged {
			device.MergeWithRewrite(draft, existing, "", "")
			return ""
		}
		if propertiesEquivalent(existing, draft) {
			return ""
		}
	}

	return identity.Resolve(candidate, func(u string) bool {
		_, ok := p.GDL.Find(u)
		return ok
	})
}

// propertiesEquivalent reports whether draft carries no property the
// existing device doesn't already have with an equal value.
func propertiesEquivalent(existing, draft *device.Device) bool {
	for key, v := range draft.Properties() {
		ev, ok := existing.GetProperty(key)
		if !ok || !ev.Equal(v) {
			return false
		}
	}
	return true
}

// handleRemove cascades a storage device's live fakevolume child (not its
// partitions) before the parent, force-unmounts a live volume, runs
// remove-callouts, stops addons, then drops the device from the GDL.
func (p *Pipeline) handleRemove(ctx context.Context, ev *hotplug.Event) {
	dev, ok := p.GDL.MatchFirst("linux.sysfs_path", ev.Path())
	if !ok {
		p.Queue.EndEvent(ev)
		return
	}

	if IsStorage(dev) {
		if child, found := p.findFakevolumeChild(dev); found {
			childPath, _ := child.GetString("linux.sysfs_path")
			synthetic := &hotplug.Event{Action: hotplug.ActionRemove, SysfsPath: childPath, Subsystem: "block"}
			p.Queue.Repost(ev, synthetic)
			return
		}
	}

	if mounted, _ := dev.GetBool("volume.is_mounted"); mounted && p.Mounts != nil {
		if mp, err := dev.GetString("volume.mount_point"); err == nil && mp != "" {
			if err := p.Mounts.LazyUnmount(ctx, mp); err != nil {
				p.Logger.Warn("forced lazy unmount failed", "udi", dev.UDI(), "mount_point", mp, "error", err)
			}
		}
	}

	p.Helpers.CancelForDevice(dev.UDI())
	p.Callouts.Run(ctx, callout.KindRemove, dev)
	p.Callouts.StopAddons(ctx, dev)

	subsystem, _ := dev.GetString("linux.subsystem")
	handler := p.Table.Lookup(subsystem)
	if err := handler.Remove(dev); err != nil {
		p.Logger.Warn("handler remove failed", "udi", dev.UDI(), "error", err)
	}

	p.GDL.Remove(dev.UDI())
	p.Queue.EndEvent(ev)
}

func (p *Pipeline) findFakevolumeChild(storageDev *device.Device) (*device.Device, bool) {
	storagePath, _ := storageDev.GetString("linux.sysfs_path")
	return p.GDL.MatchFirst("linux.sysfs_path", storagePath+"/fakevolume")
}

