// Package coldplug implements the startup sysfs enumeration that
// reconstructs the device graph hald would otherwise only learn about
// piecemeal from kernel hotplug events. It runs exactly
// once, early in daemon startup, before the uevent netlink source is
// attached, so nothing can enqueue ahead of it.
package coldplug

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/smazurov/hald/internal/hotplug"
	"github.com/smazurov/hald/internal/sysfs"
)

// classEntry is one /sys/class/<classname>/<name> node.
type classEntry struct {
	classPath string
	className string
}

// Walker performs the one-shot coldplug run: build the bus and class maps, walk /sys/devices in depth-first
// pre-order emitting synthetic add events, emit orphan class devices,
// then emit block devices (deferring device-mapper nodes), and finally
// drive the queue to empty.
type Walker struct {
	FS     sysfs.Tree
	Queue  *hotplug.Queue
	Logger *slog.Logger
}

// New returns a Walker rooted at fs, enqueuing synthetic events onto
// queue. A nil logger falls back to slog.Default().
func New(fs sysfs.Tree, queue *hotplug.Queue, logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Walker{FS: fs, Queue: queue, Logger: logger}
}

// Run executes the coldplug walk, pumps the queue it fed once, and
// returns. It does not wait for the queue to drain: dispatched events
// finish asynchronously, and the queue's idle callback reports when the
// queue and its in-progress set are empty. It returns a
// correlation id used only to tie this run's log lines together; it is
// never used as or folded into a UDI.
func (w *Walker) Run() string {
	runID := uuid.NewString()
	log := w.Logger.With("coldplug_run", runID)
	log.Info("coldplug: starting")

	busMap := w.scanBus(log)
	classMap, orphans := w.scanClass(log)

	emitted := w.walkDevices(busMap, classMap, log)
	emitted += w.emitOrphans(orphans, log)
	emitted += w.emitBlockDevices(log)

	log.Info("coldplug: enumeration complete, draining queue", "events", emitted)
	w.Queue.Pump()
	log.Info("coldplug: done")
	return runID
}

// scanBus builds sysfs-path -> subsystem by dereferencing every
// /sys/bus/<bus>/devices/<name> symlink.
func (w *Walker) scanBus(log *slog.Logger) map[string]string {
	busMap := make(map[string]string)
	for _, bus := range w.FS.ReadDirNames("/bus") {
		for _, name := range w.FS.ReadDirNames("/bus/" + bus + "/devices") {
			link := "/bus/" + bus + "/devices/" + name
			resolved, ok := w.FS.ReadLink(link)
			if !ok {
				log.Warn("coldplug: unresolvable bus device symlink", "link", link)
				continue
			}
			busMap[resolved] = bus
		}
	}
	return busMap
}

// scanClass builds sysfs-path -> []classEntry by dereferencing every
// /sys/class/<classname>/<name> symlink; entries whose target does not
// terminate inside /devices are collected separately as orphans.
func (w *Walker) scanClass(log *slog.Logger) (map[string][]classEntry, []classEntry) {
	classMap := make(map[string][]classEntry)
	var orphans []classEntry
	for _, class := range w.FS.ReadDirNames("/class") {
		for _, name := range w.FS.ReadDirNames("/class/" + class) {
			classPath := "/class/" + class + "/" + name
			resolved, ok := w.FS.ReadLink(classPath)
			entry := classEntry{classPath: classPath, className: class}
			if !ok || !strings.HasPrefix(resolved, "/devices") {
				orphans = append(orphans, entry)
				continue
			}
			classMap[resolved] = append(classMap[resolved], entry)
		}
	}
	return classMap, orphans
}

// walkDevices recursively walks /sys/devices in depth-first pre-order,
// emitting a synthetic add event for any node present in busMap or
// classMap.
func (w *Walker) walkDevices(busMap map[string]string, classMap map[string][]classEntry, log *slog.Logger) int {
	return w.visit("/devices", busMap, classMap, log)
}

func (w *Walker) visit(path string, busMap map[string]string, classMap map[string][]classEntry, log *slog.Logger) int {
	emitted := 0
	if subsystem, ok := busMap[path]; ok {
		w.emitAdd(path, subsystem, log)
		emitted++
	} else if entries, ok := classMap[path]; ok && len(entries) > 0 {
		w.emitAdd(path, entries[0].className, log)
		emitted++
	}

	names := w.FS.ReadDirNames(path)
	sort.Strings(names)
	for _, name := range names {
		if strings.HasPrefix(name, ".") {
			continue
		}
		child := path + "/" + name
		if !w.FS.IsRealDir(child) {
			continue
		}
		emitted += w.visit(child, busMap, classMap, log)
	}
	return emitted
}

// emitOrphans emits an add event for each class device with no backing
// physical device. A purely-virtual subsystem like
// "backlight" attaches directly to the root computer device via
// handlers.IsRootClass; anything else is dropped silently by the
// pipeline's parent resolution, matching the "missing parent"
// boundary behavior.
func (w *Walker) emitOrphans(orphans []classEntry, log *slog.Logger) int {
	for _, o := range orphans {
		w.emitAdd(o.classPath, o.className, log)
	}
	return len(orphans)
}

// emitBlockDevices emits an add event for every /sys/block entry,
// dereferencing the block symlink to its canonical /sys/devices path
// where possible so the pipeline's ancestor search finds the same parent
// the real device tree already carries. Device-mapper nodes (dm-*) are
// deferred until every non-dm block device has been emitted, since a dm
// volume's identity formula may consult its slave devices.
func (w *Walker) emitBlockDevices(log *slog.Logger) int {
	names := w.FS.ReadDirNames("/block")
	sort.Strings(names)

	var plain, dm []string
	for _, name := range names {
		if strings.HasPrefix(name, "dm-") {
			dm = append(dm, name)
		} else {
			plain = append(plain, name)
		}
	}

	for _, name := range append(plain, dm...) {
		link := "/block/" + name
		path := link
		if resolved, ok := w.FS.ReadLink(link); ok {
			path = resolved
		} else {
			log.Debug("coldplug: block device has no backing symlink, using virtual path", "name", name)
		}
		// Enqueue order alone does not serialize dispatch: every
		// releasable event in one Pump scan runs concurrently. Flagging
		// dm-* events is what makes the queue's dominance rule hold them
		// back until the plain block devices have settled.
		log.Debug("coldplug: emitting synthetic add", "path", path, "subsystem", "block")
		w.Queue.Enqueue(&hotplug.Event{
			Action:         hotplug.ActionAdd,
			Subsystem:      "block",
			SysfsPath:      path,
			IsDeviceMapper: strings.HasPrefix(name, "dm-"),
		})
	}
	return len(names)
}

func (w *Walker) emitAdd(sysfsPath, subsystem string, log *slog.Logger) {
	log.Debug("coldplug: emitting synthetic add", "path", sysfsPath, "subsystem", subsystem)
	w.Queue.Enqueue(&hotplug.Event{
		Action:    hotplug.ActionAdd,
		Subsystem: subsystem,
		SysfsPath: sysfsPath,
	})
}
