// Package mount implements the Mount and Link Monitor: it
// re-parses the process mount table whenever it changes, matches rows
// against published block devices by major:minor, and maintains the
// volume.is_mounted / volume.mount_point / volume.fstype /
// volume.is_mounted_read_only properties. It also watches /proc/mdstat for
// MD array membership changes and re-drives the hotplug queue, and records
// the daemon's own mounts in a persisted state file so an unmount can
// trigger a cleanup helper.
package mount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/procfs"
	"github.com/smazurov/hald/internal/device"
	"github.com/smazurov/hald/internal/hotplug"
	"github.com/smazurov/hald/internal/store"
)

// CleanupRunner is invoked when a mount the daemon itself performed
// disappears from the mount table, so leftover mount-point directories can
// be reaped by an external helper.
type CleanupRunner func(ctx context.Context, rec Record)

// Monitor watches the mount table and mdstat for change. File-changed
// notifications are translated into normal in-loop work via fsnotify's
// channel — there is no signal handler anywhere, which is how the
// sleep-in-signal-handler bug class is avoided entirely.
type Monitor struct {
	GDL    *store.Store
	Queue  *hotplug.Queue
	Logger *slog.Logger

	// ProcRoot is the proc filesystem root, overridable for tests.
	ProcRoot string
	// Pid selects whose mountinfo to read; defaults to this process.
	Pid int

	// IgnoreFSTypes lists filesystem types skipped before any further
	// inspection. Network filesystems go here: a stale NFS mount must never
	// be able to block the monitor.
	IgnoreFSTypes []string

	// State records mounts performed by the daemon itself; rows that vanish
	// from the mount table trigger Cleanup.
	State   *StateFile
	Cleanup CleanupRunner

	// Interval is the fallback re-read cadence. On a real /proc, inotify
	// does not fire for pseudo-files, so the ticker is what actually drives
	// refresh there.
	Interval time.Duration

	mu     sync.Mutex
	lastMD map[string][]string
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor returns a Monitor over gdl and queue with defaults filled in.
func NewMonitor(gdl *store.Store, queue *hotplug.Queue, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		GDL:           gdl,
		Queue:         queue,
		Logger:        logger.With("component", "mount"),
		ProcRoot:      "/proc",
		Pid:           os.Getpid(),
		IgnoreFSTypes: []string{"nfs", "nfs4", "cifs", "smbfs", "ncpfs", "autofs"},
		Interval:      2 * time.Second,
		lastMD:        make(map[string][]string),
	}
}

// Start launches the watch loop. Refresh errors are logged and retried on
// the next tick.
func (m *Monitor) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return fmt.Errorf("mount monitor watcher: %w", err)
	}
	for _, p := range []string{m.ProcRoot + "/mounts", m.ProcRoot + "/mdstat"} {
		if _, statErr := os.Stat(p); statErr == nil {
			if addErr := watcher.Add(p); addErr != nil {
				m.Logger.Debug("cannot watch pseudo-file, relying on ticker", "path", p, "error", addErr)
			}
		}
	}

	go m.loop(ctx, watcher)
	return nil
}

func (m *Monitor) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(m.done)
	defer watcher.Close()

	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	m.refreshAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refreshAll(ctx)
		case _, ok := <-watcher.Events:
			if !ok {
				return
			}
			m.refreshAll(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.Logger.Warn("mount watcher error", "error", err)
		}
	}
}

// Stop cancels the watch loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

func (m *Monitor) refreshAll(ctx context.Context) {
	if err := m.Refresh(ctx); err != nil {
		m.Logger.Warn("mount table refresh failed", "error", err)
	}
	if err := m.RefreshMD(); err != nil {
		m.Logger.Warn("mdstat refresh failed", "error", err)
	}
}

// mountRow is the subset of a mount table row the device graph cares about.
type mountRow struct {
	MountPoint string
	FSType     string
	ReadOnly   bool
}

// Refresh re-parses the mount table and updates every published block
// device's volume.* mount state.
func (m *Monitor) Refresh(ctx context.Context) error {
	rows, err := m.readMounts()
	if err != nil {
		return err
	}

	mounted := make(map[string]bool)
	for _, dev := range m.GDL.All() {
		major, majErr := dev.GetInt64("block.major")
		minor, minErr := dev.GetInt64("block.minor")
		if majErr != nil || minErr != nil {
			continue
		}
		row, ok := rows[fmt.Sprintf("%d:%d", major, minor)]
		if ok {
			dev.SetProperty("volume.is_mounted", device.Bool(true))
			dev.SetProperty("volume.mount_point", device.String(row.MountPoint))
			dev.SetProperty("volume.fstype", device.String(row.FSType))
			dev.SetProperty("volume.is_mounted_read_only", device.Bool(row.ReadOnly))
			mounted[row.MountPoint] = true
			continue
		}
		if was, _ := dev.GetBool("volume.is_mounted"); was {
			dev.SetProperty("volume.is_mounted", device.Bool(false))
			dev.SetProperty("volume.is_mounted_read_only", device.Bool(false))
			dev.RemoveProperty("volume.mount_point")
		}
	}

	m.reapOwnMounts(ctx, mounted)
	return nil
}

// reapOwnMounts runs the cleanup helper for every daemon-performed mount
// that is no longer in the mount table, then drops its record.
func (m *Monitor) reapOwnMounts(ctx context.Context, mounted map[string]bool) {
	if m.State == nil {
		return
	}
	records, err := m.State.Load()
	if err != nil {
		m.Logger.Warn("cannot read mount state file", "error", err)
		return
	}
	var kept []Record
	for _, rec := range records {
		if mounted[rec.MountPoint] {
			kept = append(kept, rec)
			continue
		}
		m.Logger.Info("daemon-performed mount gone, running cleanup", "mount_point", rec.MountPoint, "device", rec.Device)
		if m.Cleanup != nil {
			m.Cleanup(ctx, rec)
		}
	}
	if len(kept) != len(records) {
		if err := m.State.Save(kept); err != nil {
			m.Logger.Warn("cannot rewrite mount state file", "error", err)
		}
	}
}

// readMounts parses the mount table into major:minor -> row, skipping
// ignore-listed filesystem types before anything else touches the row.
func (m *Monitor) readMounts() (map[string]mountRow, error) {
	pfs, err := procfs.NewFS(m.ProcRoot)
	if err != nil {
		return nil, err
	}
	proc, err := pfs.Proc(m.Pid)
	if err != nil {
		return nil, err
	}
	infos, err := proc.MountInfo()
	if err != nil {
		return nil, err
	}

	rows := make(map[string]mountRow, len(infos))
	for _, mi := range infos {
		if slices.Contains(m.IgnoreFSTypes, mi.FSType) {
			continue
		}
		_, ro := mi.Options["ro"]
		rows[mi.MajorMinorVer] = mountRow{
			MountPoint: mi.MountPoint,
			FSType:     mi.FSType,
			ReadOnly:   ro,
		}
	}
	return rows, nil
}

// RefreshMD re-reads mdstat and, when any array's membership changed,
// enqueues a change event for that array's block device and re-drives the
// queue.
func (m *Monitor) RefreshMD() error {
	pfs, err := procfs.NewFS(m.ProcRoot)
	if err != nil {
		return err
	}
	stats, err := pfs.MDStat()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	current := make(map[string][]string, len(stats))
	for _, md := range stats {
		members := make([]string, len(md.Devices))
		for i, dev := range md.Devices {
			members[i] = dev.Name
		}
		sort.Strings(members)
		current[md.Name] = members
	}

	m.mu.Lock()
	changed := changedArrays(m.lastMD, current)
	m.lastMD = current
	m.mu.Unlock()

	for _, name := range changed {
		m.Logger.Info("md array membership changed", "array", name)
		m.Queue.Enqueue(&hotplug.Event{
			Action:    hotplug.ActionChange,
			Subsystem: "block",
			SysfsPath: "/devices/virtual/block/" + name,
		})
	}
	if len(changed) > 0 {
		m.Queue.Pump()
	}
	return nil
}

func changedArrays(prev, current map[string][]string) []string {
	var out []string
	for name, members := range current {
		if !slices.Equal(prev[name], members) {
			out = append(out, name)
		}
	}
	for name := range prev {
		if _, still := current[name]; !still {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// LazyUnmount forces a lazy unmount of mountPoint, used by the remove
// pipeline before a still-mounted volume is torn down.
// Implements handlers.VolumeUnmounter.
func (m *Monitor) LazyUnmount(ctx context.Context, mountPoint string) error {
	cmd := exec.CommandContext(ctx, "umount", "-l", mountPoint)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("umount -l %s: %w (%s)", mountPoint, err, string(out))
	}
	return nil
}
