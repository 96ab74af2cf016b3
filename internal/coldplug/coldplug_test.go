package coldplug

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smazurov/hald/internal/hotplug"
	"github.com/smazurov/hald/internal/sysfs"
	"github.com/stretchr/testify/require"
)

func writeAttr(t *testing.T, root, relPath, content string) {
	t.Helper()
	full := filepath.Join(root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func symlink(t *testing.T, root, linkRel, targetRel string) {
	t.Helper()
	link := filepath.Join(root, linkRel)
	require.NoError(t, os.MkdirAll(filepath.Dir(link), 0o755))
	target := filepath.Join(root, targetRel)
	require.NoError(t, os.Symlink(target, link))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// TestWalkerEmitsBusDeviceFromDereferencedSymlink exercises step 1+3: a
// /sys/bus/pci/devices entry dereferences into /sys/devices and is emitted
// exactly once, with the bus name as its subsystem.
func TestWalkerEmitsBusDeviceFromDereferencedSymlink(t *testing.T) {
	root := t.TempDir()
	devPath := "/devices/pci0000:00/0000:00:1f.2"
	writeAttr(t, root, devPath+"/vendor", "0x8086\n")
	symlink(t, root, "/bus/pci/devices/0000:00:1f.2", devPath)

	var got []*hotplug.Event
	var queue *hotplug.Queue
	queue = hotplug.New(func(e *hotplug.Event) {
		got = append(got, e)
		queue.EndEvent(e)
	}, nil)

	w := New(sysfs.New(root), queue, nil)
	w.Run()

	require.Len(t, got, 1)
	require.Equal(t, devPath, got[0].SysfsPath)
	require.Equal(t, "pci", got[0].Subsystem)
}

func TestWalkerEmitsOrphanClassDevice(t *testing.T) {
	root := t.TempDir()
	// A class entry with no "device" backing and no symlink resolving into
	// /devices at all: the directory entry itself, not a symlink.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "/class/backlight/acpi_video0"), 0o755))

	var got []*hotplug.Event
	var queue *hotplug.Queue
	queue = hotplug.New(func(e *hotplug.Event) {
		got = append(got, e)
		queue.EndEvent(e)
	}, nil)

	w := New(sysfs.New(root), queue, nil)
	w.Run()

	require.Len(t, got, 1)
	require.Equal(t, "backlight", got[0].Subsystem)
	require.Equal(t, "/class/backlight/acpi_video0", got[0].SysfsPath)
}

func TestWalkerDefersDeviceMapperBlockDevices(t *testing.T) {
	root := t.TempDir()
	diskPath := "/devices/virtual/block/sda"
	dmPath := "/devices/virtual/block/dm-0"
	writeAttr(t, root, diskPath+"/size", "1000\n")
	writeAttr(t, root, dmPath+"/dm/name", "vg-lv\n")
	symlink(t, root, "/block/sda", diskPath)
	symlink(t, root, "/block/dm-0", dmPath)

	var order []string
	flags := make(map[string]bool)
	var queue *hotplug.Queue
	queue = hotplug.New(func(e *hotplug.Event) {
		order = append(order, e.SysfsPath)
		flags[e.SysfsPath] = e.IsDeviceMapper
		queue.EndEvent(e)
	}, nil)

	w := New(sysfs.New(root), queue, nil)
	w.Run()

	require.Contains(t, order, diskPath)
	require.Contains(t, order, dmPath)
	require.False(t, flags[diskPath])
	require.True(t, flags[dmPath], "dm-* events must carry the device-mapper flag for dominance")

	var sdaIdx, dmIdx int
	for i, p := range order {
		if p == diskPath {
			sdaIdx = i
		}
		if p == dmPath {
			dmIdx = i
		}
	}
	require.Less(t, sdaIdx, dmIdx, "non-dm block devices must be emitted before dm-* devices")
}

// A dm-* event must not just be enqueued later: it must stay unreleasable
// while a plain block device's dispatch is still in flight, since every
// releasable event in one queue scan runs concurrently.
func TestWalkerHoldsDeviceMapperBehindInFlightBlockDevice(t *testing.T) {
	root := t.TempDir()
	diskPath := "/devices/virtual/block/sda"
	dmPath := "/devices/virtual/block/dm-0"
	writeAttr(t, root, diskPath+"/size", "1000\n")
	writeAttr(t, root, dmPath+"/dm/name", "vg-lv\n")
	symlink(t, root, "/block/sda", diskPath)
	symlink(t, root, "/block/dm-0", dmPath)

	// The dispatcher never ends its event, so the disk stays in-progress.
	var dispatched []*hotplug.Event
	queue := hotplug.New(func(e *hotplug.Event) {
		dispatched = append(dispatched, e)
	}, nil)

	w := New(sysfs.New(root), queue, nil)
	w.Run()

	require.Len(t, dispatched, 1)
	require.Equal(t, diskPath, dispatched[0].SysfsPath)
	require.Equal(t, 1, queue.Len(), "dm-0 must remain queued while sda is in flight")

	queue.EndEvent(dispatched[0])
	queue.Pump()
	require.Len(t, dispatched, 2)
	require.Equal(t, dmPath, dispatched[1].SysfsPath)
}

func TestWalkerFiresOnIdleOnceQueueDrains(t *testing.T) {
	root := t.TempDir()
	devPath := "/devices/pci0000:00/0000:00:1f.3"
	writeAttr(t, root, devPath+"/vendor", "0x8086\n")
	symlink(t, root, "/bus/pci/devices/0000:00:1f.3", devPath)

	idleFired := 0
	var queue *hotplug.Queue
	queue = hotplug.New(func(e *hotplug.Event) {
		queue.EndEvent(e)
	}, func() { idleFired++ })

	w := New(sysfs.New(root), queue, nil)
	w.Run()

	waitFor(t, time.Second, func() bool { return queue.IsIdle() })
	require.Equal(t, 1, idleFired)
}
