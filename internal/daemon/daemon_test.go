package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smazurov/hald/internal/device"
	"github.com/smazurov/hald/internal/events"
	"github.com/smazurov/hald/internal/hal"
	"github.com/smazurov/hald/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testOptions disables every external-facing component so the daemon can be
// exercised hermetically against temp directories.
func testOptions(t *testing.T) Options {
	t.Helper()
	opts := DefaultOptions()
	opts.SysfsRoot = t.TempDir()
	opts.ProcRoot = t.TempDir()
	opts.RuleDir = t.TempDir()
	opts.Coldplug = false
	opts.UeventSource = false
	opts.NATSEnabled = false
	opts.HTTPAddr = ""
	opts.MountStateFile = filepath.Join(t.TempDir(), "mtab.hald")
	return opts
}

func TestNewWiresComponentGraph(t *testing.T) {
	d := New(testOptions(t))

	require.NotNil(t, d.TDL)
	require.NotNil(t, d.GDL)
	require.NotNil(t, d.Queue)
	require.NotNil(t, d.Pipeline)
	require.NotNil(t, d.Rules)
	require.NotNil(t, d.Helpers)
	require.NotNil(t, d.Callouts)
	require.NotNil(t, d.Firmware)
	require.NotNil(t, d.Mounts)
	require.NotNil(t, d.Metrics)
	assert.True(t, d.Queue.IsIdle())
}

func TestRunSynthesizesComputerDevice(t *testing.T) {
	opts := testOptions(t)
	dmiDir := filepath.Join(opts.SysfsRoot, "class", "dmi", "id")
	require.NoError(t, os.MkdirAll(dmiDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dmiDir, "sys_vendor"), []byte("LENOVO\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dmiDir, "product_name"), []byte("20QV\n"), 0o644))

	d := New(opts)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := d.GDL.Find(identity.Root)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	root, _ := d.GDL.Find(identity.Root)
	vendor, err := root.GetString("system.hardware.vendor")
	require.NoError(t, err)
	assert.Equal(t, "LENOVO", vendor)
	product, err := root.GetString("system.hardware.product")
	require.NoError(t, err)
	assert.Equal(t, "20QV", product)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.Fail(t, "daemon did not shut down")
	}
}

func TestRescanUnknownUDI(t *testing.T) {
	d := New(testOptions(t))
	err := d.Rescan("/org/freedesktop/Hal/devices/nope")
	require.ErrorIs(t, err, hal.ErrNotFound)
	err = d.Reprobe("/org/freedesktop/Hal/devices/nope")
	require.ErrorIs(t, err, hal.ErrNotFound)
}

func TestRescanDrivesQueue(t *testing.T) {
	opts := testOptions(t)
	d := New(opts)

	dev := device.New("/org/freedesktop/Hal/devices/pci_8086_1234")
	dev.SetProperty("linux.sysfs_path", device.String("/devices/pci0000:00/0000:00:02.0"))
	dev.SetProperty("linux.subsystem", device.String("pci"))
	require.NoError(t, d.GDL.Add(dev))

	require.NoError(t, d.Rescan(dev.UDI()))

	// The refresh runs on the pipeline's own goroutine; it must end its
	// event and leave the queue fully idle.
	require.Eventually(t, d.Queue.IsIdle, 2*time.Second, 10*time.Millisecond)
	_, stillThere := d.GDL.Find(dev.UDI())
	assert.True(t, stillThere)
}

func TestGDLMutationsForwardToBus(t *testing.T) {
	d := New(testOptions(t))

	added := make(chan events.DeviceAddedEvent, 1)
	unsub := d.Bus.Subscribe(func(e events.DeviceAddedEvent) { added <- e })
	defer unsub()

	dev := device.New("/org/freedesktop/Hal/devices/usb_device_46d_c012_ABC")
	dev.SetProperty("linux.sysfs_path", device.String("/devices/usb2/2-1"))
	require.NoError(t, d.GDL.Add(dev))

	select {
	case e := <-added:
		assert.Equal(t, dev.UDI(), e.UDI)
	case <-time.After(2 * time.Second):
		require.Fail(t, "device-added event never reached the bus")
	}

	// Property mutations on a published device forward as property-changed.
	changed := make(chan events.PropertyChangedEvent, 4)
	unsubChanged := d.Bus.Subscribe(func(e events.PropertyChangedEvent) { changed <- e })
	defer unsubChanged()

	dev.SetProperty("info.vendor", device.String("Logitech"))
	select {
	case e := <-changed:
		assert.Equal(t, "info.vendor", e.Key)
		assert.True(t, e.Added)
	case <-time.After(2 * time.Second):
		require.Fail(t, "property-changed event never reached the bus")
	}
}
