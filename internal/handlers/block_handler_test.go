package handlers

import (
	"testing"

	"github.com/smazurov/hald/internal/sysfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockHandlerWholeDiskIsStorage(t *testing.T) {
	root := t.TempDir()
	sysfsPath := "/devices/pci0000:00/host0/target0:0:0/0:0:0:0/block/sda"
	writeAttr(t, root, sysfsPath+"/removable", "0\n")
	writeAttr(t, root, sysfsPath+"/size", "1048576\n")

	h := BlockHandler{}
	ac := AddContext{SysfsPath: sysfsPath, Subsystem: "block", Serial: "ABC123", FS: sysfs.New(root)}
	dev, err := h.Add(ac)
	require.NoError(t, err)

	assert.True(t, IsStorage(dev))
	prober, ok := h.GetProber(dev)
	assert.True(t, ok)
	assert.Equal(t, "hald-probe-storage", prober)
	assert.True(t, h.AllowsExitCode2(dev))

	udi := h.ComputeUDI(dev)
	assert.Equal(t, "/org/freedesktop/Hal/devices/storage_serial_ABC123", udi)
}

func TestBlockHandlerPartitionIsVolume(t *testing.T) {
	root := t.TempDir()
	sysfsPath := "/devices/pci0000:00/host0/target0:0:0/0:0:0:0/block/sda/sda1"
	writeAttr(t, root, sysfsPath+"/partition", "1\n")
	writeAttr(t, root, sysfsPath+"/size", "2048\n")

	h := BlockHandler{}
	ac := AddContext{
		SysfsPath: sysfsPath,
		Subsystem: "block",
		FSUUID:    "1234-ABCD",
		FS:        sysfs.New(root),
	}
	dev, err := h.Add(ac)
	require.NoError(t, err)

	assert.False(t, IsStorage(dev))
	assert.False(t, h.AllowsExitCode2(dev))
	prober, ok := h.GetProber(dev)
	assert.True(t, ok)
	assert.Equal(t, "hald-probe-volume", prober)

	udi := h.ComputeUDI(dev)
	assert.Equal(t, "/org/freedesktop/Hal/devices/volume_uuid_1234_ABCD", udi)
}

func TestBlockHandlerFakevolumeSkipsProbe(t *testing.T) {
	root := t.TempDir()
	h := BlockHandler{}
	ac := NewFakevolumeAddContext(AddContext{SysfsPath: "/devices/.../sdb", Subsystem: "block", FS: sysfs.New(root)}, "ext4", "", "")
	dev, err := h.Add(ac)
	require.NoError(t, err)

	assert.False(t, IsStorage(dev))
	_, ok := h.GetProber(dev)
	assert.False(t, ok, "fakevolume already carries its filesystem data and needs no probe")
}
