package uevent

import (
	"strings"
	"testing"

	"github.com/smazurov/hald/internal/hal"
	"github.com/smazurov/hald/internal/hotplug"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(lines ...string) []byte {
	return []byte(strings.Join(lines, "\n"))
}

func TestParseFrameComplete(t *testing.T) {
	ev, err := ParseFrame(frame(
		"ACTION=add",
		"DEVPATH=/devices/pci0000:00/0000:00:1d.0/usb2/2-1",
		"SUBSYSTEM=usb_device",
		"SEQNUM=1234",
		"DEVNAME=/dev/bus/usb/002/003",
		"ID_VENDOR=Logitech",
		"ID_MODEL=USB_Mouse",
		"ID_SERIAL=ABC",
	))
	require.NoError(t, err)

	assert.Equal(t, hotplug.ActionAdd, ev.Action)
	assert.Equal(t, "/devices/pci0000:00/0000:00:1d.0/usb2/2-1", ev.SysfsPath)
	assert.Equal(t, "usb_device", ev.Subsystem)
	assert.Equal(t, uint64(1234), ev.Seq)
	assert.Equal(t, "/dev/bus/usb/002/003", ev.DevicePath)
	assert.Equal(t, "Logitech", ev.Vendor)
	assert.Equal(t, "USB_Mouse", ev.Model)
	assert.Equal(t, "ABC", ev.Serial)
	assert.False(t, ev.IsDeviceMapper)
	assert.False(t, ev.Firmware)
}

func TestParseFrameMissingRequiredKey(t *testing.T) {
	_, err := ParseFrame(frame(
		"ACTION=add",
		"DEVPATH=/devices/foo",
		"SEQNUM=1",
	))
	require.ErrorIs(t, err, hal.ErrParseError)
}

func TestParseFrameUnknownAction(t *testing.T) {
	_, err := ParseFrame(frame(
		"ACTION=online",
		"DEVPATH=/devices/foo",
		"SUBSYSTEM=cpu",
		"SEQNUM=9",
	))
	require.ErrorIs(t, err, hal.ErrParseError)
}

func TestParseFrameMoveCarriesOldPath(t *testing.T) {
	ev, err := ParseFrame(frame(
		"ACTION=move",
		"DEVPATH=/devices/platform/renamed",
		"DEVPATH_OLD=/devices/platform/original",
		"SUBSYSTEM=platform",
		"SEQNUM=2",
	))
	require.NoError(t, err)
	assert.Equal(t, hotplug.ActionMove, ev.Action)
	assert.Equal(t, "/devices/platform/original", ev.OldPath)
}

func TestParseFrameEscapeDecoding(t *testing.T) {
	ev, err := ParseFrame(frame(
		"ACTION=add",
		"DEVPATH=/devices/virtual/block/dm-0",
		"SUBSYSTEM=block",
		"SEQNUM=3",
		`ID_FS_LABEL_ENC=My\x20Disk`,
	))
	require.NoError(t, err)
	assert.Equal(t, "My Disk", ev.FSLabel)
	assert.True(t, ev.IsDeviceMapper, "dm-0 block device must be flagged device-mapper")
}

func TestParseFrameInvalidUTF8Dropped(t *testing.T) {
	ev, err := ParseFrame(frame(
		"ACTION=add",
		"DEVPATH=/devices/foo/sda",
		"SUBSYSTEM=block",
		"SEQNUM=4",
		`ID_MODEL=bad\xffname`,
	))
	require.NoError(t, err)
	assert.Empty(t, ev.Model, "invalid UTF-8 values must be dropped to empty")
}

func TestParseFrameDeviceMapperByDMName(t *testing.T) {
	ev, err := ParseFrame(frame(
		"ACTION=add",
		"DEVPATH=/devices/virtual/block/mapper0",
		"SUBSYSTEM=block",
		"SEQNUM=5",
		"DM_NAME=vg0-root",
	))
	require.NoError(t, err)
	assert.True(t, ev.IsDeviceMapper)
}

func TestParseFrameIfIndex(t *testing.T) {
	ev, err := ParseFrame(frame(
		"ACTION=add",
		"DEVPATH=/devices/pci0000:00/net/eth0",
		"SUBSYSTEM=net",
		"SEQNUM=6",
		"IFINDEX=3",
	))
	require.NoError(t, err)
	assert.Equal(t, 3, ev.IfIndex)
}
