package firmware

import (
	"testing"

	"github.com/smazurov/hald/internal/sysfs"
	"github.com/stretchr/testify/require"
)

func TestReadAPMParsesStatusLine(t *testing.T) {
	root := t.TempDir()
	writeAttr(t, root, "/apm", "1.16 1.2 0x03 0x01 0x00 0x01 85% 3600 sec\n")

	reading, ok := ReadAPM(sysfs.New(root))
	require.True(t, ok)
	require.True(t, reading.ACOnline)
	require.True(t, reading.BatteryPresent)
	require.Equal(t, 85.0, reading.PercentageRemaining)
	require.Equal(t, int64(60), reading.RemainingMinutes)
}

func TestReadAPMHandlesUnknownFields(t *testing.T) {
	root := t.TempDir()
	writeAttr(t, root, "/apm", "1.16 1.2 0x03 0x00 0xff 0xff ? -1 min\n")

	reading, ok := ReadAPM(sysfs.New(root))
	require.True(t, ok)
	require.False(t, reading.ACOnline)
	require.False(t, reading.BatteryPresent)
	require.Equal(t, 0.0, reading.PercentageRemaining)
	require.Equal(t, int64(0), reading.RemainingMinutes)
}

func TestReadAPMMissingFileIsNotOK(t *testing.T) {
	root := t.TempDir()
	_, ok := ReadAPM(sysfs.New(root))
	require.False(t, ok)
}

func TestAPMBackendDiscoverRequiresFilePresence(t *testing.T) {
	root := t.TempDir()
	b := NewAPMBackend()
	require.Empty(t, b.Discover(sysfs.New(root)))

	writeAttr(t, root, "/apm", "1.16 1.2 0x03 0x01 0x00 0x01 50% 30 min\n")
	specs := b.Discover(sysfs.New(root))
	require.Len(t, specs, 1)
	require.Equal(t, "battery", specs[0].Subsystem)
	require.Equal(t, "/apm", specs[0].Path)
}
