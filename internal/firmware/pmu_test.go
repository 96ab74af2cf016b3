package firmware

import (
	"testing"

	"github.com/smazurov/hald/internal/device"
	"github.com/smazurov/hald/internal/events"
	"github.com/smazurov/hald/internal/store"
	"github.com/smazurov/hald/internal/sysfs"
	"github.com/stretchr/testify/require"
)

func TestReadPMUBatteryParsesKeyValueLines(t *testing.T) {
	root := t.TempDir()
	writeAttr(t, root, "/pmu/battery_0", ""+
		"flags      : 00000003\n"+
		"charge     : 2000\n"+
		"max_charge : 4000\n"+
		"time rem.  : 90\n")

	reading, ok := ReadPMUBattery(sysfs.New(root), "/pmu/battery_0")
	require.True(t, ok)
	require.Equal(t, int64(3), reading.Flags)
	require.Equal(t, 2000.0, reading.Charge)
	require.Equal(t, 4000.0, reading.MaxCharge)
	require.Equal(t, int64(90), reading.TimeRemainingMinutes)
}

func TestPMUBackendDiscoverListsBatteryFiles(t *testing.T) {
	root := t.TempDir()
	writeAttr(t, root, "/pmu/battery_0", "flags      : 00000001\n")
	writeAttr(t, root, "/pmu/info", "PMU driver version     : 2\n")

	b := NewPMUBackend()
	specs := b.Discover(sysfs.New(root))
	require.Len(t, specs, 1)
	require.Equal(t, "battery", specs[0].Subsystem)
	require.Equal(t, "/pmu/battery_0", specs[0].Path)
}

func TestPMUBackendPollSetsChargingFromFlagsBit(t *testing.T) {
	root := t.TempDir()
	writeAttr(t, root, "/pmu/battery_0", ""+
		"flags      : 00000001\n"+
		"charge     : 1500\n"+
		"max_charge : 3000\n"+
		"time rem.  : 45\n")
	fs := sysfs.New(root)

	gdl := store.New(store.KindGDL)
	dev := device.New("/org/freedesktop/Hal/devices/battery_pmu_battery_0")
	dev.SetProperty("linux.sysfs_path", device.String("/pmu/battery_0"))
	require.NoError(t, gdl.Add(dev))

	b := NewPMUBackend()
	b.Poll(fs, gdl, events.New(), nil)

	present, err := dev.GetBool("battery.present")
	require.NoError(t, err)
	require.True(t, present)

	charging, err := dev.GetBool("battery.charging")
	require.NoError(t, err)
	require.True(t, charging)

	_, ok := dev.GetProperty("battery.charge_level.percentage")
	require.True(t, ok)

	remaining, err := dev.GetInt64("battery.remaining_time")
	require.NoError(t, err)
	require.Equal(t, int64(45), remaining)
}
