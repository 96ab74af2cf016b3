package store

import (
	"testing"

	"github.com/smazurov/hald/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDevice(udi, sysfsPath string) *device.Device {
	d := device.New(udi)
	d.SetProperty("linux.sysfs_path", device.String(sysfsPath))
	return d
}

func TestStore_AddFindRemove(t *testing.T) {
	s := New(KindTDL)
	d := newTestDevice("udi1", "/sys/devices/a")

	require.NoError(t, s.Add(d))
	got, ok := s.Find("udi1")
	require.True(t, ok)
	assert.Same(t, d, got)

	removed, ok := s.Remove("udi1")
	require.True(t, ok)
	assert.Same(t, d, removed)

	_, ok = s.Find("udi1")
	assert.False(t, ok)
}

func TestStore_AddDuplicateUDI(t *testing.T) {
	s := New(KindGDL)
	require.NoError(t, s.Add(newTestDevice("udi1", "/sys/a")))
	err := s.Add(newTestDevice("udi1", "/sys/b"))
	assert.Error(t, err)
}

func TestStore_MatchFirstAndMany_UseIndex(t *testing.T) {
	s := New(KindGDL)
	a := newTestDevice("a", "/sys/devices/shared")
	b := newTestDevice("b", "/sys/devices/shared")
	c := newTestDevice("c", "/sys/devices/other")
	require.NoError(t, s.Add(a))
	require.NoError(t, s.Add(b))
	require.NoError(t, s.Add(c))

	first, ok := s.MatchFirst("linux.sysfs_path", "/sys/devices/shared")
	require.True(t, ok)
	assert.Contains(t, []string{"a", "b"}, first.UDI())

	many := s.MatchMany("linux.sysfs_path", "/sys/devices/shared")
	assert.Len(t, many, 2)

	none := s.MatchMany("linux.sysfs_path", "/sys/devices/nope")
	assert.Empty(t, none)
}

func TestStore_IndexStaysConsistentAfterPropertyChange(t *testing.T) {
	s := New(KindGDL)
	d := newTestDevice("a", "/sys/devices/old")
	require.NoError(t, s.Add(d))

	d.SetProperty("linux.sysfs_path", device.String("/sys/devices/new"))

	_, ok := s.MatchFirst("linux.sysfs_path", "/sys/devices/old")
	assert.False(t, ok, "stale index entry must not survive a property change")

	got, ok := s.MatchFirst("linux.sysfs_path", "/sys/devices/new")
	require.True(t, ok)
	assert.Equal(t, "a", got.UDI())
}

func TestStore_HooksForwardedOnlyExternallyForGDL(t *testing.T) {
	tdl := New(KindTDL)
	gdl := New(KindGDL)

	var tdlEvents, gdlEvents []Event
	tdl.Subscribe(func(e Event) { tdlEvents = append(tdlEvents, e) })
	gdl.Subscribe(func(e Event) { gdlEvents = append(gdlEvents, e) })

	d := newTestDevice("a", "/sys/x")
	require.NoError(t, tdl.Add(d))
	require.Len(t, tdlEvents, 1, "add itself should emit a store-changed event")

	d.SetProperty("info.vendor", device.String("Acme"))
	require.Len(t, tdlEvents, 2)
	assert.Equal(t, Internal, tdlEvents[1].Visibility)

	_, err := MoveTo(tdl, gdl, "a")
	require.NoError(t, err)
	require.NotEmpty(t, gdlEvents)
	assert.Equal(t, External, gdlEvents[len(gdlEvents)-1].Visibility)

	d.SetProperty("info.vendor", device.String("Widgets Inc"))
	last := gdlEvents[len(gdlEvents)-1]
	require.NotNil(t, last.DeviceHook)
	assert.Equal(t, External, last.Visibility)
}

func TestMoveTo_NotFound(t *testing.T) {
	tdl := New(KindTDL)
	gdl := New(KindGDL)
	_, err := MoveTo(tdl, gdl, "missing")
	assert.Error(t, err)
}

func TestStore_AllAndLen(t *testing.T) {
	s := New(KindGDL)
	require.NoError(t, s.Add(newTestDevice("a", "/sys/a")))
	require.NoError(t, s.Add(newTestDevice("b", "/sys/b")))
	assert.Equal(t, 2, s.Len())
	assert.Len(t, s.All(), 2)
}
