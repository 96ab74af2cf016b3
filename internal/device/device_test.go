package device

import (
	"testing"

	"github.com/smazurov/hald/internal/hal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetProperty_RoundTrip(t *testing.T) {
	d := New("/org/freedesktop/Hal/devices/computer")

	d.SetProperty("info.vendor", String("Acme"))
	got, err := d.GetString("info.vendor")
	require.NoError(t, err)
	assert.Equal(t, "Acme", got)
}

func TestGetProperty_WrongType(t *testing.T) {
	d := New("udi")
	d.SetProperty("block.major", Int64(8))

	_, err := d.GetString("block.major")
	assert.ErrorIs(t, err, hal.ErrWrongType)
}

func TestGetProperty_NotFound(t *testing.T) {
	d := New("udi")
	_, err := d.GetInt64("does.not.exist")
	assert.ErrorIs(t, err, hal.ErrNotFound)
}

func TestSetProperty_NoOpOnSameValue(t *testing.T) {
	d := New("udi")
	var hooks []Hook
	d.SetNotifier(func(h Hook) { hooks = append(hooks, h) })

	d.SetProperty("info.product", String("Widget"))
	require.Len(t, hooks, 1)
	assert.True(t, hooks[0].Added)

	d.SetProperty("info.product", String("Widget"))
	assert.Len(t, hooks, 1, "re-setting the same value must not emit a hook")

	d.SetProperty("info.product", String("Gadget"))
	require.Len(t, hooks, 2)
	assert.False(t, hooks[1].Added)
}

func TestRemoveProperty(t *testing.T) {
	d := New("udi")
	var hooks []Hook
	d.SetProperty("a.b", Int64(1))
	d.SetNotifier(func(h Hook) { hooks = append(hooks, h) })

	d.RemoveProperty("a.b")
	require.Len(t, hooks, 1)
	assert.True(t, hooks[0].Removed)
	assert.False(t, d.HasProperty("a.b"))

	// Removing an absent key is a no-op.
	d.RemoveProperty("a.b")
	assert.Len(t, hooks, 1)
}

func TestCapabilities_IdempotentAdd(t *testing.T) {
	d := New("udi")
	var hooks []Hook
	d.SetNotifier(func(h Hook) { hooks = append(hooks, h) })

	d.AddCapability("storage")
	d.AddCapability("storage")
	d.AddCapability("volume")

	assert.Len(t, hooks, 2, "re-adding an existing capability must not re-fire the hook")
	assert.Equal(t, []string{"storage", "volume"}, d.Capabilities())
	assert.True(t, d.HasCapability("storage"))
}

func TestClearCapabilities(t *testing.T) {
	d := New("udi")
	d.AddCapability("storage")
	d.AddCapability("volume")
	d.ClearCapabilities()
	assert.Empty(t, d.Capabilities())
	assert.False(t, d.HasCapability("storage"))
}

func TestParent(t *testing.T) {
	d := New("child")
	_, ok := d.Parent()
	assert.False(t, ok)

	d.SetParent("/org/freedesktop/Hal/devices/computer")
	parent, ok := d.Parent()
	require.True(t, ok)
	assert.Equal(t, "/org/freedesktop/Hal/devices/computer", parent)
}

func TestLocks(t *testing.T) {
	d := New("udi")
	var hooks []Hook
	d.SetNotifier(func(h Hook) { hooks = append(hooks, h) })

	d.AcquireLock("storage", "caller-1")
	require.Len(t, hooks, 1)
	assert.Equal(t, HookLockAcquired, hooks[0].Kind)

	assert.False(t, d.ReleaseLock("storage", "caller-2"), "release by the wrong owner must fail")
	assert.True(t, d.ReleaseLock("storage", "caller-1"))
	require.Len(t, hooks, 2)
	assert.Equal(t, HookLockReleased, hooks[1].Kind)
	assert.Empty(t, d.Locks())
}

func TestPendingCounter(t *testing.T) {
	d := New("udi")
	assert.Equal(t, 1, d.IncPending())
	assert.Equal(t, 2, d.IncPending())
	assert.Equal(t, 1, d.DecPending())
	assert.Equal(t, 0, d.DecPending())
	assert.Equal(t, 0, d.DecPending(), "decrementing past zero must clamp at zero")
}

func TestStrlistCursor_ResumesAcrossYields(t *testing.T) {
	d := New("udi")
	d.SetProperty("info.category.list", Strlist([]string{"a", "b", "c"}))

	var cur StrlistCursor
	var got []string
	for {
		v, ok := d.StrlistNext("info.category.list", &cur)
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestSnapshotCopy(t *testing.T) {
	src := New("src")
	dst := New("dst")
	src.SetProperty("linux.sysfs_path", String("/sys/devices/x"))

	ok := SnapshotCopy(src, dst, "linux.sysfs_path", "info.original_sysfs_path")
	require.True(t, ok)
	got, err := dst.GetString("info.original_sysfs_path")
	require.NoError(t, err)
	assert.Equal(t, "/sys/devices/x", got)

	assert.False(t, SnapshotCopy(src, dst, "does.not.exist", "x"))
}

func TestMergeWithRewrite(t *testing.T) {
	src := New("src")
	dst := New("dst")
	src.SetProperty("scsi.vendor", String("ATA"))
	src.SetProperty("scsi.model", String("DISK"))
	src.SetProperty("block.major", Int64(8))

	n := MergeWithRewrite(src, dst, "scsi.", "storage.")
	assert.Equal(t, 2, n)

	vendor, err := dst.GetString("storage.vendor")
	require.NoError(t, err)
	assert.Equal(t, "ATA", vendor)

	model, err := dst.GetString("storage.model")
	require.NoError(t, err)
	assert.Equal(t, "DISK", model)

	assert.False(t, dst.HasProperty("storage.major"))
}

func TestSanitizeUDI(t *testing.T) {
	assert.Equal(t, "usb_device_046d_c012", SanitizeUDI("usb_device_046d:c012"))
	assert.Equal(t, "/org/freedesktop/Hal/devices/computer", SanitizeUDI("/org/freedesktop/Hal/devices/computer"))
}

func TestValueEqual(t *testing.T) {
	assert.True(t, String("a").Equal(String("a")))
	assert.False(t, String("a").Equal(String("b")))
	assert.False(t, String("a").Equal(Int64(1)))
	assert.True(t, Strlist([]string{"a", "b"}).Equal(Strlist([]string{"a", "b"})))
	assert.False(t, Strlist([]string{"a"}).Equal(Strlist([]string{"a", "b"})))
}
