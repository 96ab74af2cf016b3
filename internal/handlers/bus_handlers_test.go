package handlers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smazurov/hald/internal/sysfs"
	"github.com/stretchr/testify/require"
)

func writeAttr(t *testing.T, root, relPath, content string) {
	t.Helper()
	full := filepath.Join(root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestPCIHandlerComputesUDIFromVendorDevice(t *testing.T) {
	root := t.TempDir()
	sysfsPath := "/devices/pci0000:00/0000:00:1f.2"
	writeAttr(t, root, sysfsPath+"/vendor", "0x8086\n")
	writeAttr(t, root, sysfsPath+"/device", "0x2922\n")

	h := PCIHandler{}
	ac := AddContext{SysfsPath: sysfsPath, Subsystem: "pci", FS: sysfs.New(root)}
	dev, err := h.Add(ac)
	require.NoError(t, err)

	udi := h.ComputeUDI(dev)
	require.Equal(t, "/org/freedesktop/Hal/devices/pci_8086_2922", udi)
}

func TestUSBDeviceHandlerFallsBackToNoserial(t *testing.T) {
	root := t.TempDir()
	sysfsPath := "/devices/pci0000:00/usb1/1-2"
	writeAttr(t, root, sysfsPath+"/idVendor", "046d\n")
	writeAttr(t, root, sysfsPath+"/idProduct", "c52b\n")

	h := USBDeviceHandler{}
	ac := AddContext{SysfsPath: sysfsPath, Subsystem: "usb_device", FS: sysfs.New(root)}
	dev, err := h.Add(ac)
	require.NoError(t, err)

	udi := h.ComputeUDI(dev)
	require.Equal(t, "/org/freedesktop/Hal/devices/usb_device_46d_c52b_noserial", udi)
}

func TestUSBInterfaceHandlerKeysOffParentAndNumber(t *testing.T) {
	root := t.TempDir()
	sysfsPath := "/devices/pci0000:00/usb1/1-2/1-2:1.0"
	writeAttr(t, root, sysfsPath+"/bInterfaceNumber", "00\n")
	writeAttr(t, root, sysfsPath+"/bInterfaceClass", "03\n")

	h := USBInterfaceHandler{}
	ac := AddContext{
		SysfsPath: sysfsPath,
		Subsystem: "usb",
		ParentUDI: "/org/freedesktop/Hal/devices/usb_device_46d_c52b_noserial",
		FS:        sysfs.New(root),
	}
	dev, err := h.Add(ac)
	require.NoError(t, err)

	udi := h.ComputeUDI(dev)
	require.Equal(t, "/org/freedesktop/Hal/devices/usb_device_46d_c52b_noserial_if0", udi)
}
