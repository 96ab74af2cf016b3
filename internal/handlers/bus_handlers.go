package handlers

import (
	"strconv"
	"strings"

	"github.com/smazurov/hald/internal/device"
	"github.com/smazurov/hald/internal/identity"
)

// PCIHandler handles the "pci" subsystem: root-class devices identified by
// vendor/device ID pair read straight from sysfs attribute files.
type PCIHandler struct{}

func (PCIHandler) Subsystem() string { return "pci" }

func (PCIHandler) Add(ac AddContext) (*device.Device, error) {
	d := NewBareDevice(ac)
	vendor, _ := ac.FS.ReadHexUint(ac.SysfsPath + "/vendor")
	dev, _ := ac.FS.ReadHexUint(ac.SysfsPath + "/device")
	d.SetProperty("pci.vendor_id", device.Int64(int64(vendor)))
	d.SetProperty("pci.product_id", device.Int64(int64(dev)))
	if class, ok := ac.FS.ReadHexUint(ac.SysfsPath + "/class"); ok {
		d.SetProperty("pci.device_class", device.Int64(int64(class)))
	}
	d.AddCapability("pci")
	return d, nil
}

func (PCIHandler) GetProber(dev *device.Device) (string, bool) { return "", false }
func (PCIHandler) PostProbing(dev *device.Device) error        { return nil }

func (PCIHandler) ComputeUDI(dev *device.Device) string {
	vendor, _ := dev.GetInt64("pci.vendor_id")
	product, _ := dev.GetInt64("pci.product_id")
	return identity.PCI(uint32(vendor), uint32(product))
}

func (PCIHandler) Remove(dev *device.Device) error { return nil }

// USBDeviceHandler handles "usb_device" nodes: the physical USB device
// itself, one level above its per-interface children.
type USBDeviceHandler struct{}

func (USBDeviceHandler) Subsystem() string { return "usb_device" }

func (USBDeviceHandler) Add(ac AddContext) (*device.Device, error) {
	d := NewBareDevice(ac)
	vendor, _ := ac.FS.ReadHexUint(ac.SysfsPath + "/idVendor")
	product, _ := ac.FS.ReadHexUint(ac.SysfsPath + "/idProduct")
	serial, _ := ac.FS.ReadAttr(ac.SysfsPath + "/serial")
	if serial == "" {
		serial = ac.Serial
	}
	d.SetProperty("usb_device.vendor_id", device.Int64(int64(vendor)))
	d.SetProperty("usb_device.product_id", device.Int64(int64(product)))
	d.SetProperty("usb_device.serial", device.String(serial))
	if manu, ok := ac.FS.ReadAttr(ac.SysfsPath + "/manufacturer"); ok {
		d.SetProperty("usb_device.vendor", device.String(manu))
	}
	if prod, ok := ac.FS.ReadAttr(ac.SysfsPath + "/product"); ok {
		d.SetProperty("usb_device.product", device.String(prod))
	}
	d.AddCapability("usb_device")
	return d, nil
}

func (USBDeviceHandler) GetProber(dev *device.Device) (string, bool) { return "", false }
func (USBDeviceHandler) PostProbing(dev *device.Device) error        { return nil }

func (USBDeviceHandler) ComputeUDI(dev *device.Device) string {
	vendor, _ := dev.GetInt64("usb_device.vendor_id")
	product, _ := dev.GetInt64("usb_device.product_id")
	serial, _ := dev.GetString("usb_device.serial")
	return identity.USBDevice(uint32(vendor), uint32(product), serial)
}

func (USBDeviceHandler) Remove(dev *device.Device) error { return nil }

// USBInterfaceHandler handles "usb" subsystem nodes: the per-interface
// children of a usb_device, keyed by their parent plus bInterfaceNumber.
type USBInterfaceHandler struct{}

func (USBInterfaceHandler) Subsystem() string { return "usb" }

func (USBInterfaceHandler) Add(ac AddContext) (*device.Device, error) {
	d := NewBareDevice(ac)
	num, _ := ac.FS.ReadAttr(ac.SysfsPath + "/bInterfaceNumber")
	class, _ := ac.FS.ReadAttr(ac.SysfsPath + "/bInterfaceClass")
	d.SetProperty("usb.interface.number", device.String(strings.TrimSpace(num)))
	d.SetProperty("usb.interface.class", device.String(strings.TrimSpace(class)))
	d.AddCapability("usb")
	return d, nil
}

func (USBInterfaceHandler) GetProber(dev *device.Device) (string, bool) { return "", false }
func (USBInterfaceHandler) PostProbing(dev *device.Device) error        { return nil }

func (USBInterfaceHandler) ComputeUDI(dev *device.Device) string {
	parent, _ := dev.Parent()
	numStr, _ := dev.GetString("usb.interface.number")
	n, _ := strconv.Atoi(strings.TrimSpace(numStr))
	return identity.USBInterface(parent, n)
}

func (USBInterfaceHandler) Remove(dev *device.Device) error { return nil }

// IEEE1394Handler handles FireWire nodes, identified by their 64-bit GUID.
type IEEE1394Handler struct{}

func (IEEE1394Handler) Subsystem() string { return "ieee1394" }

func (IEEE1394Handler) Add(ac AddContext) (*device.Device, error) {
	d := NewBareDevice(ac)
	guid, _ := ac.FS.ReadHexUint(ac.SysfsPath + "/guid")
	d.SetProperty("ieee1394.guid", device.Int64(int64(guid)))
	d.AddCapability("ieee1394")
	return d, nil
}

func (IEEE1394Handler) GetProber(dev *device.Device) (string, bool) { return "", false }
func (IEEE1394Handler) PostProbing(dev *device.Device) error        { return nil }

func (IEEE1394Handler) ComputeUDI(dev *device.Device) string {
	guid, _ := dev.GetInt64("ieee1394.guid")
	return identity.IEEE1394(uint64(guid))
}

func (IEEE1394Handler) Remove(dev *device.Device) error { return nil }

// IDEHandler handles "ide" subsystem devices, identified by host/channel
// pair parsed out of the sysfs node name (e.g. "0.0" under ide0).
type IDEHandler struct{}

func (IDEHandler) Subsystem() string { return "ide" }

func (IDEHandler) Add(ac AddContext) (*device.Device, error) {
	d := NewBareDevice(ac)
	host, channel := parseIDEAddress(sysfsBase(ac.SysfsPath))
	d.SetProperty("ide.host", device.Int64(int64(host)))
	d.SetProperty("ide.channel", device.Int64(int64(channel)))
	d.AddCapability("ide")
	return d, nil
}

func (IDEHandler) GetProber(dev *device.Device) (string, bool) { return "", false }
func (IDEHandler) PostProbing(dev *device.Device) error        { return nil }

func (IDEHandler) ComputeUDI(dev *device.Device) string {
	parent, _ := dev.Parent()
	host, _ := dev.GetInt64("ide.host")
	channel, _ := dev.GetInt64("ide.channel")
	return identity.IDE(parent, int(host), int(channel))
}

func (IDEHandler) Remove(dev *device.Device) error { return nil }

// SCSIHandler handles "scsi" subsystem devices, identified by their LUN.
type SCSIHandler struct{}

func (SCSIHandler) Subsystem() string { return "scsi" }

func (SCSIHandler) Add(ac AddContext) (*device.Device, error) {
	d := NewBareDevice(ac)
	lun := parseSCSILUN(sysfsBase(ac.SysfsPath))
	d.SetProperty("scsi.lun", device.Int64(int64(lun)))
	d.AddCapability("scsi")
	return d, nil
}

func (SCSIHandler) GetProber(dev *device.Device) (string, bool) { return "", false }
func (SCSIHandler) PostProbing(dev *device.Device) error        { return nil }

func (SCSIHandler) ComputeUDI(dev *device.Device) string {
	parent, _ := dev.Parent()
	lun, _ := dev.GetInt64("scsi.lun")
	return identity.SCSI(parent, int(lun))
}

func (SCSIHandler) Remove(dev *device.Device) error { return nil }

func sysfsBase(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

// parseIDEAddress parses "host.channel" node names such as "0.0", "0.1".
func parseIDEAddress(name string) (host, channel int) {
	parts := strings.SplitN(name, ".", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	host, _ = strconv.Atoi(parts[0])
	channel, _ = strconv.Atoi(parts[1])
	return host, channel
}

// parseSCSILUN parses "H:B:T:L" node names, returning the LUN field.
func parseSCSILUN(name string) int {
	parts := strings.Split(name, ":")
	if len(parts) != 4 {
		return 0
	}
	lun, _ := strconv.Atoi(parts[3])
	return lun
}
