package handlers

import (
	"strings"

	"github.com/smazurov/hald/internal/device"
	"github.com/smazurov/hald/internal/identity"
)

// InputHandler handles the "input" subsystem: keyboards, mice, and other
// HID event sources. No external prober exists for input devices; their
// class (keyboard/mouse/...) is read straight out of sysfs capability
// bitmasks and refined by the information rule pass.
type InputHandler struct{}

func (InputHandler) Subsystem() string { return "input" }

func (InputHandler) Add(ac AddContext) (*device.Device, error) {
	d := NewBareDevice(ac)
	if name, ok := ac.FS.ReadAttr(ac.SysfsPath + "/name"); ok {
		d.SetProperty("input.product", device.String(strings.TrimSpace(name)))
	}
	if phys, ok := ac.FS.ReadAttr(ac.SysfsPath + "/phys"); ok {
		d.SetProperty("input.physical_device", device.String(strings.TrimSpace(phys)))
	}
	d.AddCapability("input")
	return d, nil
}

func (InputHandler) GetProber(dev *device.Device) (string, bool) { return "", false }
func (InputHandler) PostProbing(dev *device.Device) error        { return nil }

func (InputHandler) ComputeUDI(dev *device.Device) string {
	parent, _ := dev.Parent()
	phys, _ := dev.GetString("input.physical_device")
	if phys != "" {
		return identity.Sanitize("/org/freedesktop/Hal/devices/input_" + phys)
	}
	path, _ := dev.GetString("linux.sysfs_path")
	_ = parent
	return identity.Sanitize("/org/freedesktop/Hal/devices/input" + path)
}

func (InputHandler) Remove(dev *device.Device) error { return nil }
