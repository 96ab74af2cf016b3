package handlers

import (
	"github.com/smazurov/hald/internal/device"
	"github.com/smazurov/hald/internal/identity"
)

// GenericHandler is the fallback for any subsystem without a dedicated
// handler. It covers
// platform/pnp/xen/ccw/backlight and anything coldplug or uevent parsing
// hands it that the table doesn't otherwise claim.
type GenericHandler struct{}

func (GenericHandler) Subsystem() string { return "" }

func (GenericHandler) Add(ac AddContext) (*device.Device, error) {
	d := NewBareDevice(ac)
	if name, ok := ac.FS.ReadAttr(ac.SysfsPath + "/name"); ok {
		d.SetProperty("info.product", device.String(name))
	}
	return d, nil
}

func (GenericHandler) GetProber(dev *device.Device) (string, bool) { return "", false }
func (GenericHandler) PostProbing(dev *device.Device) error        { return nil }

func (GenericHandler) ComputeUDI(dev *device.Device) string {
	path, _ := dev.GetString("linux.sysfs_path")
	subsystem, _ := dev.GetString("linux.subsystem")
	return identity.Sanitize("/org/freedesktop/Hal/devices/" + subsystem + path)
}

func (GenericHandler) Remove(dev *device.Device) error { return nil }
