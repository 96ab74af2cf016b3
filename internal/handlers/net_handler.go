package handlers

import (
	"strings"

	"github.com/smazurov/hald/internal/device"
	"github.com/smazurov/hald/internal/identity"
)

// NetHandler handles the "net" subsystem: network interfaces identified by
// MAC address, falling back to their originating sysfs path for
// MAC-less interfaces (bridges, tunnels).
type NetHandler struct{}

func (NetHandler) Subsystem() string { return "net" }

func (NetHandler) Add(ac AddContext) (*device.Device, error) {
	d := NewBareDevice(ac)
	mac, _ := ac.FS.ReadAttr(ac.SysfsPath + "/address")
	mac = strings.ToLower(strings.TrimSpace(mac))
	d.SetProperty("net.address", device.String(mac))
	d.SetProperty("net.interface", device.String(sysfsBase(ac.SysfsPath)))
	if ifaceType, ok := ac.FS.ReadAttr(ac.SysfsPath + "/type"); ok {
		d.SetProperty("net.arp_proto_hw_id", device.String(strings.TrimSpace(ifaceType)))
	}
	d.AddCapability("net")
	return d, nil
}

func (NetHandler) GetProber(dev *device.Device) (string, bool) { return "", false }
func (NetHandler) PostProbing(dev *device.Device) error        { return nil }

func (NetHandler) ComputeUDI(dev *device.Device) string {
	mac, _ := dev.GetString("net.address")
	path, _ := dev.GetString("linux.sysfs_path")
	return identity.Net(mac, path)
}

func (NetHandler) Remove(dev *device.Device) error { return nil }
