package handlers

import (
	"strings"

	"github.com/smazurov/hald/internal/device"
	"github.com/smazurov/hald/internal/firmware"
	"github.com/smazurov/hald/internal/identity"
	"github.com/smazurov/hald/internal/sysfs"
)

// BatteryHandler handles the "battery" firmware subsystem: devices
// synthesized by internal/firmware's ACPI/APM/PMU backends rather than by a
// sysfs uevent. The parsing itself lives in internal/firmware so the
// backends' periodic refresh path (Poll) and this one-time Add path share it.
type BatteryHandler struct{}

func (BatteryHandler) Subsystem() string { return "battery" }

func (BatteryHandler) Add(ac AddContext) (*device.Device, error) {
	d := NewBareDevice(ac)
	d.SetProperty("info.category", device.String("battery"))
	d.AddCapability("battery")
	applyBatteryProperties(d, ac.FS, ac.SysfsPath)
	return d, nil
}

func (BatteryHandler) GetProber(dev *device.Device) (string, bool) { return "", false }
func (BatteryHandler) PostProbing(dev *device.Device) error        { return nil }

func (BatteryHandler) ComputeUDI(dev *device.Device) string {
	path, _ := dev.GetString("linux.sysfs_path")
	return identity.Firmware("battery", sysfsBase(path))
}

func (BatteryHandler) Remove(dev *device.Device) error { return nil }

// applyBatteryProperties reads the static info + dynamic state files for a
// battery object and sets both the raw and derived properties. Only Add
// (discovery) calls it; the ACPI backend's Poll (refresh) performs the same
// computation in firmware.refreshACPIBattery over the same readers.
func applyBatteryProperties(d *device.Device, fs sysfs.Tree, path string) {
	info := firmware.ReadACPIBatteryInfo(fs, path)
	state := firmware.ReadACPIBatteryState(fs, path)

	d.SetProperty("battery.present", device.Bool(state.Present))
	d.SetProperty("battery.charging", device.Bool(state.Charging))
	d.SetProperty("battery.discharging", device.Bool(state.Discharging))

	derived := firmware.DeriveBattery(firmware.BatteryReading{
		Present:       state.Present,
		ChargeNow:     state.RemainingCapacity,
		RateNow:       state.PresentRate,
		FullCharge:    info.LastFullCharge,
		DesignVoltage: info.DesignVoltage,
		ReportedUnit:  info.Unit,
		Charging:      state.Charging,
		Discharging:   state.Discharging,
	})
	d.SetProperty("battery.reporting.unit", device.String(derived.Unit))
	d.SetProperty("battery.charge_level.current", device.Double(derived.ChargeLevelWh))
	d.SetProperty("battery.charge_level.last_full", device.Double(derived.FullChargeWh))
	d.SetProperty("battery.charge_level.percentage", device.Double(derived.PercentageRemaining))
	d.SetProperty("battery.remaining_time", device.Int64(derived.RemainingMinutes))
}

// ACAdapterHandler handles the "ac_adapter" firmware subsystem.
type ACAdapterHandler struct{}

func (ACAdapterHandler) Subsystem() string { return "ac_adapter" }

func (ACAdapterHandler) Add(ac AddContext) (*device.Device, error) {
	d := NewBareDevice(ac)
	d.SetProperty("info.category", device.String("ac_adapter"))
	d.AddCapability("ac_adapter")
	online := firmware.ReadACPIACAdapterState(ac.FS, ac.SysfsPath)
	d.SetProperty("ac_adapter.present", device.Bool(online))
	return d, nil
}

func (ACAdapterHandler) GetProber(dev *device.Device) (string, bool) { return "", false }
func (ACAdapterHandler) PostProbing(dev *device.Device) error        { return nil }

func (ACAdapterHandler) ComputeUDI(dev *device.Device) string {
	path, _ := dev.GetString("linux.sysfs_path")
	return identity.Firmware("ac_adapter", sysfsBase(path))
}

func (ACAdapterHandler) Remove(dev *device.Device) error { return nil }

// ButtonHandler handles the "button" firmware subsystem: lid, power, and
// sleep buttons. Only a lid carries state: a boolean button.state.value
// (true when closed), with a condition signal on transition; power and
// sleep buttons have no state property.
type ButtonHandler struct{}

func (ButtonHandler) Subsystem() string { return "button" }

func (ButtonHandler) Add(ac AddContext) (*device.Device, error) {
	d := NewBareDevice(ac)
	kind := buttonKind(ac.SysfsPath)
	d.SetProperty("info.category", device.String("button"))
	d.SetProperty("button.type", device.String(kind))
	d.AddCapability("button")
	if kind == "lid" {
		state := firmware.ReadACPIButtonState(ac.FS, ac.SysfsPath)
		d.SetProperty("button.state.value", device.Bool(state == "closed"))
	}
	return d, nil
}

func (ButtonHandler) GetProber(dev *device.Device) (string, bool) { return "", false }
func (ButtonHandler) PostProbing(dev *device.Device) error        { return nil }

func (ButtonHandler) ComputeUDI(dev *device.Device) string {
	path, _ := dev.GetString("linux.sysfs_path")
	return identity.Firmware("button", sysfsBase(path))
}

func (ButtonHandler) Remove(dev *device.Device) error { return nil }

// buttonKind extracts "lid"/"power"/"sleep" from a button object's sysfs
// path, e.g. "/acpi/button/lid/LID". Duplicates firmware.acpiButtonKind,
// which is unexported and so cannot be called from here.
func buttonKind(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "button" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}
