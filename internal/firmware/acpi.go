package firmware

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/smazurov/hald/internal/device"
	"github.com/smazurov/hald/internal/events"
	"github.com/smazurov/hald/internal/store"
	"github.com/smazurov/hald/internal/sysfs"
)

// ACPIBackend polls the legacy /proc/acpi tree (battery, ac_adapter, button)
// on a fixed cadence. It registers only
// if its namespace root exists.
type ACPIBackend struct {
	PollInterval time.Duration
}

// NewACPIBackend returns an ACPIBackend with the spec's default 30s poll
// cadence.
func NewACPIBackend() *ACPIBackend {
	return &ACPIBackend{PollInterval: 30 * time.Second}
}

func (b *ACPIBackend) Name() string           { return "acpi" }
func (b *ACPIBackend) Namespace() string      { return "/acpi" }
func (b *ACPIBackend) Interval() time.Duration { return b.PollInterval }

// Discover lists every battery, ac_adapter, and button object present under
// /proc/acpi at startup.
func (b *ACPIBackend) Discover(fs sysfs.Tree) []ObjectSpec {
	var specs []ObjectSpec
	for _, name := range fs.ReadDirNames("/acpi/battery") {
		specs = append(specs, ObjectSpec{Subsystem: "battery", Path: "/acpi/battery/" + name})
	}
	for _, name := range fs.ReadDirNames("/acpi/ac_adapter") {
		specs = append(specs, ObjectSpec{Subsystem: "ac_adapter", Path: "/acpi/ac_adapter/" + name})
	}
	for _, name := range fs.ReadDirNames("/acpi/button/lid") {
		specs = append(specs, ObjectSpec{Subsystem: "button", Path: "/acpi/button/lid/" + name})
	}
	for _, kind := range []string{"power", "sleep"} {
		for _, name := range fs.ReadDirNames("/acpi/button/" + kind) {
			specs = append(specs, ObjectSpec{Subsystem: "button", Path: "/acpi/button/" + kind + "/" + name})
		}
	}
	return specs
}

// Poll re-reads every known object and mutates its GDL device's properties
// in place. The lid button is the one object whose
// transition is condition-worthy: any other change to
// button/battery/ac_adapter state is surfaced only as the ordinary
// property-changed hook SetProperty already fires.
func (b *ACPIBackend) Poll(fs sysfs.Tree, gdl *store.Store, bus *events.Bus, log *slog.Logger) {
	for _, spec := range b.Discover(fs) {
		dev, ok := gdl.MatchFirst("linux.sysfs_path", spec.Path)
		if !ok {
			continue
		}
		switch spec.Subsystem {
		case "battery":
			refreshACPIBattery(dev, fs, spec.Path)
		case "ac_adapter":
			online := ReadACPIACAdapterState(fs, spec.Path)
			dev.SetProperty("ac_adapter.present", device.Bool(online))
		case "button":
			b.refreshButton(dev, fs, spec.Path, bus)
		}
	}
}

func (b *ACPIBackend) refreshButton(dev *device.Device, fs sysfs.Tree, objPath string, bus *events.Bus) {
	kind := acpiButtonKind(objPath)
	if kind != "lid" {
		return
	}
	closed := ReadACPIButtonState(fs, objPath) == "closed"
	wasClosed, _ := dev.GetBool("button.state.value")
	dev.SetProperty("button.state.value", device.Bool(closed))
	if closed != wasClosed && bus != nil {
		detail := "open"
		if closed {
			detail = "closed"
		}
		bus.Publish(events.ConditionEvent{UDI: dev.UDI(), Name: "ButtonPressed", Detail: "lid:" + detail})
	}
}

// acpiButtonKind extracts "lid"/"power"/"sleep" from a button object's
// sysfs path, e.g. "/acpi/button/lid/LID".
func acpiButtonKind(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "button" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

// refreshACPIBattery re-derives every battery property from the current
// info+state files. Mirrors handlers.applyBatteryProperties, which runs the
// same computation once at discovery time; kept separate to avoid an
// import cycle (handlers already imports firmware for its parsers).
func refreshACPIBattery(dev *device.Device, fs sysfs.Tree, objPath string) {
	info := ReadACPIBatteryInfo(fs, objPath)
	state := ReadACPIBatteryState(fs, objPath)

	dev.SetProperty("battery.present", device.Bool(state.Present))
	dev.SetProperty("battery.charging", device.Bool(state.Charging))
	dev.SetProperty("battery.discharging", device.Bool(state.Discharging))

	derived := DeriveBattery(BatteryReading{
		Present:       state.Present,
		ChargeNow:     state.RemainingCapacity,
		RateNow:       state.PresentRate,
		FullCharge:    info.LastFullCharge,
		DesignVoltage: info.DesignVoltage,
		ReportedUnit:  info.Unit,
		Charging:      state.Charging,
		Discharging:   state.Discharging,
	})
	dev.SetProperty("battery.reporting.unit", device.String(derived.Unit))
	dev.SetProperty("battery.charge_level.current", device.Double(derived.ChargeLevelWh))
	dev.SetProperty("battery.charge_level.last_full", device.Double(derived.FullChargeWh))
	dev.SetProperty("battery.charge_level.percentage", device.Double(derived.PercentageRemaining))
	dev.SetProperty("battery.remaining_time", device.Int64(derived.RemainingMinutes))
}

// ACPIBatteryInfo is the static ("design") portion of /proc/acpi/battery/
// BATn/info.
type ACPIBatteryInfo struct {
	Present        bool
	DesignCapacity float64
	LastFullCharge float64
	DesignVoltage  float64
	Unit           string // "mAh" or "mWh", taken from the "capacity unit" line
}

// ACPIBatteryState is the dynamic portion of .../BATn/state.
type ACPIBatteryState struct {
	Present          bool
	Charging         bool
	Discharging      bool
	RemainingCapacity float64
	PresentRate      float64
}

// ReadACPIBatteryInfo parses .../info, the classic "key:      value unit"
// line format /proc/acpi/battery used before cardbus-acpi moved to sysfs.
func ReadACPIBatteryInfo(fs sysfs.Tree, objPath string) ACPIBatteryInfo {
	var info ACPIBatteryInfo
	data, ok := fs.ReadAttr(objPath + "/info")
	if !ok {
		return info
	}
	for _, line := range strings.Split(data, "\n") {
		key, val, ok := splitACPILine(line)
		if !ok {
			continue
		}
		switch key {
		case "present":
			info.Present = val == "yes"
		case "design capacity":
			info.DesignCapacity, info.Unit = parseACPIQuantity(val)
		case "last full capacity":
			info.LastFullCharge, _ = parseACPIQuantity(val)
		case "design voltage":
			info.DesignVoltage, _ = parseACPIQuantity(val)
		}
	}
	return info
}

// ReadACPIBatteryState parses .../state.
func ReadACPIBatteryState(fs sysfs.Tree, objPath string) ACPIBatteryState {
	var state ACPIBatteryState
	data, ok := fs.ReadAttr(objPath + "/state")
	if !ok {
		return state
	}
	for _, line := range strings.Split(data, "\n") {
		key, val, ok := splitACPILine(line)
		if !ok {
			continue
		}
		switch key {
		case "present":
			state.Present = val == "yes"
		case "charging state":
			state.Charging = val == "charging"
			state.Discharging = val == "discharging"
		case "remaining capacity":
			state.RemainingCapacity, _ = parseACPIQuantity(val)
		case "present rate":
			state.PresentRate, _ = parseACPIQuantity(val)
		}
	}
	return state
}

// ReadACPIACAdapterState parses .../ac_adapter/ACn/state, a single "state:
// on-line"/"state: off-line" line.
func ReadACPIACAdapterState(fs sysfs.Tree, objPath string) (online bool) {
	data, ok := fs.ReadAttr(objPath + "/state")
	if !ok {
		return false
	}
	for _, line := range strings.Split(data, "\n") {
		key, val, ok := splitACPILine(line)
		if ok && key == "state" {
			return val == "on-line"
		}
	}
	return false
}

// ReadACPIButtonState parses .../button/{lid,power,sleep}/*/state, a single
// "state: closed"/"state: open" (lid) or "state: ..." line.
func ReadACPIButtonState(fs sysfs.Tree, objPath string) (value string) {
	data, ok := fs.ReadAttr(objPath + "/state")
	if !ok {
		return ""
	}
	for _, line := range strings.Split(data, "\n") {
		key, val, ok := splitACPILine(line)
		if ok && key == "state" {
			return val
		}
	}
	return ""
}

// splitACPILine splits a "key:        value" line from /proc/acpi's
// fixed-width-ish format, lowercasing and trimming the key.
func splitACPILine(line string) (key, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	key = strings.ToLower(strings.TrimSpace(line[:idx]))
	value = strings.TrimSpace(line[idx+1:])
	return key, value, true
}

// parseACPIQuantity parses a "4400 mAh" or "10800 mV" value into its numeric
// and unit parts. "unknown" parses as 0 with an empty unit.
func parseACPIQuantity(s string) (float64, string) {
	fields := strings.Fields(s)
	if len(fields) == 0 || fields[0] == "unknown" {
		return 0, ""
	}
	n, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, ""
	}
	unit := ""
	if len(fields) > 1 {
		unit = fields[1]
	}
	return n, unit
}
