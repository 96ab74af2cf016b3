// Package hotplug implements the ordered, dependency-aware Hotplug Event
// Queue — the hardest piece of the core: a FIFO plus an
// in-progress set, where an event is releasable only when no earlier
// queued or in-progress event "dominates" it.
package hotplug

// Action is the kernel uevent action, or a firmware event's pseudo-action.
type Action string

// Sysfs uevent actions.
const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
	ActionChange Action = "change"
	ActionMove   Action = "move"
)

// Event is a tagged record describing either a sysfs kernel event or a
// firmware event.
type Event struct {
	// Firmware is true for ACPI/APM/PMU-sourced events; false for sysfs
	// kernel uevents.
	Firmware bool

	Action    Action
	Subsystem string
	SysfsPath string
	DevicePath string // device node path (DEVNAME), sysfs events only
	Seq        uint64 // SEQNUM, sysfs events only

	OldPath string // DEVPATH_OLD, set only for Action == ActionMove
	IfIndex int     // IFINDEX, optional

	// Pre-parsed vendor/model/serial/filesystem hints carried by the
	// uevent (ID_VENDOR, ID_MODEL, ID_SERIAL, ID_FS_*).
	Vendor    string
	Model     string
	Serial    string
	FSUsage   string
	FSType    string
	FSVersion string
	FSUUID    string
	FSLabel   string

	// IsDeviceMapper flags a dm-* block device, used by the dominance
	// rule "dm devices must settle after their backing block devices".
	IsDeviceMapper bool

	// FirmwareSubtype ("acpi", "apm", "pmu") and FirmwarePath (pseudo-fs
	// path) are set only when Firmware is true.
	FirmwareSubtype string
	FirmwarePath    string

	// Reposted prevents re-queue loops: set when this event is removed
	// from in-progress and re-enqueued at the head via Repost.
	Reposted bool

	// IsFakevolume marks the synthetic "filesystem found directly on a
	// whole-disk block device" child event. It has no sysfs node of its own.
	IsFakevolume bool
}

// Path returns the event's defining path: SysfsPath for sysfs events,
// FirmwarePath for firmware events.
func (e *Event) Path() string {
	if e.Firmware {
		return e.FirmwarePath
	}
	return e.SysfsPath
}
