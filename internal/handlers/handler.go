// Package handlers implements the Subsystem Handler Table and pipeline
// dispatch: a static table mapping subsystem strings to a
// small closed enumeration of per-subsystem add/probe/identity/remove
// callback bundles, and the Pipeline that drives a raw hotplug event
// through preprobe -> probe -> identity -> information/policy ->
// add-callouts -> GDL publication.
//
// The handler set is a small, fixed enumeration of structs implementing
// Handler, registered once at startup — never open dynamic dispatch.
package handlers

import (
	"github.com/smazurov/hald/internal/device"
	"github.com/smazurov/hald/internal/sysfs"
)

// AddContext carries everything a handler's Add needs to construct a bare
// device: the raw hotplug event's path/hint fields plus the resolved
// parent.
type AddContext struct {
	SysfsPath  string
	DeviceFile string
	ParentUDI  string
	ParentPath string
	Subsystem  string

	// Pre-parsed uevent hints (ID_VENDOR, ID_MODEL, ID_SERIAL, ID_FS_*),
	// carried over from the raw hotplug event.
	Vendor, Model, Serial           string
	FSUsage, FSType, FSUUID, FSLabel string
	IfIndex                          int

	// IsFakevolume marks a synthetic filesystem-on-main-block-device child
	//: it has no backing sysfs node of its own, so
	// BlockHandler must not derive its volume-vs-storage shape from sysfs
	// attribute presence.
	IsFakevolume bool

	FS sysfs.Tree
}

// Handler is a per-subsystem bundle of operation callbacks. The set of
// concrete implementations is closed and registered into one Table at
// startup.
type Handler interface {
	// Subsystem names the subsystem this handler is registered under in
	// the Table. The generic fallback returns "".
	Subsystem() string

	// Add constructs a bare device for ac, setting linux.sysfs_path,
	// info.parent, linux.hotplug_type, linux.subsystem, linux.device_file,
	// and any subsystem-specific properties read from sysfs attribute
	// files. Returns hal.ErrIO (wrapped) if a required attribute is
	// unreadable.
	Add(ac AddContext) (*device.Device, error)

	// GetProber returns the external probe helper's name for dev, or
	// ok=false if this handler never probes.
	GetProber(dev *device.Device) (name string, ok bool)

	// PostProbing is called after a successful (or conditionally
	// successful, exit code 2) probe helper invocation.
	PostProbing(dev *device.Device) error

	// ComputeUDI derives the candidate UDI from dev's current properties,
	// per its handler family's formula. The result is
	// not yet sanitized or collision-resolved; the pipeline does both.
	ComputeUDI(dev *device.Device) string

	// Remove runs handler-specific teardown before dev leaves the GDL.
	Remove(dev *device.Device) error
}

// AllowsExitCode2 is implemented by handlers whose probe's exit code 2
// ("fs-on-main-block-device detected") is recognised as conditional
// success for block-storage non-partition devices only. Handlers that
// don't implement it never allow exit code 2.
type AllowsExitCode2 interface {
	AllowsExitCode2(dev *device.Device) bool
}

// NewBareDevice builds the common device shape every handler's Add starts
// from, keyed by a sanitized-sysfs-path placeholder
// UDI — temporary, since the real UDI is assigned by ComputeUDI once
// probing completes.
func NewBareDevice(ac AddContext) *device.Device {
	d := device.New(device.SanitizeUDI(ac.SysfsPath))
	d.SetProperty("linux.sysfs_path", device.String(ac.SysfsPath))
	d.SetProperty("linux.subsystem", device.String(ac.Subsystem))
	d.SetProperty("linux.hotplug_type", device.String("sysfs"))
	if ac.DeviceFile != "" {
		d.SetProperty("linux.device_file", device.String(ac.DeviceFile))
	}
	if ac.ParentUDI != "" {
		d.SetProperty("info.parent", device.String(ac.ParentUDI))
		d.SetParent(ac.ParentUDI)
	}
	return d
}
