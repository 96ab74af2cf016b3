// Package identity computes the stable, collision-free UDI ("Unique Device
// Identifier") assigned to each device once probing completes. Each
// handler family supplies a deterministic formula over the device's own
// properties; collision handling (numeric suffixing) is shared.
package identity

import (
	"fmt"
	"regexp"
	"strings"
)

// Root is the sentinel UDI of the synthetic root device synthesized at
// startup, the attachment point for root-class subsystems.
const Root = "/org/freedesktop/Hal/devices/computer"

// Ignored is the sentinel UDI assigned to a device whose preprobe pass set
// info.ignore=true.
const Ignored = "/org/freedesktop/Hal/devices/ignored-device"

const devicesPrefix = "/org/freedesktop/Hal/devices/"

// validCharset is the charset a published UDI must match: narrower than
// the charset tolerated in derived UDI fragments (no '.' or '-').
var validCharset = regexp.MustCompile(`^[A-Za-z0-9_/]+$`)

// Sanitize forces s into the [A-Za-z0-9_/] charset, replacing every
// other rune with '_', then collapses repeated '/' so the result never
// contains two consecutive slashes.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '/':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return collapseSlashes(b.String())
}

func collapseSlashes(s string) string {
	for strings.Contains(s, "//") {
		s = strings.ReplaceAll(s, "//", "/")
	}
	return s
}

// IsValid reports whether udi satisfies the published-UDI charset and
// no-double-slash requirements.
func IsValid(udi string) bool {
	return validCharset.MatchString(udi) && !strings.Contains(udi, "//")
}

func devicePath(suffix string) string {
	return Sanitize(devicesPrefix + suffix)
}

// PCI computes the UDI for a PCI device from its vendor and device IDs.
func PCI(vendorID, deviceID uint32) string {
	return devicePath(fmt.Sprintf("pci_%x_%x", vendorID, deviceID))
}

// USBDevice computes the UDI for a usb_device node. serial is used verbatim
// when non-empty; otherwise the literal "noserial" is substituted so that
// two serial-less devices of the same vendor/product still collide through
// the normal numeric-suffix path rather than silently aliasing.
func USBDevice(vendorID, productID uint32, serial string) string {
	if serial == "" {
		serial = "noserial"
	}
	return devicePath(fmt.Sprintf("usb_device_%x_%x_%s", vendorID, productID, serial))
}

// USBInterface computes the UDI for a USB interface child of a usb_device,
// keyed by the parent's UDI and the interface number.
func USBInterface(parentUDI string, interfaceNumber int) string {
	return devicePath(fmt.Sprintf("%s_if%d", stripDevicesPrefix(parentUDI), interfaceNumber))
}

// IEEE1394 computes the UDI for a FireWire node from its 64-bit GUID.
func IEEE1394(guid uint64) string {
	return devicePath(fmt.Sprintf("ieee1394_%016x", guid))
}

// IDE computes the UDI for an IDE device from its parent, host and channel.
func IDE(parentUDI string, host, channel int) string {
	return devicePath(fmt.Sprintf("%s_ide_%d_%d", stripDevicesPrefix(parentUDI), host, channel))
}

// SCSI computes the UDI for a SCSI device from its parent and LUN.
func SCSI(parentUDI string, lun int) string {
	return devicePath(fmt.Sprintf("%s_scsi_lun%d", stripDevicesPrefix(parentUDI), lun))
}

// Net computes the UDI for a network interface. If mac is empty or the
// all-zero address, originPath (the sysfs path of the originating device)
// is used instead, with its slashes flattened to '_'.
func Net(mac, originPath string) string {
	if mac == "" || mac == "00:00:00:00:00:00" {
		return devicePath(fmt.Sprintf("net_%s", strings.ReplaceAll(originPath, "/", "_")))
	}
	return devicePath(fmt.Sprintf("net_%s", strings.ReplaceAll(mac, ":", "_")))
}

// VolumeIdentity carries the candidate identity fields a volume's UDI may
// be derived from, tried in a fixed preference order: UUID, else
// label, else blank-disc type, else part<N>_size<size>.
type VolumeIdentity struct {
	UUID          string
	Label         string
	BlankDiscType string
	PartitionNum  int
	SizeBytes     uint64
}

// Volume computes the UDI for a volume device.
func Volume(parentUDI string, id VolumeIdentity) string {
	switch {
	case id.UUID != "":
		return devicePath(fmt.Sprintf("volume_uuid_%s", id.UUID))
	case id.Label != "":
		return devicePath(fmt.Sprintf("volume_label_%s", id.Label))
	case id.BlankDiscType != "":
		return devicePath(fmt.Sprintf("volume_blank_%s", id.BlankDiscType))
	default:
		return devicePath(fmt.Sprintf("%s_part%d_size%d", stripDevicesPrefix(parentUDI), id.PartitionNum, id.SizeBytes))
	}
}

// Storage computes the UDI for a storage (disk) device: serial if present,
// else model, else the parent UDI suffixed "_storage".
func Storage(parentUDI, serial, model string) string {
	switch {
	case serial != "":
		return devicePath(fmt.Sprintf("storage_serial_%s", serial))
	case model != "":
		return devicePath(fmt.Sprintf("storage_model_%s", model))
	default:
		return devicePath(fmt.Sprintf("%s_storage", stripDevicesPrefix(parentUDI)))
	}
}

// Firmware computes the UDI for a firmware-backend object (battery,
// ac_adapter, button, thermal_zone, ...), keyed by its subtype and the
// backend-assigned object name (e.g. "BAT0", "LID").
func Firmware(subtype, name string) string {
	return devicePath(fmt.Sprintf("%s_%s", subtype, Sanitize(name)))
}

func stripDevicesPrefix(udi string) string {
	return strings.TrimPrefix(udi, devicesPrefix)
}

// Resolve appends numeric suffixes "_0", "_1", ... to candidate until
// exists reports false for the result, implementing the collision-handling
// policy. candidate itself is tried first.
func Resolve(candidate string, exists func(string) bool) string {
	if !exists(candidate) {
		return candidate
	}
	for i := 0; ; i++ {
		next := fmt.Sprintf("%s_%d", candidate, i)
		if !exists(next) {
			return next
		}
	}
}
