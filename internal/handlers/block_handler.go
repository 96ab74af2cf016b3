package handlers

import (
	"strconv"
	"strings"

	"github.com/smazurov/hald/internal/device"
	"github.com/smazurov/hald/internal/identity"
)

// BlockHandler handles the "block" subsystem. A node is either a
// whole-disk storage device (has a "device" symlink to its controller, no
// "partition" attribute) or a partition volume (has a "partition"
// attribute). Both shapes are handled here since sysfs only distinguishes
// them by attribute presence, not by a separate subsystem name.
type BlockHandler struct{}

func (BlockHandler) Subsystem() string { return "block" }

func (BlockHandler) Add(ac AddContext) (*device.Device, error) {
	d := NewBareDevice(ac)
	isPartition := ac.IsFakevolume || ac.FS.Exists(ac.SysfsPath+"/partition")
	d.SetProperty("block.is_volume", device.Bool(isPartition))
	if ac.IsFakevolume {
		d.SetProperty("block.is_fakevolume", device.Bool(true))
	}

	if major, ok := ac.FS.ReadAttr(ac.SysfsPath + "/dev"); ok {
		if maj, min, ok := splitMajorMinor(major); ok {
			d.SetProperty("block.major", device.Int64(int64(maj)))
			d.SetProperty("block.minor", device.Int64(int64(min)))
		}
	}
	if size, ok := ac.FS.ReadAttr(ac.SysfsPath + "/size"); ok {
		if n, err := strconv.ParseUint(strings.TrimSpace(size), 10, 64); err == nil {
			d.SetProperty("block.size", device.Uint64(n*512))
		}
	}

	if isPartition {
		num, _ := ac.FS.ReadAttr(ac.SysfsPath + "/partition")
		n, _ := strconv.Atoi(strings.TrimSpace(num))
		d.SetProperty("volume.partition.number", device.Int64(int64(n)))
		if ac.FSUUID != "" {
			d.SetProperty("volume.uuid", device.String(ac.FSUUID))
		}
		if ac.FSLabel != "" {
			d.SetProperty("volume.label", device.String(ac.FSLabel))
		}
		if ac.FSType != "" {
			d.SetProperty("volume.fstype", device.String(ac.FSType))
		}
		d.SetProperty("volume.is_mounted", device.Bool(false))
		d.AddCapability("volume")
	} else {
		removable, _ := ac.FS.ReadAttr(ac.SysfsPath + "/removable")
		d.SetProperty("storage.removable", device.Bool(strings.TrimSpace(removable) == "1"))
		if ac.Model != "" {
			d.SetProperty("storage.model", device.String(ac.Model))
		}
		if ac.Serial != "" {
			d.SetProperty("storage.serial", device.String(ac.Serial))
		}
		d.AddCapability("storage")
	}
	return d, nil
}

// GetProber returns "hald-probe-volume" for partitions, "hald-probe-storage"
// for whole-disk devices, and no prober for synthesized fakevolumes.
func (BlockHandler) GetProber(dev *device.Device) (string, bool) {
	if isFake, _ := dev.GetBool("block.is_fakevolume"); isFake {
		return "", false
	}
	isVolume, _ := dev.GetBool("block.is_volume")
	if isVolume {
		return "hald-probe-volume", true
	}
	return "hald-probe-storage", true
}

func (BlockHandler) PostProbing(dev *device.Device) error { return nil }

// AllowsExitCode2 recognises exit code 2 ("fs on main block device") only
// for whole-disk storage probes only.
func (BlockHandler) AllowsExitCode2(dev *device.Device) bool {
	isVolume, _ := dev.GetBool("block.is_volume")
	return !isVolume
}

func (BlockHandler) ComputeUDI(dev *device.Device) string {
	parent, _ := dev.Parent()
	isVolume, _ := dev.GetBool("block.is_volume")
	if !isVolume {
		serial, _ := dev.GetString("storage.serial")
		model, _ := dev.GetString("storage.model")
		return identity.Storage(parent, serial, model)
	}
	uuid, _ := dev.GetString("volume.uuid")
	label, _ := dev.GetString("volume.label")
	num, _ := dev.GetInt64("volume.partition.number")
	size, _ := dev.GetProperty("block.size")
	sizeBytes, _ := size.AsUint64()
	return identity.Volume(parent, identity.VolumeIdentity{
		UUID:         uuid,
		Label:        label,
		PartitionNum: int(num),
		SizeBytes:    sizeBytes,
	})
}

func (BlockHandler) Remove(dev *device.Device) error { return nil }

// IsStorage reports whether dev is a whole-disk storage device rather than
// a volume (partition or fakevolume).
func IsStorage(dev *device.Device) bool {
	isVolume, _ := dev.GetBool("block.is_volume")
	return !isVolume
}

// NewFakevolumeAddContext builds the AddContext for the synthetic
// synthetic "fakevolume" child: a filesystem found directly
// on a whole-disk device with no partition table, given its own node one
// level below the storage device so it is addressed and removed
// independently of it.
func NewFakevolumeAddContext(storage AddContext, fsType, fsUUID, fsLabel string) AddContext {
	ac := storage
	ac.SysfsPath = storage.SysfsPath + "/fakevolume"
	ac.Subsystem = "block"
	ac.FSType = fsType
	ac.FSUUID = fsUUID
	ac.FSLabel = fsLabel
	return ac
}

func splitMajorMinor(s string) (maj, min int, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	maj, err1 := strconv.Atoi(parts[0])
	min, err2 := strconv.Atoi(parts[1])
	return maj, min, err1 == nil && err2 == nil
}
