// Package uevent turns kernel device notifications into hotplug queue
// events. The live path rides a udev netlink monitor (see Source); the
// frame decoder below also understands the raw newline-separated KEY=VALUE
// datagrams a user-space udev relay forwards, with the escape-decoding and
// UTF-8 validation those frames require.
package uevent

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/smazurov/hald/internal/hal"
	"github.com/smazurov/hald/internal/hotplug"
)

// Required frame keys. A frame missing any of them is malformed.
var requiredKeys = []string{"ACTION", "DEVPATH", "SUBSYSTEM", "SEQNUM"}

var validActions = map[string]hotplug.Action{
	"add":    hotplug.ActionAdd,
	"remove": hotplug.ActionRemove,
	"change": hotplug.ActionChange,
	"move":   hotplug.ActionMove,
}

// ParseFrame decodes one newline-separated KEY=VALUE uevent frame into a
// hotplug event. Values undergo \xNN escape-decoding and UTF-8 validation;
// an invalid value is dropped to empty rather than failing the frame. A
// frame missing a required key or carrying an unknown action fails with
// hal.ErrParseError.
func ParseFrame(data []byte) (*hotplug.Event, error) {
	kv := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found || key == "" {
			continue
		}
		kv[key] = sanitizeValue(value)
	}

	for _, key := range requiredKeys {
		if kv[key] == "" {
			return nil, fmt.Errorf("%w: uevent frame missing %s", hal.ErrParseError, key)
		}
	}

	return EventFromKeyValues(kv)
}

// EventFromKeyValues builds a hotplug event from an already-decoded uevent
// property map. Shared by ParseFrame and the netlink Source.
func EventFromKeyValues(kv map[string]string) (*hotplug.Event, error) {
	action, ok := validActions[kv["ACTION"]]
	if !ok {
		return nil, fmt.Errorf("%w: unknown uevent action %q", hal.ErrParseError, kv["ACTION"])
	}

	seq, err := strconv.ParseUint(kv["SEQNUM"], 10, 64)
	if err != nil && kv["SEQNUM"] != "" {
		return nil, fmt.Errorf("%w: bad SEQNUM %q", hal.ErrParseError, kv["SEQNUM"])
	}

	ifindex := 0
	if raw := kv["IFINDEX"]; raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			ifindex = n
		}
	}

	devpath := kv["DEVPATH"]
	ev := &hotplug.Event{
		Action:         action,
		Subsystem:      kv["SUBSYSTEM"],
		SysfsPath:      devpath,
		DevicePath:     kv["DEVNAME"],
		Seq:            seq,
		OldPath:        kv["DEVPATH_OLD"],
		IfIndex:        ifindex,
		Vendor:         kv["ID_VENDOR"],
		Model:          kv["ID_MODEL"],
		Serial:         kv["ID_SERIAL"],
		FSUsage:        kv["ID_FS_USAGE"],
		FSType:         kv["ID_FS_TYPE"],
		FSVersion:      kv["ID_FS_VERSION"],
		FSUUID:         kv["ID_FS_UUID"],
		FSLabel:        kv["ID_FS_LABEL_ENC"],
		IsDeviceMapper: isDeviceMapper(kv["SUBSYSTEM"], devpath, kv["DM_NAME"]),
	}
	return ev, nil
}

// isDeviceMapper flags dm-* block devices for the queue's "dm devices
// settle after their backing block devices" dominance rule.
func isDeviceMapper(subsystem, devpath, dmName string) bool {
	if subsystem != "block" {
		return false
	}
	if dmName != "" {
		return true
	}
	return strings.HasPrefix(baseName(devpath), "dm-")
}

func baseName(path string) string {
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// sanitizeValue applies the \xNN escape-decoding and UTF-8 validation the
// uevent relay's wire format requires: invalid values are dropped to
// empty.
func sanitizeValue(s string) string {
	if strings.Contains(s, `\x`) {
		s = decodeEscapes(s)
	}
	if !utf8.ValidString(s) {
		return ""
	}
	return s
}

func decodeEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] == '\\' && i+3 < len(s) && s[i+1] == 'x' {
			if n, err := strconv.ParseUint(s[i+2:i+4], 16, 8); err == nil {
				b.WriteByte(byte(n))
				i += 4
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}
