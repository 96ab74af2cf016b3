package nats

import (
	"encoding/json"

	"github.com/smazurov/hald/internal/events"
)

// Subject prefixes for NATS topics.
const (
	SubjectDevicePrefix  = "hald.device"
	SubjectControlPrefix = "hald.control"
	SubjectAddonPrefix   = "hald.addon"
)

// Fixed subjects for device signal fan-out. Device events carry their UDI in
// the message body rather than the subject: UDIs contain '/' and are not
// safe NATS subject tokens, so subscribers filter on the payload instead of
// the subject hierarchy.
const (
	SubjectDeviceAdded     = SubjectDevicePrefix + ".added"
	SubjectDeviceRemoved   = SubjectDevicePrefix + ".removed"
	SubjectPropertyChanged = SubjectDevicePrefix + ".property_changed"
	SubjectCapabilityAdded = SubjectDevicePrefix + ".capability_added"
	SubjectLockAcquired    = SubjectDevicePrefix + ".lock_acquired"
	SubjectLockReleased    = SubjectDevicePrefix + ".lock_released"
	SubjectConditionRaised = SubjectDevicePrefix + ".condition"
	SubjectCommandRescan   = SubjectControlPrefix + ".rescan"
	SubjectCommandReprobe  = SubjectControlPrefix + ".reprobe"
	SubjectAddonReady      = SubjectAddonPrefix + ".ready"
)

// SubjectForEvent returns the NATS subject a given device event publishes
// on, and false if the event type has no outbound subject (QueueIdleEvent is
// internal-only and never leaves the process over NATS).
func SubjectForEvent(ev events.Event) (string, bool) {
	switch ev.(type) {
	case events.DeviceAddedEvent:
		return SubjectDeviceAdded, true
	case events.DeviceRemovedEvent:
		return SubjectDeviceRemoved, true
	case events.PropertyChangedEvent:
		return SubjectPropertyChanged, true
	case events.CapabilityAddedEvent:
		return SubjectCapabilityAdded, true
	case events.LockAcquiredEvent:
		return SubjectLockAcquired, true
	case events.LockReleasedEvent:
		return SubjectLockReleased, true
	case events.ConditionEvent:
		return SubjectConditionRaised, true
	default:
		return "", false
	}
}

// CommandMessage represents a rescan or reprobe request delivered over NATS,
// the fire-and-forget counterpart to the synchronous query API's rescan and
// reprobe operations.
type CommandMessage struct {
	Action    string `json:"action"` // rescan, reprobe
	UDI       string `json:"udi"`
	Timestamp string `json:"timestamp"`
	Reason    string `json:"reason,omitempty"`
}

// Marshal serializes the message to JSON.
func (m CommandMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalCommand deserializes a CommandMessage from JSON.
func UnmarshalCommand(data []byte) (CommandMessage, error) {
	var m CommandMessage
	err := json.Unmarshal(data, &m)
	return m, err
}

// AddonReadyMessage is sent by a long-lived addon process once its own
// startup has completed, releasing the device's add-callouts-done
// gate.
type AddonReadyMessage struct {
	UDI       string `json:"udi"`
	Addon     string `json:"addon,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Marshal serializes the message to JSON.
func (m AddonReadyMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalAddonReady deserializes an AddonReadyMessage from JSON.
func UnmarshalAddonReady(data []byte) (AddonReadyMessage, error) {
	var m AddonReadyMessage
	err := json.Unmarshal(data, &m)
	return m, err
}
