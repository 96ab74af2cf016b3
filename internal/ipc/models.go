package ipc

import (
	"sort"

	"github.com/smazurov/hald/internal/device"
)

// DeviceModel is the JSON shape a published device takes on the query API.
type DeviceModel struct {
	UDI          string            `json:"udi" example:"/org/freedesktop/Hal/devices/usb_device_46d_c012_ABC" doc:"Unique device identifier"`
	Parent       string            `json:"parent,omitempty" doc:"Parent device UDI, empty for root devices"`
	Properties   map[string]any    `json:"properties" doc:"Typed device properties, keyed by dotted name"`
	Capabilities []string          `json:"capabilities,omitempty" doc:"Capability tags in insertion order"`
	Locks        map[string]string `json:"locks,omitempty" doc:"Held locks, name to owner"`
}

// ModelFromDevice snapshots a device into its API shape.
func ModelFromDevice(d *device.Device) DeviceModel {
	m := DeviceModel{
		UDI:          d.UDI(),
		Properties:   make(map[string]any),
		Capabilities: d.Capabilities(),
	}
	if parent, ok := d.Parent(); ok {
		m.Parent = parent
	}
	for key, v := range d.Properties() {
		m.Properties[key] = valueToJSON(v)
	}
	locks := d.Locks()
	if len(locks) > 0 {
		m.Locks = make(map[string]string, len(locks))
		for name, lk := range locks {
			m.Locks[name] = lk.Owner
		}
	}
	return m
}

// valueToJSON maps the property sum type onto its natural JSON encoding.
func valueToJSON(v device.Value) any {
	switch v.Type() {
	case device.TypeString:
		s, _ := v.AsString()
		return s
	case device.TypeInt64:
		n, _ := v.AsInt64()
		return n
	case device.TypeUint64:
		n, _ := v.AsUint64()
		return n
	case device.TypeDouble:
		f, _ := v.AsDouble()
		return f
	case device.TypeBool:
		b, _ := v.AsBool()
		return b
	case device.TypeStrlist:
		l, _ := v.AsStrlist()
		return l
	default:
		return nil
	}
}

// sortModels orders device listings by UDI so responses are stable.
func sortModels(models []DeviceModel) {
	sort.Slice(models, func(i, j int) bool { return models[i].UDI < models[j].UDI })
}
