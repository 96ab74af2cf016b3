package handlers

// rootClassSubsystems are bus-like subsystems whose devices attach
// directly under the root computer device rather than under another
// discovered device. A handler
// lookup miss for one of these subsystems still resolves to the generic
// handler, and parent resolution falls back to the root device for them
// when the ancestor search finds no published parent.
var rootClassSubsystems = map[string]bool{
	"pci":        true,
	"platform":   true,
	"pnp":        true,
	"xen":        true,
	"ccw":        true,
	"ccwgroup":   true,
	"iucv":       true,
	"pseudo":     true,
	"backlight":  true,
}

// IsRootClass reports whether subsystem devices attach directly to the
// root computer device.
func IsRootClass(subsystem string) bool {
	return rootClassSubsystems[subsystem]
}

// Table maps a subsystem string to the Handler responsible for it.
// Registration is closed: built once at startup from NewTable, never
// mutated afterward.
type Table struct {
	byName   map[string]Handler
	fallback Handler
}

// NewTable builds a Table from handlers, each consulted by its own
// Subsystem() name, plus fallback for any subsystem none of them claim.
func NewTable(fallback Handler, handlers ...Handler) *Table {
	t := &Table{byName: make(map[string]Handler, len(handlers)), fallback: fallback}
	for _, h := range handlers {
		t.byName[h.Subsystem()] = h
	}
	return t
}

// Lookup returns the handler registered for subsystem, or the table's
// fallback handler if none is registered.
func (t *Table) Lookup(subsystem string) Handler {
	if h, ok := t.byName[subsystem]; ok {
		return h
	}
	return t.fallback
}
