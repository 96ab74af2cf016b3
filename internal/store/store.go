// Package store implements the Device Stores: the Temporary
// Device List (TDL, for devices still being probed) and the Global Device
// List (GDL, for publicly visible devices). Both are instances of the same
// Store type, distinguished only by Kind and by whether their hooks are
// forwarded externally.
package store

import (
	"fmt"
	"sync"

	"github.com/smazurov/hald/internal/device"
	"github.com/smazurov/hald/internal/hal"
)

// Kind distinguishes the TDL from the GDL. Moving a device TDL->GDL is the sole operation that makes it publicly visible.
type Kind int

// Store kinds.
const (
	KindTDL Kind = iota
	KindGDL
)

func (k Kind) String() string {
	if k == KindGDL {
		return "GDL"
	}
	return "TDL"
}

// Visibility tags whether an Event should be forwarded to external
// observers (the IPC collaborator) or stays internal.
type Visibility int

// Visibility values.
const (
	Internal Visibility = iota
	External
)

// ChangeKind distinguishes a store-level add from a remove.
type ChangeKind int

// Change kinds.
const (
	ChangeAdded ChangeKind = iota
	ChangeRemoved
)

// StoreChange describes a device entering or leaving a store.
type StoreChange struct {
	Kind ChangeKind
	UDI  string
}

// Event is delivered to Store listeners for every mutation: either a
// store-level add/remove, or a forwarded per-device hook (property
// changed, capability added, lock acquired/released).
type Event struct {
	Store      Kind
	Visibility Visibility
	Change     *StoreChange
	DeviceHook *device.Hook
}

// Listener receives Store events. Invoked synchronously and atomically
// with respect to the mutation that produced it.
type Listener func(Event)

// Store is an ordered collection of devices indexed by UDI and by a
// configurable set of property keys.
type Store struct {
	kind Kind

	mu        sync.RWMutex
	byUDI     map[string]*device.Device
	indexKeys map[string]struct{}
	// index[key][value] -> ordered list of UDIs, maintained incrementally
	// so indexed lookups stay consistent with what a linear scan would
	// return.
	index map[string]map[string][]string

	listeners []Listener
}

// New creates an empty store of the given kind. indexKeys lists the
// property keys to maintain a secondary index for; linux.sysfs_path is
// always indexed regardless of what is passed.
func New(kind Kind, indexKeys ...string) *Store {
	s := &Store{
		kind:      kind,
		byUDI:     make(map[string]*device.Device),
		indexKeys: make(map[string]struct{}),
		index:     make(map[string]map[string][]string),
	}
	s.indexKeys["linux.sysfs_path"] = struct{}{}
	for _, k := range indexKeys {
		s.indexKeys[k] = struct{}{}
	}
	for k := range s.indexKeys {
		s.index[k] = make(map[string][]string)
	}
	return s
}

// Kind returns the store's kind (TDL or GDL).
func (s *Store) Kind() Kind { return s.kind }

// Subscribe registers a listener for all events this store emits.
func (s *Store) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) visibility() Visibility {
	if s.kind == KindGDL {
		return External
	}
	return Internal
}

func (s *Store) emit(ev Event) {
	ev.Store = s.kind
	ev.Visibility = s.visibility()
	// Listeners run outside the lock: a listener is allowed to query this
	// store (e.g. the IPC query handler reacting to an added event).
	s.mu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()
	for _, l := range listeners {
		l(ev)
	}
}

// Add inserts d, keyed by its current UDI. Returns hal.ErrDuplicate if the
// UDI is already present.
func (s *Store) Add(d *device.Device) error {
	udi := d.UDI()

	s.mu.Lock()
	if _, exists := s.byUDI[udi]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s already present in %s", hal.ErrDuplicate, udi, s.kind)
	}
	s.byUDI[udi] = d
	for key := range s.indexKeys {
		if v, ok := d.GetProperty(key); ok {
			s.indexAdd(key, v.GoString(), udi)
		}
	}
	d.SetNotifier(func(h device.Hook) { s.handleDeviceHook(udi, h) })
	s.mu.Unlock()

	s.emit(Event{Change: &StoreChange{Kind: ChangeAdded, UDI: udi}})
	return nil
}

// Remove deletes the device with the given UDI, if present, returning it.
func (s *Store) Remove(udi string) (*device.Device, bool) {
	s.mu.Lock()
	d, ok := s.byUDI[udi]
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	delete(s.byUDI, udi)
	for key := range s.indexKeys {
		if v, ok := d.GetProperty(key); ok {
			s.indexRemove(key, v.GoString(), udi)
		}
	}
	d.SetNotifier(nil)
	s.mu.Unlock()

	s.emit(Event{Change: &StoreChange{Kind: ChangeRemoved, UDI: udi}})
	return d, true
}

// Find returns the device with the given UDI.
func (s *Store) Find(udi string) (*device.Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byUDI[udi]
	return d, ok
}

// MatchFirst returns the first device (insertion order not guaranteed)
// whose property at key has the given string representation.
func (s *Store) MatchFirst(key, value string) (*device.Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if byVal, indexed := s.index[key]; indexed {
		udis := byVal[value]
		if len(udis) == 0 {
			return nil, false
		}
		return s.byUDI[udis[0]], true
	}
	for _, d := range s.byUDI {
		if v, ok := d.GetProperty(key); ok && v.GoString() == value {
			return d, true
		}
	}
	return nil, false
}

// MatchMany returns every device whose property at key has the given
// string representation.
func (s *Store) MatchMany(key, value string) []*device.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*device.Device
	if byVal, indexed := s.index[key]; indexed {
		for _, udi := range byVal[value] {
			out = append(out, s.byUDI[udi])
		}
		return out
	}
	for _, d := range s.byUDI {
		if v, ok := d.GetProperty(key); ok && v.GoString() == value {
			out = append(out, d)
		}
	}
	return out
}

// All returns every device currently in the store. Order is unspecified.
func (s *Store) All() []*device.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*device.Device, 0, len(s.byUDI))
	for _, d := range s.byUDI {
		out = append(out, d)
	}
	return out
}

// Len returns the number of devices currently in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUDI)
}

// handleDeviceHook is installed as a Device's notifier while it resides in
// this store. It keeps the secondary index consistent and forwards the
// hook as an Event.
func (s *Store) handleDeviceHook(udi string, h device.Hook) {
	if h.Kind == device.HookPropertyChanged {
		s.mu.Lock()
		if _, indexed := s.indexKeys[h.Key]; indexed {
			d, ok := s.byUDI[udi]
			if ok {
				// Reindex: drop any stale entry for this UDI under this
				// key (we don't know the old value), then re-add current.
				for val, udis := range s.index[h.Key] {
					s.index[h.Key][val] = removeString(udis, udi)
				}
				if !h.Removed {
					if v, ok := d.GetProperty(h.Key); ok {
						s.indexAdd(h.Key, v.GoString(), udi)
					}
				}
			}
		}
		s.mu.Unlock()
	}
	s.emit(Event{DeviceHook: &h})
}

func (s *Store) indexAdd(key, value, udi string) {
	s.index[key][value] = append(s.index[key][value], udi)
}

func (s *Store) indexRemove(key, value, udi string) {
	s.index[key][value] = removeString(s.index[key][value], udi)
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// MoveTo removes the device with udi from s and adds it to dst. This is the
// sole operation that makes a TDL device publicly visible when dst is the
// GDL. Returns hal.ErrNotFound if udi is not in s.
func MoveTo(src, dst *Store, udi string) (*device.Device, error) {
	d, ok := src.Remove(udi)
	if !ok {
		return nil, fmt.Errorf("%w: %s not in %s", hal.ErrNotFound, udi, src.kind)
	}
	if err := dst.Add(d); err != nil {
		return nil, err
	}
	return d, nil
}
