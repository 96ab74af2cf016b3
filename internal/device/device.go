// Package device implements the Device & Property Model:
// a mutable aggregate with a UDI, typed properties, capability tags, a weak
// parent back-reference, and named locks.
package device

import (
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/smazurov/hald/internal/hal"
)

// udiCharset is the charset derived UDI fragments are validated against;
// invalid runes are replaced with '_'. The final-identity charset is
// narrower and enforced by internal/identity.
var udiCharset = regexp.MustCompile(`[^A-Za-z0-9_./-]`)

// SanitizeUDI replaces every rune outside [A-Za-z0-9_./-] with '_'.
func SanitizeUDI(s string) string {
	return udiCharset.ReplaceAllString(s, "_")
}

// HookKind identifies the kind of mutation a Device reports to its
// notifier: property-changed, capability-added, lock-acquired,
// lock-released.
type HookKind int

// Hook kinds.
const (
	HookPropertyChanged HookKind = iota
	HookCapabilityAdded
	HookLockAcquired
	HookLockReleased
)

// Hook describes a single mutation on a device, delivered to whatever
// notifier is currently attached (a Store forwards or swallows it depending
// on whether the device is in TDL or GDL).
type Hook struct {
	Kind       HookKind
	UDI        string
	Key        string // property key, for HookPropertyChanged
	Added      bool   // property newly created
	Removed    bool   // property deleted
	Capability string // for HookCapabilityAdded
	LockName   string // for HookLock{Acquired,Released}
	LockOwner  string
}

// Notifier receives hooks emitted by a Device's mutator methods.
type Notifier func(Hook)

// Lock is a named claim recorded against a device. The store does not
// enforce exclusivity on behalf of the caller; it only records
// and announces state.
type Lock struct {
	Owner string
}

// Device is a mutable aggregate keyed by UDI. It is read and written from
// several goroutines (the pipeline runs each dispatched event on its own
// goroutine, and HTTP query handlers read it), so every method takes the
// Device's mutex; a sequence of calls is not atomic as a whole.
type Device struct {
	mu sync.RWMutex

	udi        string
	properties map[string]Value
	// capOrder preserves insertion order for deterministic listing;
	// capSet is the membership index.
	capOrder []string
	capSet   map[string]struct{}
	parent   *string
	locks    map[string]Lock
	pending  int // outstanding addon/helper completions

	notifier Notifier
}

// New constructs an empty device with the given UDI. UDI may be reassigned
// later (identity computation runs after construction); call SetUDI.
func New(udi string) *Device {
	return &Device{
		udi:        udi,
		properties: make(map[string]Value),
		capSet:     make(map[string]struct{}),
		locks:      make(map[string]Lock),
	}
}

// UDI returns the device's current unique identifier.
func (d *Device) UDI() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.udi
}

// SetUDI reassigns the device's UDI. Used by identity computation and by
// the ignored-device sentinel path. Does not itself
// move the device between stores.
func (d *Device) SetUDI(udi string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.udi = udi
}

// SetNotifier attaches (or detaches, with nil) the hook sink. A Store calls
// this when a device enters or leaves it.
func (d *Device) SetNotifier(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifier = n
}

func (d *Device) emit(h Hook) {
	h.UDI = d.udi
	if d.notifier != nil {
		d.notifier(h)
	}
}

// GetProperty returns a copy of the property's value and whether it exists.
func (d *Device) GetProperty(key string) (Value, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.properties[key]
	return v, ok
}

// GetString is a typed convenience accessor returning hal.ErrWrongType on a
// type mismatch and hal.ErrNotFound if the key is absent.
func (d *Device) GetString(key string) (string, error) {
	v, ok := d.GetProperty(key)
	if !ok {
		return "", hal.ErrNotFound
	}
	return v.AsString()
}

// GetInt64 is a typed convenience accessor mirroring GetString.
func (d *Device) GetInt64(key string) (int64, error) {
	v, ok := d.GetProperty(key)
	if !ok {
		return 0, hal.ErrNotFound
	}
	return v.AsInt64()
}

// GetBool is a typed convenience accessor mirroring GetString.
func (d *Device) GetBool(key string) (bool, error) {
	v, ok := d.GetProperty(key)
	if !ok {
		return false, hal.ErrNotFound
	}
	return v.AsBool()
}

// GetStrlist is a typed convenience accessor mirroring GetString.
func (d *Device) GetStrlist(key string) ([]string, error) {
	v, ok := d.GetProperty(key)
	if !ok {
		return nil, hal.ErrNotFound
	}
	return v.AsStrlist()
}

// HasProperty reports whether key is set, regardless of type.
func (d *Device) HasProperty(key string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.properties[key]
	return ok
}

// SetProperty sets key to value. Setting a property to its
// current value is a no-op: no hook fires and Added/Removed stay false.
func (d *Device) SetProperty(key string, value Value) {
	d.mu.Lock()
	existing, existed := d.properties[key]
	if existed && existing.Equal(value) {
		d.mu.Unlock()
		return
	}
	d.properties[key] = value
	d.mu.Unlock()
	d.emit(Hook{Kind: HookPropertyChanged, Key: key, Added: !existed})
}

// RemoveProperty deletes key if present, firing a property-changed hook
// with Removed=true.
func (d *Device) RemoveProperty(key string) {
	d.mu.Lock()
	_, existed := d.properties[key]
	if !existed {
		d.mu.Unlock()
		return
	}
	delete(d.properties, key)
	d.mu.Unlock()
	d.emit(Hook{Kind: HookPropertyChanged, Key: key, Removed: true})
}

// Properties returns a snapshot copy of all properties.
func (d *Device) Properties() map[string]Value {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]Value, len(d.properties))
	for k, v := range d.properties {
		out[k] = v
	}
	return out
}

// PropertyKeysWithPrefix returns the (unsorted) keys whose dotted path
// starts with prefix, used by rule-engine prefix matches and
// MergeWithRewrite.
func (d *Device) PropertyKeysWithPrefix(prefix string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var keys []string
	for k := range d.properties {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

// AddCapability adds a capability tag. Idempotent: re-adding an existing
// capability does not re-fire the hook.
func (d *Device) AddCapability(cap string) {
	d.mu.Lock()
	if _, ok := d.capSet[cap]; ok {
		d.mu.Unlock()
		return
	}
	d.capSet[cap] = struct{}{}
	d.capOrder = append(d.capOrder, cap)
	d.mu.Unlock()
	d.emit(Hook{Kind: HookCapabilityAdded, Capability: cap})
}

// RemoveCapability removes a capability tag if present.
func (d *Device) RemoveCapability(cap string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.capSet[cap]; !ok {
		return
	}
	delete(d.capSet, cap)
	d.capOrder = slices.DeleteFunc(d.capOrder, func(c string) bool { return c == cap })
}

// HasCapability reports whether cap is present.
func (d *Device) HasCapability(cap string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.capSet[cap]
	return ok
}

// Capabilities returns the capability tags in insertion order.
func (d *Device) Capabilities() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.capOrder)
}

// ClearCapabilities removes every capability tag. Used by the preprobe
// ignore path, which strips category and capabilities.
func (d *Device) ClearCapabilities() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.capOrder = nil
	d.capSet = make(map[string]struct{})
}

// Parent returns the parent UDI, or "" with ok=false if this device has no
// parent (root devices).
func (d *Device) Parent() (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.parent == nil {
		return "", false
	}
	return *d.parent, true
}

// SetParent sets the parent UDI back-reference.
func (d *Device) SetParent(udi string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.parent = &udi
}

// AcquireLock records a named lock claim. Not exclusivity-checked: the
// store only advertises state.
func (d *Device) AcquireLock(name, owner string) {
	d.mu.Lock()
	d.locks[name] = Lock{Owner: owner}
	d.mu.Unlock()
	d.emit(Hook{Kind: HookLockAcquired, LockName: name, LockOwner: owner})
}

// ReleaseLock removes a named lock claim if held by owner.
func (d *Device) ReleaseLock(name, owner string) bool {
	d.mu.Lock()
	lk, ok := d.locks[name]
	if !ok || lk.Owner != owner {
		d.mu.Unlock()
		return false
	}
	delete(d.locks, name)
	d.mu.Unlock()
	d.emit(Hook{Kind: HookLockReleased, LockName: name, LockOwner: owner})
	return true
}

// Locks returns a snapshot of all locks currently held.
func (d *Device) Locks() map[string]Lock {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]Lock, len(d.locks))
	for k, v := range d.locks {
		out[k] = v
	}
	return out
}

// IncPending increments the outstanding addon/helper counter, returning the
// new value.
func (d *Device) IncPending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending++
	return d.pending
}

// DecPending decrements the outstanding addon/helper counter, returning the
// new value. Never goes below zero.
func (d *Device) DecPending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending > 0 {
		d.pending--
	}
	return d.pending
}

// Pending returns the current outstanding addon/helper count.
func (d *Device) Pending() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pending
}

// StrlistCursor is a stable position marker for resumable strlist
// iteration.
type StrlistCursor struct {
	pos int
}

// StrlistNext returns the next element of the strlist property at key,
// advancing cur. ok is false once the list is exhausted or key is not a
// strlist.
func (d *Device) StrlistNext(key string, cur *StrlistCursor) (string, bool) {
	v, ok := d.GetProperty(key)
	if !ok || v.Type() != TypeStrlist {
		return "", false
	}
	list, _ := v.AsStrlist()
	if cur.pos >= len(list) {
		return "", false
	}
	val := list[cur.pos]
	cur.pos++
	return val, true
}

// SnapshotCopy copies the value at key srcKey on src to key dstKey on dst,
// Reports false if src has no value at srcKey.
func SnapshotCopy(src, dst *Device, srcKey, dstKey string) bool {
	v, ok := src.GetProperty(srcKey)
	if !ok {
		return false
	}
	dst.SetProperty(dstKey, v)
	return true
}

// MergeWithRewrite copies every property on src whose key has prefix p1,
// rewriting the matched prefix to p2 on dst. Returns the
// number of properties copied.
func MergeWithRewrite(src, dst *Device, p1, p2 string) int {
	n := 0
	for _, key := range src.PropertyKeysWithPrefix(p1) {
		v, ok := src.GetProperty(key)
		if !ok {
			continue
		}
		dst.SetProperty(p2+strings.TrimPrefix(key, p1), v)
		n++
	}
	return n
}
