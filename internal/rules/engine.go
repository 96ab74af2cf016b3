package rules

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/smazurov/hald/internal/device"
)

// fdiSuffix is the file suffix filter applied when scanning a rule
// directory.
const fdiSuffix = ".fdi"

// Engine holds the loaded rule files for each of the three passes and
// applies them to devices at the pipeline's fixed invocation points.
type Engine struct {
	dirs   map[Pass][]string
	files  map[Pass][]*File
	logger *slog.Logger

	// OnPass, when set, observes each completed pass run and its duration.
	// The daemon points this at its latency histogram.
	OnPass func(pass Pass, elapsed time.Duration)
}

// New creates an Engine. dirs maps each pass to its ordered list of rule
// directories. Call Reload to
// (re)scan disk.
func New(dirs map[Pass][]string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{dirs: dirs, files: make(map[Pass][]*File), logger: logger}
}

// Reload rescans every configured directory for each pass, in lexical
// order within a directory and configured directory order across
// directories. A file that fails to parse is logged and
// skipped; other files still load.
func (e *Engine) Reload() {
	for pass, dirList := range e.dirs {
		var files []*File
		for _, dir := range dirList {
			entries, err := os.ReadDir(dir)
			if err != nil {
				e.logger.Warn("rule directory unreadable", "pass", pass, "dir", dir, "error", err)
				continue
			}
			var names []string
			for _, ent := range entries {
				if !ent.IsDir() && strings.HasSuffix(ent.Name(), fdiSuffix) {
					names = append(names, ent.Name())
				}
			}
			sort.Strings(names)
			for _, name := range names {
				path := filepath.Join(dir, name)
				f, err := ParseFile(path)
				if err != nil {
					e.logger.Warn("skipping malformed rule file", "path", path, "error", err)
					continue
				}
				files = append(files, f)
			}
		}
		e.files[pass] = files
	}
}

// RunPass evaluates every loaded rule file for pass against dev, in load
// order, committing each file's accumulated mutations atomically before
// moving to the next file. Property mutations from the
// engine never enqueue hotplug events; they fire ordinary property-changed
// hooks if dev already lives in the GDL (the device's own notifier handles
// that transparently).
func (e *Engine) RunPass(pass Pass, dev *device.Device) {
	start := time.Now()
	for _, f := range e.files[pass] {
		ops := evaluateFile(f, dev)
		applyMutations(dev, ops)
	}
	if e.OnPass != nil {
		e.OnPass(pass, time.Since(start))
	}
}

// evaluateFile walks a file's top-level nodes against dev's current
// (pre-mutation) state and returns the accumulated, as-yet-uncommitted
// mutations.
func evaluateFile(f *File, dev *device.Device) []mutation {
	var ops []mutation
	walk(dev, f.Nodes, &ops)
	return ops
}

func walk(dev *device.Device, nodes []*Node, ops *[]mutation) {
	for _, n := range nodes {
		switch n.Kind {
		case NodeAction:
			*ops = append(*ops, mutation{kind: n.ActionKind, key: n.Key, valueType: n.ValueType, value: n.Content})
		case NodeMatch:
			if evalMatch(dev, n) {
				walk(dev, n.Children, ops)
			}
		}
	}
}

func evalMatch(dev *device.Device, n *Node) bool {
	v, ok := dev.GetProperty(n.Key)
	switch n.Test {
	case TestExists:
		return ok
	case TestEquals:
		return ok && v.GoString() == n.Value
	case TestSubstring:
		return ok && strings.Contains(v.GoString(), n.Value)
	case TestPrefix:
		return ok && strings.HasPrefix(v.GoString(), n.Value)
	case TestSuffix:
		return ok && strings.HasSuffix(v.GoString(), n.Value)
	case TestBool:
		b, err := v.AsBool()
		want, perr := strconv.ParseBool(n.Value)
		return ok && err == nil && perr == nil && b == want
	case TestIntEquals:
		iv, err := asInt(v)
		want, perr := strconv.ParseInt(n.Value, 10, 64)
		return ok && err == nil && perr == nil && iv == want
	case TestIntInRange, TestIntOutOfRange:
		iv, err := asInt(v)
		if !ok || err != nil {
			return false
		}
		lo, hi, perr := parseRange(n.Value)
		if perr != nil {
			return false
		}
		inRange := iv >= lo && iv <= hi
		if n.Test == TestIntInRange {
			return inRange
		}
		return !inRange
	case TestContains:
		list, err := v.AsStrlist()
		if !ok || err != nil {
			return false
		}
		for _, item := range list {
			if item == n.Value {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func asInt(v device.Value) (int64, error) {
	switch v.Type() {
	case device.TypeInt64:
		return v.AsInt64()
	case device.TypeUint64:
		u, err := v.AsUint64()
		return int64(u), err
	default:
		return v.AsInt64()
	}
}

func parseRange(s string) (lo, hi int64, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, strconv.ErrSyntax
	}
	lo, err = strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return 0, 0, err
	}
	hi, err = strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	return lo, hi, err
}

// capabilitiesKey is the well-known strlist property that mirrors a
// device's capability set, the same convention real FDI rule files use to
// grant capabilities (merge/append "storage"/"volume"/... into
// info.capabilities).
const capabilitiesKey = "info.capabilities"

func applyMutations(dev *device.Device, ops []mutation) {
	for _, op := range ops {
		if op.key == capabilitiesKey {
			applyCapabilityMutation(dev, op)
			continue
		}
		switch op.kind {
		case ActionRemove:
			dev.RemoveProperty(op.key)
		case ActionMerge:
			dev.SetProperty(op.key, parseTypedValue(op.valueType, op.value))
		case ActionAppend:
			growStrlist(dev, op.key, op.value, true)
		case ActionPrepend:
			growStrlist(dev, op.key, op.value, false)
		}
	}
}

func applyCapabilityMutation(dev *device.Device, op mutation) {
	switch op.kind {
	case ActionRemove:
		dev.RemoveCapability(op.value)
	default:
		dev.AddCapability(op.value)
	}
}

func growStrlist(dev *device.Device, key, value string, toTail bool) {
	cur, _ := dev.GetStrlist(key)
	var next []string
	if toTail {
		next = make([]string, 0, len(cur)+1)
		next = append(next, cur...)
		next = append(next, value)
	} else {
		next = make([]string, 0, len(cur)+1)
		next = append(next, value)
		next = append(next, cur...)
	}
	dev.SetProperty(key, device.Strlist(next))
}

func parseTypedValue(valueType, raw string) device.Value {
	switch valueType {
	case "int", "int64":
		n, _ := strconv.ParseInt(raw, 10, 64)
		return device.Int64(n)
	case "uint", "uint64":
		n, _ := strconv.ParseUint(raw, 10, 64)
		return device.Uint64(n)
	case "double", "float":
		f, _ := strconv.ParseFloat(raw, 64)
		return device.Double(f)
	case "bool":
		b, _ := strconv.ParseBool(raw)
		return device.Bool(b)
	case "strlist":
		if raw == "" {
			return device.Strlist(nil)
		}
		return device.Strlist(strings.Split(raw, ","))
	default:
		return device.String(raw)
	}
}
