// Package rules implements the declarative FDI rule engine:
// three ordered passes (preprobe, information, policy), each loading a set
// of rule files from pass-specific directories in lexical order. A rule
// file is a tree of match predicates with leaf merge/append/prepend/remove
// actions; matches are read-only against the device's current state,
// actions accumulate into a mutation buffer committed atomically once the
// whole file has been evaluated.
package rules

import "fmt"

// Pass identifies one of the three fixed-order rule passes.
type Pass int

// The three passes, in their fixed pipeline order.
const (
	Preprobe Pass = iota
	Information
	Policy
)

func (p Pass) String() string {
	switch p {
	case Preprobe:
		return "preprobe"
	case Information:
		return "information"
	case Policy:
		return "policy"
	default:
		return "unknown"
	}
}

// Test is the kind of predicate a match node evaluates.
type Test string

// Supported match tests.
const (
	TestEquals        Test = "equals"
	TestSubstring      Test = "substring"
	TestPrefix         Test = "prefix"
	TestSuffix         Test = "suffix"
	TestIntEquals      Test = "int_equals"
	TestIntInRange     Test = "int_in_range"
	TestIntOutOfRange  Test = "int_out_of_range"
	TestBool           Test = "bool"
	TestExists         Test = "exists"
	TestContains       Test = "contains"
)

// ActionKind is the kind of mutation a leaf action node performs.
type ActionKind string

// Supported leaf actions.
const (
	ActionMerge   ActionKind = "merge"
	ActionAppend  ActionKind = "append"
	ActionPrepend ActionKind = "prepend"
	ActionRemove  ActionKind = "remove"
)

// NodeKind distinguishes a match predicate node from a leaf action node.
type NodeKind int

// Node kinds.
const (
	NodeMatch NodeKind = iota
	NodeAction
)

// Node is either a <match> predicate (with nested children, logical-AND)
// or a leaf action (<merge>/<append>/<prepend>/<remove>).
type Node struct {
	Kind NodeKind

	// Match fields.
	Key      string
	Test     Test
	Value    string
	Children []*Node

	// Action fields.
	ActionKind ActionKind
	ValueType  string
	Content    string
}

// File is a parsed rule file: its path (for diagnostics) and its top-level
// node list, evaluated top-down in document order.
type File struct {
	Path  string
	Nodes []*Node
}

// mutation is a single buffered property/capability write, accumulated
// while walking a File and committed atomically once the walk completes.
type mutation struct {
	kind      ActionKind
	key       string
	valueType string
	value     string
}

func (m mutation) String() string {
	return fmt.Sprintf("%s %s=%s (%s)", m.kind, m.key, m.value, m.valueType)
}
