package rules

import (
	"encoding/xml"
	"fmt"
	"os"

	"github.com/smazurov/hald/internal/hal"
)

// xmlNode mirrors the on-disk FDI shape. It is recursive: a <match> can
// contain further <match> children (logical-AND) and/or leaf action
// children (merge/append/prepend/remove). The document root is a single
// top-level element (conventionally <deviceinfo>) wrapping one or more
// top-level match/action nodes.
type xmlNode struct {
	XMLName  xml.Name
	Key      string    `xml:"key,attr"`
	Test     string    `xml:"test,attr"`
	Value    string    `xml:"value,attr"`
	Type     string    `xml:"type,attr"`
	Content  string    `xml:",chardata"`
	Children []xmlNode `xml:",any"`
}

// actionTagNames classifies an xmlNode as a leaf action by its element name.
var actionTagNames = map[string]ActionKind{
	"merge":   ActionMerge,
	"append":  ActionAppend,
	"prepend": ActionPrepend,
	"remove":  ActionRemove,
}

// ParseFile loads and parses a single .fdi rule file. A malformed file
// returns hal.ErrParseError wrapped with the underlying cause; the
// caller is expected to skip this file and continue with others.
func ParseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", hal.ErrIO, err)
	}

	var root xmlNode
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", hal.ErrParseError, path, err)
	}

	nodes := make([]*Node, 0, len(root.Children))
	for _, child := range root.Children {
		n, err := convert(child)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", hal.ErrParseError, path, err)
		}
		if n != nil {
			nodes = append(nodes, n)
		}
	}
	return &File{Path: path, Nodes: nodes}, nil
}

func convert(x xmlNode) (*Node, error) {
	if kind, ok := actionTagNames[x.XMLName.Local]; ok {
		return &Node{
			Kind:       NodeAction,
			ActionKind: kind,
			Key:        x.Key,
			ValueType:  defaultString(x.Type, "string"),
			Content:    trimContent(x.Content),
		}, nil
	}
	if x.XMLName.Local == "match" {
		n := &Node{
			Kind:  NodeMatch,
			Key:   x.Key,
			Test:  Test(defaultString(x.Test, string(TestExists))),
			Value: x.Value,
		}
		for _, child := range x.Children {
			childNode, err := convert(child)
			if err != nil {
				return nil, err
			}
			if childNode != nil {
				n.Children = append(n.Children, childNode)
			}
		}
		return n, nil
	}
	// Unknown element (e.g. a <comment> or schema decoration): ignore
	// rather than fail the whole file.
	return nil, nil
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func trimContent(s string) string {
	// Rule authors commonly indent chardata; trim surrounding whitespace
	// but preserve internal spaces (e.g. a label with embedded spaces).
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
