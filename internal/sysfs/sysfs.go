// Package sysfs provides small helpers for reading attribute files under a
// sysfs-shaped tree. Root is configurable so the coldplug walker and
// subsystem handlers can be exercised against a t.TempDir() fixture instead
// of the real /sys.
package sysfs

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Tree pins a root directory standing in for "/sys" (or "/proc" for the
// firmware backends). Production wiring uses "/sys"; tests use t.TempDir().
type Tree struct {
	Root string
}

// New returns a Tree rooted at root.
func New(root string) Tree { return Tree{Root: root} }

// Abs joins the tree root with a sysfs-relative path.
func (t Tree) Abs(path string) string {
	return filepath.Join(t.Root, path)
}

// ReadAttr reads a single-line sysfs attribute file, trimming the trailing
// newline kernel attribute files always carry. ok is false if the file does
// not exist or cannot be read.
func (t Tree) ReadAttr(path string) (string, bool) {
	data, err := os.ReadFile(t.Abs(path))
	if err != nil {
		return "", false
	}
	return strings.TrimRight(string(data), "\n"), true
}

// ReadAttrAt is ReadAttr joined from an already-absolute device directory
// and an attribute file name, the common call shape in handlers.
func (t Tree) ReadAttrAt(dir, attr string) (string, bool) {
	return t.ReadAttr(filepath.Join(dir, attr))
}

// ReadHexUint reads a hexadecimal attribute, with or without a "0x" prefix,
// as a uint32, the shape PCI/USB vendor and product IDs are stored in.
// The digits are always parsed as base 16, never as decimal.
func (t Tree) ReadHexUint(path string) (uint32, bool) {
	s, ok := t.ReadAttr(path)
	if !ok {
		return 0, false
	}
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// Exists reports whether path exists under the tree root.
func (t Tree) Exists(path string) bool {
	_, err := os.Lstat(t.Abs(path))
	return err == nil
}

// IsDir reports whether path exists and is a directory, following
// symlinks.
func (t Tree) IsDir(path string) bool {
	fi, err := os.Stat(t.Abs(path))
	return err == nil && fi.IsDir()
}

// IsRealDir reports whether path is a literal directory entry rather than
// a symlink (even one that happens to point at a directory). The coldplug
// walker uses this instead of IsDir to recurse into a
// device's actual children without following "subsystem"/"driver"/
// "firmware_node" symlinks back out of the /sys/devices tree.
func (t Tree) IsRealDir(path string) bool {
	fi, err := os.Lstat(t.Abs(path))
	return err == nil && fi.IsDir()
}

// ReadLink resolves a symlink under the tree root and returns the target's
// absolute path within the tree (not the raw, possibly-relative link
// text), used for the coldplug class->device resolution.
func (t Tree) ReadLink(path string) (string, bool) {
	target, err := os.Readlink(t.Abs(path))
	if err != nil {
		return "", false
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(t.Abs(path)), target)
	}
	resolved, err := filepath.Abs(target)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(t.Root, resolved)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return "/" + rel, true
}

// ReadDirNames lists the entry names of a directory under the tree root, or
// nil if it does not exist.
func (t Tree) ReadDirNames(path string) []string {
	entries, err := os.ReadDir(t.Abs(path))
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// BaseName returns the final component of a sysfs path.
func BaseName(path string) string {
	return filepath.Base(path)
}
