package hotplug

import "strings"

// splitPath returns the '/'-separated components of a sysfs or pseudo-fs
// path, dropping empty components (so both "/a/b" and "a/b/" normalize the
// same way). The ancestry test is purely lexical.
func splitPath(p string) []string {
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// isAncestor reports whether prefix's components are a non-strict prefix of
// full's components: prefix == full counts, as does prefix being a genuine
// path-prefix of full.
func isAncestor(prefix, full string) bool {
	p, f := splitPath(prefix), splitPath(full)
	if len(p) > len(f) {
		return false
	}
	for i := range p {
		if p[i] != f[i] {
			return false
		}
	}
	return true
}

// pathsRelated reports whether a and b are the same path, or one is a
// path-prefix of the other (parent/child/self ancestry).
func pathsRelated(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return isAncestor(a, b) || isAncestor(b, a)
}

// dominates reports whether "other" dominates "e": other must be
// dispatched (and, for in-progress events, completed) before e may become
// releasable.
func dominates(other, e *Event) bool {
	// Firmware events do not dominate sysfs events and never dominate
	// each other.
	if other.Firmware || e.Firmware {
		return false
	}

	// Rule 1: ancestry on the current sysfs path.
	if pathsRelated(other.SysfsPath, e.SysfsPath) {
		return true
	}

	// Rule 2: a move's old-path matches the other event's path by the
	// same ancestry rule.
	if other.Action == ActionMove && pathsRelated(other.OldPath, e.SysfsPath) {
		return true
	}
	if e.Action == ActionMove && pathsRelated(other.SysfsPath, e.OldPath) {
		return true
	}

	// Rule 3: dm devices settle after their backing block devices. other
	// is known to be earlier (it precedes e in the queue, or is already
	// in-progress); only a non-dm block event holds a dm device back —
	// unrelated subsystems must not delay it.
	if e.IsDeviceMapper && other.Subsystem == "block" && !other.IsDeviceMapper {
		return true
	}

	return false
}
