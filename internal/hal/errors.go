// Package hal defines the error kinds the pipeline distinguishes on.
// Callers use errors.Is / errors.As against these sentinels and
// kinds rather than matching on formatted strings.
package hal

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Wrap with fmt.Errorf("...: %w", ErrX) to add context
// while keeping errors.Is(err, ErrX) working.
var (
	// ErrNotFound is returned when a UDI or sysfs path is not known to any
	// store.
	ErrNotFound = errors.New("not found")

	// ErrNoParent is returned when a handler's add() cannot find an
	// ancestor device already present in the GDL.
	ErrNoParent = errors.New("no parent device")

	// ErrWrongType is returned by a typed property getter when the stored
	// value's type does not match the requested type.
	ErrWrongType = errors.New("wrong property type")

	// ErrHelperFailed is returned when a probe helper exits non-zero,
	// times out, or is killed. See HelperSubkind for the specific cause.
	ErrHelperFailed = errors.New("helper failed")

	// ErrProbeSkipped is returned when a handler declines to probe a
	// device (no prober configured for it).
	ErrProbeSkipped = errors.New("probe skipped")

	// ErrIgnored is returned when the preprobe rule pass merged
	// info.ignore=true into a device.
	ErrIgnored = errors.New("device ignored")

	// ErrDuplicate is returned when a freshly computed UDI already refers
	// to an equivalent, live device in the GDL.
	ErrDuplicate = errors.New("duplicate device")

	// ErrParseError is returned for a malformed uevent frame or rule file.
	ErrParseError = errors.New("parse error")

	// ErrIO wraps an underlying filesystem or socket I/O failure.
	ErrIO = errors.New("io error")
)

// HelperSubkind distinguishes the reason a probe helper invocation failed.
type HelperSubkind string

// Helper failure subkinds.
const (
	HelperExitNonzero   HelperSubkind = "exit-nonzero"
	HelperTimeout       HelperSubkind = "timeout"
	HelperKilled        HelperSubkind = "killed"
	HelperNotExecutable HelperSubkind = "not-executable"
)

// HelperFailedError carries the helper failure subkind alongside the
// sentinel ErrHelperFailed so callers can both errors.Is(err,
// ErrHelperFailed) and inspect Subkind for policy decisions.
type HelperFailedError struct {
	Subkind  HelperSubkind
	Helper   string
	ExitCode int
	Err      error
}

func (e *HelperFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("helper %q failed (%s, exit=%d): %v", e.Helper, e.Subkind, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("helper %q failed (%s, exit=%d)", e.Helper, e.Subkind, e.ExitCode)
}

func (e *HelperFailedError) Unwrap() error { return ErrHelperFailed }

// NewHelperFailed builds a HelperFailedError for the given subkind.
func NewHelperFailed(helper string, subkind HelperSubkind, exitCode int, cause error) error {
	return &HelperFailedError{Subkind: subkind, Helper: helper, ExitCode: exitCode, Err: cause}
}
