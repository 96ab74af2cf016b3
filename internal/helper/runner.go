// Package helper implements the probe helper runner: spawning,
// supervising, timing out, and collecting the exit status of the external
// probe processes the rule engine and subsystem handlers invoke to read
// device state the daemon cannot safely read itself.
//
// Built on internal/process's supervised-subprocess idiom (Process,
// graceful-then-force-kill shutdown, output streaming), adapted from
// long-lived managed services to one-shot, per-device probe invocations:
// RunOnce sits next to the long-running Run/Pool pair rather than
// replacing it (callout.go's addon supervision still uses process.Pool
// directly, since addons are persistent processes).
package helper

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/smazurov/hald/internal/hal"
)

// ExitType classifies how a helper invocation ended.
type ExitType string

// Helper completion exit types.
const (
	ExitNormal  ExitType = "normal"
	ExitTimeout ExitType = "timeout"
	ExitKilled  ExitType = "killed"
	ExitCrashed ExitType = "crashed"
)

// Conditional success exit code recognised only for block-storage
// non-partition probes: a filesystem was found directly on the main
// block device.
const ExitCodeFSOnMainBlockDevice = 2

// Spec describes one helper invocation.
type Spec struct {
	UDI     string            // device the helper probes; used for cancellation grouping
	Helper  string            // argv[0]
	Args    []string          // remaining argv
	Env     map[string]string // extra env vars layered over the daemon's own (HALD_ACTION, UDI, ...)
	Timeout time.Duration     // zero uses the Supervisor default
}

// Result is delivered once a helper invocation completes: the three-way
// completion (stdout EOF, exit, timeout) collapsed into a single value,
// since RunOnce blocks the calling goroutine until all three resolve.
type Result struct {
	ExitType ExitType
	ExitCode int
	Stderr   []string
}

// Succeeded reports whether the probe should be treated as successful:
// exit 0, or exit 2 when allowExitCode2 (block-storage
// non-partition probes only).
func (r *Result) Succeeded(allowExitCode2 bool) bool {
	if r.ExitType != ExitNormal {
		return false
	}
	if r.ExitCode == 0 {
		return true
	}
	return allowExitCode2 && r.ExitCode == ExitCodeFSOnMainBlockDevice
}

// Supervisor spawns probe helpers and tracks outstanding invocations per
// device so that device removal can cancel them.
type Supervisor struct {
	defaultTimeout time.Duration
	logger         *slog.Logger

	mu        sync.Mutex
	cancels   map[string][]*cancelHandle // udi -> outstanding cancel funcs
	onStarted func()

	// OnFailure, when set, observes each failed invocation's subkind
	// (timeout, killed, exit-nonzero, not-executable). The daemon points
	// this at its failure counter.
	OnFailure func(subkind hal.HelperSubkind)
}

// cancelHandle pairs a cancel func with its own identity so Supervisor can
// remove exactly one tracked entry by pointer equality, independent of
// context.CancelFunc (which is not comparable).
type cancelHandle struct {
	cancel context.CancelFunc
}

// NewSupervisor creates a Supervisor. defaultTimeout applies when a Spec
// carries none (~10s); onStarted is invoked synchronously on every spawn
// so the caller can re-drive its hotplug queue — new events may have
// arrived since dispatch.
func NewSupervisor(defaultTimeout time.Duration, logger *slog.Logger, onStarted func()) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 10 * time.Second
	}
	return &Supervisor{
		defaultTimeout: defaultTimeout,
		logger:         logger,
		cancels:        make(map[string][]*cancelHandle),
		onStarted:      onStarted,
	}
}

// RunOnce spawns spec.Helper, waits for it to complete or time out, and
// returns the Result. It blocks the calling goroutine — the event loop
// itself is never blocked, because each in-progress hotplug event runs its
// pipeline on its own goroutine (see internal/handlers.Pipeline); this is
// a dispatch-returns-a-handle design realized with goroutines instead of
// a hand-rolled completion-handle select loop.
func (s *Supervisor) RunOnce(ctx context.Context, spec Spec) (*Result, error) {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	handle := &cancelHandle{cancel: cancel}
	s.track(spec.UDI, handle)
	defer func() {
		s.untrack(spec.UDI, handle)
		cancel()
	}()

	cmd := exec.CommandContext(runCtx, spec.Helper, spec.Args...)
	cmd.Env = buildEnv(spec)

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, s.fail(spec.Helper, hal.HelperNotExecutable, -1, err)
	}

	if startErr := cmd.Start(); startErr != nil {
		if errors.Is(startErr, exec.ErrNotFound) {
			return nil, s.fail(spec.Helper, hal.HelperNotExecutable, -1, startErr)
		}
		return nil, s.fail(spec.Helper, hal.HelperNotExecutable, -1, startErr)
	}

	if s.onStarted != nil {
		s.onStarted()
	}

	var stderrLines []string
	var stderrMu sync.Mutex
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderrPipe)
		for scanner.Scan() {
			stderrMu.Lock()
			stderrLines = append(stderrLines, scanner.Text())
			stderrMu.Unlock()
		}
	}()

	waitErr := cmd.Wait()
	<-stderrDone

	result := &Result{Stderr: stderrLines}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		result.ExitType = ExitTimeout
		result.ExitCode = -1
		s.logger.Warn("probe helper timed out", "helper", spec.Helper, "udi", spec.UDI, "timeout", timeout)
		return result, s.fail(spec.Helper, hal.HelperTimeout, -1, waitErr)
	case errors.Is(runCtx.Err(), context.Canceled):
		result.ExitType = ExitKilled
		result.ExitCode = -1
		return result, s.fail(spec.Helper, hal.HelperKilled, -1, waitErr)
	case waitErr == nil:
		result.ExitType = ExitNormal
		result.ExitCode = 0
		return result, nil
	default:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			// Only exit 0 is unconditional success. Exit 2 is reported as a
			// failure like any other non-zero code; whether it counts as
			// conditional success is the caller's call, via
			// Result.Succeeded, since only the pipeline knows whether the
			// probed device is a whole-disk block device.
			result.ExitType = ExitNormal
			result.ExitCode = exitErr.ExitCode()
			return result, s.fail(spec.Helper, hal.HelperExitNonzero, result.ExitCode, waitErr)
		}
		result.ExitType = ExitCrashed
		result.ExitCode = -1
		return result, s.fail(spec.Helper, hal.HelperExitNonzero, -1, waitErr)
	}
}

// fail reports a failed invocation to the OnFailure observer and builds
// the error callers propagate.
func (s *Supervisor) fail(helper string, subkind hal.HelperSubkind, exitCode int, cause error) error {
	if s.OnFailure != nil {
		s.OnFailure(subkind)
	}
	return hal.NewHelperFailed(helper, subkind, exitCode, cause)
}

// CancelForDevice cancels every outstanding helper invocation targeting
// udi. Their RunOnce calls return with ExitType=killed.
func (s *Supervisor) CancelForDevice(udi string) {
	s.mu.Lock()
	handles := s.cancels[udi]
	delete(s.cancels, udi)
	s.mu.Unlock()
	for _, h := range handles {
		h.cancel()
	}
}

func (s *Supervisor) track(udi string, h *cancelHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[udi] = append(s.cancels[udi], h)
}

func (s *Supervisor) untrack(udi string, h *cancelHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.cancels[udi]
	for i, entry := range list {
		if entry == h {
			s.cancels[udi] = append(list[:i:i], list[i+1:]...)
			if len(s.cancels[udi]) == 0 {
				delete(s.cancels, udi)
			}
			return
		}
	}
}

func buildEnv(spec Spec) []string {
	env := []string{"UDI=" + spec.UDI, "HALD_ACTION=probe"}
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	return env
}

// DrainStderr is a small helper exposed for tests constructing a Result by
// hand from a captured io.Reader instead of a live process.
func DrainStderr(r io.Reader) []string {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}
