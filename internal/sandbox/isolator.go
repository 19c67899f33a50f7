package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spectrascout/trustcore/internal/types"
)

// Isolator is the injected isolation primitive: it provisions constrained
// execution contexts and guarantees their teardown. Swapping the
// implementation (subprocess, container, VM) changes the deployment target,
// not the sandbox.
type Isolator interface {
	// Probe verifies the host can isolate at all. Called once at startup;
	// failure is fatal before any user code runs.
	Probe(ctx context.Context) error

	// Provision acquires one isolated context under the given limits.
	Provision(ctx context.Context, limits types.ResourceLimits) (Handle, error)

	// Languages lists the languages this isolator has runtimes for.
	Languages() []string

	// LiveHandles reports contexts provisioned but not yet torn down.
	LiveHandles() int64
}

// RunSpec is what a handle executes.
type RunSpec struct {
	Code     string
	Language string
	Stdout   io.Writer
	Stderr   io.Writer
}

// Outcome is the raw result of one run inside a handle.
type Outcome struct {
	ExitCode       int
	CPUExceeded    bool
	MemoryExceeded bool
}

// Handle is one live isolated context. Teardown is idempotent and must be
// called on every exit path.
type Handle interface {
	Run(ctx context.Context, spec RunSpec) (Outcome, error)
	Teardown() error
}

// RuntimeSpec maps a declared language to its interpreter.
type RuntimeSpec struct {
	Interpreter string // e.g. "python3"
	Extension   string // e.g. ".py"
}

// DefaultRuntimes covers the languages the platform executes out of the box.
func DefaultRuntimes() map[string]RuntimeSpec {
	return map[string]RuntimeSpec{
		"python": {Interpreter: "python3", Extension: ".py"},
		"sh":     {Interpreter: "/bin/sh", Extension: ".sh"},
	}
}

// ProcessIsolator isolates executions as resource-limited subprocesses:
// each run gets its own scratch directory, a sanitized environment, rlimits
// applied via the shell, its own process group, and (when the host supports
// it) a private network namespace.
type ProcessIsolator struct {
	workRoot    string
	runtimes    map[string]RuntimeSpec
	unsharePath string
	live        int64
}

// NewProcessIsolator creates a subprocess-based isolator rooted at workRoot.
func NewProcessIsolator(workRoot string, runtimes map[string]RuntimeSpec) *ProcessIsolator {
	if runtimes == nil {
		runtimes = DefaultRuntimes()
	}
	return &ProcessIsolator{
		workRoot: workRoot,
		runtimes: runtimes,
	}
}

// Probe implements Isolator.
func (p *ProcessIsolator) Probe(ctx context.Context) error {
	if _, err := exec.LookPath("sh"); err != nil {
		return fmt.Errorf("no shell available for sandboxed execution: %w", err)
	}

	if err := os.MkdirAll(p.workRoot, 0o755); err != nil {
		return fmt.Errorf("sandbox work root %s not writable: %w", p.workRoot, err)
	}

	// Network denial uses a private namespace when the host can actually
	// create one; otherwise runs are only environment-scrubbed. LookPath
	// alone is not enough: unprivileged hosts have unshare but cannot use it.
	if path, err := exec.LookPath("unshare"); err == nil {
		probe := exec.CommandContext(ctx, path, "-n", "--", "true")
		if err := probe.Run(); err == nil {
			p.unsharePath = path
		}
	}

	return ctx.Err()
}

// NetworkIsolation reports whether denied-network runs get a real namespace.
func (p *ProcessIsolator) NetworkIsolation() bool {
	return p.unsharePath != ""
}

// Languages implements Isolator.
func (p *ProcessIsolator) Languages() []string {
	langs := make([]string, 0, len(p.runtimes))
	for lang := range p.runtimes {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// LiveHandles implements Isolator.
func (p *ProcessIsolator) LiveHandles() int64 {
	return atomic.LoadInt64(&p.live)
}

// Provision implements Isolator.
func (p *ProcessIsolator) Provision(ctx context.Context, limits types.ResourceLimits) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(p.workRoot, "run-*")
	if err != nil {
		return nil, fmt.Errorf("provision scratch dir: %w", err)
	}

	atomic.AddInt64(&p.live, 1)
	return &processHandle{
		isolator: p,
		dir:      dir,
		limits:   limits,
	}, nil
}

type processHandle struct {
	isolator *ProcessIsolator
	dir      string
	limits   types.ResourceLimits
	teardown sync.Once
}

// Run implements Handle.
func (h *processHandle) Run(ctx context.Context, spec RunSpec) (Outcome, error) {
	runtime, ok := h.isolator.runtimes[strings.ToLower(spec.Language)]
	if !ok {
		return Outcome{}, fmt.Errorf("no runtime configured for language %q", spec.Language)
	}

	codePath := filepath.Join(h.dir, "main"+runtime.Extension)
	if err := os.WriteFile(codePath, []byte(spec.Code), 0o600); err != nil {
		return Outcome{}, fmt.Errorf("write code artifact: %w", err)
	}

	// rlimits are applied by the shell before exec so they bind the user
	// process itself, not a wrapper.
	var limitPrefix strings.Builder
	if h.limits.CPUMillis > 0 {
		cpuSec := (h.limits.CPUMillis + 999) / 1000
		fmt.Fprintf(&limitPrefix, "ulimit -t %d; ", cpuSec)
	}
	if h.limits.MemoryMB > 0 {
		fmt.Fprintf(&limitPrefix, "ulimit -v %d; ", h.limits.MemoryMB*1024)
	}

	shellCmd := fmt.Sprintf("%sexec %s %s", limitPrefix.String(), runtime.Interpreter, codePath)

	var argv []string
	if !h.limits.NetworkAllowed && h.isolator.unsharePath != "" {
		argv = []string{h.isolator.unsharePath, "-n", "--", "sh", "-c", shellCmd}
	} else {
		argv = []string{"sh", "-c", shellCmd}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = h.dir
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	// Sanitized environment: nothing from the host leaks in.
	cmd.Env = []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + h.dir,
		"TMPDIR=" + h.dir,
		"LANG=C.UTF-8",
	}
	// Own process group so the whole tree dies together.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return Outcome{}, fmt.Errorf("start sandboxed process: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		h.killGroup(cmd)
		<-done
		return Outcome{}, ctx.Err()

	case err := <-done:
		if err == nil {
			return Outcome{ExitCode: 0}, nil
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			outcome := Outcome{
				ExitCode:       exitErr.ExitCode(),
				MemoryExceeded: h.memoryExceeded(exitErr.ProcessState),
			}
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				// The CPU rlimit kills with SIGKILL or SIGXCPU.
				sig := status.Signal()
				if sig == syscall.SIGXCPU || (sig == syscall.SIGKILL && h.limits.CPUMillis > 0) {
					outcome.CPUExceeded = true
				}
				outcome.ExitCode = 128 + int(sig)
			}
			return outcome, nil
		}

		return Outcome{}, err
	}
}

// memoryExceeded reports whether the process grew to the memory ceiling
// before dying. Maxrss is in KiB on Linux. Allocation failures below the
// ceiling never reach this size; the sandbox classifies those from the
// runtime's own error output.
func (h *processHandle) memoryExceeded(state *os.ProcessState) bool {
	if h.limits.MemoryMB <= 0 || state == nil {
		return false
	}
	rusage, ok := state.SysUsage().(*syscall.Rusage)
	if !ok {
		return false
	}
	return rusage.Maxrss >= h.limits.MemoryMB*1024
}

// killGroup force-kills the handle's whole process group.
func (h *processHandle) killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		return
	}
	_ = cmd.Process.Kill()

	// Give the group a moment; Wait in the caller reaps it.
	time.Sleep(10 * time.Millisecond)
}

// Teardown implements Handle. Safe to call multiple times; resources are
// reclaimed exactly once.
func (h *processHandle) Teardown() error {
	var err error
	h.teardown.Do(func() {
		err = os.RemoveAll(h.dir)
		atomic.AddInt64(&h.isolator.live, -1)
	})
	return err
}
