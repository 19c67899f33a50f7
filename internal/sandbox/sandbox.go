// Package sandbox runs untrusted code artifacts inside isolated,
// resource-bounded execution contexts. The sandbox, not the code, decides
// when execution ends: wall-clock, CPU, and memory ceilings are enforced
// preemptively and teardown is guaranteed on every exit path.
package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spectrascout/trustcore/internal/monitoring"
	"github.com/spectrascout/trustcore/internal/types"
)

// State is the lifecycle of one execution:
// Idle -> Provisioning -> Running -> terminal -> TornDown.
type State int32

const (
	StateIdle State = iota
	StateProvisioning
	StateRunning
	StateCompleted
	StateTimedOut
	StateLimitExceeded
	StateCrashed
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProvisioning:
		return "provisioning"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateLimitExceeded:
		return "limit_exceeded"
	case StateCrashed:
		return "crashed"
	case StateTornDown:
		return "torn_down"
	default:
		return "unknown"
	}
}

// terminalState maps a result status to its lifecycle state.
func terminalState(status types.ExecStatus) State {
	switch status {
	case types.StatusSucceeded:
		return StateCompleted
	case types.StatusTimedOut:
		return StateTimedOut
	case types.StatusLimitExceeded:
		return StateLimitExceeded
	default:
		return StateCrashed
	}
}

// Config holds sandbox defaults.
type Config struct {
	// DefaultLimits applies to run-mode requests that leave limits unset.
	DefaultLimits types.ResourceLimits

	// DebugLimits applies to debug-mode dry runs: short, offline, small.
	DebugLimits types.ResourceLimits

	// MaxOutputBytes bounds each captured stream. Overflow truncates.
	MaxOutputBytes int64
}

// DefaultConfig returns conservative platform defaults.
func DefaultConfig() Config {
	return Config{
		DefaultLimits: types.ResourceLimits{
			CPUMillis:      5000,
			MemoryMB:       256,
			WallClockMS:    10000,
			NetworkAllowed: false,
		},
		DebugLimits: types.ResourceLimits{
			CPUMillis:      2000,
			MemoryMB:       128,
			WallClockMS:    3000,
			NetworkAllowed: false,
		},
		MaxOutputBytes: 1 << 20, // 1 MiB per stream
	}
}

// Sandbox executes requests through an injected isolator.
type Sandbox struct {
	isolator Isolator
	cfg      Config
	metrics  *monitoring.Metrics
	logger   *monitoring.Logger
}

// New creates a sandbox over the given isolator.
func New(isolator Isolator, cfg Config, metrics *monitoring.Metrics, logger *monitoring.Logger) *Sandbox {
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 1 << 20
	}
	return &Sandbox{
		isolator: isolator,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
	}
}

// Languages lists the languages the underlying isolator can execute.
func (s *Sandbox) Languages() []string {
	return s.isolator.Languages()
}

// Execute runs one request to a terminal state and returns a structured
// result. It never returns an error: every failure mode, including the
// sandbox's own, is reported through the result's status.
func (s *Sandbox) Execute(ctx context.Context, req types.ExecutionRequest) types.ExecutionResult {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	limits := s.applyDefaults(req)

	start := time.Now()

	current := StateIdle
	step := func(to State) {
		slog.Debug("Sandbox state transition", "execution_id", req.ID, "from", current.String(), "to", to.String())
		current = to
	}
	step(StateProvisioning)

	handle, err := s.isolator.Provision(ctx, limits)
	if err != nil {
		// Provisioning failed: no user code ever ran.
		return s.finish(req, types.ExecutionResult{
			ID:       req.ID,
			Status:   types.StatusSandboxError,
			Stderr:   "sandbox provisioning failed: " + err.Error(),
			ExitCode: -1,
		}, start)
	}

	// Hard guarantee: the context is reclaimed before Execute returns, on
	// every path including panics in the isolator.
	defer func() {
		handle.Teardown()
		step(StateTornDown)
	}()
	step(StateRunning)

	runCtx := ctx
	var cancel context.CancelFunc
	if limits.WallClockMS > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(limits.WallClockMS)*time.Millisecond)
		defer cancel()
	}

	stdout := newLimitedBuffer(s.cfg.MaxOutputBytes)
	stderr := newLimitedBuffer(s.cfg.MaxOutputBytes)

	outcome, runErr := handle.Run(runCtx, RunSpec{
		Code:     req.Code,
		Language: req.Language,
		Stdout:   stdout,
		Stderr:   stderr,
	})

	result := types.ExecutionResult{
		ID:              req.ID,
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
		ExitCode:        outcome.ExitCode,
	}

	switch {
	case runErr != nil && errors.Is(runErr, context.DeadlineExceeded):
		result.Status = types.StatusTimedOut
		result.ExitCode = -1
	case runErr != nil && errors.Is(runErr, context.Canceled):
		// Cancelled externally; the context was still torn down as if the
		// run had finished.
		result.Status = types.StatusSandboxError
		result.Stderr = appendLine(result.Stderr, "execution cancelled")
		result.ExitCode = -1
	case runErr != nil:
		result.Status = types.StatusSandboxError
		result.Stderr = appendLine(result.Stderr, runErr.Error())
		result.ExitCode = -1
	case outcome.CPUExceeded, outcome.MemoryExceeded:
		result.Status = types.StatusLimitExceeded
	case limits.MemoryMB > 0 && outcome.ExitCode != 0 && oomStderr(result.Stderr):
		// The address-space rlimit surfaces as a failed allocation inside
		// the runtime, which exits nonzero without ever growing its RSS.
		result.Status = types.StatusLimitExceeded
	case outcome.ExitCode == 0:
		result.Status = types.StatusSucceeded
	default:
		result.Status = types.StatusFailed
	}

	step(terminalState(result.Status))
	return s.finish(req, result, start)
}

// applyDefaults fills unset limits from the mode's defaults.
func (s *Sandbox) applyDefaults(req types.ExecutionRequest) types.ResourceLimits {
	defaults := s.cfg.DefaultLimits
	if req.Mode == types.ModeDebug {
		// Debug runs are always offline and short, whatever the caller sent.
		return s.cfg.DebugLimits
	}

	limits := req.Limits
	if limits.CPUMillis <= 0 {
		limits.CPUMillis = defaults.CPUMillis
	}
	if limits.MemoryMB <= 0 {
		limits.MemoryMB = defaults.MemoryMB
	}
	if limits.WallClockMS <= 0 {
		limits.WallClockMS = defaults.WallClockMS
	}
	return limits
}

func (s *Sandbox) finish(req types.ExecutionRequest, result types.ExecutionResult, start time.Time) types.ExecutionResult {
	result.DurationMS = time.Since(start).Milliseconds()

	if s.metrics != nil {
		s.metrics.RecordExecution(string(result.Status))
	}
	if s.logger != nil {
		s.logger.ExecutionLogger(req.ID, req.Language, string(req.Mode), string(result.Status), result.ExitCode, time.Since(start))
	}
	return result
}

// oomIndicators are the allocation-failure markers the common runtimes
// emit when the address-space rlimit rejects a request.
var oomIndicators = []string{
	"memory exhausted",
	"memoryerror",
	"cannot allocate memory",
	"out of memory",
	"std::bad_alloc",
	"enomem",
}

func oomStderr(stderr string) bool {
	lowered := strings.ToLower(stderr)
	for _, marker := range oomIndicators {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

func appendLine(existing, line string) string {
	if existing == "" {
		return line
	}
	return existing + "\n" + line
}

// limitedBuffer captures a stream up to a byte cap. Overflow is consumed
// but dropped, leaving a truncation marker instead of unbounded growth.
type limitedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int64
	truncated bool
}

func newLimitedBuffer(max int64) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := b.max - int64(len(b.buf))
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}

	if int64(len(p)) > remaining {
		b.buf = append(b.buf, p[:remaining]...)
		b.truncated = true
		return len(p), nil
	}

	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func (b *limitedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
