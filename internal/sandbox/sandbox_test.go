package sandbox

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectrascout/trustcore/internal/monitoring"
	"github.com/spectrascout/trustcore/internal/types"
)

// stubIsolator scripts isolation behavior and tracks handle accounting.
type stubIsolator struct {
	provisionErr error
	runOutcome   Outcome
	runErr       error
	runStdout    string
	runStderr    string
	runDelay     time.Duration

	gotLimits types.ResourceLimits
	live      int64
	teardowns int64
}

func (s *stubIsolator) Probe(ctx context.Context) error { return nil }

func (s *stubIsolator) Provision(ctx context.Context, limits types.ResourceLimits) (Handle, error) {
	if s.provisionErr != nil {
		return nil, s.provisionErr
	}
	s.gotLimits = limits
	atomic.AddInt64(&s.live, 1)
	return &stubHandle{isolator: s}, nil
}

func (s *stubIsolator) Languages() []string { return []string{"python", "sh"} }

func (s *stubIsolator) LiveHandles() int64 { return atomic.LoadInt64(&s.live) }

type stubHandle struct {
	isolator *stubIsolator
	torn     int32
}

func (h *stubHandle) Run(ctx context.Context, spec RunSpec) (Outcome, error) {
	s := h.isolator

	if s.runDelay > 0 {
		select {
		case <-time.After(s.runDelay):
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		}
	}

	if s.runStdout != "" {
		_, _ = spec.Stdout.Write([]byte(s.runStdout))
	}
	if s.runStderr != "" {
		_, _ = spec.Stderr.Write([]byte(s.runStderr))
	}

	return s.runOutcome, s.runErr
}

func (h *stubHandle) Teardown() error {
	if atomic.CompareAndSwapInt32(&h.torn, 0, 1) {
		atomic.AddInt64(&h.isolator.live, -1)
		atomic.AddInt64(&h.isolator.teardowns, 1)
	}
	return nil
}

func newTestSandbox(iso *stubIsolator) *Sandbox {
	return New(iso, DefaultConfig(), monitoring.NewMetrics(), nil)
}

func runRequest(code string) types.ExecutionRequest {
	return types.ExecutionRequest{Code: code, Language: "python", Mode: types.ModeRun}
}

func TestExecuteSuccess(t *testing.T) {
	iso := &stubIsolator{runStdout: "hello\n"}
	sb := newTestSandbox(iso)

	result := sb.Execute(context.Background(), runRequest("print('hello')"))

	assert.Equal(t, types.StatusSucceeded, result.Status)
	assert.Equal(t, "hello\n", result.Stdout)
	assert.Equal(t, 0, result.ExitCode)
	assert.NotEmpty(t, result.ID)
	assert.False(t, result.StdoutTruncated)
	assert.Equal(t, int64(0), iso.LiveHandles())
}

func TestExecuteNonZeroExit(t *testing.T) {
	iso := &stubIsolator{runOutcome: Outcome{ExitCode: 3}, runStderr: "boom\n"}
	sb := newTestSandbox(iso)

	result := sb.Execute(context.Background(), runRequest("exit(3)"))

	assert.Equal(t, types.StatusFailed, result.Status)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "boom\n", result.Stderr)
}

func TestExecuteTimeout(t *testing.T) {
	iso := &stubIsolator{runDelay: 5 * time.Second}
	sb := New(iso, Config{
		DefaultLimits: types.ResourceLimits{CPUMillis: 1000, MemoryMB: 64, WallClockMS: 100},
		DebugLimits:   DefaultConfig().DebugLimits,
	}, monitoring.NewMetrics(), nil)

	start := time.Now()
	result := sb.Execute(context.Background(), runRequest("while True: pass"))

	assert.Equal(t, types.StatusTimedOut, result.Status)
	assert.Equal(t, -1, result.ExitCode)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int64(0), iso.LiveHandles())
}

func TestExecuteCPULimitExceeded(t *testing.T) {
	iso := &stubIsolator{runOutcome: Outcome{ExitCode: 137, CPUExceeded: true}}
	sb := newTestSandbox(iso)

	result := sb.Execute(context.Background(), runRequest("spin"))

	assert.Equal(t, types.StatusLimitExceeded, result.Status)
}

func TestExecuteMemoryLimitExceeded(t *testing.T) {
	iso := &stubIsolator{runOutcome: Outcome{ExitCode: 139, MemoryExceeded: true}}
	sb := newTestSandbox(iso)

	result := sb.Execute(context.Background(), runRequest("hog"))

	assert.Equal(t, types.StatusLimitExceeded, result.Status)
}

func TestExecuteAllocationFailureIsLimitExceeded(t *testing.T) {
	// The address-space rlimit rejects the allocation inside the runtime,
	// so the process exits nonzero with a tiny RSS and only its own error
	// output tells a memory ceiling from an ordinary failure.
	iso := &stubIsolator{
		runOutcome: Outcome{ExitCode: 1},
		runStderr:  "dd: memory exhausted by input buffer of size 209715200 bytes\n",
	}
	sb := newTestSandbox(iso)

	result := sb.Execute(context.Background(), runRequest("hog"))

	assert.Equal(t, types.StatusLimitExceeded, result.Status)
	assert.Equal(t, 1, result.ExitCode)
}

func TestOOMStderr(t *testing.T) {
	tests := []struct {
		stderr string
		want   bool
	}{
		{"dd: memory exhausted by input buffer", true},
		{"MemoryError", true},
		{"fork: Cannot allocate memory", true},
		{"terminate called after throwing an instance of 'std::bad_alloc'", true},
		{"mmap: ENOMEM", true},
		{"Traceback (most recent call last): ValueError", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, oomStderr(tt.stderr), tt.stderr)
	}
}

func TestExecuteProvisionFailure(t *testing.T) {
	iso := &stubIsolator{provisionErr: assert.AnError}
	sb := newTestSandbox(iso)

	result := sb.Execute(context.Background(), runRequest("print(1)"))

	assert.Equal(t, types.StatusSandboxError, result.Status)
	assert.Contains(t, result.Stderr, "sandbox provisioning failed")
	assert.Equal(t, -1, result.ExitCode)
	// Nothing was provisioned, so nothing leaks.
	assert.Equal(t, int64(0), iso.LiveHandles())
}

func TestExecuteCancellation(t *testing.T) {
	iso := &stubIsolator{runDelay: 5 * time.Second}
	sb := newTestSandbox(iso)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	result := sb.Execute(ctx, runRequest("sleep"))

	assert.Equal(t, types.StatusSandboxError, result.Status)
	assert.Contains(t, result.Stderr, "execution cancelled")
	assert.Equal(t, int64(1), atomic.LoadInt64(&iso.teardowns))
}

func TestExecuteTeardownOnEveryPath(t *testing.T) {
	tests := []struct {
		name string
		iso  *stubIsolator
	}{
		{name: "success", iso: &stubIsolator{}},
		{name: "failure", iso: &stubIsolator{runOutcome: Outcome{ExitCode: 1}}},
		{name: "run error", iso: &stubIsolator{runErr: assert.AnError}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := newTestSandbox(tt.iso)
			sb.Execute(context.Background(), runRequest("x"))

			assert.Equal(t, int64(0), tt.iso.LiveHandles())
			assert.Equal(t, int64(1), atomic.LoadInt64(&tt.iso.teardowns))
		})
	}
}

func TestExecuteDebugModeForcesDebugLimits(t *testing.T) {
	iso := &stubIsolator{}
	sb := newTestSandbox(iso)

	sb.Execute(context.Background(), types.ExecutionRequest{
		Code:     "print(1)",
		Language: "python",
		Mode:     types.ModeDebug,
		// Caller-supplied limits must not widen a debug run.
		Limits: types.ResourceLimits{CPUMillis: 60000, MemoryMB: 4096, WallClockMS: 600000, NetworkAllowed: true},
	})

	assert.Equal(t, DefaultConfig().DebugLimits, iso.gotLimits)
	assert.False(t, iso.gotLimits.NetworkAllowed)
}

func TestExecuteRunModeAppliesDefaultsToUnsetLimits(t *testing.T) {
	iso := &stubIsolator{}
	sb := newTestSandbox(iso)

	sb.Execute(context.Background(), types.ExecutionRequest{
		Code:     "print(1)",
		Language: "python",
		Mode:     types.ModeRun,
		Limits:   types.ResourceLimits{WallClockMS: 2000},
	})

	defaults := DefaultConfig().DefaultLimits
	assert.Equal(t, int64(2000), iso.gotLimits.WallClockMS)
	assert.Equal(t, defaults.CPUMillis, iso.gotLimits.CPUMillis)
	assert.Equal(t, defaults.MemoryMB, iso.gotLimits.MemoryMB)
}

func TestExecuteOutputTruncation(t *testing.T) {
	iso := &stubIsolator{runStdout: strings.Repeat("a", 2048)}
	cfg := DefaultConfig()
	cfg.MaxOutputBytes = 1024
	sb := New(iso, cfg, monitoring.NewMetrics(), nil)

	result := sb.Execute(context.Background(), runRequest("spam"))

	assert.Equal(t, types.StatusSucceeded, result.Status)
	assert.Len(t, result.Stdout, 1024)
	assert.True(t, result.StdoutTruncated)
	assert.False(t, result.StderrTruncated)
}

func TestLimitedBuffer(t *testing.T) {
	buf := newLimitedBuffer(10)

	n, err := buf.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.False(t, buf.Truncated())

	// Overflow is consumed but dropped.
	n, err = buf.Write([]byte("world!!!"))
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.True(t, buf.Truncated())
	assert.Equal(t, "helloworld", buf.String())
}
