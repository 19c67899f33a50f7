package sandbox

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectrascout/trustcore/internal/types"
)

func newTestIsolator(t *testing.T) *ProcessIsolator {
	t.Helper()

	iso := NewProcessIsolator(t.TempDir(), DefaultRuntimes())
	require.NoError(t, iso.Probe(context.Background()))
	return iso
}

func shellRun(t *testing.T, iso *ProcessIsolator, ctx context.Context, limits types.ResourceLimits, code string) (Outcome, string, string, error) {
	t.Helper()

	handle, err := iso.Provision(context.Background(), limits)
	require.NoError(t, err)
	defer handle.Teardown()

	var stdout, stderr bytes.Buffer
	outcome, runErr := handle.Run(ctx, RunSpec{
		Code:     code,
		Language: "sh",
		Stdout:   &stdout,
		Stderr:   &stderr,
	})
	return outcome, stdout.String(), stderr.String(), runErr
}

func TestProcessIsolatorRunSuccess(t *testing.T) {
	iso := newTestIsolator(t)

	outcome, stdout, _, err := shellRun(t, iso, context.Background(), types.ResourceLimits{}, "echo hello")

	require.NoError(t, err)
	assert.Equal(t, 0, outcome.ExitCode)
	assert.Equal(t, "hello\n", stdout)
}

func TestProcessIsolatorRunNonZeroExit(t *testing.T) {
	iso := newTestIsolator(t)

	outcome, _, stderr, err := shellRun(t, iso, context.Background(), types.ResourceLimits{}, "echo broken >&2; exit 7")

	require.NoError(t, err)
	assert.Equal(t, 7, outcome.ExitCode)
	assert.Equal(t, "broken\n", stderr)
}

func TestProcessIsolatorWallClockKill(t *testing.T) {
	iso := newTestIsolator(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, _, err := shellRun(t, iso, ctx, types.ResourceLimits{}, "sleep 30")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	// The whole process group dies with the deadline, not after sleep ends.
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestProcessIsolatorUnknownLanguage(t *testing.T) {
	iso := newTestIsolator(t)

	handle, err := iso.Provision(context.Background(), types.ResourceLimits{})
	require.NoError(t, err)
	defer handle.Teardown()

	var stdout, stderr bytes.Buffer
	_, err = handle.Run(context.Background(), RunSpec{
		Code:     "whatever",
		Language: "cobol",
		Stdout:   &stdout,
		Stderr:   &stderr,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no runtime configured")
}

func TestSandboxMemoryCeilingClassified(t *testing.T) {
	iso := newTestIsolator(t)
	sb := New(iso, DefaultConfig(), nil, nil)

	// One oversized allocation under a 32 MiB address-space ceiling. dd
	// fails the buffer malloc and exits 1 with its own diagnostic.
	result := sb.Execute(context.Background(), types.ExecutionRequest{
		Code:     "dd if=/dev/zero of=/dev/null bs=209715200 count=1",
		Language: "sh",
		Mode:     types.ModeRun,
		Limits:   types.ResourceLimits{MemoryMB: 32, CPUMillis: 5000, WallClockMS: 10000},
	})

	assert.Equal(t, types.StatusLimitExceeded, result.Status)
	assert.NotEqual(t, 0, result.ExitCode)
}

func TestProcessIsolatorHandleAccounting(t *testing.T) {
	iso := newTestIsolator(t)
	require.Equal(t, int64(0), iso.LiveHandles())

	first, err := iso.Provision(context.Background(), types.ResourceLimits{})
	require.NoError(t, err)
	second, err := iso.Provision(context.Background(), types.ResourceLimits{})
	require.NoError(t, err)

	assert.Equal(t, int64(2), iso.LiveHandles())

	require.NoError(t, first.Teardown())
	// Teardown is idempotent: a second call must not double-decrement.
	require.NoError(t, first.Teardown())
	assert.Equal(t, int64(1), iso.LiveHandles())

	require.NoError(t, second.Teardown())
	assert.Equal(t, int64(0), iso.LiveHandles())
}

func TestProcessIsolatorProbeRejectsCancelledContext(t *testing.T) {
	iso := NewProcessIsolator(t.TempDir(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, iso.Probe(ctx))
}

func TestSandboxWithProcessIsolator(t *testing.T) {
	iso := newTestIsolator(t)
	sb := New(iso, DefaultConfig(), nil, nil)

	result := sb.Execute(context.Background(), types.ExecutionRequest{
		Code:     "echo end-to-end",
		Language: "sh",
		Mode:     types.ModeRun,
	})

	assert.Equal(t, types.StatusSucceeded, result.Status)
	assert.Equal(t, "end-to-end\n", result.Stdout)
	assert.Equal(t, int64(0), iso.LiveHandles())
}
