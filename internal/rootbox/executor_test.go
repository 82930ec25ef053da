package rootbox

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutorRunExitCode(t *testing.T) {
	var out bytes.Buffer
	cmd := exec.Command("/bin/sh", "-c", "echo hello; exit 3")
	cmd.Stdout = &out

	err := NewExecutor(context.Background(), 0).Run(cmd)

	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.ExitCode())
	assert.Equal(t, "hello\n", out.String())
}

func TestExecutorTimeout(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "sleep 10")

	start := time.Now()
	err := NewExecutor(context.Background(), 100*time.Millisecond).Run(cmd)

	assert.ErrorIs(t, err, errTimedOut)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecutorCancelKillsGroup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	// The child sleep would outlive a kill of the shell alone.
	cmd := exec.Command("/bin/sh", "-c", "sleep 10 & wait")
	start := time.Now()
	err := NewExecutor(ctx, 0).Run(cmd)

	require.Error(t, err)
	assert.NotErrorIs(t, err, errTimedOut)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecutorStartFailure(t *testing.T) {
	err := NewExecutor(context.Background(), 0).Run(exec.Command("/definitely/not/here"))
	assert.ErrorContains(t, err, "failed to start command")
}

func TestExecutorDoesNotWaitForLeftoverOutput(t *testing.T) {
	var out bytes.Buffer
	// The background sleep inherits stdout and keeps the pipe open after sh exits.
	cmd := exec.Command("/bin/sh", "-c", "sleep 5 & echo started")
	cmd.Stdout = &out

	exe := NewExecutor(context.Background(), 0)
	exe.WaitDelay = 200 * time.Millisecond
	start := time.Now()
	err := exe.Run(cmd)

	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, "started\n", out.String())
}
