package rootbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// errTimedOut is returned by Executor.Run when Timeout elapsed before the command exited.
var errTimedOut = errors.New("command timed out")

// defaultWaitDelay bounds how long Run waits for output pipes held open by
// processes that outlived the command.
const defaultWaitDelay = 5 * time.Second

// Executor runs host commands in their own process group so that cancellation
// or a timeout kills every process the command spawned, not just the leader.
type Executor struct {
	Context context.Context // The context to use for cancellation
	Timeout time.Duration   // Zero means no limit
	// WaitDelay overrides defaultWaitDelay when positive.
	WaitDelay time.Duration
}

// NewExecutor returns an executor bound to ctx.
func NewExecutor(ctx context.Context, timeout time.Duration) *Executor {
	return &Executor{Context: ctx, Timeout: timeout}
}

// Run starts cmd and waits for it. Stdio left nil is wired to the parent's.
// A non-zero exit is returned as *exec.ExitError; a timeout as errTimedOut.
func (e *Executor) Run(cmd *exec.Cmd) error {
	// --- Phase 0: wire up stdio ---
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	ctx := e.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	// --- Phase 1: isolate process group for context-based cleanup ---
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = defaultWaitDelay
		if e.WaitDelay > 0 {
			cmd.WaitDelay = e.WaitDelay
		}
	}

	// --- Phase 2: start and watch for cancel ---
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start command: %w", err)
	}
	pgid := cmd.Process.Pid

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			syscall.Kill(-pgid, syscall.SIGKILL)
		case <-done:
		}
	}()

	// --- Phase 3: wait and return ---
	waitErr := cmd.Wait()
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		// The command itself exited 0; a leftover process kept its output open.
		logger.Warn("command exited but left processes holding its output", "cmd", cmd.Path)
		waitErr = nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && waitErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) && (e.Context == nil || e.Context.Err() == nil) {
			return errTimedOut
		}
		return fmt.Errorf("command aborted: %w", ctxErr)
	}
	return waitErr
}
