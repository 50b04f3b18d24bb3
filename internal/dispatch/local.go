package dispatch

import (
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"

	"github.com/iksnae/claude-relay/internal"
	"golang.org/x/sys/unix"
)

// waitDelay bounds how long Wait keeps draining pipes held open by
// descendants after the group has been killed
const waitDelay = 2 * time.Second

// Local runs commands with the hub's own shell
type Local struct {
	// onStart observes the process group id, used by tests
	onStart func(pgid int)
}

// NewLocal creates a local executor
func NewLocal() *Local {
	return &Local{}
}

// Execute runs command via "sh -c" in its own process group. When ctx is
// done, or once the shell has exited, the whole group receives SIGKILL so
// no descendant outlives the call.
func (l *Local) Execute(ctx context.Context, opts Options, target internal.ServerEntry, command string) (*internal.DispatchResult, error) {
	stdout := newCappedBuffer(opts.outputLimit())
	stderr := newCappedBuffer(opts.outputLimit())

	cmd := exec.CommandContext(ctx, opts.shell(), "-c", command)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	cmd.WaitDelay = waitDelay

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &internal.DispatchError{Kind: internal.ErrUnreachableHost, Target: target.ID, ExitCode: -1, Err: err}
	}
	if l.onStart != nil {
		l.onStart(cmd.Process.Pid)
	}
	err := cmd.Wait()
	// Descendants left in the group never outlive the dispatch, whatever
	// the shell's exit status.
	sweepGroup(cmd.Process.Pid)

	result := &internal.DispatchResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.Truncated() || stderr.Truncated(),
		Duration:  time.Since(started),
	}

	// ErrWaitDelay alone means the shell exited cleanly but a background
	// descendant still held the output pipes.
	if err == nil || (errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success()) {
		return result, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		return result, &internal.DispatchError{Kind: internal.ErrTimedOut, Target: target.ID, ExitCode: -1, Result: result, Err: ctxErr}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, &internal.DispatchError{Kind: internal.ErrNonZeroExit, Target: target.ID, ExitCode: result.ExitCode, Result: result}
	}
	result.ExitCode = -1
	return result, &internal.DispatchError{Kind: internal.ErrUnreachableHost, Target: target.ID, ExitCode: -1, Result: result, Err: err}
}

// sweepGroup kills whatever is left in process group pgid
func sweepGroup(pgid int) {
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		internal.LogDebug("Kill process group %d: %v", pgid, err)
	}
}
