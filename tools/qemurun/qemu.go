package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// The exit codes written by the kernel to the isa-debug-exit device and the
// resulting QEMU exit statuses ((code << 1) | 1).
const (
	exitCodeSuccess = 0x10
	exitCodeFailure = 0x11

	statusSuccess = exitCodeSuccess<<1 | 1
	statusFailure = exitCodeFailure<<1 | 1
)

// errTimeout is returned when the guest does not exit before the deadline.
var errTimeout = errors.New("timed out waiting for QEMU to exit")

// guestOutcome classifies the QEMU exit status.
type guestOutcome int

const (
	outcomeUnknown guestOutcome = iota
	outcomeSuccess
	outcomeFailure
)

func (o guestOutcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// outcomeFor maps a QEMU exit status back to the code written by the kernel.
func outcomeFor(status int) guestOutcome {
	switch status {
	case statusSuccess:
		return outcomeSuccess
	case statusFailure:
		return outcomeFailure
	default:
		return outcomeUnknown
	}
}

// qemuArgs returns the QEMU command line that boots image with the serial
// port attached to stdio and the exit device enabled.
func qemuArgs(c *config, image string) []string {
	args := []string{
		"-cdrom", image,
		"-m", c.Memory,
		"-serial", "stdio",
		"-display", "none",
		"-no-reboot",
		"-device", "isa-debug-exit,iobase=0xf4,iosize=0x04",
	}
	return append(args, c.ExtraArgs...)
}

// runner starts QEMU and collects its serial output.
type runner struct {
	conf *config

	// command builds the process to run; tests replace it.
	command func(name string, args ...string) *exec.Cmd
}

func newRunner(c *config) *runner {
	return &runner{conf: c, command: exec.Command}
}

// run boots image and copies the guest serial output to out until QEMU exits.
// It returns the QEMU exit status. If timeout is non-zero and elapses first,
// the QEMU process group is killed and errTimeout is returned.
func (r *runner) run(ctx context.Context, image string, timeout time.Duration, out io.Writer) (int, error) {
	cmd := r.command(r.conf.QEMU, qemuArgs(r.conf, image)...)
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("attaching to QEMU stdout: %w", err)
	}

	logrus.WithField("args", cmd.Args).Debug("starting QEMU")
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting QEMU: %w", err)
	}
	pid := cmd.Process.Pid

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		waitErr error
		exited  = make(chan struct{})
	)
	g, gctx := errgroup.WithContext(ctx)

	// Serial output pump. The pipe reaches EOF once QEMU exits; the process
	// is reaped only after all output has been read.
	g.Go(func() error {
		defer close(exited)
		_, copyErr := io.Copy(out, stdout)
		waitErr = cmd.Wait()
		if copyErr != nil {
			return fmt.Errorf("reading serial output: %w", copyErr)
		}
		return nil
	})

	// Watchdog. Kill the whole process group so helpers spawned by QEMU
	// do not outlive it.
	g.Go(func() error {
		select {
		case <-exited:
			return nil
		case <-gctx.Done():
			logrus.WithField("pid", pid).Warn("killing QEMU process group")
			if err := unix.Kill(-pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
				return fmt.Errorf("killing QEMU: %w", err)
			}
			return nil
		}
	})

	if err := g.Wait(); err != nil {
		return 0, err
	}
	switch err := ctx.Err(); {
	case errors.Is(err, context.DeadlineExceeded):
		return 0, errTimeout
	case err != nil:
		return 0, err
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		return 0, nil
	case errors.As(waitErr, &exitErr):
		return exitErr.ExitCode(), nil
	default:
		return 0, fmt.Errorf("waiting for QEMU: %w", waitErr)
	}
}
