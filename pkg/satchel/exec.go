package satchel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/creack/pty"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// DefaultGracePeriod is how long a cancelled subprocess may take to exit before it is killed
const DefaultGracePeriod = 10 * time.Second

// Command is a subprocess invocation
type Command struct {
	Name string
	Args []string
	Dir  string
	// Env is added to the environment of the current process
	Env []string
	// Stdout and Stderr receive output while the process runs
	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader
	// TTY runs the process attached to a pseudo terminal. Output is then reported as stdout.
	TTY bool
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Result is the outcome of a finished subprocess
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// ExitError is returned when a subprocess exits with a non-zero code
type ExitError struct {
	Command  string
	ExitCode int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
}

// Runner executes subprocesses
type Runner interface {
	// Run executes the command and waits for it to finish. When ctx is cancelled the process is
	// interrupted and the context error is returned once it has exited.
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExecRunner runs commands on the host
type ExecRunner struct {
	GracePeriod time.Duration
}

// Run implements Runner
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	log.WithField("command", cmd.String()).WithField("dir", cmd.Dir).Debug("running")

	grace := r.GracePeriod
	if grace == 0 {
		grace = DefaultGracePeriod
	}

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	c.Cancel = func() error {
		if runtime.GOOS == "windows" {
			return c.Process.Kill()
		}
		return c.Process.Signal(os.Interrupt)
	}
	c.WaitDelay = grace

	var (
		res    Result
		stdout bytes.Buffer
		stderr bytes.Buffer
		err    error
	)
	if cmd.TTY && runtime.GOOS != "windows" {
		err = runTTY(c, cmd, &stdout)
	} else {
		c.Stdin = cmd.Stdin
		c.Stdout = teeWriter(&stdout, cmd.Stdout)
		c.Stderr = teeWriter(&stderr, cmd.Stderr)
		err = c.Run()
	}
	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()

	if ctx.Err() != nil {
		res.ExitCode = -1
		return &res, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return &res, &ExitError{Command: cmd.String(), ExitCode: res.ExitCode}
	}
	if err != nil {
		return &res, xerrors.Errorf("cannot run %s: %w", cmd.Name, err)
	}
	return &res, nil
}

func runTTY(c *exec.Cmd, cmd Command, out *bytes.Buffer) error {
	f, err := pty.Start(c)
	if err != nil {
		return err
	}
	defer f.Close()

	if cmd.Stdin != nil {
		go func() {
			_, _ = io.Copy(f, cmd.Stdin)
		}()
	}
	// reading from the pty fails with EIO once the process exits
	_, _ = io.Copy(teeWriter(out, cmd.Stdout), f)
	return c.Wait()
}

func teeWriter(buf *bytes.Buffer, sink io.Writer) io.Writer {
	if sink == nil {
		return buf
	}
	return io.MultiWriter(buf, sink)
}
