package history

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"

	"github.com/phobologic/codecontext/internal/errors"
)

// Runner executes one git command in dir and returns its stdout. Errors are
// *errors.Error values with a command code. Implementations bound every call
// with their own timeout, independent of any caller.
type Runner interface {
	Run(dir string, args ...string) ([]byte, error)
}

// ExecRunner runs the git binary as a subprocess.
type ExecRunner struct {
	Binary  string
	Timeout time.Duration
	Log     logger.FieldLogger
}

// NewExecRunner resolves binary on PATH and returns a runner for it.
func NewExecRunner(binary string, timeout time.Duration, log logger.FieldLogger) (*ExecRunner, error) {
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, errors.Wrap(errors.CommandFailed, "git executable not found", err)
	}
	return &ExecRunner{Binary: path, Timeout: timeout, Log: log}, nil
}

// stderrError carries a command's stderr as the cause of an *errors.Error.
type stderrError struct {
	stderr string
}

func (e *stderrError) Error() string { return e.stderr }

// Run executes git with a fixed environment. The command is never handed to
// a shell; args are passed as a vector.
func (r *ExecRunner) Run(dir string, args ...string) ([]byte, error) {
	op := "git"
	if len(args) > 0 {
		op = "git " + args[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
	defer cancel()

	full := append([]string{"--no-pager", "-c", "core.quotePath=false"}, args...)
	cmd := exec.CommandContext(ctx, r.Binary, full...)
	cmd.Dir = dir
	cmd.Env = commandEnv()
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if r.Log != nil {
		r.Log.WithFields(logger.Fields{
			"op":       op,
			"duration": time.Since(start).String(),
			"bytes":    stdout.Len(),
		}).Debug("git command finished")
	}

	if ctx.Err() == context.DeadlineExceeded {
		return nil, errors.Newf(errors.CommandTimeout, "%s timed out after %s", op, r.Timeout)
	}
	if err == nil {
		return stdout.Bytes(), nil
	}

	var exitErr *exec.ExitError
	if !stderrors.As(err, &exitErr) {
		return nil, errors.Wrap(errors.CommandFailed, op+" could not be started", err)
	}
	cause := &stderrError{stderr: strings.TrimSpace(stderr.String())}
	if r.Log != nil {
		r.Log.WithField("op", op).WithField("stderr", cause.stderr).Debug("git command failed")
	}
	if stdout.Len() == 0 {
		return nil, errors.Wrap(errors.CommandFailed, op+" failed", cause).WithExitCode(exitErr.ExitCode())
	}
	return nil, errors.Wrap(errors.OutputParse, fmt.Sprintf("%s exited %d after partial output", op, exitErr.ExitCode()), cause)
}

// commandEnv is the minimal environment every git command runs with.
func commandEnv() []string {
	return []string{
		"PATH=" + os.Getenv("PATH"),
		"LC_ALL=C",
		"GIT_TERMINAL_PROMPT=0",
		"GIT_CONFIG_NOSYSTEM=1",
		"GIT_OPTIONAL_LOCKS=0",
		"GIT_PAGER=cat",
	}
}

// stderrOf returns the stderr text recorded for a failed command, or "".
func stderrOf(err error) string {
	var se *stderrError
	if stderrors.As(err, &se) {
		return se.stderr
	}
	return ""
}
