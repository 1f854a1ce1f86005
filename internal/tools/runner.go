package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Command is one external process invocation. Env entries are appended to the
// inherited environment; later entries win.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string

	// Optional live copies of the captured streams.
	Stdout io.Writer
	Stderr io.Writer
}

// Shell wraps an opaque script for `sh -c`. The script is never parsed here.
func Shell(script string) Command {
	return Command{Name: "sh", Args: []string{"-c", script}}
}

// String renders the command as a copy-pasteable shell line.
func (c Command) String() string {
	return joinCommand(c.Name, c.Args)
}

// Output is what a finished process left behind.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int32
}

// CommandRunner abstracts process execution so callers can be tested without
// spawning anything.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (Output, error)
}

// ExecRunner executes commands on the local host.
type ExecRunner struct{}

// Run executes cmd and returns its captured output. A non-zero exit is
// reported both in Output.ExitCode and as a non-nil error; a missing binary
// reports exit code 127.
func (r ExecRunner) Run(ctx context.Context, c Command) (Output, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = tee(&stdout, c.Stdout)
	cmd.Stderr = tee(&stderr, c.Stderr)

	err := cmd.Run()
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return out, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = int32(exitErr.ExitCode())
		return out, err
	}

	out.ExitCode = 1
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		out.ExitCode = 127
	}
	return out, err
}

func tee(capture *bytes.Buffer, extra io.Writer) io.Writer {
	if extra == nil {
		return capture
	}
	return io.MultiWriter(capture, extra)
}

// CommandError wraps a failed invocation with its exit code and stderr.
type CommandError struct {
	Command  string
	ExitCode int32
	Stdout   string
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s (exit %d): %s", e.Command, e.ExitCode, e.Stderr)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s (exit %d): %v", e.Command, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// RunChecked runs cmd and converts any failure, including a non-zero exit the
// runner did not report as an error, into a *CommandError.
func RunChecked(ctx context.Context, runner CommandRunner, cmd Command) (Output, error) {
	out, err := runner.Run(ctx, cmd)
	if err == nil && out.ExitCode == 0 {
		return out, nil
	}
	if err == nil {
		err = fmt.Errorf("exit status %d", out.ExitCode)
	}
	return out, &CommandError{
		Command:  cmd.String(),
		ExitCode: out.ExitCode,
		Stdout:   strings.TrimSpace(string(out.Stdout)),
		Stderr:   strings.TrimSpace(string(out.Stderr)),
		Err:      err,
	}
}

// PrependPath returns an env entry that puts dir in front of the inherited PATH.
func PrependPath(dir string) string {
	current := os.Getenv("PATH")
	if current == "" {
		return "PATH=" + dir
	}
	return "PATH=" + dir + string(os.PathListSeparator) + current
}

func joinCommand(cmd string, args []string) string {
	if len(args) == 0 {
		return shellEscape(cmd)
	}

	var builder strings.Builder
	builder.WriteString(shellEscape(cmd))
	for _, arg := range args {
		builder.WriteByte(' ')
		builder.WriteString(shellEscape(arg))
	}

	return builder.String()
}

func shellEscape(value string) string {
	if value == "" {
		return "''"
	}
	if strings.IndexFunc(value, needsQuote) < 0 {
		return value
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./=:,+@%", r)
}
