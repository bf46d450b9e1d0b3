package hostexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"

	"github.com/rs/zerolog"
)

// Cmd describes one command invocation on the target host.
type Cmd struct {
	// Argv is the command and its arguments, unquoted.
	Argv []string
	// Sudo elevates the command on the target host.
	Sudo bool
	// Stdin is fed to the command when non-empty.
	Stdin string
	// OKCodes lists exit codes besides zero that count as success.
	OKCodes []int
	// Hint is appended to the failure message to point at a likely cause.
	Hint string
}

// Result captures what a finished command produced.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExitError reports a command that exited with a code not listed as OK.
type ExitError struct {
	Argv   []string
	Result Result
	Hint   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", strings.Join(e.Argv, " "), e.Result.ExitCode)
	if stderr := strings.TrimSpace(e.Result.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	if e.Hint != "" {
		msg += ". " + e.Hint
	}
	return msg
}

// Runner executes commands on a target host.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) (Result, error)
	// Exists reports whether an executable is present on the target host.
	Exists(ctx context.Context, name string) bool
}

// System runs commands on the local machine, or on a remote one over ssh
// when Host is set.
type System struct {
	// Host is an ssh destination such as root@storage1. Empty means local.
	Host string
}

// NewSystem returns a runner for the given ssh destination. An empty host
// selects the local machine.
func NewSystem(host string) *System {
	return &System{Host: host}
}

func (s *System) Run(ctx context.Context, cmd Cmd) (Result, error) {
	argv := commandArgv(s.Host, cmd)
	zerolog.Ctx(ctx).Debug().Strs("argv", argv).Msg("running command")

	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return res, fmt.Errorf("failed to run %s: %w", argv[0], err)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	if res.ExitCode == 0 || slices.Contains(cmd.OKCodes, res.ExitCode) {
		return res, nil
	}
	return res, &ExitError{Argv: cmd.Argv, Result: res, Hint: cmd.Hint}
}

func (s *System) Exists(ctx context.Context, name string) bool {
	_, err := s.Run(ctx, Cmd{Argv: []string{"which", name}, Sudo: true})
	return err == nil
}

// commandArgv expands a Cmd into the argv actually executed locally,
// wrapping it with sudo and ssh as requested. ssh hands the command to the
// remote shell as a single string, so every argument gets quoted first.
func commandArgv(host string, cmd Cmd) []string {
	argv := cmd.Argv
	if cmd.Sudo {
		argv = append([]string{"sudo"}, argv...)
	}
	if host == "" {
		return argv
	}
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = shellQuote(arg)
	}
	return []string{"ssh", host, strings.Join(quoted, " ")}
}

const shellSafe = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789@%+=:,./-_"

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !strings.ContainsRune(shellSafe, r) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
