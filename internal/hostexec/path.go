package hostexec

import (
	"context"
	"fmt"
	"strings"
)

// Path is a file or directory on the target host, reachable with the same
// privilege elevation and ssh routing as command execution.
type Path struct {
	runner Runner
	path   string
}

func NewPath(runner Runner, path string) Path {
	return Path{runner: runner, path: path}
}

func (p Path) String() string {
	return p.path
}

func (p Path) ReadText(ctx context.Context) (string, error) {
	res, err := p.runner.Run(ctx, Cmd{Argv: []string{"cat", p.path}, Sudo: true})
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", p.path, err)
	}
	return res.Stdout, nil
}

// WriteText replaces the file content. The write goes through tee so that
// elevation applies to the file, not the caller's redirection.
func (p Path) WriteText(ctx context.Context, content string) error {
	_, err := p.runner.Run(ctx, Cmd{Argv: []string{"tee", p.path}, Sudo: true, Stdin: content})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", p.path, err)
	}
	return nil
}

// IsDir reports whether the path exists and is a directory.
func (p Path) IsDir(ctx context.Context) (bool, error) {
	res, err := p.runner.Run(ctx, Cmd{Argv: []string{"test", "-d", p.path}, Sudo: true, OKCodes: []int{1}})
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", p.path, err)
	}
	return res.ExitCode == 0, nil
}

func (p Path) MkdirAll(ctx context.Context) error {
	if _, err := p.runner.Run(ctx, Cmd{Argv: []string{"mkdir", "-p", p.path}, Sudo: true}); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", p.path, err)
	}
	return nil
}

// Chmod applies symbolic mode expressions such as g+s or o-rwx.
func (p Path) Chmod(ctx context.Context, recursive bool, modes ...string) error {
	if len(modes) == 0 {
		return nil
	}
	argv := []string{"chmod"}
	if recursive {
		argv = append(argv, "-R")
	}
	argv = append(argv, strings.Join(modes, ","), p.path)
	if _, err := p.runner.Run(ctx, Cmd{Argv: argv, Sudo: true}); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", p.path, err)
	}
	return nil
}

// Chown sets the owner and group recursively. Either part may be empty to
// leave it alone.
func (p Path) Chown(ctx context.Context, owner, group string) error {
	spec := owner
	if group != "" {
		spec += ":" + group
	}
	if spec == "" {
		return nil
	}
	if _, err := p.runner.Run(ctx, Cmd{Argv: []string{"chown", "-R", spec, p.path}, Sudo: true}); err != nil {
		return fmt.Errorf("failed to chown %s: %w", p.path, err)
	}
	return nil
}
