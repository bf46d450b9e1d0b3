package hostexec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Confirmer asks the operator to approve a pending action before it runs.
type Confirmer interface {
	// Confirm shows the description and reports whether the operator
	// accepted it.
	Confirm(description string) (bool, error)
}

// TerminalConfirmer prompts for a yes or no answer on the terminal.
// Anything other than an explicit yes declines.
type TerminalConfirmer struct {
	In  io.Reader
	Out io.Writer

	reader *bufio.Reader
}

func NewTerminalConfirmer() *TerminalConfirmer {
	return &TerminalConfirmer{In: os.Stdin, Out: os.Stdout}
}

func (c *TerminalConfirmer) Confirm(description string) (bool, error) {
	if c.reader == nil {
		// One reader for the confirmer's lifetime: input buffered past
		// one prompt's line must stay available to the next prompt.
		c.reader = bufio.NewReader(c.In)
	}
	fmt.Fprintln(c.Out, description)
	fmt.Fprint(c.Out, "Proceed? [y/N] ")
	line, err := c.reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// AutoConfirmer accepts every action. It backs the --yes flag.
type AutoConfirmer struct{}

func (AutoConfirmer) Confirm(string) (bool, error) {
	return true, nil
}
