package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/ledger/internal/ledger/schema"
	"golang.org/x/term"
)

// readPassword and isTerminal are test seams for the terminal.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

// GetSimpleText prints a prompt to w and reads a single line of input from
// reader. The trailing newline is trimmed. If EOF occurs after some input was
// read, the partial line is returned.
func GetSimpleText(reader *bufio.Reader, prompt string, w io.Writer) (string, error) {
	if _, err := fmt.Fprint(w, prompt); err != nil {
		return "", err
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// terminal prompts on the controlling terminal. Field prompts read from in;
// passphrases are read without echo from stdin.
type terminal struct {
	in     *bufio.Reader
	w      io.Writer
	stdin  int
	forced *bool
}

func newTerminal(in io.Reader, w io.Writer) *terminal {
	return &terminal{in: bufio.NewReader(in), w: w, stdin: int(os.Stdin.Fd())}
}

// Interactive reports whether stdin is a terminal.
func (t *terminal) Interactive() bool {
	if t.forced != nil {
		return *t.forced
	}
	return isTerminal(t.stdin)
}

// ReadPassphrase reads a passphrase without echo. A newline is printed after
// the read to keep the UI tidy.
func (t *terminal) ReadPassphrase(prompt string) ([]byte, error) {
	if _, err := fmt.Fprint(t.w, prompt); err != nil {
		return nil, err
	}
	pw, err := readPassword(t.stdin)
	fmt.Fprintln(t.w)
	if err != nil {
		return nil, err
	}
	return pw, nil
}

// Prompt asks for one field value. It is only used when Interactive.
func (t *terminal) Prompt(_ context.Context, f schema.FieldDef, label string) (string, error) {
	hint := string(f.Kind)
	if len(f.Values) > 0 {
		hint = strings.Join(f.Values, "|")
	}
	suffix := ""
	if !f.Required {
		suffix = ", optional"
	}
	return GetSimpleText(t.in, fmt.Sprintf("%s (%s%s): ", label, hint, suffix), t.w)
}
