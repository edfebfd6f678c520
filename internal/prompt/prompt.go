// Package prompt supplies the two action.Prompter implementations: a real
// terminal prompter for interactive use, and a line-protocol prompter a
// test harness drives over a pre-opened file descriptor (§6.4 of
// SPEC_FULL.md). The core (internal/action) takes its terminal input only
// through the action.Prompter interface and writes its status lines to
// standard output itself; raw-mode termios handling lives only here.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/term"
)

// editorCommand picks $VISUAL, then $EDITOR, then "vi".
func editorCommand() string {
	if v := os.Getenv("VISUAL"); v != "" {
		return v
	}
	if v := os.Getenv("EDITOR"); v != "" {
		return v
	}
	return "vi"
}

// pagerCommand picks $PAGER, then "less".
func pagerCommand() string {
	if v := os.Getenv("PAGER"); v != "" {
		return v
	}
	return "less"
}

// Terminal is the production Prompter: it reads single keystrokes from a
// raw terminal and shells out to the user's editor/pager.
type Terminal struct {
	In  *os.File
	Out *os.File
}

// NewTerminal builds a Terminal prompter over stdin/stdout.
func NewTerminal() *Terminal {
	return &Terminal{In: os.Stdin, Out: os.Stdout}
}

// Choose prints prompt, puts the terminal in raw mode, and reads a single
// byte. Pressing a key not in charbag prints help and re-prompts; a key in
// charbag, '?' included when charbag lists it, is returned to the caller
// (the action loop supplies its own '?' handling).
func (t *Terminal) Choose(prompt, charbag, help string) (byte, error) {
	fd := int(t.In.Fd())
	if !term.IsTerminal(fd) {
		return t.chooseLineMode(prompt, charbag)
	}
	for {
		fmt.Fprintf(t.Out, "%s [%s] ", prompt, charbag)
		old, err := term.MakeRaw(fd)
		if err != nil {
			return t.chooseLineMode(prompt, charbag)
		}
		var buf [1]byte
		_, rerr := t.In.Read(buf[:])
		term.Restore(fd, old)
		fmt.Fprintln(t.Out)
		if rerr != nil {
			return 0, errors.Wrap(rerr, "prompt: reading keystroke")
		}
		c := buf[0]
		if strings.IndexByte(charbag, c) >= 0 {
			return c, nil
		}
		fmt.Fprintln(t.Out, help)
	}
}

// chooseLineMode is the fallback when stdin isn't a terminal (piped input,
// tests run outside a pty): read a line and use its first byte.
func (t *Terminal) chooseLineMode(prompt, charbag string) (byte, error) {
	r := bufio.NewReader(t.In)
	for {
		fmt.Fprintf(t.Out, "%s [%s] ", prompt, charbag)
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			return 0, errors.Wrap(err, "prompt: reading line")
		}
		line = strings.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if strings.IndexByte(charbag, line[0]) >= 0 {
			return line[0], nil
		}
	}
}

// Edit invokes the editor on path, optionally placing the cursor on line
// (1-based) for editors that support a "+N" argument (vi/vim/emacs -nw do).
func (t *Terminal) Edit(path string, line *int) error {
	args := []string{}
	if line != nil {
		args = append(args, fmt.Sprintf("+%d", *line))
	}
	args = append(args, path)
	cmd := exec.Command(editorCommand(), args...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = t.In, t.Out, os.Stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrap(err, "prompt: running editor")
	}
	return nil
}

// View invokes the pager on path.
func (t *Terminal) View(path string) error {
	cmd := exec.Command(pagerCommand(), path)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = t.In, t.Out, os.Stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrap(err, "prompt: running pager")
	}
	return nil
}

// ReadLine reads one line of plain text, echoed normally.
func (t *Terminal) ReadLine(prompt string) (string, error) {
	fmt.Fprint(t.Out, prompt)
	r := bufio.NewReader(t.In)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", errors.Wrap(err, "prompt: reading line")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ReadPassword reads one line without echoing it to the terminal.
func (t *Terminal) ReadPassword(prompt string) (string, error) {
	fmt.Fprint(t.Out, prompt)
	fd := int(t.In.Fd())
	if !term.IsTerminal(fd) {
		return t.ReadLine("")
	}
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(t.Out)
	if err != nil {
		return "", errors.Wrap(err, "prompt: reading password")
	}
	return string(b), nil
}

// ControlChannel drives the §6.4 line protocol over a pre-opened
// reader/writer pair instead of a real terminal, so tests can script the
// action loop deterministically: CHOOSE/CHOSE, EDIT/EDITED, VIEW/VIEWED,
// READLINE/<text>.
type ControlChannel struct {
	r *bufio.Reader
	w io.Writer
}

// NewControlChannel wraps rw (typically a pre-opened fd shared with the
// test driver) as a Prompter.
func NewControlChannel(r io.Reader, w io.Writer) *ControlChannel {
	return &ControlChannel{r: bufio.NewReader(r), w: w}
}

func (c *ControlChannel) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", errors.Wrap(err, "prompt: control channel read")
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *ControlChannel) send(format string, args ...interface{}) error {
	_, err := fmt.Fprintf(c.w, format+"\n", args...)
	return err
}

func (c *ControlChannel) Choose(prompt, charbag, help string) (byte, error) {
	if err := c.send("CHOOSE %s", charbag); err != nil {
		return 0, err
	}
	line, err := c.readLine()
	if err != nil {
		return 0, err
	}
	rest, ok := strings.CutPrefix(line, "CHOSE ")
	if !ok || len(rest) == 0 {
		return 0, errors.Errorf("prompt: malformed CHOSE reply %q", line)
	}
	return rest[0], nil
}

func (c *ControlChannel) Edit(path string, line *int) error {
	if err := c.send("EDIT %s", path); err != nil {
		return err
	}
	reply, err := c.readLine()
	if err != nil {
		return err
	}
	if reply != "EDITED" {
		return errors.Errorf("prompt: expected EDITED, got %q", reply)
	}
	return nil
}

func (c *ControlChannel) View(path string) error {
	if err := c.send("VIEW %s", path); err != nil {
		return err
	}
	reply, err := c.readLine()
	if err != nil {
		return err
	}
	if reply != "VIEWED" {
		return errors.Errorf("prompt: expected VIEWED, got %q", reply)
	}
	return nil
}

func (c *ControlChannel) ReadLine(prompt string) (string, error) {
	if err := c.send("READLINE %s", prompt); err != nil {
		return "", err
	}
	return c.readLine()
}

func (c *ControlChannel) ReadPassword(prompt string) (string, error) {
	return c.ReadLine(prompt)
}
