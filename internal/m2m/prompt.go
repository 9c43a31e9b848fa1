package m2m

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// TerminalPrompter reads answers line by line from In.
// When In is a terminal, secrets are read without echo.
type TerminalPrompter struct {
	In  io.Reader
	Out io.Writer

	once   sync.Once
	reader *bufio.Reader
}

// NewTerminalPrompter prompts on stderr and reads from stdin.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

// Prompt writes question and returns the next line of input.
func (p *TerminalPrompter) Prompt(question string) (string, error) {
	fmt.Fprint(p.Out, question)
	return p.readLine()
}

// PromptSecret is Prompt without echo when reading from a terminal.
func (p *TerminalPrompter) PromptSecret(question string) (string, error) {
	fmt.Fprint(p.Out, question)
	if f, ok := p.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		secret, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(p.Out)
		if err != nil {
			return "", err
		}
		return string(secret), nil
	}
	return p.readLine()
}

func (p *TerminalPrompter) readLine() (string, error) {
	p.once.Do(func() {
		p.reader = bufio.NewReader(p.In)
	})
	line, err := p.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
