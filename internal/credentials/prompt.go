package credentials

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// ErrPromptCancelled indicates the user declined a prompt.
var ErrPromptCancelled = errors.New("prompt cancelled")

// AuthChoice is the method picked when no credential was found.
type AuthChoice int

const (
	AuthChoiceCancel AuthChoice = iota
	AuthChoicePassword
	AuthChoiceKeyFile
)

// Prompter asks the user for credentials. Implementations return
// ErrPromptCancelled when the user declines.
type Prompter interface {
	SelectKey(ctx context.Context, candidates []KeyCandidate) (KeyCandidate, error)
	ChooseAuthMethod(ctx context.Context, endpoint string) (AuthChoice, error)
	Password(ctx context.Context, endpoint string) (string, error)
	KeyPath(ctx context.Context) (string, error)
}

// TerminalPrompter prompts on the controlling terminal.
type TerminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
}

// NewTerminalPrompter reads from stdin and writes prompts to stderr.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{
		in:  bufio.NewReader(os.Stdin),
		out: os.Stderr,
		fd:  int(os.Stdin.Fd()),
	}
}

// IsInteractive reports whether stdin is a terminal.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func (p *TerminalPrompter) SelectKey(ctx context.Context, candidates []KeyCandidate) (KeyCandidate, error) {
	if err := ctx.Err(); err != nil {
		return KeyCandidate{}, err
	}

	fmt.Fprintln(p.out, "Several SSH keys were found:")
	for i, c := range candidates {
		fmt.Fprintf(p.out, "  [%d] %s\n", i+1, c)
	}
	fmt.Fprintf(p.out, "Select a key [1-%d], or press enter to skip: ", len(candidates))

	line, err := p.readLine()
	if err != nil {
		return KeyCandidate{}, err
	}
	if line == "" {
		return KeyCandidate{}, ErrPromptCancelled
	}

	n, err := strconv.Atoi(line)
	if err != nil || n < 1 || n > len(candidates) {
		return KeyCandidate{}, fmt.Errorf("%w: invalid selection %q", ErrPromptCancelled, line)
	}
	return candidates[n-1], nil
}

func (p *TerminalPrompter) ChooseAuthMethod(ctx context.Context, endpoint string) (AuthChoice, error) {
	if err := ctx.Err(); err != nil {
		return AuthChoiceCancel, err
	}

	fmt.Fprintf(p.out, "No credentials found for %s. Use [p]assword, [k]ey file or [c]ancel? ", endpoint)
	line, err := p.readLine()
	if err != nil {
		return AuthChoiceCancel, err
	}

	switch strings.ToLower(line) {
	case "p", "password":
		return AuthChoicePassword, nil
	case "k", "key":
		return AuthChoiceKeyFile, nil
	default:
		return AuthChoiceCancel, ErrPromptCancelled
	}
}

func (p *TerminalPrompter) Password(ctx context.Context, endpoint string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fmt.Fprintf(p.out, "Password for %s: ", endpoint)

	var line string
	if term.IsTerminal(p.fd) {
		b, err := term.ReadPassword(p.fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		line = string(b)
	} else {
		var err error
		if line, err = p.readLine(); err != nil {
			return "", err
		}
	}

	if line == "" {
		return "", ErrPromptCancelled
	}
	return line, nil
}

func (p *TerminalPrompter) KeyPath(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fmt.Fprint(p.out, "Path to private key: ")
	line, err := p.readLine()
	if err != nil {
		return "", err
	}
	if line == "" {
		return "", ErrPromptCancelled
	}
	return line, nil
}

func (p *TerminalPrompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "", ErrPromptCancelled
		}
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
