package pathpolicy

import (
	"errors"
	"fmt"
	"strings"
)

// ProbeCommand is run to check that a session can execute commands.
const ProbeCommand = "true"

const shellMetaChars = ";&|`$(){}[]<>\\"

var (
	ErrEmptyCommand      = errors.New("empty command")
	ErrCommandTooLong    = errors.New("command too long")
	ErrUnsafeCommand     = errors.New("unsafe command")
	ErrInvalidRemotePath = errors.New("invalid remote path")
)

// EscapeShellArg single-quotes s for a POSIX shell. Embedded single quotes
// become '"'"'. The empty string yields ''.
func EscapeShellArg(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// ValidateCommand rejects commands that could do more than run the single
// program they name. Metacharacters are allowed only inside quoted regions
// produced by EscapeShellArg.
func ValidateCommand(cmd string) error {
	if strings.TrimSpace(cmd) == "" {
		return ErrEmptyCommand
	}
	if len(cmd) > MaxPathLength {
		return fmt.Errorf("%w: %d bytes", ErrCommandTooLong, len(cmd))
	}
	if strings.ContainsAny(cmd, "\x00\n\r") {
		return fmt.Errorf("%w: control character", ErrUnsafeCommand)
	}

	const (
		unquoted = iota
		single
		double
	)
	state := unquoted

	for _, r := range cmd {
		switch state {
		case single:
			if r == '\'' {
				state = unquoted
			}
		case double:
			switch r {
			case '"':
				state = unquoted
			case '$', '`', '\\':
				return fmt.Errorf("%w: %q inside double quotes", ErrUnsafeCommand, r)
			}
		default:
			switch {
			case r == '\'':
				state = single
			case r == '"':
				state = double
			case strings.ContainsRune(shellMetaChars, r):
				return fmt.Errorf("%w: %q", ErrUnsafeCommand, r)
			}
		}
	}

	if state != unquoted {
		return fmt.Errorf("%w: unterminated quote", ErrUnsafeCommand)
	}
	return nil
}

// MkdirCommand builds "mkdir -p" for remotePath.
func MkdirCommand(remotePath string) (string, error) {
	return buildPathCommand("mkdir -p", remotePath)
}

// RemoveCommand builds "rm -f" for remotePath.
func RemoveCommand(remotePath string) (string, error) {
	return buildPathCommand("rm -f", remotePath)
}

func buildPathCommand(prefix, remotePath string) (string, error) {
	if !IsValidRemotePath(remotePath) {
		return "", fmt.Errorf("%w: %s", ErrInvalidRemotePath, remotePath)
	}
	cmd := prefix + " " + EscapeShellArg(remotePath)
	if err := ValidateCommand(cmd); err != nil {
		return "", err
	}
	return cmd, nil
}
