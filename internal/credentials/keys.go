package credentials

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
)

// ErrInvalidKey indicates content that is not a recognized private key.
var ErrInvalidKey = errors.New("invalid private key")

// KeyCandidate is a private key location probed during resolution.
type KeyCandidate struct {
	Path        string
	Type        string
	Description string
}

func (k KeyCandidate) String() string {
	return k.Path + " (" + k.Description + ")"
}

// DefaultKeyCandidates returns the key locations for the running platform.
func DefaultKeyCandidates() []KeyCandidate {
	home, err := homedir.Dir()
	if err != nil {
		return nil
	}
	return KeyCandidatesFor(runtime.GOOS, home)
}

// KeyCandidatesFor lists user keys under home, plus system host keys on linux.
func KeyCandidatesFor(goos, home string) []KeyCandidate {
	sshDir := filepath.Join(home, ".ssh")

	candidates := []KeyCandidate{
		{Path: filepath.Join(sshDir, "id_rsa"), Type: "RSA", Description: "User RSA key"},
		{Path: filepath.Join(sshDir, "id_ed25519"), Type: "ED25519", Description: "User Ed25519 key"},
		{Path: filepath.Join(sshDir, "id_ecdsa"), Type: "ECDSA", Description: "User ECDSA key"},
	}

	if goos != "windows" {
		candidates = append(candidates,
			KeyCandidate{Path: filepath.Join(sshDir, "id_dsa"), Type: "DSA", Description: "User DSA key"})
	}

	if goos == "linux" {
		candidates = append(candidates,
			KeyCandidate{Path: "/etc/ssh/ssh_host_rsa_key", Type: "RSA", Description: "System RSA host key"},
			KeyCandidate{Path: "/etc/ssh/ssh_host_ecdsa_key", Type: "ECDSA", Description: "System ECDSA host key"},
			KeyCandidate{Path: "/etc/ssh/ssh_host_ed25519_key", Type: "ED25519", Description: "System Ed25519 host key"},
		)
	}

	return candidates
}

// DetectAvailableKeys keeps the candidates that exist as regular files.
func DetectAvailableKeys(fs afero.Fs, candidates []KeyCandidate) []KeyCandidate {
	var found []KeyCandidate
	for _, c := range candidates {
		info, err := fs.Stat(c.Path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		found = append(found, c)
	}
	return found
}

// ReadKey reads a key file and rejects content ValidateKeyContent refuses.
func ReadKey(fs afero.Fs, path string) ([]byte, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand key path: %w", err)
	}
	data, err := afero.ReadFile(fs, expanded)
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", expanded, err)
	}
	if !ValidateKeyContent(string(data)) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, expanded)
	}
	return data, nil
}

var keyBlockTypes = []string{
	"RSA PRIVATE KEY",
	"DSA PRIVATE KEY",
	"EC PRIVATE KEY",
	"OPENSSH PRIVATE KEY",
	"PRIVATE KEY",
}

// ValidateKeyContent requires a recognized BEGIN header and the END footer
// of the same block type.
func ValidateKeyContent(content string) bool {
	for _, t := range keyBlockTypes {
		if strings.Contains(content, "-----BEGIN "+t+"-----") &&
			strings.Contains(content, "-----END "+t+"-----") {
			return true
		}
	}
	return false
}
