package infra

import (
	"fmt"
	"os"

	homedir "github.com/mitchellh/go-homedir"
)

// EnsureDataDir expands a possibly tilde-prefixed path and creates the
// directory tree for the state database.
func EnsureDataDir(path string) (string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("expand data dir %q: %w", path, err)
	}
	if err := os.MkdirAll(expanded, 0o700); err != nil {
		return "", fmt.Errorf("create data dir %q: %w", expanded, err)
	}
	return expanded, nil
}
