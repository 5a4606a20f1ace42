package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadToken reads a platform token from path, trimming surrounding space.
//
//	tok, err := client.LoadToken(os.ExpandEnv("$HOME/.protrace/token"))
func LoadToken(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	tok := strings.TrimSpace(string(b))
	if tok == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}
	return tok, nil
}

// SaveToken writes token to path with owner-only permissions, creating the
// parent directory if needed.
func SaveToken(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}
