package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const tokenFile = "api_token"

// EnsureAPIToken returns the bearer token for the local HTTP API, creating
// one under dataDir on first use.
func EnsureAPIToken(dataDir string) (string, error) {
	if token, err := GetAPIToken(dataDir); err == nil {
		return token, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	token := hex.EncodeToString(buf)

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return "", fmt.Errorf("creating data dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, tokenFile), []byte(token+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("writing API token: %w", err)
	}
	return token, nil
}

// GetAPIToken reads the stored bearer token.
func GetAPIToken(dataDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, tokenFile))
	if err != nil {
		return "", fmt.Errorf("reading API token: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("API token file is empty")
	}
	return token, nil
}
