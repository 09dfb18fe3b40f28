package cryptox

import (
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
)

const secretKeyLength = 32

// LoadOrCreateSecret loads the process-wide codec secret from a file,
// generating and persisting a fresh one (0600) if the file does not exist.
// Replacing the file's contents invalidates every outstanding session token,
// which is the intended secret-rotation procedure.
func LoadOrCreateSecret(file string) (string, error) {
	file = filepath.Clean(file)
	if err := os.MkdirAll(filepath.Dir(file), 0750); err != nil {
		return "", err
	}

	if _, err := os.Stat(file); os.IsNotExist(err) {
		buf := make([]byte, secretKeyLength)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		secret := base64.RawURLEncoding.EncodeToString(buf)

		if err := os.WriteFile(file, []byte(secret), 0600); err != nil {
			return "", err
		}
		return secret, nil
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
