package credstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// InstallationID returns the persistent per-install identifier stored at
// path, creating it on first use. It is not secret.
func InstallationID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if _, perr := uuid.Parse(id); perr == nil {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read installation id: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}

	id := uuid.NewString()
	if err := writeAtomic(path, []byte(id+"\n")); err != nil {
		return "", err
	}
	return id, nil
}
