//go:build !windows

package files

import (
	"errors"
	"os"
)

// removeAll removes path and everything below it.
func removeAll(path string) error {
	if path == "" {
		return nil
	}
	err := os.RemoveAll(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
