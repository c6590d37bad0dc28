//go:build windows

package files

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/windows"
)

// removeAll removes path and everything below it.
//
// On Windows, antivirus/indexers can briefly hold handles on freshly written
// files; we retry for a short period and then schedule whatever is left for
// deletion at next reboot.
func removeAll(path string) error {
	if path == "" {
		return nil
	}

	tryRemove := func() error {
		err := os.RemoveAll(path)
		if err == nil || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	var lastErr error
	for i := 0; i < 15; i++ {
		if err := tryRemove(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(200 * time.Millisecond)
	}

	// Files first, then directories bottom-up, so each directory is empty by
	// the time it is scheduled.
	var files, dirs []string
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, p)
		} else {
			files = append(files, p)
		}
		return nil
	})
	for i := len(dirs) - 1; i >= 0; i-- {
		files = append(files, dirs[i])
	}
	for _, p := range files {
		ptr, err := windows.UTF16PtrFromString(p)
		if err != nil {
			return lastErr
		}
		if err := windows.MoveFileEx(ptr, nil, windows.MOVEFILE_DELAY_UNTIL_REBOOT); err != nil {
			return lastErr
		}
	}
	return nil
}
