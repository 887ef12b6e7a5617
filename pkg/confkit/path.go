package confkit

import (
	"os"
	"path/filepath"
)

// maxWalk bounds how many parent directories FindUp visits.
const maxWalk = 8

// FindUp walks from start towards the filesystem root and returns the first
// directory holding any of markers.
func FindUp(start string, markers ...string) (string, bool) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", false
	}
	for i := 0; i < maxWalk; i++ {
		for _, m := range markers {
			if fileExists(filepath.Join(dir, m)) {
				return dir, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func fileExists(p string) bool {
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}
