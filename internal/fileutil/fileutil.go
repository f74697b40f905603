package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Written describes a completed atomic write.
type Written struct {
	Size     int64
	Checksum string
}

// WriteAtomic streams r into a temporary sibling of dst and renames it into
// place, so readers see either the previous content or the complete new one.
func WriteAtomic(dst string, r io.Reader, mode os.FileMode) (Written, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Written{}, fmt.Errorf("create parent: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.part")
	if err != nil {
		return Written{}, err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if err != nil {
		cleanup()
		return Written{}, err
	}
	if err := tmp.Chmod(mode); err != nil {
		cleanup()
		return Written{}, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return Written{}, err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return Written{}, err
	}
	return Written{Size: n, Checksum: hex.EncodeToString(hasher.Sum(nil))}, nil
}
