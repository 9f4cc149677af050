package common

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// MkdirForFile creates the parent directory of fileName, tolerating a
// concurrent creator (EEXIST is success — see the no-locks design).
func MkdirForFile(fileName string) error {
	return MkdirAllTolerant(filepath.Dir(fileName))
}

// MkdirAllTolerant is os.MkdirAll but never fails on a concurrent creator.
func MkdirAllTolerant(dir string) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil && !os.IsExist(err) {
		return err
	}
	return nil
}

// OpenTempFile opens a uniquely named scratch file next to fullPath, so
// that writers never create a partial file under its final name: the
// caller writes here, then renames atomically into place.
func OpenTempFile(fullPath string) (*os.File, error) {
	tmpPath := fullPath + ".tmp." + uuid.NewString()
	return os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, os.ModePerm)
}

// TempPathFor returns the scratch path OpenTempFile would use, without
// opening it — used when the caller wants to build the path and hand it
// to an external process (e.g. the real compiler's -E output) instead.
func TempPathFor(fullPath string) string {
	return fullPath + ".tmp." + uuid.NewString()
}

// AtomicRename moves tmpPath to finalPath. rename(2) is atomic within one
// filesystem: a concurrent reader of finalPath sees either the old file
// (or nothing) or the fully written new one, never a partial write.
func AtomicRename(tmpPath string, finalPath string) error {
	if err := MkdirForFile(finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, finalPath)
}

// ReplaceFileExt swaps the extension of fileName for newExt.
func ReplaceFileExt(fileName string, newExt string) string {
	ext := filepath.Ext(fileName)
	return fileName[:len(fileName)-len(ext)] + newExt
}
