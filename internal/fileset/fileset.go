// Package fileset holds the small shared types describing files observed
// during a compilation run: the FileHash data-model type and the set of
// included files a direct-mode manifest entry is keyed against.
package fileset

import (
	"os"

	"github.com/cachetool/cache-tool/internal/digest"
)

// FileHash is {digest, size} as specified for an included file or the
// object itself.
type FileHash struct {
	Digest digest.Digest
	Size   int64
}

// Equal reports whether two FileHash values describe the same content.
func (f FileHash) Equal(other FileHash) bool {
	return f.Size == other.Size && f.Digest == other.Digest
}

// IncludedFile is one dependency discovered for a compilation: a resolved
// #include target, keyed by its filesystem path.
type IncludedFile struct {
	Path string
	Hash FileHash
}

// Set maps an included file's path to its FileHash, as stored in a
// manifest entry's include snapshot.
type Set map[string]FileHash

// Clone returns an independent copy of s.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// AllMatchOnDisk rehashes every file in s at its recorded path and
// reports whether every one still matches — the manifest lookup rule.
func AllMatchOnDisk(s Set, rehash func(path string) (FileHash, error)) bool {
	for path, want := range s {
		got, err := rehash(path)
		if err != nil {
			return false
		}
		if !got.Equal(want) {
			return false
		}
	}
	return true
}

// StatIsDirectory reports whether path names a directory, treating any
// stat error as "not a directory" (the caller will fail to open it anyway).
func StatIsDirectory(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
