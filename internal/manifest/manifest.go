// Package manifest implements the manifest (C6): a persistent mapping
// from a direct-mode key (the manifest key, §3) to one or more
// (object-key, include-snapshot) pairs. Lookup rehashes every recorded
// include file at its recorded path and returns the first entry whose
// snapshot fully matches the current filesystem.
//
// The on-disk container is this repo's own choice (spec.md §9 leaves the
// format unshown): a small gob-encoded, version-tagged struct, always
// zstd-compressed per spec.md §6, written with the same temp+rename
// discipline as internal/store. Readers treat a version mismatch or
// decode failure as "miss", never an error, matching the teacher's own
// tolerant-of-corruption posture (internal/server/file-cache.go ignores
// stat/open failures rather than aborting).
package manifest

import (
	"bytes"
	"encoding/gob"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/cachetool/cache-tool/internal/common"
	"github.com/cachetool/cache-tool/internal/digest"
	"github.com/cachetool/cache-tool/internal/fileset"
)

// formatVersion guards against decoding a manifest written by an
// incompatible future (or ancient) build of this tool; a mismatch is
// reported as a miss rather than an error, per spec.md §6.
const formatVersion = 1

// Entry is one (object-key, include-snapshot) pair recorded under a
// manifest key.
type Entry struct {
	ObjectHash digest.Digest
	Includes   fileset.Set
}

// onDiskEntry is one entry of the gob-serialized container (onDisk).
// Object identity (Digest) is stored as its two plain fields.
type onDiskEntry struct {
	Bytes    [digest.Size]byte
	Total    int64
	Includes map[string]onDiskFileHash
}

type onDiskFileHash struct {
	Bytes [digest.Size]byte
	Total int64
	Size  int64
}

type onDisk struct {
	Version int
	Entries []onDiskEntry
}

func toOnDisk(entries []Entry) onDisk {
	out := onDisk{Version: formatVersion, Entries: make([]onDiskEntry, 0, len(entries))}
	for _, e := range entries {
		incl := make(map[string]onDiskFileHash, len(e.Includes))
		for path, fh := range e.Includes {
			incl[path] = onDiskFileHash{Bytes: fh.Digest.Bytes, Total: fh.Digest.Total, Size: fh.Size}
		}
		out.Entries = append(out.Entries, onDiskEntry{
			Bytes:    e.ObjectHash.Bytes,
			Total:    e.ObjectHash.Total,
			Includes: incl,
		})
	}
	return out
}

func fromOnDisk(d onDisk) []Entry {
	entries := make([]Entry, 0, len(d.Entries))
	for _, oe := range d.Entries {
		set := make(fileset.Set, len(oe.Includes))
		for path, fh := range oe.Includes {
			set[path] = fileset.FileHash{
				Digest: digest.Digest{Bytes: fh.Bytes, Total: fh.Total},
				Size:   fh.Size,
			}
		}
		entries = append(entries, Entry{
			ObjectHash: digest.Digest{Bytes: oe.Bytes, Total: oe.Total},
			Includes:   set,
		})
	}
	return entries
}

// Read loads the manifest at path, returning its entries. A missing file
// yields an empty manifest (not an error) — "readers tolerate absence".
// A corrupt or version-mismatched file is treated the same way, per
// spec.md §7's CacheCorruption category ("treated as miss").
func Read(path string) []Entry {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil
	}

	var d onDisk
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&d); err != nil {
		return nil
	}
	if d.Version != formatVersion {
		return nil
	}
	return fromOnDisk(d)
}

// RehashFunc is supplied by the caller (driver), since stat+hash of an
// include file needs sourcehash/FileHash machinery this package doesn't
// otherwise depend on.
type RehashFunc func(path string) (fileset.FileHash, error)

// Lookup implements manifest_get: it iterates candidate entries in
// order, returning the object hash of the first whose include snapshot
// fully matches the current filesystem (fileset.AllMatchOnDisk), or
// false if none match (or the manifest doesn't exist).
func Lookup(path string, rehash RehashFunc) (digest.Digest, bool) {
	for _, e := range Read(path) {
		if fileset.AllMatchOnDisk(e.Includes, rehash) {
			return e.ObjectHash, true
		}
	}
	return digest.Digest{}, false
}

// Put implements manifest_put: read-or-initialise the manifest, append a
// new entry unless an identical (object-hash, include-snapshot) pair is
// already present, and write back via temp+rename. Concurrent writers
// may race — the later writer's rename simply wins, and a lost entry is
// harmless (recomputed on the next miss), per spec.md §5.
func Put(path string, objectHash digest.Digest, includes fileset.Set) error {
	entries := Read(path)

	for _, e := range entries {
		if e.ObjectHash == objectHash && sameIncludeSet(e.Includes, includes) {
			return nil // already recorded
		}
	}
	entries = append(entries, Entry{ObjectHash: objectHash, Includes: includes.Clone()})

	return write(path, entries)
}

func sameIncludeSet(a, b fileset.Set) bool {
	if len(a) != len(b) {
		return false
	}
	for path, fh := range a {
		other, ok := b[path]
		if !ok || !fh.Equal(other) {
			return false
		}
	}
	return true
}

func write(path string, entries []Entry) error {
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(toOnDisk(entries)); err != nil {
		return err
	}

	if err := common.MkdirForFile(path); err != nil {
		return err
	}
	tmp, err := common.OpenTempFile(path)
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	zw, err := zstd.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		return err
	}
	if _, err := zw.Write(raw.Bytes()); err != nil {
		zw.Close()
		tmp.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return common.AtomicRename(tmpPath, path)
}

// Unlink removes the manifest at path, used when the driver detects a
// manifest/preprocessor disagreement (spec.md §4.7 step 4, §9's "Open
// question": unlink the whole manifest rather than a finer-grained
// per-entry removal).
func Unlink(path string) {
	_ = os.Remove(path)
}
