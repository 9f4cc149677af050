// Package store implements the content-addressed cache store (C5): a
// directory tree, sharded by hash prefix, where compiled objects, their
// captured stderr, dependency files, and manifests are saved and
// retrieved by object key. Every mutation is written to a unique temp
// path and atomically renamed into place, so concurrent, lock-free
// writers from unrelated processes can never observe a partial file.
//
// The sharded-directory-plus-atomic-rename design is grounded on the
// teacher's internal/server/file-cache.go (FileCache, SaveFileToCache,
// CreateHardLinkFromCache), adapted from an in-process LRU (a single
// long-lived server holds the index in memory) to a purely
// filesystem-addressed store, because here there is no long-lived
// server process to hold that index: every invocation is a short-lived
// CLI process that must agree with siblings purely through the
// directory structure.
package store

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/cachetool/cache-tool/internal/common"
	"github.com/cachetool/cache-tool/internal/config"
	"github.com/cachetool/cache-tool/internal/resultkind"
)

// Kind names one of the (at most) four files a single object key may own,
// per spec.md §3's "Cache entry" data model.
type Kind string

const (
	KindObject   Kind = "o"
	KindStderr   Kind = "stderr"
	KindDep      Kind = "d"
	KindManifest Kind = "manifest"
)

// cacheDirTagContents is the standard cache-marker file content, written
// once so tools like backup utilities know to skip this directory.
const cacheDirTagContents = "Signature: 8a477f597d28d172789f06886806bc55\n" +
	"# This file is a cache directory tag created by cache-tool.\n" +
	"# For information about cache directory tags see https://bford.info/cachedir/\n"

// Store is the sharded, content-addressed object cache.
type Store struct {
	cacheDir string
	nLevels  int
	hardLink bool
	compress bool
}

// New builds a Store from the resolved configuration.
func New(cfg config.Config) *Store {
	return &Store{
		cacheDir: cfg.CacheDir,
		nLevels:  cfg.NLevels,
		hardLink: cfg.HardLink,
		compress: cfg.Compress,
	}
}

// shardedDir returns the nested shard directories for key, e.g. with
// nLevels=2 and key "ab12cd..." it returns cacheDir/a/b.
func (s *Store) shardedDir(key string) string {
	dir := s.cacheDir
	n := s.nLevels
	if n > len(key) {
		n = len(key)
	}
	for i := 0; i < n; i++ {
		dir = filepath.Join(dir, string(key[i]))
	}
	return dir
}

// PathFor returns the on-disk path for key's entry of the given kind,
// without implying it exists.
func (s *Store) PathFor(key string, kind Kind) string {
	return filepath.Join(s.shardedDir(key), key+"."+string(kind))
}

// compressedFor reports whether entries of this kind are compressed
// regardless of CACHE_COMPRESS — manifests are always compressed per
// spec.md §6 ("Manifest file format... always compressed").
func (s *Store) compressedFor(kind Kind) bool {
	return s.compress || kind == KindManifest
}

// EnsureShardDirs creates every shard directory (CACHE_NLEVELS deep,
// base 16) up front, mirroring the teacher's createSubdirsForFileCache
// but driven by the configured nesting depth instead of a fixed 256.
func (s *Store) EnsureShardDirs() error {
	return walkShardDirs(s.cacheDir, s.nLevels, func(dir string) error {
		return common.MkdirAllTolerant(dir)
	})
}

func walkShardDirs(base string, levels int, visit func(string) error) error {
	if levels == 0 {
		return visit(base)
	}
	const hexDigits = "0123456789abcdef"
	for _, c := range hexDigits {
		if err := walkShardDirs(filepath.Join(base, string(c)), levels-1, visit); err != nil {
			return err
		}
	}
	return nil
}

// EnsureCacheDirTag writes CACHEDIR.TAG at the cache root the first time
// anything is stored, per spec.md §6. A pre-existing tag is left alone.
func (s *Store) EnsureCacheDirTag() {
	tagPath := filepath.Join(s.cacheDir, "CACHEDIR.TAG")
	if _, err := os.Stat(tagPath); err == nil {
		return
	}
	if err := common.MkdirAllTolerant(s.cacheDir); err != nil {
		return
	}
	_ = os.WriteFile(tagPath, []byte(cacheDirTagContents), 0644)
}

// Lookup reports whether key's entry of kind exists, returning its path.
// A missing file is reported as ok=false, err=nil: absence is a cache
// miss, never an error (ENOENT-as-miss, per the no-lock concurrency
// model: any writer may be mid-rename).
func (s *Store) Lookup(key string, kind Kind) (path string, ok bool, err error) {
	p := s.PathFor(key, kind)
	if _, statErr := os.Stat(p); statErr != nil {
		if os.IsNotExist(statErr) {
			return "", false, nil
		}
		return "", false, statErr
	}
	return p, true, nil
}

// Restore materializes key's entry of kind at destPath: a hard link when
// configured (and same-filesystem, uncompressed), otherwise a full copy
// (decompressing transparently when the entry is compressed).
func (s *Store) Restore(key string, kind Kind, destPath string) resultkind.Result {
	p, ok, err := s.Lookup(key, kind)
	if err != nil {
		return resultkind.GiveUpf("stat cache entry: " + err.Error())
	}
	if !ok {
		return resultkind.Miss("no cache entry for " + key + "." + string(kind))
	}

	if err := common.MkdirForFile(destPath); err != nil {
		return resultkind.GiveUpf("mkdir for restore destination: " + err.Error())
	}

	compressed := s.compressedFor(kind)
	if s.hardLink && !compressed {
		if err := os.Link(p, destPath); err == nil {
			return resultkind.OkResult()
		}
		// fall through to copy: cross-filesystem links return EXDEV, and a
		// concurrent cleanup may have unlinked p between Lookup and Link
	}

	if err := s.copyOut(p, destPath, compressed); err != nil {
		if os.IsNotExist(err) {
			return resultkind.Miss("cache entry vanished during restore: " + p)
		}
		return resultkind.GiveUpf("restore from cache: " + err.Error())
	}
	return resultkind.OkResult()
}

// Bytes reads key's entry of kind fully into memory (decompressing if
// needed) — used to re-emit an entry's stored stderr when it is served.
func (s *Store) Bytes(key string, kind Kind) ([]byte, bool, error) {
	p, ok, err := s.Lookup(key, kind)
	if err != nil || !ok {
		return nil, ok, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	var r io.Reader = f
	if s.compressedFor(kind) {
		zr, err := zstd.NewReader(bufio.NewReader(f))
		if err != nil {
			return nil, false, err
		}
		defer zr.Close()
		r = zr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *Store) copyOut(srcPath string, destPath string, compressed bool) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp, err := common.OpenTempFile(destPath)
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	var reader io.Reader = src
	if compressed {
		zr, err := zstd.NewReader(bufio.NewReader(src))
		if err != nil {
			tmp.Close()
			return err
		}
		defer zr.Close()
		reader = zr
	}

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return common.AtomicRename(tmpPath, destPath)
}

// StoreFile saves srcPath into the cache under key's entry of kind.
// Existing content for the same key is left untouched: a writer that
// finds the entry already present stores nothing. Writers racing past
// that check each rename a complete temp file into place, and the later
// rename wins.
func (s *Store) StoreFile(key string, kind Kind, srcPath string) resultkind.Result {
	dest := s.PathFor(key, kind)
	if _, err := os.Stat(dest); err == nil {
		return resultkind.OkResult() // already cached by a concurrent writer
	}

	if err := common.MkdirForFile(dest); err != nil {
		return resultkind.GiveUpf("mkdir for cache entry: " + err.Error())
	}

	compressed := s.compressedFor(kind)
	if !compressed && s.hardLink {
		if err := os.Link(srcPath, dest); err == nil {
			s.EnsureCacheDirTag()
			return resultkind.OkResult()
		}
	}

	if err := s.copyIn(srcPath, dest, compressed); err != nil {
		return resultkind.GiveUpf("store cache entry: " + err.Error())
	}
	s.EnsureCacheDirTag()
	return resultkind.OkResult()
}

// StoreBytes is StoreFile for in-memory content (captured stderr), via
// the same temp+rename discipline.
func (s *Store) StoreBytes(key string, kind Kind, data []byte) resultkind.Result {
	dest := s.PathFor(key, kind)
	if _, err := os.Stat(dest); err == nil {
		return resultkind.OkResult()
	}
	if err := common.MkdirForFile(dest); err != nil {
		return resultkind.GiveUpf("mkdir for cache entry: " + err.Error())
	}

	tmp, err := common.OpenTempFile(dest)
	if err != nil {
		return resultkind.GiveUpf("open temp file: " + err.Error())
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	var writer io.Writer = tmp
	var zw *zstd.Encoder
	if s.compressedFor(kind) {
		zw, err = zstd.NewWriter(tmp)
		if err != nil {
			tmp.Close()
			return resultkind.GiveUpf("open zstd writer: " + err.Error())
		}
		writer = zw
	}
	if _, err := writer.Write(data); err != nil {
		tmp.Close()
		return resultkind.GiveUpf("write cache entry: " + err.Error())
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			tmp.Close()
			return resultkind.GiveUpf("close zstd writer: " + err.Error())
		}
	}
	if err := tmp.Close(); err != nil {
		return resultkind.GiveUpf("close temp file: " + err.Error())
	}
	if err := common.AtomicRename(tmpPath, dest); err != nil {
		return resultkind.GiveUpf("rename cache entry: " + err.Error())
	}
	s.EnsureCacheDirTag()
	return resultkind.OkResult()
}

func (s *Store) copyIn(srcPath string, dest string, compressed bool) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp, err := common.OpenTempFile(dest)
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	var writer io.Writer = tmp
	var zw *zstd.Encoder
	if compressed {
		zw, err = zstd.NewWriter(tmp)
		if err != nil {
			tmp.Close()
			return err
		}
		writer = zw
	}

	if _, err := io.Copy(writer, src); err != nil {
		tmp.Close()
		return err
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return common.AtomicRename(tmpPath, dest)
}

// Refresh bumps the mtime of key's entry of kind, so LRU-by-mtime cleanup
// treats it as recently used and hard-linked outputs have sensible
// timestamps. A missing entry is silently ignored.
func (s *Store) Refresh(key string, kind Kind) {
	p := s.PathFor(key, kind)
	now := time.Now()
	_ = os.Chtimes(p, now, now)
}

// Unlink removes key's entry of kind, ignoring a not-found error.
func (s *Store) Unlink(key string, kind Kind) {
	_ = os.Remove(s.PathFor(key, kind))
}
