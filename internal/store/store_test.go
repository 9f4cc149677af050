package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachetool/cache-tool/internal/config"
	"github.com/cachetool/cache-tool/internal/resultkind"
)

func newTestStore(t *testing.T, mutate func(*config.Config)) *Store {
	cfg := config.Config{CacheDir: t.TempDir(), NLevels: 2}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg)
}

func TestShardedPathUsesNLevelsPrefix(t *testing.T) {
	s := newTestStore(t, nil)
	p := s.PathFor("ab12cd", KindObject)
	rel, err := filepath.Rel(s.cacheDir, p)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("a", "b", "ab12cd.o"), rel)
}

func TestStoreFileThenLookupAndRestore(t *testing.T) {
	s := newTestStore(t, nil)
	dir := t.TempDir()

	src := filepath.Join(dir, "in.o")
	require.NoError(t, os.WriteFile(src, []byte("object bytes"), 0644))

	res := s.StoreFile("deadbeef1", KindObject, src)
	require.Equal(t, resultkind.Ok, res.Kind)

	_, ok, err := s.Lookup("deadbeef1", KindObject)
	require.NoError(t, err)
	require.True(t, ok)

	dest := filepath.Join(dir, "out.o")
	res = s.Restore("deadbeef1", KindObject, dest)
	require.Equal(t, resultkind.Ok, res.Kind)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "object bytes", string(got))
}

func TestLookupMissingEntryIsNotAnError(t *testing.T) {
	s := newTestStore(t, nil)
	_, ok, err := s.Lookup("nonexistent", KindObject)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestRestoreMissingEntryIsMiss(t *testing.T) {
	s := newTestStore(t, nil)
	res := s.Restore("nonexistent", KindObject, filepath.Join(t.TempDir(), "out.o"))
	assert.Equal(t, resultkind.RetryAsMiss, res.Kind)
}

func TestHardLinkAndCopyProduceIdenticalBytes(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.o")
	require.NoError(t, os.WriteFile(src, []byte("same content"), 0644))

	linked := newTestStore(t, func(c *config.Config) { c.HardLink = true })
	require.Equal(t, resultkind.Ok, linked.StoreFile("key1", KindObject, src).Kind)
	destLinked := filepath.Join(dir, "linked.o")
	require.Equal(t, resultkind.Ok, linked.Restore("key1", KindObject, destLinked).Kind)

	copied := newTestStore(t, func(c *config.Config) { c.HardLink = false })
	require.Equal(t, resultkind.Ok, copied.StoreFile("key1", KindObject, src).Kind)
	destCopied := filepath.Join(dir, "copied.o")
	require.Equal(t, resultkind.Ok, copied.Restore("key1", KindObject, destCopied).Kind)

	a, err := os.ReadFile(destLinked)
	require.NoError(t, err)
	b, err := os.ReadFile(destCopied)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCompressedRoundTrip(t *testing.T) {
	s := newTestStore(t, func(c *config.Config) { c.Compress = true })
	data := []byte("some stderr output, repeated repeated repeated for compressibility")

	res := s.StoreBytes("compressed1", KindStderr, data)
	require.Equal(t, resultkind.Ok, res.Kind)

	got, ok, err := s.Bytes("compressed1", KindStderr)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, data, got)

	// the on-disk bytes must not be the plaintext, confirming compression ran
	raw, err := os.ReadFile(s.PathFor("compressed1", KindStderr))
	require.NoError(t, err)
	assert.NotEqual(t, data, raw)
}

func TestManifestKindIsAlwaysCompressedRegardlessOfConfig(t *testing.T) {
	s := newTestStore(t, func(c *config.Config) { c.Compress = false })
	data := []byte("manifest payload")
	require.Equal(t, resultkind.Ok, s.StoreBytes("m1", KindManifest, data).Kind)

	raw, err := os.ReadFile(s.PathFor("m1", KindManifest))
	require.NoError(t, err)
	assert.NotEqual(t, data, raw)
}

func TestStoreFileIsIdempotentFirstWriterWins(t *testing.T) {
	s := newTestStore(t, nil)
	dir := t.TempDir()

	first := filepath.Join(dir, "first.o")
	require.NoError(t, os.WriteFile(first, []byte("first"), 0644))
	require.Equal(t, resultkind.Ok, s.StoreFile("k", KindObject, first).Kind)

	second := filepath.Join(dir, "second.o")
	require.NoError(t, os.WriteFile(second, []byte("second"), 0644))
	require.Equal(t, resultkind.Ok, s.StoreFile("k", KindObject, second).Kind)

	raw, err := os.ReadFile(s.PathFor("k", KindObject))
	require.NoError(t, err)
	assert.Equal(t, "first", string(raw))
}

func TestEnsureCacheDirTagWritesOnce(t *testing.T) {
	s := newTestStore(t, nil)
	s.EnsureCacheDirTag()
	tagPath := filepath.Join(s.cacheDir, "CACHEDIR.TAG")
	info1, err := os.Stat(tagPath)
	require.NoError(t, err)

	s.EnsureCacheDirTag()
	info2, err := os.Stat(tagPath)
	require.NoError(t, err)
	assert.Equal(t, info1.ModTime(), info2.ModTime())
}
