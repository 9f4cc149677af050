package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachetool/cache-tool/internal/digest"
	"github.com/cachetool/cache-tool/internal/fileset"
)

func digestFor(s string) digest.Digest {
	return digest.Start().UpdateString(s).Finish()
}

func TestReadMissingManifestIsEmpty(t *testing.T) {
	dir := t.TempDir()
	assert.Nil(t, Read(filepath.Join(dir, "nope.manifest")))
}

func TestPutThenLookupRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.manifest")

	hdr := filepath.Join(dir, "hello.h")
	require.NoError(t, os.WriteFile(hdr, []byte("#define X 1\n"), 0644))

	hash, err := rehashFixture(hdr)
	require.NoError(t, err)

	includes := fileset.Set{hdr: hash}
	objHash := digestFor("object-one")

	require.NoError(t, Put(path, objHash, includes))

	got, ok := Lookup(path, rehashFixture)
	require.True(t, ok)
	assert.Equal(t, objHash, got)
}

func TestLookupMissesWhenIncludeContentChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.manifest")

	hdr := filepath.Join(dir, "hello.h")
	require.NoError(t, os.WriteFile(hdr, []byte("#define X 1\n"), 0644))

	hash, err := rehashFixture(hdr)
	require.NoError(t, err)
	require.NoError(t, Put(path, digestFor("object-one"), fileset.Set{hdr: hash}))

	require.NoError(t, os.WriteFile(hdr, []byte("#define X 2\n"), 0644))

	_, ok := Lookup(path, rehashFixture)
	assert.False(t, ok)
}

func TestLookupTriesMultipleCandidatesInOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.manifest")

	hdrA := filepath.Join(dir, "a.h")
	hdrB := filepath.Join(dir, "b.h")
	require.NoError(t, os.WriteFile(hdrA, []byte("a"), 0644))
	require.NoError(t, os.WriteFile(hdrB, []byte("b"), 0644))

	hashA, err := rehashFixture(hdrA)
	require.NoError(t, err)
	hashB, err := rehashFixture(hdrB)
	require.NoError(t, err)

	require.NoError(t, Put(path, digestFor("obj-a"), fileset.Set{hdrA: hashA}))
	require.NoError(t, Put(path, digestFor("obj-b"), fileset.Set{hdrB: hashB}))

	// Invalidate the first candidate's include; the second must still hit.
	require.NoError(t, os.WriteFile(hdrA, []byte("changed"), 0644))

	got, ok := Lookup(path, rehashFixture)
	require.True(t, ok)
	assert.Equal(t, digestFor("obj-b"), got)
}

func TestPutIsIdempotentForIdenticalEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.manifest")

	hdr := filepath.Join(dir, "hello.h")
	require.NoError(t, os.WriteFile(hdr, []byte("x"), 0644))
	hash, err := rehashFixture(hdr)
	require.NoError(t, err)

	objHash := digestFor("obj")
	require.NoError(t, Put(path, objHash, fileset.Set{hdr: hash}))
	require.NoError(t, Put(path, objHash, fileset.Set{hdr: hash}))

	assert.Len(t, Read(path), 1)
}

func TestCorruptManifestReadsAsMiss(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.manifest")
	require.NoError(t, os.WriteFile(path, []byte("not a zstd stream"), 0644))

	assert.Nil(t, Read(path))
	_, ok := Lookup(path, rehashFixture)
	assert.False(t, ok)
}

func rehashFixture(path string) (fileset.FileHash, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileset.FileHash{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fileset.FileHash{}, err
	}
	return fileset.FileHash{Digest: digest.Start().Update(data).Finish(), Size: info.Size()}, nil
}
