package cpprewrite

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachetool/cache-tool/internal/config"
	"github.com/cachetool/cache-tool/internal/digest"
)

func writePreprocessedFixture(t *testing.T, dir string, headerPath string) string {
	t.Helper()
	content := "# 1 \"" + filepath.Join(dir, "main.c") + "\"\n" +
		"# 1 \"" + headerPath + "\"\n" +
		"int f(void);\n" +
		"#line 3 \"" + headerPath + "\"\n" +
		"int g(void);\n"
	path := filepath.Join(dir, "main.i")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestScanExtractsIncludesAndRewritesRelativeToBaseDir(t *testing.T) {
	dir := t.TempDir()
	headerPath := filepath.Join(dir, "hello.h")
	require.NoError(t, os.WriteFile(headerPath, []byte("void hello(void);\n"), 0644))

	pp := writePreprocessedFixture(t, dir, headerPath)

	result, err := Scan(digest.Start(), pp, Options{BaseDir: dir, InputFileAbs: filepath.Join(dir, "main.c")})
	require.NoError(t, err)
	require.Len(t, result.IncludedFiles, 1)
	assert.Equal(t, headerPath, result.IncludedFiles[0].Path)
	assert.False(t, result.DirectModeDisabled)

	// The same fixture under another base dir hashes identically once its
	// directive paths are rewritten relative to that base dir.
	otherDir := t.TempDir()
	otherHeader := filepath.Join(otherDir, "hello.h")
	require.NoError(t, os.WriteFile(otherHeader, []byte("void hello(void);\n"), 0644))
	otherPP := writePreprocessedFixture(t, otherDir, otherHeader)

	hsA := digest.Start()
	_, err = Scan(hsA, pp, Options{BaseDir: dir, InputFileAbs: filepath.Join(dir, "main.c")})
	require.NoError(t, err)
	hsB := digest.Start()
	_, err = Scan(hsB, otherPP, Options{BaseDir: otherDir, InputFileAbs: filepath.Join(otherDir, "main.c")})
	require.NoError(t, err)
	assert.Equal(t, hsA.Finish(), hsB.Finish())
}

func TestScanIsIdempotentAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	headerPath := filepath.Join(dir, "hello.h")
	require.NoError(t, os.WriteFile(headerPath, []byte("void hello(void);\n"), 0644))
	pp := writePreprocessedFixture(t, dir, headerPath)

	opts := Options{BaseDir: dir, InputFileAbs: filepath.Join(dir, "main.c")}
	first, err := Scan(digest.Start(), pp, opts)
	require.NoError(t, err)
	hs1 := digest.Start()
	_, err = Scan(hs1, pp, opts)
	require.NoError(t, err)
	hs2 := digest.Start()
	_, err = Scan(hs2, pp, opts)
	require.NoError(t, err)

	assert.Equal(t, hs1.Finish(), hs2.Finish())
	assert.Len(t, first.IncludedFiles, 1)
}

func TestScanSkipsBracketedSystemNames(t *testing.T) {
	dir := t.TempDir()
	content := "# 1 \"<built-in>\"\n# 1 \"<command-line>\"\nint f(void);\n"
	pp := filepath.Join(dir, "main.i")
	require.NoError(t, os.WriteFile(pp, []byte(content), 0644))

	result, err := Scan(digest.Start(), pp, Options{})
	require.NoError(t, err)
	assert.Empty(t, result.IncludedFiles)
}

func TestScanPoisonsDirectModeForFreshMtime(t *testing.T) {
	dir := t.TempDir()
	headerPath := filepath.Join(dir, "hello.h")
	require.NoError(t, os.WriteFile(headerPath, []byte("void hello(void);\n"), 0644))
	pp := writePreprocessedFixture(t, dir, headerPath)

	compileTime := time.Now().Add(-time.Hour)
	result, err := Scan(digest.Start(), pp, Options{CompileTime: compileTime})
	require.NoError(t, err)
	assert.True(t, result.DirectModeDisabled, "header mtime is after compileTime, must poison direct mode")
}

func TestScanTimeMacroPoisonsDirectModeUnlessSloppy(t *testing.T) {
	dir := t.TempDir()
	headerPath := filepath.Join(dir, "hello.h")
	require.NoError(t, os.WriteFile(headerPath, []byte("const char *b = __DATE__;\n"), 0644))
	pp := writePreprocessedFixture(t, dir, headerPath)

	result, err := Scan(digest.Start(), pp, Options{})
	require.NoError(t, err)
	assert.True(t, result.DirectModeDisabled)

	sloppy, err := Scan(digest.Start(), pp, Options{Sloppiness: config.SloppyTimeMacros})
	require.NoError(t, err)
	assert.False(t, sloppy.DirectModeDisabled)
}

func TestScanEmptyFile(t *testing.T) {
	dir := t.TempDir()
	pp := filepath.Join(dir, "empty.i")
	require.NoError(t, os.WriteFile(pp, nil, 0644))

	result, err := Scan(digest.Start(), pp, Options{})
	require.NoError(t, err)
	assert.Empty(t, result.IncludedFiles)
}
