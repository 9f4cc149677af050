package invocation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachetool/cache-tool/internal/resultkind"
)

func writeSourceFile(t *testing.T, dir string, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("int main(void) { return 0; }\n"), 0644))
	return path
}

func TestClassifyBasicCompile(t *testing.T) {
	dir := t.TempDir()
	src := writeSourceFile(t, dir, "main.c")

	inv, res := Classify(dir, []string{"cc", "-c", src, "-o", "main.o"}, Config{})
	require.Equal(t, resultkind.Ok, res.Kind)
	assert.Equal(t, src, inv.InputFile)
	assert.Equal(t, "main.o", inv.OutputFile)
	assert.Equal(t, LangC, inv.Ext.language)
}

func TestClassifyRejectsLinkInvocation(t *testing.T) {
	dir := t.TempDir()
	src := writeSourceFile(t, dir, "main.c")

	_, res := Classify(dir, []string{"cc", src, "-o", "main"}, Config{})
	assert.Equal(t, resultkind.GiveUp, res.Kind)
}

func TestClassifyRejectsMultipleInputFiles(t *testing.T) {
	dir := t.TempDir()
	a := writeSourceFile(t, dir, "a.c")
	b := writeSourceFile(t, dir, "b.c")

	_, res := Classify(dir, []string{"cc", "-c", a, b, "-o", "out.o"}, Config{})
	assert.Equal(t, resultkind.GiveUp, res.Kind)
}

func TestClassifyRejectsFatalUnsupportedOptions(t *testing.T) {
	dir := t.TempDir()
	src := writeSourceFile(t, dir, "main.c")

	_, res := Classify(dir, []string{"cc", "-c", src, "-E", "-o", "main.o"}, Config{})
	assert.Equal(t, resultkind.GiveUp, res.Kind)
}

func TestClassifyDefineAndIncludeExcludedFromPreprocessorHashOnly(t *testing.T) {
	dir := t.TempDir()
	src := writeSourceFile(t, dir, "main.c")

	inv, res := Classify(dir, []string{"cc", "-c", "-DFOO=1", "-Ifoo/bar", src, "-o", "main.o"}, Config{})
	require.Equal(t, resultkind.Ok, res.Kind)

	direct := inv.HashContribDirect()
	preprocessor := inv.HashContribPreprocessor()

	assert.Contains(t, direct, "-DFOO=1")
	assert.True(t, containsPrefixed(direct, "-I"), "expected an -I token in %v", direct)
	assert.NotContains(t, preprocessor, "-DFOO=1")
	assert.False(t, containsPrefixed(preprocessor, "-I"), "did not expect an -I token in %v", preprocessor)
}

func containsPrefixed(toks []string, prefix string) bool {
	for _, tok := range toks {
		if len(tok) >= len(prefix) && tok[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func TestClassifyDashLExcludedFromBothHashes(t *testing.T) {
	dir := t.TempDir()
	src := writeSourceFile(t, dir, "main.c")

	inv, res := Classify(dir, []string{"cc", "-c", "-L/opt/lib", src, "-o", "main.o"}, Config{})
	require.Equal(t, resultkind.Ok, res.Kind)

	assert.NotContains(t, inv.HashContribDirect(), "-L/opt/lib")
	assert.NotContains(t, inv.HashContribPreprocessor(), "-L/opt/lib")
}

func TestClassifyXpreprocessorDisablesDirectMode(t *testing.T) {
	dir := t.TempDir()
	src := writeSourceFile(t, dir, "main.c")

	inv, res := Classify(dir, []string{"cc", "-c", "-Xpreprocessor", "-foo", src, "-o", "main.o"}, Config{})
	require.Equal(t, resultkind.Ok, res.Kind)
	assert.True(t, inv.DirectModeDisabled)
}

func TestClassifyG3SuppressesUnify(t *testing.T) {
	dir := t.TempDir()
	src := writeSourceFile(t, dir, "main.c")

	inv, res := Classify(dir, []string{"cc", "-c", "-g3", src, "-o", "main.o"}, Config{})
	require.Equal(t, resultkind.Ok, res.Kind)
	assert.True(t, inv.UnifySuppressed)
	assert.True(t, inv.DebugNonZero)
}

func TestClassifyG0DoesNotMarkDebugNonZero(t *testing.T) {
	dir := t.TempDir()
	src := writeSourceFile(t, dir, "main.c")

	inv, res := Classify(dir, []string{"cc", "-c", "-g0", src, "-o", "main.o"}, Config{})
	require.Equal(t, resultkind.Ok, res.Kind)
	assert.False(t, inv.DebugNonZero)
}

func TestClassifyPathRewriteUsesBaseDir(t *testing.T) {
	dir := t.TempDir()
	src := writeSourceFile(t, dir, "main.c")
	incDir := filepath.Join(dir, "include")
	require.NoError(t, os.MkdirAll(incDir, 0755))

	inv, res := Classify(dir, []string{"cc", "-c", "-I" + incDir, src, "-o", "main.o"}, Config{BaseDir: dir})
	require.Equal(t, resultkind.Ok, res.Kind)

	found := false
	for _, tok := range inv.classifiedArgs {
		if tok == "-Iinclude" {
			found = true
		}
	}
	assert.True(t, found, "expected -I argument rewritten relative to base dir, got %v", inv.classifiedArgs)
}

func TestClassifyExplicitLanguageOverridesExtension(t *testing.T) {
	dir := t.TempDir()
	src := writeSourceFile(t, dir, "main.src")

	inv, res := Classify(dir, []string{"cc", "-x", "c", "-c", src, "-o", "main.o"}, Config{})
	require.Equal(t, resultkind.Ok, res.Kind)
	assert.Equal(t, LangC, inv.Ext.language)
}

func TestClassifyMDGeneratesImplicitTarget(t *testing.T) {
	dir := t.TempDir()
	src := writeSourceFile(t, dir, "main.c")

	inv, res := Classify(dir, []string{"cc", "-c", "-MD", src, "-o", "main.o"}, Config{})
	require.Equal(t, resultkind.Ok, res.Kind)
	assert.True(t, inv.Deps.Generate)
	assert.True(t, inv.Deps.TargetSpecified)
}

func TestClassifyCcacheSkipDropsNextArgFromSpecialHandling(t *testing.T) {
	dir := t.TempDir()
	src := writeSourceFile(t, dir, "main.c")

	inv, res := Classify(dir, []string{"cc", "-c", "--ccache-skip", "-E", src, "-o", "main.o"}, Config{})
	require.Equal(t, resultkind.Ok, res.Kind)
	assert.Contains(t, inv.classifiedArgs, "-E")
}
