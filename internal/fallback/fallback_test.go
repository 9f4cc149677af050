package fallback

import (
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripCcacheArgsRemovesControlTokensKeepsSkipTarget(t *testing.T) {
	argv := []string{"cc", "--ccache-skip", "-DFOO", "-c", "foo.c", "--ccache-disable"}
	got := StripCcacheArgs(argv)
	assert.Equal(t, []string{"cc", "-DFOO", "-c", "foo.c"}, got)
}

func TestStripCcacheArgsLeavesPlainArgsAlone(t *testing.T) {
	argv := []string{"cc", "-c", "foo.c", "-o", "foo.o"}
	assert.Equal(t, argv, StripCcacheArgs(argv))
}

func TestRunRefusesSelfRecursion(t *testing.T) {
	self, err := os.Executable()
	require.NoError(t, err)

	_, err = Run(Request{
		RealCompilerPath: self,
		Argv:             []string{"cc", "-c", "foo.c"},
		ThisToolPath:     self,
	})
	assert.Error(t, err)
}

func TestRunExecutesRealCompilerAndPropagatesExitCode(t *testing.T) {
	truePath, err := exec.LookPath("true")
	require.NoError(t, err)

	code, err := Run(Request{
		RealCompilerPath: truePath,
		Argv:             []string{"true"},
		ThisToolPath:     "/nonexistent/cache-tool",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}
