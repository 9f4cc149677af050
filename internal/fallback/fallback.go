// Package fallback implements the fallback executor (C8): the universal
// "give up" path. Any condition the lookup driver cannot handle routes
// here, which re-execs the real compiler transparently with the user's
// original arguments so that behavior is never worse than calling the
// compiler directly (spec.md §7's propagation policy).
//
// Grounded on the teacher's own "launch an external compiler and
// propagate its outcome" pattern (internal/server/cxx-launcher.go), but
// wired straight to the calling process's stdio instead of capturing
// into buffers — a fallback exec must look exactly like a direct
// invocation of the real compiler to anything watching this process.
package fallback

import (
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// Request describes the exec the fallback executor must perform.
type Request struct {
	// RealCompilerPath is the absolute path to the real compiler,
	// resolved by PATH search before this call (never this tool itself).
	RealCompilerPath string
	// Argv is the *original* argv the user invoked cache-tool with,
	// including argv[0]; Run removes any --ccache-* control tokens.
	Argv []string
	// Prefix, when non-empty, is a CACHE_PREFIX executable prepended to
	// the compiler invocation (e.g. "distcc").
	Prefix string
	// ThisToolPath is this process's own absolute path, checked against
	// RealCompilerPath to prevent infinite self-recursion.
	ThisToolPath string
	// CleanupFiles are scratch files owned by the aborted run that should
	// be removed before re-exec'ing (the run's temp directory contents).
	CleanupFiles []string
}

// StripCcacheArgs removes every "--ccache-*" token from argv. The token
// following "--ccache-skip" is kept, matching the classifier, which
// passes it through verbatim.
func StripCcacheArgs(argv []string) []string {
	out := make([]string, 0, len(argv))
	for _, a := range argv {
		if strings.HasPrefix(a, "--ccache-") {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Run performs the fallback exec and returns the exit code the caller
// should use for os.Exit. It never returns an error for a normal
// (non-zero) compiler exit; a non-nil error means the real compiler
// itself could not be started at all.
func Run(req Request) (int, error) {
	for _, f := range req.CleanupFiles {
		_ = os.Remove(f)
	}

	if sameFile(req.RealCompilerPath, req.ThisToolPath) {
		return 1, errSelfRecursion(req.RealCompilerPath)
	}

	argv := StripCcacheArgs(req.Argv)
	if len(argv) == 0 {
		argv = []string{req.RealCompilerPath}
	} else {
		argv[0] = req.RealCompilerPath
	}

	name := req.RealCompilerPath
	args := argv[1:]
	if req.Prefix != "" {
		args = append([]string{req.RealCompilerPath}, args...)
		name = req.Prefix
	}

	cmd := exec.Command(name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return 1, errors.Wrapf(err, "exec %s", name)
}

func sameFile(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	ai, errA := os.Stat(a)
	bi, errB := os.Stat(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return os.SameFile(ai, bi)
}

type recursionError struct{ path string }

func (e recursionError) Error() string {
	return "cache-tool: refusing to exec itself as the real compiler (" + e.path + ")"
}

func errSelfRecursion(path string) error { return recursionError{path: path} }

// CleanupScratchDir removes every temp file left behind under dir,
// tolerating a directory that is already gone (another process's
// cleanup or the OS's own tmp-reaper may have won the race).
func CleanupScratchDir(dir string) {
	if dir == "" {
		return
	}
	_ = os.RemoveAll(dir)
}
