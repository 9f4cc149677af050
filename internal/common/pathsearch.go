package common

import (
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pkg/errors"
)

// FindRealCompiler PATH-searches for an executable named compilerName
// that is not thisToolPath, per spec.md §6's "PATH-searching for an
// executable of the requested name that is not this tool itself" — this
// is how a symlink invocation (`gcc` pointing at cache-tool) still finds
// the genuine compiler instead of recursing into itself.
func FindRealCompiler(compilerName string, thisToolPath string) (string, error) {
	if filepath.IsAbs(compilerName) || filepath.Base(compilerName) != compilerName {
		abs, err := filepath.Abs(compilerName)
		if err != nil {
			return "", err
		}
		if !sameFile(abs, thisToolPath) {
			if _, err := os.Stat(abs); err == nil {
				return abs, nil
			}
		}
	}

	pathEnv := os.Getenv("PATH")
	for _, dir := range filepath.SplitList(pathEnv) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, compilerName)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if sameFile(candidate, thisToolPath) {
			continue
		}
		if abs, err := filepath.Abs(candidate); err == nil {
			return abs, nil
		}
	}

	return "", errors.Wrapf(exec.ErrNotFound, "searching PATH for %q", compilerName)
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
