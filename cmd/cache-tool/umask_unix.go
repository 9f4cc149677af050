//go:build !windows

package main

import "syscall"

// applyUmaskValue sets the process umask, matching the original tool's
// apply_umask (ccache.c): CACHE_UMASK lets a build system pin the
// permissions of cache entries regardless of the invoking shell's umask.
func applyUmaskValue(mask int) {
	syscall.Umask(mask)
}
