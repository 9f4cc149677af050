//go:build windows

package main

// applyUmaskValue is a no-op on platforms without a process umask.
func applyUmaskValue(mask int) {}
