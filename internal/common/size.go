package common

import "github.com/dustin/go-humanize"

// ParseHumanSize parses sizes like "10G", "512M", "1024" (a bare number
// is a byte count) into a byte count.
func ParseHumanSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

// FormatHumanSize renders n bytes the way `show` reports cache usage.
func FormatHumanSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}
