// Package stats implements the statistics counters (C10): out of scope
// for correctness per spec.md §1 ("statistics counters... called but not
// specified"), but wired up as a real collaborator so the `show` and
// `zero-stats` subcommands have something to report, per spec.md §6's
// "CACHE_DIR/<hex>/stats" layout.
//
// Counters are sharded the same way cache entries are (one file per
// first-hex-character directory) so that concurrent writers from
// unrelated processes mostly land on different files; within one shard,
// updates use the same lock-free read-modify-write-via-temp+rename
// discipline as internal/manifest, so a lost increment under a race is
// tolerated rather than corrupting the file — acceptable here because,
// per spec.md §1, these counters are explicitly not load-bearing for
// cache correctness.
package stats

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cachetool/cache-tool/internal/common"
)

// Counter names emitted by the lookup driver, matching spec.md §8's
// scenario list.
const (
	CacheMiss      = "cache_miss"
	DirectCacheHit = "direct_cache_hit"
	CppCacheHit    = "cpp_cache_hit"
	Unsupported    = "unsupported"
	CompileFailed  = "compile_failed"
	CacheWriteErr  = "cache_write_error"
)

const shardFileName = "stats"
const hexDigits = "0123456789abcdef"

// Increment bumps name by one in the shard file selected by shardKey's
// first character (any cache/manifest key works; callers typically pass
// the manifest or object key for the run being recorded).
func Increment(cacheDir string, shardKey string, name string) {
	shard := shardFor(cacheDir, shardKey)
	counts := readShard(shard)
	counts[name]++
	_ = writeShard(shard, counts)
}

// Totals accumulates every shard's counters across the whole cache dir,
// for the `show` subcommand.
func Totals(cacheDir string) map[string]int64 {
	out := make(map[string]int64)
	for _, c := range hexDigits {
		shard := filepath.Join(cacheDir, string(c), shardFileName)
		for name, n := range readShard(shard) {
			out[name] += n
		}
	}
	return out
}

// Zero clears every shard's counters, for `zero-stats`.
func Zero(cacheDir string) error {
	for _, c := range hexDigits {
		shard := filepath.Join(cacheDir, string(c), shardFileName)
		if err := writeShard(shard, map[string]int64{}); err != nil {
			return err
		}
	}
	return nil
}

// Summary renders the totals the way `show` reports them, sorted by name
// for stable output.
func Summary(cacheDir string) string {
	totals := Totals(cacheDir)
	names := make([]string, 0, len(totals))
	for name := range totals {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%-20s %d\n", name, totals[name])
	}
	return b.String()
}

func shardFor(cacheDir string, shardKey string) string {
	c := byte('0')
	if len(shardKey) > 0 {
		c = shardKey[0]
	}
	return filepath.Join(cacheDir, string(c), shardFileName)
}

func readShard(path string) map[string]int64 {
	counts := make(map[string]int64)
	f, err := os.Open(path)
	if err != nil {
		return counts
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		n, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		counts[fields[0]] = n
	}
	return counts
}

func writeShard(path string, counts map[string]int64) error {
	if err := common.MkdirForFile(path); err != nil {
		return err
	}
	tmp, err := common.OpenTempFile(path)
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	w := bufio.NewWriter(tmp)
	for _, name := range names {
		fmt.Fprintf(w, "%s %d\n", name, counts[name])
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return common.AtomicRename(tmpPath, path)
}
