// Package cpprewrite implements the preprocessed-output scanner (C3): a
// single memory-mapped pass over preprocessor output that simultaneously
// hashes the (path-rewritten) text and harvests `# N "path"` / `#line N
// "path"` include references.
//
// The byte-offset state-walking style here is grounded on the teacher's
// own hand-rolled include scanner (internal/client/own-includes-parser.go,
// collectIncludeStatementsInFile), generalized from "#include" directives
// to line-marker directives.
package cpprewrite

import (
	"bytes"
	"os"
	"strings"
	"time"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/cachetool/cache-tool/internal/config"
	"github.com/cachetool/cache-tool/internal/digest"
	"github.com/cachetool/cache-tool/internal/fileset"
	"github.com/cachetool/cache-tool/internal/pathrewrite"
	"github.com/cachetool/cache-tool/internal/sourcehash"
)

// Options configures one scan.
type Options struct {
	BaseDir       string // absolute; paths under it are stored relative
	InputFileAbs  string // the .cpp/.c itself — never remembered as an include
	CompileTime   time.Time
	Sloppiness    config.Sloppiness
}

// Result is what a scan discovered.
type Result struct {
	IncludedFiles     []fileset.IncludedFile
	DirectModeDisabled bool
	DisabledReason     string
}

// isBracketedSystemName reports whether a quoted path from a line marker
// is one of the synthetic GCC/Clang names that never denote a real file.
func isBracketedSystemName(p string) bool {
	return strings.HasPrefix(p, "<") && strings.HasSuffix(p, ">")
}

// isLineDirectiveStart checks whether buf[hashPos] == '#' begins a line
// marker ("# 123 \"path\"" or "#line 123 \"path\""), returning the offset
// just past the directive keyword/number where the quoted path begins.
func isLineDirectiveStart(buf []byte, hashPos int, lineEnd int) (afterKeyword int, ok bool) {
	i := hashPos + 1
	for i < lineEnd && buf[i] == ' ' {
		i++
	}
	if i < lineEnd && buf[i] >= '0' && buf[i] <= '9' {
		return i, true
	}
	if i+5 <= lineEnd && string(buf[i:i+5]) == "line " {
		return i + 5, true
	}
	return 0, false
}

func lineEndFrom(buf []byte, offset int) int {
	if nl := bytes.IndexByte(buf[offset:], '\n'); nl != -1 {
		return offset + nl
	}
	return len(buf)
}

// Scan streams path (preprocessor stdout) through hs, hashing its bytes
// with every discovered include path rewritten relative to opts.BaseDir,
// and returns the set of include files it observed. Side effects (mtime
// and time-macro checks, per-file hashing) may disable direct mode for
// this run; that never aborts the scan itself.
func Scan(hs *digest.Hasher, path string, opts Options) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return Result{}, err
	}
	if stat.Size() == 0 {
		return Result{}, nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return Result{}, err
	}
	defer m.Unmap()
	buf := []byte(m)

	result := Result{IncludedFiles: make([]fileset.IncludedFile, 0, 16)}
	seen := make(map[string]bool, 16)

	n := len(buf)
	p := 0
	offset := 0

	for offset < n {
		isLineStart := offset == 0 || buf[offset-1] == '\n'
		if isLineStart && buf[offset] == '#' {
			lineEnd := lineEndFrom(buf, offset)
			if afterKeyword, ok := isLineDirectiveStart(buf, offset, lineEnd); ok {
				if qOpenRel := bytes.IndexByte(buf[afterKeyword:lineEnd], '"'); qOpenRel >= 0 {
					qOpen := afterKeyword + qOpenRel
					if qCloseRel := bytes.IndexByte(buf[qOpen+1:lineEnd], '"'); qCloseRel >= 0 {
						qClose := qOpen + 1 + qCloseRel

						// step 1: feed pending bytes up to and including the opening quote, unchanged
						hs.Update(buf[p : qOpen+1])

						// step 2+3: rewrite the quoted path and feed the rewritten string
						rawPath := string(buf[qOpen+1 : qClose])
						rewritten := pathrewrite.RelativeToBase(rawPath, opts.BaseDir)
						hs.UpdateString(rewritten)

						// step 4: advance p to the closing quote (it is fed with the next pending span)
						p = qClose

						rememberIncludeFile(rawPath, seen, opts, &result)

						offset = qClose + 1
						continue
					}
				}
			}
		}

		if nl := bytes.IndexByte(buf[offset:], '\n'); nl != -1 {
			offset += nl + 1
		} else {
			offset = n
		}
	}

	if p < n {
		hs.Update(buf[p:n])
	}

	return result, nil
}

// rememberIncludeFile implements the side effect described for C3: resolve
// the raw path to a real file, reject it (poisoning direct mode) if it's
// too new or time-dependent, and record its FileHash.
func rememberIncludeFile(rawPath string, seen map[string]bool, opts Options, result *Result) {
	if isBracketedSystemName(rawPath) || rawPath == opts.InputFileAbs || seen[rawPath] {
		return
	}
	seen[rawPath] = true

	info, err := os.Stat(rawPath)
	if err != nil {
		return // not a hash-poisoning error: the file simply isn't real (e.g. <built-in>)
	}
	if info.IsDir() {
		return
	}

	if !opts.CompileTime.IsZero() && !info.ModTime().Before(opts.CompileTime) {
		if !opts.Sloppiness.Has(config.SloppyIncludeFileMtime) {
			result.DirectModeDisabled = true
			result.DisabledReason = "include file mtime is not older than compilation start: " + rawPath
			return
		}
	}

	fileHasher := digest.Start()
	flag, err := sourcehash.HashSourceCodeFile(fileHasher, rawPath)
	if err != nil {
		result.DirectModeDisabled = true
		result.DisabledReason = "error hashing include file " + rawPath
		return
	}
	if flag&sourcehash.FoundTime != 0 && !opts.Sloppiness.Has(config.SloppyTimeMacros) {
		result.DirectModeDisabled = true
		result.DisabledReason = "time macro found in include file " + rawPath
	}

	result.IncludedFiles = append(result.IncludedFiles, fileset.IncludedFile{
		Path: rawPath,
		Hash: fileset.FileHash{Digest: fileHasher.Finish(), Size: info.Size()},
	})
}
