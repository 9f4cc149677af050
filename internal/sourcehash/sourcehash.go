// Package sourcehash implements the source-code hasher (C2): it streams a
// source or include file's bytes through a digest.Hasher while watching
// for the literal tokens that make compilation output time-dependent.
// Grounded on the teacher's streaming-read-then-hash pattern
// (internal/client/includes-collector.go's CalcSHA256OfFile), generalized
// to flag embedded time macros as it goes instead of a second pass.
package sourcehash

import (
	"bufio"
	"bytes"
	"io"
	"os"

	"github.com/cachetool/cache-tool/internal/digest"
)

// Flag is a bitset of what HashSourceCodeFile/HashSourceCodeString observed.
type Flag int

const (
	// OK means the file was read and hashed with no anomalies.
	OK Flag = 1 << iota
	// Error means the file could not be fully read.
	Error
	// FoundTime means one of __DATE__, __TIME__, __TIMESTAMP__ appeared
	// in the stream. It is advisory: the caller decides whether
	// sloppiness tolerates it or whether direct mode must be disabled.
	FoundTime
)

var timeMacros = [][]byte{[]byte("__DATE__"), []byte("__TIME__"), []byte("__TIMESTAMP__")}

const readChunkSize = 64 * 1024

// scanState tracks the longest suffix of already-hashed bytes that could
// be a prefix of a time macro, so a macro split across two read chunks is
// still detected without buffering the whole file.
type scanState struct {
	carry []byte
}

func (s *scanState) feed(chunk []byte) bool {
	// Prepend the tail carried from the previous chunk, if any.
	joined := chunk
	if len(s.carry) > 0 {
		joined = append(append([]byte(nil), s.carry...), chunk...)
	}

	found := false
	for _, m := range timeMacros {
		if bytes.Contains(joined, m) {
			found = true
			break
		}
	}

	// carry forward enough trailing bytes to catch a macro split across
	// the next chunk boundary
	maxMacroLen := 0
	for _, m := range timeMacros {
		if len(m) > maxMacroLen {
			maxMacroLen = len(m)
		}
	}
	carryLen := maxMacroLen - 1
	if carryLen < 0 {
		carryLen = 0
	}
	if len(chunk) >= carryLen {
		s.carry = append(s.carry[:0], chunk[len(chunk)-carryLen:]...)
	} else {
		s.carry = append(s.carry[:0], joined[maxIntSub(len(joined), carryLen):]...)
	}

	return found
}

func maxIntSub(a, b int) int {
	if a-b < 0 {
		return 0
	}
	return a - b
}

// HashSourceCodeString hashes data (already read into memory) as path's
// contents, detecting time macros as it streams through the hash.
func HashSourceCodeString(hs *digest.Hasher, data []byte, path string) Flag {
	hs.Delimiter("source-file")
	hs.UpdateString(path)

	state := scanState{}
	foundTime := false
	const chunk = readChunkSize
	for off := 0; off < len(data); off += chunk {
		end := off + chunk
		if end > len(data) {
			end = len(data)
		}
		part := data[off:end]
		hs.Update(part)
		if state.feed(part) {
			foundTime = true
		}
	}

	flag := OK
	if foundTime {
		flag |= FoundTime
	}
	return flag
}

// HashSourceCodeFile opens and streams path through HashSourceCodeString's
// logic without holding the whole file in memory at once.
func HashSourceCodeFile(hs *digest.Hasher, path string) (Flag, error) {
	f, err := os.Open(path)
	if err != nil {
		return Error, err
	}
	defer f.Close()

	hs.Delimiter("source-file")
	hs.UpdateString(path)

	reader := bufio.NewReaderSize(f, readChunkSize)
	state := scanState{}
	foundTime := false
	buf := make([]byte, readChunkSize)

	for {
		n, err := reader.Read(buf)
		if n > 0 {
			hs.Update(buf[:n])
			if state.feed(buf[:n]) {
				foundTime = true
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return Error, err
		}
	}

	flag := OK
	if foundTime {
		flag |= FoundTime
	}
	return flag, nil
}
