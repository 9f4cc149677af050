// Package digest implements the hash primitive wrapper (C1): a streaming
// digest with labeled delimiters between semantically distinct spans, and
// a running byte count that is itself part of a cache entry's identity.
//
// The underlying message-digest primitive is treated as an opaque
// collaborator by design (see spec's scope notes) — any fixed-width
// streaming hash works, so this wraps the standard library's md5 rather
// than pulling in a third-party hash implementation that buys nothing
// here.
package digest

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"strconv"
)

// Size is the width, in bytes, of a Digest's fixed hash component.
const Size = md5.Size // 16 bytes

// Digest is the identity of a cache entry: a fixed-width hash plus the
// total number of bytes streamed into the hash that produced it.
type Digest struct {
	Bytes [Size]byte
	Total int64
}

// ObjectName renders the textual object name used to derive filesystem
// paths: hex(digest) followed by the decimal total byte count.
func (d Digest) ObjectName() string {
	return hex.EncodeToString(d.Bytes[:]) + strconv.FormatInt(d.Total, 10)
}

// IsZero reports whether d is the zero-value Digest (never a valid key).
func (d Digest) IsZero() bool {
	return d.Total == 0 && d.Bytes == [Size]byte{}
}

// Hasher is a streaming hash builder used to compute the common, direct,
// and preprocessor hashes described by the data model. Each distinct span
// fed in is preceded by a Delimiter call so that concatenation of two
// different fields can never collide with concatenation of two others.
type Hasher struct {
	h     hash.Hash
	total int64
}

// Start begins a new hashing sequence.
func Start() *Hasher {
	return &Hasher{h: md5.New()}
}

// Update feeds raw bytes into the hash.
func (hs *Hasher) Update(b []byte) *Hasher {
	n, _ := hs.h.Write(b)
	hs.total += int64(n)
	return hs
}

// UpdateString feeds s, including its terminating zero byte, into the
// hash — matching the primitive's documented string-hashing semantics so
// that "ab" followed by "c" never collides with "a" followed by "bc".
func (hs *Hasher) UpdateString(s string) *Hasher {
	hs.Update([]byte(s))
	hs.Update([]byte{0})
	return hs
}

// UpdateInt feeds the big-endian bytes of n into the hash.
func (hs *Hasher) UpdateInt(n int64) *Hasher {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	hs.Update(buf[:])
	return hs
}

// Delimiter hashes "\0" + label + "\0", a disambiguator placed between
// semantically distinct spans fed into the hash.
func (hs *Hasher) Delimiter(label string) *Hasher {
	hs.Update([]byte{0})
	hs.Update([]byte(label))
	hs.Update([]byte{0})
	return hs
}

// Finish returns the accumulated Digest. The Hasher must not be reused
// afterwards; call Clone first if a branching computation is needed.
func (hs *Hasher) Finish() Digest {
	var d Digest
	copy(d.Bytes[:], hs.h.Sum(nil))
	d.Total = hs.total
	return d
}

// Clone returns an independent copy of hs, so a shared "common hash" can
// be extended differently for the direct and preprocessor attempts
// without either one disturbing the other.
func (hs *Hasher) Clone() *Hasher {
	// crypto/md5's hash.Hash implements encoding.BinaryMarshaler, letting
	// us snapshot internal block state without re-streaming prior input.
	type marshalable interface {
		MarshalBinary() ([]byte, error)
	}
	type unmarshalable interface {
		UnmarshalBinary([]byte) error
	}

	clone := md5.New()
	if m, ok := hs.h.(marshalable); ok {
		if state, err := m.MarshalBinary(); err == nil {
			if u, ok := clone.(unmarshalable); ok {
				_ = u.UnmarshalBinary(state)
			}
		}
	}
	return &Hasher{h: clone, total: hs.total}
}
