package digest

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateStringIncludesTerminator(t *testing.T) {
	a := Start().UpdateString("ab").UpdateString("c").Finish()
	b := Start().UpdateString("a").UpdateString("bc").Finish()
	assert.NotEqual(t, a, b, "delimited string hashing must not collide across split points")
}

func TestDelimiterPreventsConcatenationCollision(t *testing.T) {
	// Without delimiters, "-Ifoo" followed by "bar.c" would collide with "-I" followed by "foobar.c".
	a := Start().Delimiter("arg").UpdateString("-Ifoo").Delimiter("arg").UpdateString("bar.c").Finish()
	b := Start().Delimiter("arg").UpdateString("-I").Delimiter("arg").UpdateString("foobar.c").Finish()
	assert.NotEqual(t, a, b)
}

func TestCloneDoesNotShareState(t *testing.T) {
	base := Start().UpdateString("common")
	left := base.Clone().UpdateString("left").Finish()
	right := base.Clone().UpdateString("right").Finish()
	assert.NotEqual(t, left, right)

	// the original base hasher must still be usable and independent of both clones
	baseOnly := base.Finish()
	assert.NotEqual(t, baseOnly, left)
	assert.NotEqual(t, baseOnly, right)
}

func TestObjectNameFormat(t *testing.T) {
	d := Start().UpdateString("hello").Finish()
	name := d.ObjectName()
	hexPart := name[:Size*2]
	totalPart := name[Size*2:]
	require.Len(t, hexPart, Size*2)
	assert.Equal(t, strconv.FormatInt(d.Total, 10), totalPart)
	assert.False(t, d.IsZero())
}

func TestZeroDigestIsZero(t *testing.T) {
	var d Digest
	assert.True(t, d.IsZero())
}
