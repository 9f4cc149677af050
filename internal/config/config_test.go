package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSloppinessAcceptsCommaAndSpace(t *testing.T) {
	s := ParseSloppiness("file_macro, time_macros")
	assert.True(t, s.Has(SloppyFileMacro))
	assert.True(t, s.Has(SloppyTimeMacros))
	assert.False(t, s.Has(SloppyIncludeFileMtime))
}

func TestParseSloppinessUnknownTokenIgnored(t *testing.T) {
	s := ParseSloppiness("bogus_token")
	assert.Equal(t, Sloppiness(0), s)
}

func TestClampNLevelsBoundary(t *testing.T) {
	assert.Equal(t, 1, clampNLevels(0))
	assert.Equal(t, 8, clampNLevels(9))
	assert.Equal(t, 3, clampNLevels(3))
}

func TestParseCompilerCheckDefaultsToMtime(t *testing.T) {
	assert.Equal(t, CompilerCheckMtime, parseCompilerCheck(""))
	assert.Equal(t, CompilerCheckNone, parseCompilerCheck("none"))
	assert.Equal(t, CompilerCheckContent, parseCompilerCheck("content"))
}

func TestEnableDirectModeRespectsUnifyAndNoDirect(t *testing.T) {
	c := Config{}
	assert.True(t, c.EnableDirectMode())

	c.NoDirect = true
	assert.False(t, c.EnableDirectMode())

	c = Config{Unify: true}
	assert.False(t, c.EnableDirectMode())
}
