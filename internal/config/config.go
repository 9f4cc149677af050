// Package config reads the CACHE_* environment surface (spec.md §6) into
// a single Config value. It reads the environment only; command-line
// flags are bound separately by the CLI (internal/common's BindEnv*).
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cachetool/cache-tool/internal/common"
)

// Sloppiness relaxes specific correctness checks at the user's risk.
type Sloppiness int

const (
	SloppyFileMacro Sloppiness = 1 << iota
	SloppyIncludeFileMtime
	SloppyTimeMacros
)

// Has reports whether bit is set in s.
func (s Sloppiness) Has(bit Sloppiness) bool {
	return s&bit != 0
}

// ParseSloppiness parses a comma/space separated list of sloppiness tokens.
func ParseSloppiness(v string) Sloppiness {
	var s Sloppiness
	for _, tok := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' }) {
		switch strings.TrimSpace(tok) {
		case "file_macro":
			s |= SloppyFileMacro
		case "include_file_mtime":
			s |= SloppyIncludeFileMtime
		case "time_macros":
			s |= SloppyTimeMacros
		}
	}
	return s
}

// CompilerCheckPolicy decides what (if anything) about the real compiler
// binary contributes to the common hash.
type CompilerCheckPolicy int

const (
	CompilerCheckMtime CompilerCheckPolicy = iota
	CompilerCheckNone
	CompilerCheckContent
)

func parseCompilerCheck(v string) CompilerCheckPolicy {
	switch v {
	case "none":
		return CompilerCheckNone
	case "content":
		return CompilerCheckContent
	default:
		return CompilerCheckMtime
	}
}

// Config is the full environment-derived configuration for one cache-tool run.
type Config struct {
	CacheDir    string
	TempDir     string
	BaseDir     string // absolute; empty means "no rewriting"
	LogFile     string
	LogVerbosity int

	Disable   bool
	ReadOnly  bool
	Recache   bool
	HardLink  bool
	Compress  bool
	Unify     bool
	NoDirect  bool
	CPP2      bool // true = disable the preprocessed-source-compile optimisation
	NLevels   int
	Extension string

	Sloppiness      Sloppiness
	CompilerCheck   CompilerCheckPolicy
	ExtraFiles      []string
	CC              string
	Prefix          string
	Umask           string
	HashDir         bool // include cwd in the common hash

	MaxSizeBytes int64
	MaxFiles     int64
}

func getenvBool(name string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	return v == "1" || v == "true" || v == "yes"
}

func getenvInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return def
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func clampNLevels(n int) int {
	if n < 1 {
		return 1
	}
	if n > 8 {
		return 8
	}
	return n
}

// Load reads the full CACHE_* environment surface and returns a ready Config.
func Load() Config {
	home, _ := os.UserHomeDir()
	cacheDir := os.Getenv("CACHE_DIR")
	if cacheDir == "" {
		cacheDir = filepath.Join(home, ".cache-tool")
	}
	tempDir := os.Getenv("CACHE_TEMPDIR")
	if tempDir == "" {
		tempDir = filepath.Join(cacheDir, "tmp")
	}

	baseDir := os.Getenv("CACHE_BASEDIR")
	if !filepath.IsAbs(baseDir) {
		baseDir = ""
	} else {
		baseDir = strings.TrimSuffix(baseDir, string(filepath.Separator))
	}

	maxSize, _ := common.ParseHumanSize(os.Getenv("CACHE_MAXSIZE"))
	if maxSize == 0 {
		maxSize = 5 * 1024 * 1024 * 1024 // 5G default, matching the original tool
	}

	extraFiles := []string(nil)
	if v := os.Getenv("CACHE_EXTRAFILES"); v != "" {
		extraFiles = strings.Split(v, ":")
	}

	return Config{
		CacheDir:     cacheDir,
		TempDir:      tempDir,
		BaseDir:      baseDir,
		LogFile:      os.Getenv("CACHE_LOGFILE"),
		LogVerbosity: getenvInt("CACHE_LOG_VERBOSITY", 0),

		Disable:  getenvBool("CACHE_DISABLE"),
		ReadOnly: getenvBool("CACHE_READONLY"),
		Recache:  getenvBool("CACHE_RECACHE"),
		HardLink: getenvBool("CACHE_HARDLINK"),
		Compress: getenvBool("CACHE_COMPRESS"),
		Unify:    getenvBool("CACHE_UNIFY"),
		NoDirect: getenvBool("CACHE_NODIRECT"),
		CPP2:     getenvBool("CACHE_CPP2"),
		NLevels:  clampNLevels(getenvInt("CACHE_NLEVELS", 2)),
		Extension: os.Getenv("CACHE_EXTENSION"),

		Sloppiness:    ParseSloppiness(os.Getenv("CACHE_SLOPPINESS")),
		CompilerCheck: parseCompilerCheck(os.Getenv("CACHE_COMPILERCHECK")),
		ExtraFiles:    extraFiles,
		CC:            os.Getenv("CACHE_CC"),
		Prefix:        os.Getenv("CACHE_PREFIX"),
		Umask:         os.Getenv("CACHE_UMASK"),
		HashDir:       getenvBool("CACHE_HASHDIR"),

		MaxSizeBytes: maxSize,
		MaxFiles:     int64(getenvInt("CACHE_MAXFILES", 0)),
	}
}

// EnableDirectMode reports whether direct mode may be attempted at all,
// before any per-file poisoning is discovered (unify and -Wp,/-Xpreprocessor
// disable it too, but those are per-invocation, not per-config).
func (c Config) EnableDirectMode() bool {
	return !c.NoDirect && !c.Unify
}
