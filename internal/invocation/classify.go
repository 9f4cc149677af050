// Package invocation implements the argument classifier (C4): it walks a
// compiler command line and partitions it into preprocessor-args,
// compiler-args, the input file, and the subset of tokens that
// contribute to each hashing mode.
//
// The walk style — a single index-based loop with small parseArg*
// helpers recognizing one option family at a time — is grounded on the
// teacher's own command-line walker
// (internal/client/invocation.go, ParseCmdLineInvocation).
package invocation

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cachetool/cache-tool/internal/pathrewrite"
	"github.com/cachetool/cache-tool/internal/resultkind"
)

// hashScope says whether a classified token contributes to the direct
// hash only, to both hashes, or to neither (per the data-model
// invariants: -D/-I/-U/-include/etc are direct-only, -L is excluded from
// both, everything else contributes to both).
type hashScope int

const (
	hashBoth hashScope = iota
	hashDirectOnly
	hashNone
)

// DepFlags mirrors the dependency-generation cmd-line flags (-MD/-MMD/
// -MF/-MT/-MQ), grounded on the teacher's internal/client/dep-cmd-flags.go.
type DepFlags struct {
	Generate        bool
	FileName        string
	TargetSpecified bool
}

// Invocation is the result of classifying one compiler command line.
type Invocation struct {
	CompilerName string
	Argv0Path    string // absolute path to the real compiler, resolved by the caller

	InputFile    string // as given on the command line
	InputFileAbs string
	OutputFile   string

	ExplicitLanguage Language // "" if -x wasn't given (or was reset by "-x none")
	Ext              extInfo  // deduced from extension, possibly overridden by ExplicitLanguage

	SawDashC bool
	SawDashS bool
	Deps     DepFlags

	DirectModeDisabled   bool
	DirectDisabledReason string
	UnifySuppressed      bool // -g3: suppresses the preprocessed-source-compile optimisation
	DebugNonZero         bool // any -g* other than -g0: disables unify mode

	InputCharset string // -finput-charset=... if present, forwarded to preprocessor_args only

	classifiedArgs []string
	hashScopes     []hashScope
}

// Config carries the small amount of external state the classifier needs.
type Config struct {
	BaseDir string
}

func pathAbs(cwd string, relPath string) string {
	if relPath == "" || relPath[0] == '/' {
		return relPath
	}
	return filepath.Join(cwd, relPath)
}

var fatalUnsupportedExact = map[string]bool{
	"-E": true, "-M": true, "-MM": true, "--coverage": true,
	"-fbranch-probabilities": true, "-fprofile-arcs": true,
	"-fprofile-generate": true, "-fprofile-use": true, "-ftest-coverage": true,
	"-save-temps": true,
}

var pathRewriteFlags = []string{"-I", "-idirafter", "-imacros", "-include", "-iprefix", "-isystem"}

func matchFlag(arg string, flag string) (value string, joined bool, isMatch bool) {
	if arg == flag {
		return "", false, true
	}
	if strings.HasPrefix(arg, flag) && len(arg) > len(flag) {
		return arg[len(flag):], true, true
	}
	return "", false, false
}

// Classify walks argv (argv[0] is the compiler name) and produces an
// Invocation, or a resultkind.Result explaining why the caller must give
// up (fatal-unsupported options, link step, multiple input files, etc).
func Classify(cwd string, argv []string, cfg Config) (*Invocation, resultkind.Result) {
	if len(argv) == 0 {
		return nil, resultkind.GiveUpf("empty command line")
	}

	inv := &Invocation{CompilerName: argv[0]}
	args := argv[1:]

	appendArg := func(tok string, scope hashScope) {
		inv.classifiedArgs = append(inv.classifiedArgs, tok)
		inv.hashScopes = append(inv.hashScopes, scope)
	}

	archSeen := 0
	skipNext := false

	i := 0
	for i < len(args) {
		arg := args[i]

		if skipNext {
			appendArg(arg, hashBoth)
			skipNext = false
			i++
			continue
		}

		if len(arg) == 0 {
			i++
			continue
		}

		if arg[0] != '-' {
			if res := classifyPlainArg(inv, cwd, arg, appendArg); res.Kind == resultkind.GiveUp {
				return nil, res
			}
			i++
			continue
		}

		switch {
		case strings.HasPrefix(arg, "@"):
			return nil, resultkind.GiveUpf("response files are unsupported: " + arg)

		case fatalUnsupportedExact[arg]:
			return nil, resultkind.GiveUpf("unsupported option: " + arg)

		case arg == "-arch":
			archSeen++
			if archSeen > 1 {
				return nil, resultkind.GiveUpf("multiple -arch is unsupported")
			}
			appendArg(arg, hashBoth)
			if i+1 < len(args) {
				i++
				appendArg(args[i], hashBoth)
			}

		case arg == "-Xpreprocessor":
			inv.DirectModeDisabled = true
			inv.DirectDisabledReason = "-Xpreprocessor forces preprocessor mode"
			appendArg(arg, hashBoth)

		case strings.HasPrefix(arg, "-Wp,"):
			handleWpArg(inv, arg, appendArg)

		case arg == "-MD" || arg == "-MMD":
			inv.Deps.Generate = true
			appendArg(arg, hashBoth)

		case arg == "-MF":
			if i+1 >= len(args) {
				return nil, resultkind.GiveUpf("-MF requires an argument")
			}
			i++
			inv.Deps.FileName = pathAbs(cwd, args[i])
			appendArg("-MF", hashBoth)
			appendArg(args[i], hashBoth)

		case strings.HasPrefix(arg, "-MF") && len(arg) > 3:
			inv.Deps.FileName = pathAbs(cwd, arg[3:])
			appendArg(arg, hashBoth)

		case arg == "-MT" || arg == "-MQ":
			inv.Deps.TargetSpecified = true
			if i+1 >= len(args) {
				return nil, resultkind.GiveUpf(arg + " requires an argument")
			}
			i++
			appendArg(arg, hashBoth)
			appendArg(args[i], hashBoth)

		case strings.HasPrefix(arg, "-MT") || strings.HasPrefix(arg, "-MQ"):
			inv.Deps.TargetSpecified = true
			appendArg(arg, hashBoth)

		case arg == "-M" || arg == "-MM" || arg == "-MG":
			return nil, resultkind.GiveUpf("unsupported option: " + arg)

		case arg == "-x":
			if i+1 >= len(args) {
				return nil, resultkind.GiveUpf("-x requires an argument")
			}
			i++
			setExplicitLanguage(inv, args[i])

		case strings.HasPrefix(arg, "-x") && len(arg) > 2:
			setExplicitLanguage(inv, arg[2:])

		case arg == "-o":
			if i+1 >= len(args) {
				return nil, resultkind.GiveUpf("-o requires an argument")
			}
			i++
			if args[i] == "-" {
				return nil, resultkind.GiveUpf("-o - is unsupported")
			}
			inv.OutputFile = args[i]

		case strings.HasPrefix(arg, "-o") && len(arg) > 2:
			if arg[2:] == "-" {
				return nil, resultkind.GiveUpf("-o- is unsupported")
			}
			inv.OutputFile = arg[2:]

		case arg == "-c":
			inv.SawDashC = true
			appendArg(arg, hashBoth)

		case arg == "-S":
			inv.SawDashS = true
			appendArg(arg, hashBoth)

		case strings.HasPrefix(arg, "-g"):
			if arg == "-g3" {
				inv.UnifySuppressed = true
			}
			if arg != "-g0" {
				inv.DebugNonZero = true
			}
			appendArg(arg, hashBoth)

		case arg == "--ccache-skip":
			skipNext = true

		case strings.HasPrefix(arg, "--ccache-"):
			// any other --ccache-* control token: strip, never forwarded or hashed

		case strings.HasPrefix(arg, "-finput-charset="):
			inv.InputCharset = arg

		case classifyPathRewriteFlag(inv, cwd, cfg.BaseDir, arg, &i, args, appendArg):
			// handled inside

		case arg == "-D" || arg == "-U":
			appendArg(arg, hashDirectOnly)
			if i+1 < len(args) {
				i++
				appendArg(args[i], hashDirectOnly)
			}

		case classifyDefineUndef(arg, appendArg):
			// -D / -U in joined form (-DFOO=1, -Ufoo): direct-only hash scope

		case arg == "-L":
			if i+1 < len(args) {
				i++
				appendArg(args[i], hashNone)
			}
			appendArg(arg, hashNone)

		case strings.HasPrefix(arg, "-L"):
			appendArg(arg, hashNone)

		default:
			appendArg(arg, hashBoth)
		}

		i++
	}

	if res := finalizeInvocation(inv, cwd); res.Kind != resultkind.Ok {
		return nil, res
	}
	return inv, resultkind.OkResult()
}

func classifyPlainArg(inv *Invocation, cwd string, arg string, appendArg func(string, hashScope)) resultkind.Result {
	abs := pathAbs(cwd, arg)
	if info, err := os.Stat(abs); err == nil && info.Mode().IsRegular() {
		if _, ok := extInfoForFile(arg); ok {
			if inv.InputFile != "" {
				return resultkind.GiveUpf("multiple input source files")
			}
			inv.InputFile = arg
			inv.InputFileAbs = abs
			return resultkind.OkResult()
		}
	}
	appendArg(arg, hashBoth)
	return resultkind.OkResult()
}

func setExplicitLanguage(inv *Invocation, lang string) {
	if lang == "none" {
		inv.ExplicitLanguage = ""
		return
	}
	inv.ExplicitLanguage = Language(lang)
}

func handleWpArg(inv *Invocation, arg string, appendArg func(string, hashScope)) {
	body := strings.TrimPrefix(arg, "-Wp,")
	parts := strings.Split(body, ",")

	// "-Wp,-MD,file" / "-Wp,-MMD,file" reduce to dependency-output flags
	// and do not disable direct mode; anything else routes through the
	// real preprocessor verbatim and forces preprocessor-only mode.
	reducesToDeps := false
	for idx, p := range parts {
		if p == "-MD" || p == "-MMD" {
			inv.Deps.Generate = true
			if idx+1 < len(parts) {
				inv.Deps.FileName = parts[idx+1]
			}
			reducesToDeps = true
		}
	}
	if !reducesToDeps {
		inv.DirectModeDisabled = true
		inv.DirectDisabledReason = "-Wp," + body + " is not reducible to dependency output"
	}
	appendArg(arg, hashBoth)
}

func classifyPathRewriteFlag(inv *Invocation, cwd string, baseDir string, arg string, i *int, args []string, appendArg func(string, hashScope)) bool {
	for _, flag := range pathRewriteFlags {
		value, joined, ok := matchFlag(arg, flag)
		if !ok {
			continue
		}
		if !joined {
			if *i+1 >= len(args) {
				appendArg(arg, hashDirectOnly)
				return true
			}
			*i++
			value = args[*i]
		}
		rewritten := pathrewrite.RelativeToBase(pathAbs(cwd, value), baseDir)
		if joined {
			appendArg(flag+rewritten, hashDirectOnly)
		} else {
			appendArg(flag, hashDirectOnly)
			appendArg(rewritten, hashDirectOnly)
		}
		return true
	}
	return false
}

func classifyDefineUndef(arg string, appendArg func(string, hashScope)) bool {
	if arg == "-D" || arg == "-U" {
		return false // the spaced form is handled by its own case in Classify
	}
	if strings.HasPrefix(arg, "-D") || strings.HasPrefix(arg, "-U") {
		appendArg(arg, hashDirectOnly)
		return true
	}
	return false
}

func finalizeInvocation(inv *Invocation, cwd string) resultkind.Result {
	if !inv.SawDashC {
		return resultkind.GiveUpf("no -c: link step or preprocess-only invocation")
	}
	if inv.InputFile == "" {
		return resultkind.GiveUpf("no input file specified")
	}

	ext, ok := extInfoForFile(inv.InputFile)
	if inv.ExplicitLanguage != "" {
		if langExt, ok2 := languageByName[inv.ExplicitLanguage]; ok2 {
			ext, ok = langExt, true
		} else {
			return resultkind.GiveUpf("unknown language: " + string(inv.ExplicitLanguage))
		}
	}
	if !ok {
		return resultkind.GiveUpf("unsupported source language for " + inv.InputFile)
	}
	inv.Ext = ext

	if inv.Deps.Generate && !inv.Deps.TargetSpecified {
		target := inv.OutputFile
		if target == "" {
			target = defaultOutputFile(inv)
		}
		inv.classifiedArgs = append(inv.classifiedArgs, "-MT", target)
		inv.hashScopes = append(inv.hashScopes, hashBoth, hashBoth)
		inv.Deps.TargetSpecified = true
	}

	if inv.OutputFile == "" {
		inv.OutputFile = defaultOutputFile(inv)
	}

	if inv.InputFileAbs == "" {
		inv.InputFileAbs = pathAbs(cwd, inv.InputFile)
	}

	return resultkind.OkResult()
}

func defaultOutputFile(inv *Invocation) string {
	ext := ".o"
	if inv.SawDashS {
		ext = ".s"
	}
	trimmed := strings.TrimSuffix(inv.InputFile, filepath.Ext(inv.InputFile))
	return trimmed + ext
}

// PreprocessorArgs returns the argv tokens to pass to the real compiler's
// -E invocation: every classified token, plus an explicit input charset
// and an explicit -x language when the user gave one.
func (inv *Invocation) PreprocessorArgs() []string {
	out := make([]string, 0, len(inv.classifiedArgs)+4)
	out = append(out, inv.classifiedArgs...)
	if inv.InputCharset != "" {
		out = append(out, inv.InputCharset)
	}
	if inv.ExplicitLanguage != "" {
		out = append(out, "-x", string(inv.ExplicitLanguage))
	}
	return out
}

// CompilerArgs returns the argv tokens to pass to the real compiler's
// actual compile invocation. When cpp2Enabled (the preprocessed-source
// optimisation is in effect), the explicit -x is the intermediate
// (already-preprocessed) language rather than the original one.
func (inv *Invocation) CompilerArgs(cpp2Enabled bool) []string {
	if !cpp2Enabled {
		return inv.PreprocessorArgs()
	}
	out := make([]string, 0, len(inv.classifiedArgs)+2)
	out = append(out, inv.classifiedArgs...)
	if inv.ExplicitLanguage != "" {
		out = append(out, "-x", string(extensionTable[inv.Ext.intermediateExt].language))
	}
	return out
}

// HashContribDirect returns every classified token except those excluded
// from both hashes (-L), in order: the direct hash takes all contributing
// arguments.
func (inv *Invocation) HashContribDirect() []string {
	out := make([]string, 0, len(inv.classifiedArgs))
	for idx, tok := range inv.classifiedArgs {
		if inv.hashScopes[idx] != hashNone {
			out = append(out, tok)
		}
	}
	return out
}

// HashContribPreprocessor returns the classified tokens that affect
// preprocessor output: -D/-I/-U/-include/etc and -L are excluded.
func (inv *Invocation) HashContribPreprocessor() []string {
	out := make([]string, 0, len(inv.classifiedArgs))
	for idx, tok := range inv.classifiedArgs {
		if inv.hashScopes[idx] == hashBoth {
			out = append(out, tok)
		}
	}
	return out
}
