// Command cache-tool is a transparent front-end for a C/C++ compiler: it
// replaces repeated compilations of unchanged inputs with fast copies of
// previously produced object files, and falls back to the real compiler
// on any miss, error, or unsupported invocation.
//
// It can be invoked directly (`cache-tool gcc -c foo.c -o foo.o`), or via
// a symbolic link named like the compiler (a link named `gcc` pointing
// at this binary). See spec.md §6 for the full invocation contract.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cachetool/cache-tool/internal/common"
	"github.com/cachetool/cache-tool/internal/config"
	"github.com/cachetool/cache-tool/internal/driver"
	"github.com/cachetool/cache-tool/internal/fallback"
	"github.com/cachetool/cache-tool/internal/resultkind"
	"github.com/cachetool/cache-tool/internal/store"
)

var managementSubcommands = map[string]bool{
	"show": true, "zero-stats": true, "clear": true, "limits": true, "version": true,
}

func main() {
	os.Exit(run(os.Args))
}

func run(argv []string) int {
	applyUmask()

	selfPath, err := os.Executable()
	if err != nil {
		selfPath = argv[0]
	}

	invokedName := filepath.Base(argv[0])
	if invokedName != "cache-tool" {
		// Launched via a symlink named like the compiler: its basename is
		// the compiler name to search PATH for.
		return runCompileMode(append([]string{invokedName}, argv[1:]...), selfPath)
	}

	if len(argv) > 1 {
		sub := argv[1]
		if managementSubcommands[sub] || sub == "-h" || sub == "--help" || sub == "--version" {
			return runCLI(argv[1:])
		}
		return runCompileMode(argv[1:], selfPath)
	}

	return runCLI(argv[1:])
}

func applyUmask() {
	v := os.Getenv("CACHE_UMASK")
	if v == "" {
		return
	}
	if mask, err := strconv.ParseInt(v, 8, 32); err == nil {
		applyUmaskValue(int(mask))
	}
}

func runCompileMode(compileArgv []string, selfPath string) int {
	if len(compileArgv) == 0 {
		fmt.Fprintln(os.Stderr, "cache-tool: missing compiler invocation")
		return 1
	}

	cfg := config.Load()
	logger, err := common.MakeLogger(cfg.LogFile, cfg.LogVerbosity)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cache-tool: cannot open log file:", err)
	}

	compilerName := compileArgv[0]
	if cfg.CC != "" {
		compilerName = cfg.CC
	}
	realPath, err := common.FindRealCompiler(compilerName, selfPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cache-tool: cannot find real compiler", compilerName+":", err)
		return 1
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, "cache-tool: cannot determine working directory:", err)
		return 1
	}

	st := store.New(cfg)
	if err := st.EnsureShardDirs(); err != nil && logger != nil {
		logger.Error("cannot create cache shard directories:", err)
	}

	run := &driver.Run{
		Cfg:              cfg,
		Store:            st,
		Logger:           logger,
		Cwd:              cwd,
		RealCompilerPath: realPath,
	}

	effectiveArgv := append([]string{compilerName}, compileArgv[1:]...)
	outcome := driver.Execute(run, effectiveArgv)

	switch outcome.Result.Kind {
	case resultkind.Ok:
		return outcome.ExitCode

	case resultkind.Fatal:
		fmt.Fprintln(os.Stderr, "cache-tool:", outcome.Result.Reason)
		if outcome.Result.Err != nil {
			fmt.Fprintln(os.Stderr, outcome.Result.Err)
		}
		return 1

	default: // GiveUp, or a stray RetryAsMiss that escaped the driver
		if logger != nil {
			logger.Info(1, "falling back to real compiler:", outcome.Result.Reason)
		}
		code, ferr := fallback.Run(fallback.Request{
			RealCompilerPath: realPath,
			Argv:             effectiveArgv,
			Prefix:           cfg.Prefix,
			ThisToolPath:     selfPath,
		})
		if ferr != nil {
			fmt.Fprintln(os.Stderr, "cache-tool:", ferr)
			return 1
		}
		return code
	}
}
