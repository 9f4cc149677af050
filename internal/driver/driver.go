// Package driver implements the lookup driver (C7): the per-run state
// machine that orchestrates a direct-mode attempt, a preprocessor-mode
// attempt, a real compile on a full miss, and serving the result —
// reconciling any disagreement between the two hash paths along the way.
//
// The global mutable state the original design note (spec.md §9) warns
// against is re-architected here as a per-run *Run value threaded
// through every step, grounded on the teacher's own per-invocation
// context object (internal/client/invocation.go's ClientInvocation,
// internal/server/session.go's Session): one struct owns everything
// about a single compilation, and nothing survives past Execute.
package driver

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cachetool/cache-tool/internal/common"
	"github.com/cachetool/cache-tool/internal/config"
	"github.com/cachetool/cache-tool/internal/cpprewrite"
	"github.com/cachetool/cache-tool/internal/digest"
	"github.com/cachetool/cache-tool/internal/fileset"
	"github.com/cachetool/cache-tool/internal/invocation"
	"github.com/cachetool/cache-tool/internal/manifest"
	"github.com/cachetool/cache-tool/internal/resultkind"
	"github.com/cachetool/cache-tool/internal/sourcehash"
	"github.com/cachetool/cache-tool/internal/stats"
	"github.com/cachetool/cache-tool/internal/store"
)

// StatRecorder lets a caller substitute a fake for internal/stats in
// tests; the zero value uses the real shard-file counters.
type StatRecorder func(name string, shardKey string)

// Run is the per-invocation context: everything C4–C8 need to cooperate,
// owned by one call to Execute and discarded afterwards.
type Run struct {
	Cfg        config.Config
	Store      *store.Store
	Logger     *common.Logger
	RecordStat StatRecorder

	Cwd string

	// RealCompilerPath is the absolute, PATH-resolved path to the actual
	// compiler (never this tool itself).
	RealCompilerPath string

	compileStart time.Time
	scratchFiles []string
}

// Outcome is what Execute decided to do. ExitCode is meaningful only when
// Result.Kind == resultkind.Ok; a GiveUp/Fatal result is handled by the
// caller (cmd/cache-tool), which drives internal/fallback or prints a
// diagnostic.
type Outcome struct {
	Result   resultkind.Result
	ExitCode int
}

func (r *Run) scratch(path string) string {
	r.scratchFiles = append(r.scratchFiles, path)
	return path
}

func (r *Run) cleanupScratch() {
	for _, f := range r.scratchFiles {
		_ = os.Remove(f)
	}
}

// ScratchFiles exposes the run's temp files, for a caller that needs to
// pass them to the fallback executor's cleanup list after a GiveUp.
func (r *Run) ScratchFiles() []string { return r.scratchFiles }

func (r *Run) record(name string, shardKey string) {
	if shardKey == "" {
		shardKey = "0"
	}
	if r.RecordStat != nil {
		r.RecordStat(name, shardKey)
		return
	}
	stats.Increment(r.Cfg.CacheDir, shardKey, name)
}

func (r *Run) logInfo(verbosity int, args ...interface{}) {
	if r.Logger != nil {
		r.Logger.Info(verbosity, args...)
	}
}

// Execute runs the full C7 state machine for one compiler invocation.
// argv is the full command line (argv[0] is the compiler name, as
// resolved by the caller).
func Execute(r *Run, argv []string) Outcome {
	r.compileStart = time.Now()
	defer r.cleanupScratch()

	inv, res := invocation.Classify(r.Cwd, argv, invocation.Config{BaseDir: r.Cfg.BaseDir})
	if res.Kind != resultkind.Ok {
		r.record(stats.Unsupported, "")
		r.logInfo(1, "classify: giving up:", res.Reason)
		return Outcome{Result: res}
	}

	if r.Cfg.Disable {
		r.record(stats.Unsupported, "")
		return Outcome{Result: resultkind.GiveUpf("CACHE_DISABLE is set")}
	}

	directUsable := r.Cfg.EnableDirectMode() && !inv.DirectModeDisabled && !r.Cfg.Recache
	common_ := r.seedCommonHash(inv)

	var manifestPath string
	var objectKeyFromManifest digest.Digest
	haveObjectKeyFromManifest := false

	if directUsable {
		manifestKey, disabledReason, err := r.directHash(common_, inv)
		switch {
		case err != nil:
			r.logInfo(2, "direct hash failed, falling back to preprocessor mode:", err)
			directUsable = false
		case disabledReason != "":
			r.logInfo(2, "direct mode disabled for this run:", disabledReason)
			directUsable = false
		default:
			manifestPath = r.Store.PathFor(manifestKey.ObjectName(), store.KindManifest)
			if objHash, ok := manifest.Lookup(manifestPath, r.rehashInclude); ok {
				if outcome, served := r.tryServeFromObjectKey(inv, objHash, nil, false, "", false); served {
					r.record(stats.DirectCacheHit, objHash.ObjectName())
					return outcome
				}
				objectKeyFromManifest = objHash
				haveObjectKeyFromManifest = true
			}
		}
	}

	ppResult, ppRes := r.runPreprocessor(inv)
	if ppRes.Kind != resultkind.Ok {
		r.record(stats.Unsupported, "")
		return Outcome{Result: ppRes}
	}
	defer os.Remove(ppResult.StdoutPath)
	defer os.Remove(ppResult.StderrPath)

	objHash, includes, scanDisabledDirect, hashErr := r.preprocessorHash(common_, inv, ppResult)
	if hashErr != nil {
		r.record(stats.Unsupported, "")
		return Outcome{Result: resultkind.GiveUpf("hashing preprocessed output: " + hashErr.Error())}
	}
	if scanDisabledDirect {
		directUsable = false
	}

	putObjectInManifest := directUsable
	if haveObjectKeyFromManifest {
		if objectKeyFromManifest != objHash {
			manifest.Unlink(manifestPath)
			r.logInfo(1, "manifest/preprocessor disagreement, unlinked manifest:", manifestPath)
			putObjectInManifest = true
		} else {
			putObjectInManifest = false
		}
	}

	if outcome, served := r.tryServeFromObjectKey(inv, objHash, includes, putObjectInManifest, manifestPath, directUsable); served {
		r.record(stats.CppCacheHit, objHash.ObjectName())
		return outcome
	}

	return r.compileAndPopulate(inv, ppResult, objHash, includes, putObjectInManifest, manifestPath, directUsable)
}

// seedCommonHash builds the hash state shared by both the direct and
// preprocessor hashes: version prefix, source extension, compiler
// identity (per CompilerCheck policy), compiler basename, cwd (if
// CACHE_HASHDIR), and CACHE_EXTRAFILES contents.
func (r *Run) seedCommonHash(inv *invocation.Invocation) *digest.Hasher {
	hs := digest.Start()
	hs.Delimiter("version").UpdateString(common.HashFormatVersion)
	hs.Delimiter("ext").UpdateString(filepath.Ext(inv.InputFile))
	hs.Delimiter("compiler-basename").UpdateString(filepath.Base(r.RealCompilerPath))

	switch r.Cfg.CompilerCheck {
	case config.CompilerCheckMtime:
		if info, err := os.Stat(r.RealCompilerPath); err == nil {
			hs.Delimiter("compiler-mtime").UpdateInt(info.ModTime().Unix())
			hs.Delimiter("compiler-size").UpdateInt(info.Size())
		}
	case config.CompilerCheckContent:
		if data, err := os.ReadFile(r.RealCompilerPath); err == nil {
			hs.Delimiter("compiler-content").Update(data)
		}
	case config.CompilerCheckNone:
		// nothing contributed
	}

	if r.Cfg.HashDir {
		hs.Delimiter("cwd").UpdateString(r.Cwd)
	}

	for _, extra := range r.Cfg.ExtraFiles {
		if data, err := os.ReadFile(extra); err == nil {
			hs.Delimiter("extra-file").UpdateString(extra).Update(data)
		}
	}

	return hs
}

// directHash extends a clone of common with the direct-mode-contributing
// arguments, the input file path (unless __FILE__ sloppiness is set), and
// the raw source bytes, per spec.md §3's "Direct hash". A non-empty
// disabledReason means direct mode must be downgraded for this run (a
// time macro was found in the source); err means the source could not be
// read at all.
func (r *Run) directHash(common_ *digest.Hasher, inv *invocation.Invocation) (digest.Digest, string, error) {
	hs := common_.Clone()
	for _, tok := range inv.HashContribDirect() {
		hs.Delimiter("arg").UpdateString(tok)
	}
	if !r.Cfg.Sloppiness.Has(config.SloppyFileMacro) {
		hs.Delimiter("input-path").UpdateString(inv.InputFileAbs)
	}

	flag, err := sourcehash.HashSourceCodeFile(hs, inv.InputFileAbs)
	if err != nil {
		return digest.Digest{}, "", err
	}
	if flag&sourcehash.FoundTime != 0 && !r.Cfg.Sloppiness.Has(config.SloppyTimeMacros) {
		return digest.Digest{}, "time macro found in " + inv.InputFileAbs, nil
	}
	return hs.Finish(), "", nil
}

type preprocessResult struct {
	StdoutPath string
	StderrPath string
}

// runPreprocessor implements the "Preprocessor attempt" half of spec.md
// §4.7 step 4: runs the real compiler with -E (unless the input is
// already preprocessed, in which case it's used directly), capturing
// stdout and stderr to scratch files.
func (r *Run) runPreprocessor(inv *invocation.Invocation) (preprocessResult, resultkind.Result) {
	if inv.Ext.AlreadyPreprocessed() {
		return preprocessResult{StdoutPath: inv.InputFileAbs, StderrPath: ""}, resultkind.OkResult()
	}

	stdoutPath := r.scratch(common.TempPathFor(filepath.Join(r.Cfg.TempDir, "cpp-stdout")))
	stderrPath := r.scratch(common.TempPathFor(filepath.Join(r.Cfg.TempDir, "cpp-stderr")))
	if err := common.MkdirAllTolerant(r.Cfg.TempDir); err != nil {
		return preprocessResult{}, resultkind.GiveUpf("mkdir temp dir: " + err.Error())
	}

	outFile, err := os.Create(stdoutPath)
	if err != nil {
		return preprocessResult{}, resultkind.GiveUpf("create preprocessor stdout temp: " + err.Error())
	}
	defer outFile.Close()
	errFile, err := os.Create(stderrPath)
	if err != nil {
		return preprocessResult{}, resultkind.GiveUpf("create preprocessor stderr temp: " + err.Error())
	}
	defer errFile.Close()

	args := append(append([]string{}, inv.PreprocessorArgs()...), "-E", inv.InputFile)
	cmd := exec.Command(r.RealCompilerPath, args...)
	cmd.Dir = r.Cwd
	cmd.Stdout = outFile
	cmd.Stderr = errFile

	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return preprocessResult{}, resultkind.GiveUpf("could not start preprocessor: " + err.Error())
		}
		return preprocessResult{}, resultkind.GiveUpf("preprocessor exited non-zero")
	}

	return preprocessResult{StdoutPath: stdoutPath, StderrPath: stderrPath}, resultkind.OkResult()
}

// preprocessorHash extends a clone of common with the preprocessor-mode
// contributing arguments, then drives the C3 scanner over the
// preprocessed stdout, then hashes the preprocessor's stderr.
func (r *Run) preprocessorHash(common_ *digest.Hasher, inv *invocation.Invocation, pp preprocessResult) (digest.Digest, fileset.Set, bool, error) {
	hs := common_.Clone()
	for _, tok := range inv.HashContribPreprocessor() {
		hs.Delimiter("arg").UpdateString(tok)
	}

	opts := cpprewrite.Options{
		BaseDir:      r.Cfg.BaseDir,
		InputFileAbs: inv.InputFileAbs,
		CompileTime:  r.compileStart,
		Sloppiness:   r.Cfg.Sloppiness,
	}
	scanResult, err := cpprewrite.Scan(hs, pp.StdoutPath, opts)
	if err != nil {
		return digest.Digest{}, nil, false, err
	}

	if pp.StderrPath != "" {
		if data, err := os.ReadFile(pp.StderrPath); err == nil {
			hs.Delimiter("cpp-stderr").Update(data)
		}
	}

	includes := make(fileset.Set, len(scanResult.IncludedFiles))
	for _, f := range scanResult.IncludedFiles {
		includes[f.Path] = f.Hash
	}

	return hs.Finish(), includes, scanResult.DirectModeDisabled, nil
}

// rehashInclude re-hashes a single file at path for manifest lookup
// comparison, ignoring (but not erroring on) a time-macro finding: a
// manifest-recorded include is only ever compared for content equality
// here, not re-evaluated for poisoning.
func (r *Run) rehashInclude(path string) (fileset.FileHash, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileset.FileHash{}, err
	}
	hs := digest.Start()
	if _, err := sourcehash.HashSourceCodeFile(hs, path); err != nil {
		return fileset.FileHash{}, err
	}
	return fileset.FileHash{Digest: hs.Finish(), Size: info.Size()}, nil
}

// tryServeFromObjectKey looks the object key up in the store and, on a
// hit, serves it; a store miss (including a benign ENOENT race) reports
// served=false so the caller falls through to the next step. "Hit"
// requires every file the invocation actually needs: if -MD/-MMD/-MF
// asked for a dependency file, a missing .d entry (evicted independently
// by the LRU cleanup collaborator, or lost to a prior partial write)
// counts as a full miss too, never a degraded serve that reports success
// without producing the file the caller asked for (spec.md §4.7 step 3:
// "if all required files are present, serve").
func (r *Run) tryServeFromObjectKey(inv *invocation.Invocation, objHash digest.Digest, includes fileset.Set, putInManifest bool, manifestPath string, directUsable bool) (Outcome, bool) {
	key := objHash.ObjectName()
	if _, ok, err := r.Store.Lookup(key, store.KindObject); err != nil || !ok {
		return Outcome{}, false
	}
	if inv.Deps.Generate {
		if _, ok, err := r.Store.Lookup(key, store.KindDep); err != nil || !ok {
			return Outcome{}, false
		}
	}
	outcome := r.serve(inv, objHash, includes, putInManifest, manifestPath, directUsable)
	if outcome.Result.Kind != resultkind.Ok {
		// A race with concurrent cleanup between Lookup and Restore: treat
		// as a miss and let the caller fall through to the next step,
		// never as an error (spec.md §5's ENOENT-as-miss discipline).
		return Outcome{}, false
	}
	return outcome, true
}

// serve implements spec.md §4.8: materialize the object (and dep file,
// if applicable) at their final destinations, refresh mtimes, forward
// captured stderr to fd 2, and record a manifest entry when warranted.
func (r *Run) serve(inv *invocation.Invocation, objHash digest.Digest, includes fileset.Set, putInManifest bool, manifestPath string, directUsable bool) Outcome {
	key := objHash.ObjectName()
	outputAbs := absOutputPath(r.Cwd, inv.OutputFile)

	if inv.OutputFile != "/dev/null" {
		_ = os.Remove(outputAbs)
		if res := r.Store.Restore(key, store.KindObject, outputAbs); res.Kind != resultkind.Ok {
			return Outcome{Result: res}
		}
	}
	r.Store.Refresh(key, store.KindObject)

	if stderrBytes, ok, err := r.Store.Bytes(key, store.KindStderr); err == nil && ok && len(stderrBytes) > 0 {
		_, _ = os.Stderr.Write(stderrBytes)
	}
	r.Store.Refresh(key, store.KindStderr)

	if inv.Deps.Generate {
		depAbs := depFilePath(r.Cwd, inv)
		if _, ok, _ := r.Store.Lookup(key, store.KindDep); ok {
			_ = os.Remove(depAbs)
			_ = r.Store.Restore(key, store.KindDep, depAbs)
			r.Store.Refresh(key, store.KindDep)
		}
	}

	if directUsable && putInManifest && len(includes) > 0 {
		if err := manifest.Put(manifestPath, objHash, includes); err != nil {
			r.logInfo(1, "manifest_put failed:", err)
		}
	}

	return Outcome{Result: resultkind.OkResult(), ExitCode: 0}
}

// compileAndPopulate implements spec.md §4.7 step 6: run the real
// compiler on a full cache miss, store the result, and serve it.
func (r *Run) compileAndPopulate(inv *invocation.Invocation, pp preprocessResult, objHash digest.Digest, includes fileset.Set, putInManifest bool, manifestPath string, directUsable bool) Outcome {
	if r.Cfg.ReadOnly {
		r.record(stats.CacheMiss, objHash.ObjectName())
		return Outcome{Result: resultkind.GiveUpf("CACHE_READONLY is set and this is a miss")}
	}

	cpp2Enabled := !r.Cfg.CPP2 && !inv.UnifySuppressed && !inv.Ext.AlreadyPreprocessed()
	compileInput := inv.InputFileAbs
	if cpp2Enabled {
		compileInput = pp.StdoutPath
	}

	tmpObjPath := r.scratch(common.TempPathFor(filepath.Join(r.Cfg.TempDir, "obj")))
	tmpStderrPath := r.scratch(common.TempPathFor(filepath.Join(r.Cfg.TempDir, "compile-stderr")))
	if err := common.MkdirAllTolerant(r.Cfg.TempDir); err != nil {
		return Outcome{Result: resultkind.GiveUpf("mkdir temp dir: " + err.Error())}
	}

	args := append(append([]string{}, inv.CompilerArgs(cpp2Enabled)...), compileInput, "-o", tmpObjPath)
	compilerPath := r.RealCompilerPath
	if r.Cfg.Prefix != "" {
		args = append([]string{r.RealCompilerPath}, args...)
		compilerPath = r.Cfg.Prefix
	}
	cmd := exec.Command(compilerPath, args...)
	cmd.Dir = r.Cwd

	var stdoutBuf bytes.Buffer
	stderrFile, err := os.Create(tmpStderrPath)
	if err != nil {
		return Outcome{Result: resultkind.GiveUpf("create compile stderr temp: " + err.Error())}
	}
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = stderrFile

	runErr := cmd.Run()
	stderrFile.Close()

	if stdoutBuf.Len() > 0 {
		return Outcome{Result: resultkind.GiveUpf("compiler wrote to stdout, not cacheable")}
	}

	exitCode := 0
	if runErr != nil {
		exitErr, ok := runErr.(*exec.ExitError)
		if !ok {
			return Outcome{Result: resultkind.GiveUpf("could not start compiler: " + runErr.Error())}
		}
		exitCode = exitErr.ExitCode()
	}

	compilerStderr, _ := os.ReadFile(tmpStderrPath)

	if exitCode != 0 {
		_, _ = os.Stderr.Write(compilerStderr)
		r.record(stats.CompileFailed, objHash.ObjectName())
		return Outcome{Result: resultkind.OkResult(), ExitCode: exitCode}
	}

	var merged []byte
	if pp.StderrPath != "" {
		if ppStderr, err := os.ReadFile(pp.StderrPath); err == nil {
			merged = append(merged, ppStderr...)
		}
	}
	merged = append(merged, compilerStderr...)

	key := objHash.ObjectName()
	if res := r.Store.StoreFile(key, store.KindObject, tmpObjPath); res.Kind != resultkind.Ok {
		r.record(stats.CacheWriteErr, key)
		return r.deliverWithoutCaching(inv, tmpObjPath, merged)
	}
	if res := r.Store.StoreBytes(key, store.KindStderr, merged); res.Kind != resultkind.Ok {
		r.logInfo(1, "storing stderr failed:", res.Reason)
	}
	if inv.Deps.Generate {
		depAbs := depFilePath(r.Cwd, inv)
		if _, statErr := os.Stat(depAbs); statErr == nil {
			if res := r.Store.StoreFile(key, store.KindDep, depAbs); res.Kind != resultkind.Ok {
				r.logInfo(1, "storing dep file failed:", res.Reason)
			}
		}
	}

	r.record(stats.CacheMiss, key)
	return r.serve(inv, objHash, includes, putInManifest, manifestPath, directUsable)
}

// deliverWithoutCaching is the last-resort path when the store write
// itself fails (disk full, permission race): copy the freshly compiled
// object straight to its destination so the invocation still succeeds,
// matching the "never worse than calling the compiler directly" policy
// even though the result won't be reusable.
func (r *Run) deliverWithoutCaching(inv *invocation.Invocation, tmpObjPath string, stderr []byte) Outcome {
	if inv.OutputFile != "/dev/null" {
		outputAbs := absOutputPath(r.Cwd, inv.OutputFile)
		_ = os.Remove(outputAbs)
		if err := copyFile(tmpObjPath, outputAbs); err != nil {
			return Outcome{Result: resultkind.GiveUpf("deliver object without caching: " + err.Error())}
		}
	}
	_, _ = os.Stderr.Write(stderr)
	return Outcome{Result: resultkind.OkResult(), ExitCode: 0}
}

func copyFile(src, dst string) error {
	if err := common.MkdirForFile(dst); err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

func absOutputPath(cwd string, outputFile string) string {
	if outputFile == "" || outputFile == "/dev/null" || filepath.IsAbs(outputFile) {
		return outputFile
	}
	return filepath.Join(cwd, outputFile)
}

// depFilePath resolves the dependency file's destination: the explicit
// -MF/-Wp,-MD, path if given, otherwise the compiler's own default (the
// input's basename with a .d extension, next to the output).
func depFilePath(cwd string, inv *invocation.Invocation) string {
	if inv.Deps.FileName != "" {
		return absOutputPath(cwd, inv.Deps.FileName)
	}
	base := filepath.Base(inv.InputFile)
	base = base[:len(base)-len(filepath.Ext(base))] + ".d"
	return filepath.Join(filepath.Dir(absOutputPath(cwd, inv.OutputFile)), base)
}
