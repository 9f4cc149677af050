package invocation

// Language is a `-x` compiler language name.
type Language string

const (
	LangC                   Language = "c"
	LangCXX                 Language = "c++"
	LangObjC                Language = "objective-c"
	LangObjCXX              Language = "objective-c++"
	LangCPPOutput           Language = "cpp-output"
	LangCXXCPPOutput        Language = "c++-cpp-output"
	LangObjCCPPOutput       Language = "objective-c-cpp-output"
	LangObjCXXCPPOutput     Language = "objective-c++-cpp-output"
)

// extInfo is the fixed contract between a supported source extension, its
// `-x` language, and the intermediate extension the preprocessor would
// produce for it.
type extInfo struct {
	language            Language
	intermediateExt     string
	alreadyPreprocessed bool
}

// extensionTable fixes the supported source extensions named in the
// glossary and their mapping to -x languages / intermediate extensions.
var extensionTable = map[string]extInfo{
	".c":   {LangC, ".i", false},
	".C":   {LangCXX, ".ii", false},
	".cc":  {LangCXX, ".ii", false},
	".CC":  {LangCXX, ".ii", false},
	".cpp": {LangCXX, ".ii", false},
	".CPP": {LangCXX, ".ii", false},
	".cxx": {LangCXX, ".ii", false},
	".CXX": {LangCXX, ".ii", false},
	".c++": {LangCXX, ".ii", false},
	".C++": {LangCXX, ".ii", false},
	".i":   {LangCPPOutput, ".i", true},
	".ii":  {LangCXXCPPOutput, ".ii", true},
	".mi":  {LangObjCCPPOutput, ".mi", true},
	".mii": {LangObjCXXCPPOutput, ".mii", true},
	".m":   {LangObjC, ".mi", false},
	".M":   {LangObjCXX, ".mii", false},
	".mm":  {LangObjCXX, ".mii", false},
}

// languageByName maps an explicit `-x lang` value back to an extInfo, for
// when the source extension deduction is overridden.
var languageByName = func() map[Language]extInfo {
	m := make(map[Language]extInfo, len(extensionTable))
	for _, info := range extensionTable {
		m[info.language] = info
	}
	return m
}()

// AlreadyPreprocessed reports whether this extension names preprocessed
// input (.i/.ii/.mi/.mii) rather than raw source, per spec.md §4.7 step
// 4's "unless the input is already preprocessed" clause.
func (e extInfo) AlreadyPreprocessed() bool {
	return e.alreadyPreprocessed
}

func extInfoForFile(fileName string) (extInfo, bool) {
	ext := extOf(fileName)
	info, ok := extensionTable[ext]
	return info, ok
}

func extOf(fileName string) string {
	for i := len(fileName) - 1; i >= 0 && fileName[i] != '/'; i-- {
		if fileName[i] == '.' {
			return fileName[i:]
		}
	}
	return ""
}
