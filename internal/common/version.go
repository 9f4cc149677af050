package common

// version is provided by `go build -ldflags "-X ...internal/common.version=..."`.
var version string

// GetVersion returns the build-time version string, or "dev" outside a release build.
func GetVersion() string {
	if len(version) == 0 {
		return "dev"
	}
	return version
}

// HashFormatVersion is hashed first into every cache key (see
// internal/driver's seedCommonHash). Bumping it invalidates all existing cache entries by
// construction, since it changes the manifest key and the object key alike.
const HashFormatVersion = "cache-tool-hash-v1"
