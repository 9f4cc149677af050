// Package pathrewrite implements the single base-directory relativisation
// rule shared by the argument classifier (C4) and the preprocessed-output
// scanner (C3): paths prefixed by the configured base directory are
// stored relative to it; everything else is kept verbatim.
package pathrewrite

import "strings"

// RelativeToBase rewrites p relative to baseDir when p is rooted at
// baseDir, otherwise returns p unchanged. An empty baseDir disables
// rewriting entirely (CACHE_BASEDIR unset or non-absolute).
func RelativeToBase(p string, baseDir string) string {
	if baseDir == "" {
		return p
	}
	if p == baseDir {
		return "."
	}
	if strings.HasPrefix(p, baseDir+"/") {
		return p[len(baseDir)+1:]
	}
	return p
}
