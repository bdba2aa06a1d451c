package pypkg

import "strings"

// Package represents a resolved Python distribution release.
type Package struct {
	Name     string            // canonical name, e.g. "resolvelib"
	Version  string            // e.g. "0.3.0"
	Filename string            // e.g. "resolvelib-0.3.0.tar.gz"
	URL      string            // release artifact URL
	SHA256   string            // hex digest of the artifact
	Requires map[string]string // dependency -> version constraint
	Source   string            // "index" or "local"
}

// Dist returns the name-version form used in lockfiles, e.g. "resolvelib-0.3.0".
func (p Package) Dist() string {
	return p.Name + "-" + p.Version
}

// VersionReq represents a single requirement line, e.g. "packaging >= 20.0".
type VersionReq struct {
	Name       string
	Constraint string // PEP 440 specifier list, "" means any
}

// CanonicalName normalizes a distribution name per PEP 503: lowercase,
// with runs of "-", "_" and "." collapsed to a single "-".
func CanonicalName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	prevSep := false
	for _, r := range strings.ToLower(name) {
		if r == '-' || r == '_' || r == '.' {
			prevSep = true
			continue
		}
		if prevSep && b.Len() > 0 {
			b.WriteByte('-')
		}
		prevSep = false
		b.WriteRune(r)
	}
	return b.String()
}
