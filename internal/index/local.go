package index

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/m-roth/pypin/internal/pypkg"
)

// Local is the ambient package set: distributions already present on
// the system, declared in a YAML file. Manifest aliases resolve
// against it.
type Local struct {
	path     string
	packages map[string]pypkg.Package
}

type localEntry struct {
	Version string `yaml:"version"`
	Path    string `yaml:"path,omitempty"`
}

// NewLocal creates a local package set backed by the given file.
func NewLocal(path string) *Local {
	return &Local{
		path:     path,
		packages: make(map[string]pypkg.Package),
	}
}

// Load reads and parses the package set file. A missing file yields an
// empty set rather than an error, so alias resolution can report the
// missing key itself.
func (l *Local) Load() error {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading package set: %w", err)
	}

	var doc struct {
		Packages map[string]localEntry `yaml:"packages"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing package set: %w", err)
	}

	for name, entry := range doc.Packages {
		canonical := pypkg.CanonicalName(name)
		l.packages[canonical] = pypkg.Package{
			Name:    canonical,
			Version: entry.Version,
			URL:     entry.Path,
			Source:  "local",
		}
	}
	return nil
}

// Lookup finds a package in the local set.
func (l *Local) Lookup(name string) (pypkg.Package, bool) {
	pkg, ok := l.packages[pypkg.CanonicalName(name)]
	return pkg, ok
}

// Len returns the number of declared packages.
func (l *Local) Len() int {
	return len(l.packages)
}
