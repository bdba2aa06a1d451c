package resolver

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/m-roth/pypin/internal/downloader"
	"github.com/m-roth/pypin/internal/index"
	"github.com/m-roth/pypin/internal/metadata"
	"github.com/m-roth/pypin/internal/pypkg"
)

// Resolver resolves package requirements recursively against the index.
type Resolver struct {
	index      *index.PyPI
	downloader *downloader.Downloader
	extractor  *metadata.Extractor
	resolved   map[string]*pypkg.Package
	resolving  map[string]bool
	requiredBy map[string][]string
	log        *zap.SugaredLogger
}

// NewResolver creates a new dependency resolver.
func NewResolver(idx *index.PyPI, dl *downloader.Downloader) *Resolver {
	return &Resolver{
		index:      idx,
		downloader: dl,
		extractor:  metadata.NewExtractor(),
		resolved:   make(map[string]*pypkg.Package),
		resolving:  make(map[string]bool),
		requiredBy: make(map[string][]string),
		log:        zap.L().Sugar(),
	}
}

// Resolve resolves all requirements and their transitive dependencies.
// The returned packages are sorted by name.
func (r *Resolver) Resolve(reqs []pypkg.VersionReq) ([]*pypkg.Package, error) {
	for _, req := range reqs {
		if err := r.resolveOne(req.Name, req.Constraint, ""); err != nil {
			return nil, err
		}
	}

	pkgs := make([]*pypkg.Package, 0, len(r.resolved))
	for _, p := range r.resolved {
		pkgs = append(pkgs, p)
	}
	sort.Slice(pkgs, func(i, j int) bool {
		return pkgs[i].Name < pkgs[j].Name
	})
	return pkgs, nil
}

// RequiredBy returns the sorted list of packages that pulled name in.
// Direct requirements have an empty list.
func (r *Resolver) RequiredBy(name string) []string {
	parents := append([]string(nil), r.requiredBy[pypkg.CanonicalName(name)]...)
	sort.Strings(parents)
	return parents
}

func (r *Resolver) resolveOne(name, constraint, parent string) error {
	name = pypkg.CanonicalName(name)

	if isBundled(name) {
		return nil
	}

	if parent != "" {
		r.addParent(name, parent)
	}

	if p, ok := r.resolved[name]; ok {
		if pypkg.Satisfies(p.Version, constraint) {
			return nil
		}
		source := parent
		if source == "" {
			source = "requirements"
		}
		return fmt.Errorf("conflict: %s is pinned to %s, but %s requires %q",
			name, p.Version, source, constraint)
	}

	// Cycle guard: python packages can and do depend on each other.
	if r.resolving[name] {
		r.log.Debugf("skipping circular dependency: %s", name)
		return nil
	}
	r.resolving[name] = true
	defer func() { delete(r.resolving, name) }()

	r.log.Debugf("resolving: %s %s", name, constraint)

	pkg, err := r.index.Release(name, constraint)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", name, err)
	}
	r.log.Debugf("  selected %s", pkg.Dist())

	// The index only reports dependencies for the latest release; for
	// anything older the archive itself is the source of truth.
	if pkg.Requires == nil {
		requires, err := r.requiresFromArchive(&pkg)
		if err != nil {
			r.log.Warnf("no metadata for %s: %v", pkg.Dist(), err)
			requires = map[string]string{}
		}
		pkg.Requires = requires
	}

	// Mark as resolved before recursing so cycles terminate.
	r.resolved[name] = &pkg

	deps := make([]string, 0, len(pkg.Requires))
	for dep := range pkg.Requires {
		deps = append(deps, dep)
	}
	sort.Strings(deps)

	for _, dep := range deps {
		if err := r.resolveOne(dep, pkg.Requires[dep], name); err != nil {
			return err
		}
	}

	return nil
}

// requiresFromArchive downloads the release artifact and reads its
// dependency metadata.
func (r *Resolver) requiresFromArchive(pkg *pypkg.Package) (map[string]string, error) {
	destPath := r.downloader.CachePath(pkg.Filename)
	results := r.downloader.Download([]downloader.Job{{
		Name:     pkg.Name,
		URL:      pkg.URL,
		DestPath: destPath,
		SHA256:   pkg.SHA256,
	}})
	if results[0].Error != nil {
		return nil, fmt.Errorf("downloading %s: %w", pkg.Name, results[0].Error)
	}

	meta, err := r.extractor.Extract(destPath)
	if err != nil {
		return nil, err
	}
	return meta.Requires, nil
}

func (r *Resolver) addParent(name, parent string) {
	for _, p := range r.requiredBy[name] {
		if p == parent {
			return
		}
	}
	r.requiredBy[name] = append(r.requiredBy[name], parent)
}

// bundledPackages ship with any supported Python and never need
// pinning.
var bundledPackages = map[string]bool{
	"python":   true,
	"argparse": true,
	"wsgiref":  true,
	"uuid":     true,
}

func isBundled(name string) bool {
	return bundledPackages[name]
}
