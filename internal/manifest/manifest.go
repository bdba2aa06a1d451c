package manifest

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/m-roth/pypin/internal/pypkg"
)

var (
	// ErrUnknownDependency is returned by Get for names not declared in the manifest.
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrUnresolvedAlias is returned by Resolve when an alias target is
	// missing from the supplied registry.
	ErrUnresolvedAlias = errors.New("unresolved alias")
)

// Kind discriminates the two descriptor variants.
type Kind string

const (
	// KindFetched describes an artifact pinned by URL and sha256.
	KindFetched Kind = "fetched"
	// KindAlias describes an entry resolved from an external registry.
	KindAlias Kind = "alias"
)

// Descriptor declares how one dependency is obtained.
type Descriptor struct {
	Name string `yaml:"name"`
	Kind Kind   `yaml:"kind"`

	// Fetched kind. URL and SHA256 pin the same immutable artifact;
	// the hash is the sole integrity guarantee.
	Dist       string `yaml:"dist,omitempty"` // name-version, e.g. "resolvelib-0.3.0"
	URL        string `yaml:"url,omitempty"`
	SHA256     string `yaml:"sha256,omitempty"`
	SkipChecks bool   `yaml:"skip_checks,omitempty"` // disable post-install self-tests

	// Alias kind.
	AliasOf string `yaml:"alias_of,omitempty"` // key into the external registry
}

// ResolvedArtifact is the outcome of resolving a descriptor. For a
// fetched descriptor it carries the fetch parameters; for an alias it
// carries whatever the registry returned. The caller does the actual
// fetching and verification.
type ResolvedArtifact struct {
	Name       string
	Kind       Kind
	URL        string
	SHA256     string
	SkipChecks bool
	Package    pypkg.Package // alias kind only
}

// Registry resolves a package name to an installable entry. It is
// supplied by the caller; the manifest never constructs one.
type Registry interface {
	Lookup(name string) (pypkg.Package, bool)
}

// Manifest is an immutable set of named dependency descriptors.
type Manifest struct {
	entries map[string]Descriptor
}

// New builds a manifest from descriptors. Names must be unique, and
// fetched descriptors must carry both URL and sha256.
func New(descs []Descriptor) (*Manifest, error) {
	entries := make(map[string]Descriptor, len(descs))
	for _, d := range descs {
		if d.Name == "" {
			return nil, fmt.Errorf("manifest entry without a name")
		}
		if _, ok := entries[d.Name]; ok {
			return nil, fmt.Errorf("duplicate manifest entry %q", d.Name)
		}
		switch d.Kind {
		case KindFetched:
			if d.URL == "" || d.SHA256 == "" {
				return nil, fmt.Errorf("fetched entry %q: url and sha256 are both required", d.Name)
			}
		case KindAlias:
			if d.AliasOf == "" {
				return nil, fmt.Errorf("alias entry %q: alias_of is required", d.Name)
			}
		default:
			return nil, fmt.Errorf("entry %q: unknown kind %q", d.Name, d.Kind)
		}
		entries[d.Name] = d
	}
	return &Manifest{entries: entries}, nil
}

// Load reads a YAML manifest file.
func Load(r io.Reader) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var doc struct {
		Dependencies []Descriptor `yaml:"dependencies"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if len(doc.Dependencies) == 0 {
		return nil, fmt.Errorf("manifest declares no dependencies")
	}

	return New(doc.Dependencies)
}

// Get returns the descriptor declared under name.
func (m *Manifest) Get(name string) (Descriptor, error) {
	d, ok := m.entries[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownDependency, name)
	}
	return d, nil
}

// Names returns the declared names in sorted order.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve turns a descriptor into a ResolvedArtifact. Fetched
// descriptors resolve to their fetch parameters without any I/O.
// Alias descriptors are looked up in registry; a missing key fails
// with ErrUnresolvedAlias.
func Resolve(d Descriptor, registry Registry) (ResolvedArtifact, error) {
	switch d.Kind {
	case KindFetched:
		return ResolvedArtifact{
			Name:       d.Name,
			Kind:       KindFetched,
			URL:        d.URL,
			SHA256:     d.SHA256,
			SkipChecks: d.SkipChecks,
		}, nil
	case KindAlias:
		pkg, ok := registry.Lookup(d.AliasOf)
		if !ok {
			return ResolvedArtifact{}, fmt.Errorf("%w: %q not in registry", ErrUnresolvedAlias, d.AliasOf)
		}
		return ResolvedArtifact{
			Name:    d.Name,
			Kind:    KindAlias,
			Package: pkg,
		}, nil
	default:
		return ResolvedArtifact{}, fmt.Errorf("entry %q: unknown kind %q", d.Name, d.Kind)
	}
}
