package index

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/m-roth/pypin/internal/pypkg"
)

const (
	defaultIndexURL = "https://pypi.org"
	cacheTTL        = 24 * time.Hour
)

// PyPI looks up package releases through the index JSON API.
type PyPI struct {
	indexURL string
	cacheDir string
	client   *http.Client
}

// NewPyPI creates a new PyPI index client. Responses are cached under
// cacheDir to keep repeated runs off the network.
func NewPyPI(indexURL, cacheDir string) *PyPI {
	if indexURL == "" {
		indexURL = defaultIndexURL
	}
	return &PyPI{
		indexURL: strings.TrimSuffix(indexURL, "/"),
		cacheDir: cacheDir,
		client:   &http.Client{},
	}
}

// projectResponse mirrors the subset of the JSON API pypin consumes.
type projectResponse struct {
	Info struct {
		Name         string   `json:"name"`
		Version      string   `json:"version"`
		RequiresDist []string `json:"requires_dist"`
	} `json:"info"`
	Releases map[string][]releaseFile `json:"releases"`
}

type releaseFile struct {
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	PackageType string `json:"packagetype"`
	Digests     struct {
		SHA256 string `json:"sha256"`
	} `json:"digests"`
}

// Release returns the highest release of name that satisfies constraint
// and ships a source distribution.
func (idx *PyPI) Release(name, constraint string) (pypkg.Package, error) {
	proj, err := idx.project(name)
	if err != nil {
		return pypkg.Package{}, err
	}

	versions := make([]string, 0, len(proj.Releases))
	for ver := range proj.Releases {
		versions = append(versions, ver)
	}
	sort.Slice(versions, func(i, j int) bool {
		return pypkg.CompareVersions(versions[i], versions[j]) > 0
	})

	for _, ver := range versions {
		if !pypkg.Satisfies(ver, constraint) {
			continue
		}
		sdist, ok := pickSdist(proj.Releases[ver])
		if !ok {
			continue
		}
		pkg := pypkg.Package{
			Name:     pypkg.CanonicalName(proj.Info.Name),
			Version:  ver,
			Filename: sdist.Filename,
			URL:      sdist.URL,
			SHA256:   sdist.Digests.SHA256,
			Source:   "index",
		}
		// requires_dist in the project response describes the latest
		// release only, and is null when the index never extracted
		// metadata for it. Requires stays nil in both cases so the
		// resolver reads the metadata out of the downloaded archive.
		if ver == proj.Info.Version && proj.Info.RequiresDist != nil {
			pkg.Requires = parseRequiresDist(proj.Info.RequiresDist)
		}
		return pkg, nil
	}

	return pypkg.Package{}, fmt.Errorf("no release of %s satisfies %q", name, constraint)
}

// Lookup returns the latest release of name. It implements the
// registry interface consumed by manifest alias resolution.
func (idx *PyPI) Lookup(name string) (pypkg.Package, bool) {
	pkg, err := idx.Release(name, "")
	if err != nil {
		return pypkg.Package{}, false
	}
	return pkg, true
}

// IndexURL returns the configured index URL.
func (idx *PyPI) IndexURL() string {
	return idx.indexURL
}

func (idx *PyPI) project(name string) (*projectResponse, error) {
	canonical := pypkg.CanonicalName(name)

	if data, ok := idx.cachedResponse(canonical); ok {
		var proj projectResponse
		if err := json.Unmarshal(data, &proj); err == nil {
			return &proj, nil
		}
		// Corrupt cache entry falls through to a fresh request.
	}

	apiURL := fmt.Sprintf("%s/pypi/%s/json", idx.indexURL, url.PathEscape(canonical))
	req, err := http.NewRequest("GET", apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := idx.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("package %s not found in index", canonical)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("index API error: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading index response: %w", err)
	}

	var proj projectResponse
	if err := json.Unmarshal(data, &proj); err != nil {
		return nil, fmt.Errorf("parsing index response: %w", err)
	}

	idx.storeResponse(canonical, data)
	return &proj, nil
}

func (idx *PyPI) cacheFile(name string) string {
	return filepath.Join(idx.cacheDir, "index", name+".json")
}

func (idx *PyPI) cachedResponse(name string) ([]byte, bool) {
	if idx.cacheDir == "" {
		return nil, false
	}
	path := idx.cacheFile(name)
	info, err := os.Stat(path)
	if err != nil || time.Since(info.ModTime()) > cacheTTL {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (idx *PyPI) storeResponse(name string, data []byte) {
	if idx.cacheDir == "" {
		return
	}
	path := idx.cacheFile(name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return
	}
	// Cache writes are best effort.
	_ = os.WriteFile(path, data, 0644)
}

func pickSdist(files []releaseFile) (releaseFile, bool) {
	for _, f := range files {
		if f.PackageType == "sdist" {
			return f, true
		}
	}
	return releaseFile{}, false
}

var requiresDistRe = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)\s*(?:\[[^\]]*\])?\s*\(?([^)]*)\)?$`)

// parseRequiresDist turns Requires-Dist entries into a dependency map.
// Entries guarded by an environment marker are dropped.
func parseRequiresDist(entries []string) map[string]string {
	requires := make(map[string]string)
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if idx := strings.Index(entry, ";"); idx != -1 {
			// Marker-guarded dependencies are platform conditional.
			continue
		}
		matches := requiresDistRe.FindStringSubmatch(entry)
		if matches == nil {
			continue
		}
		name := pypkg.CanonicalName(matches[1])
		if _, ok := requires[name]; !ok {
			requires[name] = strings.TrimSpace(matches[2])
		}
	}
	return requires
}
