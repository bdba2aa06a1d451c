package resolver

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/m-roth/pypin/internal/downloader"
	"github.com/m-roth/pypin/internal/index"
	"github.com/m-roth/pypin/internal/pypkg"
)

// fakeProject describes one project served by the fake index.
type fakeProject struct {
	latest       string
	requiresDist []string
	// versions maps every published version to its sdist content; the
	// content is served under /files/<name>-<version>.tar.gz.
	versions map[string][]byte
}

func sdistArchive(t *testing.T, dist string, pkgInfo string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	hdr := &tar.Header{
		Name: dist + "/PKG-INFO",
		Mode: 0644,
		Size: int64(len(pkgInfo)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte(pkgInfo)); err != nil {
		t.Fatal(err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newFakeIndex(t *testing.T, projects map[string]fakeProject) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/files/") {
			name := strings.TrimPrefix(r.URL.Path, "/files/")
			for pkgName, proj := range projects {
				for ver, content := range proj.versions {
					if name == fmt.Sprintf("%s-%s.tar.gz", pkgName, ver) {
						w.Write(content)
						return
					}
				}
			}
			http.NotFound(w, r)
			return
		}

		name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/pypi/"), "/json")
		proj, ok := projects[name]
		if !ok {
			http.NotFound(w, r)
			return
		}

		resp := map[string]interface{}{
			"info": map[string]interface{}{
				"name":          name,
				"version":       proj.latest,
				"requires_dist": proj.requiresDist,
			},
		}
		releases := map[string]interface{}{}
		for ver, content := range proj.versions {
			sum := sha256.Sum256(content)
			releases[ver] = []map[string]interface{}{{
				"filename":    fmt.Sprintf("%s-%s.tar.gz", name, ver),
				"url":         fmt.Sprintf("http://%s/files/%s-%s.tar.gz", r.Host, name, ver),
				"packagetype": "sdist",
				"digests":     map[string]string{"sha256": hex.EncodeToString(sum[:])},
			}}
		}
		resp["releases"] = releases

		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestResolver(t *testing.T, server *httptest.Server) *Resolver {
	t.Helper()
	cacheDir := t.TempDir()
	idx := index.NewPyPI(server.URL, cacheDir)
	dl := downloader.NewDownloader(2, cacheDir)
	dl.SetProgress(false)
	return NewResolver(idx, dl)
}

func TestResolver_Resolve_Transitive(t *testing.T) {
	server := newFakeIndex(t, map[string]fakeProject{
		"app": {
			latest:       "1.0",
			requiresDist: []string{"libb (>=1.0)"},
			versions: map[string][]byte{
				"1.0": nil,
			},
		},
		"libb": {
			latest:       "2.0",
			requiresDist: []string{},
			versions: map[string][]byte{
				"2.0": nil,
			},
		},
	})

	r := newTestResolver(t, server)
	pkgs, err := r.Resolve([]pypkg.VersionReq{{Name: "app"}})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if len(pkgs) != 2 {
		t.Fatalf("got %d packages, want 2: %+v", len(pkgs), pkgs)
	}
	if pkgs[0].Name != "app" || pkgs[1].Name != "libb" {
		t.Errorf("packages = %s, %s", pkgs[0].Name, pkgs[1].Name)
	}
	if pkgs[1].Version != "2.0" {
		t.Errorf("libb version = %q, want 2.0", pkgs[1].Version)
	}

	if got := r.RequiredBy("libb"); len(got) != 1 || got[0] != "app" {
		t.Errorf("RequiredBy(libb) = %v, want [app]", got)
	}
	if got := r.RequiredBy("app"); len(got) != 0 {
		t.Errorf("RequiredBy(app) = %v, want empty", got)
	}
}

func TestResolver_Resolve_MetadataFromArchive(t *testing.T) {
	// The index reports requires_dist for 2.0 only; pinning 1.0 forces
	// the resolver to read the archive.
	oldSdist := func(t *testing.T) []byte {
		return sdistArchive(t, "lib-1.0", "Metadata-Version: 2.1\nName: lib\nVersion: 1.0\nRequires-Dist: six\n\n")
	}

	server := newFakeIndex(t, map[string]fakeProject{
		"lib": {
			latest:       "2.0",
			requiresDist: []string{},
			versions: map[string][]byte{
				"1.0": oldSdist(t),
				"2.0": nil,
			},
		},
		"six": {
			latest:       "1.15.0",
			requiresDist: []string{},
			versions: map[string][]byte{
				"1.15.0": nil,
			},
		},
	})

	r := newTestResolver(t, server)
	pkgs, err := r.Resolve([]pypkg.VersionReq{{Name: "lib", Constraint: "==1.0"}})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if len(pkgs) != 2 {
		t.Fatalf("got %d packages, want 2 (lib + six from archive metadata)", len(pkgs))
	}
	if pkgs[0].Name != "lib" || pkgs[0].Version != "1.0" {
		t.Errorf("lib = %+v", pkgs[0])
	}
	if pkgs[1].Name != "six" {
		t.Errorf("second package = %q, want six", pkgs[1].Name)
	}
}

func TestResolver_Resolve_NullRequiresDist(t *testing.T) {
	// requiresDist nil encodes as JSON null: the index has no metadata
	// for the latest release, so dependencies must come from the
	// archive even though the pinned version is the latest one.
	server := newFakeIndex(t, map[string]fakeProject{
		"app": {
			latest:       "1.0",
			requiresDist: nil,
			versions: map[string][]byte{
				"1.0": sdistArchive(t, "app-1.0", "Metadata-Version: 2.1\nName: app\nVersion: 1.0\nRequires-Dist: six\n\n"),
			},
		},
		"six": {
			latest:       "1.15.0",
			requiresDist: []string{},
			versions:     map[string][]byte{"1.15.0": nil},
		},
	})

	r := newTestResolver(t, server)
	pkgs, err := r.Resolve([]pypkg.VersionReq{{Name: "app"}})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if len(pkgs) != 2 {
		t.Fatalf("got %d packages, want 2: null requires_dist must fall back to archive metadata", len(pkgs))
	}
	if pkgs[1].Name != "six" {
		t.Errorf("second package = %q, want six", pkgs[1].Name)
	}
}

func TestResolver_Resolve_Conflict(t *testing.T) {
	server := newFakeIndex(t, map[string]fakeProject{
		"app": {
			latest:       "1.0",
			requiresDist: []string{"shared (<1.0)"},
			versions:     map[string][]byte{"1.0": nil},
		},
		"shared": {
			latest:       "2.0",
			requiresDist: []string{},
			versions:     map[string][]byte{"0.9": nil, "2.0": nil},
		},
	})

	r := newTestResolver(t, server)
	_, err := r.Resolve([]pypkg.VersionReq{
		{Name: "shared", Constraint: "==2.0"},
		{Name: "app"},
	})
	if err == nil {
		t.Fatal("Resolve() error = nil, want conflict")
	}
	if !strings.Contains(err.Error(), "conflict") {
		t.Errorf("error = %v, want conflict", err)
	}
}

func TestResolver_Resolve_DirectConflict(t *testing.T) {
	server := newFakeIndex(t, map[string]fakeProject{
		"shared": {
			latest:       "2.0",
			requiresDist: []string{},
			versions:     map[string][]byte{"0.9": nil, "2.0": nil},
		},
	})

	r := newTestResolver(t, server)
	_, err := r.Resolve([]pypkg.VersionReq{
		{Name: "shared", Constraint: "==2.0"},
		{Name: "shared", Constraint: "<1.0"},
	})
	if err == nil {
		t.Fatal("Resolve() error = nil, want conflict")
	}
	// Direct requirements have no parent package; the message names
	// the requirements file instead of an empty string.
	if !strings.Contains(err.Error(), "but requirements requires") {
		t.Errorf("error = %v, want conflict attributed to requirements", err)
	}
}

func TestResolver_Resolve_Circular(t *testing.T) {
	server := newFakeIndex(t, map[string]fakeProject{
		"chicken": {
			latest:       "1.0",
			requiresDist: []string{"egg"},
			versions:     map[string][]byte{"1.0": nil},
		},
		"egg": {
			latest:       "1.0",
			requiresDist: []string{"chicken"},
			versions:     map[string][]byte{"1.0": nil},
		},
	})

	r := newTestResolver(t, server)
	pkgs, err := r.Resolve([]pypkg.VersionReq{{Name: "chicken"}})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(pkgs) != 2 {
		t.Errorf("got %d packages, want 2", len(pkgs))
	}
}

func TestResolver_Resolve_BundledSkipped(t *testing.T) {
	server := newFakeIndex(t, map[string]fakeProject{
		"app": {
			latest:       "1.0",
			requiresDist: []string{"argparse", "uuid"},
			versions:     map[string][]byte{"1.0": nil},
		},
	})

	r := newTestResolver(t, server)
	pkgs, err := r.Resolve([]pypkg.VersionReq{{Name: "app"}})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(pkgs) != 1 {
		t.Errorf("got %d packages, want 1 (bundled deps skipped)", len(pkgs))
	}
}

func TestResolver_Resolve_UnknownPackage(t *testing.T) {
	server := newFakeIndex(t, map[string]fakeProject{})

	r := newTestResolver(t, server)
	if _, err := r.Resolve([]pypkg.VersionReq{{Name: "ghost"}}); err == nil {
		t.Error("Resolve() error = nil, want not-found error")
	}
}
