package index

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

const packagingJSON = `{
	"info": {
		"name": "packaging",
		"version": "20.3",
		"requires_dist": [
			"pyparsing (>=2.0.2)",
			"six",
			"pytest ; extra == 'test'"
		]
	},
	"releases": {
		"19.2": [
			{
				"filename": "packaging-19.2-py2.py3-none-any.whl",
				"url": "https://files.example.org/packaging-19.2-py2.py3-none-any.whl",
				"packagetype": "bdist_wheel",
				"digests": {"sha256": "aaaa"}
			},
			{
				"filename": "packaging-19.2.tar.gz",
				"url": "https://files.example.org/packaging-19.2.tar.gz",
				"packagetype": "sdist",
				"digests": {"sha256": "bbbb"}
			}
		],
		"20.3": [
			{
				"filename": "packaging-20.3.tar.gz",
				"url": "https://files.example.org/packaging-20.3.tar.gz",
				"packagetype": "sdist",
				"digests": {"sha256": "cccc"}
			}
		]
	}
}`

func newTestIndex(t *testing.T, handler http.HandlerFunc) *PyPI {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewPyPI(server.URL, t.TempDir())
}

func TestPyPI_Release_Latest(t *testing.T) {
	idx := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pypi/packaging/json" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, packagingJSON)
	})

	pkg, err := idx.Release("packaging", "")
	if err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	if pkg.Version != "20.3" {
		t.Errorf("Version = %q, want %q", pkg.Version, "20.3")
	}
	if pkg.Filename != "packaging-20.3.tar.gz" {
		t.Errorf("Filename = %q", pkg.Filename)
	}
	if pkg.SHA256 != "cccc" {
		t.Errorf("SHA256 = %q, want %q", pkg.SHA256, "cccc")
	}

	// Marker-guarded pytest entry must not appear.
	want := map[string]string{"pyparsing": ">=2.0.2", "six": ""}
	if !reflect.DeepEqual(pkg.Requires, want) {
		t.Errorf("Requires = %v, want %v", pkg.Requires, want)
	}
}

func TestPyPI_Release_Constrained(t *testing.T) {
	idx := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, packagingJSON)
	})

	pkg, err := idx.Release("packaging", "<20")
	if err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	if pkg.Version != "19.2" {
		t.Errorf("Version = %q, want %q", pkg.Version, "19.2")
	}
	// 19.2 is not the latest release, so requires_dist does not apply.
	if pkg.Requires != nil {
		t.Errorf("Requires = %v, want nil for non-latest release", pkg.Requires)
	}
	// The sdist must win over the wheel.
	if pkg.Filename != "packaging-19.2.tar.gz" {
		t.Errorf("Filename = %q", pkg.Filename)
	}
}

func TestPyPI_Release_NullRequiresDist(t *testing.T) {
	// Sdist-only projects often have no extracted metadata; the index
	// then reports null rather than an empty list.
	idx := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"info": {"name": "rawpkg", "version": "1.0", "requires_dist": null},
			"releases": {
				"1.0": [{
					"filename": "rawpkg-1.0.tar.gz",
					"url": "https://files.example.org/rawpkg-1.0.tar.gz",
					"packagetype": "sdist",
					"digests": {"sha256": "dddd"}
				}]
			}
		}`)
	})

	pkg, err := idx.Release("rawpkg", "")
	if err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if pkg.Requires != nil {
		t.Errorf("Requires = %v, want nil when requires_dist is null (dependencies unknown, not absent)", pkg.Requires)
	}
}

func TestPyPI_Release_NoMatch(t *testing.T) {
	idx := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, packagingJSON)
	})

	if _, err := idx.Release("packaging", ">=99"); err == nil {
		t.Error("Release() error = nil, want error for unsatisfiable constraint")
	}
}

func TestPyPI_Release_NotFound(t *testing.T) {
	idx := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	if _, err := idx.Release("no-such-package", ""); err == nil {
		t.Error("Release() error = nil, want not-found error")
	}
}

func TestPyPI_Release_CachesResponse(t *testing.T) {
	requestCount := 0
	idx := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		fmt.Fprint(w, packagingJSON)
	})

	for i := 0; i < 3; i++ {
		if _, err := idx.Release("packaging", ""); err != nil {
			t.Fatalf("Release() error = %v", err)
		}
	}

	if requestCount != 1 {
		t.Errorf("server was called %d times, want 1 (cached)", requestCount)
	}
}

func TestPyPI_Lookup_CanonicalizesName(t *testing.T) {
	idx := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pypi/packaging/json" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, packagingJSON)
	})

	pkg, ok := idx.Lookup("Packaging")
	if !ok {
		t.Fatal("Lookup() ok = false, want true")
	}
	if pkg.Name != "packaging" {
		t.Errorf("Name = %q, want %q", pkg.Name, "packaging")
	}
}

func TestParseRequiresDist(t *testing.T) {
	entries := []string{
		"packaging (>=20.0)",
		"six",
		"importlib-metadata ; python_version < \"3.8\"",
		"requests[security] (>=2.0)",
		"",
	}

	got := parseRequiresDist(entries)
	want := map[string]string{
		"packaging": ">=20.0",
		"six":       "",
		"requests":  ">=2.0",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseRequiresDist() = %v, want %v", got, want)
	}
}
