package metadata

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/textproto"
	"os"
	"regexp"
	"strings"

	"github.com/m-roth/pypin/internal/pypkg"
)

// Metadata is the core metadata of one source distribution.
type Metadata struct {
	Name     string
	Version  string
	Requires map[string]string // dependency -> version constraint
}

// Extractor reads core metadata out of sdist archives.
type Extractor struct{}

// NewExtractor creates a new extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads PKG-INFO (and egg-info requires.txt, when present) from
// a .tar.gz or .zip source distribution.
func (e *Extractor) Extract(archivePath string) (*Metadata, error) {
	var pkgInfo, requiresTxt []byte
	var err error

	switch {
	case strings.HasSuffix(archivePath, ".tar.gz"), strings.HasSuffix(archivePath, ".tgz"):
		pkgInfo, requiresTxt, err = readTarball(archivePath)
	case strings.HasSuffix(archivePath, ".zip"):
		pkgInfo, requiresTxt, err = readZip(archivePath)
	default:
		return nil, fmt.Errorf("unsupported archive type: %s", archivePath)
	}
	if err != nil {
		return nil, err
	}
	if pkgInfo == nil {
		return nil, fmt.Errorf("no PKG-INFO found in %s", archivePath)
	}

	meta, err := parsePkgInfo(pkgInfo)
	if err != nil {
		return nil, err
	}

	// requires.txt supplements metadata versions that predate Requires-Dist.
	if len(meta.Requires) == 0 && requiresTxt != nil {
		meta.Requires = parseRequiresTxt(requiresTxt)
	}

	return meta, nil
}

// readTarball scans a gzipped tarball for PKG-INFO and requires.txt.
func readTarball(path string) (pkgInfo, requiresTxt []byte, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening archive: %w", err)
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, nil, fmt.Errorf("decompressing archive: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading archive: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		switch {
		case isTopLevelPkgInfo(header.Name):
			if pkgInfo == nil {
				pkgInfo, err = io.ReadAll(tarReader)
				if err != nil {
					return nil, nil, fmt.Errorf("reading PKG-INFO: %w", err)
				}
			}
		case isEggInfoRequires(header.Name):
			requiresTxt, err = io.ReadAll(tarReader)
			if err != nil {
				return nil, nil, fmt.Errorf("reading requires.txt: %w", err)
			}
		}
	}

	return pkgInfo, requiresTxt, nil
}

// readZip scans a zip sdist for PKG-INFO and requires.txt.
func readZip(path string) (pkgInfo, requiresTxt []byte, err error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening archive: %w", err)
	}
	defer zr.Close()

	readAll := func(f *zip.File) ([]byte, error) {
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}

	for _, f := range zr.File {
		switch {
		case isTopLevelPkgInfo(f.Name):
			if pkgInfo == nil {
				pkgInfo, err = readAll(f)
				if err != nil {
					return nil, nil, fmt.Errorf("reading PKG-INFO: %w", err)
				}
			}
		case isEggInfoRequires(f.Name):
			requiresTxt, err = readAll(f)
			if err != nil {
				return nil, nil, fmt.Errorf("reading requires.txt: %w", err)
			}
		}
	}

	return pkgInfo, requiresTxt, nil
}

// isTopLevelPkgInfo matches "pkg-1.0/PKG-INFO", one directory deep.
func isTopLevelPkgInfo(name string) bool {
	parts := strings.Split(name, "/")
	return len(parts) == 2 && parts[1] == "PKG-INFO"
}

// isEggInfoRequires matches "pkg-1.0/<name>.egg-info/requires.txt".
func isEggInfoRequires(name string) bool {
	parts := strings.Split(name, "/")
	return len(parts) == 3 && strings.HasSuffix(parts[1], ".egg-info") && parts[2] == "requires.txt"
}

// parsePkgInfo parses the RFC 822 style header block of PKG-INFO.
func parsePkgInfo(data []byte) (*Metadata, error) {
	reader := textproto.NewReader(bufio.NewReader(bytes.NewReader(data)))
	header, err := reader.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("parsing PKG-INFO: %w", err)
	}

	name := header.Get("Name")
	if name == "" {
		return nil, fmt.Errorf("PKG-INFO has no Name field")
	}

	meta := &Metadata{
		Name:     pypkg.CanonicalName(name),
		Version:  header.Get("Version"),
		Requires: make(map[string]string),
	}

	for _, entry := range header.Values("Requires-Dist") {
		addRequirement(meta.Requires, entry)
	}

	return meta, nil
}

// parseRequiresTxt parses egg-info requires.txt. Only the unconditional
// leading section counts; "[extra]" sections are optional dependencies.
func parseRequiresTxt(data []byte) map[string]string {
	requires := make(map[string]string)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") {
			break
		}
		addRequirement(requires, line)
	}

	return requires
}

var requirementRe = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)\s*(?:\[[^\]]*\])?\s*\(?([^)]*)\)?$`)

func addRequirement(requires map[string]string, entry string) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return
	}
	// Marker-guarded dependencies are platform conditional, skip them.
	if strings.Contains(entry, ";") {
		return
	}
	matches := requirementRe.FindStringSubmatch(entry)
	if matches == nil {
		return
	}
	name := pypkg.CanonicalName(matches[1])
	if _, ok := requires[name]; !ok {
		requires[name] = strings.TrimSpace(matches[2])
	}
}
