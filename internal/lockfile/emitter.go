package lockfile

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/m-roth/pypin/internal/pypkg"
)

const header = "# generated by pypin, do not edit by hand\n"

// Emitter writes hash-pinned lockfiles in requirements format.
type Emitter struct {
	w io.Writer
}

// NewEmitter creates a new lockfile emitter.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: w}
}

// Emit writes packages to the lockfile, sorted by name. via, when
// non-nil, supplies the provenance list printed under each entry.
func (e *Emitter) Emit(pkgs []*pypkg.Package, via func(name string) []string) error {
	sorted := make([]*pypkg.Package, len(pkgs))
	copy(sorted, pkgs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	if _, err := fmt.Fprint(e.w, header); err != nil {
		return err
	}

	for _, p := range sorted {
		if err := e.emitPackage(p, via); err != nil {
			return err
		}
	}

	return nil
}

func (e *Emitter) emitPackage(p *pypkg.Package, via func(name string) []string) error {
	line := fmt.Sprintf("%s==%s", p.Name, p.Version)
	if p.SHA256 != "" {
		line += fmt.Sprintf(" --hash=sha256:%s", p.SHA256)
	}
	if _, err := fmt.Fprintf(e.w, "%s\n", line); err != nil {
		return err
	}

	if via != nil {
		if parents := via(p.Name); len(parents) > 0 {
			if _, err := fmt.Fprintf(e.w, "    # via %s\n", strings.Join(parents, ", ")); err != nil {
				return err
			}
		}
	}

	return nil
}
