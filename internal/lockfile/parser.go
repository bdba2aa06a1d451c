package lockfile

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/m-roth/pypin/internal/pypkg"
)

var lockLineRe = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)==(\S+)(?:\s+--hash=sha256:([0-9a-f]{64}))?$`)

// Parser reads lockfiles written by Emitter.
type Parser struct {
	r io.Reader
}

// NewParser creates a new lockfile parser.
func NewParser(r io.Reader) *Parser {
	return &Parser{r: r}
}

// Parse reads pinned packages from a lockfile.
func (p *Parser) Parse() ([]*pypkg.Package, error) {
	var pkgs []*pypkg.Package
	lineno := 0

	scanner := bufio.NewScanner(p.r)
	for scanner.Scan() {
		lineno++
		line := scanner.Text()

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		matches := lockLineRe.FindStringSubmatch(line)
		if matches == nil {
			return nil, fmt.Errorf("line %d: malformed lock entry %q", lineno, line)
		}

		pkgs = append(pkgs, &pypkg.Package{
			Name:    pypkg.CanonicalName(matches[1]),
			Version: matches[2],
			SHA256:  matches[3],
			Source:  "index",
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading lockfile: %w", err)
	}

	return pkgs, nil
}
