package requirements

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/m-roth/pypin/internal/pypkg"
)

// Parser parses pip requirements files.
type Parser struct{}

// NewParser creates a new requirements parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseResult contains parsed requirements plus the entries that were
// skipped because of an environment marker.
type ParseResult struct {
	Requirements []pypkg.VersionReq
	Skipped      []string // raw lines guarded by an environment marker
}

// name, optional [extras], optional specifier list
var requirementRe = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)\s*(?:\[[^\]]*\])?\s*(.*)$`)

// Parse parses a requirements file.
func (p *Parser) Parse(path string) (*ParseResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening requirements file: %w", err)
	}
	defer file.Close()

	result := &ParseResult{}
	lineno := 0
	var pending string

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lineno++
		line := scanner.Text()

		// Join continued lines before stripping comments.
		if strings.HasSuffix(line, `\`) {
			pending += strings.TrimSuffix(line, `\`)
			continue
		}
		line = pending + line
		pending = ""

		if idx := strings.Index(line, "#"); idx != -1 {
			line = line[:idx]
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		// Option lines (-r, -c, --index-url, ...) belong to pip's CLI
		// surface, not to the dependency set.
		if strings.HasPrefix(trimmed, "-") {
			return nil, fmt.Errorf("line %d: option %q is not supported, list requirements directly", lineno, trimmed)
		}

		// Environment marker: the requirement only applies on some
		// platforms, so it is excluded from the pinned set.
		if strings.Contains(trimmed, ";") {
			result.Skipped = append(result.Skipped, trimmed)
			continue
		}

		req, err := parseRequirement(trimmed)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno, err)
		}
		result.Requirements = append(result.Requirements, req)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading requirements file: %w", err)
	}
	if pending != "" {
		return nil, fmt.Errorf("line %d: dangling line continuation", lineno)
	}

	return result, nil
}

func parseRequirement(s string) (pypkg.VersionReq, error) {
	matches := requirementRe.FindStringSubmatch(s)
	if matches == nil {
		return pypkg.VersionReq{}, fmt.Errorf("malformed requirement %q", s)
	}

	constraint := strings.TrimSpace(matches[2])
	if constraint != "" && !strings.ContainsAny(constraint, "=<>!~") {
		return pypkg.VersionReq{}, fmt.Errorf("malformed specifier %q in %q", constraint, s)
	}

	return pypkg.VersionReq{
		Name:       pypkg.CanonicalName(matches[1]),
		Constraint: constraint,
	}, nil
}
