package pypkg

import (
	"strconv"
	"strings"
)

// Satisfies reports whether version have meets the PEP 440 specifier
// list want, e.g. ">= 20.0, < 21". An empty specifier accepts anything.
func Satisfies(have, want string) bool {
	if want == "" {
		return true
	}
	if have == "" {
		have = "0"
	}

	for _, c := range strings.Split(want, ",") {
		if !satisfiesOne(have, strings.TrimSpace(c)) {
			return false
		}
	}
	return true
}

func satisfiesOne(have, want string) bool {
	if want == "" {
		return true
	}

	var op, wantVer string
	switch {
	case strings.HasPrefix(want, "~="):
		op = "~="
		wantVer = strings.TrimSpace(want[2:])
	case strings.HasPrefix(want, "=="):
		op = "=="
		wantVer = strings.TrimSpace(want[2:])
	case strings.HasPrefix(want, "!="):
		op = "!="
		wantVer = strings.TrimSpace(want[2:])
	case strings.HasPrefix(want, ">="):
		op = ">="
		wantVer = strings.TrimSpace(want[2:])
	case strings.HasPrefix(want, "<="):
		op = "<="
		wantVer = strings.TrimSpace(want[2:])
	case strings.HasPrefix(want, ">"):
		op = ">"
		wantVer = strings.TrimSpace(want[1:])
	case strings.HasPrefix(want, "<"):
		op = "<"
		wantVer = strings.TrimSpace(want[1:])
	default:
		op = "=="
		wantVer = want
	}

	// Prefix match: ==1.4.* / !=1.4.*
	if strings.HasSuffix(wantVer, ".*") && (op == "==" || op == "!=") {
		match := hasVersionPrefix(have, strings.TrimSuffix(wantVer, ".*"))
		if op == "==" {
			return match
		}
		return !match
	}

	if op == "~=" {
		// ~= X.Y.Z is >= X.Y.Z with the last declared segment free to grow.
		parts := parseVersion(wantVer)
		if len(parts) < 2 {
			return CompareVersions(have, wantVer) >= 0
		}
		upper := make([]int, len(parts)-1)
		copy(upper, parts[:len(parts)-1])
		upper[len(upper)-1]++
		return CompareVersions(have, wantVer) >= 0 && compareParts(parseVersion(have), upper) < 0
	}

	cmp := CompareVersions(have, wantVer)
	switch op {
	case "==":
		return cmp == 0
	case "!=":
		return cmp != 0
	case ">=":
		return cmp >= 0
	case ">":
		return cmp > 0
	case "<=":
		return cmp <= 0
	case "<":
		return cmp < 0
	}
	return true
}

func hasVersionPrefix(have, prefix string) bool {
	haveParts := parseVersion(have)
	prefixParts := parseVersion(prefix)
	if len(prefixParts) > len(haveParts) {
		return false
	}
	for i, p := range prefixParts {
		if haveParts[i] != p {
			return false
		}
	}
	return true
}

// CompareVersions compares two release version strings numerically,
// segment by segment. It returns -1, 0 or 1. Non-numeric segment
// suffixes (pre-release tags like "0b1") compare by their leading
// number only.
func CompareVersions(a, b string) int {
	return compareParts(parseVersion(a), parseVersion(b))
}

func compareParts(aParts, bParts []int) int {
	maxLen := len(aParts)
	if len(bParts) > maxLen {
		maxLen = len(bParts)
	}

	for i := 0; i < maxLen; i++ {
		aVal, bVal := 0, 0
		if i < len(aParts) {
			aVal = aParts[i]
		}
		if i < len(bParts) {
			bVal = bParts[i]
		}
		if aVal < bVal {
			return -1
		}
		if aVal > bVal {
			return 1
		}
	}
	return 0
}

func parseVersion(v string) []int {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if v == "" {
		return []int{0}
	}

	parts := strings.Split(v, ".")
	result := make([]int, 0, len(parts))
	for _, p := range parts {
		result = append(result, leadingInt(p))
	}
	return result
}

func leadingInt(s string) int {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, _ := strconv.Atoi(s[:end])
	return n
}
