package rbac

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mehaotian/hshs-server-sub001/internal/shared"
)

// PatternAll is the global wildcard satisfying every request.
const PatternAll = "*"

// Match reports whether a held permission pattern satisfies the requested
// permission string. Patterns follow the module:action[:resource] grammar with
// wildcard segments: "*" matches everything, "module:*" any capability of a
// module, "*:action" the action across every module, and "module:action:*"
// the action on any resource instance.
//
// Checks run in order, first match wins: global wildcard, exact equality,
// then segment-wise matching where a "*" segment matches exactly one segment
// and a trailing "*" absorbs the remaining requested segments. A "*" inside a
// segment expands within that segment only and never crosses a ":" boundary.
// Matching is case-sensitive. Malformed patterns simply never match.
func Match(pattern, requested string) bool {
	if pattern == "" || requested == "" {
		return false
	}
	if pattern == PatternAll {
		return true
	}
	if pattern == requested {
		return true
	}

	held := strings.Split(pattern, ":")
	want := strings.Split(requested, ":")

	// Trailing wildcard segment: the non-wildcard prefix must match the
	// requested string segment for segment, and the request must carry at
	// least one more segment for the wildcard to stand in for.
	if last := len(held) - 1; last > 0 && held[last] == PatternAll {
		if len(want) <= last {
			return false
		}
		for i := 0; i < last; i++ {
			if !matchSegment(held[i], want[i]) {
				return false
			}
		}
		return true
	}

	if len(held) != len(want) {
		return false
	}
	for i := range held {
		if !matchSegment(held[i], want[i]) {
			return false
		}
	}
	return true
}

// MatchAny reports whether any of the held patterns satisfies the request.
func MatchAny(patterns []string, requested string) bool {
	for _, p := range patterns {
		if Match(p, requested) {
			return true
		}
	}
	return false
}

func matchSegment(pattern, segment string) bool {
	if pattern == PatternAll {
		return segment != ""
	}
	if !strings.ContainsRune(pattern, '*') {
		return pattern == segment
	}
	return globSegment(pattern, segment)
}

// globSegment matches a single segment against a pattern where '*' expands to
// any run of characters. Backtracking variant of the classic two-pointer glob.
func globSegment(pattern, s string) bool {
	pi, si := 0, 0
	star, mark := -1, 0
	for si < len(s) {
		switch {
		case pi < len(pattern) && pattern[pi] == '*':
			star = pi
			mark = si
			pi++
		case pi < len(pattern) && pattern[pi] == s[si]:
			pi++
			si++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}

// Identifier carries the parsed metadata of a permission identifier.
type Identifier struct {
	Module   string
	Action   string
	Resource string
	Wildcard bool
}

var segmentRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ParseIdentifier validates a permission identifier against the
// module:action[:resource] grammar and returns its segment metadata. Used at
// catalog-creation time; the Matcher itself accepts arbitrary strings.
func ParseIdentifier(identifier string) (Identifier, error) {
	if identifier == PatternAll {
		return Identifier{Module: PatternAll, Wildcard: true}, nil
	}
	segments := strings.Split(identifier, ":")
	if len(segments) < 2 || len(segments) > 3 {
		return Identifier{}, fmt.Errorf("rbac: identifier %q must have 2 or 3 segments: %w", identifier, shared.ErrValidation)
	}
	wildcard := false
	for _, seg := range segments {
		if seg == PatternAll {
			wildcard = true
			continue
		}
		if !segmentRe.MatchString(seg) {
			return Identifier{}, fmt.Errorf("rbac: identifier %q has invalid segment %q: %w", identifier, seg, shared.ErrValidation)
		}
	}
	id := Identifier{
		Module:   segments[0],
		Action:   segments[1],
		Wildcard: wildcard,
	}
	if len(segments) == 3 {
		id.Resource = segments[2]
	}
	return id, nil
}
