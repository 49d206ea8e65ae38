package version

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrMalformedName marks a version name outside the dotted-integer grammar.
var ErrMalformedName = errors.New("malformed version name")

var nameGrammar = regexp.MustCompile(`^\d+(\.\d+)*$`)

// ValidName reports whether name is a dot-separated sequence of non-negative
// integers, e.g. "1", "1.2", "1.2.10".
func ValidName(name string) bool {
	return nameGrammar.MatchString(name)
}

// NextNested proposes the first free child name under parent: parent name
// plus ".", suffixed with one more than the highest integer already used at
// that exact nesting level ("1" with existing {"1.1","1.2"} yields "1.3";
// with none it yields "1.1").
func NextNested(parent string, existing []string) (string, error) {
	if !ValidName(parent) {
		return "", fmt.Errorf("%w: %q", ErrMalformedName, parent)
	}
	return nextAtPrefix(parent+".", existing), nil
}

// NextSameLevel proposes the next sibling of parent: the smallest unused
// integer above the level's current maximum, at the prefix obtained by
// stripping parent's last dotted component.
func NextSameLevel(parent string, existing []string) (string, error) {
	if !ValidName(parent) {
		return "", fmt.Errorf("%w: %q", ErrMalformedName, parent)
	}
	return nextAtPrefix(namePrefix(parent), existing), nil
}

// AncestorCandidates proposes one same-level name per naming ancestor of
// parent, deepest ancestor first. For "1.2.3" that is the next sibling of
// "1.2" followed by the next sibling of "1".
func AncestorCandidates(parent string, existing []string) ([]string, error) {
	if !ValidName(parent) {
		return nil, fmt.Errorf("%w: %q", ErrMalformedName, parent)
	}
	chain := AncestorChainNames(parent)
	candidates := make([]string, 0, len(chain))
	for _, ancestor := range chain {
		candidate, err := NextSameLevel(ancestor, existing)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

// Candidates returns the full ordered proposal list for a new version
// branched from parent: nested branch first, then the parent's next sibling,
// then one candidate per shallower ancestor level. The first entry is the
// default offered to the user.
func Candidates(parent string, existing []string) ([]string, error) {
	nested, err := NextNested(parent, existing)
	if err != nil {
		return nil, err
	}
	sameLevel, err := NextSameLevel(parent, existing)
	if err != nil {
		return nil, err
	}
	ancestors, err := AncestorCandidates(parent, existing)
	if err != nil {
		return nil, err
	}
	return append([]string{nested, sameLevel}, ancestors...), nil
}

// nextAtPrefix finds the highest integer n such that prefix+n is an existing
// name, and returns prefix+(n+1). Names at other nesting depths under the
// prefix do not count: only exact prefix+integer matches.
func nextAtPrefix(prefix string, existing []string) string {
	max := 0
	for _, name := range existing {
		rest, ok := strings.CutPrefix(name, prefix)
		if !ok || rest == "" || strings.Contains(rest, ".") {
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return prefix + strconv.Itoa(max+1)
}
