// Package abbrev normalizes known abbreviations in document text before
// chunking, so embeddings are computed on the expanded wording.
package abbrev

import (
	"regexp"
	"sort"
	"strings"
)

// Expander rewrites whole-token, case-sensitive occurrences of known
// abbreviations to their expansion phrase. It is immutable after
// construction and safe for concurrent use.
type Expander struct {
	expansions map[string]string
	pattern    *regexp.Regexp
}

// NewExpander builds an Expander from an abbreviation to expansion mapping.
// A nil or empty mapping yields an identity expander.
func NewExpander(mapping map[string]string) *Expander {
	if len(mapping) == 0 {
		return &Expander{}
	}

	expansions := make(map[string]string, len(mapping))
	keys := make([]string, 0, len(mapping))
	for key, value := range mapping {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		expansions[key] = value
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return &Expander{}
	}

	// Longer keys first: the regexp engine takes the first alternative that
	// matches, and the sort keeps the compiled pattern deterministic.
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	quoted := make([]string, len(keys))
	for i, key := range keys {
		quoted[i] = regexp.QuoteMeta(key)
	}

	return &Expander{
		expansions: expansions,
		pattern:    regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`),
	}
}

// Expand returns text with every whole-token match of a known abbreviation
// replaced. Tokens embedded in larger words are left alone ("ID" never
// matches inside "SIDE"). Pure: identical input always yields identical
// output.
func (e *Expander) Expand(text string) string {
	if e.pattern == nil || text == "" {
		return text
	}
	return e.pattern.ReplaceAllStringFunc(text, func(match string) string {
		return e.expansions[match]
	})
}
