package posts

import (
	"sort"
	"strings"
)

// Canonical tag vocabulary, listed in priority order.
const (
	TagPeople     = "PEOPLE"
	TagFriendship = "FRIENDSHIP"
	TagThoughts   = "THOUGHTS"
	TagHappy      = "HAPPY"
	TagGratitude  = "GRATITUDE"
	TagTime       = "TIME"
	TagOther      = "OTHER"
)

const unknownTagPriority = int(^uint(0) >> 1)

// tagPriority is the fixed total order consulted by the resolver. Labels
// outside the vocabulary sort after every known label.
var tagPriority = map[string]int{
	TagPeople:     0,
	TagFriendship: 1,
	TagThoughts:   2,
	TagHappy:      3,
	TagGratitude:  4,
	TagTime:       5,
	TagOther:      6,
}

// NormalizeTagLabel trims whitespace and case-folds a label to its canonical
// upper-case form.
func NormalizeTagLabel(label string) string {
	return strings.ToUpper(strings.TrimSpace(label))
}

// SortTagsByPriority normalizes, deduplicates, and orders the provided labels
// by the fixed vocabulary priority. The sort is stable, so ties among unknown
// labels keep their relative input order.
func SortTagsByPriority(labels []string) []string {
	if len(labels) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(labels))
	sorted := make([]string, 0, len(labels))
	for _, label := range labels {
		normalized := NormalizeTagLabel(label)
		if normalized == "" {
			continue
		}
		if _, duplicate := seen[normalized]; duplicate {
			continue
		}
		seen[normalized] = struct{}{}
		sorted = append(sorted, normalized)
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		return resolveTagPriority(sorted[i]) < resolveTagPriority(sorted[j])
	})
	return sorted
}

// ResolveTagForStep maps the requested labels and a reroll step to a single
// tag filter. Step zero (or below) picks the highest-priority label, step one
// the next, and any later step disables the filter so repeated rerolls walk a
// deterministic priority list instead of re-randomizing the tag choice. The
// empty string means no filter.
func ResolveTagForStep(labels []string, rerollStep int) string {
	var index int
	switch {
	case rerollStep <= 0:
		index = 0
	case rerollStep == 1:
		index = 1
	default:
		return ""
	}

	sorted := SortTagsByPriority(labels)
	if index >= len(sorted) {
		return ""
	}
	return sorted[index]
}

func resolveTagPriority(label string) int {
	if priority, known := tagPriority[label]; known {
		return priority
	}
	return unknownTagPriority
}
