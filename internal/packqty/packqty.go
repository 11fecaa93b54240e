// Package packqty extracts pack-quantity multipliers from line-item
// descriptions (spec.md §3, §4.1 step 5) and fuzzy-deduplicates line items
// that reappear across AI-parsing chunk boundaries.
package packqty

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
)

// dedupSimilarityThreshold is the minimum name similarity ratio at which
// two line items are considered the same item reparsed from overlapping
// chunks, per spec.md's "exact-then-≥85%-similarity" rule.
const dedupSimilarityThreshold = 0.85

var packPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)case\s+of\s+(\d+)`),
	regexp.MustCompile(`(?i)(\d+)\s*ct\b`),
	regexp.MustCompile(`(?i)(\d+)\s*-\s*pack\b`),
	regexp.MustCompile(`(?i)pack\s+of\s+(\d+)`),
}

// Extract returns the pack multiplier N found in description, and whether
// a recognized pattern matched at all.
func Extract(description string) (int, bool) {
	for _, re := range packPatterns {
		m := re.FindStringSubmatch(description)
		if len(m) != 2 {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			continue
		}
		return n, true
	}
	return 0, false
}

// ApplyPackQuantityRule rewrites quantity/unitPrice per spec.md §3: when
// description carries a recognized pack pattern with value N and the
// AI-provided quantity is null (represented here as 0) or 1, the stored
// quantity becomes N and the unit price is divided by N so the extended
// total is unchanged.
func ApplyPackQuantityRule(description string, quantity int, unitPrice float64) (int, float64) {
	n, ok := Extract(description)
	if !ok {
		return quantity, unitPrice
	}
	if quantity != 0 && quantity != 1 {
		return quantity, unitPrice
	}
	return n, unitPrice / float64(n)
}

// Item is the minimal shape Dedup needs: an identifying description and an
// opaque payload index into the caller's own slice.
type Item struct {
	Description string
	Index       int
}

// Dedup collapses items that are exact duplicates (normalized description
// equality) or fuzzy duplicates (Levenshtein similarity ratio ≥ 0.85),
// keeping the first occurrence of each group, and returns the indices to
// keep in original order. Used to merge line items that reappear across
// overlapping AI-parsing chunk boundaries.
func Dedup(items []Item) []int {
	var kept []Item
	var keepIdx []int
	for _, item := range items {
		norm := normalize(item.Description)
		duplicate := false
		for _, k := range kept {
			if norm == normalize(k.Description) {
				duplicate = true
				break
			}
			if similarityRatio(norm, normalize(k.Description)) >= dedupSimilarityThreshold {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, item)
			keepIdx = append(keepIdx, item.Index)
		}
	}
	return keepIdx
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func similarityRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	ratio := 1 - float64(dist)/float64(maxLen)
	if ratio < 0 {
		ratio = 0
	}
	return ratio
}
