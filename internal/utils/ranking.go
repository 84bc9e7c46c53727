package utils

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	punctuationRegex = regexp.MustCompile(`[^\p{L}\p{N}]+`)
	yearRegex        = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
)

// NormalizeTitle folds case, strips diacritics and collapses punctuation so
// "Amélie!" and "amelie" compare equal
func NormalizeTitle(title string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, title)
	if err != nil {
		stripped = title
	}

	// Casers are stateful, one per call
	folded := cases.Fold().String(stripped)
	return strings.TrimSpace(punctuationRegex.ReplaceAllString(folded, " "))
}

// TitleDistance returns the edit distance between two normalized titles,
// scaled to [0,1] by the longer title
func TitleDistance(a, b string) float64 {
	na, nb := NormalizeTitle(a), NormalizeTitle(b)
	longest := len([]rune(na))
	if l := len([]rune(nb)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 0
	}
	return float64(levenshtein.ComputeDistance(na, nb)) / float64(longest)
}

// RankByTitle sorts items by relevance to query:
// 1. Exact normalized match
// 2. Titles starting with the query
// 3. Smaller edit distance
// Ties keep their original order.
func RankByTitle[T any](items []T, query string, title func(T) string) []T {
	sorted := make([]T, len(items))
	copy(sorted, items)

	q := NormalizeTitle(query)
	tier := func(item T) int {
		t := NormalizeTitle(title(item))
		switch {
		case t == q:
			return 0
		case strings.HasPrefix(t, q):
			return 1
		default:
			return 2
		}
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		ti, tj := tier(sorted[i]), tier(sorted[j])
		if ti != tj {
			return ti < tj
		}
		return TitleDistance(title(sorted[i]), query) < TitleDistance(title(sorted[j]), query)
	})

	return sorted
}

// ExtractYear extracts a 4-digit year from a title or a date string such as
// "2009-12-18". Returns 0 if no year is found.
func ExtractYear(s string) int {
	matches := yearRegex.FindStringSubmatch(s)
	if len(matches) > 1 {
		year, err := strconv.Atoi(matches[1])
		if err == nil {
			return year
		}
	}
	return 0
}
