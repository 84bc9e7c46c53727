package utils

import (
	"bufio"
	"os"
	"strings"
)

// Blocklist holds title terms hidden from catalog search results
type Blocklist struct {
	terms []string
}

// NewBlocklist builds a blocklist from terms, ignoring blanks
func NewBlocklist(terms ...string) *Blocklist {
	b := &Blocklist{}
	for _, term := range terms {
		if t := strings.TrimSpace(term); t != "" {
			b.terms = append(b.terms, NormalizeTitle(t))
		}
	}
	return b
}

// LoadBlocklist loads blocklist terms from a file, one per line. Lines
// starting with # are comments. A missing file yields an empty blocklist.
func LoadBlocklist(path string) (*Blocklist, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Blocklist{}, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var terms []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		term := strings.TrimSpace(scanner.Text())
		if term != "" && !strings.HasPrefix(term, "#") {
			terms = append(terms, term)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return NewBlocklist(terms...), nil
}

// Len returns the number of terms
func (b *Blocklist) Len() int {
	if b == nil {
		return 0
	}
	return len(b.terms)
}

// IsBlocked checks if a title contains any blocklist term.
// Returns (isBlocked, matchedTerm)
func (b *Blocklist) IsBlocked(title string) (bool, string) {
	if b == nil {
		return false, ""
	}

	normalized := NormalizeTitle(title)
	for _, term := range b.terms {
		if strings.Contains(normalized, term) {
			return true, term
		}
	}

	return false, ""
}
