// Package terms implements the concept autocomplete index: a forward-prefix
// token index over concept display strings with regex re-scoring and match
// highlighting.
package terms

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/sync/singleflight"

	"github.com/clincohort/cohort-explorer/internal/index"
)

// DefaultLimit bounds result size when the caller does not supply a limit.
const DefaultLimit = 500

// Match is one ranked autocomplete suggestion.
type Match struct {
	ConceptID index.ConceptID `json:"-"`
	Code      string          `json:"cui"`
	Display   string          `json:"str"`
	Score     float64         `json:"score"`
	Highlight string          `json:"hl"`
	Mask      []bool          `json:"-"`
}

// Index is the immutable autocomplete index, built once over the catalog.
type Index struct {
	store         *index.Store
	buckets       map[string][]index.ConceptID
	maxCandidates int
	group         singleflight.Group
	logger        *slog.Logger
}

// NewIndex builds the forward-prefix index over every concept display string.
func NewIndex(store *index.Store, maxCandidates int) *Index {
	if maxCandidates <= 0 {
		maxCandidates = DefaultLimit
	}
	idx := &Index{
		store:         store,
		buckets:       make(map[string][]index.ConceptID),
		maxCandidates: maxCandidates,
		logger:        slog.Default().With("component", "term-index"),
	}
	for id := 0; id < store.ConceptCount(); id++ {
		idx.add(id, store.Concept(id).Display)
	}
	idx.logger.Info("term index built", "concepts", store.ConceptCount(), "buckets", len(idx.buckets))
	return idx
}

// add indexes every prefix of every word of the display string, so a query
// token matches any word it is a forward substring of.
func (idx *Index) add(id index.ConceptID, display string) {
	for _, word := range tokenize(display) {
		for i := 1; i <= len(word); i++ {
			prefix := word[:i]
			bucket := idx.buckets[prefix]
			if n := len(bucket); n > 0 && bucket[n-1] == id {
				continue
			}
			idx.buckets[prefix] = append(bucket, id)
		}
	}
}

// Search returns up to limit suggestions for the free-text query, scored and
// highlighted. Duplicate concurrent identical searches are collapsed.
func (idx *Index) Search(text string, limit int) []Match {
	if limit <= 0 {
		limit = DefaultLimit
	}
	key := fmt.Sprintf("%d:%s", limit, text)
	v, _, _ := idx.group.Do(key, func() (any, error) {
		return idx.search(text, limit), nil
	})
	return v.([]Match)
}

func (idx *Index) search(text string, limit int) []Match {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	candidates := idx.candidates(tokens)
	if len(candidates) == 0 {
		return nil
	}

	patterns := make([]*regexp.Regexp, 0, len(tokens))
	for _, token := range tokens {
		re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(token))
		if err != nil {
			continue
		}
		patterns = append(patterns, re)
	}

	matches := make([]Match, 0, len(candidates))
	for _, id := range candidates {
		concept := idx.store.Concept(id)
		score := 0.0
		for _, re := range patterns {
			if re.MatchString(concept.Display) {
				score += 1.0
			}
		}
		// Tie-break in favour of shorter, more specific display strings.
		score += 1.0 / float64(len(concept.Display))
		matches = append(matches, Match{
			ConceptID: id,
			Code:      concept.Code,
			Display:   concept.Display,
			Score:     score,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	for i := range matches {
		matches[i].Mask = highlightMask(matches[i].Display, patterns)
		matches[i].Highlight = wrapHighlight(matches[i].Display, matches[i].Mask)
	}
	return matches
}

// candidates unions the prefix buckets of all tokens, first-seen order, capped
// at the candidate pool size.
func (idx *Index) candidates(tokens []string) []index.ConceptID {
	seen := make(map[index.ConceptID]struct{})
	out := make([]index.ConceptID, 0, idx.maxCandidates)
	for _, token := range tokens {
		for _, id := range idx.buckets[token] {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
			if len(out) >= idx.maxCandidates {
				return out
			}
		}
	}
	return out
}

// highlightMask marks every character position covered by any token match.
func highlightMask(display string, patterns []*regexp.Regexp) []bool {
	mask := make([]bool, len(display))
	for _, re := range patterns {
		for _, span := range re.FindAllStringIndex(display, -1) {
			for i := span[0]; i < span[1]; i++ {
				mask[i] = true
			}
		}
	}
	return mask
}

// wrapHighlight wraps each contiguous marked run in <b> tags for the client.
func wrapHighlight(display string, mask []bool) string {
	var b strings.Builder
	inRun := false
	for i := 0; i < len(display); i++ {
		if mask[i] && !inRun {
			b.WriteString("<b>")
			inRun = true
		}
		if !mask[i] && inRun {
			b.WriteString("</b>")
			inRun = false
		}
		b.WriteByte(display[i])
	}
	if inRun {
		b.WriteString("</b>")
	}
	return b.String()
}

// tokenize splits text on non-word runes and lowercases the pieces, matching
// the index and the scoring regexes.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}
