// Package suggest filters the prompt suggestions shown on an empty chat.
package suggest

import (
	"math/rand"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
)

// MaxQueryLength is the longest query that is matched. Longer input is
// treated as a prompt being written rather than a search.
const MaxQueryLength = 500

// Suggestion is one canned prompt.
type Suggestion struct {
	Title    string `yaml:"title" json:"title"`
	Subtitle string `yaml:"subtitle,omitempty" json:"subtitle,omitempty"`
	Content  string `yaml:"content" json:"content"`
}

// Picker holds a session's suggestions in a fixed shuffled order.
type Picker struct {
	items []Suggestion
}

// NewPicker shuffles items once with seed. The same seed always yields the
// same order.
func NewPicker(items []Suggestion, seed int64) *Picker {
	shuffled := append([]Suggestion(nil), items...)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return &Picker{items: shuffled}
}

// All returns every suggestion in the session order.
func (p *Picker) All() []Suggestion {
	return append([]Suggestion(nil), p.items...)
}

// Filter returns the suggestions matching query, best match first. A blank
// query returns everything; an oversized query returns nothing.
func (p *Picker) Filter(query string) []Suggestion {
	if len(query) > MaxQueryLength {
		return []Suggestion{}
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return p.All()
	}

	best := make(map[int]int)
	for _, src := range []fuzzy.Source{contentSource(p.items), titleSource(p.items)} {
		for _, m := range fuzzy.FindFrom(query, src) {
			if score, ok := best[m.Index]; !ok || m.Score > score {
				best[m.Index] = m.Score
			}
		}
	}

	idx := make([]int, 0, len(best))
	for i := range best {
		idx = append(idx, i)
	}
	sort.Slice(idx, func(a, b int) bool {
		if best[idx[a]] != best[idx[b]] {
			return best[idx[a]] > best[idx[b]]
		}
		return idx[a] < idx[b]
	})

	out := make([]Suggestion, len(idx))
	for i, j := range idx {
		out[i] = p.items[j]
	}
	return out
}

type contentSource []Suggestion

func (s contentSource) String(i int) string { return s[i].Content }
func (s contentSource) Len() int            { return len(s) }

type titleSource []Suggestion

func (s titleSource) String(i int) string {
	if s[i].Subtitle == "" {
		return s[i].Title
	}
	return s[i].Title + " " + s[i].Subtitle
}
func (s titleSource) Len() int { return len(s) }
