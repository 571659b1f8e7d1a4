package core

import (
	"math/rand"
	"strings"

	"flockvet/internal/knowledge"
)

// Kind identifies which pass of the matcher produced a Result.
type Kind string

const (
	KindCategory Kind = "category"
	KindDisease  Kind = "disease"
	KindNone     Kind = "none"
)

// Result holds the outcome of matching a single question.
type Result struct {
	Kind     Kind
	Category *knowledge.SymptomCategory
	Disease  *knowledge.DiseaseRecord
	Score    int
}

// Chooser returns a uniformly chosen index in [0, n).  It must be safe for
// concurrent use.
type Chooser func(n int) int

// Matcher maps free-text symptom descriptions to a symptom category or to the
// best-scoring disease record.  It holds no mutable state and is safe for
// concurrent use.
type Matcher struct {
	kb       *knowledge.Base
	diseases []indexedDisease
	choose   Chooser
}

type indexedDisease struct {
	record *knowledge.DiseaseRecord
	name   string
	id     string
	words  []string
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithChooser replaces the random source used to pick fallback responses.
func WithChooser(c Chooser) MatcherOption {
	return func(m *Matcher) { m.choose = c }
}

// NewMatcher indexes the disease table of kb.
func NewMatcher(kb *knowledge.Base, opts ...MatcherOption) *Matcher {
	m := &Matcher{kb: kb, choose: rand.Intn}
	for _, opt := range opts {
		opt(m)
	}
	m.diseases = make([]indexedDisease, len(kb.Diseases))
	for i := range kb.Diseases {
		d := &kb.Diseases[i]
		idx := indexedDisease{
			record: d,
			name:   strings.ToLower(d.Name),
			id:     strings.ToLower(d.ID),
		}
		// Words are kept per phrase and never deduplicated: a word shared by
		// two phrases of one disease scores twice.
		for _, s := range d.Symptoms {
			idx.words = append(idx.words, strings.Split(strings.ToLower(s), " ")...)
		}
		m.diseases[i] = idx
	}
	return m
}

// Diagnose answers a question with a category shortcut, a disease profile or
// a generic fallback.  It never fails.
func (m *Matcher) Diagnose(question string) string {
	return m.Render(m.Match(question))
}

// Match runs the category shortcut pass and, if nothing fires, scores every
// disease.  A category match always wins over a disease match.
func (m *Matcher) Match(question string) Result {
	q := strings.ToLower(question)

	for i := range m.kb.Categories {
		c := &m.kb.Categories[i]
		for _, kw := range c.Keywords {
			if strings.Contains(q, kw) {
				return Result{Kind: KindCategory, Category: c}
			}
		}
	}

	best := Result{Kind: KindNone}
	for _, d := range m.diseases {
		score := d.score(q)
		if score > best.Score {
			best = Result{Kind: KindDisease, Disease: d.record, Score: score}
		}
	}
	return best
}

func (d indexedDisease) score(q string) int {
	score := 0
	if strings.Contains(q, d.name) || strings.Contains(q, d.id) {
		score += 10
	}
	for _, w := range d.words {
		if len(w) > 3 && strings.Contains(q, w) {
			score += 2
		}
	}
	if (d.record.Transmission != "" && strings.Contains(q, "spread")) || strings.Contains(q, "transmit") {
		score++
	}
	return score
}

// Render formats a Result as reply text.  KindNone renders a fallback.
func (m *Matcher) Render(r Result) string {
	switch r.Kind {
	case KindCategory:
		return r.Category.Response
	case KindDisease:
		return FormatDisease(*r.Disease)
	default:
		return m.Fallback()
	}
}

// Fallback returns one of the generic responses, chosen uniformly.
func (m *Matcher) Fallback() string {
	return pick(m.choose, m.kb.Fallbacks)
}

func pick(choose Chooser, options []string) string {
	if len(options) == 0 {
		return ""
	}
	i := choose(len(options))
	if i < 0 || i >= len(options) {
		i = 0
	}
	return options[i]
}
