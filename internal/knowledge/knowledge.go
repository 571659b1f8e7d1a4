// Package knowledge holds the static poultry health tables: disease records,
// symptom category shortcuts, general husbandry topics and the canned texts
// the assistant falls back on. The tables are parsed once and never mutated.
package knowledge

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed knowledge.yaml
var defaultYAML []byte

// ErrInvalid is wrapped by every validation failure returned from Load.
var ErrInvalid = errors.New("invalid knowledge base")

// Category is the disease family of a record.
type Category string

const (
	Viral       Category = "Viral"
	Bacterial   Category = "Bacterial"
	Parasitic   Category = "Parasitic"
	Fungal      Category = "Fungal"
	Nutritional Category = "Nutritional"
)

var categories = []Category{Viral, Bacterial, Parasitic, Fungal, Nutritional}

// DiseaseRecord is the clinical profile of one disease.
type DiseaseRecord struct {
	ID           string   `yaml:"id" json:"id"`
	Name         string   `yaml:"name" json:"name"`
	Type         string   `yaml:"category" json:"type"`
	Symptoms     []string `yaml:"symptoms" json:"symptoms"`
	Transmission string   `yaml:"transmission" json:"transmission"`
	Prevention   string   `yaml:"prevention" json:"prevention"`
	Treatment    string   `yaml:"treatment" json:"treatment"`
	Mortality    string   `yaml:"mortality" json:"mortality"`
	Incubation   string   `yaml:"incubation" json:"incubation"`
}

// Category returns the family of the record without its qualifier, so
// "Viral (Herpesvirus)" yields Viral.
func (d DiseaseRecord) Category() Category {
	for _, c := range categories {
		if strings.HasPrefix(d.Type, string(c)) {
			return c
		}
	}
	return Category(d.Type)
}

// SymptomCategory is a canned answer keyed by trigger words.
type SymptomCategory struct {
	ID               string   `yaml:"id" json:"id"`
	Label            string   `yaml:"label" json:"label"`
	Emergency        bool     `yaml:"emergency" json:"emergency"`
	Keywords         []string `yaml:"keywords" json:"keywords"`
	PossibleDiseases []string `yaml:"possibleDiseases" json:"possible_diseases"`
	Response         string   `yaml:"response" json:"response"`
}

// Topic is a general husbandry subject with a few interchangeable answers.
type Topic struct {
	ID        string   `yaml:"id" json:"id"`
	Keywords  []string `yaml:"keywords" json:"keywords"`
	Responses []string `yaml:"responses" json:"responses"`
}

// Suggestion is a prompt offered to farmers as a starting question.
type Suggestion struct {
	Text string `yaml:"text" json:"text"`
	Icon string `yaml:"icon" json:"icon"`
}

// Base is the full knowledge base. Slices keep document order.
type Base struct {
	Diseases    []DiseaseRecord   `yaml:"diseases"`
	Categories  []SymptomCategory `yaml:"categories"`
	Topics      []Topic           `yaml:"topics"`
	Suggestions []Suggestion      `yaml:"suggestions"`
	Fallbacks   []string          `yaml:"fallbacks"`
	Welcome     string            `yaml:"welcome"`

	byID map[string]int
}

// Load parses and validates a YAML knowledge document.
func Load(data []byte) (*Base, error) {
	var b Base
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse knowledge base: %w", err)
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

var (
	defaultOnce sync.Once
	defaultBase *Base
)

// Default returns the embedded knowledge base. It panics if the embedded
// document is invalid, which only a broken build can cause.
func Default() *Base {
	defaultOnce.Do(func() {
		b, err := Load(defaultYAML)
		if err != nil {
			panic(err)
		}
		defaultBase = b
	})
	return defaultBase
}

// Disease looks a record up by identifier.
func (b *Base) Disease(id string) (DiseaseRecord, bool) {
	i, ok := b.byID[id]
	if !ok {
		return DiseaseRecord{}, false
	}
	return b.Diseases[i], true
}

func (b *Base) validate() error {
	b.byID = make(map[string]int, len(b.Diseases))
	for i, d := range b.Diseases {
		if d.ID == "" {
			return fmt.Errorf("%w: disease %d has no id", ErrInvalid, i)
		}
		if _, dup := b.byID[d.ID]; dup {
			return fmt.Errorf("%w: duplicate disease id %q", ErrInvalid, d.ID)
		}
		if len(d.Symptoms) == 0 {
			return fmt.Errorf("%w: disease %q has no symptoms", ErrInvalid, d.ID)
		}
		for _, s := range d.Symptoms {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("%w: disease %q has an empty symptom", ErrInvalid, d.ID)
			}
		}
		b.byID[d.ID] = i
	}
	// Questions are lowercased before matching, so keywords are too.  A blank
	// keyword would match every question.
	for i := range b.Categories {
		c := &b.Categories[i]
		if len(c.Keywords) == 0 {
			return fmt.Errorf("%w: category %q has no keywords", ErrInvalid, c.ID)
		}
		if err := normalizeKeywords("category", c.ID, c.Keywords); err != nil {
			return err
		}
	}
	for i := range b.Topics {
		t := &b.Topics[i]
		if len(t.Responses) == 0 {
			return fmt.Errorf("%w: topic %q has no responses", ErrInvalid, t.ID)
		}
		if err := normalizeKeywords("topic", t.ID, t.Keywords); err != nil {
			return err
		}
	}
	if len(b.Fallbacks) == 0 {
		return fmt.Errorf("%w: no fallback responses", ErrInvalid)
	}
	return nil
}

func normalizeKeywords(kind, id string, keywords []string) error {
	for i, kw := range keywords {
		if strings.TrimSpace(kw) == "" {
			return fmt.Errorf("%w: %s %q has an empty keyword", ErrInvalid, kind, id)
		}
		keywords[i] = strings.ToLower(kw)
	}
	return nil
}
