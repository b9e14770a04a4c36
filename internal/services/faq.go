package services

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/MegaGrindStone/support-widget/internal/models"
	"gopkg.in/yaml.v3"
)

// FAQ is a catalog of canned answers. It picks the entry whose keywords best match a user message and
// reports the best matches as answer sources.
type FAQ struct {
	Fallback string     `yaml:"fallback"`
	Entries  []FAQEntry `yaml:"entries"`
}

// FAQEntry is a single question of the catalog.
type FAQEntry struct {
	ID       string   `yaml:"id"`
	Category string   `yaml:"category"`
	Question string   `yaml:"question"`
	Answer   string   `yaml:"answer"`
	Keywords []string `yaml:"keywords"`
}

type faqMatch struct {
	entry FAQEntry
	score float64
}

const maxFAQSources = 2

// LoadFAQ decodes a YAML catalog from r.
func LoadFAQ(r io.Reader) (FAQ, error) {
	var faq FAQ
	if err := yaml.NewDecoder(r).Decode(&faq); err != nil {
		return FAQ{}, fmt.Errorf("error decoding faq: %w", err)
	}
	if err := faq.Validate(); err != nil {
		return FAQ{}, err
	}
	return faq, nil
}

// Validate checks that the catalog has a fallback and that every entry can be answered.
func (f FAQ) Validate() error {
	if f.Fallback == "" {
		return errors.New("faq fallback is required")
	}
	for i, e := range f.Entries {
		if e.Question == "" || e.Answer == "" {
			return fmt.Errorf("faq entry %d: question and answer are required", i)
		}
		if e.Category == "" {
			return fmt.Errorf("faq entry %d: category is required", i)
		}
	}
	return nil
}

// Answer returns the answer text for message and the sources it was drawn from. A message that matches
// no entry gets the fallback text and no sources.
func (f FAQ) Answer(message string) (string, []models.Source) {
	matches := f.match(message)
	if len(matches) == 0 {
		return f.Fallback, []models.Source{}
	}

	sources := make([]models.Source, 0, maxFAQSources)
	for _, m := range matches {
		if len(sources) == maxFAQSources {
			break
		}
		sources = append(sources, models.Source{
			Category: m.entry.Category,
			Question: m.entry.Question,
			Score:    math.Round(m.score*100) / 100,
		})
	}
	return matches[0].entry.Answer, sources
}

// match scores every entry against message, best first. An exact question match scores 1, otherwise the
// score is the share of the entry keywords found in the message.
func (f FAQ) match(message string) []faqMatch {
	normalized := normalize(message)
	if normalized == "" {
		return nil
	}

	var matches []faqMatch
	for _, e := range f.Entries {
		score := 0.0
		if normalize(e.Question) == normalized {
			score = 1
		} else if len(e.Keywords) > 0 {
			hits := 0
			for _, k := range e.Keywords {
				if strings.Contains(normalized, normalize(k)) {
					hits++
				}
			}
			score = float64(hits) / float64(len(e.Keywords))
		}
		if score > 0 {
			matches = append(matches, faqMatch{entry: e, score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})
	return matches
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimRight(s, "?!. ")
	return strings.Join(strings.Fields(s), " ")
}
