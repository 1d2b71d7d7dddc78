// Package bank loads the interview script: ordered categories of
// competency-tagged questions, the welcome template fields, and the scoring
// rubric. The bank is read-only; traversal state lives in the session cursor.
package bank

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/astoria-ai/interview-conductor/internal/session"

	"gopkg.in/yaml.v3"
)

// Question is one competency-tagged interview question.
type Question struct {
	Text       string `yaml:"question"`
	Competency string `yaml:"competency"`
}

// Category is an ordered block of questions identified by name.
type Category struct {
	Name      string     `yaml:"name"`
	Questions []Question `yaml:"questions"`
}

// Welcome carries the template fields for the scripted welcome message.
type Welcome struct {
	Position string `yaml:"position"`
	Company  string `yaml:"company"`
	Mission  string `yaml:"mission"`
}

// Bank is the full interview script.
type Bank struct {
	Welcome    Welcome    `yaml:"welcome"`
	Categories []Category `yaml:"categories"`
	Rubric     Rubric     `yaml:"rubric"`
}

// Load reads and validates an interview script from a YAML file.
func Load(filename string) (*Bank, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading interview script %s: %w", filename, err)
	}

	return Parse(data)
}

// Parse decodes and validates an interview script.
func Parse(data []byte) (*Bank, error) {
	var b Bank
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parsing interview script: %w", err)
	}

	if err := validate(&b); err != nil {
		return nil, fmt.Errorf("validating interview script: %w", err)
	}

	return &b, nil
}

func validate(b *Bank) error {
	if len(b.Categories) == 0 {
		return fmt.Errorf("at least one category is required")
	}

	for i, category := range b.Categories {
		if strings.TrimSpace(category.Name) == "" {
			return fmt.Errorf("category %d must have a name", i)
		}

		for j, q := range category.Questions {
			if strings.TrimSpace(q.Text) == "" {
				return fmt.Errorf("category %q question %d has empty text", category.Name, j)
			}
			if strings.TrimSpace(q.Competency) == "" {
				return fmt.Errorf("category %q question %d has no competency", category.Name, j)
			}
			if b.Rubric != nil && !b.Rubric.Has(q.Competency) {
				return fmt.Errorf("category %q question %d references competency %q missing from the rubric",
					category.Name, j, q.Competency)
			}
		}
	}

	return b.Rubric.validate()
}

// LoadRubric reads a standalone rubric file, replacing any rubric embedded
// in the script, and re-validates the combined result.
func (b *Bank) LoadRubric(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("reading rubric %s: %w", filename, err)
	}

	var r Rubric
	if err := yaml.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("parsing rubric %s: %w", filename, err)
	}

	previous := b.Rubric
	b.Rubric = r
	if err := validate(b); err != nil {
		b.Rubric = previous
		return fmt.Errorf("validating rubric %s: %w", filename, err)
	}
	return nil
}

// Next returns the question at the cursor and the advanced cursor. Traversal
// is sequential within a category, then index 0 of the next category. After
// the last category it reports ok=false and leaves the cursor unchanged, and
// keeps doing so on every subsequent call.
func (b *Bank) Next(c session.Cursor) (Question, session.Cursor, bool) {
	category := c.Category
	question := c.Question

	for category < len(b.Categories) && question >= len(b.Categories[category].Questions) {
		category++
		question = 0
	}

	if category >= len(b.Categories) {
		return Question{}, c, false
	}

	q := b.Categories[category].Questions[question]
	return q, session.Cursor{Category: category, Question: question + 1}, true
}

// CategoryName returns the name of the category the cursor points into, for
// logging. Empty when the cursor is past the end.
func (b *Bank) CategoryName(c session.Cursor) string {
	if c.Category < 0 || c.Category >= len(b.Categories) {
		return ""
	}
	return b.Categories[c.Category].Name
}

// Len returns the total number of questions across all categories.
func (b *Bank) Len() int {
	total := 0
	for _, category := range b.Categories {
		total += len(category.Questions)
	}
	return total
}

// Rubric maps a competency to its per-score descriptor texts.
type Rubric map[string]map[int]string

// Has reports whether the rubric defines criteria for the competency.
func (r Rubric) Has(competency string) bool {
	_, ok := r[competency]
	return ok
}

// Criteria renders the scoring criteria for a competency as ordered
// "score: descriptor" lines, consumed verbatim by evaluator prompts.
func (r Rubric) Criteria(competency string) string {
	descriptors, ok := r[competency]
	if !ok {
		return ""
	}

	scores := make([]int, 0, len(descriptors))
	for score := range descriptors {
		scores = append(scores, score)
	}
	sort.Ints(scores)

	var sb strings.Builder
	for _, score := range scores {
		fmt.Fprintf(&sb, "%d: %s\n", score, descriptors[score])
	}
	return sb.String()
}

func (r Rubric) validate() error {
	for competency, descriptors := range r {
		if len(descriptors) == 0 {
			return fmt.Errorf("rubric for %q has no criteria", competency)
		}
		for score := range descriptors {
			if score < 1 || score > 5 {
				return fmt.Errorf("rubric for %q has out-of-range score %d", competency, score)
			}
		}
	}
	return nil
}
