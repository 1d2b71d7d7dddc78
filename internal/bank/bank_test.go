package bank

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/astoria-ai/interview-conductor/internal/session"
)

func testBank() *Bank {
	return &Bank{
		Welcome: Welcome{Position: "Engineer", Company: "Acme", Mission: "testing"},
		Categories: []Category{
			{Name: "behavioral", Questions: []Question{
				{Text: "b1", Competency: "Problem-Solving"},
				{Text: "b2", Competency: "Collaboration"},
			}},
			{Name: "technical", Questions: []Question{
				{Text: "t1", Competency: "Technical Expertise"},
			}},
		},
	}
}

func TestNextTraversesCategoriesInOrder(t *testing.T) {
	b := testBank()

	var texts []string
	cursor := session.Cursor{}
	for {
		q, next, ok := b.Next(cursor)
		if !ok {
			break
		}
		if next.Before(cursor) {
			t.Fatalf("cursor moved backwards: %+v -> %+v", cursor, next)
		}
		texts = append(texts, q.Text)
		cursor = next
	}

	expected := []string{"b1", "b2", "t1"}
	if len(texts) != len(expected) {
		t.Fatalf("expected %d questions, got %v", len(expected), texts)
	}
	for i, text := range expected {
		if texts[i] != text {
			t.Fatalf("question %d: expected %q, got %q", i, text, texts[i])
		}
	}
}

func TestNextDoneIsIdempotent(t *testing.T) {
	b := testBank()

	cursor := session.Cursor{Category: 1, Question: 1}
	for i := 0; i < 3; i++ {
		_, next, ok := b.Next(cursor)
		if ok {
			t.Fatalf("call %d: expected done", i)
		}
		if next != cursor {
			t.Fatalf("call %d: cursor changed after exhaustion: %+v", i, next)
		}
	}
}

func TestNextSkipsEmptyCategories(t *testing.T) {
	b := &Bank{Categories: []Category{
		{Name: "empty"},
		{Name: "full", Questions: []Question{{Text: "q", Competency: "Adaptability"}}},
	}}

	q, next, ok := b.Next(session.Cursor{})
	if !ok {
		t.Fatal("expected a question")
	}
	if q.Text != "q" {
		t.Fatalf("unexpected question: %q", q.Text)
	}
	if next.Category != 1 || next.Question != 1 {
		t.Fatalf("unexpected cursor: %+v", next)
	}
}

func TestParseValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "no categories",
			yaml: "welcome:\n  company: Acme\n",
			want: "at least one category",
		},
		{
			name: "unnamed category",
			yaml: "categories:\n  - questions:\n      - question: q\n        competency: c\n",
			want: "must have a name",
		},
		{
			name: "question without competency",
			yaml: "categories:\n  - name: a\n    questions:\n      - question: q\n",
			want: "no competency",
		},
		{
			name: "competency missing from rubric",
			yaml: "categories:\n  - name: a\n    questions:\n      - question: q\n        competency: Leadership\nrubric:\n  Collaboration:\n    1: poor\n",
			want: "missing from the rubric",
		},
		{
			name: "rubric score out of range",
			yaml: "categories:\n  - name: a\n    questions:\n      - question: q\n        competency: Collaboration\nrubric:\n  Collaboration:\n    6: too good\n",
			want: "out-of-range score",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in error, got: %v", tc.want, err)
			}
		})
	}
}

func TestParseValidScript(t *testing.T) {
	yaml := `
welcome:
  position: AI Engineer
  company: Acme
  mission: doing things well
categories:
  - name: behavioral
    questions:
      - question: Tell us about a hard bug.
        competency: Problem-Solving
rubric:
  Problem-Solving:
    1: Unable to identify root causes.
    3: Identifies root causes effectively.
    5: Solves problems efficiently.
`
	b, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if b.Len() != 1 {
		t.Fatalf("expected 1 question, got %d", b.Len())
	}
	if b.Welcome.Company != "Acme" {
		t.Fatalf("unexpected welcome: %+v", b.Welcome)
	}
	if !b.Rubric.Has("Problem-Solving") {
		t.Fatal("rubric missing Problem-Solving")
	}
}

func TestLoadRubricOverride(t *testing.T) {
	b := &Bank{
		Categories: []Category{
			{Name: "a", Questions: []Question{{Text: "q", Competency: "Collaboration"}}},
		},
		Rubric: Rubric{"Collaboration": {1: "embedded"}},
	}

	path := filepath.Join(t.TempDir(), "rubric.yaml")
	if err := os.WriteFile(path, []byte("Collaboration:\n  1: standalone\n  5: great\n"), 0o644); err != nil {
		t.Fatalf("write rubric: %v", err)
	}

	if err := b.LoadRubric(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Rubric["Collaboration"][1] != "standalone" {
		t.Fatalf("rubric not replaced: %+v", b.Rubric)
	}

	// A rubric that drops a referenced competency must fail validation.
	if err := os.WriteFile(path, []byte("Leadership:\n  1: poor\n"), 0o644); err != nil {
		t.Fatalf("write rubric: %v", err)
	}
	if err := b.LoadRubric(path); err == nil {
		t.Fatal("expected validation error")
	}
	if b.Rubric["Collaboration"][1] != "standalone" {
		t.Fatalf("rubric not restored after failed load: %+v", b.Rubric)
	}
}

func TestRubricCriteriaOrdered(t *testing.T) {
	r := Rubric{"Adaptability": {3: "ok", 1: "poor", 5: "great"}}

	criteria := r.Criteria("Adaptability")
	expected := "1: poor\n3: ok\n5: great\n"
	if criteria != expected {
		t.Fatalf("unexpected criteria:\n%s", criteria)
	}

	if r.Criteria("Unknown") != "" {
		t.Fatal("expected empty criteria for unknown competency")
	}
}
