package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/astoria-ai/interview-conductor/internal/bank"
)

func testScript() *bank.Bank {
	return &bank.Bank{
		Welcome: bank.Welcome{Position: "AI Engineer", Company: "Acme", Mission: "useful automation"},
		Categories: []bank.Category{
			{Name: "behavioral", Questions: []bank.Question{
				{Text: "b1", Competency: "Problem-Solving"},
				{Text: "b2", Competency: "Collaboration"},
			}},
			{Name: "technical", Questions: []bank.Question{
				{Text: "t1", Competency: "Technical Expertise"},
			}},
		},
	}
}

func TestDeclarationsMatchExecutableTools(t *testing.T) {
	st := New(testScript())

	decls := st.Declarations()
	if len(decls) != 2 {
		t.Fatalf("expected 2 declarations, got %d", len(decls))
	}

	for _, decl := range decls {
		if _, err := st.Execute(context.Background(), decl.Name, nil); err != nil {
			t.Fatalf("declared tool %s is not executable: %v", decl.Name, err)
		}
	}
}

func TestCompanyInfo(t *testing.T) {
	st := New(testScript())

	result, err := st.Execute(context.Background(), ToolCompanyInfo, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"AI Engineer", "Acme", "useful automation"} {
		if !strings.Contains(result, want) {
			t.Fatalf("result missing %q: %s", want, result)
		}
	}
}

func TestInterviewOutline(t *testing.T) {
	st := New(testScript())

	t.Run("all categories", func(t *testing.T) {
		result, err := st.Execute(context.Background(), ToolInterviewOutline, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, want := range []string{"3 questions", "behavioral (2 questions)", "technical (1 questions)"} {
			if !strings.Contains(result, want) {
				t.Fatalf("result missing %q: %s", want, result)
			}
		}
	})

	t.Run("single category", func(t *testing.T) {
		result, err := st.Execute(context.Background(), ToolInterviewOutline, map[string]any{"category": "Technical"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(result, "technical has 1 questions") {
			t.Fatalf("unexpected result: %s", result)
		}
	})

	t.Run("unknown category", func(t *testing.T) {
		if _, err := st.Execute(context.Background(), ToolInterviewOutline, map[string]any{"category": "nope"}); err == nil {
			t.Fatal("expected error for unknown category")
		}
	})
}

func TestUnknownTool(t *testing.T) {
	st := New(testScript())

	if _, err := st.Execute(context.Background(), "search", nil); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}
