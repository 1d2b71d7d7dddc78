// Package tools exposes interview-script facts as model-callable functions
// for the tool-augmented generation loop.
package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/astoria-ai/interview-conductor/internal/bank"

	"google.golang.org/genai"
)

const (
	// ToolCompanyInfo returns the position, company and mission fields.
	ToolCompanyInfo = "company_info"
	// ToolInterviewOutline summarizes the question categories.
	ToolInterviewOutline = "interview_outline"
)

// ScriptTools answers model tool calls from the loaded interview script. It
// holds no mutable state and can be shared across sessions.
type ScriptTools struct {
	script *bank.Bank
}

// New creates a ScriptTools over the loaded script.
func New(script *bank.Bank) *ScriptTools {
	return &ScriptTools{script: script}
}

// Declarations returns the function declarations to register with the model
// gateway.
func (t *ScriptTools) Declarations() []*genai.FunctionDeclaration {
	return []*genai.FunctionDeclaration{
		{
			Name:        ToolCompanyInfo,
			Description: "Look up the position, company and mission this interview is for.",
		},
		{
			Name: ToolInterviewOutline,
			Description: "Summarize the interview structure: category names and question counts. " +
				"Pass a category name to get that category only.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"category": {Type: genai.TypeString, Description: "Optional category name."},
				},
			},
		},
	}
}

// Execute runs one tool call and returns its textual result.
func (t *ScriptTools) Execute(_ context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case ToolCompanyInfo:
		w := t.script.Welcome
		return fmt.Sprintf("Position: %s. Company: %s. Mission: %s.", w.Position, w.Company, w.Mission), nil
	case ToolInterviewOutline:
		return t.outline(args)
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

func (t *ScriptTools) outline(args map[string]any) (string, error) {
	wanted, _ := args["category"].(string)
	wanted = strings.TrimSpace(wanted)

	if wanted == "" {
		parts := make([]string, 0, len(t.script.Categories))
		for _, category := range t.script.Categories {
			parts = append(parts, fmt.Sprintf("%s (%d questions)", category.Name, len(category.Questions)))
		}
		return fmt.Sprintf("The interview has %d questions across: %s.",
			t.script.Len(), strings.Join(parts, ", ")), nil
	}

	for _, category := range t.script.Categories {
		if strings.EqualFold(category.Name, wanted) {
			return fmt.Sprintf("Category %s has %d questions.", category.Name, len(category.Questions)), nil
		}
	}
	return "", fmt.Errorf("unknown category: %s", wanted)
}
