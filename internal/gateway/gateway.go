// Package gateway defines the model-invocation capability the flow
// controller and evaluator depend on. Providers live in subpackages.
package gateway

import (
	"context"

	"github.com/astoria-ai/interview-conductor/internal/session"
)

// ToolCall is a tool invocation requested by the model instead of (or
// before) final text.
type ToolCall struct {
	Name string
	Args map[string]any
}

// Reply is the outcome of one model invocation.
type Reply struct {
	Text      string
	ToolCalls []ToolCall
}

// ModelGateway turns an ordered transcript into assistant output. Failure
// modes (timeout, provider error, malformed output) surface as errors;
// retry policy belongs to the provider or the host, never to the core.
type ModelGateway interface {
	Invoke(ctx context.Context, transcript []session.Message) (*Reply, error)
}

// ToolExecutor runs a tool requested by the model and returns its textual
// result. Only used when the host registers tools.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// Prompt wraps a single judgment request into a one-message transcript.
func Prompt(text string) []session.Message {
	return []session.Message{{Role: session.RoleCandidate, Content: text}}
}
