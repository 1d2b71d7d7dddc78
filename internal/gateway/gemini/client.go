// Package gemini implements the model gateway on top of the Google GenAI
// API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/astoria-ai/interview-conductor/internal/gateway"
	"github.com/astoria-ai/interview-conductor/internal/logger"
	"github.com/astoria-ai/interview-conductor/internal/session"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	defaultModel      = "gemini-2.5-pro"
	defaultMaxRetries = 2

	// Quota errors advertising a delay longer than this are not worth
	// waiting out inside a request.
	maxQuotaDelay = 10 * time.Second
)

// sleep is a variable so tests can skip real backoff delays.
var sleep = time.Sleep

var retryAfterRe = regexp.MustCompile(`retry after (\d+)`)

// chatSession is the slice of *genai.Chat the gateway uses.
type chatSession interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// chatCreator abstracts chat construction for testing.
type chatCreator interface {
	Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error)
}

type genaiChatCreator struct {
	client *genai.Client
}

func (c *genaiChatCreator) Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error) {
	return c.client.Chats.Create(ctx, model, config, history)
}

// Gateway sends interview transcripts to Gemini and surfaces text and
// tool-call requests.
type Gateway struct {
	chats      chatCreator
	model      string
	system     string
	tools      []*genai.Tool
	maxRetries int
	logger     *zap.Logger
}

// New creates a Gateway backed by the Gemini API.
func New(ctx context.Context, apiKey, model, system string, maxRetries int, log *zap.Logger) (*Gateway, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}

	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	return &Gateway{
		chats:      &genaiChatCreator{client: client},
		model:      model,
		system:     system,
		maxRetries: maxRetries,
		logger:     logger.WithCommonFields(log, "gemini", model),
	}, nil
}

// RegisterTools makes the provided function declarations available to the
// model on every invocation.
func (g *Gateway) RegisterTools(decls []*genai.FunctionDeclaration) {
	if len(decls) == 0 {
		g.tools = nil
		return
	}
	g.tools = []*genai.Tool{{FunctionDeclarations: decls}}
}

// Model returns the configured model name.
func (g *Gateway) Model() string {
	if g == nil {
		return ""
	}
	return g.model
}

// Invoke sends the transcript to Gemini. All messages but the last become
// chat history; the last one is sent as the new message.
func (g *Gateway) Invoke(ctx context.Context, transcript []session.Message) (*gateway.Reply, error) {
	if g == nil || g.chats == nil {
		return nil, errors.New("gemini gateway is not initialized")
	}
	if len(transcript) == 0 {
		return nil, errors.New("transcript must not be empty")
	}

	history := toContents(transcript[:len(transcript)-1])
	last := transcript[len(transcript)-1]

	config := &genai.GenerateContentConfig{Tools: g.tools}
	if strings.TrimSpace(g.system) != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: g.system}}}
	}

	var lastErr error
	for attempt := 1; attempt <= g.maxRetries; attempt++ {
		chat, err := g.chats.Create(ctx, g.model, config, history)
		if err != nil {
			return nil, fmt.Errorf("create chat: %w", err)
		}

		resp, err := chat.SendMessage(ctx, genai.Part{Text: last.Content})
		if err == nil {
			return toReply(resp)
		}

		lastErr = err
		delay, retryable := retryDelay(err)
		if !retryable {
			return nil, fmt.Errorf("generate content: %w", err)
		}

		g.logger.Warn("transient gemini error",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", g.maxRetries),
			zap.Error(err),
		)

		if attempt < g.maxRetries {
			sleep(delay)
		}
	}

	return nil, fmt.Errorf("generate content after %d attempts: %w", g.maxRetries, lastErr)
}

// retryDelay classifies an error as retryable and picks the backoff delay.
func retryDelay(err error) (time.Duration, bool) {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return 0, false
	}

	if apiErr.Code == http.StatusTooManyRequests {
		delay := quotaDelay(apiErr.Message)
		if delay > maxQuotaDelay {
			return 0, false
		}
		if delay > 0 {
			return delay, true
		}
		return time.Second, true
	}

	if apiErr.Code >= http.StatusInternalServerError {
		return time.Second, true
	}

	return 0, false
}

// quotaDelay extracts the advertised retry delay from a quota error message.
func quotaDelay(message string) time.Duration {
	match := retryAfterRe.FindStringSubmatch(strings.ToLower(message))
	if len(match) != 2 {
		return 0
	}
	seconds, err := strconv.Atoi(match[1])
	if err != nil {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func toContents(messages []session.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		role := genai.RoleUser
		if msg.Role == session.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}
	return contents
}

func toReply(resp *genai.GenerateContentResponse) (*gateway.Reply, error) {
	if resp == nil {
		return nil, errors.New("gemini api returned nil response")
	}

	reply := &gateway.Reply{}
	var builder strings.Builder

	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.FunctionCall != nil {
				reply.ToolCalls = append(reply.ToolCalls, gateway.ToolCall{
					Name: part.FunctionCall.Name,
					Args: part.FunctionCall.Args,
				})
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	reply.Text = strings.TrimSpace(builder.String())
	if reply.Text == "" && len(reply.ToolCalls) == 0 {
		return nil, errors.New("gemini api returned empty response")
	}

	return reply, nil
}
