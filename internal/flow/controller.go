// Package flow implements the interview state machine. One Controller
// drives exactly one session at a time; every transition reads the session,
// optionally consults the evaluator or the model gateway, mutates the
// session and either suspends (awaiting candidate input) or proceeds.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "embed"

	"github.com/astoria-ai/interview-conductor/internal/bank"
	"github.com/astoria-ai/interview-conductor/internal/evaluator"
	"github.com/astoria-ai/interview-conductor/internal/gateway"
	"github.com/astoria-ai/interview-conductor/internal/logger"
	"github.com/astoria-ai/interview-conductor/internal/session"

	"go.uber.org/zap"
)

//go:embed prompts/welcome.md
var welcomeTemplate string

//go:embed prompts/classify.md
var classifyTemplate string

//go:embed prompts/answer.md
var answerTemplate string

//go:embed prompts/followup.md
var followUpTemplate string

//go:embed prompts/closing.md
var closingTemplate string

const (
	// DefaultMaxFollowUps bounds clarification attempts per question.
	DefaultMaxFollowUps = 2
	// DefaultToolBudget bounds model/tool round-trips per generation step.
	DefaultToolBudget = 4

	defaultCandidateName = "Candidate"

	closingScript = "Thank you for your time. Here is our feedback:"

	// refusalMessage replaces model output when the tool budget runs out
	// while the model still requests tool calls.
	refusalMessage = "I wasn't able to look that up right now, so let's continue with the interview."
)

// Controller state names, used in structured logs only.
const (
	stateWelcome       = "welcome"
	stateClassify      = "classify"
	stateAnswerMisc    = "answer_misc"
	stateFetchQuestion = "fetch_question"
	stateScoreAndCheck = "score_and_check"
	stateFollowUp      = "follow_up"
	stateClosing       = "closing"
	stateFinalEval     = "final_eval"
)

var (
	// ErrTerminal is returned when input arrives for a completed session.
	ErrTerminal = errors.New("session is already complete")
	// ErrNotSuspended is returned when input arrives for a session that is
	// not at an await-input suspension point.
	ErrNotSuspended = errors.New("session is not awaiting input")
)

// Deps aggregates the collaborators a Controller needs. Tools is optional;
// without it any tool request from the model is refused immediately.
type Deps struct {
	Bank      *bank.Bank
	Evaluator *evaluator.Evaluator
	Gateway   gateway.ModelGateway
	Tools     gateway.ToolExecutor
	Logger    *zap.Logger

	// MaxFollowUps and ToolBudget fall back to the package defaults when
	// left zero.
	MaxFollowUps int
	ToolBudget   int
}

// Controller is the flow state machine.
type Controller struct {
	deps         Deps
	maxFollowUps int
	toolBudget   int
	maxLogLen    int
}

// New creates a Controller.
func New(deps Deps) *Controller {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	maxFollowUps := deps.MaxFollowUps
	if maxFollowUps <= 0 {
		maxFollowUps = DefaultMaxFollowUps
	}

	toolBudget := deps.ToolBudget
	if toolBudget <= 0 {
		toolBudget = DefaultToolBudget
	}

	return &Controller{
		deps:         deps,
		maxFollowUps: maxFollowUps,
		toolBudget:   toolBudget,
		maxLogLen:    200,
	}
}

// Start emits the templated welcome message and suspends the session at the
// welcome phase. It must be called exactly once, on a fresh session.
func (c *Controller) Start(ctx context.Context, s *session.Session) error {
	_ = ctx

	if len(s.Transcript) != 0 || s.Resume != "" {
		return fmt.Errorf("session %s is already started", s.ID)
	}

	candidate := s.Candidate
	if candidate == "" {
		candidate = defaultCandidateName
	}

	welcome := fill(welcomeTemplate, map[string]string{
		"CANDIDATE": candidate,
		"POSITION":  c.deps.Bank.Welcome.Position,
		"COMPANY":   c.deps.Bank.Welcome.Company,
		"MISSION":   c.deps.Bank.Welcome.Mission,
	})

	s.AppendAssistant(welcome)
	s.Resume = session.PhaseWelcome

	c.log(s).Info("session started", zap.String("state", stateWelcome))
	return nil
}

// HandleInput consumes one inbound candidate message and runs transitions
// until the session suspends again or terminates. On error the session must
// be considered dirty: the host should reload it from its last checkpoint
// before retrying.
func (c *Controller) HandleInput(ctx context.Context, s *session.Session, input string) error {
	if s.Terminal() {
		return ErrTerminal
	}

	phase := s.Resume
	if phase != session.PhaseWelcome && phase != session.PhaseInterview {
		return ErrNotSuspended
	}

	s.AppendCandidate(input)

	isQuestion, err := c.classify(ctx, s, input)
	if err != nil {
		return err
	}

	if isQuestion {
		return c.answerMisc(ctx, s, input, phase)
	}

	if phase == session.PhaseWelcome {
		return c.fetchQuestion(ctx, s)
	}

	return c.scoreAndCheck(ctx, s, input)
}

// classify asks whether the inbound message is a process/meta question. A
// reply without an explicit verdict falls back to substring matching and is
// logged; defaulting to "not a question" keeps the interview moving.
func (c *Controller) classify(ctx context.Context, s *session.Session, input string) (bool, error) {
	prompt := fill(classifyTemplate, map[string]string{"INPUT": input})

	reply, err := c.deps.Gateway.Invoke(ctx, gateway.Prompt(prompt))
	if err != nil {
		return false, fmt.Errorf("classify input: %w", err)
	}

	isQuestion, explicit := verdict(reply.Text)
	if !explicit {
		c.log(s).Warn("classification reply carries no explicit verdict",
			zap.String("state", stateClassify),
			zap.Bool("fallback_result", isQuestion),
			zap.String("response_preview", logger.TruncateForLog(reply.Text, c.maxLogLen)),
		)
	}

	c.log(s).Debug("classified inbound message",
		zap.String("state", stateClassify),
		zap.Bool("is_question", isQuestion),
	)

	return isQuestion, nil
}

// answerMisc answers an off-topic candidate question and re-suspends at the
// same phase. The cursor and the current question are left untouched.
func (c *Controller) answerMisc(ctx context.Context, s *session.Session, input string, phase session.Phase) error {
	answer, err := c.generate(ctx, s, fill(answerTemplate, map[string]string{"INPUT": input}))
	if err != nil {
		return fmt.Errorf("answer candidate question: %w", err)
	}

	s.AppendAssistant(answer)
	s.Resume = phase

	c.log(s).Info("answered candidate question",
		zap.String("state", stateAnswerMisc),
		zap.String("resume_phase", string(phase)),
	)
	return nil
}

// fetchQuestion advances the cursor to the next question, or routes to
// closing when the bank is exhausted.
func (c *Controller) fetchQuestion(ctx context.Context, s *session.Session) error {
	q, next, ok := c.deps.Bank.Next(s.Cursor)
	if !ok {
		return c.closing(ctx, s)
	}

	if next.Before(s.Cursor) {
		return fmt.Errorf("cursor moved backwards: %+v -> %+v", s.Cursor, next)
	}

	s.Cursor = next
	s.FollowUp = session.FollowUpState{}
	s.CurrentQuestion = q.Text
	s.CurrentCompetency = q.Competency
	s.AppendAssistant(q.Text)
	s.Resume = session.PhaseInterview

	// The advanced cursor points one past the question just asked.
	c.log(s).Info("fetched next question",
		zap.String("state", stateFetchQuestion),
		zap.String("category", c.deps.Bank.CategoryName(next)),
		zap.Int("category_idx", next.Category),
		zap.Int("question_idx", next.Question-1),
		zap.String("competency", q.Competency),
	)
	return nil
}

// scoreAndCheck scores the latest response and decides between a bounded
// follow-up and the next question. Follow-up responses replace the record
// for the current question so each question keeps exactly one record.
func (c *Controller) scoreAndCheck(ctx context.Context, s *session.Session, response string) error {
	q := bank.Question{Text: s.CurrentQuestion, Competency: s.CurrentCompetency}

	record, err := c.deps.Evaluator.ScoreResponse(ctx, q, response)
	if err != nil {
		return err
	}
	c.upsertRecord(s, record)

	sufficient, err := c.deps.Evaluator.SufficiencyCheck(ctx, response, q.Competency)
	if err != nil {
		return err
	}
	s.FollowUp.Sufficient = sufficient

	c.log(s).Info("scored response",
		zap.String("state", stateScoreAndCheck),
		zap.String("competency", q.Competency),
		zap.Bool("sufficient", sufficient),
		zap.Int("follow_up_count", s.FollowUp.Count),
	)

	if !sufficient && s.FollowUp.Count < c.maxFollowUps {
		return c.followUp(ctx, s, q, response)
	}

	return c.fetchQuestion(ctx, s)
}

func (c *Controller) upsertRecord(s *session.Session, record session.EvalRecord) {
	if s.FollowUp.Count > 0 && len(s.Records) > 0 {
		last := len(s.Records) - 1
		if s.Records[last].Question == record.Question {
			s.Records[last] = record
			return
		}
	}
	s.Records = append(s.Records, record)
}

// followUp emits a clarifying question for the current competency and
// re-suspends.
func (c *Controller) followUp(ctx context.Context, s *session.Session, q bank.Question, response string) error {
	s.FollowUp.Count++

	prompt := fill(followUpTemplate, map[string]string{
		"COMPETENCY": q.Competency,
		"QUESTION":   q.Text,
		"RESPONSE":   response,
	})

	question, err := c.generate(ctx, s, prompt)
	if err != nil {
		return fmt.Errorf("generate follow-up: %w", err)
	}

	s.AppendAssistant(question)
	s.Resume = session.PhaseInterview

	c.log(s).Info("asked follow-up",
		zap.String("state", stateFollowUp),
		zap.Int("follow_up_count", s.FollowUp.Count),
	)
	return nil
}

// closing emits the scripted plus generated closing text, then runs the
// final evaluation. The session is terminal afterwards.
func (c *Controller) closing(ctx context.Context, s *session.Session) error {
	responses, err := json.MarshalIndent(s.CandidateResponses(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal responses: %w", err)
	}

	feedback, err := c.generate(ctx, s, fill(closingTemplate, map[string]string{"RESPONSES": string(responses)}))
	if err != nil {
		return fmt.Errorf("generate closing feedback: %w", err)
	}

	s.AppendAssistant(closingScript + "\n\n" + feedback)
	c.log(s).Info("closed interview", zap.String("state", stateClosing))

	return c.finalEval(ctx, s)
}

func (c *Controller) finalEval(ctx context.Context, s *session.Session) error {
	final, err := c.deps.Evaluator.Aggregate(ctx, s.Records, s.CandidateResponses())
	if err != nil {
		return fmt.Errorf("aggregate evaluation: %w", err)
	}

	s.Final = final
	s.Resume = session.PhaseDone

	c.log(s).Info("final evaluation stored",
		zap.String("state", stateFinalEval),
		zap.Int("scored_competencies", len(final.Averages)),
		zap.Int("questions_recorded", len(s.Records)),
	)
	return nil
}

// generate produces assistant text for a prompt, executing requested tool
// calls in a bounded loop. One unit of budget is spent per model turn; when
// the last turn still requests a tool, the fixed refusal text is returned
// instead of looping further.
func (c *Controller) generate(ctx context.Context, s *session.Session, prompt string) (string, error) {
	msgs := gateway.Prompt(prompt)

	for remaining := c.toolBudget; remaining > 0; remaining-- {
		reply, err := c.deps.Gateway.Invoke(ctx, msgs)
		if err != nil {
			return "", err
		}

		if len(reply.ToolCalls) == 0 {
			return reply.Text, nil
		}

		if c.deps.Tools == nil || remaining <= 1 {
			c.log(s).Warn("refusing tool call",
				zap.Int("budget_remaining", remaining-1),
				zap.Bool("executor_available", c.deps.Tools != nil),
				zap.String("tool", reply.ToolCalls[0].Name),
			)
			return refusalMessage, nil
		}

		for _, call := range reply.ToolCalls {
			result, err := c.deps.Tools.Execute(ctx, call.Name, call.Args)
			if err != nil {
				result = fmt.Sprintf("tool %s failed: %v", call.Name, err)
				c.log(s).Warn("tool execution failed",
					zap.String("tool", call.Name),
					zap.Error(err),
				)
			}

			args, _ := json.Marshal(call.Args)
			msgs = append(msgs,
				session.Message{Role: session.RoleAssistant, Content: fmt.Sprintf("Calling tool %s with arguments %s.", call.Name, args)},
				session.Message{Role: session.RoleCandidate, Content: fmt.Sprintf("Tool %s result: %s", call.Name, result)},
			)
		}
	}

	return refusalMessage, nil
}

func (c *Controller) log(s *session.Session) *zap.Logger {
	return logger.WithSession(c.deps.Logger, s.ID)
}

// verdict parses a constrained yes/no reply. The second return value
// reports whether an explicit VERDICT line was found; without one the whole
// reply is matched for "yes" case-insensitively.
func verdict(raw string) (bool, bool) {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.ToLower(strings.TrimSpace(line))
		if rest, ok := strings.CutPrefix(line, "verdict:"); ok {
			return strings.Contains(rest, "yes"), true
		}
	}
	return strings.Contains(strings.ToLower(raw), "yes"), false
}

// fill replaces {{KEY}} placeholders in the template.
func fill(template string, values map[string]string) string {
	result := template
	for key, value := range values {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}
	return strings.TrimSpace(result)
}
