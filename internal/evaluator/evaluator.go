// Package evaluator scores candidate responses against the rubric and
// aggregates all scores into the final evaluation.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	_ "embed"

	"github.com/astoria-ai/interview-conductor/internal/bank"
	"github.com/astoria-ai/interview-conductor/internal/gateway"
	"github.com/astoria-ai/interview-conductor/internal/logger"
	"github.com/astoria-ai/interview-conductor/internal/session"

	"go.uber.org/zap"
)

//go:embed prompts/score.md
var scoreTemplate string

//go:embed prompts/sufficiency.md
var sufficiencyTemplate string

//go:embed prompts/narrative.md
var narrativeTemplate string

const defaultMaxLogLength = 200

// Evaluator turns model judgments into evaluation records. Parse failures
// are recovered locally; only gateway failures surface as errors.
type Evaluator struct {
	gw        gateway.ModelGateway
	rubric    bank.Rubric
	logger    *zap.Logger
	maxLogLen int
}

// New creates an Evaluator using the provided gateway and rubric.
func New(gw gateway.ModelGateway, rubric bank.Rubric, log *zap.Logger, maxLogLength int) *Evaluator {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Evaluator{
		gw:        gw,
		rubric:    rubric,
		logger:    log,
		maxLogLen: maxLogLength,
	}
}

// ScoreResponse builds a rubric-grounded judgment request and extracts a
// numeric score from the reply. When no score can be extracted the record
// keeps a nil score and the raw reply as rationale; that is not an error.
func (e *Evaluator) ScoreResponse(ctx context.Context, q bank.Question, response string) (session.EvalRecord, error) {
	prompt := fill(scoreTemplate, map[string]string{
		"COMPETENCY": q.Competency,
		"QUESTION":   q.Text,
		"RESPONSE":   response,
		"CRITERIA":   e.rubric.Criteria(q.Competency),
	})

	raw, err := e.invoke(ctx, "score", prompt)
	if err != nil {
		return session.EvalRecord{}, fmt.Errorf("score response: %w", err)
	}

	record := session.EvalRecord{
		Question:   q.Text,
		Competency: q.Competency,
		Score:      extractScore(raw),
		Rationale:  raw,
	}

	if record.Score == nil {
		e.logger.Warn("no score line in model reply, recording score as absent",
			zap.String("competency", q.Competency),
			zap.String("response_preview", logger.TruncateForLog(raw, e.maxLogLen)),
		)
	}

	return record, nil
}

// SufficiencyCheck asks whether the response sufficiently addresses the
// competency. A structured VERDICT line is preferred; otherwise the reply is
// matched for "yes" case-insensitively. Anything ambiguous is insufficient.
func (e *Evaluator) SufficiencyCheck(ctx context.Context, response, competency string) (bool, error) {
	prompt := fill(sufficiencyTemplate, map[string]string{
		"COMPETENCY": competency,
		"RESPONSE":   response,
	})

	raw, err := e.invoke(ctx, "sufficiency", prompt)
	if err != nil {
		return false, fmt.Errorf("sufficiency check: %w", err)
	}

	return parseYesNo(raw), nil
}

// Aggregate groups records by competency and averages the non-absent scores.
// Competencies without a single scored record are omitted. The narrative is
// requested from the gateway; if that fails the report still carries the
// locally computed score map.
func (e *Evaluator) Aggregate(ctx context.Context, records []session.EvalRecord, responses []string) (*session.FinalEvaluation, error) {
	type tally struct {
		sum   int
		count int
	}

	tallies := make(map[string]tally)
	for _, record := range records {
		if record.Score == nil {
			continue
		}
		t := tallies[record.Competency]
		t.sum += *record.Score
		t.count++
		tallies[record.Competency] = t
	}

	averages := make(map[string]float64, len(tallies))
	for competency, t := range tallies {
		averages[competency] = float64(t.sum) / float64(t.count)
	}

	final := &session.FinalEvaluation{Averages: averages}

	narrative, err := e.narrative(ctx, averages, responses)
	if err != nil {
		e.logger.Warn("narrative generation failed, keeping score map only", zap.Error(err))
		return final, nil
	}

	final.Narrative = narrative
	return final, nil
}

func (e *Evaluator) narrative(ctx context.Context, averages map[string]float64, responses []string) (string, error) {
	scores, err := json.MarshalIndent(averages, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal score map: %w", err)
	}

	answers, err := json.MarshalIndent(responses, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal responses: %w", err)
	}

	prompt := fill(narrativeTemplate, map[string]string{
		"SCORES":    string(scores),
		"RESPONSES": string(answers),
	})

	return e.invoke(ctx, "narrative", prompt)
}

func (e *Evaluator) invoke(ctx context.Context, step, prompt string) (string, error) {
	e.logger.Debug("evaluator request",
		zap.String("step", step),
		zap.String("prompt_preview", logger.TruncateForLog(prompt, e.maxLogLen)),
	)

	reply, err := e.gw.Invoke(ctx, gateway.Prompt(prompt))
	if err != nil {
		return "", err
	}

	e.logger.Debug("evaluator response",
		zap.String("step", step),
		zap.String("response_preview", logger.TruncateForLog(reply.Text, e.maxLogLen)),
	)

	return reply.Text, nil
}

// extractScore finds the first line consisting solely of digits that parses
// to a valid rubric score (1 through 5). Out-of-range digit lines are
// skipped so a stray "10" cannot skew the averages.
func extractScore(raw string) *int {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !isDigits(line) {
			continue
		}
		score, err := strconv.Atoi(line)
		if err != nil || score < 1 || score > 5 {
			continue
		}
		return &score
	}
	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// parseYesNo prefers an explicit "VERDICT:" line and falls back to a
// case-insensitive "yes" substring match over the whole reply.
func parseYesNo(raw string) bool {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.ToLower(strings.TrimSpace(line))
		if rest, ok := strings.CutPrefix(line, "verdict:"); ok {
			return strings.Contains(rest, "yes")
		}
	}
	return strings.Contains(strings.ToLower(raw), "yes")
}

// fill replaces {{KEY}} placeholders in the template.
func fill(template string, values map[string]string) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := template
	for _, key := range keys {
		result = strings.ReplaceAll(result, "{{"+key+"}}", values[key])
	}
	return result
}
