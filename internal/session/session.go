// Package session holds the mutable record of one interview session. The
// transcript is append-only and the cursor never moves backwards; the flow
// controller is the only writer.
package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role identifies the author of a transcript message.
type Role string

const (
	RoleCandidate Role = "candidate"
	RoleAssistant Role = "assistant"
)

// Phase names a suspension point the controller resumes from.
type Phase string

const (
	// PhaseWelcome means the session is waiting for the candidate's reply to
	// the welcome message.
	PhaseWelcome Phase = "welcome"
	// PhaseInterview means the session is waiting for an answer to the
	// current interview question.
	PhaseInterview Phase = "interview"
	// PhaseDone marks a terminal session.
	PhaseDone Phase = "done"
)

// Message is a single transcript entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Ordinal int    `json:"ordinal"`
}

// Cursor marks traversal progress through the question bank. Both indexes
// are non-negative and non-decreasing for the lifetime of a session.
type Cursor struct {
	Category int `json:"category"`
	Question int `json:"question"`
}

// Before reports whether c precedes other in traversal order.
func (c Cursor) Before(other Cursor) bool {
	if c.Category != other.Category {
		return c.Category < other.Category
	}
	return c.Question < other.Question
}

// FollowUpState tracks bounded clarification attempts for the current
// question. It resets whenever a new question is fetched.
type FollowUpState struct {
	Count      int  `json:"count"`
	Sufficient bool `json:"sufficient"`
}

// EvalRecord is the scored judgment for one answered question. Score is nil
// when no score could be extracted from the model reply; the raw reply is
// kept as the rationale either way. Follow-ups do not add records: the
// record always reflects the final accepted response for its question.
type EvalRecord struct {
	Question   string `json:"question"`
	Competency string `json:"competency"`
	Score      *int   `json:"score,omitempty"`
	Rationale  string `json:"rationale"`
}

// FinalEvaluation is the aggregated outcome, computed exactly once after the
// question bank is exhausted.
type FinalEvaluation struct {
	// Averages maps competency to the mean of its non-absent scores.
	// Competencies without a single scored record are omitted.
	Averages  map[string]float64 `json:"averages"`
	Narrative string             `json:"narrative"`
}

// Session owns everything the controller needs to resume after arbitrary
// delay. It is mutated exclusively by controller transitions and becomes
// immutable once Final is set.
type Session struct {
	ID        string    `json:"id"`
	Candidate string    `json:"candidate"`
	StartedAt time.Time `json:"started_at"`

	Transcript []Message     `json:"transcript"`
	Cursor     Cursor        `json:"cursor"`
	FollowUp   FollowUpState `json:"follow_up"`

	// CurrentQuestion and CurrentCompetency describe the question the
	// candidate is answering right now; empty before the first fetch.
	CurrentQuestion   string `json:"current_question,omitempty"`
	CurrentCompetency string `json:"current_competency,omitempty"`

	Records []EvalRecord     `json:"eval_results"`
	Final   *FinalEvaluation `json:"final_evaluation,omitempty"`

	// Resume names the suspension point the next inbound message continues
	// from.
	Resume Phase `json:"resume_phase"`
}

// New creates a fresh session for the named candidate.
func New(id, candidate string) *Session {
	return &Session{
		ID:        id,
		Candidate: strings.TrimSpace(candidate),
		StartedAt: time.Now().UTC(),
	}
}

// AppendAssistant appends an outbound message and returns it.
func (s *Session) AppendAssistant(content string) Message {
	return s.append(RoleAssistant, content)
}

// AppendCandidate appends an inbound message and returns it.
func (s *Session) AppendCandidate(content string) Message {
	return s.append(RoleCandidate, content)
}

func (s *Session) append(role Role, content string) Message {
	msg := Message{Role: role, Content: content, Ordinal: len(s.Transcript)}
	s.Transcript = append(s.Transcript, msg)
	return msg
}

// LastCandidate returns the most recent candidate message.
func (s *Session) LastCandidate() (Message, bool) {
	for i := len(s.Transcript) - 1; i >= 0; i-- {
		if s.Transcript[i].Role == RoleCandidate {
			return s.Transcript[i], true
		}
	}
	return Message{}, false
}

// CandidateResponses returns the contents of all candidate messages in
// transcript order.
func (s *Session) CandidateResponses() []string {
	responses := make([]string, 0, len(s.Transcript))
	for _, msg := range s.Transcript {
		if msg.Role == RoleCandidate {
			responses = append(responses, msg.Content)
		}
	}
	return responses
}

// Terminal reports whether the session reached its immutable final state.
func (s *Session) Terminal() bool {
	return s.Final != nil
}

// Encode serializes the session for checkpointing.
func (s *Session) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	return data, nil
}

// Decode restores a session from its checkpointed form.
func Decode(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}
