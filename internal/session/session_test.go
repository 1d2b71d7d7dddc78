package session

import (
	"testing"
)

func TestAppendAssignsOrdinals(t *testing.T) {
	s := New("s1", "Ada")

	s.AppendAssistant("welcome")
	s.AppendCandidate("hello")
	s.AppendAssistant("first question")

	if len(s.Transcript) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(s.Transcript))
	}

	for i, msg := range s.Transcript {
		if msg.Ordinal != i {
			t.Fatalf("message %d has ordinal %d", i, msg.Ordinal)
		}
	}

	if s.Transcript[1].Role != RoleCandidate {
		t.Fatalf("unexpected role: %s", s.Transcript[1].Role)
	}
}

func TestLastCandidate(t *testing.T) {
	s := New("s1", "Ada")

	if _, ok := s.LastCandidate(); ok {
		t.Fatal("expected no candidate message in empty transcript")
	}

	s.AppendAssistant("welcome")
	s.AppendCandidate("first")
	s.AppendAssistant("question")
	s.AppendCandidate("second")

	msg, ok := s.LastCandidate()
	if !ok {
		t.Fatal("expected a candidate message")
	}
	if msg.Content != "second" {
		t.Fatalf("unexpected content: %q", msg.Content)
	}
}

func TestCandidateResponses(t *testing.T) {
	s := New("s1", "Ada")
	s.AppendAssistant("q1")
	s.AppendCandidate("a1")
	s.AppendAssistant("q2")
	s.AppendCandidate("a2")

	responses := s.CandidateResponses()
	if len(responses) != 2 || responses[0] != "a1" || responses[1] != "a2" {
		t.Fatalf("unexpected responses: %v", responses)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := New("s1", "Ada")
	s.AppendAssistant("welcome")
	s.AppendCandidate("ready")
	s.Cursor = Cursor{Category: 1, Question: 2}
	s.FollowUp = FollowUpState{Count: 1}
	s.Resume = PhaseInterview

	score := 4
	s.Records = append(s.Records, EvalRecord{
		Question:   "q",
		Competency: "Problem-Solving",
		Score:      &score,
		Rationale:  "4\nsolid answer",
	})

	data, err := s.Encode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	restored, err := Decode(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if restored.ID != s.ID || restored.Candidate != s.Candidate {
		t.Fatalf("identity not preserved: %+v", restored)
	}
	if restored.Cursor != s.Cursor {
		t.Fatalf("cursor not preserved: %+v", restored.Cursor)
	}
	if restored.Resume != PhaseInterview {
		t.Fatalf("resume phase not preserved: %s", restored.Resume)
	}
	if len(restored.Transcript) != 2 {
		t.Fatalf("transcript not preserved: %d messages", len(restored.Transcript))
	}
	if len(restored.Records) != 1 || restored.Records[0].Score == nil || *restored.Records[0].Score != 4 {
		t.Fatalf("records not preserved: %+v", restored.Records)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Fatal("expected error")
	}
}

func TestCursorBefore(t *testing.T) {
	cases := []struct {
		name     string
		a, b     Cursor
		expected bool
	}{
		{"same", Cursor{1, 1}, Cursor{1, 1}, false},
		{"earlier question", Cursor{1, 0}, Cursor{1, 1}, true},
		{"earlier category", Cursor{0, 5}, Cursor{1, 0}, true},
		{"later category", Cursor{2, 0}, Cursor{1, 9}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Before(tc.b); got != tc.expected {
				t.Fatalf("Before(%+v, %+v) = %v", tc.a, tc.b, got)
			}
		})
	}
}

func TestTerminal(t *testing.T) {
	s := New("s1", "Ada")
	if s.Terminal() {
		t.Fatal("fresh session must not be terminal")
	}

	s.Final = &FinalEvaluation{Averages: map[string]float64{}}
	if !s.Terminal() {
		t.Fatal("session with final evaluation must be terminal")
	}
}
