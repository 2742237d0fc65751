// Package question supplies quiz questions to active game sessions. The
// primary provider generates questions through the OpenAI API; a stored pool
// backs it so an upstream failure degrades to deterministic content instead
// of aborting a game.
package question

import (
	"context"
	"strings"
)

// Source labels where a question came from.
const (
	SourceAI     = "ai"
	SourceStored = "stored"
)

// Question is immutable once issued to a round. CorrectAnswer is never
// serialized toward clients; only the reveal path reads it.
type Question struct {
	Text          string
	Options       []string
	CorrectAnswer string
	Difficulty    int
	Category      string
	Source        string
	FreeText      bool
}

// Request describes the question a session needs next.
type Request struct {
	Category   string
	Difficulty int
	Index      int
}

// Provider yields the next question for a round. Implementations must
// respect ctx deadlines; the game engine bounds every fetch.
type Provider interface {
	Next(ctx context.Context, req Request) (Question, error)
}

// Evaluator grades a free-text answer from 0 to 10.
type Evaluator interface {
	Grade(ctx context.Context, q Question, answer string) (int, error)
}

// Matches reports whether a submitted value matches the correct answer under
// normalization (case and surrounding whitespace are ignored).
func Matches(q Question, submitted string) bool {
	return normalize(submitted) == normalize(q.CorrectAnswer)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
