// Package game drives the synchronized question/answer cycle for active
// lobbies. One Session exists per lobby while a game runs; the Coordinator
// owns all sessions on this instance and is the only mutator of session
// state.
package game

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pbellew/quizlive/internal/lobby"
	"github.com/pbellew/quizlive/internal/question"
)

// State is the per-session machine state. Transitions:
// Starting -> QuestionActive -> Revealing -> (QuestionActive | Ended).
type State string

const (
	StateStarting       State = "starting"
	StateQuestionActive State = "question_active"
	StateRevealing      State = "revealing"
	StateEnded          State = "ended"
)

// Answer is one player's submission for a round. Immutable once recorded;
// first write wins.
type Answer struct {
	PlayerID      uuid.UUID
	Value         string
	TimeRemaining float64
	ReceivedAt    time.Time
}

// Session is the per-lobby game state. All fields behind mu; the round
// stamp increments on every timer arm so a stale fire for an
// already-advanced round is a detected no-op.
type Session struct {
	mu sync.Mutex

	code     string
	settings lobby.Settings

	state    State
	round    int // current question index, 0-based
	total    int
	current  question.Question
	deadline time.Time

	answers map[uuid.UUID]*Answer
	order   []uuid.UUID // submission order

	stamp  uint64
	closed bool
}

func newSession(code string, settings lobby.Settings) *Session {
	return &Session{
		code:     code,
		settings: settings,
		state:    StateStarting,
		total:    settings.QuestionsPerGame,
		answers:  make(map[uuid.UUID]*Answer),
	}
}

// resetRound prepares round-local state. Caller holds mu.
func (s *Session) resetRound(index int, q question.Question) {
	s.round = index
	s.current = q
	s.answers = make(map[uuid.UUID]*Answer)
	s.order = nil
	s.deadline = time.Now().Add(time.Duration(s.settings.QuestionTimerSeconds) * time.Second)
	s.state = StateQuestionActive
}

// hasAnswered reports whether every id in ids has a recorded answer.
// Caller holds mu.
func (s *Session) allAnswered(ids []uuid.UUID) bool {
	if len(ids) == 0 {
		return false
	}
	for _, id := range ids {
		if _, ok := s.answers[id]; !ok {
			return false
		}
	}
	return true
}

// State returns the current machine state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Round returns the current question index.
func (s *Session) Round() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.round
}
