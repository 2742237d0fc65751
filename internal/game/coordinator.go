package game

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pbellew/quizlive/internal/events"
	"github.com/pbellew/quizlive/internal/fanout"
	"github.com/pbellew/quizlive/internal/lobby"
	"github.com/pbellew/quizlive/internal/question"
	"github.com/pbellew/quizlive/internal/quizerr"
)

const (
	// Every suspend point that can fail is bounded so a game is never
	// left permanently stuck.
	fetchTimeout  = 5 * time.Second
	gradeTimeout  = 3 * time.Second
	recordTimeout = 5 * time.Second
)

// ResultRecorder persists final standings. Optional; failures are logged,
// never surfaced to players.
type ResultRecorder interface {
	SaveResult(ctx context.Context, lobbyCode string, standings []events.LeaderboardEntry) error
}

// Coordinator owns every active Session on this instance and drives their
// state machines. The lobby manager hands control here on a successful
// start and calls Close on teardown.
type Coordinator struct {
	mu       sync.Mutex
	sessions map[string]*Session

	lobbies   *lobby.Manager
	fan       fanout.Fanout
	timers    *Scheduler
	questions question.Provider
	evaluator question.Evaluator // optional, free-text grading
	results   ResultRecorder     // optional

	revealDelay time.Duration
	log         *logrus.Logger
}

func NewCoordinator(lobbies *lobby.Manager, fan fanout.Fanout, timers *Scheduler, questions question.Provider, revealDelay time.Duration, log *logrus.Logger) *Coordinator {
	return &Coordinator{
		sessions:    make(map[string]*Session),
		lobbies:     lobbies,
		fan:         fan,
		timers:      timers,
		questions:   questions,
		revealDelay: revealDelay,
		log:         log,
	}
}

// SetEvaluator attaches the free-text grading collaborator.
func (c *Coordinator) SetEvaluator(e question.Evaluator) { c.evaluator = e }

// SetResultRecorder attaches the history sink.
func (c *Coordinator) SetResultRecorder(r ResultRecorder) { c.results = r }

// Start instantiates a GameSession for the lobby and begins round one. The
// lobby must already be in Starting; this completes the move to InGame.
func (c *Coordinator) Start(ctx context.Context, code string) error {
	code = strings.ToUpper(code)
	settings, err := c.lobbies.SettingsOf(code)
	if err != nil {
		return err
	}

	s := newSession(code, settings)
	c.mu.Lock()
	if _, exists := c.sessions[code]; exists {
		c.mu.Unlock()
		return quizerr.Conflict("game already running for lobby %s", code)
	}
	c.sessions[code] = s
	c.mu.Unlock()

	if err := c.lobbies.SetInGame(ctx, code); err != nil {
		c.removeSession(code)
		return err
	}

	c.publish(code, events.Envelope{
		Type: events.KindGameStarted,
		Game: &events.GameStarted{TotalQuestions: s.total},
	})
	c.log.WithFields(logrus.Fields{"code": code, "questions": s.total}).Info("game started")

	go c.beginRound(s, 0)
	return nil
}

// Session returns the running session for the code, if any.
func (c *Coordinator) Session(code string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[strings.ToUpper(code)]
	return s, ok
}

// Close cancels the lobby's session and timers. Idempotent; called on
// lobby teardown and safe when no game is running.
func (c *Coordinator) Close(code string) {
	code = strings.ToUpper(code)
	c.mu.Lock()
	s := c.sessions[code]
	delete(c.sessions, code)
	c.mu.Unlock()

	c.timers.CancelKey(code)
	if s != nil {
		s.mu.Lock()
		s.closed = true
		s.state = StateEnded
		s.mu.Unlock()
		c.log.WithField("code", code).Info("game session canceled")
	}
}

// Submit records one answer for the current round, first write wins. When
// every connected player has answered, the round closes early.
func (c *Coordinator) Submit(ctx context.Context, code string, playerID uuid.UUID, value string, timeRemaining float64) error {
	code = strings.ToUpper(code)
	c.mu.Lock()
	s := c.sessions[code]
	c.mu.Unlock()
	if s == nil {
		return quizerr.State("no active game for lobby %s", code)
	}

	s.mu.Lock()
	if s.state != StateQuestionActive {
		s.mu.Unlock()
		return quizerr.State("round is not accepting answers")
	}
	if _, dup := s.answers[playerID]; dup {
		s.mu.Unlock()
		return quizerr.Duplicate("answer already recorded for this question")
	}

	// The client reports its own countdown; trust it only up to the
	// server's view of the round deadline so a stretched claim cannot
	// inflate the speed bonus.
	if remaining := time.Until(s.deadline).Seconds(); timeRemaining > remaining {
		timeRemaining = remaining
	}
	if timeRemaining < 0 {
		timeRemaining = 0
	}
	if max := float64(s.settings.QuestionTimerSeconds); timeRemaining > max {
		timeRemaining = max
	}
	s.answers[playerID] = &Answer{
		PlayerID:      playerID,
		Value:         value,
		TimeRemaining: timeRemaining,
		ReceivedAt:    time.Now(),
	}
	s.order = append(s.order, playerID)
	stamp := s.stamp

	connected, _ := c.lobbies.ConnectedUserIDs(code)
	complete := s.allAnswered(connected)
	s.mu.Unlock()

	c.publishAnswered(code, playerID)
	if complete {
		c.closeRound(s, stamp)
	}
	return nil
}

// beginRound fetches the question, arms the round timer, and publishes the
// prompt. The fetch is bounded and falls back internally, so it cannot
// wedge the machine.
func (c *Coordinator) beginRound(s *Session, index int) {
	fetchCtx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	q, err := c.questions.Next(fetchCtx, question.Request{
		Category:   s.settings.Categories[index%len(s.settings.Categories)],
		Difficulty: s.settings.Difficulty,
		Index:      index,
	})
	cancel()
	if err != nil {
		// The composite provider already fell back; reaching here means
		// even the stored pool failed, which it is built not to do.
		c.log.WithError(err).WithField("code", s.code).Error("question fetch failed, ending game")
		c.finish(s)
		return
	}

	s.mu.Lock()
	if s.closed || (s.state != StateStarting && s.state != StateRevealing) {
		s.mu.Unlock()
		return
	}
	s.resetRound(index, q)
	s.stamp++
	stamp := s.stamp
	prompt := events.QuestionPrompt{
		Index:       index,
		Total:       s.total,
		Text:        q.Text,
		Options:     q.Options,
		TimeSeconds: s.settings.QuestionTimerSeconds,
	}
	// Armed under the session lock so no submission can slip between the
	// state change and the timer.
	c.timers.Arm(s.code, time.Duration(s.settings.QuestionTimerSeconds)*time.Second, func() {
		c.closeRound(s, stamp)
	})
	s.mu.Unlock()

	c.publish(s.code, events.Envelope{Type: events.KindQuestion, Question: &prompt})
}

// closeRound moves QuestionActive -> Revealing, scores the round, and arms
// the reveal grace timer. Stale calls (old stamp, wrong state) are no-ops,
// so the timer path and the all-answered path can race safely.
func (c *Coordinator) closeRound(s *Session, stamp uint64) {
	s.mu.Lock()
	if s.closed || s.stamp != stamp || s.state != StateQuestionActive {
		s.mu.Unlock()
		return
	}
	s.state = StateRevealing
	s.stamp++
	revealStamp := s.stamp

	q := s.current
	timerSecs := float64(s.settings.QuestionTimerSeconds)
	answered := make([]*Answer, 0, len(s.order))
	for _, id := range s.order {
		answered = append(answered, s.answers[id])
	}
	s.mu.Unlock()

	delta := make(map[uuid.UUID]int, len(answered))
	type outcome struct {
		playerID uuid.UUID
		correct  bool
		points   int
	}
	outcomes := make([]outcome, 0, len(answered))
	for _, ans := range answered {
		correct, pts := c.scoreOne(q, ans, timerSecs)
		delta[ans.PlayerID] = pts
		outcomes = append(outcomes, outcome{ans.PlayerID, correct, pts})
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	standings, err := c.lobbies.AddScores(ctx, s.code, delta)
	cancel()
	if err != nil {
		// Lobby torn down mid-round; the session is already closed or
		// about to be.
		c.log.WithError(err).WithField("code", s.code).Warn("lobby gone during reveal")
		return
	}

	for _, o := range outcomes {
		c.publish(s.code, events.Envelope{Type: events.KindAnswerResult, Result: &events.AnswerResult{
			UserID:        o.playerID,
			Correct:       o.correct,
			PointsAwarded: o.points,
			CorrectAnswer: q.CorrectAnswer,
			Leaderboard:   standings,
		}})
	}
	// Aggregate reveal for players who never answered this round.
	c.publish(s.code, events.Envelope{Type: events.KindAnswerResult, Result: &events.AnswerResult{
		CorrectAnswer: q.CorrectAnswer,
		Leaderboard:   standings,
	}})

	c.timers.Arm(s.code, c.revealDelay, func() {
		c.advance(s, revealStamp)
	})
}

// advance runs when the reveal grace interval elapses: next question, or
// game over.
func (c *Coordinator) advance(s *Session, stamp uint64) {
	s.mu.Lock()
	if s.closed || s.stamp != stamp || s.state != StateRevealing {
		s.mu.Unlock()
		return
	}
	next := s.round + 1
	if next >= s.total {
		s.state = StateEnded
		s.mu.Unlock()
		c.finish(s)
		return
	}
	s.mu.Unlock()
	c.beginRound(s, next)
}

// finish publishes final standings, records history, and returns the lobby
// to Waiting for another round of play.
func (c *Coordinator) finish(s *Session) {
	s.mu.Lock()
	s.state = StateEnded
	alreadyClosed := s.closed
	s.closed = true
	s.mu.Unlock()
	if alreadyClosed {
		return
	}

	standings, err := c.lobbies.Standings(s.code)
	if err != nil {
		// Lobby already torn down; nothing left to announce.
		c.removeSession(s.code)
		return
	}
	var winner uuid.UUID
	if len(standings) > 0 {
		winner = standings[0].UserID
	}

	c.publish(s.code, events.Envelope{Type: events.KindGameEnded, Final: &events.GameEnded{
		FinalScores:  standings,
		WinnerUserID: winner,
	}})

	if c.results != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := c.results.SaveResult(ctx, s.code, standings); err != nil {
			c.log.WithError(err).WithField("code", s.code).Warn("result history write failed")
		}
		cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	if err := c.lobbies.ResetAfterGame(ctx, s.code); err != nil {
		c.log.WithError(err).WithField("code", s.code).Warn("lobby reset after game failed")
	}
	cancel()

	c.removeSession(s.code)
	c.log.WithFields(logrus.Fields{"code": s.code, "winner": winner}).Info("game ended")
}

func (c *Coordinator) scoreOne(q question.Question, ans *Answer, timerSecs float64) (bool, int) {
	if q.FreeText && c.evaluator != nil {
		ctx, cancel := context.WithTimeout(context.Background(), gradeTimeout)
		grade, err := c.evaluator.Grade(ctx, q, ans.Value)
		cancel()
		if err == nil {
			return GradedPoints(grade, ans.TimeRemaining, timerSecs)
		}
		c.log.WithError(err).Warn("grading failed, using exact match")
	}
	if !question.Matches(q, ans.Value) {
		return false, 0
	}
	return true, Points(ans.TimeRemaining, timerSecs)
}

func (c *Coordinator) publishAnswered(code string, playerID uuid.UUID) {
	name := ""
	if snap, err := c.lobbies.Snapshot(code); err == nil {
		for _, p := range snap.Players {
			if p.UserID == playerID {
				name = p.DisplayName
				break
			}
		}
	}
	c.publish(code, events.Envelope{Type: events.KindPlayerAnswered, Answered: &events.PlayerAnswered{
		UserID:      playerID,
		DisplayName: name,
	}})
}

func (c *Coordinator) removeSession(code string) {
	c.mu.Lock()
	delete(c.sessions, code)
	c.mu.Unlock()
}

func (c *Coordinator) publish(code string, ev events.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := c.fan.Publish(ctx, code, ev); err != nil {
		c.log.WithError(err).WithField("code", code).Warn("fanout publish failed")
	}
}
