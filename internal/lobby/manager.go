package lobby

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pbellew/quizlive/internal/config"
	"github.com/pbellew/quizlive/internal/events"
	"github.com/pbellew/quizlive/internal/fanout"
	"github.com/pbellew/quizlive/internal/quizerr"
)

const codeCollisionRetries = 32

// SnapshotSink receives the lobby projection after every broadcast change
// so other instances can serve status queries. Best effort: sink failures
// never fail the mutation.
type SnapshotSink interface {
	Put(ctx context.Context, snap events.LobbySnapshot) error
	Delete(ctx context.Context, code string) error
}

// Manager is the single authoritative mutation path for lobbies. It
// publishes every membership or status change on the lobby's fanout topic;
// broadcast failures degrade to a delayed projection rather than failing
// the operation.
type Manager struct {
	cfg   config.Config
	store *Store
	fan   fanout.Fanout
	log   *logrus.Logger

	// starter hands control to the game engine once a lobby has moved to
	// Starting. Wired after construction to keep the dependency one-way.
	starter func(ctx context.Context, code string) error

	// onTeardown releases game sessions and timers when a lobby dies.
	onTeardown func(code string)

	snapshots SnapshotSink // optional
}

func NewManager(cfg config.Config, fan fanout.Fanout, log *logrus.Logger) *Manager {
	return &Manager{
		cfg:   cfg,
		store: NewStore(),
		fan:   fan,
		log:   log,
	}
}

func (m *Manager) SetStarter(fn func(ctx context.Context, code string) error) { m.starter = fn }
func (m *Manager) SetOnTeardown(fn func(code string))                         { m.onTeardown = fn }
func (m *Manager) SetSnapshotSink(s SnapshotSink)                             { m.snapshots = s }

// CreateLobby validates settings, generates a collision-checked code, and
// registers the creator as sole player and host.
func (m *Manager) CreateLobby(ctx context.Context, hostID uuid.UUID, hostName string, s Settings) (events.LobbySnapshot, error) {
	s = m.applyDefaults(s)
	if err := m.validateSettings(s); err != nil {
		return events.LobbySnapshot{}, err
	}

	l := &Lobby{
		HostUserID: hostID,
		Status:     StatusWaiting,
		Settings:   s,
		CreatedAt:  time.Now(),
		Players: []*Player{{
			UserID:      hostID,
			DisplayName: hostName,
			JoinedAt:    time.Now(),
		}},
	}

	for i := 0; ; i++ {
		l.Code = randomCode(m.cfg.LobbyCodeLength)
		if m.store.Put(l) {
			break
		}
		if i >= codeCollisionRetries {
			return events.LobbySnapshot{}, quizerr.New(quizerr.KindUnknown, "could not allocate a lobby code")
		}
	}

	snap := l.snapshot()
	m.publishUpdate(ctx, l.Code, snap)
	m.log.WithFields(logrus.Fields{"code": l.Code, "host": hostID}).Info("lobby created")
	return snap, nil
}

// JoinLobby appends the player and broadcasts the new membership. Joining a
// lobby the user is already in returns the current state unchanged.
func (m *Manager) JoinLobby(ctx context.Context, code string, userID uuid.UUID, displayName string) (events.LobbySnapshot, error) {
	code = strings.ToUpper(code)
	var snap events.LobbySnapshot
	err := m.store.With(code, func(l *Lobby) error {
		if l.Status == StatusEnded {
			return quizerr.NotFound("lobby %s not found", code)
		}
		if p := l.player(userID); p != nil {
			snap = l.snapshot()
			return nil
		}
		if l.Status != StatusWaiting {
			return quizerr.Conflict("lobby %s is not accepting players", code)
		}
		if len(l.Players) >= l.Settings.MaxPlayers {
			return quizerr.Capacity("lobby %s is full", code)
		}
		l.Players = append(l.Players, &Player{
			UserID:      userID,
			DisplayName: displayName,
			JoinedAt:    time.Now(),
		})
		snap = l.snapshot()
		m.publishUpdate(ctx, code, snap)
		return nil
	})
	if err != nil {
		return events.LobbySnapshot{}, err
	}
	return snap, nil
}

// LeaveLobby removes the player. Non-membership is a no-op. Departing hosts
// hand the role to the longest-tenured remaining player; an emptied lobby
// is torn down along with any running game.
func (m *Manager) LeaveLobby(ctx context.Context, code string, userID uuid.UUID) error {
	return m.leave(ctx, strings.ToUpper(code), userID, false)
}

// DropIfStillDisconnected is the disconnect-timeout path: it behaves like
// LeaveLobby, but only if the player has not reconnected since.
func (m *Manager) DropIfStillDisconnected(ctx context.Context, code string, userID uuid.UUID) error {
	return m.leave(ctx, strings.ToUpper(code), userID, true)
}

func (m *Manager) leave(ctx context.Context, code string, userID uuid.UUID, onlyIfDisconnected bool) error {
	empty := false
	err := m.store.With(code, func(l *Lobby) error {
		p := l.player(userID)
		if p == nil {
			return nil
		}
		if onlyIfDisconnected && p.ConnectionID != "" {
			return nil
		}
		l.removePlayer(userID)

		if len(l.Players) == 0 {
			l.Status = StatusEnded
			empty = true
			return nil
		}
		if l.HostUserID == userID {
			l.HostUserID = l.oldestPlayer().UserID
		}
		m.publishUpdate(ctx, code, l.snapshot())
		return nil
	})
	if err != nil || !empty {
		return err
	}

	m.store.Delete(code)
	if m.snapshots != nil {
		if err := m.snapshots.Delete(ctx, code); err != nil {
			m.log.WithError(err).WithField("code", code).Warn("snapshot cache delete failed")
		}
	}
	if m.onTeardown != nil {
		m.onTeardown(code)
	}
	m.log.WithField("code", code).Info("lobby torn down")
	return nil
}

// StartGame moves the lobby Waiting -> Starting and hands control to the
// game engine, which completes the transition to InGame. A failed handoff
// aborts back to Waiting.
func (m *Manager) StartGame(ctx context.Context, code string, requester uuid.UUID) error {
	code = strings.ToUpper(code)
	err := m.store.With(code, func(l *Lobby) error {
		if l.HostUserID != requester {
			return quizerr.Authorization("only the host can start the game")
		}
		if l.Status != StatusWaiting {
			return quizerr.Precondition("lobby %s is not waiting", code)
		}
		if len(l.Players) < l.Settings.MinPlayers {
			return quizerr.Precondition("need at least %d players to start", l.Settings.MinPlayers)
		}
		l.Status = StatusStarting
		return nil
	})
	if err != nil {
		return err
	}

	if m.starter == nil {
		m.revertToWaiting(code)
		return quizerr.New(quizerr.KindUnknown, "no game engine attached")
	}
	if err := m.starter(ctx, code); err != nil {
		m.revertToWaiting(code)
		return err
	}
	return nil
}

func (m *Manager) revertToWaiting(code string) {
	_ = m.store.With(code, func(l *Lobby) error {
		if l.Status == StatusStarting {
			l.Status = StatusWaiting
		}
		return nil
	})
}

// SetInGame completes the Starting -> InGame transition on behalf of the
// game engine.
func (m *Manager) SetInGame(ctx context.Context, code string) error {
	code = strings.ToUpper(code)
	return m.store.With(code, func(l *Lobby) error {
		if l.Status != StatusStarting {
			return quizerr.State("lobby %s is not starting", code)
		}
		l.Status = StatusInGame
		m.publishUpdate(ctx, code, l.snapshot())
		return nil
	})
}

// ResetAfterGame returns an InGame lobby to Waiting so it can host another
// round of play. Ready flags clear; final scores remain visible.
func (m *Manager) ResetAfterGame(ctx context.Context, code string) error {
	code = strings.ToUpper(code)
	return m.store.With(code, func(l *Lobby) error {
		if l.Status != StatusInGame {
			return nil
		}
		l.Status = StatusWaiting
		for _, p := range l.Players {
			p.Ready = false
		}
		m.publishUpdate(ctx, code, l.snapshot())
		return nil
	})
}

// SetReady flips the player's ready flag and broadcasts the change.
func (m *Manager) SetReady(ctx context.Context, code string, userID uuid.UUID, ready bool) error {
	code = strings.ToUpper(code)
	return m.store.With(code, func(l *Lobby) error {
		p := l.player(userID)
		if p == nil {
			return quizerr.NotFound("player is not in lobby %s", code)
		}
		if p.Ready == ready {
			return nil
		}
		p.Ready = ready
		m.publishUpdate(ctx, code, l.snapshot())
		return nil
	})
}

// Chat relays a message through the lobby topic and keeps bounded history
// for late joiners.
func (m *Manager) Chat(ctx context.Context, code string, userID uuid.UUID, text string) error {
	code = strings.ToUpper(code)
	if strings.TrimSpace(text) == "" {
		return quizerr.Validation("empty chat message")
	}
	return m.store.With(code, func(l *Lobby) error {
		p := l.player(userID)
		if p == nil {
			return quizerr.NotFound("player is not in lobby %s", code)
		}
		msg := events.ChatMessage{
			UserID:      userID,
			DisplayName: p.DisplayName,
			Text:        text,
			SentAt:      time.Now(),
		}
		l.appendChat(msg)
		m.publish(ctx, code, events.Envelope{Type: events.KindChatMessage, Chat: &msg})
		return nil
	})
}

// ChatHistory returns the retained chat backlog.
func (m *Manager) ChatHistory(code string) ([]events.ChatMessage, error) {
	var out []events.ChatMessage
	err := m.store.With(strings.ToUpper(code), func(l *Lobby) error {
		out = append([]events.ChatMessage(nil), l.ChatLog...)
		return nil
	})
	return out, err
}

// MarkConnected binds a live connection to the player.
func (m *Manager) MarkConnected(ctx context.Context, code string, userID uuid.UUID, connID string) error {
	code = strings.ToUpper(code)
	return m.store.With(code, func(l *Lobby) error {
		p := l.player(userID)
		if p == nil {
			return quizerr.NotFound("player is not in lobby %s", code)
		}
		p.ConnectionID = connID
		p.DisconnectedAt = time.Time{}
		m.publishUpdate(ctx, code, l.snapshot())
		return nil
	})
}

// MarkDisconnected retains the player but flags the connection as gone.
// Host status is untouched: only an explicit leave reassigns the host.
func (m *Manager) MarkDisconnected(ctx context.Context, code string, userID uuid.UUID, connID string) error {
	code = strings.ToUpper(code)
	return m.store.With(code, func(l *Lobby) error {
		p := l.player(userID)
		if p == nil || p.ConnectionID != connID {
			// A newer connection already replaced this one.
			return nil
		}
		p.ConnectionID = ""
		p.DisconnectedAt = time.Now()
		m.publishUpdate(ctx, code, l.snapshot())
		return nil
	})
}

// Snapshot returns the current projection.
func (m *Manager) Snapshot(code string) (events.LobbySnapshot, error) {
	var snap events.LobbySnapshot
	err := m.store.With(strings.ToUpper(code), func(l *Lobby) error {
		snap = l.snapshot()
		return nil
	})
	return snap, err
}

// Codes lists lobbies hosted by this instance.
func (m *Manager) Codes() []string {
	return m.store.Codes()
}

// SettingsOf returns the lobby's fixed settings.
func (m *Manager) SettingsOf(code string) (Settings, error) {
	var s Settings
	err := m.store.With(strings.ToUpper(code), func(l *Lobby) error {
		s = l.Settings
		return nil
	})
	return s, err
}

// ConnectedUserIDs lists members with a live connection.
func (m *Manager) ConnectedUserIDs(code string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := m.store.With(strings.ToUpper(code), func(l *Lobby) error {
		for _, p := range l.Players {
			if p.ConnectionID != "" {
				ids = append(ids, p.UserID)
			}
		}
		return nil
	})
	return ids, err
}

// AddScores applies round deltas to cumulative player scores and returns
// the updated standings. Missing players (already departed) are skipped.
func (m *Manager) AddScores(ctx context.Context, code string, delta map[uuid.UUID]int) ([]events.LeaderboardEntry, error) {
	code = strings.ToUpper(code)
	var standings []events.LeaderboardEntry
	err := m.store.With(code, func(l *Lobby) error {
		for _, p := range l.Players {
			p.Score += delta[p.UserID]
		}
		standings = l.standings()
		m.publishUpdate(ctx, code, l.snapshot())
		return nil
	})
	return standings, err
}

// Standings returns the current cumulative leaderboard.
func (m *Manager) Standings(code string) ([]events.LeaderboardEntry, error) {
	var standings []events.LeaderboardEntry
	err := m.store.With(strings.ToUpper(code), func(l *Lobby) error {
		standings = l.standings()
		return nil
	})
	return standings, err
}

func (m *Manager) applyDefaults(s Settings) Settings {
	if s.MinPlayers == 0 {
		s.MinPlayers = m.cfg.MinPlayersToStart
	}
	if s.MaxPlayers == 0 {
		s.MaxPlayers = m.cfg.MaxPlayersPerLobby
	}
	if s.QuestionTimerSeconds == 0 {
		s.QuestionTimerSeconds = m.cfg.DefaultQuestionTimer
	}
	if s.QuestionsPerGame == 0 {
		s.QuestionsPerGame = m.cfg.QuestionsPerGame
	}
	if s.Difficulty == 0 {
		s.Difficulty = 2
	}
	if len(s.Categories) == 0 {
		s.Categories = []string{"general"}
	}
	return s
}

func (m *Manager) validateSettings(s Settings) error {
	switch {
	case s.MinPlayers < 1:
		return quizerr.Validation("minPlayers must be >= 1")
	case s.MinPlayers > s.MaxPlayers:
		return quizerr.Validation("minPlayers exceeds maxPlayers")
	case s.MaxPlayers > m.cfg.MaxPlayersPerLobby:
		return quizerr.Validation("maxPlayers exceeds the configured limit of %d", m.cfg.MaxPlayersPerLobby)
	case s.QuestionTimerSeconds < 5 || s.QuestionTimerSeconds > 120:
		return quizerr.Validation("questionTimerSeconds must be between 5 and 120")
	case s.Difficulty < 1 || s.Difficulty > 3:
		return quizerr.Validation("difficulty must be 1, 2, or 3")
	case s.QuestionsPerGame < 1 || s.QuestionsPerGame > 50:
		return quizerr.Validation("questionsPerGame must be between 1 and 50")
	}
	return nil
}

func (m *Manager) publishUpdate(ctx context.Context, code string, snap events.LobbySnapshot) {
	m.publish(ctx, code, events.Envelope{Type: events.KindLobbyUpdate, Lobby: &snap})
	if m.snapshots != nil {
		if err := m.snapshots.Put(ctx, snap); err != nil {
			m.log.WithError(err).WithField("code", code).Warn("snapshot cache write failed")
		}
	}
}

func (m *Manager) publish(ctx context.Context, code string, ev events.Envelope) {
	if err := m.fan.Publish(ctx, code, ev); err != nil {
		m.log.WithError(err).WithField("code", code).Warn("fanout publish failed")
	}
}
