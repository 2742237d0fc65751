// Package lobby owns lobby lifecycle: creation, membership, host
// assignment, readiness, chat, and teardown. All mutation for a given code
// runs inside that code's critical section; other instances observe changes
// through the fanout channel only.
package lobby

import (
	"time"

	"github.com/google/uuid"

	"github.com/pbellew/quizlive/internal/events"
)

// Status is the lobby lifecycle state. Transitions are monotonic except
// Starting, which falls back to Waiting if a start aborts.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusStarting Status = "starting"
	StatusInGame   Status = "in_game"
	StatusEnded    Status = "ended"
)

// Settings are fixed at creation time. Zero fields are filled with
// configured defaults by the manager.
type Settings struct {
	MinPlayers           int      `json:"min_players"`
	MaxPlayers           int      `json:"max_players"`
	QuestionTimerSeconds int      `json:"question_timer_seconds"`
	QuestionsPerGame     int      `json:"questions_per_game"`
	Categories           []string `json:"categories,omitempty"`
	Difficulty           int      `json:"difficulty"`
	RequireAuth          bool     `json:"require_auth"`
}

// Player is a lobby member. An empty ConnectionID means disconnected but
// retained, so a quick reconnect keeps the game position.
type Player struct {
	UserID         uuid.UUID
	DisplayName    string
	ConnectionID   string
	Ready          bool
	Score          int
	JoinedAt       time.Time
	DisconnectedAt time.Time
}

const chatHistoryLimit = 50

// Lobby state. Mutated only under the store's per-code lock.
type Lobby struct {
	Code       string
	HostUserID uuid.UUID
	Players    []*Player // join order
	Status     Status
	Settings   Settings
	CreatedAt  time.Time

	ChatLog []events.ChatMessage
}

func (l *Lobby) player(userID uuid.UUID) *Player {
	for _, p := range l.Players {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

func (l *Lobby) removePlayer(userID uuid.UUID) bool {
	for i, p := range l.Players {
		if p.UserID == userID {
			l.Players = append(l.Players[:i], l.Players[i+1:]...)
			return true
		}
	}
	return false
}

// oldestPlayer returns the longest-tenured member, the host-reassignment
// target.
func (l *Lobby) oldestPlayer() *Player {
	var oldest *Player
	for _, p := range l.Players {
		if oldest == nil || p.JoinedAt.Before(oldest.JoinedAt) {
			oldest = p
		}
	}
	return oldest
}

func (l *Lobby) allReady() bool {
	if len(l.Players) == 0 {
		return false
	}
	for _, p := range l.Players {
		if !p.Ready {
			return false
		}
	}
	return true
}

func (l *Lobby) appendChat(msg events.ChatMessage) {
	l.ChatLog = append(l.ChatLog, msg)
	if len(l.ChatLog) > chatHistoryLimit {
		l.ChatLog = l.ChatLog[len(l.ChatLog)-chatHistoryLimit:]
	}
}

// snapshot builds the public projection. Caller holds the code's lock.
func (l *Lobby) snapshot() events.LobbySnapshot {
	players := make([]events.PlayerInfo, 0, len(l.Players))
	for _, p := range l.Players {
		players = append(players, events.PlayerInfo{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Ready:       p.Ready,
			Connected:   p.ConnectionID != "",
			Score:       p.Score,
		})
	}
	return events.LobbySnapshot{
		Code:       l.Code,
		HostUserID: l.HostUserID,
		Status:     string(l.Status),
		Players:    players,
		MaxPlayers: l.Settings.MaxPlayers,
		AllReady:   l.allReady(),
	}
}

// standings ranks players by cumulative score, ties broken by join order.
func (l *Lobby) standings() []events.LeaderboardEntry {
	out := make([]events.LeaderboardEntry, 0, len(l.Players))
	for _, p := range l.Players {
		out = append(out, events.LeaderboardEntry{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Score:       p.Score,
		})
	}
	// Insertion sort keeps join order stable for equal scores.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Score > out[j-1].Score; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
