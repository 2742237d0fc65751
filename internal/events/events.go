// Package events defines the closed set of event kinds exchanged over the
// real-time transport and the fanout channel. Every lobby topic carries the
// same envelope shape that clients receive, so any instance can rebuild its
// routing projection purely from channel traffic.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Kind enumerates every event the engine understands. Dispatch tables are
// keyed on Kind so an unhandled kind is a lookup miss, not a silent drop.
type Kind string

// Client -> server kinds.
const (
	KindJoinLobby    Kind = "join_lobby"
	KindLeaveLobby   Kind = "leave_lobby"
	KindStartGame    Kind = "start_game"
	KindSubmitAnswer Kind = "submit_answer"
	KindSetReady     Kind = "set_ready"
	KindChat         Kind = "chat"
)

// Server -> client kinds (also the fanout envelope kinds).
const (
	KindLobbyUpdate    Kind = "lobby_update"
	KindGameStarted    Kind = "game_started"
	KindQuestion       Kind = "question"
	KindPlayerAnswered Kind = "player_answered"
	KindAnswerResult   Kind = "answer_result"
	KindGameEnded      Kind = "game_ended"
	KindChatMessage    Kind = "chat_message"
	KindError          Kind = "error"
)

// ClientMessage is the inbound websocket frame. Fields beyond Type are
// populated per kind; handlers validate what they need.
type ClientMessage struct {
	Type          Kind    `json:"type"`
	LobbyCode     string  `json:"lobby_code,omitempty"`
	Answer        string  `json:"answer,omitempty"`
	TimeRemaining float64 `json:"time_remaining,omitempty"`
	Ready         bool    `json:"ready,omitempty"`
	Text          string  `json:"msg,omitempty"`
}

// Envelope is the outbound frame. Exactly one payload pointer is set,
// matching Type.
type Envelope struct {
	Type      Kind   `json:"type"`
	LobbyCode string `json:"lobby_code,omitempty"`
	Seq       uint64 `json:"seq,omitempty"`

	Lobby    *LobbySnapshot  `json:"lobby,omitempty"`
	Game     *GameStarted    `json:"game,omitempty"`
	Question *QuestionPrompt `json:"question,omitempty"`
	Answered *PlayerAnswered `json:"answered,omitempty"`
	Result   *AnswerResult   `json:"result,omitempty"`
	Final    *GameEnded      `json:"final,omitempty"`
	Chat     *ChatMessage    `json:"chat,omitempty"`
	Error    *ErrorInfo      `json:"error,omitempty"`
}

// PlayerInfo is the public projection of a lobby member.
type PlayerInfo struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Ready       bool      `json:"ready"`
	Connected   bool      `json:"connected"`
	Score       int       `json:"score"`
}

// LobbySnapshot is the full lobby projection broadcast on membership or
// status changes and returned by the REST surface.
type LobbySnapshot struct {
	Code       string       `json:"code"`
	HostUserID uuid.UUID    `json:"host_user_id"`
	Status     string       `json:"status"`
	Players    []PlayerInfo `json:"players"`
	MaxPlayers int          `json:"max_players"`
	AllReady   bool         `json:"all_ready"`
}

type GameStarted struct {
	TotalQuestions int `json:"total_questions"`
}

// QuestionPrompt never includes the correct answer.
type QuestionPrompt struct {
	Index       int      `json:"question_index"`
	Total       int      `json:"total_questions"`
	Text        string   `json:"text"`
	Options     []string `json:"options,omitempty"`
	TimeSeconds int      `json:"time_seconds"`
}

type PlayerAnswered struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
}

// LeaderboardEntry is one row of cumulative standings.
type LeaderboardEntry struct {
	Rank        int       `json:"rank"`
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Score       int       `json:"score"`
}

// AnswerResult reveals the round outcome once the round has closed. Correct
// and PointsAwarded refer to the addressed player; Leaderboard carries the
// updated cumulative standings for everyone.
type AnswerResult struct {
	UserID        uuid.UUID          `json:"user_id"`
	Correct       bool               `json:"correct"`
	PointsAwarded int                `json:"points_awarded"`
	CorrectAnswer string             `json:"correct_answer"`
	Leaderboard   []LeaderboardEntry `json:"leaderboard"`
}

type GameEnded struct {
	FinalScores  []LeaderboardEntry `json:"final_scores"`
	WinnerUserID uuid.UUID          `json:"winner_user_id"`
}

type ChatMessage struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Text        string    `json:"msg"`
	SentAt      time.Time `json:"sent_at"`
}

type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
