package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/pbellew/quizlive/internal/auth"
	"github.com/pbellew/quizlive/internal/events"
	"github.com/pbellew/quizlive/internal/lobby"
	"github.com/pbellew/quizlive/internal/quizerr"
)

// createSessionRequest mints a session token. With authentication not
// required this is how guests obtain an identity.
type createSessionRequest struct {
	DisplayName string `json:"display_name"`
}

type createSessionResponse struct {
	Token       string `json:"token"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

func (s *Server) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.RequireAuthentication {
		s.writeError(w, quizerr.Authorization("guest sessions are disabled"))
		return
	}
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		s.writeError(w, quizerr.Validation("invalid request body"))
		return
	}
	id := auth.NewGuest(strings.TrimSpace(req.DisplayName))
	token, err := s.auth.CreateToken(id)
	if err != nil {
		s.log.WithError(err).Error("token mint failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusCreated, createSessionResponse{
		Token:       token,
		UserID:      id.UserID.String(),
		DisplayName: id.DisplayName,
	})
}

type createLobbyRequest struct {
	MaxPlayers           int      `json:"max_players"`
	QuestionTimerSeconds int      `json:"question_timer_seconds"`
	QuestionsPerGame     int      `json:"questions_per_game"`
	Categories           []string `json:"categories"`
	Difficulty           int      `json:"difficulty"`

	// RequireAuth makes this lobby reject guest identities on join even
	// when the deployment allows guests globally.
	RequireAuth bool `json:"require_auth"`
}

func (s *Server) CreateLobbyHandler(w http.ResponseWriter, r *http.Request) {
	id, err := s.identify(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req createLobbyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		s.writeError(w, quizerr.Validation("invalid request body"))
		return
	}
	snap, err := s.lobbies.CreateLobby(r.Context(), id.UserID, id.DisplayName, lobby.Settings{
		MaxPlayers:           req.MaxPlayers,
		QuestionTimerSeconds: req.QuestionTimerSeconds,
		QuestionsPerGame:     req.QuestionsPerGame,
		Categories:           req.Categories,
		Difficulty:           req.Difficulty,
		RequireAuth:          req.RequireAuth || s.cfg.RequireAuthentication,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) LobbyStatusHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.identify(r); err != nil {
		s.writeError(w, err)
		return
	}
	code := r.PathValue("code")
	snap, err := s.lobbies.Snapshot(code)
	if err != nil && quizerr.KindOf(err) == quizerr.KindNotFound && s.snapshots != nil {
		// Another instance may host this lobby; try the shared cache.
		snap, err = s.snapshots.Get(r.Context(), code)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) JoinLobbyHandler(w http.ResponseWriter, r *http.Request) {
	id, err := s.identify(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	code := r.PathValue("code")
	if err := s.guestAllowed(code, id.Guest); err != nil {
		s.writeError(w, err)
		return
	}
	snap, err := s.lobbies.JoinLobby(r.Context(), code, id.UserID, id.DisplayName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// guestAllowed rejects guest identities for lobbies created with
// RequireAuth. Unknown codes pass through so the join path reports them.
func (s *Server) guestAllowed(code string, guest bool) error {
	if !guest {
		return nil
	}
	settings, err := s.lobbies.SettingsOf(code)
	if err != nil {
		return nil
	}
	if settings.RequireAuth {
		return quizerr.Authorization("lobby requires a signed-in player")
	}
	return nil
}

func (s *Server) LeaveLobbyHandler(w http.ResponseWriter, r *http.Request) {
	id, err := s.identify(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.lobbies.LeaveLobby(r.Context(), r.PathValue("code"), id.UserID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) StartGameHandler(w http.ResponseWriter, r *http.Request) {
	id, err := s.identify(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.lobbies.StartGame(r.Context(), r.PathValue("code"), id.UserID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// identify resolves the caller's identity from the Authorization header,
// an auth_token cookie, or a token query parameter, in that order.
func (s *Server) identify(r *http.Request) (auth.Identity, error) {
	token := bearerToken(r)
	if token == "" {
		if c, err := r.Cookie("auth_token"); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return auth.Identity{}, quizerr.Authorization("missing session token")
	}
	return s.auth.Verify(token)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("response encode failed")
	}
}

// writeError renders the error taxonomy as a JSON body with the HTTP
// status derived from the error kind.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := quizerr.KindOf(err)
	s.writeJSON(w, quizerr.HTTPStatus(kind), events.ErrorInfo{
		Kind:    string(kind),
		Message: err.Error(),
	})
}
