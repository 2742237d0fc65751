package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pbellew/quizlive/internal/events"
	"github.com/pbellew/quizlive/internal/quizerr"
	"github.com/pbellew/quizlive/internal/registry"
)

const (
	wsSubprotocol = "quiz"
	outBufferSize = 32
	writeTimeout  = 5 * time.Second
	pingInterval  = 30 * time.Second
)

// client is one websocket connection. It satisfies registry.Sink; Send
// never blocks so one stalled socket cannot back up a lobby broadcast.
type client struct {
	connID   string
	userID   uuid.UUID
	name     string
	guest    bool
	out      chan events.Envelope
	closed   chan struct{}
	stopOnce sync.Once
}

func newClient(connID string, userID uuid.UUID, name string, guest bool) *client {
	return &client{
		connID: connID,
		userID: userID,
		name:   name,
		guest:  guest,
		out:    make(chan events.Envelope, outBufferSize),
		closed: make(chan struct{}),
	}
}

func (c *client) Send(ev events.Envelope) bool {
	select {
	case <-c.closed:
		return false
	case c.out <- ev:
		return true
	default:
		return false
	}
}

func (c *client) stop() {
	c.stopOnce.Do(func() { close(c.closed) })
}

// sendError reports a failed action back to this client only.
func (c *client) sendError(err error) {
	c.Send(events.Envelope{Type: events.KindError, Error: &events.ErrorInfo{
		Kind:    string(quizerr.KindOf(err)),
		Message: err.Error(),
	}})
}

type wsAction func(ctx context.Context, cl *client, msg events.ClientMessage) error

// WebsocketHandler upgrades the connection and runs the read loop until
// the client goes away.
func (s *Server) WebsocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{wsSubprotocol},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.WithError(err).Warn("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "handler finished")

	if conn.Subprotocol() != wsSubprotocol {
		conn.Close(CloseBadSubprotocol, "client must speak the quiz subprotocol")
		return
	}

	// Identified after the handshake so the client gets a close code it
	// can distinguish from a transport failure.
	id, err := s.identify(r)
	if err != nil {
		conn.Close(CloseInvalidToken, "session token rejected")
		return
	}

	connID := uuid.NewString()
	cl := newClient(connID, id.UserID, id.DisplayName, id.Guest)
	s.registry.Register(connID, id.UserID, cl)

	s.log.WithFields(logrus.Fields{
		"conn":   connID,
		"user":   id.UserID,
		"remote": r.RemoteAddr,
	}).Info("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.writePump(ctx, conn, cl)
	s.readPump(ctx, conn, cl)

	cl.stop()
	s.cleanupConnection(cl)
}

func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, cl *client) {
	actions := map[events.Kind]wsAction{
		events.KindJoinLobby:    s.handleJoin,
		events.KindLeaveLobby:   s.handleLeave,
		events.KindStartGame:    s.handleStart,
		events.KindSubmitAnswer: s.handleSubmit,
		events.KindSetReady:     s.handleSetReady,
		events.KindChat:         s.handleChat,
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				s.log.WithField("conn", cl.connID).Info("websocket closed")
			} else if ctx.Err() == nil {
				s.log.WithError(err).WithField("conn", cl.connID).Warn("websocket read error")
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var msg events.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			cl.sendError(quizerr.Validation("invalid message encoding"))
			continue
		}
		action, ok := actions[msg.Type]
		if !ok {
			cl.sendError(quizerr.Validation("unknown message type %q", msg.Type))
			continue
		}
		s.registry.Touch(cl.connID)
		if err := action(ctx, cl, msg); err != nil {
			if msg.Type == events.KindJoinLobby && quizerr.KindOf(err) == quizerr.KindNotFound {
				conn.Close(CloseUnknownLobby, "unknown lobby code")
				return
			}
			cl.sendError(err)
		}
	}
}

func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, cl *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cl.closed:
			conn.Close(websocket.StatusGoingAway, "server closing connection")
			return
		case ev := <-cl.out:
			data, err := json.Marshal(ev)
			if err != nil {
				s.log.WithError(err).Warn("marshal outbound event failed")
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
			// An answered ping counts as liveness for the stale sweeper.
			s.registry.Touch(cl.connID)
		}
	}
}

// handleJoin binds the connection to a lobby and replays current state so
// a reconnecting client catches up immediately.
func (s *Server) handleJoin(ctx context.Context, cl *client, msg events.ClientMessage) error {
	code := strings.ToUpper(strings.TrimSpace(msg.LobbyCode))
	if code == "" {
		return quizerr.Validation("lobby_code is required")
	}
	if err := s.guestAllowed(code, cl.guest); err != nil {
		return err
	}

	snap, err := s.lobbies.JoinLobby(ctx, code, cl.userID, cl.name)
	if err != nil {
		return err
	}
	if err := s.ensureRelay(code); err != nil {
		return quizerr.Wrap(quizerr.KindTransport, err, "lobby event stream unavailable")
	}
	s.registry.BindLobby(cl.connID, code)
	s.dropTimers.CancelKey(dropKey(code, cl.userID))
	if err := s.lobbies.MarkConnected(ctx, code, cl.userID, cl.connID); err != nil {
		return err
	}

	// Direct replay to this client only; the join broadcast went through
	// the fanout before this connection was bound.
	cl.Send(events.Envelope{Type: events.KindLobbyUpdate, LobbyCode: code, Lobby: &snap})
	if history, err := s.lobbies.ChatHistory(code); err == nil {
		for i := range history {
			cl.Send(events.Envelope{Type: events.KindChatMessage, LobbyCode: code, Chat: &history[i]})
		}
	}
	return nil
}

func (s *Server) handleLeave(ctx context.Context, cl *client, msg events.ClientMessage) error {
	b, ok := s.registry.Lookup(cl.connID)
	if !ok || b.LobbyCode == "" {
		return quizerr.State("not in a lobby")
	}
	s.registry.UnbindLobby(cl.connID)
	return s.lobbies.LeaveLobby(ctx, b.LobbyCode, cl.userID)
}

func (s *Server) handleStart(ctx context.Context, cl *client, msg events.ClientMessage) error {
	b, ok := s.registry.Lookup(cl.connID)
	if !ok || b.LobbyCode == "" {
		return quizerr.State("not in a lobby")
	}
	return s.lobbies.StartGame(ctx, b.LobbyCode, cl.userID)
}

func (s *Server) handleSubmit(ctx context.Context, cl *client, msg events.ClientMessage) error {
	b, ok := s.registry.Lookup(cl.connID)
	if !ok || b.LobbyCode == "" {
		return quizerr.State("not in a lobby")
	}
	return s.games.Submit(ctx, b.LobbyCode, cl.userID, msg.Answer, msg.TimeRemaining)
}

func (s *Server) handleSetReady(ctx context.Context, cl *client, msg events.ClientMessage) error {
	b, ok := s.registry.Lookup(cl.connID)
	if !ok || b.LobbyCode == "" {
		return quizerr.State("not in a lobby")
	}
	return s.lobbies.SetReady(ctx, b.LobbyCode, cl.userID, msg.Ready)
}

func (s *Server) handleChat(ctx context.Context, cl *client, msg events.ClientMessage) error {
	b, ok := s.registry.Lookup(cl.connID)
	if !ok || b.LobbyCode == "" {
		return quizerr.State("not in a lobby")
	}
	return s.lobbies.Chat(ctx, b.LobbyCode, cl.userID, msg.Text)
}

// cleanupConnection runs after the read loop exits. The player stays in
// the lobby roster for PlayerDropAfter so a reconnect keeps their seat
// and score.
func (s *Server) cleanupConnection(cl *client) {
	b, ok := s.registry.Release(cl.connID)
	if !ok || b.LobbyCode == "" {
		return
	}
	s.retireBinding(b)
}

// retireBinding marks the player disconnected and arms the drop timer.
// The binding must already be released from the registry.
func (s *Server) retireBinding(b registry.Binding) {
	code := b.LobbyCode
	userID := b.UserID

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := s.lobbies.MarkDisconnected(ctx, code, userID, b.ConnID); err != nil {
		return
	}
	s.log.WithFields(logrus.Fields{"code": code, "user": userID}).Info("player disconnected, grace timer armed")

	s.dropTimers.Arm(dropKey(code, userID), s.cfg.PlayerDropAfter, func() {
		dctx, dcancel := context.WithTimeout(context.Background(), writeTimeout)
		defer dcancel()
		if err := s.lobbies.DropIfStillDisconnected(dctx, code, userID); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{"code": code, "user": userID}).Debug("drop skipped")
		}
	})
}

func dropKey(code string, userID uuid.UUID) string {
	return "drop:" + strings.ToUpper(code) + ":" + userID.String()
}
