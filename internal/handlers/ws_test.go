package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbellew/quizlive/internal/events"
)

func TestClientSendNeverBlocks(t *testing.T) {
	cl := newClient("c1", uuid.New(), "alice", true)

	for i := 0; i < outBufferSize; i++ {
		require.True(t, cl.Send(events.Envelope{Type: events.KindLobbyUpdate}))
	}
	assert.False(t, cl.Send(events.Envelope{Type: events.KindLobbyUpdate}),
		"a full buffer drops instead of blocking")

	cl.stop()
	cl.stop() // repeat is safe
	assert.False(t, cl.Send(events.Envelope{Type: events.KindLobbyUpdate}))
}

func wsDial(t *testing.T, tsURL, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := strings.Replace(tsURL, "http://", "ws://", 1) + "/ws?token=" + token
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocol},
	})
	require.NoError(t, err)
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn, kind events.Kind) events.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err, "waiting for %s", kind)
		var ev events.Envelope
		require.NoError(t, json.Unmarshal(data, &ev))
		if ev.Type == kind {
			return ev
		}
	}
}

func writeMessage(t *testing.T, conn *websocket.Conn, msg events.ClientMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func TestWebsocketJoinAndChat(t *testing.T) {
	srv, h := newTestServer(t)
	ts := httptest.NewServer(h)
	defer ts.Close()

	hostToken, hostID := mintToken(t, srv, "host")

	w := doJSON(t, h, "POST", "/api/lobbies", hostToken, `{}`)
	require.Equal(t, 201, w.Code, w.Body.String())
	var snap events.LobbySnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))

	conn := wsDial(t, ts.URL, hostToken)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	writeMessage(t, conn, events.ClientMessage{Type: events.KindJoinLobby, LobbyCode: snap.Code})

	update := readEnvelope(t, conn, events.KindLobbyUpdate)
	require.NotNil(t, update.Lobby)
	assert.Equal(t, snap.Code, update.Lobby.Code)
	assert.Equal(t, hostID, update.Lobby.HostUserID)

	writeMessage(t, conn, events.ClientMessage{Type: events.KindChat, Text: "hello room"})

	chat := readEnvelope(t, conn, events.KindChatMessage)
	require.NotNil(t, chat.Chat)
	assert.Equal(t, "hello room", chat.Chat.Text)
	assert.Equal(t, hostID, chat.Chat.UserID)
}

func TestWebsocketRejectsActionsOutsideLobby(t *testing.T) {
	srv, h := newTestServer(t)
	ts := httptest.NewServer(h)
	defer ts.Close()

	token, _ := mintToken(t, srv, "loner")
	conn := wsDial(t, ts.URL, token)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	writeMessage(t, conn, events.ClientMessage{Type: events.KindChat, Text: "anyone?"})

	errEv := readEnvelope(t, conn, events.KindError)
	require.NotNil(t, errEv.Error)
	assert.Equal(t, "state", errEv.Error.Kind)
}

func TestWebsocketClosesOnInvalidToken(t *testing.T) {
	_, h := newTestServer(t)
	ts := httptest.NewServer(h)
	defer ts.Close()

	// The handshake is accepted so the close code reaches the client.
	conn := wsDial(t, ts.URL, "not-a-token")
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, CloseInvalidToken, websocket.CloseStatus(err))
}

func TestWebsocketClosesOnUnknownLobby(t *testing.T) {
	srv, h := newTestServer(t)
	ts := httptest.NewServer(h)
	defer ts.Close()

	token, _ := mintToken(t, srv, "alice")
	conn := wsDial(t, ts.URL, token)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	writeMessage(t, conn, events.ClientMessage{Type: events.KindJoinLobby, LobbyCode: "ZZZZ"})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, CloseUnknownLobby, websocket.CloseStatus(err))
}

func TestWebsocketUnknownMessageType(t *testing.T) {
	srv, h := newTestServer(t)
	ts := httptest.NewServer(h)
	defer ts.Close()

	token, _ := mintToken(t, srv, "alice")
	conn := wsDial(t, ts.URL, token)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	writeMessage(t, conn, events.ClientMessage{Type: "warp_speed"})

	errEv := readEnvelope(t, conn, events.KindError)
	require.NotNil(t, errEv.Error)
	assert.Equal(t, "validation", errEv.Error.Kind)
}
