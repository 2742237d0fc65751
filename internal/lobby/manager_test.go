package lobby

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbellew/quizlive/internal/config"
	"github.com/pbellew/quizlive/internal/events"
	"github.com/pbellew/quizlive/internal/fanout"
	"github.com/pbellew/quizlive/internal/quizerr"
)

func testConfig() config.Config {
	return config.Config{
		MinPlayersToStart:    1,
		MaxPlayersPerLobby:   8,
		DefaultQuestionTimer: 30,
		QuestionsPerGame:     5,
		RevealSeconds:        5,
		LobbyCodeLength:      4,
	}
}

func newTestManager(t *testing.T) (*Manager, *fanout.Memory) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	fan := fanout.NewMemory()
	t.Cleanup(func() { fan.Close() })
	return NewManager(testConfig(), fan, logger), fan
}

func TestCreateLobbyDefaults(t *testing.T) {
	m, _ := newTestManager(t)
	host := uuid.New()

	snap, err := m.CreateLobby(context.Background(), host, "alice", Settings{})
	require.NoError(t, err)

	assert.Len(t, snap.Code, 4)
	for _, r := range snap.Code {
		assert.Contains(t, "ABCDEFGHJKLMNPQRSTUVWXYZ23456789", string(r))
	}
	assert.Equal(t, host, snap.HostUserID)
	assert.Equal(t, string(StatusWaiting), snap.Status)
	require.Len(t, snap.Players, 1)
	assert.Equal(t, "alice", snap.Players[0].DisplayName)

	s, err := m.SettingsOf(snap.Code)
	require.NoError(t, err)
	assert.Equal(t, 1, s.MinPlayers)
	assert.Equal(t, 30, s.QuestionTimerSeconds)
	assert.Equal(t, 5, s.QuestionsPerGame)
	assert.Equal(t, []string{"general"}, s.Categories)
}

func TestCreateLobbyValidation(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.CreateLobby(context.Background(), uuid.New(), "x", Settings{MaxPlayers: 100})
	assert.Equal(t, quizerr.KindValidation, quizerr.KindOf(err))

	_, err = m.CreateLobby(context.Background(), uuid.New(), "x", Settings{Difficulty: 9})
	assert.Equal(t, quizerr.KindValidation, quizerr.KindOf(err))

	_, err = m.CreateLobby(context.Background(), uuid.New(), "x", Settings{QuestionTimerSeconds: 2})
	assert.Equal(t, quizerr.KindValidation, quizerr.KindOf(err))
}

func TestJoinIdempotentAndCapacity(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	host, u2, u3 := uuid.New(), uuid.New(), uuid.New()

	snap, err := m.CreateLobby(ctx, host, "host", Settings{MaxPlayers: 2})
	require.NoError(t, err)
	code := snap.Code

	snap, err = m.JoinLobby(ctx, code, u2, "bob")
	require.NoError(t, err)
	assert.Len(t, snap.Players, 2)

	// joining again changes nothing
	snap, err = m.JoinLobby(ctx, code, u2, "bob")
	require.NoError(t, err)
	assert.Len(t, snap.Players, 2)

	_, err = m.JoinLobby(ctx, code, u3, "carol")
	assert.Equal(t, quizerr.KindCapacity, quizerr.KindOf(err))
}

func TestCodesListsActiveLobbies(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	assert.Empty(t, m.Codes())

	a, err := m.CreateLobby(ctx, uuid.New(), "alice", Settings{})
	require.NoError(t, err)
	b, err := m.CreateLobby(ctx, uuid.New(), "bob", Settings{})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{a.Code, b.Code}, m.Codes())

	require.NoError(t, m.LeaveLobby(ctx, a.Code, a.HostUserID))
	assert.Equal(t, []string{b.Code}, m.Codes())
}

func TestJoinUnknownLobby(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.JoinLobby(context.Background(), "ZZZZ", uuid.New(), "x")
	assert.Equal(t, quizerr.KindNotFound, quizerr.KindOf(err))
}

func TestLeaveReassignsHostByTenure(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	host, u2, u3 := uuid.New(), uuid.New(), uuid.New()

	snap, err := m.CreateLobby(ctx, host, "host", Settings{})
	require.NoError(t, err)
	code := snap.Code
	_, err = m.JoinLobby(ctx, code, u2, "bob")
	require.NoError(t, err)
	_, err = m.JoinLobby(ctx, code, u3, "carol")
	require.NoError(t, err)

	require.NoError(t, m.LeaveLobby(ctx, code, host))

	snap, err = m.Snapshot(code)
	require.NoError(t, err)
	assert.Equal(t, u2, snap.HostUserID)
	assert.Len(t, snap.Players, 2)
}

func TestLeaveNonMemberIsNoOp(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	snap, err := m.CreateLobby(ctx, uuid.New(), "host", Settings{})
	require.NoError(t, err)

	require.NoError(t, m.LeaveLobby(ctx, snap.Code, uuid.New()))

	after, err := m.Snapshot(snap.Code)
	require.NoError(t, err)
	assert.Len(t, after.Players, 1)
}

func TestLastLeaveTearsDownLobby(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	host := uuid.New()

	var tornDown []string
	m.SetOnTeardown(func(code string) { tornDown = append(tornDown, code) })

	snap, err := m.CreateLobby(ctx, host, "host", Settings{})
	require.NoError(t, err)
	code := snap.Code

	require.NoError(t, m.LeaveLobby(ctx, code, host))
	assert.Equal(t, []string{code}, tornDown)

	_, err = m.Snapshot(code)
	assert.Equal(t, quizerr.KindNotFound, quizerr.KindOf(err))
	_, err = m.JoinLobby(ctx, code, uuid.New(), "late")
	assert.Equal(t, quizerr.KindNotFound, quizerr.KindOf(err))
}

func TestStartGamePreconditions(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	host, stranger := uuid.New(), uuid.New()

	snap, err := m.CreateLobby(ctx, host, "host", Settings{MinPlayers: 2})
	require.NoError(t, err)
	code := snap.Code

	err = m.StartGame(ctx, code, stranger)
	assert.Equal(t, quizerr.KindAuthorization, quizerr.KindOf(err))

	err = m.StartGame(ctx, code, host)
	assert.Equal(t, quizerr.KindPrecondition, quizerr.KindOf(err))
}

func TestStartGameHandsOffToStarter(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	host := uuid.New()

	var started []string
	m.SetStarter(func(ctx context.Context, code string) error {
		started = append(started, code)
		return m.SetInGame(ctx, code)
	})

	snap, err := m.CreateLobby(ctx, host, "host", Settings{})
	require.NoError(t, err)
	code := snap.Code

	require.NoError(t, m.StartGame(ctx, code, host))
	assert.Equal(t, []string{code}, started)

	after, err := m.Snapshot(code)
	require.NoError(t, err)
	assert.Equal(t, string(StatusInGame), after.Status)

	// a second start is rejected while the game runs
	err = m.StartGame(ctx, code, host)
	assert.Equal(t, quizerr.KindPrecondition, quizerr.KindOf(err))

	// and joining is closed
	_, err = m.JoinLobby(ctx, code, uuid.New(), "late")
	assert.Equal(t, quizerr.KindConflict, quizerr.KindOf(err))
}

func TestStartGameStarterFailureReverts(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	host := uuid.New()

	m.SetStarter(func(ctx context.Context, code string) error {
		return quizerr.New(quizerr.KindUpstream, "question source down")
	})

	snap, err := m.CreateLobby(ctx, host, "host", Settings{})
	require.NoError(t, err)

	err = m.StartGame(ctx, snap.Code, host)
	assert.Equal(t, quizerr.KindUpstream, quizerr.KindOf(err))

	after, err := m.Snapshot(snap.Code)
	require.NoError(t, err)
	assert.Equal(t, string(StatusWaiting), after.Status)
}

func TestChatHistoryBounded(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	host := uuid.New()

	snap, err := m.CreateLobby(ctx, host, "host", Settings{})
	require.NoError(t, err)
	code := snap.Code

	err = m.Chat(ctx, code, uuid.New(), "hi")
	assert.Equal(t, quizerr.KindNotFound, quizerr.KindOf(err))

	err = m.Chat(ctx, code, host, "   ")
	assert.Equal(t, quizerr.KindValidation, quizerr.KindOf(err))

	for i := 0; i < 55; i++ {
		require.NoError(t, m.Chat(ctx, code, host, fmt.Sprintf("msg %d", i)))
	}
	history, err := m.ChatHistory(code)
	require.NoError(t, err)
	require.Len(t, history, 50)
	assert.Equal(t, "msg 5", history[0].Text)
	assert.Equal(t, "msg 54", history[49].Text)
}

func TestStandingsOrderAndTies(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	host, u2, u3 := uuid.New(), uuid.New(), uuid.New()

	snap, err := m.CreateLobby(ctx, host, "host", Settings{})
	require.NoError(t, err)
	code := snap.Code
	_, err = m.JoinLobby(ctx, code, u2, "bob")
	require.NoError(t, err)
	_, err = m.JoinLobby(ctx, code, u3, "carol")
	require.NoError(t, err)

	standings, err := m.AddScores(ctx, code, map[uuid.UUID]int{u2: 900, host: 900, u3: 1200})
	require.NoError(t, err)
	require.Len(t, standings, 3)

	assert.Equal(t, u3, standings[0].UserID)
	assert.Equal(t, 1, standings[0].Rank)
	// equal scores keep join order
	assert.Equal(t, host, standings[1].UserID)
	assert.Equal(t, u2, standings[2].UserID)
	assert.Equal(t, 3, standings[2].Rank)
}

func TestSetReadyAndAllReadyFlag(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	host, u2 := uuid.New(), uuid.New()

	snap, err := m.CreateLobby(ctx, host, "host", Settings{})
	require.NoError(t, err)
	code := snap.Code
	_, err = m.JoinLobby(ctx, code, u2, "bob")
	require.NoError(t, err)

	err = m.SetReady(ctx, code, uuid.New(), true)
	assert.Equal(t, quizerr.KindNotFound, quizerr.KindOf(err))

	require.NoError(t, m.SetReady(ctx, code, host, true))
	after, _ := m.Snapshot(code)
	assert.False(t, after.AllReady)

	require.NoError(t, m.SetReady(ctx, code, u2, true))
	after, _ = m.Snapshot(code)
	assert.True(t, after.AllReady)

	require.NoError(t, m.SetReady(ctx, code, u2, false))
	after, _ = m.Snapshot(code)
	assert.False(t, after.AllReady)
}

func TestDisconnectLifecycle(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	host, u2 := uuid.New(), uuid.New()

	snap, err := m.CreateLobby(ctx, host, "host", Settings{})
	require.NoError(t, err)
	code := snap.Code
	_, err = m.JoinLobby(ctx, code, u2, "bob")
	require.NoError(t, err)

	require.NoError(t, m.MarkConnected(ctx, code, u2, "conn-2"))
	ids, err := m.ConnectedUserIDs(code)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{u2}, ids)

	// a stale connection id cannot mark the player offline
	require.NoError(t, m.MarkDisconnected(ctx, code, u2, "conn-old"))
	ids, _ = m.ConnectedUserIDs(code)
	assert.Len(t, ids, 1)

	require.NoError(t, m.MarkDisconnected(ctx, code, u2, "conn-2"))
	ids, _ = m.ConnectedUserIDs(code)
	assert.Empty(t, ids)

	// player keeps the seat until the drop path fires
	after, _ := m.Snapshot(code)
	assert.Len(t, after.Players, 2)

	// reconnect cancels the pending drop
	require.NoError(t, m.MarkConnected(ctx, code, u2, "conn-3"))
	require.NoError(t, m.DropIfStillDisconnected(ctx, code, u2))
	after, _ = m.Snapshot(code)
	assert.Len(t, after.Players, 2)

	require.NoError(t, m.MarkDisconnected(ctx, code, u2, "conn-3"))
	require.NoError(t, m.DropIfStillDisconnected(ctx, code, u2))
	after, _ = m.Snapshot(code)
	assert.Len(t, after.Players, 1)
}

func TestMembershipChangesBroadcast(t *testing.T) {
	m, fan := newTestManager(t)
	ctx := context.Background()
	host, u2 := uuid.New(), uuid.New()

	snap, err := m.CreateLobby(ctx, host, "host", Settings{})
	require.NoError(t, err)
	code := snap.Code

	sub, err := fan.Subscribe(ctx, code)
	require.NoError(t, err)
	defer sub.Close()

	_, err = m.JoinLobby(ctx, code, u2, "bob")
	require.NoError(t, err)
	require.NoError(t, m.Chat(ctx, code, u2, "hello"))

	ev := waitForEvent(t, sub, events.KindLobbyUpdate)
	require.NotNil(t, ev.Lobby)
	assert.Len(t, ev.Lobby.Players, 2)
	assert.Equal(t, strings.ToUpper(code), ev.LobbyCode)

	chat := waitForEvent(t, sub, events.KindChatMessage)
	require.NotNil(t, chat.Chat)
	assert.Equal(t, "hello", chat.Chat.Text)
	assert.Equal(t, u2, chat.Chat.UserID)
}

func waitForEvent(t *testing.T, sub fanout.Subscription, kind events.Kind) events.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatalf("subscription closed waiting for %s", kind)
			}
			if ev.Type == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}
