package registry

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbellew/quizlive/internal/events"
)

type recordingSink struct{ got []events.Envelope }

func (s *recordingSink) Send(ev events.Envelope) bool {
	s.got = append(s.got, ev)
	return true
}

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	user := uuid.New()
	sink := &recordingSink{}

	r.Register("c1", user, sink)

	b, ok := r.Lookup("c1")
	require.True(t, ok)
	assert.Equal(t, user, b.UserID)
	assert.Empty(t, b.LobbyCode)

	got, ok := r.SinkFor(user)
	require.True(t, ok)
	assert.Same(t, sink, got.(*recordingSink))
}

func TestReconnectDisplacesOldBinding(t *testing.T) {
	r := New()
	user := uuid.New()

	r.Register("c1", user, &recordingSink{})
	fresh := &recordingSink{}
	r.Register("c2", user, fresh)

	_, ok := r.Lookup("c1")
	assert.False(t, ok, "stale connection must be gone")

	got, ok := r.SinkFor(user)
	require.True(t, ok)
	assert.Same(t, fresh, got.(*recordingSink))
}

func TestLobbyBindingAndFanoutTargets(t *testing.T) {
	r := New()
	u1, u2, u3 := uuid.New(), uuid.New(), uuid.New()
	r.Register("c1", u1, &recordingSink{})
	r.Register("c2", u2, &recordingSink{})
	r.Register("c3", u3, &recordingSink{})

	r.BindLobby("c1", "ABCD")
	r.BindLobby("c2", "ABCD")
	r.BindLobby("c3", "WXYZ")

	assert.Len(t, r.SinksForLobby("ABCD"), 2)
	assert.Equal(t, 2, r.CountForLobby("ABCD"))
	assert.Equal(t, 1, r.CountForLobby("WXYZ"))

	r.UnbindLobby("c2")
	assert.Len(t, r.SinksForLobby("ABCD"), 1)

	b, _ := r.Lookup("c2")
	assert.Empty(t, b.LobbyCode, "unbind keeps the connection registered")
}

func TestReleaseReturnsHeldBinding(t *testing.T) {
	r := New()
	user := uuid.New()
	r.Register("c1", user, &recordingSink{})
	r.BindLobby("c1", "ABCD")

	b, ok := r.Release("c1")
	require.True(t, ok)
	assert.Equal(t, "ABCD", b.LobbyCode)
	assert.Equal(t, user, b.UserID)

	_, ok = r.Release("c1")
	assert.False(t, ok)
	_, ok = r.SinkFor(user)
	assert.False(t, ok)
}

func TestReleaseOfStaleConnKeepsNewerUserBinding(t *testing.T) {
	r := New()
	user := uuid.New()
	r.Register("c1", user, &recordingSink{})
	r.Register("c2", user, &recordingSink{})

	// releasing the displaced socket must not evict the live one
	r.Release("c1")
	_, ok := r.SinkFor(user)
	assert.True(t, ok)
}

func TestStale(t *testing.T) {
	r := New()
	r.Register("c1", uuid.New(), &recordingSink{})

	assert.Empty(t, r.Stale(time.Minute))

	time.Sleep(15 * time.Millisecond)
	stale := r.Stale(5 * time.Millisecond)
	require.Len(t, stale, 1)
	assert.Equal(t, "c1", stale[0].ConnID)

	r.Touch("c1")
	assert.Empty(t, r.Stale(5*time.Millisecond))
}
