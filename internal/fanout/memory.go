package fanout

import (
	"context"
	"strings"
	"sync"

	"github.com/pbellew/quizlive/internal/events"
)

// Memory is an in-process Fanout used by tests and single-instance runs.
// It preserves per-topic publish order and mirrors the Redis behavior of
// dropping events for subscribers that stop draining.
type Memory struct {
	mu     sync.Mutex
	topics map[string]*memTopic
	closed bool
}

type memTopic struct {
	seq  uint64
	subs []*memSub
}

func NewMemory() *Memory {
	return &Memory{topics: make(map[string]*memTopic)}
}

// Publish implements Fanout.
func (m *Memory) Publish(_ context.Context, code string, ev events.Envelope) error {
	code = strings.ToUpper(code)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	t := m.topic(code)
	t.seq++
	ev.LobbyCode = code
	ev.Seq = t.seq
	for _, s := range t.subs {
		select {
		case s.out <- ev:
		default:
			// Slow subscriber; drop rather than block the publisher.
		}
	}
	return nil
}

// Subscribe implements Fanout.
func (m *Memory) Subscribe(_ context.Context, code string) (Subscription, error) {
	code = strings.ToUpper(code)

	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.topic(code)
	s := &memSub{
		owner: m,
		code:  code,
		out:   make(chan events.Envelope, subscriptionBuffer),
	}
	t.subs = append(t.subs, s)
	return s, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, t := range m.topics {
		for _, s := range t.subs {
			close(s.out)
		}
		t.subs = nil
	}
	return nil
}

// topic assumes m.mu is held.
func (m *Memory) topic(code string) *memTopic {
	t, ok := m.topics[code]
	if !ok {
		t = &memTopic{}
		m.topics[code] = t
	}
	return t
}

type memSub struct {
	owner *Memory
	code  string
	out   chan events.Envelope

	closeOnce sync.Once
}

func (s *memSub) Events() <-chan events.Envelope { return s.out }

func (s *memSub) Close() error {
	s.closeOnce.Do(func() {
		s.owner.mu.Lock()
		defer s.owner.mu.Unlock()
		if s.owner.closed {
			return
		}
		t := s.owner.topic(s.code)
		for i, sub := range t.subs {
			if sub == s {
				t.subs = append(t.subs[:i], t.subs[i+1:]...)
				break
			}
		}
		close(s.out)
	})
	return nil
}
