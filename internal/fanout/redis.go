package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/pbellew/quizlive/internal/events"
	"github.com/pbellew/quizlive/internal/quizerr"
)

// Redis is the production Fanout over Redis pub/sub. Topic naming follows
// lobby:{CODE}:events; Redis guarantees per-channel delivery order, which
// carries the per-topic ordering contract.
type Redis struct {
	rdb *redis.Client

	mu  sync.Mutex
	seq map[string]uint64
}

// NewRedis connects a client and verifies it with a bounded ping.
func NewRedis(addr string, db int) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis at %s: %w", addr, err)
	}
	return &Redis{rdb: rdb, seq: make(map[string]uint64)}, nil
}

func channelFor(code string) string {
	return fmt.Sprintf("lobby:%s:events", strings.ToUpper(code))
}

// Publish implements Fanout. Transient failures are retried with bounded
// exponential backoff; persistent failure surfaces as a transport error.
func (r *Redis) Publish(ctx context.Context, code string, ev events.Envelope) error {
	ev.LobbyCode = strings.ToUpper(code)
	ev.Seq = r.nextSeq(ev.LobbyCode)

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	channel := channelFor(code)
	op := func() (struct{}, error) {
		return struct{}{}, r.rdb.Publish(ctx, channel, data).Err()
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	if _, err := backoff.Retry(ctx, op, backoff.WithBackOff(bo), backoff.WithMaxTries(4)); err != nil {
		return quizerr.Transport(err, "publish to %s", channel)
	}
	return nil
}

// Subscribe implements Fanout.
func (r *Redis) Subscribe(ctx context.Context, code string) (Subscription, error) {
	channel := channelFor(code)
	ps := r.rdb.Subscribe(ctx, channel)
	// Force the subscription onto the wire before returning so callers do
	// not miss events published immediately after.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, quizerr.Transport(err, "subscribe to %s", channel)
	}

	sub := &redisSub{ps: ps, out: make(chan events.Envelope, subscriptionBuffer)}
	go sub.pump(channel)
	return sub, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) nextSeq(code string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq[code]++
	return r.seq[code]
}

type redisSub struct {
	ps  *redis.PubSub
	out chan events.Envelope

	closeOnce sync.Once
}

func (s *redisSub) pump(channel string) {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		var ev events.Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.WithError(err).WithField("channel", channel).Warn("dropping undecodable fanout message")
			continue
		}
		select {
		case s.out <- ev:
		default:
			log.WithField("channel", channel).Warn("slow fanout subscriber, dropping event")
		}
	}
}

func (s *redisSub) Events() <-chan events.Envelope { return s.out }

func (s *redisSub) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.ps.Close() })
	return err
}
