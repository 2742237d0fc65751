// Package cache keeps lobby snapshots in Redis with a TTL so any server
// instance can answer a status query for a lobby it does not host.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pbellew/quizlive/internal/events"
	"github.com/pbellew/quizlive/internal/quizerr"
)

// Snapshots is a write-through projection store keyed by lobby code.
type Snapshots struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSnapshots(addr string, db int, ttl time.Duration) (*Snapshots, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Snapshots{rdb: rdb, ttl: ttl}, nil
}

func keyFor(code string) string {
	return "lobby:" + strings.ToUpper(code) + ":state"
}

// Put stores the snapshot, refreshing the TTL.
func (s *Snapshots) Put(ctx context.Context, snap events.LobbySnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, keyFor(snap.Code), data, s.ttl).Err(); err != nil {
		return quizerr.Wrap(quizerr.KindTransport, err, "snapshot write failed")
	}
	return nil
}

// Get returns the stored snapshot; a missing or expired key is NotFound.
func (s *Snapshots) Get(ctx context.Context, code string) (events.LobbySnapshot, error) {
	data, err := s.rdb.Get(ctx, keyFor(code)).Bytes()
	if err == redis.Nil {
		return events.LobbySnapshot{}, quizerr.NotFound("lobby %s not found", strings.ToUpper(code))
	}
	if err != nil {
		return events.LobbySnapshot{}, quizerr.Wrap(quizerr.KindTransport, err, "snapshot read failed")
	}
	var snap events.LobbySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return events.LobbySnapshot{}, quizerr.Wrap(quizerr.KindTransport, err, "snapshot decode failed")
	}
	return snap, nil
}

// Delete removes the snapshot on lobby teardown.
func (s *Snapshots) Delete(ctx context.Context, code string) error {
	return s.rdb.Del(ctx, keyFor(code)).Err()
}

func (s *Snapshots) Close() error { return s.rdb.Close() }
