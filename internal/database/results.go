package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pbellew/quizlive/internal/events"
)

// ResultRepo records final standings of finished games. The engine treats
// this as best-effort history; a write failure never blocks game flow.
type ResultRepo struct {
	pool *pgxpool.Pool
}

func NewResultRepo(pool *pgxpool.Pool) *ResultRepo {
	return &ResultRepo{pool: pool}
}

// SaveResult inserts one row per ranked player for the finished game.
func (r *ResultRepo) SaveResult(ctx context.Context, lobbyCode string, standings []events.LeaderboardEntry) error {
	q := `
		INSERT INTO game_results (lobby_code, user_id, rank, score, finished_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	now := time.Now()
	for _, entry := range standings {
		if _, err := r.pool.Exec(ctx, q, lobbyCode, entry.UserID, entry.Rank, entry.Score, now); err != nil {
			return fmt.Errorf("insert game result: %w", err)
		}
	}
	return nil
}
