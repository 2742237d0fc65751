package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pbellew/quizlive/internal/question"
)

// QuestionRepo serves the stored fallback question pool.
type QuestionRepo struct {
	pool *pgxpool.Pool
}

func NewQuestionRepo(pool *pgxpool.Pool) *QuestionRepo {
	return &QuestionRepo{pool: pool}
}

// RandomQuestions returns up to n stored questions for the category and
// difficulty. Category "general" matches any row.
func (r *QuestionRepo) RandomQuestions(ctx context.Context, category string, difficulty, n int) ([]question.Question, error) {
	q := `
		SELECT text, options, correct_answer, difficulty, category
		FROM questions
		WHERE difficulty = $1 AND ($2 = 'general' OR category = $2)
		ORDER BY random()
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, q, difficulty, category, n)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	var out []question.Question
	for rows.Next() {
		var item question.Question
		if err := rows.Scan(&item.Text, &item.Options, &item.CorrectAnswer, &item.Difficulty, &item.Category); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		item.Source = question.SourceStored
		out = append(out, item)
	}
	return out, rows.Err()
}
