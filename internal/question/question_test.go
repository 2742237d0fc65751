package question

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchesNormalization(t *testing.T) {
	q := Question{CorrectAnswer: "Time To Live"}

	assert.True(t, Matches(q, "Time To Live"))
	assert.True(t, Matches(q, "time to live"))
	assert.True(t, Matches(q, "  TIME TO LIVE  "))
	assert.False(t, Matches(q, "time-to-live"))
	assert.False(t, Matches(q, ""))
}

type fakeRepo struct {
	qs  []Question
	err error
}

func (f *fakeRepo) RandomQuestions(ctx context.Context, category string, difficulty, n int) ([]Question, error) {
	return f.qs, f.err
}

func TestStoredPoolPrefersRepository(t *testing.T) {
	repo := &fakeRepo{qs: []Question{{Text: "from db", CorrectAnswer: "yes"}}}
	p := NewStoredPool(repo)

	q, err := p.Next(context.Background(), Request{Category: "general", Difficulty: 2})
	require.NoError(t, err)
	assert.Equal(t, "from db", q.Text)
	assert.Equal(t, SourceStored, q.Source)
}

func TestStoredPoolFallsBackOnRepoError(t *testing.T) {
	p := NewStoredPool(&fakeRepo{err: errors.New("db down")})

	q, err := p.Next(context.Background(), Request{})
	require.NoError(t, err, "the pool is the path of last resort")
	assert.NotEmpty(t, q.Text)
	assert.NotEmpty(t, q.CorrectAnswer)
	assert.Contains(t, q.Options, q.CorrectAnswer)
}

func TestStoredPoolBuiltinCycles(t *testing.T) {
	p := NewStoredPool(nil)
	ctx := context.Background()

	seen := make([]string, 0, len(builtinPool)+1)
	for i := 0; i <= len(builtinPool); i++ {
		q, err := p.Next(ctx, Request{Index: i})
		require.NoError(t, err)
		seen = append(seen, q.Text)
	}

	// consecutive draws differ, and the cycle wraps around
	assert.NotEqual(t, seen[0], seen[1])
	assert.Equal(t, seen[0], seen[len(builtinPool)])
}

type failingProvider struct{}

func (failingProvider) Next(ctx context.Context, req Request) (Question, error) {
	return Question{}, errors.New("rate limited")
}

type okProvider struct{ q Question }

func (p okProvider) Next(ctx context.Context, req Request) (Question, error) {
	return p.q, nil
}

func TestCompositeUsesPrimary(t *testing.T) {
	c := &Composite{
		Primary: okProvider{q: Question{Text: "ai made", Source: SourceAI}},
		Stored:  NewStoredPool(nil),
	}
	q, err := c.Next(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "ai made", q.Text)
}

func TestCompositeDegradesOnPrimaryFailure(t *testing.T) {
	c := &Composite{Primary: failingProvider{}, Stored: NewStoredPool(nil)}

	q, err := c.Next(context.Background(), Request{})
	require.NoError(t, err, "players never see an upstream failure")
	assert.Equal(t, SourceStored, q.Source)
}

func TestCompositeWithoutPrimary(t *testing.T) {
	c := &Composite{Stored: NewStoredPool(nil)}

	q, err := c.Next(context.Background(), Request{})
	require.NoError(t, err)
	assert.NotEmpty(t, q.Text)
}
