package question

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Repository is the persistence boundary for stored questions. The pgx
// implementation lives in internal/database.
type Repository interface {
	RandomQuestions(ctx context.Context, category string, difficulty, n int) ([]Question, error)
}

// builtinPool guarantees a game can always proceed, even with no database
// and no AI key. Order is deterministic.
var builtinPool = []Question{
	{
		Text:          "Which HTTP method is idempotent by definition?",
		Options:       []string{"POST", "PUT", "PATCH", "CONNECT"},
		CorrectAnswer: "PUT",
		Difficulty:    1,
		Category:      "general",
		Source:        SourceStored,
	},
	{
		Text:          "What does TTL stand for in networking?",
		Options:       []string{"Time To Live", "Total Transfer Length", "Transport Tunnel Layer", "Time To Load"},
		CorrectAnswer: "Time To Live",
		Difficulty:    1,
		Category:      "general",
		Source:        SourceStored,
	},
	{
		Text:          "Which port does HTTPS use by default?",
		Options:       []string{"443", "80", "8080", "22"},
		CorrectAnswer: "443",
		Difficulty:    1,
		Category:      "general",
		Source:        SourceStored,
	},
	{
		Text:          "Which data structure gives O(1) average lookups by key?",
		Options:       []string{"Hash table", "Linked list", "Binary heap", "Stack"},
		CorrectAnswer: "Hash table",
		Difficulty:    2,
		Category:      "general",
		Source:        SourceStored,
	},
	{
		Text:          "In a pub/sub system, what delivers one message to many consumers?",
		Options:       []string{"Fanout", "Round robin", "Sharding", "Backpressure"},
		CorrectAnswer: "Fanout",
		Difficulty:    2,
		Category:      "general",
		Source:        SourceStored,
	},
	{
		Text:          "What consistency property do per-topic ordered deliveries provide?",
		Options:       []string{"FIFO ordering", "Linearizability", "Causal snapshots", "Exactly-once"},
		CorrectAnswer: "FIFO ordering",
		Difficulty:    3,
		Category:      "general",
		Source:        SourceStored,
	},
}

// StoredPool serves questions from the repository, falling back to the
// built-in set when the repository is absent or empty.
type StoredPool struct {
	repo Repository

	mu   sync.Mutex
	next int
}

// NewStoredPool wraps repo; repo may be nil.
func NewStoredPool(repo Repository) *StoredPool {
	return &StoredPool{repo: repo}
}

// Next implements Provider. Repository errors are absorbed here: the pool is
// the path of last resort and must not fail.
func (p *StoredPool) Next(ctx context.Context, req Request) (Question, error) {
	if p.repo != nil {
		qs, err := p.repo.RandomQuestions(ctx, req.Category, req.Difficulty, 1)
		if err != nil {
			log.WithError(err).Warn("stored question fetch failed, using builtin pool")
		} else if len(qs) > 0 {
			q := qs[0]
			q.Source = SourceStored
			return q, nil
		}
	}

	p.mu.Lock()
	q := builtinPool[p.next%len(builtinPool)]
	p.next++
	p.mu.Unlock()
	return q, nil
}

// Composite tries the primary provider and degrades to the stored pool on
// any failure. Players never see an upstream error.
type Composite struct {
	Primary Provider // may be nil when no AI key is configured
	Stored  *StoredPool
}

// Next implements Provider.
func (c *Composite) Next(ctx context.Context, req Request) (Question, error) {
	if c.Primary != nil {
		q, err := c.Primary.Next(ctx, req)
		if err == nil {
			return q, nil
		}
		log.WithError(err).Warn("primary question source failed, falling back")
	}
	return c.Stored.Next(ctx, req)
}
