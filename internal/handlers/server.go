package handlers

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pbellew/quizlive/internal/auth"
	"github.com/pbellew/quizlive/internal/cache"
	"github.com/pbellew/quizlive/internal/config"
	"github.com/pbellew/quizlive/internal/fanout"
	"github.com/pbellew/quizlive/internal/game"
	"github.com/pbellew/quizlive/internal/lobby"
	"github.com/pbellew/quizlive/internal/middleware"
	"github.com/pbellew/quizlive/internal/registry"
)

// Server holds every collaborator the HTTP and websocket surfaces need.
// One instance per process; all lobby-scoped state lives behind the
// manager and coordinator.
type Server struct {
	cfg      *config.Config
	log      *logrus.Logger
	auth     *auth.Authority
	lobbies  *lobby.Manager
	games    *game.Coordinator
	fan      fanout.Fanout
	registry *registry.Registry

	// snapshots, when configured, answers status queries for lobbies
	// hosted by other instances.
	snapshots *cache.Snapshots

	// dropTimers delays removal of disconnected players so brief network
	// blips do not evict them mid-game.
	dropTimers *game.Scheduler

	mu     sync.Mutex
	relays map[string]*relay

	sweepStop chan struct{}
	sweepDone chan struct{}
}

func NewServer(cfg *config.Config, log *logrus.Logger, authority *auth.Authority, lobbies *lobby.Manager, games *game.Coordinator, fan fanout.Fanout, reg *registry.Registry) *Server {
	s := &Server{
		cfg:        cfg,
		log:        log,
		auth:       authority,
		lobbies:    lobbies,
		games:      games,
		fan:        fan,
		registry:   reg,
		dropTimers: game.NewScheduler(),
		relays:     make(map[string]*relay),
		sweepStop:  make(chan struct{}),
		sweepDone:  make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// sweepLoop retires bindings whose connection goroutines stopped making
// progress without unwinding. Healthy connections are touched on every
// read and on every answered ping, so they never trip the grace cutoff.
func (s *Server) sweepLoop() {
	defer close(s.sweepDone)
	ticker := time.NewTicker(s.cfg.DisconnectGrace / 2)
	defer ticker.Stop()
	for {
		select {
		case <-s.sweepStop:
			return
		case <-ticker.C:
			for _, b := range s.registry.Stale(s.cfg.DisconnectGrace) {
				if _, ok := s.registry.Release(b.ConnID); !ok {
					continue
				}
				s.log.WithFields(logrus.Fields{"conn": b.ConnID, "user": b.UserID}).Warn("retiring stale connection")
				if b.LobbyCode != "" {
					s.retireBinding(b)
				}
			}
		}
	}
}

// SetSnapshotCache enables cross-instance lobby status answers.
func (s *Server) SetSnapshotCache(c *cache.Snapshots) { s.snapshots = c }

// Routes builds the full HTTP surface, middleware included.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session", s.CreateSessionHandler)
	mux.HandleFunc("POST /api/lobbies", s.CreateLobbyHandler)
	mux.HandleFunc("GET /api/lobbies/{code}", s.LobbyStatusHandler)
	mux.HandleFunc("POST /api/lobbies/{code}/join", s.JoinLobbyHandler)
	mux.HandleFunc("POST /api/lobbies/{code}/leave", s.LeaveLobbyHandler)
	mux.HandleFunc("POST /api/lobbies/{code}/start", s.StartGameHandler)
	mux.HandleFunc("GET /ws", s.WebsocketHandler)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	var h http.Handler = mux
	h = middleware.Logging(s.log)(h)
	h = middleware.Recover(s.log)(h)
	return h
}

// OnLobbyTeardown is wired as the lobby manager's teardown hook: cancel
// any running game and stop the fanout relay for the code.
func (s *Server) OnLobbyTeardown(code string) {
	s.games.Close(code)
	s.stopRelay(code)
}

// Shutdown stops the stale sweeper and all relays. In-flight websocket
// handlers unwind via their request contexts.
func (s *Server) Shutdown() {
	close(s.sweepStop)
	<-s.sweepDone

	s.mu.Lock()
	relays := make([]*relay, 0, len(s.relays))
	for _, r := range s.relays {
		relays = append(relays, r)
	}
	s.relays = make(map[string]*relay)
	s.mu.Unlock()
	for _, r := range relays {
		r.stop()
	}
}

// relay pumps a lobby's fanout subscription into every local websocket
// bound to that lobby. One per lobby code per process.
type relay struct {
	code   string
	cancel context.CancelFunc
	done   chan struct{}
}

func (r *relay) stop() {
	r.cancel()
	<-r.done
}

// ensureRelay starts the lobby's relay if it is not already running.
func (s *Server) ensureRelay(code string) error {
	code = strings.ToUpper(code)
	s.mu.Lock()
	if _, ok := s.relays[code]; ok {
		s.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := s.fan.Subscribe(ctx, code)
	if err != nil {
		cancel()
		s.mu.Unlock()
		return err
	}
	r := &relay{code: code, cancel: cancel, done: make(chan struct{})}
	s.relays[code] = r
	s.mu.Unlock()

	go func() {
		defer close(r.done)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				for _, sink := range s.registry.SinksForLobby(code) {
					if !sink.Send(ev) {
						s.log.WithField("code", code).Warn("dropping event for slow client")
					}
				}
			}
		}
	}()
	return nil
}

func (s *Server) stopRelay(code string) {
	code = strings.ToUpper(code)
	s.mu.Lock()
	r := s.relays[code]
	delete(s.relays, code)
	s.mu.Unlock()
	if r != nil {
		r.stop()
	}
}
