package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/pbellew/quizlive/internal/auth"
	"github.com/pbellew/quizlive/internal/cache"
	"github.com/pbellew/quizlive/internal/config"
	"github.com/pbellew/quizlive/internal/database"
	"github.com/pbellew/quizlive/internal/fanout"
	"github.com/pbellew/quizlive/internal/game"
	"github.com/pbellew/quizlive/internal/handlers"
	"github.com/pbellew/quizlive/internal/lobby"
	"github.com/pbellew/quizlive/internal/question"
	"github.com/pbellew/quizlive/internal/registry"
)

const (
	tokenExpiry = 72 * time.Hour
	snapshotTTL = time.Hour
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logger.SetLevel(lvl)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("configuration invalid")
	}

	// Redis fanout keeps lobbies consistent across instances; without it
	// the process runs standalone on the in-memory fanout.
	var fan fanout.Fanout
	var snapshots *cache.Snapshots
	if rf, err := fanout.NewRedis(cfg.RedisAddr, cfg.RedisDB); err != nil {
		logger.WithError(err).Warn("redis unavailable, running single-instance fanout")
		fan = fanout.NewMemory()
	} else {
		fan = rf
		if snapshots, err = cache.NewSnapshots(cfg.RedisAddr, cfg.RedisDB, snapshotTTL); err != nil {
			logger.WithError(err).Warn("snapshot cache unavailable")
		} else {
			defer snapshots.Close()
		}
	}
	defer fan.Close()

	stored := question.NewStoredPool(nil)
	var results *database.ResultRepo
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			logger.WithError(err).Fatal("database connect failed")
		}
		defer pool.Close()
		stored = question.NewStoredPool(database.NewQuestionRepo(pool))
		results = database.NewResultRepo(pool)
	}

	provider := &question.Composite{Stored: stored}
	var ai *question.AIClient
	if cfg.OpenAIAPIKey != "" {
		ai = question.NewAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		provider.Primary = ai
	} else {
		logger.Info("no OpenAI key configured, serving stored questions only")
	}

	// Keys on disk let tokens from a shared or external issuer verify
	// here; without them each process signs for itself, which is only
	// viable when guests can mint sessions locally.
	var authority *auth.Authority
	if cfg.AuthPublicKeyFile != "" {
		authority, err = auth.NewAuthorityFromFiles(cfg.AuthPrivateKeyFile, cfg.AuthPublicKeyFile, tokenExpiry)
		if err != nil {
			logger.WithError(err).Fatal("loading signing keys failed")
		}
		logger.WithField("public_key", cfg.AuthPublicKeyFile).Info("verifying tokens against persisted key")
	} else {
		authority, err = auth.NewAuthority(tokenExpiry)
		if err != nil {
			logger.WithError(err).Fatal("key generation failed")
		}
	}

	manager := lobby.NewManager(cfg, fan, logger)
	if snapshots != nil {
		manager.SetSnapshotSink(snapshots)
	}
	coord := game.NewCoordinator(manager, fan, game.NewScheduler(), provider,
		time.Duration(cfg.RevealSeconds)*time.Second, logger)
	if ai != nil {
		coord.SetEvaluator(ai)
	}
	if results != nil {
		coord.SetResultRecorder(results)
	}
	manager.SetStarter(coord.Start)

	srv := handlers.NewServer(&cfg, logger, authority, manager, coord, fan, registry.New())
	if snapshots != nil {
		srv.SetSnapshotCache(snapshots)
	}
	manager.SetOnTeardown(srv.OnLobbyTeardown)

	httpServer := &http.Server{
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	l, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		logger.WithError(err).Fatal("listen failed")
	}
	logger.WithField("addr", l.Addr().String()).Info("quizlive listening")

	errc := make(chan error, 1)
	go func() {
		errc <- httpServer.Serve(l)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errc:
		logger.WithError(err).Error("server exited")
	case sig := <-sigs:
		logger.WithField("signal", sig.String()).Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("graceful shutdown incomplete")
	}
	srv.Shutdown()

	// Lobbies hosted here die with the process; drop their cached
	// snapshots so other instances stop answering for them.
	if snapshots != nil {
		for _, code := range manager.Codes() {
			if err := snapshots.Delete(ctx, code); err != nil {
				logger.WithError(err).WithField("code", code).Debug("snapshot cleanup failed")
			}
		}
	}
}
