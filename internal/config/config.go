// Package config loads process configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/pbellew/quizlive/internal/quizerr"
)

// Config is the full configuration surface. Defaults keep a bare process
// runnable against local Redis with the built-in question pool.
type Config struct {
	Port int `env:"QUIZLIVE_PORT" envDefault:"8080"`

	// Lobby behavior.
	MinPlayersToStart    int `env:"MIN_PLAYERS_TO_START" envDefault:"1"`
	MaxPlayersPerLobby   int `env:"MAX_PLAYERS_PER_LOBBY" envDefault:"20"`
	DefaultQuestionTimer int `env:"DEFAULT_QUESTION_TIMER_SECONDS" envDefault:"30"`
	QuestionsPerGame     int `env:"QUESTIONS_PER_GAME" envDefault:"5"`
	RevealSeconds        int `env:"REVEAL_SECONDS" envDefault:"5"`
	LobbyCodeLength      int `env:"LOBBY_CODE_LENGTH" envDefault:"4"`

	// A connection silent past DisconnectGrace is treated as gone; the
	// player record survives until PlayerDropAfter so quick reconnects keep
	// their game position.
	DisconnectGrace time.Duration `env:"DISCONNECT_GRACE" envDefault:"45s"`
	PlayerDropAfter time.Duration `env:"PLAYER_DROP_AFTER" envDefault:"2m"`

	// With RequireAuthentication on, guest minting is disabled and every
	// caller must present a token verifiable against AuthPublicKeyFile, so
	// a shared or external issuer's keys must be on disk. Both paths set
	// also lets tokens survive process restarts.
	RequireAuthentication bool   `env:"REQUIRE_AUTHENTICATION" envDefault:"false"`
	AuthPrivateKeyFile    string `env:"AUTH_PRIVATE_KEY_FILE"`
	AuthPublicKeyFile     string `env:"AUTH_PUBLIC_KEY_FILE"`

	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Optional; empty disables the persistent question pool and history.
	DatabaseURL string `env:"DATABASE_URL"`

	// Optional; empty forces the stored-fallback question path.
	OpenAIAPIKey string `env:"OPENAI_API_KEY"`
	OpenAIModel  string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
}

// Load parses the environment and validates cross-field constraints.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, quizerr.Wrap(quizerr.KindValidation, err, "parse env")
	}
	if cfg.MinPlayersToStart < 1 {
		return Config{}, quizerr.Validation("MIN_PLAYERS_TO_START must be >= 1")
	}
	if cfg.MinPlayersToStart > cfg.MaxPlayersPerLobby {
		return Config{}, quizerr.Validation("MIN_PLAYERS_TO_START exceeds MAX_PLAYERS_PER_LOBBY")
	}
	if cfg.DefaultQuestionTimer < 5 {
		return Config{}, quizerr.Validation("DEFAULT_QUESTION_TIMER_SECONDS must be >= 5")
	}
	if cfg.LobbyCodeLength < 4 || cfg.LobbyCodeLength > 10 {
		return Config{}, quizerr.Validation("LOBBY_CODE_LENGTH must be between 4 and 10")
	}
	if cfg.DisconnectGrace <= 0 || cfg.PlayerDropAfter <= 0 {
		return Config{}, quizerr.Validation("DISCONNECT_GRACE and PLAYER_DROP_AFTER must be positive")
	}
	if cfg.RequireAuthentication && cfg.AuthPublicKeyFile == "" {
		return Config{}, quizerr.Validation("REQUIRE_AUTHENTICATION needs AUTH_PUBLIC_KEY_FILE to verify issued tokens")
	}
	if cfg.AuthPrivateKeyFile != "" && cfg.AuthPublicKeyFile == "" {
		return Config{}, quizerr.Validation("AUTH_PRIVATE_KEY_FILE requires AUTH_PUBLIC_KEY_FILE")
	}
	return cfg, nil
}
