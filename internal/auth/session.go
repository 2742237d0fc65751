package auth

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pbellew/quizlive/internal/quizerr"
)

// Identity is the authenticated (or guest) principal behind a connection.
type Identity struct {
	UserID      uuid.UUID
	DisplayName string
	Guest       bool
}

// Authority signs and verifies session tokens with a per-process ed25519
// key pair. Tokens from a previous process are invalid after restart,
// which is acceptable for session-scoped identities.
type Authority struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	expiry  time.Duration // 0 => tokens never expire
}

// NewAuthority generates a fresh key pair. Expiry of zero disables the
// exp claim entirely.
func NewAuthority(expiry time.Duration) (*Authority, error) {
	public, private, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key pair: %w", err)
	}
	return &Authority{private: private, public: public, expiry: expiry}, nil
}

// NewAuthorityFromFiles loads persisted keys so tokens verify across
// restarts and across instances sharing the key material. An empty
// privatePath yields a verify-only authority for deployments where an
// external service does the signing.
func NewAuthorityFromFiles(privatePath, publicPath string, expiry time.Duration) (*Authority, error) {
	pub, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d raw bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	a := &Authority{public: ed25519.PublicKey(pub), expiry: expiry}
	if privatePath != "" {
		priv, err := os.ReadFile(privatePath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		if len(priv) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("private key must be %d raw bytes, got %d", ed25519.PrivateKeySize, len(priv))
		}
		a.private = ed25519.PrivateKey(priv)
	}
	return a, nil
}

// CreateToken issues a signed token for the identity.
func (a *Authority) CreateToken(id Identity) (string, error) {
	if a.private == nil {
		return "", fmt.Errorf("authority is verify-only, no signing key loaded")
	}
	claims := jwt.MapClaims{
		"sub":   id.UserID.String(),
		"name":  id.DisplayName,
		"guest": id.Guest,
	}
	if a.expiry > 0 {
		claims["exp"] = time.Now().Add(a.expiry).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(a.private)
}

// Verify checks the signature and returns the embedded identity.
func (a *Authority) Verify(tokenString string) (Identity, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.public, nil
	})
	if err != nil {
		return Identity{}, quizerr.Wrap(quizerr.KindAuthorization, err, "token rejected")
	}
	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok || !t.Valid {
		return Identity{}, quizerr.Authorization("invalid token claims")
	}
	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return Identity{}, quizerr.Authorization("token missing subject")
	}
	name, _ := claims["name"].(string)
	guest, _ := claims["guest"].(bool)
	return Identity{UserID: userID, DisplayName: name, Guest: guest}, nil
}

// NewGuest mints an unauthenticated identity. Used when the deployment
// does not require sign-in; the display name falls back to a short form
// of the generated id.
func NewGuest(displayName string) Identity {
	id := uuid.New()
	if displayName == "" {
		displayName = "guest-" + id.String()[:8]
	}
	return Identity{UserID: id, DisplayName: displayName, Guest: true}
}
