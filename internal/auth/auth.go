package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"beacon/internal/content"
	"beacon/internal/models"

	"github.com/c-pro/geche"
)

const (
	DefaultTokenExpiry = 12 * time.Hour
)

type Config struct {
	Secret      string        `json:"secret"`
	secretBytes []byte        `json:"-"`
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

// TokenResponse is returned to the caller that requested a token for a user.
type TokenResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	UserID      string `json:"userId,omitempty"`
	Token       string `json:"token,omitempty"`
	TokenExpiry int64  `json:"tokenExpiry,omitempty"`
}

// AuthService is the handshake collaborator: it issues opaque tokens and
// resolves them back to user ids. Only token hashes are kept in memory.
type AuthService struct {
	Config
	liveTokens geche.Geche[string, string]
	userTokens *geche.Locker[string, []string]
	now        func() time.Time
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}

	var err error
	c.secretBytes, err = base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		return fmt.Errorf("auth secret is not a valid base64: %w", err)
	}

	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}

	return nil
}

func NewAuthService(ctx context.Context, config Config) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &AuthService{
		Config:     config,
		liveTokens: geche.NewMapTTLCache[string, string](ctx, config.TokenExpiry, time.Minute),
		userTokens: geche.NewLocker[string, []string](geche.NewMapCache[string, []string]()),
		now:        time.Now,
	}, nil
}

func (as *AuthService) hashToken(token string) string {
	h := hmac.New(sha512.New, as.secretBytes)
	h.Write([]byte(token))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// IssueToken creates a new token for userID.
func (as *AuthService) IssueToken(userID string) (TokenResponse, error) {
	if err := content.ValidateID(userID); err != nil {
		return TokenResponse{Success: false, Message: err.Error()}, fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}

	token, err := as.generateToken()
	if err != nil {
		slog.Error("token generation failed", "user_id", userID, "error", err)
		return TokenResponse{Success: false, Message: "internal error"}, err
	}

	hash := as.hashToken(token)
	as.liveTokens.Set(hash, userID)

	tx := as.userTokens.Lock()
	hashes, _ := tx.Get(userID)
	// Drop hashes of tokens that expired or were revoked one by one.
	hashes = slices.DeleteFunc(slices.Clone(hashes), func(h string) bool {
		_, err := as.liveTokens.Get(h)
		return err != nil
	})
	tx.Set(userID, append(hashes, hash))
	tx.Unlock()

	return TokenResponse{
		Success:     true,
		UserID:      userID,
		Token:       token,
		TokenExpiry: as.now().Add(as.TokenExpiry).Unix(),
	}, nil
}

func (as *AuthService) generateToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GetUserID resolves a live token.
func (as *AuthService) GetUserID(token string) (string, error) {
	if token == "" {
		return "", models.ErrUnauthenticated
	}
	userID, err := as.liveTokens.Get(as.hashToken(token))
	if err != nil {
		return "", fmt.Errorf("%w: unknown or expired token", models.ErrUnauthenticated)
	}
	return userID, nil
}

// Revoke invalidates a single token.
func (as *AuthService) Revoke(token string) error {
	return as.liveTokens.Del(as.hashToken(token))
}

// RevokeUser invalidates every token issued to userID and returns how many were live.
func (as *AuthService) RevokeUser(userID string) int {
	tx := as.userTokens.Lock()
	defer tx.Unlock()

	hashes, err := tx.Get(userID)
	if err != nil {
		return 0
	}
	revoked := 0
	for _, h := range hashes {
		if _, err := as.liveTokens.Get(h); err == nil {
			revoked++
		}
		_ = as.liveTokens.Del(h)
	}
	_ = tx.Del(userID)
	return revoked
}
