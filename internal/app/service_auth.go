package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"taskshare/api/internal/auth"
	"taskshare/api/internal/store"
	"taskshare/api/internal/util"
)

func (s *Service) signingSecret() []byte {
	return []byte(s.cfg.JWTSecret)
}

// Session is the payload returned by register and login.
type Session struct {
	User         store.User
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Identity is the authenticated caller extracted from an access token.
type Identity struct {
	UserID    string
	Email     string
	JTI       string
	ExpiresAt time.Time
}

func (s *Service) Register(ctx context.Context, name, email, password string) (Session, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))

	if name == "" {
		return Session{}, invalid("name is required", nil)
	}
	if email == "" || !strings.Contains(email, "@") {
		return Session{}, invalid("a valid email is required", nil)
	}
	if len(password) < 8 {
		return Session{}, invalid("password must be at least 8 characters", nil)
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return Session{}, conflict("Email already registered", nil)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return Session{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.CreateUser(ctx, name, email, string(hash))
	if err != nil {
		if store.IsUniqueViolation(err) {
			return Session{}, conflict("Email already registered", nil)
		}
		return Session{}, err
	}

	return s.issueSession(ctx, user)
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, unauthenticated("Invalid email or password")
	}
	if err != nil {
		return Session{}, err
	}
	if !user.IsActive {
		return Session{}, unauthenticated("Invalid email or password")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return Session{}, unauthenticated("Invalid email or password")
	}

	return s.issueSession(ctx, user)
}

// issueSession mints an access/refresh pair and stores the refresh
// token, displacing any previous session for the user.
func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	jti := util.NewID("jti")
	expiresAt := time.Now().Add(s.cfg.AccessTTL)

	accessToken, err := auth.IssueAccessToken(s.signingSecret(), user.ID, user.Email, jti, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}
	refreshToken, err := auth.IssueRefreshToken(s.signingSecret(), user.ID, user.Email, s.cfg.RefreshTTL)
	if err != nil {
		return Session{}, err
	}

	if err := s.store.ReplaceRefreshToken(ctx, user.ID, refreshToken, time.Now().Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

// RefreshSession rotates the refresh token and returns a fresh access
// token. Every failure mode maps to the same REFRESH_INVALID response
// so a stolen token leaks nothing about why it stopped working. When
// two refreshes race on one token, the conditional rotate admits
// exactly one winner.
func (s *Service) RefreshSession(ctx context.Context, token string) (string, error) {
	claims, err := auth.ParseToken(s.signingSecret(), token)
	if err != nil {
		return "", expiredOrRevoked()
	}
	if claims.TokenType != auth.TypeRefresh {
		return "", expiredOrRevoked()
	}

	stored, err := s.store.GetRefreshToken(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", expiredOrRevoked()
	}
	if err != nil {
		return "", err
	}
	if time.Now().After(stored.ExpiresAt) {
		return "", expiredOrRevoked()
	}

	user, err := s.store.GetUserByID(ctx, stored.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", expiredOrRevoked()
	}
	if err != nil {
		return "", err
	}
	if !user.IsActive {
		return "", expiredOrRevoked()
	}

	newRefresh, err := auth.IssueRefreshToken(s.signingSecret(), user.ID, user.Email, s.cfg.RefreshTTL)
	if err != nil {
		return "", err
	}
	if err := s.store.RotateRefreshToken(ctx, token, newRefresh, time.Now().Add(s.cfg.RefreshTTL)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", expiredOrRevoked()
		}
		return "", err
	}

	jti := util.NewID("jti")
	return auth.IssueAccessToken(s.signingSecret(), user.ID, user.Email, jti, s.cfg.AccessTTL)
}

// Logout drops the user's refresh tokens and revokes the presented
// access token for its remaining lifetime.
func (s *Service) Logout(ctx context.Context, ident Identity) error {
	if err := s.store.DeleteRefreshTokensForUser(ctx, ident.UserID); err != nil {
		return err
	}
	return s.revoker.Revoke(ctx, ident.JTI, time.Until(ident.ExpiresAt))
}

type Profile struct {
	User        store.User
	OwnedLists  int
	SharedLists int
}

func (s *Service) Profile(ctx context.Context, ident Identity) (Profile, error) {
	user, err := s.store.GetUserByID(ctx, ident.UserID)
	if err != nil {
		return Profile{}, err
	}
	owned, shared, err := s.store.UserProfileCounts(ctx, ident.UserID)
	if err != nil {
		return Profile{}, err
	}
	return Profile{User: user, OwnedLists: owned, SharedLists: shared}, nil
}

// SessionFromToken validates an access token and returns the caller's
// identity. Refresh tokens are rejected here; they only buy new access
// tokens, never direct API access.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Identity, error) {
	claims, err := auth.ParseToken(s.signingSecret(), token)
	if err != nil {
		return Identity{}, err
	}
	if claims.TokenType != auth.TypeAccess {
		return Identity{}, auth.ErrInvalidToken
	}

	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return Identity{}, err
	}
	if revoked {
		return Identity{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Identity{}, err
	}
	if !user.IsActive {
		return Identity{}, auth.ErrInvalidToken
	}

	return Identity{
		UserID:    user.ID,
		Email:     user.Email,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
