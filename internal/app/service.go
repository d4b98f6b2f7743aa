package app

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"taskshare/api/internal/config"
	"taskshare/api/internal/perm"
	"taskshare/api/internal/search"
	"taskshare/api/internal/store"
)

// dataStore is the persistence surface the service needs. Satisfied by
// store.PostgresStore in production and a func-field fake in tests.
type dataStore interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, name, email, passwordHash string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	UserProfileCounts(ctx context.Context, userID string) (owned, shared int, err error)

	CreateList(ctx context.Context, ownerID, title, description, color string) (store.TaskList, error)
	GetList(ctx context.Context, id string) (store.TaskList, error)
	ListListsForUser(ctx context.Context, userID string) ([]store.TaskList, error)
	UpdateList(ctx context.Context, id string, title, description, color *string, isArchived *bool) error
	DeleteListCascade(ctx context.Context, id string) error

	GetListShare(ctx context.Context, listID, userID string) (store.ListShare, error)
	UpsertListShare(ctx context.Context, listID, userID, permission string) (store.ListShare, error)
	DeleteListShare(ctx context.Context, listID, userID string) error
	ListSharesForList(ctx context.Context, listID string) ([]store.ListShare, error)

	CreateTask(ctx context.Context, listID, title, description, priority string, dueDate *time.Time, position int) (store.Task, error)
	GetTask(ctx context.Context, id string) (store.Task, error)
	ListTasksByList(ctx context.Context, listID string) ([]store.Task, error)
	ListTaskIDs(ctx context.Context, listID string) ([]string, error)
	MaxTaskPosition(ctx context.Context, listID string) (int, error)
	UpdateTask(ctx context.Context, id string, title, description, priority *string, completed *bool, dueDate *time.Time, clearDueDate bool) error
	SetTaskCompleted(ctx context.Context, id string, completed bool) error
	DeleteTaskCascade(ctx context.Context, id string) error
	ReorderTasks(ctx context.Context, listID string, taskIDs []string) error

	CreateComment(ctx context.Context, taskID, userID, content string) (store.Comment, error)
	GetComment(ctx context.Context, id string) (store.Comment, error)
	ListCommentsByTask(ctx context.Context, taskID string) ([]store.Comment, error)
	UpdateComment(ctx context.Context, id, content string) error
	DeleteComment(ctx context.Context, id string) error

	ReplaceRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	GetRefreshToken(ctx context.Context, token string) (store.RefreshToken, error)
	RotateRefreshToken(ctx context.Context, oldToken, newToken string, expiresAt time.Time) error
	DeleteRefreshTokensForUser(ctx context.Context, userID string) error
}

// revocationStore tracks access token IDs invalidated before their
// natural expiry. Optional; a nil-safe no-op is used when Redis is not
// configured.
type revocationStore interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

type noopRevocationStore struct{}

func (noopRevocationStore) Revoke(context.Context, string, time.Duration) error { return nil }
func (noopRevocationStore) IsRevoked(context.Context, string) (bool, error)     { return false, nil }

type Service struct {
	cfg     config.Config
	store   dataStore
	revoker revocationStore
	search  *search.Service
}

func New(cfg config.Config, st dataStore, searchSvc *search.Service) *Service {
	return &Service{cfg: cfg, store: st, revoker: noopRevocationStore{}, search: searchSvc}
}

func NewWithRevocationStore(cfg config.Config, st dataStore, searchSvc *search.Service, revoker revocationStore) *Service {
	s := New(cfg, st, searchSvc)
	if revoker != nil {
		s.revoker = revoker
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// resolvePermission computes the caller's effective permission on a
// list. A missing list and a list the caller has no access to both
// surface later as the same NOT_FOUND response; only Reason differs.
func (s *Service) resolvePermission(ctx context.Context, listID, userID string) (store.TaskList, perm.Level, error) {
	list, err := s.store.GetList(ctx, listID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.TaskList{}, perm.None, notFound("List not found", "list_missing")
	}
	if err != nil {
		return store.TaskList{}, perm.None, err
	}

	if list.OwnerID == userID {
		return list, perm.Owner, nil
	}

	share, err := s.store.GetListShare(ctx, listID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return list, perm.None, nil
	}
	if err != nil {
		return store.TaskList{}, perm.None, err
	}
	return list, perm.Parse(share.Permission), nil
}

// requirePermission resolves the caller's permission and enforces a
// minimum. No access at all is reported as NOT_FOUND with the same
// body as a missing list; insufficient (but non-zero) access is a
// FORBIDDEN.
func (s *Service) requirePermission(ctx context.Context, listID, userID string, min perm.Level) (store.TaskList, perm.Level, error) {
	list, level, err := s.resolvePermission(ctx, listID, userID)
	if err != nil {
		return store.TaskList{}, perm.None, err
	}
	if level == perm.None {
		return store.TaskList{}, perm.None, notFound("List not found", "no_access")
	}
	if !level.AtLeast(min) {
		return store.TaskList{}, level, accessDenied("Insufficient permission")
	}
	return list, level, nil
}
