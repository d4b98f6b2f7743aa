package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"taskshare/api/internal/perm"
	"taskshare/api/internal/store"
)

const defaultListColor = "#3B82F6"

type CreateListInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       string `json:"color"`
}

type UpdateListInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Color       *string `json:"color"`
	IsArchived  *bool   `json:"isArchived"`
}

func (s *Service) CreateList(ctx context.Context, ident Identity, in CreateListInput) (store.TaskList, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return store.TaskList{}, invalid("title is required", nil)
	}
	if in.Color == "" {
		in.Color = defaultListColor
	}

	list, err := s.store.CreateList(ctx, ident.UserID, in.Title, in.Description, in.Color)
	if err != nil {
		return store.TaskList{}, err
	}
	list.Permission = perm.Owner.String()
	return list, nil
}

// GetLists returns the lists the caller owns or has been granted access
// to, each annotated with the caller's effective permission.
func (s *Service) GetLists(ctx context.Context, ident Identity) ([]store.TaskList, error) {
	lists, err := s.store.ListListsForUser(ctx, ident.UserID)
	if err != nil {
		return nil, err
	}
	for i := range lists {
		if lists[i].OwnerID == ident.UserID {
			lists[i].Permission = perm.Owner.String()
		} else {
			lists[i].Permission = perm.Parse(lists[i].SharePermission).String()
		}
	}
	return lists, nil
}

func (s *Service) GetList(ctx context.Context, ident Identity, listID string) (store.TaskList, []store.ListShare, error) {
	list, level, err := s.requirePermission(ctx, listID, ident.UserID, perm.Read)
	if err != nil {
		return store.TaskList{}, nil, err
	}
	list.Permission = level.String()

	shares, err := s.store.ListSharesForList(ctx, listID)
	if err != nil {
		return store.TaskList{}, nil, err
	}
	return list, shares, nil
}

func (s *Service) UpdateList(ctx context.Context, ident Identity, listID string, in UpdateListInput) (store.TaskList, error) {
	if _, _, err := s.requirePermission(ctx, listID, ident.UserID, perm.Write); err != nil {
		return store.TaskList{}, err
	}
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return store.TaskList{}, invalid("title cannot be empty", nil)
	}

	if err := s.store.UpdateList(ctx, listID, in.Title, in.Description, in.Color, in.IsArchived); err != nil {
		return store.TaskList{}, err
	}

	list, level, err := s.requirePermission(ctx, listID, ident.UserID, perm.Read)
	if err != nil {
		return store.TaskList{}, err
	}
	list.Permission = level.String()
	return list, nil
}

// DeleteList removes a list and everything under it. Owner only.
func (s *Service) DeleteList(ctx context.Context, ident Identity, listID string) error {
	_, _, err := s.requirePermission(ctx, listID, ident.UserID, perm.Owner)
	if err != nil {
		return err
	}

	taskIDs, err := s.store.ListTaskIDs(ctx, listID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteListCascade(ctx, listID); err != nil {
		return err
	}
	if s.search != nil {
		for _, id := range taskIDs {
			s.search.DeleteTask(id)
		}
	}
	return nil
}

type ShareListInput struct {
	Email      string `json:"email"`
	Permission string `json:"permission"`
}

// ShareList grants or updates a user's permission on a list. Owner
// only. Sharing twice with the same user overwrites the earlier grant.
func (s *Service) ShareList(ctx context.Context, ident Identity, listID string, in ShareListInput) (store.ListShare, error) {
	if _, _, err := s.requirePermission(ctx, listID, ident.UserID, perm.Owner); err != nil {
		return store.ListShare{}, err
	}

	if !perm.ValidShare(in.Permission) {
		return store.ListShare{}, invalid("permission must be READ or WRITE", nil)
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	grantee, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ListShare{}, invalid("user not found", nil)
	}
	if err != nil {
		return store.ListShare{}, err
	}
	if !grantee.IsActive {
		return store.ListShare{}, invalid("user not found", nil)
	}
	if grantee.ID == ident.UserID {
		return store.ListShare{}, invalid("cannot share a list with yourself", nil)
	}

	share, err := s.store.UpsertListShare(ctx, listID, grantee.ID, in.Permission)
	if err != nil {
		return store.ListShare{}, err
	}
	share.UserName = grantee.Name
	share.UserEmail = grantee.Email
	return share, nil
}

// UnshareList revokes a user's access. Owner only; revoking a share
// that does not exist is a no-op.
func (s *Service) UnshareList(ctx context.Context, ident Identity, listID, userID string) error {
	if _, _, err := s.requirePermission(ctx, listID, ident.UserID, perm.Owner); err != nil {
		return err
	}
	return s.store.DeleteListShare(ctx, listID, userID)
}
