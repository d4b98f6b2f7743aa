package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"taskshare/api/internal/perm"
	"taskshare/api/internal/store"
)

func (s *Service) CreateComment(ctx context.Context, ident Identity, taskID, content string) (store.Comment, error) {
	if _, err := s.getTaskWithPermission(ctx, ident, taskID, perm.Read); err != nil {
		return store.Comment{}, err
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return store.Comment{}, invalid("content is required", nil)
	}

	comment, err := s.store.CreateComment(ctx, taskID, ident.UserID, content)
	if err != nil {
		return store.Comment{}, err
	}
	comment.UserEmail = ident.Email
	return comment, nil
}

func (s *Service) GetCommentsByTask(ctx context.Context, ident Identity, taskID string) ([]store.Comment, error) {
	if _, err := s.getTaskWithPermission(ctx, ident, taskID, perm.Read); err != nil {
		return nil, err
	}
	return s.store.ListCommentsByTask(ctx, taskID)
}

// getCommentWithPermission loads a comment and enforces list access
// first, so a caller without access learns nothing about the comment's
// existence.
func (s *Service) getCommentWithPermission(ctx context.Context, ident Identity, commentID string) (store.Comment, perm.Level, error) {
	comment, err := s.store.GetComment(ctx, commentID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Comment{}, perm.None, notFound("Comment not found", "comment_missing")
	}
	if err != nil {
		return store.Comment{}, perm.None, err
	}

	_, level, err := s.requirePermission(ctx, comment.ListID, ident.UserID, perm.Read)
	if err != nil {
		return store.Comment{}, perm.None, err
	}
	return comment, level, nil
}

// UpdateComment edits a comment's content. Author only, even for the
// list owner.
func (s *Service) UpdateComment(ctx context.Context, ident Identity, commentID, content string) (store.Comment, error) {
	comment, _, err := s.getCommentWithPermission(ctx, ident, commentID)
	if err != nil {
		return store.Comment{}, err
	}
	if comment.UserID != ident.UserID {
		return store.Comment{}, accessDenied("Only the author can edit a comment")
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return store.Comment{}, invalid("content is required", nil)
	}

	if err := s.store.UpdateComment(ctx, commentID, content); err != nil {
		return store.Comment{}, err
	}
	return s.store.GetComment(ctx, commentID)
}

// DeleteComment removes a comment. Allowed for the comment's author
// and for the list's owner.
func (s *Service) DeleteComment(ctx context.Context, ident Identity, commentID string) error {
	comment, level, err := s.getCommentWithPermission(ctx, ident, commentID)
	if err != nil {
		return err
	}
	if comment.UserID != ident.UserID && level != perm.Owner {
		return accessDenied("Only the author or the list owner can delete a comment")
	}
	return s.store.DeleteComment(ctx, commentID)
}
