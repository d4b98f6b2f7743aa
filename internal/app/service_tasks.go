package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"taskshare/api/internal/perm"
	"taskshare/api/internal/search"
	"taskshare/api/internal/store"
)

var allowedPriorities = map[string]bool{
	"LOW":    true,
	"MEDIUM": true,
	"HIGH":   true,
	"URGENT": true,
}

type CreateTaskInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"dueDate"`
	Position    *int       `json:"position"`
}

type UpdateTaskInput struct {
	Title        *string    `json:"title"`
	Description  *string    `json:"description"`
	Priority     *string    `json:"priority"`
	Completed    *bool      `json:"completed"`
	DueDate      *time.Time `json:"dueDate"`
	ClearDueDate bool       `json:"clearDueDate"`
}

func (s *Service) CreateTask(ctx context.Context, ident Identity, listID string, in CreateTaskInput) (store.Task, error) {
	if _, _, err := s.requirePermission(ctx, listID, ident.UserID, perm.Write); err != nil {
		return store.Task{}, err
	}

	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return store.Task{}, invalid("title is required", nil)
	}
	if in.Priority == "" {
		in.Priority = "MEDIUM"
	}
	if !allowedPriorities[in.Priority] {
		return store.Task{}, invalid("priority must be LOW, MEDIUM, HIGH or URGENT", nil)
	}

	position := 0
	if in.Position != nil {
		position = *in.Position
	} else {
		max, err := s.store.MaxTaskPosition(ctx, listID)
		if err != nil {
			return store.Task{}, err
		}
		position = max + 1
	}

	task, err := s.store.CreateTask(ctx, listID, in.Title, in.Description, in.Priority, in.DueDate, position)
	if err != nil {
		return store.Task{}, err
	}
	s.indexTask(task)
	return task, nil
}

// GetTasksByList returns the list's tasks, open before completed, each
// group in position order.
func (s *Service) GetTasksByList(ctx context.Context, ident Identity, listID string) ([]store.Task, error) {
	if _, _, err := s.requirePermission(ctx, listID, ident.UserID, perm.Read); err != nil {
		return nil, err
	}
	return s.store.ListTasksByList(ctx, listID)
}

func (s *Service) GetTask(ctx context.Context, ident Identity, taskID string) (store.Task, error) {
	return s.getTaskWithPermission(ctx, ident, taskID, perm.Read)
}

// getTaskWithPermission loads a task and enforces the caller's
// permission on its parent list. A task in a hidden list is reported
// as missing.
func (s *Service) getTaskWithPermission(ctx context.Context, ident Identity, taskID string, min perm.Level) (store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Task{}, notFound("Task not found", "task_missing")
	}
	if err != nil {
		return store.Task{}, err
	}
	if _, _, err := s.requirePermission(ctx, task.ListID, ident.UserID, min); err != nil {
		return store.Task{}, err
	}
	return task, nil
}

func (s *Service) UpdateTask(ctx context.Context, ident Identity, taskID string, in UpdateTaskInput) (store.Task, error) {
	if _, err := s.getTaskWithPermission(ctx, ident, taskID, perm.Write); err != nil {
		return store.Task{}, err
	}

	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return store.Task{}, invalid("title cannot be empty", nil)
	}
	if in.Priority != nil && !allowedPriorities[*in.Priority] {
		return store.Task{}, invalid("priority must be LOW, MEDIUM, HIGH or URGENT", nil)
	}

	if err := s.store.UpdateTask(ctx, taskID, in.Title, in.Description, in.Priority, in.Completed, in.DueDate, in.ClearDueDate); err != nil {
		return store.Task{}, err
	}

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	s.indexTask(task)
	return task, nil
}

// ToggleTask flips the task's completed flag.
func (s *Service) ToggleTask(ctx context.Context, ident Identity, taskID string) (store.Task, error) {
	task, err := s.getTaskWithPermission(ctx, ident, taskID, perm.Write)
	if err != nil {
		return store.Task{}, err
	}

	if err := s.store.SetTaskCompleted(ctx, taskID, !task.Completed); err != nil {
		return store.Task{}, err
	}

	task, err = s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	s.indexTask(task)
	return task, nil
}

func (s *Service) DeleteTask(ctx context.Context, ident Identity, taskID string) error {
	if _, err := s.getTaskWithPermission(ctx, ident, taskID, perm.Write); err != nil {
		return err
	}
	if err := s.store.DeleteTaskCascade(ctx, taskID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteTask(taskID)
	}
	return nil
}

// ReorderTasks repositions every task in the list following taskIDs.
// The submitted set must match the list's current membership exactly:
// no omissions, no strangers, no duplicates. A concurrent membership
// change between validation and commit rolls back with a retryable
// conflict; concurrent full reorders serialize on row locks and the
// last committed order wins.
func (s *Service) ReorderTasks(ctx context.Context, ident Identity, listID string, taskIDs []string) ([]store.Task, error) {
	if _, _, err := s.requirePermission(ctx, listID, ident.UserID, perm.Write); err != nil {
		return nil, err
	}

	current, err := s.store.ListTaskIDs(ctx, listID)
	if err != nil {
		return nil, err
	}
	if len(taskIDs) != len(current) {
		return nil, invalid("taskIds must contain every task in the list exactly once", nil)
	}
	known := make(map[string]bool, len(current))
	for _, id := range current {
		known[id] = true
	}
	seen := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		if !known[id] {
			return nil, invalid("taskIds must contain every task in the list exactly once", nil)
		}
		if seen[id] {
			return nil, invalid("taskIds must contain every task in the list exactly once", nil)
		}
		seen[id] = true
	}

	if err := s.store.ReorderTasks(ctx, listID, taskIDs); err != nil {
		if errors.Is(err, store.ErrTaskSetChanged) {
			return nil, conflict("List changed during reorder, retry with fresh state", nil)
		}
		return nil, err
	}

	return s.store.ListTasksByList(ctx, listID)
}

// SearchTasks runs a full-text search over the tasks in every list the
// caller can read.
func (s *Service) SearchTasks(ctx context.Context, ident Identity, text string, limit, offset int) (search.Response, error) {
	lists, err := s.store.ListListsForUser(ctx, ident.UserID)
	if err != nil {
		return search.Response{}, err
	}
	listIDs := make([]string, 0, len(lists))
	for _, l := range lists {
		listIDs = append(listIDs, l.ID)
	}

	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:    text,
		ListIDs: listIDs,
		Limit:   limit,
		Offset:  offset,
	}), nil
}

func (s *Service) indexTask(task store.Task) {
	if s.search == nil {
		return
	}
	s.search.IndexTask(search.TaskRecord{
		ID:          task.ID,
		ListID:      task.ListID,
		Title:       task.Title,
		Description: task.Description,
		Priority:    task.Priority,
		Completed:   task.Completed,
	})
}
