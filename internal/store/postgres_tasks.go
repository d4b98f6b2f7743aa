package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskshare/api/internal/util"
)

// ErrTaskSetChanged is returned by ReorderTasks when the list's task
// membership changed between validation and the reorder transaction.
var ErrTaskSetChanged = errors.New("task set changed during reorder")

func (s *PostgresStore) CreateTask(ctx context.Context, listID, title, description, priority string, dueDate *time.Time, position int) (Task, error) {
	t := Task{
		ID:          util.NewID("tsk"),
		ListID:      listID,
		Title:       title,
		Description: description,
		Priority:    priority,
		DueDate:     dueDate,
		Position:    position,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tasks (id, list_id, title, description, priority, due_date, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, t.ID, t.ListID, t.Title, t.Description, t.Priority, t.DueDate, t.Position).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Task{}, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (Task, error) {
	var t Task
	err := s.db.QueryRowContext(ctx, `
		SELECT t.id, t.list_id, t.title, t.description, t.completed, t.priority,
			t.due_date, t.position, t.created_at, t.updated_at,
			(SELECT COUNT(*) FROM comments c WHERE c.task_id = t.id)
		FROM tasks t WHERE t.id = $1
	`, id).Scan(&t.ID, &t.ListID, &t.Title, &t.Description, &t.Completed, &t.Priority,
		&t.DueDate, &t.Position, &t.CreatedAt, &t.UpdatedAt, &t.CommentCount)
	if err != nil {
		return Task{}, err
	}
	return t, nil
}

// ListTasksByList returns the list's tasks, open tasks first, each
// group in position order.
func (s *PostgresStore) ListTasksByList(ctx context.Context, listID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.list_id, t.title, t.description, t.completed, t.priority,
			t.due_date, t.position, t.created_at, t.updated_at,
			(SELECT COUNT(*) FROM comments c WHERE c.task_id = t.id)
		FROM tasks t
		WHERE t.list_id = $1
		ORDER BY t.completed ASC, t.position ASC
	`, listID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []Task{}
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.ListID, &t.Title, &t.Description, &t.Completed, &t.Priority,
			&t.DueDate, &t.Position, &t.CreatedAt, &t.UpdatedAt, &t.CommentCount); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *PostgresStore) ListTaskIDs(ctx context.Context, listID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tasks WHERE list_id = $1`, listID)
	if err != nil {
		return nil, fmt.Errorf("list task ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan task id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) MaxTaskPosition(ctx context.Context, listID string) (int, error) {
	var max int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(position), 0) FROM tasks WHERE list_id = $1
	`, listID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max task position: %w", err)
	}
	return max, nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, id string, title, description, priority *string, completed *bool, dueDate *time.Time, clearDueDate bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			title = COALESCE($2, title),
			description = COALESCE($3, description),
			priority = COALESCE($4, priority),
			completed = COALESCE($5, completed),
			due_date = CASE WHEN $7 THEN NULL ELSE COALESCE($6, due_date) END,
			updated_at = NOW()
		WHERE id = $1
	`, id, title, description, priority, completed, dueDate, clearDueDate)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetTaskCompleted(ctx context.Context, id string, completed bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET completed = $2, updated_at = NOW() WHERE id = $1
	`, id, completed)
	if err != nil {
		return fmt.Errorf("set task completed: %w", err)
	}
	return nil
}

// DeleteTaskCascade removes a task and its comments in one transaction.
func (s *PostgresStore) DeleteTaskCascade(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete task: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE task_id = $1`, id); err != nil {
		return fmt.Errorf("delete task comments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return tx.Commit()
}

// ReorderTasks assigns positions 1..n following the order of taskIDs,
// all inside one transaction. Each UPDATE is constrained to the list;
// if any row no longer matches, the whole reorder rolls back with
// ErrTaskSetChanged so the caller can retry against fresh state.
func (s *PostgresStore) ReorderTasks(ctx context.Context, listID string, taskIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder: %w", err)
	}
	defer tx.Rollback()

	for i, id := range taskIDs {
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET position = $1, updated_at = NOW()
			WHERE id = $2 AND list_id = $3
		`, i+1, id, listID)
		if err != nil {
			return fmt.Errorf("reorder task %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("reorder task %s: %w", id, err)
		}
		if n != 1 {
			return ErrTaskSetChanged
		}
	}
	return tx.Commit()
}

// Comments

func (s *PostgresStore) CreateComment(ctx context.Context, taskID, userID, content string) (Comment, error) {
	c := Comment{
		ID:      util.NewID("cmt"),
		TaskID:  taskID,
		UserID:  userID,
		Content: content,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO comments (id, task_id, user_id, content)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, c.ID, c.TaskID, c.UserID, c.Content).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Comment{}, fmt.Errorf("create comment: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) GetComment(ctx context.Context, id string) (Comment, error) {
	var c Comment
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.task_id, c.user_id, c.content, c.created_at, c.updated_at,
			u.name, u.email, t.list_id
		FROM comments c
		JOIN users u ON u.id = c.user_id
		JOIN tasks t ON t.id = c.task_id
		WHERE c.id = $1
	`, id).Scan(&c.ID, &c.TaskID, &c.UserID, &c.Content, &c.CreatedAt, &c.UpdatedAt,
		&c.UserName, &c.UserEmail, &c.ListID)
	if err != nil {
		return Comment{}, err
	}
	return c, nil
}

func (s *PostgresStore) ListCommentsByTask(ctx context.Context, taskID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.task_id, c.user_id, c.content, c.created_at, c.updated_at,
			u.name, u.email, t.list_id
		FROM comments c
		JOIN users u ON u.id = c.user_id
		JOIN tasks t ON t.id = c.task_id
		WHERE c.task_id = $1
		ORDER BY c.created_at ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	comments := []Comment{}
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.UserID, &c.Content, &c.CreatedAt, &c.UpdatedAt,
			&c.UserName, &c.UserEmail, &c.ListID); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (s *PostgresStore) UpdateComment(ctx context.Context, id, content string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE comments SET content = $2, updated_at = NOW() WHERE id = $1
	`, id, content)
	if err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}
