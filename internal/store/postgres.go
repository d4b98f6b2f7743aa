package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"taskshare/api/internal/util"
)

// PostgresStore implements persistence over database/sql. Cascading
// deletes are performed explicitly inside transactions so that the
// schema never deletes rows the application did not ask for.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Users

func (s *PostgresStore) CreateUser(ctx context.Context, name, email, passwordHash string) (User, error) {
	u := User{
		ID:           util.NewID("usr"),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		IsActive:     true,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, name, email, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, u.ID, u.Name, u.Email, u.PasswordHash).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, is_active, created_at, updated_at
		FROM users WHERE email = $1
	`, email).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, is_active, created_at, updated_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// UserProfileCounts returns how many lists the user owns and how many
// are shared with them.
func (s *PostgresStore) UserProfileCounts(ctx context.Context, userID string) (owned, shared int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM task_lists WHERE owner_id = $1),
			(SELECT COUNT(*) FROM list_shares WHERE user_id = $1)
	`, userID).Scan(&owned, &shared)
	if err != nil {
		return 0, 0, fmt.Errorf("profile counts: %w", err)
	}
	return owned, shared, nil
}

// Lists

func (s *PostgresStore) CreateList(ctx context.Context, ownerID, title, description, color string) (TaskList, error) {
	l := TaskList{
		ID:          util.NewID("lst"),
		Title:       title,
		Description: description,
		Color:       color,
		OwnerID:     ownerID,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO task_lists (id, title, description, color, owner_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, l.ID, l.Title, l.Description, l.Color, l.OwnerID).Scan(&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return TaskList{}, fmt.Errorf("create list: %w", err)
	}
	return l, nil
}

const listColumns = `
	l.id, l.title, l.description, l.color, l.is_archived, l.owner_id,
	l.created_at, l.updated_at,
	u.name, u.email,
	(SELECT COUNT(*) FROM tasks t WHERE t.list_id = l.id),
	(SELECT COUNT(*) FROM list_shares ls WHERE ls.list_id = l.id)`

func scanList(row interface{ Scan(...any) error }, l *TaskList, sharePerm *sql.NullString) error {
	dest := []any{
		&l.ID, &l.Title, &l.Description, &l.Color, &l.IsArchived, &l.OwnerID,
		&l.CreatedAt, &l.UpdatedAt,
		&l.OwnerName, &l.OwnerEmail,
		&l.TaskCount, &l.ShareCount,
	}
	if sharePerm != nil {
		dest = append(dest, sharePerm)
	}
	return row.Scan(dest...)
}

func (s *PostgresStore) GetList(ctx context.Context, id string) (TaskList, error) {
	var l TaskList
	row := s.db.QueryRowContext(ctx, `
		SELECT`+listColumns+`
		FROM task_lists l
		JOIN users u ON u.id = l.owner_id
		WHERE l.id = $1
	`, id)
	if err := scanList(row, &l, nil); err != nil {
		return TaskList{}, err
	}
	return l, nil
}

// ListListsForUser returns non-archived lists the user owns or has a
// share on, most recently updated first. The caller's share permission
// (if any) is joined into SharePermission.
func (s *PostgresStore) ListListsForUser(ctx context.Context, userID string) ([]TaskList, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT`+listColumns+`,
			my.permission
		FROM task_lists l
		JOIN users u ON u.id = l.owner_id
		LEFT JOIN list_shares my ON my.list_id = l.id AND my.user_id = $1
		WHERE l.is_archived = FALSE
		  AND (l.owner_id = $1 OR my.user_id IS NOT NULL)
		ORDER BY l.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	defer rows.Close()

	lists := []TaskList{}
	for rows.Next() {
		var l TaskList
		var perm sql.NullString
		if err := scanList(rows, &l, &perm); err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		l.SharePermission = perm.String
		lists = append(lists, l)
	}
	return lists, rows.Err()
}

func (s *PostgresStore) UpdateList(ctx context.Context, id string, title, description, color *string, isArchived *bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE task_lists SET
			title = COALESCE($2, title),
			description = COALESCE($3, description),
			color = COALESCE($4, color),
			is_archived = COALESCE($5, is_archived),
			updated_at = NOW()
		WHERE id = $1
	`, id, title, description, color, isArchived)
	if err != nil {
		return fmt.Errorf("update list: %w", err)
	}
	return nil
}

// DeleteListCascade removes a list together with its tasks, comments
// and shares in a single transaction.
func (s *PostgresStore) DeleteListCascade(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete list: %w", err)
	}
	defer tx.Rollback()

	steps := []string{
		`DELETE FROM comments WHERE task_id IN (SELECT id FROM tasks WHERE list_id = $1)`,
		`DELETE FROM tasks WHERE list_id = $1`,
		`DELETE FROM list_shares WHERE list_id = $1`,
		`DELETE FROM task_lists WHERE id = $1`,
	}
	for _, q := range steps {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("delete list cascade: %w", err)
		}
	}
	return tx.Commit()
}

// Shares

func (s *PostgresStore) GetListShare(ctx context.Context, listID, userID string) (ListShare, error) {
	var sh ListShare
	err := s.db.QueryRowContext(ctx, `
		SELECT id, list_id, user_id, permission, created_at
		FROM list_shares WHERE list_id = $1 AND user_id = $2
	`, listID, userID).Scan(&sh.ID, &sh.ListID, &sh.UserID, &sh.Permission, &sh.CreatedAt)
	if err != nil {
		return ListShare{}, err
	}
	return sh, nil
}

// UpsertListShare grants or overwrites a user's permission on a list.
func (s *PostgresStore) UpsertListShare(ctx context.Context, listID, userID, permission string) (ListShare, error) {
	sh := ListShare{
		ID:         util.NewID("shr"),
		ListID:     listID,
		UserID:     userID,
		Permission: permission,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO list_shares (id, list_id, user_id, permission)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (list_id, user_id)
		DO UPDATE SET permission = EXCLUDED.permission
		RETURNING id, created_at
	`, sh.ID, sh.ListID, sh.UserID, sh.Permission).Scan(&sh.ID, &sh.CreatedAt)
	if err != nil {
		return ListShare{}, fmt.Errorf("upsert share: %w", err)
	}
	return sh, nil
}

func (s *PostgresStore) DeleteListShare(ctx context.Context, listID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM list_shares WHERE list_id = $1 AND user_id = $2
	`, listID, userID)
	if err != nil {
		return fmt.Errorf("delete share: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSharesForList(ctx context.Context, listID string) ([]ListShare, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sh.id, sh.list_id, sh.user_id, sh.permission, sh.created_at, u.name, u.email
		FROM list_shares sh
		JOIN users u ON u.id = sh.user_id
		WHERE sh.list_id = $1
		ORDER BY sh.created_at ASC
	`, listID)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()

	shares := []ListShare{}
	for rows.Next() {
		var sh ListShare
		if err := rows.Scan(&sh.ID, &sh.ListID, &sh.UserID, &sh.Permission, &sh.CreatedAt, &sh.UserName, &sh.UserEmail); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		shares = append(shares, sh)
	}
	return shares, rows.Err()
}

// Refresh tokens

// ReplaceRefreshToken drops all of the user's refresh tokens and
// stores a new one, keeping a single active session per user.
func (s *PostgresStore) ReplaceRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace refresh token: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("purge refresh tokens: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token, expires_at)
		VALUES ($1, $2, $3, $4)
	`, util.NewID("rft"), userID, token, expiresAt); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) GetRefreshToken(ctx context.Context, token string) (RefreshToken, error) {
	var rt RefreshToken
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, token, expires_at, created_at
		FROM refresh_tokens WHERE token = $1
	`, token).Scan(&rt.ID, &rt.UserID, &rt.Token, &rt.ExpiresAt, &rt.CreatedAt)
	if err != nil {
		return RefreshToken{}, err
	}
	return rt, nil
}

// RotateRefreshToken atomically swaps oldToken for newToken. When two
// refreshes race on the same token, exactly one UPDATE matches a row;
// the loser gets sql.ErrNoRows.
func (s *PostgresStore) RotateRefreshToken(ctx context.Context, oldToken, newToken string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET token = $2, expires_at = $3, created_at = NOW()
		WHERE token = $1
	`, oldToken, newToken, expiresAt)
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteRefreshTokensForUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete refresh tokens: %w", err)
	}
	return nil
}
