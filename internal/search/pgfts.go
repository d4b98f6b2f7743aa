package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search queries the tasks table with plainto_tsquery, ranked by
// ts_rank and restricted to the caller's lists.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || len(q.ListIDs) == 0 {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM tasks t
		WHERE t.fts @@ plainto_tsquery('english', $1)
		  AND t.list_id = ANY($2)
	`, q.Text, q.ListIDs).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT t.id, t.list_id, t.title,
			ts_headline('english', coalesce(t.description, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			t.priority, t.completed
		FROM tasks t
		WHERE t.fts @@ plainto_tsquery('english', $1)
		  AND t.list_id = ANY($2)
		ORDER BY ts_rank(t.fts, plainto_tsquery('english', $1)) DESC
		LIMIT %d OFFSET %d`, limit, offset), q.Text, q.ListIDs)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.ListID, &r.Title, &r.Snippet, &r.Priority, &r.Completed); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all tasks for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]TaskRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, list_id, title, description, priority, completed
		FROM tasks
	`)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]TaskRecord, 0)
	for rows.Next() {
		var t TaskRecord
		if err := rows.Scan(&t.ID, &t.ListID, &t.Title, &t.Description, &t.Priority, &t.Completed); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	return tasks, nil
}
