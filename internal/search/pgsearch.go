package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgSearch implements Searcher with PostgreSQL full-text search over tasks.
type PgSearch struct {
	db *sql.DB
}

func NewPgSearch(db *sql.DB) *PgSearch {
	return &PgSearch{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgSearch) Healthy() bool {
	return true
}

const taskDocument = `to_tsvector('english', t.title || ' ' || coalesce(t.description, ''))`

func (p *PgSearch) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || len(q.ProjectIDs) == 0 {
		return nil, 0, nil
	}

	where := taskDocument + ` @@ plainto_tsquery('english', $1) AND t.project_id::text = ANY($2)`
	args := []any{q.Text, q.ProjectIDs}
	if q.Status != "" {
		where += ` AND t.status = $3`
		args = append(args, q.Status)
	}

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM tasks t WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgsearch count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT t.id, t.title,
			ts_headline('english', coalesce(t.description, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30'),
			t.project_id, t.status, t.priority
		FROM tasks t
		WHERE %s
		ORDER BY ts_rank(%s, plainto_tsquery('english', $1)) DESC, t.updated_at DESC
		LIMIT %d OFFSET %d`, where, taskDocument, q.limit(), q.offset()), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgsearch query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.ProjectID, &r.Status, &r.Priority); err != nil {
			return nil, 0, fmt.Errorf("pgsearch scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every task for full reindexing.
func (p *PgSearch) LoadAllRecords(ctx context.Context) ([]TaskRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, project_id, status, priority, EXTRACT(EPOCH FROM updated_at)::bigint
		FROM tasks
	`)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	defer rows.Close()

	records := make([]TaskRecord, 0)
	for rows.Next() {
		var r TaskRecord
		if err := rows.Scan(&r.ID, &r.Title, &r.Description, &r.ProjectID, &r.Status, &r.Priority, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return records, nil
}
