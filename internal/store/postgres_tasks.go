package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const taskColumns = `id, title, description, status, priority, project_id, assignee_id, creator_id, due_date, position, created_at, updated_at`

func scanTask(row rowScanner) (Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.ProjectID, &t.AssigneeID, &t.CreatorID, &t.DueDate, &t.Position, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (s *PostgresStore) InsertTask(ctx context.Context, task Task) (Task, error) {
	status := task.Status
	if status == "" {
		status = TaskTodo
	}
	priority := task.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	inserted, err := scanTask(s.db.QueryRowContext(ctx, `
		INSERT INTO tasks (title, description, status, priority, project_id, assignee_id, creator_id, due_date, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+taskColumns,
		task.Title, task.Description, string(status), string(priority), task.ProjectID, task.AssigneeID, task.CreatorID, task.DueDate, task.Position))
	if err != nil {
		return Task{}, translate("insert task", err)
	}
	return inserted, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	task, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, taskID))
	if err != nil {
		return Task{}, translate("get task", err)
	}
	return task, nil
}

func (s *PostgresStore) MaxPosition(ctx context.Context, projectID string) (int, error) {
	var max int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), -1) FROM tasks WHERE project_id=$1`, projectID).Scan(&max)
	if err != nil {
		return 0, translate("max task position", err)
	}
	return max, nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, taskID, actorID string, patch TaskUpdate) (Task, error) {
	var status, priority *string
	if patch.Status != nil {
		value := string(*patch.Status)
		status = &value
	}
	if patch.Priority != nil {
		value := string(*patch.Priority)
		priority = &value
	}
	task, err := scanTask(s.db.QueryRowContext(ctx, `
		UPDATE tasks t SET
			title = COALESCE($3, t.title),
			description = COALESCE($4, t.description),
			status = COALESCE($5, t.status),
			priority = COALESCE($6, t.priority),
			assignee_id = CASE WHEN $7 THEN NULL ELSE COALESCE($8::uuid, t.assignee_id) END,
			due_date = CASE WHEN $9 THEN NULL ELSE COALESCE($10, t.due_date) END,
			position = COALESCE($11, t.position),
			updated_at = NOW()
		WHERE t.id = $1 AND (t.creator_id = $2 OR t.assignee_id = $2)
		RETURNING `+taskColumns,
		taskID, actorID, patch.Title, patch.Description, status, priority,
		patch.ClearAssignee, patch.AssigneeID, patch.ClearDueDate, patch.DueDate, patch.Position))
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, s.forbiddenOrMissing(ctx, "update task", `SELECT 1 FROM tasks WHERE id=$1`, taskID)
	}
	if err != nil {
		return Task{}, translate("update task", err)
	}
	return task, nil
}

func (s *PostgresStore) MoveTask(ctx context.Context, taskID, actorID string, status TaskStatus, position int) (Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, translate("begin move task", err)
	}
	defer func() { _ = tx.Rollback() }()

	var projectID string
	err = tx.QueryRowContext(ctx, `
		SELECT project_id FROM tasks
		WHERE id=$1 AND (creator_id=$2 OR assignee_id=$2)
		FOR UPDATE
	`, taskID, actorID).Scan(&projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, s.forbiddenOrMissing(ctx, "move task", `SELECT 1 FROM tasks WHERE id=$1`, taskID)
	}
	if err != nil {
		return Task{}, translate("lock task", err)
	}

	// The position constraint is deferred, so the shift may collide
	// transiently inside the transaction.
	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks SET position = position + 1
		WHERE project_id=$1 AND position >= $2 AND id <> $3
	`, projectID, position, taskID); err != nil {
		return Task{}, translate("shift task positions", err)
	}
	moved, err := scanTask(tx.QueryRowContext(ctx, `
		UPDATE tasks SET status=$2, position=$3, updated_at=NOW()
		WHERE id=$1
		RETURNING `+taskColumns, taskID, string(status), position))
	if err != nil {
		return Task{}, translate("move task", err)
	}
	if err := tx.Commit(); err != nil {
		return Task{}, translate("commit move task", err)
	}
	return moved, nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, taskID, actorID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1 AND creator_id=$2`, taskID, actorID)
	if err != nil {
		return translate("delete task", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return s.forbiddenOrMissing(ctx, "delete task", `SELECT 1 FROM tasks WHERE id=$1`, taskID)
	}
	return nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, projectID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE project_id=$1
		ORDER BY position, id
	`, projectID)
	if err != nil {
		return nil, translate("list tasks", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		item, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

const activityColumns = `id, actor_id, project_id, task_id, action, description, metadata, created_at`

func scanActivity(row rowScanner) (ActivityEntry, error) {
	var entry ActivityEntry
	var metadataRaw []byte
	if err := row.Scan(&entry.ID, &entry.ActorID, &entry.ProjectID, &entry.TaskID, &entry.Action, &entry.Description, &metadataRaw, &entry.CreatedAt); err != nil {
		return ActivityEntry{}, err
	}
	entry.Metadata = map[string]any{}
	_ = json.Unmarshal(metadataRaw, &entry.Metadata)
	return entry, nil
}

func (s *PostgresStore) LogActivity(ctx context.Context, entry ActivityEntry) (ActivityEntry, error) {
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return ActivityEntry{}, fmt.Errorf("marshal activity metadata: %w", err)
	}
	logged, err := scanActivity(s.db.QueryRowContext(ctx, `
		SELECT `+activityColumns+`
		FROM log_activity($1, $2, $3, $4, $5, $6::jsonb)
	`, entry.ActorID, entry.Action, entry.Description, entry.ProjectID, entry.TaskID, string(encoded)))
	if err != nil {
		return ActivityEntry{}, translate("log activity", err)
	}
	return logged, nil
}

// ListActivities returns newest first. Without a project filter the feed is
// every entry of a project visible to the user plus the user's own entries
// whose project was deleted.
func (s *PostgresStore) ListActivities(ctx context.Context, filter ActivityFilter) ([]ActivityEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+activityColumns+`
		FROM activity_logs a
		WHERE ($2 = '' AND (
				a.project_id IN (SELECT id FROM get_user_projects(NULLIF($1, '')::uuid))
				OR (a.project_id IS NULL AND a.actor_id::text = $1)
			))
		   OR ($2 <> '' AND a.project_id::text = $2)
		ORDER BY a.created_at DESC, a.id
		LIMIT $3
	`, filter.UserID, filter.ProjectID, limit)
	if err != nil {
		return nil, translate("list activities", err)
	}
	defer rows.Close()

	items := make([]ActivityEntry, 0)
	for rows.Next() {
		item, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	return items, nil
}
