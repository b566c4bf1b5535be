package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"orbit/api/internal/store"
)

func (s *Store) InsertTask(_ context.Context, task store.Task) (store.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[task.ProjectID]; !ok {
		return store.Task{}, notFound("insert task")
	}
	for _, existing := range s.tasks {
		if existing.ProjectID == task.ProjectID && existing.Position == task.Position {
			return store.Task{}, fmt.Errorf("insert task: %w: tasks_project_position_key", store.ErrConflict)
		}
	}
	if task.Status == "" {
		task.Status = store.TaskTodo
	}
	if task.Priority == "" {
		task.Priority = store.PriorityMedium
	}
	task.ID = uuid.NewString()
	task.CreatedAt = s.stamp()
	task.UpdatedAt = task.CreatedAt
	s.tasks[task.ID] = task
	return task, nil
}

func (s *Store) GetTask(_ context.Context, taskID string) (store.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return store.Task{}, notFound("get task")
	}
	return task, nil
}

func (s *Store) MaxPosition(_ context.Context, projectID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxPositionLocked(projectID), nil
}

func (s *Store) maxPositionLocked(projectID string) int {
	max := -1
	for _, task := range s.tasks {
		if task.ProjectID == projectID && task.Position > max {
			max = task.Position
		}
	}
	return max
}

func canEditTask(task store.Task, actorID string) bool {
	return task.CreatorID == actorID || (task.AssigneeID != nil && *task.AssigneeID == actorID)
}

func (s *Store) UpdateTask(_ context.Context, taskID, actorID string, patch store.TaskUpdate) (store.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return store.Task{}, notFound("update task")
	}
	if !canEditTask(task, actorID) {
		return store.Task{}, fmt.Errorf("update task: %w", store.ErrForbidden)
	}
	if patch.Position != nil && *patch.Position != task.Position {
		for id, other := range s.tasks {
			if id != taskID && other.ProjectID == task.ProjectID && other.Position == *patch.Position {
				return store.Task{}, fmt.Errorf("update task: %w: tasks_project_position_key", store.ErrConflict)
			}
		}
		task.Position = *patch.Position
	}
	if patch.Title != nil {
		task.Title = *patch.Title
	}
	if patch.Description != nil {
		task.Description = *patch.Description
	}
	if patch.Status != nil {
		task.Status = *patch.Status
	}
	if patch.Priority != nil {
		task.Priority = *patch.Priority
	}
	if patch.ClearAssignee {
		task.AssigneeID = nil
	} else if patch.AssigneeID != nil {
		assignee := *patch.AssigneeID
		task.AssigneeID = &assignee
	}
	if patch.ClearDueDate {
		task.DueDate = nil
	} else if patch.DueDate != nil {
		due := *patch.DueDate
		task.DueDate = &due
	}
	task.UpdatedAt = s.stamp()
	s.tasks[taskID] = task
	return task, nil
}

func (s *Store) MoveTask(_ context.Context, taskID, actorID string, status store.TaskStatus, position int) (store.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return store.Task{}, notFound("move task")
	}
	if !canEditTask(task, actorID) {
		return store.Task{}, fmt.Errorf("move task: %w", store.ErrForbidden)
	}
	for id, other := range s.tasks {
		if id != taskID && other.ProjectID == task.ProjectID && other.Position >= position {
			other.Position++
			s.tasks[id] = other
		}
	}
	task.Status = status
	task.Position = position
	task.UpdatedAt = s.stamp()
	s.tasks[taskID] = task
	return task, nil
}

func (s *Store) DeleteTask(_ context.Context, taskID, actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return notFound("delete task")
	}
	if task.CreatorID != actorID {
		return fmt.Errorf("delete task: %w", store.ErrForbidden)
	}
	delete(s.tasks, taskID)
	for i, entry := range s.activity {
		if entry.TaskID != nil && *entry.TaskID == taskID {
			s.activity[i].TaskID = nil
		}
	}
	return nil
}

func (s *Store) ListTasks(_ context.Context, projectID string) ([]store.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]store.Task, 0)
	for _, task := range s.tasks {
		if task.ProjectID == projectID {
			items = append(items, task)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Position != items[j].Position {
			return items[i].Position < items[j].Position
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

// LogActivity mirrors log_activity(): default metadata is merged under the
// caller's keys.
func (s *Store) LogActivity(_ context.Context, entry store.ActivityEntry) (store.ActivityEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[entry.ActorID]; !ok {
		return store.ActivityEntry{}, notFound("log activity")
	}
	if entry.ProjectID != nil {
		if _, ok := s.projects[*entry.ProjectID]; !ok {
			return store.ActivityEntry{}, notFound("log activity")
		}
	}
	if entry.TaskID != nil {
		if _, ok := s.tasks[*entry.TaskID]; !ok {
			return store.ActivityEntry{}, notFound("log activity")
		}
	}

	entry.ID = uuid.NewString()
	entry.CreatedAt = s.stamp()
	metadata := map[string]any{
		"source":    "orbit",
		"logged_at": entry.CreatedAt.Format(time.RFC3339Nano),
	}
	for k, v := range entry.Metadata {
		metadata[k] = v
	}
	entry.Metadata = metadata
	s.activity = append(s.activity, entry)
	return entry, nil
}

func (s *Store) ListActivities(_ context.Context, filter store.ActivityFilter) ([]store.ActivityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	visible := s.visibleLocked(filter.UserID)

	items := make([]store.ActivityEntry, 0)
	for i := len(s.activity) - 1; i >= 0 && len(items) < limit; i-- {
		entry := s.activity[i]
		switch {
		case filter.ProjectID != "":
			if entry.ProjectID == nil || *entry.ProjectID != filter.ProjectID {
				continue
			}
		case entry.ProjectID != nil:
			if !visible[*entry.ProjectID] {
				continue
			}
		default:
			if entry.ActorID != filter.UserID {
				continue
			}
		}
		items = append(items, entry)
	}
	return items, nil
}
