package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"orbit/api/internal/rbac"
	"orbit/api/internal/search"
	"orbit/api/internal/state"
	"orbit/api/internal/store"
)

// positionRetries bounds how often a write that lost its end-of-project
// position to a concurrent writer is retried with a fresh maximum.
const positionRetries = 1

type CreateTaskInput struct {
	ProjectID   string             `json:"projectId" validate:"required"`
	Title       string             `json:"title" validate:"required,max=200"`
	Description string             `json:"description" validate:"max=5000"`
	Status      store.TaskStatus   `json:"status" validate:"omitempty,oneof=todo in_progress review completed"`
	Priority    store.TaskPriority `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	AssigneeID  *string            `json:"assigneeId"`
	DueDate     *time.Time         `json:"dueDate"`
}

// TaskPatch is a partial task update; nil fields stay unchanged.
type TaskPatch struct {
	Title         *string             `json:"title" validate:"omitempty,max=200"`
	Description   *string             `json:"description" validate:"omitempty,max=5000"`
	Status        *store.TaskStatus   `json:"status" validate:"omitempty,oneof=todo in_progress review completed"`
	Priority      *store.TaskPriority `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	AssigneeID    *string             `json:"assigneeId"`
	ClearAssignee bool                `json:"clearAssignee"`
	DueDate       *time.Time          `json:"dueDate"`
	ClearDueDate  bool                `json:"clearDueDate"`
	Position      *int                `json:"position" validate:"omitempty,min=0"`
}

// FetchTasks makes projectID the active project and replaces the cached
// tasks with its tasks ordered by position.
func (c *Coordinator) FetchTasks(ctx context.Context, projectID string) (tasks []store.Task, err error) {
	defer c.observe("fetch_tasks", time.Now(), &err)

	if _, err := c.authorize(ctx, projectID, rbac.ActionRead); err != nil {
		return nil, err
	}
	tasks, err = c.repos.ListTasks(ctx, projectID)
	if err != nil {
		return nil, translateError("load tasks", err)
	}
	if err := stillLive(ctx, "load tasks"); err != nil {
		return nil, err
	}
	c.writer.SetActiveProject(projectID)
	state.Replace(c.writer, state.Tasks, tasks)
	return tasks, nil
}

// CreateTask appends a task to the end of its project. The caller must be
// the project creator or a member.
func (c *Coordinator) CreateTask(ctx context.Context, input CreateTaskInput) (task store.Task, err error) {
	defer c.observe("create_task", time.Now(), &err)

	input.Title = c.sanitize(input.Title)
	input.Description = c.sanitize(input.Description)
	if err := c.validateStruct(input); err != nil {
		return store.Task{}, err
	}
	if input.Status == "" {
		input.Status = store.TaskTodo
	}
	if input.Priority == "" {
		input.Priority = store.PriorityMedium
	}

	project, err := c.authorize(ctx, input.ProjectID, rbac.ActionCreateTask)
	if err != nil {
		return store.Task{}, err
	}

	// positions are per project, so creation is serialized on the project
	unlock := c.locks.Lock(projectKey(project.ID))
	defer unlock()

	// another API process may take the same slot; one more read settles it
	for attempt := 0; ; attempt++ {
		highest, err := c.repos.MaxPosition(ctx, project.ID)
		if err != nil {
			return store.Task{}, translateError("create task", err)
		}
		task, err = c.repos.InsertTask(ctx, store.Task{
			Title:       input.Title,
			Description: input.Description,
			Status:      input.Status,
			Priority:    input.Priority,
			ProjectID:   project.ID,
			AssigneeID:  input.AssigneeID,
			CreatorID:   c.userID,
			DueDate:     input.DueDate,
			Position:    highest + 1,
		})
		if err == nil {
			break
		}
		if attempt >= positionRetries || !errors.Is(err, store.ErrConflict) {
			return store.Task{}, translateError("create task", err)
		}
		c.log.Debug("task position taken, retrying", zap.String("project_id", project.ID))
	}

	c.appendActivity(ctx, store.ActivityEntry{
		ProjectID:   &task.ProjectID,
		TaskID:      &task.ID,
		Action:      store.ActionCreatedTask,
		Description: fmt.Sprintf("created task %s", task.Title),
		Metadata:    map[string]any{"task_title": task.Title, "project_name": project.Name},
	})
	c.cacheTask(task)
	return task, nil
}

// UpdateTask applies patch. The remote store only lets the creator or the
// assignee edit. A status change without an explicit position appends the
// task at the end of the project so positions stay unique.
func (c *Coordinator) UpdateTask(ctx context.Context, taskID string, patch TaskPatch) (task store.Task, err error) {
	defer c.observe("update_task", time.Now(), &err)

	patch.Title = c.sanitizePtr(patch.Title)
	patch.Description = c.sanitizePtr(patch.Description)
	if patch.Title != nil && *patch.Title == "" {
		return store.Task{}, validationError("title is required", map[string]string{"title": "title is required"})
	}
	if err := c.validateStruct(patch); err != nil {
		return store.Task{}, err
	}

	unlock := c.locks.Lock(taskKey(taskID))
	defer unlock()

	current, err := c.repos.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, translateError("update this task", err)
	}

	statusChanged := patch.Status != nil && *patch.Status != current.Status
	appendToEnd := statusChanged && patch.Position == nil
	if appendToEnd {
		// the end slot is per project, shared with CreateTask and MoveTask
		unlockProject := c.locks.Lock(projectKey(current.ProjectID))
		defer unlockProject()
	}

	for attempt := 0; ; attempt++ {
		if appendToEnd {
			highest, err := c.repos.MaxPosition(ctx, current.ProjectID)
			if err != nil {
				return store.Task{}, translateError("update this task", err)
			}
			end := highest + 1
			patch.Position = &end
		}
		task, err = c.repos.UpdateTask(ctx, taskID, c.userID, store.TaskUpdate{
			Title:         patch.Title,
			Description:   patch.Description,
			Status:        patch.Status,
			Priority:      patch.Priority,
			AssigneeID:    patch.AssigneeID,
			ClearAssignee: patch.ClearAssignee,
			DueDate:       patch.DueDate,
			ClearDueDate:  patch.ClearDueDate,
			Position:      patch.Position,
		})
		if err == nil {
			break
		}
		if !appendToEnd || attempt >= positionRetries || !errors.Is(err, store.ErrConflict) {
			return store.Task{}, translateError("update this task", err)
		}
	}

	entry := store.ActivityEntry{
		ProjectID: &task.ProjectID,
		TaskID:    &task.ID,
		Metadata:  map[string]any{"task_title": task.Title},
	}
	switch {
	case patch.Status != nil && *patch.Status == store.TaskCompleted:
		entry.Action = store.ActionCompletedTask
		entry.Description = fmt.Sprintf("completed task %s", task.Title)
	case statusChanged:
		entry.Action = store.ActionMovedTask
		entry.Description = fmt.Sprintf("moved task %s to %s", task.Title, task.Status)
		entry.Metadata["from"] = string(current.Status)
		entry.Metadata["to"] = string(task.Status)
	default:
		entry.Action = store.ActionUpdatedTask
		entry.Description = fmt.Sprintf("updated task %s", task.Title)
	}
	c.appendActivity(ctx, entry)
	c.cacheTask(task)
	return task, nil
}

// MoveTask writes status and position together, shifting the tasks at or
// after position. Reordering inside a column records no activity.
func (c *Coordinator) MoveTask(ctx context.Context, taskID string, status store.TaskStatus, position int) (task store.Task, err error) {
	defer c.observe("move_task", time.Now(), &err)

	if err := c.validate.Var(string(status), "required,oneof=todo in_progress review completed"); err != nil {
		return store.Task{}, validationError("status must be one of: todo in_progress review completed", nil)
	}
	if position < 0 {
		return store.Task{}, validationError("position must not be negative", nil)
	}

	unlock := c.locks.Lock(taskKey(taskID))
	defer unlock()

	current, err := c.repos.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, translateError("move this task", err)
	}
	unlockProject := c.locks.Lock(projectKey(current.ProjectID))
	defer unlockProject()

	task, err = c.repos.MoveTask(ctx, taskID, c.userID, status, position)
	if err != nil {
		return store.Task{}, translateError("move this task", err)
	}

	switch {
	case status == store.TaskCompleted && current.Status != store.TaskCompleted:
		c.appendActivity(ctx, store.ActivityEntry{
			ProjectID:   &task.ProjectID,
			TaskID:      &task.ID,
			Action:      store.ActionCompletedTask,
			Description: fmt.Sprintf("completed task %s", task.Title),
			Metadata:    map[string]any{"task_title": task.Title},
		})
	case status != current.Status:
		c.appendActivity(ctx, store.ActivityEntry{
			ProjectID:   &task.ProjectID,
			TaskID:      &task.ID,
			Action:      store.ActionMovedTask,
			Description: fmt.Sprintf("moved task %s to %s", task.Title, status),
			Metadata:    map[string]any{"task_title": task.Title, "from": string(current.Status), "to": string(status)},
		})
	}

	// other tasks shifted server side; refresh the whole column set
	if c.state.ActiveProject() == task.ProjectID {
		tasks, err := c.repos.ListTasks(ctx, task.ProjectID)
		if err == nil && ctx.Err() == nil {
			state.Replace(c.writer, state.Tasks, tasks)
		} else {
			state.UpsertOne(c.writer, state.Tasks, task)
		}
	}
	c.index(task)
	return task, nil
}

// DeleteTask removes a task. Only its creator may delete it; the remote
// store enforces the same rule.
func (c *Coordinator) DeleteTask(ctx context.Context, taskID string) (err error) {
	defer c.observe("delete_task", time.Now(), &err)

	unlock := c.locks.Lock(taskKey(taskID))
	defer unlock()

	task, err := c.repos.GetTask(ctx, taskID)
	if err != nil {
		return translateError("delete this task", err)
	}
	if task.CreatorID != c.userID {
		return permissionError("Only the task creator can delete it")
	}
	if err := c.repos.DeleteTask(ctx, taskID, c.userID); err != nil {
		return translateError("delete this task", err)
	}

	state.RemoveOne(c.writer, state.Tasks, taskID)
	if c.search != nil {
		c.search.DeleteTask(taskID)
	}
	c.appendActivity(ctx, store.ActivityEntry{
		ProjectID:   &task.ProjectID,
		Action:      store.ActionDeletedTask,
		Description: fmt.Sprintf("deleted task %s", task.Title),
		Metadata:    map[string]any{"task_id": task.ID, "task_title": task.Title},
	})
	return nil
}

// SearchTasks runs a full-text query over the tasks of every project the
// user can see.
func (c *Coordinator) SearchTasks(ctx context.Context, q search.Query) (resp search.Response, err error) {
	defer c.observe("search_tasks", time.Now(), &err)

	if c.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	projects, err := c.repos.ListVisibleProjects(ctx, c.userID)
	if err != nil {
		return search.Response{}, translateError("search tasks", err)
	}
	q.ProjectIDs = make([]string, 0, len(projects))
	for _, p := range projects {
		q.ProjectIDs = append(q.ProjectIDs, p.ID)
	}
	return c.search.Search(ctx, q), nil
}

// cacheTask upserts a task when its project is the active one.
func (c *Coordinator) cacheTask(task store.Task) {
	if c.state.ActiveProject() == task.ProjectID {
		state.UpsertOne(c.writer, state.Tasks, task)
	}
	c.index(task)
}

func (c *Coordinator) index(task store.Task) {
	if c.search != nil {
		c.search.IndexTask(search.RecordFromTask(task))
	}
}
