package app

import (
	"context"
	"time"

	"orbit/api/internal/feed"
	"orbit/api/internal/rbac"
	"orbit/api/internal/state"
	"orbit/api/internal/store"
)

type ActivityInput struct {
	ProjectID   *string        `json:"projectId"`
	TaskID      *string        `json:"taskId"`
	Action      string         `json:"action" validate:"required,max=64"`
	Description string         `json:"description" validate:"max=500"`
	Metadata    map[string]any `json:"metadata"`
}

// FetchActivities loads the newest entries, of one project or of every
// visible project when projectID is nil, and replaces the cached feed.
// limit is clamped to the feed retention.
func (c *Coordinator) FetchActivities(ctx context.Context, projectID *string, limit int) (items []feed.Item, err error) {
	defer c.observe("fetch_activities", time.Now(), &err)

	if limit <= 0 || limit > c.retention {
		limit = c.retention
	}
	filter := store.ActivityFilter{UserID: c.userID, Limit: limit}
	if projectID != nil && *projectID != "" {
		if _, err := c.authorize(ctx, *projectID, rbac.ActionRead); err != nil {
			return nil, err
		}
		filter.ProjectID = *projectID
	}

	entries, err := c.repos.ListActivities(ctx, filter)
	if err != nil {
		return nil, translateError("load activity", err)
	}
	if err := stillLive(ctx, "load activity"); err != nil {
		return nil, err
	}
	state.Replace(c.writer, state.Activity, entries)
	return feed.ProjectAll(entries, c.now()), nil
}

// LogActivity appends an entry on behalf of the user. Unlike the entries
// the coordinator writes itself, a failure here is returned.
func (c *Coordinator) LogActivity(ctx context.Context, input ActivityInput) (entry store.ActivityEntry, err error) {
	defer c.observe("log_activity", time.Now(), &err)

	input.Description = c.sanitize(input.Description)
	if err := c.validateStruct(input); err != nil {
		return store.ActivityEntry{}, err
	}
	if input.ProjectID != nil {
		if _, err := c.authorize(ctx, *input.ProjectID, rbac.ActionRead); err != nil {
			return store.ActivityEntry{}, err
		}
	}

	entry, err = c.repos.LogActivity(ctx, store.ActivityEntry{
		ActorID:     c.userID,
		ProjectID:   input.ProjectID,
		TaskID:      input.TaskID,
		Action:      input.Action,
		Description: input.Description,
		Metadata:    input.Metadata,
	})
	if err != nil {
		return store.ActivityEntry{}, translateError("log activity", err)
	}
	state.UpsertOne(c.writer, state.Activity, entry)
	c.publish(ctx, entry)
	return entry, nil
}

// Feed projects the cached activity for display.
func (c *Coordinator) Feed() []feed.Item {
	return feed.ProjectAll(c.state.Activity(), c.now())
}
