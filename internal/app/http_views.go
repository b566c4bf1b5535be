package app

import (
	"orbit/api/internal/feed"
	"orbit/api/internal/search"
	"orbit/api/internal/state"
	"orbit/api/internal/store"
)

func userView(u store.User) map[string]any {
	return map[string]any{
		"id":                    u.ID,
		"displayName":           u.DisplayName,
		"email":                 u.Email,
		"points":                u.Points,
		"level":                 u.Level,
		"hasEverCreatedProject": u.HasEverCreatedProject,
		"createdAt":             u.CreatedAt,
	}
}

func projectView(p store.Project) map[string]any {
	return map[string]any{
		"id":          p.ID,
		"name":        p.Name,
		"description": p.Description,
		"color":       p.Color,
		"projectType": p.Type,
		"status":      p.Status,
		"deadline":    p.Deadline,
		"creatorId":   p.CreatorID,
		"createdAt":   p.CreatedAt,
		"updatedAt":   p.UpdatedAt,
	}
}

func projectViews(projects []store.Project) []map[string]any {
	out := make([]map[string]any, 0, len(projects))
	for _, p := range projects {
		out = append(out, projectView(p))
	}
	return out
}

func membershipView(m store.Membership) map[string]any {
	return map[string]any{
		"id":          m.ID,
		"projectId":   m.ProjectID,
		"userId":      m.UserID,
		"role":        m.Role,
		"joinedAt":    m.JoinedAt,
		"displayName": m.DisplayName,
		"email":       m.Email,
	}
}

func membershipViews(members []store.Membership) []map[string]any {
	out := make([]map[string]any, 0, len(members))
	for _, m := range members {
		out = append(out, membershipView(m))
	}
	return out
}

func joinCodeView(c store.JoinCode) map[string]any {
	return map[string]any{
		"code":      c.Code,
		"projectId": c.ProjectID,
		"createdAt": c.CreatedAt,
		"expiresAt": c.ExpiresAt,
	}
}

func taskView(t store.Task) map[string]any {
	return map[string]any{
		"id":          t.ID,
		"title":       t.Title,
		"description": t.Description,
		"status":      t.Status,
		"priority":    t.Priority,
		"projectId":   t.ProjectID,
		"assigneeId":  t.AssigneeID,
		"creatorId":   t.CreatorID,
		"dueDate":     t.DueDate,
		"position":    t.Position,
		"createdAt":   t.CreatedAt,
		"updatedAt":   t.UpdatedAt,
	}
}

func taskViews(tasks []store.Task) []map[string]any {
	out := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskView(t))
	}
	return out
}

func boardView(b state.Board) map[string]any {
	columns := make(map[string]any, len(b.Columns))
	counts := make(map[string]int, len(b.Columns))
	for status, tasks := range b.Columns {
		columns[string(status)] = taskViews(tasks)
		counts[string(status)] = len(tasks)
	}
	return map[string]any{"columns": columns, "counts": counts}
}

func activityView(e store.ActivityEntry) map[string]any {
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return map[string]any{
		"id":          e.ID,
		"actorId":     e.ActorID,
		"projectId":   e.ProjectID,
		"taskId":      e.TaskID,
		"action":      e.Action,
		"description": e.Description,
		"metadata":    metadata,
		"createdAt":   e.CreatedAt,
	}
}

func feedViews(items []feed.Item) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		view := activityView(item.Entry)
		view["category"] = item.Category
		view["when"] = item.When
		out = append(out, view)
	}
	return out
}

func searchView(resp search.Response) map[string]any {
	results := resp.Results
	if results == nil {
		results = []search.Result{}
	}
	return map[string]any{"results": results, "total": resp.Total, "query": resp.Query}
}
