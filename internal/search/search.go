package search

import (
	"context"
	"time"

	"orbit/api/internal/store"
)

// Result is a single task hit returned to the caller.
type Result struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Snippet   string `json:"snippet"`
	ProjectID string `json:"projectId"`
	Status    string `json:"status"`
	Priority  string `json:"priority"`
}

// Query describes a search request. ProjectIDs scopes the hits to the
// projects the caller can see; an empty list matches nothing.
type Query struct {
	Text       string
	ProjectIDs []string
	Status     string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// TaskRecord is the data we index for a task.
type TaskRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ProjectID   string `json:"projectId"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// RecordFromTask converts a stored task into its index record.
func RecordFromTask(task store.Task) TaskRecord {
	return TaskRecord{
		ID:          task.ID,
		Title:       task.Title,
		Description: task.Description,
		ProjectID:   task.ProjectID,
		Status:      string(task.Status),
		Priority:    string(task.Priority),
		UpdatedAt:   unixOrZero(task.UpdatedAt),
	}
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return 20
	}
	return q.Limit
}

func (q Query) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
