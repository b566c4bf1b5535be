package search

import (
	"context"
	"sort"
	"strings"

	"orbit/api/internal/store"
)

// TaskLister is the slice of the task repository StoreSearch needs.
type TaskLister interface {
	ListTasks(ctx context.Context, projectID string) ([]store.Task, error)
}

// StoreSearch matches query words against task text through the repository.
// It backs search when neither Meilisearch nor Postgres is available.
type StoreSearch struct {
	tasks TaskLister
}

func NewStoreSearch(tasks TaskLister) *StoreSearch {
	return &StoreSearch{tasks: tasks}
}

func (s *StoreSearch) Healthy() bool { return true }

func (s *StoreSearch) Search(ctx context.Context, q Query) ([]Result, int, error) {
	words := strings.Fields(strings.ToLower(q.Text))
	if len(words) == 0 {
		return nil, 0, nil
	}

	var matches []store.Task
	for _, projectID := range q.ProjectIDs {
		tasks, err := s.tasks.ListTasks(ctx, projectID)
		if err != nil {
			return nil, 0, err
		}
		for _, task := range tasks {
			if q.Status != "" && string(task.Status) != q.Status {
				continue
			}
			if containsAll(strings.ToLower(task.Title+" "+task.Description), words) {
				matches = append(matches, task)
			}
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].UpdatedAt.After(matches[j].UpdatedAt) })

	total := len(matches)
	start := q.offset()
	if start > total {
		start = total
	}
	end := start + q.limit()
	if end > total {
		end = total
	}

	results := make([]Result, 0, end-start)
	for _, task := range matches[start:end] {
		results = append(results, Result{
			ID:        task.ID,
			Title:     task.Title,
			Snippet:   task.Description,
			ProjectID: task.ProjectID,
			Status:    string(task.Status),
			Priority:  string(task.Priority),
		})
	}
	return results, total, nil
}

func containsAll(text string, words []string) bool {
	for _, word := range words {
		if !strings.Contains(text, word) {
			return false
		}
	}
	return true
}
