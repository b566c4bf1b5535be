package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"orbit/api/internal/store"
)

func TestQueryLimitAndOffsetDefaults(t *testing.T) {
	assert.Equal(t, 20, Query{}.limit())
	assert.Equal(t, 20, Query{Limit: 500}.limit())
	assert.Equal(t, 5, Query{Limit: 5}.limit())
	assert.Equal(t, 0, Query{Offset: -3}.offset())
	assert.Equal(t, 7, Query{Offset: 7}.offset())
}

func TestTaskFilterScopesProjectsAndStatus(t *testing.T) {
	filters := taskFilter(Query{ProjectIDs: []string{"p1", "p2"}})
	assert.Equal(t, []string{`projectId IN ["p1", "p2"]`}, filters)

	filters = taskFilter(Query{ProjectIDs: []string{"p1"}, Status: "review"})
	assert.Equal(t, []string{`projectId IN ["p1"]`, `status = "review"`}, filters)
}

func TestRecordFromTask(t *testing.T) {
	updated := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	record := RecordFromTask(store.Task{
		ID:          "t1",
		Title:       "Write launch post",
		Description: "draft + review",
		ProjectID:   "p1",
		Status:      store.TaskInProgress,
		Priority:    store.PriorityHigh,
		UpdatedAt:   updated,
	})
	assert.Equal(t, "in_progress", record.Status)
	assert.Equal(t, "high", record.Priority)
	assert.Equal(t, updated.Unix(), record.UpdatedAt)
	assert.Zero(t, RecordFromTask(store.Task{}).UpdatedAt)
}

type fakeLister map[string][]store.Task

func (f fakeLister) ListTasks(_ context.Context, projectID string) ([]store.Task, error) {
	if projectID == "broken" {
		return nil, errors.New("boom")
	}
	return f[projectID], nil
}

func TestStoreSearchMatchesAllWordsInVisibleProjects(t *testing.T) {
	now := time.Now()
	lister := fakeLister{
		"p1": {
			{ID: "a", Title: "Design landing page", ProjectID: "p1", Status: store.TaskTodo, UpdatedAt: now.Add(-time.Hour)},
			{ID: "b", Title: "Landing copy", Description: "final design pass", ProjectID: "p1", Status: store.TaskReview, UpdatedAt: now},
			{ID: "c", Title: "Unrelated", ProjectID: "p1", Status: store.TaskTodo, UpdatedAt: now},
		},
		"hidden": {
			{ID: "d", Title: "Design landing page", ProjectID: "hidden"},
		},
	}
	s := NewStoreSearch(lister)

	results, total, err := s.Search(context.Background(), Query{Text: "LANDING design", ProjectIDs: []string{"p1"}})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].ID, "most recently updated first")
	assert.Equal(t, "a", results[1].ID)

	results, total, err = s.Search(context.Background(), Query{Text: "landing", ProjectIDs: []string{"p1"}, Status: "review"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "b", results[0].ID)

	results, total, err = s.Search(context.Background(), Query{Text: "landing", ProjectIDs: []string{"p1"}, Limit: 1, Offset: 5})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Empty(t, results)

	results, _, err = s.Search(context.Background(), Query{Text: "   ", ProjectIDs: []string{"p1"}})
	require.NoError(t, err)
	assert.Empty(t, results)

	_, _, err = s.Search(context.Background(), Query{Text: "x", ProjectIDs: []string{"broken"}})
	require.Error(t, err)
}

type fakeSearcher struct {
	results []Result
	err     error
}

func (f fakeSearcher) Search(context.Context, Query) ([]Result, int, error) {
	return f.results, len(f.results), f.err
}

func (f fakeSearcher) Healthy() bool { return true }

func TestServiceUsesFallbackWithoutMeili(t *testing.T) {
	svc := NewService(nil, fakeSearcher{results: []Result{{ID: "t1"}}}, zap.NewNop())
	resp := svc.Search(context.Background(), Query{Text: "launch"})
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "launch", resp.Query)
	assert.Equal(t, "t1", resp.Results[0].ID)

	// index calls are no-ops without meilisearch
	svc.IndexTask(TaskRecord{ID: "t1"})
	svc.DeleteTask("t1")
	svc.Close()
}

func TestServiceNeverReturnsNilResults(t *testing.T) {
	failing := NewService(nil, fakeSearcher{err: errors.New("down")}, nil)
	resp := failing.Search(context.Background(), Query{Text: "x"})
	assert.NotNil(t, resp.Results)
	assert.Zero(t, resp.Total)

	empty := NewService(nil, nil, nil)
	resp = empty.Search(context.Background(), Query{Text: "x"})
	assert.NotNil(t, resp.Results)
}
