package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"orbit/api/internal/store"
)

func TestRelativeLabelThresholds(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		ago  time.Duration
		want string
	}{
		{0, "Just now"},
		{59 * time.Second, "Just now"},
		{60 * time.Second, "1 minute ago"},
		{5*time.Minute + 30*time.Second, "5 minutes ago"},
		{3599 * time.Second, "59 minutes ago"},
		{3600 * time.Second, "1 hour ago"},
		{23 * time.Hour, "23 hours ago"},
		{86399 * time.Second, "23 hours ago"},
		{86400 * time.Second, "1 day ago"},
		{10 * 24 * time.Hour, "10 days ago"},
		{-time.Hour, "Just now"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RelativeLabel(now, now.Add(-tc.ago)), "ago=%s", tc.ago)
	}
}

func TestCategoryOf(t *testing.T) {
	cases := map[string]Category{
		store.ActionCreatedProject: CategoryProject,
		store.ActionCreatedTask:    CategoryTask,
		store.ActionMovedTask:      CategoryTask,
		store.ActionCompletedTask:  CategoryCompletion,
		store.ActionJoinedProject:  CategoryTeam,
		"something_custom":         CategoryGeneral,
		"":                         CategoryGeneral,
	}
	for action, want := range cases {
		assert.Equal(t, want, CategoryOf(action), "action=%q", action)
	}
}

func TestProjectAllIsDeterministic(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	entries := []store.ActivityEntry{
		{ID: "2", Action: store.ActionCompletedTask, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "1", Action: store.ActionCreatedTask, CreatedAt: now.Add(-3 * 24 * time.Hour)},
	}

	first := ProjectAll(entries, now)
	second := ProjectAll(entries, now)
	assert.Equal(t, first, second)
	assert.Equal(t, "2", first[0].Entry.ID)
	assert.Equal(t, CategoryCompletion, first[0].Category)
	assert.Equal(t, "2 hours ago", first[0].When)
	assert.Equal(t, "3 days ago", first[1].When)
}
