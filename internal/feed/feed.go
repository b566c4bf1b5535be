// Package feed projects activity entries into display items. Everything here
// is a pure function of its inputs.
package feed

import (
	"fmt"
	"time"

	"orbit/api/internal/store"
)

type Category string

const (
	CategoryProject    Category = "project"
	CategoryTask       Category = "task"
	CategoryCompletion Category = "completion"
	CategoryTeam       Category = "team"
	CategoryGeneral    Category = "general"
)

var categories = map[string]Category{
	store.ActionCreatedProject:    CategoryProject,
	store.ActionUpdatedProject:    CategoryProject,
	store.ActionDeletedProject:    CategoryProject,
	store.ActionCreatedTask:       CategoryTask,
	store.ActionUpdatedTask:       CategoryTask,
	store.ActionMovedTask:         CategoryTask,
	store.ActionDeletedTask:       CategoryTask,
	store.ActionCompletedTask:     CategoryCompletion,
	store.ActionJoinedProject:     CategoryTeam,
	store.ActionInvitedMember:     CategoryTeam,
	store.ActionRemovedMember:     CategoryTeam,
	store.ActionUpdatedMemberRole: CategoryTeam,
}

// CategoryOf maps an action tag to its display category. Unknown tags are
// general.
func CategoryOf(action string) Category {
	if category, ok := categories[action]; ok {
		return category
	}
	return CategoryGeneral
}

const (
	minute = 60
	hour   = 3600
	day    = 86400
)

// RelativeLabel renders now-createdAt as "Just now", "N minutes ago",
// "N hours ago" or "N days ago". Timestamps in the future read "Just now".
func RelativeLabel(now, createdAt time.Time) string {
	seconds := int64(now.Sub(createdAt) / time.Second)
	switch {
	case seconds < minute:
		return "Just now"
	case seconds < hour:
		return plural(seconds/minute, "minute")
	case seconds < day:
		return plural(seconds/hour, "hour")
	default:
		return plural(seconds/day, "day")
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

type Item struct {
	Entry    store.ActivityEntry
	Category Category
	When     string
}

func Project(entry store.ActivityEntry, now time.Time) Item {
	return Item{
		Entry:    entry,
		Category: CategoryOf(entry.Action),
		When:     RelativeLabel(now, entry.CreatedAt),
	}
}

// ProjectAll keeps the order of entries.
func ProjectAll(entries []store.ActivityEntry, now time.Time) []Item {
	items := make([]Item, 0, len(entries))
	for _, entry := range entries {
		items = append(items, Project(entry, now))
	}
	return items
}
