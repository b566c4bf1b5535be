// Package state holds the normalized in-memory cache of one session: the
// user's projects, the active project's tasks, team members and the recent
// activity feed.
//
// Reads go through *Store and are safe from any goroutine. Writes need the
// *Writer returned by New, which only the coordinator holds.
package state

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"orbit/api/internal/store"
)

const DefaultRetention = 50

// Change is sent to subscribers after a write.
type Change struct {
	Collection string
}

type Store struct {
	mu sync.RWMutex

	projects collection[store.Project]
	tasks    collection[store.Task]
	members  collection[store.Membership]
	activity collection[store.ActivityEntry]

	activeProject string
	subscribers   map[int]chan Change
	nextSub       int
}

// Writer is the only handle that mutates a Store.
type Writer struct {
	s *Store
}

// New builds an empty Store keeping at most retention activity entries.
func New(retention int) (*Store, *Writer) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	s := &Store{
		projects:    newCollection(func(p store.Project) string { return p.ID }),
		tasks:       newCollection(func(t store.Task) string { return t.ID }),
		members:     newCollection(func(m store.Membership) string { return m.ID }),
		activity:    newCollection(func(a store.ActivityEntry) string { return a.ID }),
		subscribers: make(map[int]chan Change),
	}
	s.activity.newestFirst = true
	s.activity.limit = retention
	return s, &Writer{s: s}
}

// Collection names one keyed collection of a Store and its item type.
type Collection[T any] struct {
	name string
	pick func(*Store) *collection[T]
}

func (c Collection[T]) String() string { return c.name }

var (
	Projects = Collection[store.Project]{"projects", func(s *Store) *collection[store.Project] { return &s.projects }}
	Tasks    = Collection[store.Task]{"tasks", func(s *Store) *collection[store.Task] { return &s.tasks }}
	Members  = Collection[store.Membership]{"members", func(s *Store) *collection[store.Membership] { return &s.members }}
	Activity = Collection[store.ActivityEntry]{"activity", func(s *Store) *collection[store.ActivityEntry] { return &s.activity }}
)

// Items returns a copy of the collection in display order.
func Items[T any](s *Store, c Collection[T]) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return c.pick(s).items()
}

// Get looks one item up by id.
func Get[T any](s *Store, c Collection[T], id string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := c.pick(s).byID[id]
	return item, ok
}

// Len returns the number of items in the collection.
func Len[T any](s *Store, c Collection[T]) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(c.pick(s).order)
}

// Replace swaps the whole collection for items, keeping their order.
// Duplicate ids collapse onto the first position with the last value.
// Replacing twice with the same items is the same as replacing once.
func Replace[T any](w *Writer, c Collection[T], items []T) {
	w.s.mu.Lock()
	c.pick(w.s).replace(items)
	w.s.mu.Unlock()
	w.s.notify(c.name)
}

// UpsertOne inserts item if its id is absent, else overwrites it in place.
func UpsertOne[T any](w *Writer, c Collection[T], item T) {
	w.s.mu.Lock()
	c.pick(w.s).upsert(item)
	w.s.mu.Unlock()
	w.s.notify(c.name)
}

// RemoveOne drops the item with id, if present.
func RemoveOne[T any](w *Writer, c Collection[T], id string) bool {
	w.s.mu.Lock()
	removed := c.pick(w.s).remove(id)
	w.s.mu.Unlock()
	if removed {
		w.s.notify(c.name)
	}
	return removed
}

// RemoveWhere drops every item matching pred and reports how many went.
func RemoveWhere[T any](w *Writer, c Collection[T], pred func(T) bool) int {
	w.s.mu.Lock()
	removed := c.pick(w.s).removeWhere(pred)
	w.s.mu.Unlock()
	if removed > 0 {
		w.s.notify(c.name)
	}
	return removed
}

func (s *Store) Projects() []store.Project { return Items(s, Projects) }
func (s *Store) Tasks() []store.Task { return Items(s, Tasks) }
func (s *Store) Members() []store.Membership { return Items(s, Members) }
func (s *Store) Activity() []store.ActivityEntry { return Items(s, Activity) }
func (s *Store) Project(id string) (store.Project, bool) { return Get(s, Projects, id) }
func (s *Store) Task(id string) (store.Task, bool) { return Get(s, Tasks, id) }

// ActiveProject is the project whose tasks are cached, or "".
func (s *Store) ActiveProject() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeProject
}

// SetActiveProject switches the task scope. Cached tasks of another project
// are dropped.
func (w *Writer) SetActiveProject(projectID string) {
	w.s.mu.Lock()
	changed := w.s.activeProject != projectID
	if changed {
		w.s.activeProject = projectID
		w.s.tasks.replace(nil)
	}
	w.s.mu.Unlock()
	if changed {
		w.s.notify(Tasks.name)
	}
}

// Store returns the read side of the writer's store.
func (w *Writer) Store() *Store { return w.s }

// Board groups the active project's tasks into workflow columns.
type Board struct {
	Columns map[store.TaskStatus][]store.Task
}

func (b Board) Count(status store.TaskStatus) int {
	return len(b.Columns[status])
}

// TaskBoard returns the cached tasks grouped by status, each column sorted
// by position. Every status has a column, possibly empty.
func (s *Store) TaskBoard() Board {
	grouped := lo.GroupBy(s.Tasks(), func(t store.Task) store.TaskStatus { return t.Status })
	board := Board{Columns: make(map[store.TaskStatus][]store.Task, len(store.TaskStatuses))}
	for _, status := range store.TaskStatuses {
		column := grouped[status]
		sort.SliceStable(column, func(i, j int) bool { return column[i].Position < column[j].Position })
		if column == nil {
			column = []store.Task{}
		}
		board.Columns[status] = column
	}
	return board
}

// Subscribe returns a channel that receives a Change after each write and a
// function that cancels the subscription. Slow subscribers miss
// notifications rather than block writers.
func (s *Store) Subscribe() (<-chan Change, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Change, 1)
	s.subscribers[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(sub)
		}
	}
}

func (s *Store) notify(name string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- Change{Collection: name}:
		default:
		}
	}
}
