// Package memstore provides an in-memory implementation of the store
// repositories used for tests and ephemeral environments. It mirrors the
// row predicates and server-side functions of the Postgres schema.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"orbit/api/internal/joincode"
	"orbit/api/internal/store"
)

// Compile-time contract assertion.
var _ store.Repositories = (*Store)(nil)

type Store struct {
	mu          sync.RWMutex
	now         func() time.Time
	users       map[string]store.User
	projects    map[string]store.Project
	memberships map[string]store.Membership
	codes       map[string]store.JoinCode
	tasks       map[string]store.Task
	activity    []store.ActivityEntry
	last        time.Time
}

type Option func(*Store)

// WithClock replaces the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		now:         time.Now,
		users:       make(map[string]store.User),
		projects:    make(map[string]store.Project),
		memberships: make(map[string]store.Membership),
		codes:       make(map[string]store.JoinCode),
		tasks:       make(map[string]store.Task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Ping(context.Context) error { return nil }

// stamp returns a strictly increasing timestamp so ordering by time is stable
// even when the clock is frozen.
func (s *Store) stamp() time.Time {
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

func notFound(op string) error {
	return fmt.Errorf("%s: %w", op, store.ErrNotFound)
}

func (s *Store) EnsureUser(_ context.Context, email, displayName string) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.ToLower(strings.TrimSpace(email))
	for _, user := range s.users {
		if user.Email == email {
			return user, nil
		}
	}
	user := store.User{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		Email:       email,
		Level:       1,
		CreatedAt:   s.stamp(),
	}
	s.users[user.ID] = user
	return user, nil
}

func (s *Store) GetUser(_ context.Context, userID string) (store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return store.User{}, notFound("get user")
	}
	return user, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, user := range s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, notFound("get user by email")
}

func (s *Store) UpdateDisplayName(_ context.Context, userID, displayName string) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return store.User{}, notFound("update display name")
	}
	user.DisplayName = displayName
	s.users[userID] = user
	return user, nil
}

func (s *Store) InsertProject(_ context.Context, project store.Project) (store.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	creator, ok := s.users[project.CreatorID]
	if !ok {
		return store.Project{}, notFound("insert project")
	}
	if project.Status == "" {
		project.Status = store.ProjectActive
	}
	project.ID = uuid.NewString()
	project.CreatedAt = s.stamp()
	project.UpdatedAt = project.CreatedAt
	s.projects[project.ID] = project

	creator.HasEverCreatedProject = true
	s.users[creator.ID] = creator
	return project, nil
}

func (s *Store) GetProject(_ context.Context, projectID string) (store.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	project, ok := s.projects[projectID]
	if !ok {
		return store.Project{}, notFound("get project")
	}
	return project, nil
}

func (s *Store) canManageProject(project store.Project, actorID string) bool {
	if project.CreatorID == actorID {
		return true
	}
	for _, m := range s.memberships {
		if m.ProjectID == project.ID && m.UserID == actorID && (m.Role == "lead" || m.Role == "admin") {
			return true
		}
	}
	return false
}

func (s *Store) UpdateProject(_ context.Context, projectID, actorID string, patch store.ProjectUpdate) (store.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	project, ok := s.projects[projectID]
	if !ok {
		return store.Project{}, notFound("update project")
	}
	if !s.canManageProject(project, actorID) {
		return store.Project{}, fmt.Errorf("update project: %w", store.ErrForbidden)
	}
	if patch.Name != nil {
		project.Name = *patch.Name
	}
	if patch.Description != nil {
		project.Description = *patch.Description
	}
	if patch.Color != nil {
		project.Color = *patch.Color
	}
	if patch.Status != nil {
		project.Status = *patch.Status
	}
	if patch.ClearDeadline {
		project.Deadline = nil
	} else if patch.Deadline != nil {
		deadline := *patch.Deadline
		project.Deadline = &deadline
	}
	project.UpdatedAt = s.stamp()
	s.projects[projectID] = project
	return project, nil
}

// DeleteProject cascades to tasks, memberships and codes, and detaches
// activity entries, as the foreign keys do in Postgres.
func (s *Store) DeleteProject(_ context.Context, projectID, actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	project, ok := s.projects[projectID]
	if !ok {
		return notFound("delete project")
	}
	if project.CreatorID != actorID {
		return fmt.Errorf("delete project: %w", store.ErrForbidden)
	}
	delete(s.projects, projectID)

	deletedTasks := map[string]bool{}
	for id, task := range s.tasks {
		if task.ProjectID == projectID {
			deletedTasks[id] = true
			delete(s.tasks, id)
		}
	}
	for id, m := range s.memberships {
		if m.ProjectID == projectID {
			delete(s.memberships, id)
		}
	}
	for code, c := range s.codes {
		if c.ProjectID == projectID {
			delete(s.codes, code)
		}
	}
	for i, entry := range s.activity {
		if entry.ProjectID != nil && *entry.ProjectID == projectID {
			s.activity[i].ProjectID = nil
		}
		if entry.TaskID != nil && deletedTasks[*entry.TaskID] {
			s.activity[i].TaskID = nil
		}
	}
	return nil
}

func (s *Store) visibleLocked(userID string) map[string]bool {
	visible := map[string]bool{}
	for id, project := range s.projects {
		if project.CreatorID == userID {
			visible[id] = true
		}
	}
	for _, m := range s.memberships {
		if m.UserID == userID {
			visible[m.ProjectID] = true
		}
	}
	return visible
}

func (s *Store) ListVisibleProjects(_ context.Context, userID string) ([]store.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]store.Project, 0)
	for id := range s.visibleLocked(userID) {
		items = append(items, s.projects[id])
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *Store) withUser(m store.Membership) store.Membership {
	user := s.users[m.UserID]
	m.DisplayName = user.DisplayName
	m.Email = user.Email
	return m
}

func (s *Store) InsertMembership(_ context.Context, membership store.Membership) (store.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[membership.ProjectID]; !ok {
		return store.Membership{}, notFound("insert membership")
	}
	if _, ok := s.users[membership.UserID]; !ok {
		return store.Membership{}, notFound("insert membership")
	}
	for _, m := range s.memberships {
		if m.ProjectID == membership.ProjectID && m.UserID == membership.UserID {
			return store.Membership{}, fmt.Errorf("insert membership: %w: project_members_project_user_key", store.ErrConflict)
		}
	}
	membership.ID = uuid.NewString()
	membership.JoinedAt = s.stamp()
	s.memberships[membership.ID] = membership
	return s.withUser(membership), nil
}

func (s *Store) GetMembership(_ context.Context, membershipID string) (store.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[membershipID]
	if !ok {
		return store.Membership{}, notFound("get membership")
	}
	return s.withUser(m), nil
}

func (s *Store) FindMembership(_ context.Context, projectID, userID string) (store.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.memberships {
		if m.ProjectID == projectID && m.UserID == userID {
			return s.withUser(m), nil
		}
	}
	return store.Membership{}, notFound("find membership")
}

func (s *Store) UpdateMembershipRole(_ context.Context, membershipID, role string) (store.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[membershipID]
	if !ok {
		return store.Membership{}, notFound("update membership role")
	}
	m.Role = role
	s.memberships[membershipID] = m
	return s.withUser(m), nil
}

func (s *Store) DeleteMembership(_ context.Context, membershipID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memberships[membershipID]; !ok {
		return notFound("delete membership")
	}
	delete(s.memberships, membershipID)
	return nil
}

func (s *Store) sortedMemberships(match func(store.Membership) bool) []store.Membership {
	items := make([]store.Membership, 0)
	for _, m := range s.memberships {
		if match(m) {
			items = append(items, s.withUser(m))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].ProjectID != items[j].ProjectID {
			return items[i].ProjectID < items[j].ProjectID
		}
		if !items[i].JoinedAt.Equal(items[j].JoinedAt) {
			return items[i].JoinedAt.Before(items[j].JoinedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items
}

func (s *Store) ListProjectMembers(_ context.Context, projectID string) ([]store.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedMemberships(func(m store.Membership) bool { return m.ProjectID == projectID }), nil
}

func (s *Store) ListTeamMembers(_ context.Context, userID string) ([]store.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	visible := s.visibleLocked(userID)
	return s.sortedMemberships(func(m store.Membership) bool { return visible[m.ProjectID] }), nil
}

// GenerateCode mirrors generate_team_code(): it retries until the token is
// unused.
func (s *Store) GenerateCode(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for {
		code, err := joincode.Generate()
		if err != nil {
			return "", err
		}
		if _, taken := s.codes[code]; !taken {
			return code, nil
		}
	}
}

func (s *Store) InsertJoinCode(_ context.Context, code store.JoinCode) (store.JoinCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[code.ProjectID]; !ok {
		return store.JoinCode{}, notFound("insert join code")
	}
	if _, taken := s.codes[code.Code]; taken {
		return store.JoinCode{}, fmt.Errorf("insert join code: %w: team_codes_pkey", store.ErrConflict)
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = s.now().UTC()
	}
	for key, existing := range s.codes {
		if existing.ProjectID == code.ProjectID && existing.ExpiresAt.After(code.CreatedAt) {
			existing.ExpiresAt = code.CreatedAt
			s.codes[key] = existing
		}
	}
	s.codes[code.Code] = code
	return code, nil
}

func (s *Store) FindActiveJoinCode(_ context.Context, code string, now time.Time) (store.JoinCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found, ok := s.codes[code]
	if !ok || !found.ExpiresAt.After(now) {
		return store.JoinCode{}, notFound("find join code")
	}
	return found, nil
}

func (s *Store) ActiveJoinCodeForProject(_ context.Context, projectID string, now time.Time) (store.JoinCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *store.JoinCode
	for _, c := range s.codes {
		if c.ProjectID != projectID || !c.ExpiresAt.After(now) {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			candidate := c
			latest = &candidate
		}
	}
	if latest == nil {
		return store.JoinCode{}, notFound("active join code")
	}
	return *latest, nil
}

func (s *Store) PurgeJoinCodes(_ context.Context, expiredBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	for key, c := range s.codes {
		if c.ExpiresAt.Before(expiredBefore) {
			delete(s.codes, key)
			purged++
		}
	}
	return purged, nil
}
