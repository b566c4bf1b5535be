package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbit/api/internal/joincode"
	"orbit/api/internal/store"
)

func seedUser(t *testing.T, s *Store, email string) store.User {
	t.Helper()
	user, err := s.EnsureUser(context.Background(), email, email)
	require.NoError(t, err)
	return user
}

func TestVisibleProjectsIsUnionOfOwnedAndMemberOf(t *testing.T) {
	ctx := context.Background()
	s := New()
	alice := seedUser(t, s, "alice@example.com")
	bob := seedUser(t, s, "bob@example.com")
	carol := seedUser(t, s, "carol@example.com")

	owned, err := s.InsertProject(ctx, store.Project{Name: "Owned", Type: store.ProjectTeam, CreatorID: alice.ID})
	require.NoError(t, err)
	// Alice is both creator and member of owned; it must appear once.
	_, err = s.InsertMembership(ctx, store.Membership{ProjectID: owned.ID, UserID: alice.ID, Role: "lead"})
	require.NoError(t, err)

	shared, err := s.InsertProject(ctx, store.Project{Name: "Shared", Type: store.ProjectTeam, CreatorID: bob.ID})
	require.NoError(t, err)
	_, err = s.InsertMembership(ctx, store.Membership{ProjectID: shared.ID, UserID: alice.ID, Role: "member"})
	require.NoError(t, err)

	_, err = s.InsertProject(ctx, store.Project{Name: "Carol only", Type: store.ProjectIndividual, CreatorID: carol.ID})
	require.NoError(t, err)

	projects, err := s.ListVisibleProjects(ctx, alice.ID)
	require.NoError(t, err)

	ids := make([]string, 0, len(projects))
	for _, p := range projects {
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []string{owned.ID, shared.ID}, ids)
}

func TestInsertProjectMarksCreator(t *testing.T) {
	ctx := context.Background()
	s := New()
	user := seedUser(t, s, "new@example.com")
	assert.False(t, user.HasEverCreatedProject)

	_, err := s.InsertProject(ctx, store.Project{Name: "First", Type: store.ProjectIndividual, CreatorID: user.ID})
	require.NoError(t, err)

	refreshed, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, refreshed.HasEverCreatedProject)
}

func TestDuplicateMembershipConflicts(t *testing.T) {
	ctx := context.Background()
	s := New()
	lead := seedUser(t, s, "lead@example.com")
	member := seedUser(t, s, "member@example.com")
	project, err := s.InsertProject(ctx, store.Project{Name: "Team", Type: store.ProjectTeam, CreatorID: lead.ID})
	require.NoError(t, err)

	_, err = s.InsertMembership(ctx, store.Membership{ProjectID: project.ID, UserID: member.ID, Role: "member"})
	require.NoError(t, err)
	_, err = s.InsertMembership(ctx, store.Membership{ProjectID: project.ID, UserID: member.ID, Role: "admin"})
	require.ErrorIs(t, err, store.ErrConflict)

	members, err := s.ListProjectMembers(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "member", members[0].Role)
	assert.Equal(t, "member@example.com", members[0].Email)
}

func TestJoinCodeExpiryAndRotation(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return now }))
	lead := seedUser(t, s, "lead@example.com")
	project, err := s.InsertProject(ctx, store.Project{Name: "Team", Type: store.ProjectTeam, CreatorID: lead.ID})
	require.NoError(t, err)

	code, err := s.GenerateCode(ctx)
	require.NoError(t, err)
	assert.True(t, joincode.Valid(code), "generated %q", code)

	_, err = s.InsertJoinCode(ctx, store.JoinCode{Code: code, ProjectID: project.ID, CreatorID: lead.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)})
	require.NoError(t, err)

	_, err = s.FindActiveJoinCode(ctx, code, now.Add(59*time.Minute))
	require.NoError(t, err)
	_, err = s.FindActiveJoinCode(ctx, code, now.Add(time.Hour))
	require.ErrorIs(t, err, store.ErrNotFound, "expires_at must be strictly after now")

	rotated, err := s.GenerateCode(ctx)
	require.NoError(t, err)
	later := now.Add(10 * time.Minute)
	_, err = s.InsertJoinCode(ctx, store.JoinCode{Code: rotated, ProjectID: project.ID, CreatorID: lead.ID, CreatedAt: later, ExpiresAt: later.Add(time.Hour)})
	require.NoError(t, err)

	_, err = s.FindActiveJoinCode(ctx, code, later)
	require.ErrorIs(t, err, store.ErrNotFound, "minting must expire the previous code")
	active, err := s.ActiveJoinCodeForProject(ctx, project.ID, later)
	require.NoError(t, err)
	assert.Equal(t, rotated, active.Code)

	purged, err := s.PurgeJoinCodes(ctx, later.Add(time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)
}

func TestTaskPredicatesAndPositions(t *testing.T) {
	ctx := context.Background()
	s := New()
	creator := seedUser(t, s, "creator@example.com")
	assignee := seedUser(t, s, "assignee@example.com")
	stranger := seedUser(t, s, "stranger@example.com")
	project, err := s.InsertProject(ctx, store.Project{Name: "Board", Type: store.ProjectTeam, CreatorID: creator.ID})
	require.NoError(t, err)

	max, err := s.MaxPosition(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, -1, max)

	task, err := s.InsertTask(ctx, store.Task{Title: "One", ProjectID: project.ID, CreatorID: creator.ID, AssigneeID: &assignee.ID, Position: 0})
	require.NoError(t, err)
	assert.Equal(t, store.TaskTodo, task.Status)
	assert.Equal(t, store.PriorityMedium, task.Priority)

	_, err = s.InsertTask(ctx, store.Task{Title: "Clash", ProjectID: project.ID, CreatorID: creator.ID, Position: 0})
	require.ErrorIs(t, err, store.ErrConflict)

	title := "Renamed"
	_, err = s.UpdateTask(ctx, task.ID, stranger.ID, store.TaskUpdate{Title: &title})
	require.ErrorIs(t, err, store.ErrForbidden)
	updated, err := s.UpdateTask(ctx, task.ID, assignee.ID, store.TaskUpdate{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)

	require.ErrorIs(t, s.DeleteTask(ctx, task.ID, assignee.ID), store.ErrForbidden)
	require.NoError(t, s.DeleteTask(ctx, task.ID, creator.ID))
	_, err = s.GetTask(ctx, task.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestMoveTaskShiftsLaterPositions(t *testing.T) {
	ctx := context.Background()
	s := New()
	user := seedUser(t, s, "mover@example.com")
	project, err := s.InsertProject(ctx, store.Project{Name: "Board", Type: store.ProjectIndividual, CreatorID: user.ID})
	require.NoError(t, err)

	var ids []string
	for i, title := range []string{"a", "b", "c"} {
		task, err := s.InsertTask(ctx, store.Task{Title: title, ProjectID: project.ID, CreatorID: user.ID, Position: i})
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}

	_, err = s.MoveTask(ctx, ids[2], user.ID, store.TaskReview, 1)
	require.NoError(t, err)

	tasks, err := s.ListTasks(ctx, project.ID)
	require.NoError(t, err)
	order := []string{tasks[0].ID, tasks[1].ID, tasks[2].ID}
	assert.Equal(t, []string{ids[0], ids[2], ids[1]}, order)
	assert.Equal(t, store.TaskReview, tasks[1].Status)
}

func TestDeleteProjectCascadesAndDetachesActivity(t *testing.T) {
	ctx := context.Background()
	s := New()
	lead := seedUser(t, s, "lead@example.com")
	member := seedUser(t, s, "member@example.com")
	project, err := s.InsertProject(ctx, store.Project{Name: "Doomed", Type: store.ProjectTeam, CreatorID: lead.ID})
	require.NoError(t, err)
	_, err = s.InsertMembership(ctx, store.Membership{ProjectID: project.ID, UserID: member.ID, Role: "member"})
	require.NoError(t, err)
	task, err := s.InsertTask(ctx, store.Task{Title: "t", ProjectID: project.ID, CreatorID: lead.ID})
	require.NoError(t, err)
	entry, err := s.LogActivity(ctx, store.ActivityEntry{ActorID: lead.ID, ProjectID: &project.ID, TaskID: &task.ID, Action: store.ActionCreatedTask})
	require.NoError(t, err)
	assert.Equal(t, "orbit", entry.Metadata["source"])

	require.ErrorIs(t, s.DeleteProject(ctx, project.ID, member.ID), store.ErrForbidden)
	require.NoError(t, s.DeleteProject(ctx, project.ID, lead.ID))

	tasks, err := s.ListTasks(ctx, project.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	members, err := s.ListProjectMembers(ctx, project.ID)
	require.NoError(t, err)
	assert.Empty(t, members)

	feed, err := s.ListActivities(ctx, store.ActivityFilter{UserID: lead.ID})
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Nil(t, feed[0].ProjectID)
	assert.Nil(t, feed[0].TaskID)
}

func TestListActivitiesNewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	s := New()
	user := seedUser(t, s, "feed@example.com")
	project, err := s.InsertProject(ctx, store.Project{Name: "Feed", Type: store.ProjectIndividual, CreatorID: user.ID})
	require.NoError(t, err)

	for _, action := range []string{"a", "b", "c"} {
		_, err := s.LogActivity(ctx, store.ActivityEntry{ActorID: user.ID, ProjectID: &project.ID, Action: action})
		require.NoError(t, err)
	}

	feed, err := s.ListActivities(ctx, store.ActivityFilter{UserID: user.ID, ProjectID: project.ID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, feed, 2)
	assert.Equal(t, "c", feed[0].Action)
	assert.Equal(t, "b", feed[1].Action)
}
