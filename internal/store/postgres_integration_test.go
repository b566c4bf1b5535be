package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestPostgresVisibleProjectsUnionsOwnedAndMemberOf(t *testing.T) {
	db := testDatabase(t)
	ctx := context.Background()
	s := NewPostgresStore(db)

	alice, err := s.EnsureUser(ctx, "alice@example.com", "Alice")
	if err != nil {
		t.Fatalf("ensure alice: %v", err)
	}
	bob, err := s.EnsureUser(ctx, "bob@example.com", "Bob")
	if err != nil {
		t.Fatalf("ensure bob: %v", err)
	}

	owned, err := s.InsertProject(ctx, Project{Name: "Owned", Type: ProjectTeam, CreatorID: alice.ID})
	if err != nil {
		t.Fatalf("insert owned: %v", err)
	}
	if _, err := s.InsertMembership(ctx, Membership{ProjectID: owned.ID, UserID: alice.ID, Role: "lead"}); err != nil {
		t.Fatalf("insert lead membership: %v", err)
	}
	shared, err := s.InsertProject(ctx, Project{Name: "Shared", Type: ProjectTeam, CreatorID: bob.ID})
	if err != nil {
		t.Fatalf("insert shared: %v", err)
	}
	if _, err := s.InsertMembership(ctx, Membership{ProjectID: shared.ID, UserID: alice.ID, Role: "member"}); err != nil {
		t.Fatalf("insert member membership: %v", err)
	}
	if _, err := s.InsertProject(ctx, Project{Name: "Private", Type: ProjectIndividual, CreatorID: bob.ID}); err != nil {
		t.Fatalf("insert private: %v", err)
	}

	projects, err := s.ListVisibleProjects(ctx, alice.ID)
	if err != nil {
		t.Fatalf("list visible: %v", err)
	}
	got := map[string]int{}
	for _, p := range projects {
		got[p.ID]++
	}
	if len(projects) != 2 || got[owned.ID] != 1 || got[shared.ID] != 1 {
		t.Fatalf("expected owned and shared exactly once, got %+v", projects)
	}

	refreshed, err := s.GetUser(ctx, alice.ID)
	if err != nil {
		t.Fatalf("get alice: %v", err)
	}
	if !refreshed.HasEverCreatedProject {
		t.Fatal("expected has_ever_created_project after inserting a project")
	}

	if _, err := s.InsertMembership(ctx, Membership{ProjectID: shared.ID, UserID: alice.ID, Role: "member"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate membership: expected ErrConflict, got %v", err)
	}
	if err := s.DeleteProject(ctx, shared.ID, alice.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-creator delete: expected ErrForbidden, got %v", err)
	}
}

func TestPostgresJoinCodeLifecycle(t *testing.T) {
	db := testDatabase(t)
	ctx := context.Background()
	s := NewPostgresStore(db)

	lead, err := s.EnsureUser(ctx, "lead@example.com", "Lead")
	if err != nil {
		t.Fatalf("ensure lead: %v", err)
	}
	project, err := s.InsertProject(ctx, Project{Name: "Team", Type: ProjectTeam, CreatorID: lead.ID})
	if err != nil {
		t.Fatalf("insert project: %v", err)
	}

	now := time.Now().UTC()
	first, err := s.GenerateCode(ctx)
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	if _, err := s.InsertJoinCode(ctx, JoinCode{Code: first, ProjectID: project.ID, CreatorID: lead.ID, CreatedAt: now, ExpiresAt: now.Add(30 * 24 * time.Hour)}); err != nil {
		t.Fatalf("insert first code: %v", err)
	}
	second, err := s.GenerateCode(ctx)
	if err != nil {
		t.Fatalf("generate second code: %v", err)
	}
	later := now.Add(time.Second)
	if _, err := s.InsertJoinCode(ctx, JoinCode{Code: second, ProjectID: project.ID, CreatorID: lead.ID, CreatedAt: later, ExpiresAt: later.Add(30 * 24 * time.Hour)}); err != nil {
		t.Fatalf("insert second code: %v", err)
	}

	if _, err := s.FindActiveJoinCode(ctx, first, later.Add(time.Second)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rotated code should be inactive, got %v", err)
	}
	active, err := s.ActiveJoinCodeForProject(ctx, project.ID, later.Add(time.Second))
	if err != nil {
		t.Fatalf("active code: %v", err)
	}
	if active.Code != second {
		t.Fatalf("active code = %s, want %s", active.Code, second)
	}

	purged, err := s.PurgeJoinCodes(ctx, later.Add(time.Minute))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged %d codes, want 1", purged)
	}
}

func TestPostgresMoveTaskShiftsPositions(t *testing.T) {
	db := testDatabase(t)
	ctx := context.Background()
	s := NewPostgresStore(db)

	user, err := s.EnsureUser(ctx, "tasks@example.com", "Tasks")
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	project, err := s.InsertProject(ctx, Project{Name: "Board", Type: ProjectIndividual, CreatorID: user.ID})
	if err != nil {
		t.Fatalf("insert project: %v", err)
	}

	if max, err := s.MaxPosition(ctx, project.ID); err != nil || max != -1 {
		t.Fatalf("empty project max position = %d, %v; want -1", max, err)
	}

	ids := make([]string, 0, 3)
	for i, title := range []string{"a", "b", "c"} {
		task, err := s.InsertTask(ctx, Task{Title: title, ProjectID: project.ID, CreatorID: user.ID, Position: i})
		if err != nil {
			t.Fatalf("insert task %s: %v", title, err)
		}
		ids = append(ids, task.ID)
	}

	moved, err := s.MoveTask(ctx, ids[2], user.ID, TaskInProgress, 0)
	if err != nil {
		t.Fatalf("move task: %v", err)
	}
	if moved.Position != 0 || moved.Status != TaskInProgress {
		t.Fatalf("unexpected moved task: %+v", moved)
	}

	tasks, err := s.ListTasks(ctx, project.ID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	seen := map[int]bool{}
	for _, task := range tasks {
		if seen[task.Position] {
			t.Fatalf("duplicate position %d", task.Position)
		}
		seen[task.Position] = true
	}
	if tasks[0].ID != ids[2] {
		t.Fatalf("expected moved task first, got %s", tasks[0].ID)
	}
}

func TestPostgresActivityLogIsAppendOnly(t *testing.T) {
	db := testDatabase(t)
	ctx := context.Background()
	s := NewPostgresStore(db)

	user, err := s.EnsureUser(ctx, "log@example.com", "Log")
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	project, err := s.InsertProject(ctx, Project{Name: "Logged", Type: ProjectIndividual, CreatorID: user.ID})
	if err != nil {
		t.Fatalf("insert project: %v", err)
	}
	entry, err := s.LogActivity(ctx, ActivityEntry{
		ActorID:     user.ID,
		ProjectID:   &project.ID,
		Action:      ActionCreatedProject,
		Description: "Created project Logged",
		Metadata:    map[string]any{"project_name": "Logged"},
	})
	if err != nil {
		t.Fatalf("log activity: %v", err)
	}
	if entry.Metadata["source"] != "orbit" || entry.Metadata["project_name"] != "Logged" {
		t.Fatalf("expected merged metadata, got %+v", entry.Metadata)
	}

	_, err = db.ExecContext(ctx, `UPDATE activity_logs SET description='rewritten' WHERE id=$1`, entry.ID)
	assertAppendOnlyViolation(t, err)
	_, err = db.ExecContext(ctx, `DELETE FROM activity_logs WHERE id=$1`, entry.ID)
	assertAppendOnlyViolation(t, err)

	// Deleting the project only detaches the entry.
	if err := s.DeleteProject(ctx, project.ID, user.ID); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	entries, err := s.ListActivities(ctx, ActivityFilter{UserID: user.ID})
	if err != nil {
		t.Fatalf("list activities: %v", err)
	}
	if len(entries) != 1 || entries[0].ProjectID != nil {
		t.Fatalf("expected one detached entry, got %+v", entries)
	}
}

func assertAppendOnlyViolation(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected append-only violation, got nil")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected PostgreSQL error, got: %v", err)
	}
	if pgErr.SQLState() != "55000" {
		t.Fatalf("expected SQLSTATE 55000, got: %s", pgErr.SQLState())
	}
}
