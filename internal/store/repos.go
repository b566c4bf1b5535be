package store

import (
	"context"
	"errors"
	"time"
)

// Repository errors. Anything else returned by a repository is a transport
// failure of the remote store.
var (
	ErrNotFound  = errors.New("store: not found")
	ErrConflict  = errors.New("store: conflict")
	ErrForbidden = errors.New("store: forbidden")
)

type UserRepository interface {
	EnsureUser(ctx context.Context, email, displayName string) (User, error)
	GetUser(ctx context.Context, userID string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	UpdateDisplayName(ctx context.Context, userID, displayName string) (User, error)
}

type ProjectRepository interface {
	InsertProject(ctx context.Context, project Project) (Project, error)
	GetProject(ctx context.Context, projectID string) (Project, error)
	// UpdateProject applies the patch when actorID is the creator or holds a
	// lead/admin membership; otherwise ErrForbidden.
	UpdateProject(ctx context.Context, projectID, actorID string, patch ProjectUpdate) (Project, error)
	// DeleteProject removes the project (and, by cascade, its tasks, members
	// and codes) when actorID is the creator; otherwise ErrForbidden.
	DeleteProject(ctx context.Context, projectID, actorID string) error
	// ListVisibleProjects returns every project where userID is the creator
	// OR holds a membership row, each exactly once.
	ListVisibleProjects(ctx context.Context, userID string) ([]Project, error)
}

type MembershipRepository interface {
	// InsertMembership fails with ErrConflict when (project, user) exists.
	InsertMembership(ctx context.Context, membership Membership) (Membership, error)
	GetMembership(ctx context.Context, membershipID string) (Membership, error)
	FindMembership(ctx context.Context, projectID, userID string) (Membership, error)
	UpdateMembershipRole(ctx context.Context, membershipID, role string) (Membership, error)
	DeleteMembership(ctx context.Context, membershipID string) error
	ListProjectMembers(ctx context.Context, projectID string) ([]Membership, error)
	// ListTeamMembers returns memberships of every project visible to userID.
	ListTeamMembers(ctx context.Context, userID string) ([]Membership, error)
}

type JoinCodeRepository interface {
	// GenerateCode asks the remote store for a fresh token.
	GenerateCode(ctx context.Context) (string, error)
	// InsertJoinCode stores code and expires any other active code of the
	// same project.
	InsertJoinCode(ctx context.Context, code JoinCode) (JoinCode, error)
	// FindActiveJoinCode returns the code only while expires_at > now.
	FindActiveJoinCode(ctx context.Context, code string, now time.Time) (JoinCode, error)
	ActiveJoinCodeForProject(ctx context.Context, projectID string, now time.Time) (JoinCode, error)
	PurgeJoinCodes(ctx context.Context, expiredBefore time.Time) (int64, error)
}

type TaskRepository interface {
	InsertTask(ctx context.Context, task Task) (Task, error)
	GetTask(ctx context.Context, taskID string) (Task, error)
	// MaxPosition returns the highest position in the project, or -1.
	MaxPosition(ctx context.Context, projectID string) (int, error)
	// UpdateTask applies the patch when actorID is the creator or assignee.
	UpdateTask(ctx context.Context, taskID, actorID string, patch TaskUpdate) (Task, error)
	// MoveTask writes status and position in one transaction, shifting the
	// tasks at or after position down by one.
	MoveTask(ctx context.Context, taskID, actorID string, status TaskStatus, position int) (Task, error)
	// DeleteTask removes the task when actorID is its creator.
	DeleteTask(ctx context.Context, taskID, actorID string) error
	ListTasks(ctx context.Context, projectID string) ([]Task, error)
}

type ActivityRepository interface {
	// LogActivity appends through the remote log_activity function.
	LogActivity(ctx context.Context, entry ActivityEntry) (ActivityEntry, error)
	ListActivities(ctx context.Context, filter ActivityFilter) ([]ActivityEntry, error)
}

// Repositories bundles every entity repository backed by one remote store.
type Repositories interface {
	UserRepository
	ProjectRepository
	MembershipRepository
	JoinCodeRepository
	TaskRepository
	ActivityRepository
	Ping(ctx context.Context) error
}
