package store

import "time"

type ProjectType string

const (
	ProjectIndividual ProjectType = "individual"
	ProjectTeam       ProjectType = "team"
)

type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectPaused    ProjectStatus = "paused"
	ProjectCompleted ProjectStatus = "completed"
)

type TaskStatus string

// Workflow order: todo → in_progress → review → completed. Any status may be
// written; reopen moves a task back to todo.
const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskReview     TaskStatus = "review"
	TaskCompleted  TaskStatus = "completed"
)

// TaskStatuses lists the board columns in workflow order.
var TaskStatuses = []TaskStatus{TaskTodo, TaskInProgress, TaskReview, TaskCompleted}

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// Activity action tags written by the coordinator.
const (
	ActionCreatedProject    = "created_project"
	ActionUpdatedProject    = "updated_project"
	ActionDeletedProject    = "deleted_project"
	ActionCreatedTask       = "created_task"
	ActionUpdatedTask       = "updated_task"
	ActionMovedTask         = "moved_task"
	ActionCompletedTask     = "completed_task"
	ActionDeletedTask       = "deleted_task"
	ActionJoinedProject     = "joined_project"
	ActionInvitedMember     = "invited_member"
	ActionRemovedMember     = "removed_member"
	ActionUpdatedMemberRole = "updated_member_role"
)

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	Points                int
	Level                 int
	HasEverCreatedProject bool
	CreatedAt             time.Time
}

type Project struct {
	ID          string
	Name        string
	Description string
	Color       string
	Type        ProjectType
	Status      ProjectStatus
	Deadline    *time.Time
	CreatorID   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProjectUpdate carries the fields of a project patch; nil means unchanged.
type ProjectUpdate struct {
	Name        *string
	Description *string
	Color       *string
	Status      *ProjectStatus
	Deadline    *time.Time
	// ClearDeadline removes the deadline; it wins over Deadline.
	ClearDeadline bool
}

type Membership struct {
	ID        string
	ProjectID string
	UserID    string
	Role      string
	JoinedAt  time.Time
	// Joined from users for member lists
	DisplayName string
	Email       string
}

type JoinCode struct {
	Code      string
	ProjectID string
	CreatorID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type Task struct {
	ID          string
	Title       string
	Description string
	Status      TaskStatus
	Priority    TaskPriority
	ProjectID   string
	AssigneeID  *string
	CreatorID   string
	DueDate     *time.Time
	Position    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TaskUpdate carries the fields of a task patch; nil means unchanged.
type TaskUpdate struct {
	Title         *string
	Description   *string
	Status        *TaskStatus
	Priority      *TaskPriority
	AssigneeID    *string
	ClearAssignee bool
	DueDate       *time.Time
	ClearDueDate  bool
	Position      *int
}

type ActivityEntry struct {
	ID          string
	ActorID     string
	ProjectID   *string
	TaskID      *string
	Action      string
	Description string
	Metadata    map[string]any
	CreatedAt   time.Time
}

// ActivityFilter narrows ListActivities; an empty ProjectID lists the feed of
// every project visible to UserID.
type ActivityFilter struct {
	UserID    string
	ProjectID string
	Limit     int
}
