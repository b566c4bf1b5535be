package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"orbit/api/internal/joincode"
	"orbit/api/internal/rbac"
	"orbit/api/internal/state"
	"orbit/api/internal/store"
)

// ListState tells a consumer how to render the project list.
type ListState string

const (
	ListReady ListState = "ready"
	// ListOnboarding: no projects and the user never created one.
	ListOnboarding ListState = "onboarding"
	// ListEmpty: no projects although the user created some before.
	ListEmpty ListState = "empty"
)

type ProjectList struct {
	Projects []store.Project
	State    ListState
}

type CreateProjectInput struct {
	Name        string            `json:"name" validate:"required,max=120"`
	Description string            `json:"description" validate:"max=2000"`
	Color       string            `json:"color" validate:"omitempty,hexcolor"`
	Type        store.ProjectType `json:"projectType" validate:"required,oneof=individual team"`
	Deadline    *time.Time        `json:"deadline"`
}

// CreateProjectResult carries the new project and, for team projects, its
// join code. CodeErr is set when the project exists but minting failed; the
// caller may retry with RotateJoinCode.
type CreateProjectResult struct {
	Project    store.Project
	Membership store.Membership
	JoinCode   *store.JoinCode
	CodeErr    error
}

type ProjectPatch struct {
	Name          *string              `json:"name" validate:"omitempty,max=120"`
	Description   *string              `json:"description" validate:"omitempty,max=2000"`
	Color         *string              `json:"color" validate:"omitempty,hexcolor"`
	Status        *store.ProjectStatus `json:"status" validate:"omitempty,oneof=active paused completed"`
	Deadline      *time.Time           `json:"deadline"`
	ClearDeadline bool                 `json:"clearDeadline"`
}

// FetchProjects loads every project the user created or is a member of and
// replaces the cached project list.
func (c *Coordinator) FetchProjects(ctx context.Context) (list ProjectList, err error) {
	defer c.observe("fetch_projects", time.Now(), &err)

	projects, err := c.repos.ListVisibleProjects(ctx, c.userID)
	if err != nil {
		return ProjectList{}, translateError("load projects", err)
	}

	list = ProjectList{Projects: projects, State: ListReady}
	if len(projects) == 0 {
		user, err := c.repos.GetUser(ctx, c.userID)
		if err != nil {
			return ProjectList{}, translateError("load projects", err)
		}
		list.Projects = []store.Project{}
		list.State = ListEmpty
		if !user.HasEverCreatedProject {
			list.State = ListOnboarding
		}
	}

	if err := stillLive(ctx, "load projects"); err != nil {
		return ProjectList{}, err
	}
	state.Replace(c.writer, state.Projects, list.Projects)
	return list, nil
}

func (c *Coordinator) CreateProject(ctx context.Context, input CreateProjectInput) (result CreateProjectResult, err error) {
	defer c.observe("create_project", time.Now(), &err)

	input.Name = c.sanitize(input.Name)
	input.Description = c.sanitize(input.Description)
	input.Color = strings.TrimSpace(input.Color)
	if err := c.validateStruct(input); err != nil {
		return CreateProjectResult{}, err
	}

	project, err := c.repos.InsertProject(ctx, store.Project{
		Name:        input.Name,
		Description: input.Description,
		Color:       input.Color,
		Type:        input.Type,
		Status:      store.ProjectActive,
		Deadline:    input.Deadline,
		CreatorID:   c.userID,
	})
	if err != nil {
		return CreateProjectResult{}, translateError("create project", err)
	}

	membership, err := c.repos.InsertMembership(ctx, store.Membership{
		ProjectID: project.ID,
		UserID:    c.userID,
		Role:      string(rbac.RoleLead),
	})
	if err != nil {
		c.log.Error("creator membership failed after project insert",
			zap.String("project_id", project.ID), zap.Error(err))
		return CreateProjectResult{}, partialFailure(
			"Project was created but adding you as its lead failed",
			map[string]any{"projectId": project.ID},
			err,
		)
	}

	result = CreateProjectResult{Project: project, Membership: membership}
	if project.Type == store.ProjectTeam {
		code, err := c.codes.Mint(ctx, project.ID, c.userID)
		if err != nil {
			c.log.Warn("mint join code failed", zap.String("project_id", project.ID), zap.Error(err))
			result.CodeErr = translateError("create a join code", err)
		} else {
			result.JoinCode = &code
		}
	}

	c.appendActivity(ctx, store.ActivityEntry{
		ProjectID:   &project.ID,
		Action:      store.ActionCreatedProject,
		Description: fmt.Sprintf("created project %s", project.Name),
		Metadata:    map[string]any{"project_name": project.Name, "project_type": string(project.Type)},
	})
	state.UpsertOne(c.writer, state.Projects, project)
	state.UpsertOne(c.writer, state.Members, membership)
	return result, nil
}

func (c *Coordinator) UpdateProject(ctx context.Context, projectID string, patch ProjectPatch) (project store.Project, err error) {
	defer c.observe("update_project", time.Now(), &err)

	patch.Name = c.sanitizePtr(patch.Name)
	patch.Description = c.sanitizePtr(patch.Description)
	if patch.Name != nil && *patch.Name == "" {
		return store.Project{}, validationError("name is required", map[string]string{"name": "name is required"})
	}
	if err := c.validateStruct(patch); err != nil {
		return store.Project{}, err
	}

	if _, err := c.authorize(ctx, projectID, rbac.ActionManageProject); err != nil {
		return store.Project{}, err
	}

	unlock := c.locks.Lock(projectKey(projectID))
	defer unlock()

	project, err = c.repos.UpdateProject(ctx, projectID, c.userID, store.ProjectUpdate{
		Name:          patch.Name,
		Description:   patch.Description,
		Color:         patch.Color,
		Status:        patch.Status,
		Deadline:      patch.Deadline,
		ClearDeadline: patch.ClearDeadline,
	})
	if err != nil {
		return store.Project{}, translateError("update this project", err)
	}

	c.appendActivity(ctx, store.ActivityEntry{
		ProjectID:   &project.ID,
		Action:      store.ActionUpdatedProject,
		Description: fmt.Sprintf("updated project %s", project.Name),
		Metadata:    map[string]any{"project_name": project.Name},
	})
	state.UpsertOne(c.writer, state.Projects, project)
	return project, nil
}

// DeleteProject removes the project and evicts its cached tasks and
// memberships.
func (c *Coordinator) DeleteProject(ctx context.Context, projectID string) (err error) {
	defer c.observe("delete_project", time.Now(), &err)

	unlock := c.locks.Lock(projectKey(projectID))
	defer unlock()

	name := ""
	if cached, ok := c.state.Project(projectID); ok {
		name = cached.Name
	} else if project, err := c.repos.GetProject(ctx, projectID); err == nil {
		name = project.Name
	}

	online, err := c.presence.Online(ctx, projectID)
	if err != nil {
		c.log.Warn("load presence failed", zap.String("project_id", projectID), zap.Error(err))
	}

	if err := c.repos.DeleteProject(ctx, projectID, c.userID); err != nil {
		return translateError("delete this project", err)
	}
	c.leave(ctx, projectID, lo.Uniq(append(online, c.userID))...)

	evicted := lo.FilterMap(c.state.Tasks(), func(t store.Task, _ int) (string, bool) {
		return t.ID, t.ProjectID == projectID
	})
	state.RemoveOne(c.writer, state.Projects, projectID)
	state.RemoveWhere(c.writer, state.Tasks, func(t store.Task) bool { return t.ProjectID == projectID })
	state.RemoveWhere(c.writer, state.Members, func(m store.Membership) bool { return m.ProjectID == projectID })
	if c.state.ActiveProject() == projectID {
		c.writer.SetActiveProject("")
	}
	if c.search != nil {
		for _, id := range evicted {
			c.search.DeleteTask(id)
		}
	}

	// the project row is gone, so the entry carries its id in metadata only
	c.appendActivity(ctx, store.ActivityEntry{
		Action:      store.ActionDeletedProject,
		Description: fmt.Sprintf("deleted project %s", name),
		Metadata:    map[string]any{"project_id": projectID, "project_name": name},
	})
	return nil
}

// JoinProject redeems a join code for the current user.
func (c *Coordinator) JoinProject(ctx context.Context, code string) (redemption joincode.Redemption, err error) {
	defer c.observe("join_project", time.Now(), &err)

	redemption, err = c.codes.Redeem(ctx, code, c.userID)
	if err != nil {
		return joincode.Redemption{}, translateError("join this project", err)
	}

	project := redemption.Project
	c.appendActivity(ctx, store.ActivityEntry{
		ProjectID:   &project.ID,
		Action:      store.ActionJoinedProject,
		Description: fmt.Sprintf("joined %s", project.Name),
		Metadata:    map[string]any{"project_name": project.Name, "code": redemption.Code.Code},
	})
	state.UpsertOne(c.writer, state.Projects, project)
	state.UpsertOne(c.writer, state.Members, redemption.Membership)
	return redemption, nil
}

// RotateJoinCode mints a fresh code for the project, expiring the old one.
func (c *Coordinator) RotateJoinCode(ctx context.Context, projectID string) (code store.JoinCode, err error) {
	defer c.observe("rotate_join_code", time.Now(), &err)

	project, err := c.authorize(ctx, projectID, rbac.ActionRotateCode)
	if err != nil {
		return store.JoinCode{}, err
	}
	if project.Type != store.ProjectTeam {
		return store.JoinCode{}, validationError("Only team projects have join codes", nil)
	}

	unlock := c.locks.Lock(projectKey(projectID))
	defer unlock()

	code, err = c.codes.Mint(ctx, projectID, c.userID)
	if err != nil {
		return store.JoinCode{}, translateError("create a join code", err)
	}
	return code, nil
}

// ActiveJoinCode returns the project's current code to any of its members.
func (c *Coordinator) ActiveJoinCode(ctx context.Context, projectID string) (code store.JoinCode, err error) {
	defer c.observe("active_join_code", time.Now(), &err)

	if _, err := c.authorize(ctx, projectID, rbac.ActionRead); err != nil {
		return store.JoinCode{}, err
	}
	code, err = c.codes.Active(ctx, projectID)
	if err != nil {
		return store.JoinCode{}, translateError("load the join code", err)
	}
	return code, nil
}

// activeOrMintCode returns the project's active code, minting one if none is
// active.
func (c *Coordinator) activeOrMintCode(ctx context.Context, projectID string) (store.JoinCode, error) {
	code, err := c.codes.Active(ctx, projectID)
	if err == nil {
		return code, nil
	}
	if !errors.Is(err, joincode.ErrInvalidOrExpired) {
		return store.JoinCode{}, err
	}
	return c.codes.Mint(ctx, projectID, c.userID)
}
