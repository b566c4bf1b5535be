package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"orbit/api/internal/email"
	"orbit/api/internal/rbac"
	"orbit/api/internal/state"
	"orbit/api/internal/store"
)

type InviteInput struct {
	ProjectID string `json:"projectId" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Role      string `json:"role" validate:"omitempty,oneof=admin lead member"`
}

// Invitation reports what InviteMember did. Pending is true when no account
// exists for the address yet; the invitee then joins with Code.
type Invitation struct {
	Email      string
	Membership *store.Membership
	Pending    bool
	Code       string
	Mailed     bool
}

// roleIn returns the user's role in project, or "" without access. The
// creator is always a lead.
func (c *Coordinator) roleIn(ctx context.Context, project store.Project) (rbac.Role, error) {
	if project.CreatorID == c.userID {
		return rbac.RoleLead, nil
	}
	membership, err := c.repos.FindMembership(ctx, project.ID, c.userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return rbac.Normalize(membership.Role), nil
}

// authorize loads the project and checks that the user may perform action
// on it.
func (c *Coordinator) authorize(ctx context.Context, projectID string, action rbac.Action) (store.Project, error) {
	project, err := c.repos.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, translateError("load project", err)
	}
	role, err := c.roleIn(ctx, project)
	if err != nil {
		return store.Project{}, translateError("check project access", err)
	}
	if role == "" {
		return store.Project{}, permissionError("You are not a member of this project")
	}
	if !rbac.Can(role, action) {
		return store.Project{}, permissionError(fmt.Sprintf("A %s cannot %s", role, strings.ReplaceAll(string(action), "_", " ")))
	}
	return project, nil
}

// FetchMembers loads the memberships of every project visible to the user.
func (c *Coordinator) FetchMembers(ctx context.Context) (members []store.Membership, err error) {
	defer c.observe("fetch_members", time.Now(), &err)

	members, err = c.repos.ListTeamMembers(ctx, c.userID)
	if err != nil {
		return nil, translateError("load team members", err)
	}
	if err := stillLive(ctx, "load team members"); err != nil {
		return nil, err
	}
	state.Replace(c.writer, state.Members, members)
	return members, nil
}

// InviteMember adds a registered user to the project directly, or mails the
// join code to an address without an account.
func (c *Coordinator) InviteMember(ctx context.Context, input InviteInput) (invite Invitation, err error) {
	defer c.observe("invite_member", time.Now(), &err)

	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if err := c.validateStruct(input); err != nil {
		return Invitation{}, err
	}
	role := rbac.Normalize(input.Role)

	project, err := c.authorize(ctx, input.ProjectID, rbac.ActionManageMembers)
	if err != nil {
		return Invitation{}, err
	}

	if project.Type != store.ProjectTeam {
		return Invitation{}, validationError("Only team projects accept invitations", nil)
	}

	invite = Invitation{Email: input.Email}
	code, codeErr := c.activeOrMintCode(ctx, project.ID)
	if codeErr == nil {
		invite.Code = code.Code
	}

	user, err := c.repos.GetUserByEmail(ctx, input.Email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if codeErr != nil {
			return Invitation{}, translateError("create a join code", codeErr)
		}
		invite.Pending = true
	case err != nil:
		return Invitation{}, translateError("invite member", err)
	default:
		if user.ID == project.CreatorID {
			return Invitation{}, conflictError("ALREADY_MEMBER", "already a member")
		}
		unlock := c.locks.Lock(projectKey(project.ID))
		membership, err := c.repos.InsertMembership(ctx, store.Membership{
			ProjectID: project.ID,
			UserID:    user.ID,
			Role:      string(role),
		})
		unlock()
		if errors.Is(err, store.ErrConflict) {
			return Invitation{}, conflictError("ALREADY_MEMBER", "already a member")
		}
		if err != nil {
			return Invitation{}, translateError("invite member", err)
		}
		invite.Membership = &membership
		c.appendActivity(ctx, store.ActivityEntry{
			ProjectID:   &project.ID,
			Action:      store.ActionInvitedMember,
			Description: fmt.Sprintf("added %s to %s", membership.DisplayName, project.Name),
			Metadata:    map[string]any{"email": input.Email, "role": string(role), "user_id": user.ID},
		})
		state.UpsertOne(c.writer, state.Members, membership)
	}

	invite.Mailed = c.mailInvite(ctx, project, invite, code)
	return invite, nil
}

func (c *Coordinator) mailInvite(ctx context.Context, project store.Project, invite Invitation, code store.JoinCode) bool {
	if c.mailer == nil || !c.mailer.IsConfigured() || invite.Code == "" {
		return false
	}
	inviter := "A teammate"
	if user, err := c.repos.GetUser(ctx, c.userID); err == nil && user.DisplayName != "" {
		inviter = user.DisplayName
	}
	err := c.mailer.SendInviteEmail(invite.Email, email.InviteData{
		InviterName: inviter,
		ProjectName: project.Name,
		Code:        code.Code,
		ExpiresAt:   code.ExpiresAt,
		Pending:     invite.Pending,
	})
	if err != nil {
		c.log.Warn("send invite mail", zap.String("project_id", project.ID), zap.Error(err))
		return false
	}
	return true
}

// RemoveMember deletes a membership. Members may remove themselves; removing
// anyone else needs manage-members rights. The creator cannot be removed.
func (c *Coordinator) RemoveMember(ctx context.Context, membershipID string) (err error) {
	defer c.observe("remove_member", time.Now(), &err)

	unlock := c.locks.Lock(memberKey(membershipID))
	defer unlock()

	membership, err := c.repos.GetMembership(ctx, membershipID)
	if err != nil {
		return translateError("remove member", err)
	}
	project, err := c.repos.GetProject(ctx, membership.ProjectID)
	if err != nil {
		return translateError("remove member", err)
	}
	if membership.UserID == project.CreatorID {
		return permissionError("The project creator cannot be removed")
	}
	leaving := membership.UserID == c.userID
	if !leaving {
		if _, err := c.authorize(ctx, project.ID, rbac.ActionManageMembers); err != nil {
			return err
		}
	}

	if err := c.repos.DeleteMembership(ctx, membershipID); err != nil {
		return translateError("remove member", err)
	}

	state.RemoveOne(c.writer, state.Members, membershipID)
	c.leave(ctx, project.ID, membership.UserID)
	action := fmt.Sprintf("removed %s from %s", membership.DisplayName, project.Name)
	if leaving {
		action = fmt.Sprintf("left %s", project.Name)
	}
	c.appendActivity(ctx, store.ActivityEntry{
		ProjectID:   &project.ID,
		Action:      store.ActionRemovedMember,
		Description: action,
		Metadata:    map[string]any{"user_id": membership.UserID, "email": membership.Email},
	})
	if leaving {
		state.RemoveOne(c.writer, state.Projects, project.ID)
		state.RemoveWhere(c.writer, state.Tasks, func(t store.Task) bool { return t.ProjectID == project.ID })
		state.RemoveWhere(c.writer, state.Members, func(m store.Membership) bool { return m.ProjectID == project.ID })
		if c.state.ActiveProject() == project.ID {
			c.writer.SetActiveProject("")
		}
	}
	return nil
}

func (c *Coordinator) UpdateMemberRole(ctx context.Context, membershipID, role string) (membership store.Membership, err error) {
	defer c.observe("update_member_role", time.Now(), &err)

	role = strings.ToLower(strings.TrimSpace(role))
	if !rbac.Valid(role) {
		return store.Membership{}, validationError("role must be one of: admin lead member", map[string]string{"role": "role is invalid"})
	}

	unlock := c.locks.Lock(memberKey(membershipID))
	defer unlock()

	current, err := c.repos.GetMembership(ctx, membershipID)
	if err != nil {
		return store.Membership{}, translateError("update member role", err)
	}
	project, err := c.authorize(ctx, current.ProjectID, rbac.ActionManageMembers)
	if err != nil {
		return store.Membership{}, err
	}
	if current.UserID == project.CreatorID && role != string(rbac.RoleLead) {
		return store.Membership{}, permissionError("The project creator stays lead")
	}

	membership, err = c.repos.UpdateMembershipRole(ctx, membershipID, role)
	if err != nil {
		return store.Membership{}, translateError("update member role", err)
	}
	c.appendActivity(ctx, store.ActivityEntry{
		ProjectID:   &project.ID,
		Action:      store.ActionUpdatedMemberRole,
		Description: fmt.Sprintf("made %s %s in %s", membership.DisplayName, role, project.Name),
		Metadata:    map[string]any{"user_id": membership.UserID, "from": current.Role, "to": role},
	})
	state.UpsertOne(c.writer, state.Members, membership)
	return membership, nil
}

// CurrentUser returns the session's user.
func (c *Coordinator) CurrentUser(ctx context.Context) (store.User, error) {
	user, err := c.repos.GetUser(ctx, c.userID)
	if err != nil {
		return store.User{}, translateError("load profile", err)
	}
	return user, nil
}

func (c *Coordinator) UpdateProfile(ctx context.Context, displayName string) (user store.User, err error) {
	defer c.observe("update_profile", time.Now(), &err)

	displayName = c.sanitize(displayName)
	if err := c.validate.Var(displayName, "required,max=80"); err != nil {
		return store.User{}, validationError("displayName is required and at most 80 characters", nil)
	}
	user, err = c.repos.UpdateDisplayName(ctx, c.userID, displayName)
	if err != nil {
		return store.User{}, translateError("update profile", err)
	}
	return user, nil
}

// Heartbeat marks the user online in every visible project.
func (c *Coordinator) Heartbeat(ctx context.Context) error {
	projects := c.state.Projects()
	if len(projects) == 0 {
		var err error
		if projects, err = c.repos.ListVisibleProjects(ctx, c.userID); err != nil {
			return translateError("update presence", err)
		}
	}
	ids := make([]string, 0, len(projects))
	for _, p := range projects {
		ids = append(ids, p.ID)
	}
	if err := c.presence.Heartbeat(ctx, c.userID, ids); err != nil {
		return translateError("update presence", err)
	}
	return nil
}

// OnlineMembers lists the user ids with a live heartbeat in the project.
func (c *Coordinator) OnlineMembers(ctx context.Context, projectID string) ([]string, error) {
	if _, err := c.authorize(ctx, projectID, rbac.ActionRead); err != nil {
		return nil, err
	}
	online, err := c.presence.Online(ctx, projectID)
	if err != nil {
		return nil, translateError("load presence", err)
	}
	return online, nil
}
