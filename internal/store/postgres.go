package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

type rowScanner interface {
	Scan(dest ...any) error
}

const userColumns = `id, display_name, email, points, level, has_ever_created_project, created_at`

func scanUser(row rowScanner) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.DisplayName, &user.Email, &user.Points, &user.Level, &user.HasEverCreatedProject, &user.CreatedAt)
	return user, err
}

// EnsureUser returns the user with the given email, creating it on first
// sight. An existing display name is left untouched.
func (s *PostgresStore) EnsureUser(ctx context.Context, email, displayName string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, display_name)
		VALUES (LOWER($1), $2)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING `+userColumns, email, displayName))
	if err != nil {
		return User{}, translate("ensure user", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
	if err != nil {
		return User{}, translate("get user", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=LOWER($1)`, email))
	if err != nil {
		return User{}, translate("get user by email", err)
	}
	return user, nil
}

func (s *PostgresStore) UpdateDisplayName(ctx context.Context, userID, displayName string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		UPDATE users SET display_name=$2 WHERE id=$1
		RETURNING `+userColumns, userID, displayName))
	if err != nil {
		return User{}, translate("update display name", err)
	}
	return user, nil
}

const projectColumns = `id, name, description, color, project_type, status, deadline, creator_id, created_at, updated_at`

func scanProject(row rowScanner) (Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Color, &p.Type, &p.Status, &p.Deadline, &p.CreatorID, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *PostgresStore) InsertProject(ctx context.Context, project Project) (Project, error) {
	status := project.Status
	if status == "" {
		status = ProjectActive
	}
	inserted, err := scanProject(s.db.QueryRowContext(ctx, `
		INSERT INTO projects (name, description, color, project_type, status, deadline, creator_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+projectColumns,
		project.Name, project.Description, project.Color, string(project.Type), string(status), project.Deadline, project.CreatorID))
	if err != nil {
		return Project{}, translate("insert project", err)
	}
	return inserted, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	project, err := scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=$1`, projectID))
	if err != nil {
		return Project{}, translate("get project", err)
	}
	return project, nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, projectID, actorID string, patch ProjectUpdate) (Project, error) {
	var status *string
	if patch.Status != nil {
		value := string(*patch.Status)
		status = &value
	}
	project, err := scanProject(s.db.QueryRowContext(ctx, `
		UPDATE projects p SET
			name = COALESCE($3, p.name),
			description = COALESCE($4, p.description),
			color = COALESCE($5, p.color),
			status = COALESCE($6, p.status),
			deadline = CASE WHEN $7 THEN NULL ELSE COALESCE($8, p.deadline) END,
			updated_at = NOW()
		WHERE p.id = $1
		  AND (p.creator_id = $2 OR EXISTS (
			SELECT 1 FROM project_members m
			WHERE m.project_id = p.id AND m.user_id = $2 AND m.role IN ('lead', 'admin')
		  ))
		RETURNING `+projectColumns,
		projectID, actorID, patch.Name, patch.Description, patch.Color, status, patch.ClearDeadline, patch.Deadline))
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, s.forbiddenOrMissing(ctx, "update project", `SELECT 1 FROM projects WHERE id=$1`, projectID)
	}
	if err != nil {
		return Project{}, translate("update project", err)
	}
	return project, nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, projectID, actorID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1 AND creator_id=$2`, projectID, actorID)
	if err != nil {
		return translate("delete project", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return s.forbiddenOrMissing(ctx, "delete project", `SELECT 1 FROM projects WHERE id=$1`, projectID)
	}
	return nil
}

func (s *PostgresStore) ListVisibleProjects(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+`
		FROM get_user_projects($1)
		ORDER BY updated_at DESC, id
	`, userID)
	if err != nil {
		return nil, translate("list visible projects", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		item, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

// forbiddenOrMissing runs after a guarded write touched no rows: the row
// either exists and the actor lacks the right, or it is gone.
func (s *PostgresStore) forbiddenOrMissing(ctx context.Context, op, existsQuery, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, existsQuery, id).Scan(&one)
	if err == nil {
		return fmt.Errorf("%s: %w", op, ErrForbidden)
	}
	return translate(op, err)
}

const membershipColumns = `m.id, m.project_id, m.user_id, m.role, m.joined_at, u.display_name, u.email`

func scanMembership(row rowScanner) (Membership, error) {
	var m Membership
	err := row.Scan(&m.ID, &m.ProjectID, &m.UserID, &m.Role, &m.JoinedAt, &m.DisplayName, &m.Email)
	return m, err
}

func (s *PostgresStore) InsertMembership(ctx context.Context, membership Membership) (Membership, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO project_members (project_id, user_id, role)
		VALUES ($1, $2, $3)
		RETURNING id
	`, membership.ProjectID, membership.UserID, membership.Role).Scan(&id)
	if err != nil {
		return Membership{}, translate("insert membership", err)
	}
	return s.GetMembership(ctx, id)
}

func (s *PostgresStore) GetMembership(ctx context.Context, membershipID string) (Membership, error) {
	m, err := scanMembership(s.db.QueryRowContext(ctx, `
		SELECT `+membershipColumns+`
		FROM project_members m JOIN users u ON u.id = m.user_id
		WHERE m.id=$1
	`, membershipID))
	if err != nil {
		return Membership{}, translate("get membership", err)
	}
	return m, nil
}

func (s *PostgresStore) FindMembership(ctx context.Context, projectID, userID string) (Membership, error) {
	m, err := scanMembership(s.db.QueryRowContext(ctx, `
		SELECT `+membershipColumns+`
		FROM project_members m JOIN users u ON u.id = m.user_id
		WHERE m.project_id=$1 AND m.user_id=$2
	`, projectID, userID))
	if err != nil {
		return Membership{}, translate("find membership", err)
	}
	return m, nil
}

func (s *PostgresStore) UpdateMembershipRole(ctx context.Context, membershipID, role string) (Membership, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE project_members SET role=$2 WHERE id=$1`, membershipID, role)
	if err != nil {
		return Membership{}, translate("update membership role", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return Membership{}, fmt.Errorf("update membership role: %w", ErrNotFound)
	}
	return s.GetMembership(ctx, membershipID)
}

func (s *PostgresStore) DeleteMembership(ctx context.Context, membershipID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM project_members WHERE id=$1`, membershipID)
	if err != nil {
		return translate("delete membership", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("delete membership: %w", ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListProjectMembers(ctx context.Context, projectID string) ([]Membership, error) {
	return s.listMemberships(ctx, "list project members", `
		SELECT `+membershipColumns+`
		FROM project_members m JOIN users u ON u.id = m.user_id
		WHERE m.project_id=$1
		ORDER BY m.joined_at, m.id
	`, projectID)
}

func (s *PostgresStore) ListTeamMembers(ctx context.Context, userID string) ([]Membership, error) {
	return s.listMemberships(ctx, "list team members", `
		SELECT `+membershipColumns+`
		FROM project_members m
		JOIN users u ON u.id = m.user_id
		JOIN get_user_projects($1) p ON p.id = m.project_id
		ORDER BY m.project_id, m.joined_at, m.id
	`, userID)
}

func (s *PostgresStore) listMemberships(ctx context.Context, op, query string, arg string) ([]Membership, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, translate(op, err)
	}
	defer rows.Close()

	items := make([]Membership, 0)
	for rows.Next() {
		item, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return items, nil
}

const joinCodeColumns = `code, project_id, creator_id, created_at, expires_at`

func scanJoinCode(row rowScanner) (JoinCode, error) {
	var c JoinCode
	err := row.Scan(&c.Code, &c.ProjectID, &c.CreatorID, &c.CreatedAt, &c.ExpiresAt)
	return c, err
}

func (s *PostgresStore) GenerateCode(ctx context.Context) (string, error) {
	var code string
	if err := s.db.QueryRowContext(ctx, `SELECT generate_team_code()`).Scan(&code); err != nil {
		return "", translate("generate team code", err)
	}
	return code, nil
}

func (s *PostgresStore) InsertJoinCode(ctx context.Context, code JoinCode) (JoinCode, error) {
	createdAt := code.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return JoinCode{}, translate("begin insert join code", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE team_codes SET expires_at=$2
		WHERE project_id=$1 AND expires_at > $2
	`, code.ProjectID, createdAt); err != nil {
		return JoinCode{}, translate("expire previous join codes", err)
	}
	inserted, err := scanJoinCode(tx.QueryRowContext(ctx, `
		INSERT INTO team_codes (code, project_id, creator_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+joinCodeColumns,
		code.Code, code.ProjectID, code.CreatorID, createdAt, code.ExpiresAt))
	if err != nil {
		return JoinCode{}, translate("insert join code", err)
	}
	if err := tx.Commit(); err != nil {
		return JoinCode{}, translate("commit join code", err)
	}
	return inserted, nil
}

func (s *PostgresStore) FindActiveJoinCode(ctx context.Context, code string, now time.Time) (JoinCode, error) {
	found, err := scanJoinCode(s.db.QueryRowContext(ctx, `
		SELECT `+joinCodeColumns+` FROM team_codes
		WHERE code=$1 AND expires_at > $2
	`, code, now))
	if err != nil {
		return JoinCode{}, translate("find join code", err)
	}
	return found, nil
}

func (s *PostgresStore) ActiveJoinCodeForProject(ctx context.Context, projectID string, now time.Time) (JoinCode, error) {
	found, err := scanJoinCode(s.db.QueryRowContext(ctx, `
		SELECT `+joinCodeColumns+` FROM team_codes
		WHERE project_id=$1 AND expires_at > $2
		ORDER BY created_at DESC
		LIMIT 1
	`, projectID, now))
	if err != nil {
		return JoinCode{}, translate("active join code", err)
	}
	return found, nil
}

func (s *PostgresStore) PurgeJoinCodes(ctx context.Context, expiredBefore time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM team_codes WHERE expires_at < $1`, expiredBefore)
	if err != nil {
		return 0, translate("purge join codes", err)
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
