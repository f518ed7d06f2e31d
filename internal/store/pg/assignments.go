package pg

import (
	"context"
	"database/sql"
	"errors"

	"idgate.org/internal/identity"
)

const assignmentColumns = `id, user_id, role_id, active, assigned_at, assigned_by, expires_at`

type assignmentStore struct {
	db *sql.DB
}

func (s assignmentStore) Create(ctx context.Context, assignment *identity.RoleAssignment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		insert into user_roles (id, user_id, role_id, active, assigned_at, assigned_by, expires_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, assignment.ID, assignment.UserID, assignment.RoleID, assignment.Active,
		assignment.AssignedAt, nullIfEmpty(assignment.AssignedBy), nullTime(assignment.ExpiresAt))
	if err != nil {
		return mapConstraintError(err)
	}
	if err := appendAudit(ctx, tx, "role.assigned", assignment.UserID, map[string]any{
		"role_id":       assignment.RoleID,
		"assignment_id": assignment.ID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s assignmentStore) FindByUser(ctx context.Context, userID string) ([]identity.RoleAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+assignmentColumns+`
		from user_roles
		where user_id = $1
		order by assigned_at desc
	`, userID)
	if err != nil {
		return nil, err
	}
	return scanAssignments(rows)
}

func (s assignmentStore) FindByRole(ctx context.Context, roleID string) ([]identity.RoleAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+assignmentColumns+`
		from user_roles
		where role_id = $1
		order by assigned_at desc
	`, roleID)
	if err != nil {
		return nil, err
	}
	return scanAssignments(rows)
}

func (s assignmentStore) FindByUserAndRole(ctx context.Context, userID, roleID string) (*identity.RoleAssignment, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+assignmentColumns+`
		from user_roles
		where user_id = $1 and role_id = $2 and active
		order by assigned_at desc
		limit 1
	`, userID, roleID)
	assignment, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	return assignment, err
}

func (s assignmentStore) ActiveRoleNames(ctx context.Context, userID string) ([]identity.RoleName, error) {
	rows, err := s.db.QueryContext(ctx, `
		select distinct r.name
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		  and ur.active
		  and (ur.expires_at is null or ur.expires_at > now())
		  and r.active
		  and r.deleted_at is null
		order by r.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []identity.RoleName
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, identity.RoleName(name))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return names, nil
}

func (s assignmentStore) DeactivateByUserAndRole(ctx context.Context, userID, roleID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update user_roles
		set active = false
		where user_id = $1 and role_id = $2 and active
	`, userID, roleID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}
	if err := appendAudit(ctx, tx, "role.removed", userID, map[string]any{
		"role_id": roleID,
	}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s assignmentStore) DeactivateAllByUser(ctx context.Context, userID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update user_roles
		set active = false
		where user_id = $1 and active
	`, userID)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		if err := appendAudit(ctx, tx, "role.removed_all", userID, map[string]any{
			"count": affected,
		}); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return affected, nil
}

func scanAssignments(rows *sql.Rows) ([]identity.RoleAssignment, error) {
	defer rows.Close()
	var result []identity.RoleAssignment
	for rows.Next() {
		var (
			assignment identity.RoleAssignment
			assignedBy sql.NullString
			expiresAt  sql.NullTime
		)
		if err := rows.Scan(&assignment.ID, &assignment.UserID, &assignment.RoleID,
			&assignment.Active, &assignment.AssignedAt, &assignedBy, &expiresAt); err != nil {
			return nil, err
		}
		assignment.AssignedBy = assignedBy.String
		if expiresAt.Valid {
			assignment.ExpiresAt = &expiresAt.Time
		}
		result = append(result, assignment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanAssignment(row *sql.Row) (*identity.RoleAssignment, error) {
	var (
		assignment identity.RoleAssignment
		assignedBy sql.NullString
		expiresAt  sql.NullTime
	)
	if err := row.Scan(&assignment.ID, &assignment.UserID, &assignment.RoleID,
		&assignment.Active, &assignment.AssignedAt, &assignedBy, &expiresAt); err != nil {
		return nil, err
	}
	assignment.AssignedBy = assignedBy.String
	if expiresAt.Valid {
		assignment.ExpiresAt = &expiresAt.Time
	}
	return &assignment, nil
}
