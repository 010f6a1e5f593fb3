package pgrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/licita/core"
	"github.com/trezcool/licita/core/access"
)

type roleRow struct {
	ID       string     `db:"id"`
	UserID   string     `db:"user_id"`
	RoleType string     `db:"role_type"`
	SchoolID null.Int64 `db:"school_id"`
	IsActive bool       `db:"is_active"`
}

type roleRepository struct {
	exec core.DBExecutor
}

var _ access.Repository = (*roleRepository)(nil) // interface compliance check

func NewRoleRepository(exec core.DBExecutor) *roleRepository {
	return &roleRepository{exec: exec}
}

func (repo *roleRepository) QueryRoles(ctx context.Context, userID string) ([]access.RoleAssignment, error) {
	var rows []roleRow
	err := sqlx.SelectContext(ctx, repo.exec, &rows,
		"SELECT id, user_id, role_type, school_id, is_active FROM user_roles WHERE user_id = $1 AND is_active ORDER BY created_at",
		userID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "querying roles")
	}
	roles := make([]access.RoleAssignment, 0, len(rows))
	for _, row := range rows {
		roles = append(roles, access.RoleAssignment{
			ID:       row.ID,
			UserID:   row.UserID,
			RoleType: row.RoleType,
			SchoolID: row.SchoolID.Ptr(),
			IsActive: row.IsActive,
		})
	}
	return roles, nil
}

func (repo *roleRepository) CreateRole(ctx context.Context, role access.RoleAssignment) (access.RoleAssignment, error) {
	role.ID = core.NewID()
	row := roleRow{
		ID:       role.ID,
		UserID:   role.UserID,
		RoleType: role.RoleType,
		SchoolID: null.Int64FromPtr(role.SchoolID),
		IsActive: role.IsActive,
	}
	_, err := sqlx.NamedExecContext(ctx, repo.exec,
		"INSERT INTO user_roles (id, user_id, role_type, school_id, is_active) VALUES (:id, :user_id, :role_type, :school_id, :is_active)",
		row,
	)
	if err != nil {
		return access.RoleAssignment{}, errors.Wrap(err, "inserting role")
	}
	return role, nil
}
