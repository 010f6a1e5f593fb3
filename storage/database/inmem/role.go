package inmemdb

import (
	"context"

	"github.com/trezcool/licita/core"
	"github.com/trezcool/licita/core/access"
)

type roleRepository struct {
	db *DB
}

var _ access.Repository = (*roleRepository)(nil) // interface compliance check

func NewRoleRepository(db *DB) *roleRepository {
	return &roleRepository{db: db}
}

func (repo *roleRepository) QueryRoles(_ context.Context, userID string) ([]access.RoleAssignment, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var roles []access.RoleAssignment
	for _, role := range repo.db.roles {
		if role.UserID == userID && role.IsActive {
			roles = append(roles, role)
		}
	}
	return roles, nil
}

func (repo *roleRepository) CreateRole(_ context.Context, role access.RoleAssignment) (access.RoleAssignment, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	role.ID = core.NewID()
	repo.db.roles = append(repo.db.roles, role)
	return role, nil
}
