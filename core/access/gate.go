package access

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/trezcool/licita/core"
)

var (
	ErrNoRoles          = core.NewPermissionError("No tiene permisos para gestionar licitaciones")
	ErrCapability       = core.NewPermissionError("No tiene permisos para realizar esta acción")
	ErrSchoolScope      = core.NewPermissionError("No tiene permisos para esta licitación")
	ErrUnknownRole      = errors.New("rol desconocido")
	ErrSchoolIsRequired = errors.New("el rol encargado_licitacion requiere un colegio")
)

// Gate resolves who is calling and what they may touch.
type Gate struct {
	repo Repository
}

func NewGate(repo Repository) *Gate {
	return &Gate{repo: repo}
}

// Resolve loads the principal's roles and resolves its capabilities. It is meant to be called once per request.
func (g *Gate) Resolve(ctx context.Context, p core.Principal) (Actor, error) {
	roles, err := g.repo.QueryRoles(ctx, p.UserID)
	if err != nil {
		return Actor{}, errors.Wrap(err, "querying roles")
	}
	return ResolveCapabilities(p, roles), nil
}

// AssignRole validates and stores a new role assignment.
func (g *Gate) AssignRole(ctx context.Context, role RoleAssignment) (RoleAssignment, error) {
	gr, ok := grants[role.RoleType]
	if !ok {
		return RoleAssignment{}, ErrUnknownRole
	}
	if gr.schoolScoped && role.SchoolID == nil {
		return RoleAssignment{}, ErrSchoolIsRequired
	}
	if !gr.schoolScoped {
		role.SchoolID = nil
	}
	role.IsActive = true
	return g.repo.CreateRole(ctx, role)
}

// Roles returns the active role assignments of the user.
func (g *Gate) Roles(ctx context.Context, userID string) ([]RoleAssignment, error) {
	return g.repo.QueryRoles(ctx, userID)
}

// Actor is the resolved capability set of an authenticated caller.
type Actor struct {
	core.Principal

	global  map[Capability]bool            // capabilities on every school
	schools map[int64]map[Capability]bool // school-scoped capabilities
	gFields map[string]bool
	sFields map[int64]map[string]bool
}

// ResolveCapabilities folds the role rows into an Actor. Inactive and unknown roles are ignored,
// school-scoped roles without a school grant nothing.
func ResolveCapabilities(p core.Principal, roles []RoleAssignment) Actor {
	a := Actor{
		Principal: p,
		global:    make(map[Capability]bool),
		schools:   make(map[int64]map[Capability]bool),
		gFields:   make(map[string]bool),
		sFields:   make(map[int64]map[string]bool),
	}
	for _, role := range roles {
		gr, ok := grants[role.RoleType]
		if !ok || !role.IsActive {
			continue
		}
		if !gr.schoolScoped {
			merge(a.global, gr.capabilities)
			merge(a.gFields, gr.fields)
			continue
		}
		if role.SchoolID == nil {
			continue
		}
		sid := *role.SchoolID
		if a.schools[sid] == nil {
			a.schools[sid] = make(map[Capability]bool)
			a.sFields[sid] = make(map[string]bool)
		}
		merge(a.schools[sid], gr.capabilities)
		merge(a.sFields[sid], gr.fields)
	}
	return a
}

func merge[T comparable](dst, src map[T]bool) {
	for k := range src {
		dst[k] = true
	}
}

// HasAnyRole reports whether the actor holds at least one role of the licitaciones module.
func (a Actor) HasAnyRole() bool {
	return len(a.global) > 0 || len(a.schools) > 0
}

func (a Actor) IsAdmin() bool {
	return a.global[CapCreateLicitacion]
}

// Can reports whether the actor holds `c` on at least one school.
func (a Actor) Can(c Capability) bool {
	if a.global[c] {
		return true
	}
	for _, caps := range a.schools {
		if caps[c] {
			return true
		}
	}
	return false
}

// Authorize checks `c` against the licitación's school.
func (a Actor) Authorize(c Capability, schoolID int64) error {
	if !a.HasAnyRole() {
		return ErrNoRoles
	}
	if a.global[c] {
		return nil
	}
	if caps, ok := a.schools[schoolID]; ok {
		if caps[c] {
			return nil
		}
		return ErrCapability
	}
	if len(a.global) == 0 && len(a.schools) > 0 {
		return ErrSchoolScope
	}
	return ErrCapability
}

// Require checks a capability that is not tied to a given school (e.g. creating a licitación).
func (a Actor) Require(c Capability) error {
	if !a.HasAnyRole() {
		return ErrNoRoles
	}
	if !a.Can(c) {
		return ErrCapability
	}
	return nil
}

// FieldAllowed reports whether the actor may update `field` on a licitación of the given school.
func (a Actor) FieldAllowed(field string, schoolID int64) bool {
	return a.gFields[field] || a.sFields[schoolID][field]
}

// SchoolScope returns the schools the actor is restricted to. all is true when it is not restricted.
func (a Actor) SchoolScope(c Capability) (schoolIDs []int64, all bool) {
	if a.global[c] {
		return nil, true
	}
	for sid, caps := range a.schools {
		if caps[c] {
			schoolIDs = append(schoolIDs, sid)
		}
	}
	sort.Slice(schoolIDs, func(i, j int) bool { return schoolIDs[i] < schoolIDs[j] })
	return schoolIDs, false
}
