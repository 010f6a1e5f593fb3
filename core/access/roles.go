package access

import "context"

// Roles
const (
	RoleAdmin     = "admin"
	RoleEncargado = "encargado_licitacion"
)

// Capabilities
const (
	CapViewLicitacion      Capability = "licitacion:view"
	CapListLicitaciones    Capability = "licitacion:list"
	CapCreateLicitacion    Capability = "licitacion:create"
	CapUpdateLicitacion    Capability = "licitacion:update"
	CapUpdateTimeline      Capability = "licitacion:timeline"
	CapConfirmPublicacion  Capability = "licitacion:publish"
	CapAdvanceLicitacion   Capability = "licitacion:advance"
	CapSaveAdjudicacion    Capability = "adjudicacion:save"
	CapConfirmAdjudicacion Capability = "adjudicacion:confirm"
	CapLinkContrato        Capability = "contrato:link"
	CapCloseLicitacion     Capability = "licitacion:close"
	CapViewConsultas       Capability = "consulta:view"
	CapCreateConsulta      Capability = "consulta:create"
	CapViewAtes            Capability = "ate:view"
	CapCreateAte           Capability = "ate:create"
	CapUpdateAte           Capability = "ate:update"
	CapDeleteAte           Capability = "ate:delete"
)

// Updatable licitación fields (column names).
const (
	FieldNombre                 = "nombre_licitacion"
	FieldEmail                  = "email_licitacion"
	FieldMontoMinimo            = "monto_minimo"
	FieldMontoMaximo            = "monto_maximo"
	FieldTipoMoneda             = "tipo_moneda"
	FieldDuracionMinima         = "duracion_minima"
	FieldDuracionMaxima         = "duracion_maxima"
	FieldParticipantesEstimados = "participantes_estimados"
	FieldModalidadPreferida     = "modalidad_preferida"
	FieldNotas                  = "notas"
	FieldPublicacionImagenURL   = "publicacion_imagen_url"
)

type Capability string

type grant struct {
	capabilities map[Capability]bool
	fields       map[string]bool
	schoolScoped bool
}

// grants is the role × (capability, field) table shared by authorization checks and the field-update allow-list.
var grants = map[string]grant{
	RoleAdmin: {
		capabilities: set(
			CapViewLicitacion, CapListLicitaciones, CapCreateLicitacion, CapUpdateLicitacion,
			CapUpdateTimeline, CapConfirmPublicacion, CapAdvanceLicitacion, CapSaveAdjudicacion,
			CapConfirmAdjudicacion, CapLinkContrato, CapCloseLicitacion, CapViewConsultas,
			CapCreateConsulta, CapViewAtes, CapCreateAte, CapUpdateAte, CapDeleteAte,
		),
		fields: set(
			FieldNombre, FieldEmail, FieldMontoMinimo, FieldMontoMaximo, FieldTipoMoneda,
			FieldDuracionMinima, FieldDuracionMaxima, FieldParticipantesEstimados,
			FieldModalidadPreferida, FieldNotas, FieldPublicacionImagenURL,
		),
	},
	RoleEncargado: {
		capabilities: set(
			CapViewLicitacion, CapListLicitaciones, CapUpdateLicitacion, CapConfirmPublicacion,
			CapViewConsultas, CapCreateConsulta, CapViewAtes, CapCreateAte, CapUpdateAte, CapDeleteAte,
		),
		fields:       set(FieldPublicacionImagenURL),
		schoolScoped: true,
	},
}

func set[T comparable](vals ...T) map[T]bool {
	m := make(map[T]bool, len(vals))
	for _, v := range vals {
		m[v] = true
	}
	return m
}

// IsKnownRole reports whether the role type takes part in the licitaciones module.
func IsKnownRole(roleType string) bool {
	_, ok := grants[roleType]
	return ok
}

// UpdatableFields returns every field some role may update.
func UpdatableFields() []string {
	seen := make(map[string]bool)
	var flds []string
	for _, g := range grants {
		for f := range g.fields {
			if !seen[f] {
				seen[f] = true
				flds = append(flds, f)
			}
		}
	}
	return flds
}

// RoleAssignment maps a user to a role type, school-scoped roles carry the school.
type RoleAssignment struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	RoleType string `json:"role_type"`
	SchoolID *int64 `json:"school_id"`
	IsActive bool   `json:"is_active"`
}

type Repository interface {
	// QueryRoles returns the active role assignments of the user.
	QueryRoles(ctx context.Context, userID string) ([]RoleAssignment, error)
	CreateRole(ctx context.Context, role RoleAssignment) (RoleAssignment, error)
}
