package testutil

import (
	"context"
	"os"
	"testing"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/licita/core"
	"github.com/trezcool/licita/core/access"
	"github.com/trezcool/licita/core/licitacion"
	inmemdb "github.com/trezcool/licita/storage/database/inmem"
)

const SecretKey = "test-secret-key"

func NewConfig() *core.Config {
	_ = os.Setenv("ENV", "TEST")
	conf := core.NewConfig()
	conf.SecretKey = SecretKey
	conf.Server.RateLimit = 0
	return conf
}

// NewValidator returns a validator set up with the Spanish translations.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	return validate, translator
}

// Store bundles an in-memory DB with its repositories.
type Store struct {
	DB         *inmemdb.DB
	Licitacion licitacion.Repository
	Roles      access.Repository
}

func PrepareDB() Store {
	db := inmemdb.Open()
	return Store{
		DB:         db,
		Licitacion: inmemdb.NewLicitacionRepository(db),
		Roles:      inmemdb.NewRoleRepository(db),
	}
}

func NewService(store Store) *licitacion.Service {
	validate, translator := NewValidator()
	return licitacion.NewService(store.Licitacion, validate, translator)
}

func AdminActor(userID string) access.Actor {
	return access.ResolveCapabilities(
		core.Principal{UserID: userID, Email: userID + "@test.cl"},
		[]access.RoleAssignment{{UserID: userID, RoleType: access.RoleAdmin, IsActive: true}},
	)
}

func EncargadoActor(userID string, schoolIDs ...int64) access.Actor {
	roles := make([]access.RoleAssignment, 0, len(schoolIDs))
	for i := range schoolIDs {
		roles = append(roles, access.RoleAssignment{
			UserID: userID, RoleType: access.RoleEncargado, SchoolID: &schoolIDs[i], IsActive: true,
		})
	}
	return access.ResolveCapabilities(core.Principal{UserID: userID, Email: userID + "@test.cl"}, roles)
}

func CreateRole(t *testing.T, repo access.Repository, userID, roleType string, schoolID *int64) access.RoleAssignment {
	role, err := access.NewGate(repo).AssignRole(context.Background(), access.RoleAssignment{
		UserID:   userID,
		RoleType: roleType,
		SchoolID: schoolID,
	})
	if err != nil {
		t.Fatalf("createRole() failed: %v", err)
	}
	return role
}

func CreateLicitacion(t *testing.T, svc *licitacion.Service, schoolID int64) licitacion.Licitacion {
	lic, err := svc.Create(context.Background(), AdminActor("admin"), licitacion.NewLicitacion{
		SchoolID:              schoolID,
		NombreLicitacion:      "Asesoría en innovación educativa",
		Year:                  2026,
		EmailLicitacion:       "licitaciones@colegio.cl",
		MontoMinimo:           100,
		MontoMaximo:           500,
		DuracionMinima:        "6 meses",
		DuracionMaxima:        "12 meses",
		PesoEvaluacionTecnica: 70,
	})
	if err != nil {
		t.Fatalf("createLicitacion() failed: %v", err)
	}
	return lic
}

func CreateAte(t *testing.T, svc *licitacion.Service, licitacionID, nombre string) licitacion.Ate {
	ate, err := svc.CreateAte(context.Background(), AdminActor("admin"), licitacionID, licitacion.NewAte{NombreAte: nombre})
	if err != nil {
		t.Fatalf("createAte() failed: %v", err)
	}
	return ate
}

// MoveTo drives the licitación through the lifecycle up to `estado`. Adjudication goes to an FNE winner unless
// `estado` is only reachable through an external provider.
func MoveTo(t *testing.T, svc *licitacion.Service, lic licitacion.Licitacion, estado licitacion.Estado) licitacion.Licitacion {
	ctx := context.Background()
	admin := AdminActor("admin")
	fecha := "2026-03-02"
	esFne := estado != licitacion.AdjudicadaExterno && estado != licitacion.Cerrada

	var err error
	for lic.Estado != estado {
		switch lic.Estado {
		case licitacion.PublicacionPendiente:
			lic, err = svc.ConfirmPublicacion(ctx, admin, lic.ID, licitacion.Publicacion{FechaPublicacion: fecha})
		case licitacion.RecepcionBasesPendiente:
			ate := firstAte(t, svc, lic.ID)
			if _, err = svc.UpdateAte(ctx, admin, lic.ID, ate.ID, licitacion.AteUpdate{FechaEnvioBases: &fecha}); err != nil {
				break
			}
			lic, err = svc.Advance(ctx, admin, lic.ID, licitacion.Advance{TargetEstado: licitacion.PropuestasPendientes})
		case licitacion.PropuestasPendientes:
			ate := firstAte(t, svc, lic.ID)
			if _, err = svc.RecordPropuesta(ctx, admin, lic.ID, ate.ID, Propuesta()); err != nil {
				break
			}
			lic, err = svc.Advance(ctx, admin, lic.ID, licitacion.Advance{TargetEstado: licitacion.EvaluacionPendiente})
		case licitacion.EvaluacionPendiente:
			lic, err = svc.Advance(ctx, admin, lic.ID, licitacion.Advance{TargetEstado: licitacion.AdjudicacionPendiente})
		case licitacion.AdjudicacionPendiente:
			ate := firstAte(t, svc, lic.ID)
			if _, err = svc.SaveAdjudicacion(ctx, admin, lic.ID, licitacion.Adjudicacion{GanadorAteID: ate.ID}); err != nil {
				break
			}
			lic, err = svc.ConfirmAdjudicacion(ctx, admin, lic.ID, licitacion.ConfirmAdjudicacion{EsFne: esFne})
		case licitacion.ContratoPendiente:
			lic, err = svc.LinkContrato(ctx, admin, lic.ID, licitacion.LinkContrato{ContratoID: core.NewID()})
		case licitacion.AdjudicadaExterno:
			lic, err = svc.Close(ctx, admin, lic.ID, licitacion.Close{Confirmar: true})
		default:
			t.Fatalf("moveTo() cannot leave %q", lic.Estado)
		}
		if err != nil {
			t.Fatalf("moveTo(%q) failed: %v", estado, err)
		}
	}
	return lic
}

// Propuesta returns valid proposal metadata.
func Propuesta() licitacion.Propuesta {
	return licitacion.Propuesta{
		PropuestaURL:      "https://storage.test/propuestas/ate-uno.pdf",
		PropuestaFilename: "propuesta.pdf",
		PropuestaSize:     120000,
		PropuestaMimeType: "application/pdf",
	}
}

// firstAte returns the oldest ATE of the licitación, registering one when there is none.
func firstAte(t *testing.T, svc *licitacion.Service, licitacionID string) licitacion.Ate {
	ates, err := svc.QueryAtes(context.Background(), AdminActor("admin"), licitacionID)
	if err != nil {
		t.Fatalf("moveTo() failed: %v", err)
	}
	if len(ates) == 0 {
		return CreateAte(t, svc, licitacionID, "ATE Uno")
	}
	return ates[0]
}
