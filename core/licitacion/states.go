package licitacion

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/licita/core"
)

type Estado string

// States
const (
	Borrador                Estado = "borrador"
	PublicacionPendiente    Estado = "publicacion_pendiente"
	RecepcionBasesPendiente Estado = "recepcion_bases_pendiente"
	PropuestasPendientes    Estado = "propuestas_pendientes"
	EvaluacionPendiente     Estado = "evaluacion_pendiente"
	AdjudicacionPendiente   Estado = "adjudicacion_pendiente"
	ContratoPendiente       Estado = "contrato_pendiente"
	ContratoGenerado        Estado = "contrato_generado"
	AdjudicadaExterno       Estado = "adjudicada_externo"
	Cerrada                 Estado = "cerrada"
)

// Estados lists the states in lifecycle order.
var Estados = []Estado{
	Borrador, PublicacionPendiente, RecepcionBasesPendiente, PropuestasPendientes, EvaluacionPendiente,
	AdjudicacionPendiente, ContratoPendiente, ContratoGenerado, AdjudicadaExterno, Cerrada,
}

// nextActions holds the pending step of each open state, as shown to operators.
var nextActions = map[Estado]string{
	PublicacionPendiente:    "Registrar publicación",
	RecepcionBasesPendiente: "Registrar ATEs y enviar bases",
	PropuestasPendientes:    "Subir propuestas de ATEs",
	EvaluacionPendiente:     "Completar evaluación",
	AdjudicacionPendiente:   "Confirmar adjudicación",
	ContratoPendiente:       "Generar contrato",
}

var errUnknownEstado = core.NewValidationError(nil, core.FieldError{Field: "estado", Error: "estado desconocido"})

// ParseEstado rejects any value outside the closed set.
func ParseEstado(s string) (Estado, error) {
	e := Estado(core.CleanString(s, true /* lower */))
	if !e.Valid() {
		return "", errUnknownEstado
	}
	return e, nil
}

func (e Estado) Valid() bool {
	for _, est := range Estados {
		if e == est {
			return true
		}
	}
	return false
}

func (e Estado) Ptr() *Estado {
	return &e
}

// NextAction returns the pending step of the state ("" for final states).
func (e Estado) NextAction() string {
	return nextActions[e]
}

// edge describes one allowed move of the generic "advance" operation.
type edge struct {
	to     Estado
	accion string

	// extra precondition checked inside the transaction, besides the source state
	check func(ctx context.Context, repo Repository, lic Licitacion) error
}

// advances holds the edges reachable through the generic "advance" operation.
// Publication, adjudication, contract and closing have dedicated operations.
var advances = map[Estado]edge{
	RecepcionBasesPendiente: {to: PropuestasPendientes, accion: "Avanzado a Recepción de Propuestas", check: requireBasesEnviadas},
	PropuestasPendientes:    {to: EvaluacionPendiente, accion: "Avanzado a Evaluación Pendiente", check: requirePropuestas},
	EvaluacionPendiente:     {to: AdjudicacionPendiente, accion: "Avanzado a Adjudicación Pendiente"},
}

// transitions is the complete edge set, including those of dedicated operations.
// adjudicacion_pendiente forks on whether the winner is an FNE ATE.
var transitions = map[Estado][]Estado{
	PublicacionPendiente:    {RecepcionBasesPendiente},
	RecepcionBasesPendiente: {PropuestasPendientes},
	PropuestasPendientes:    {EvaluacionPendiente},
	EvaluacionPendiente:     {AdjudicacionPendiente},
	AdjudicacionPendiente:   {ContratoPendiente, AdjudicadaExterno},
	ContratoPendiente:       {ContratoGenerado},
	AdjudicadaExterno:       {Cerrada},
}

// CanTransition reports whether `from` → `to` is an edge of the lifecycle.
func CanTransition(from, to Estado) bool {
	return to.in(transitions[from])
}

// Next returns the states reachable from `e` in one step.
func (e Estado) Next() []Estado {
	return append([]Estado(nil), transitions[e]...)
}

var (
	errSinBasesEnviadas = errors.New("Para avanzar a Recepción de Propuestas, al menos una ATE debe tener las bases enviadas (fecha de envío registrada)")
	errSinPropuestas    = errors.New("Para avanzar a Evaluación, al menos una ATE debe tener una propuesta subida")
)

func requireBasesEnviadas(ctx context.Context, repo Repository, lic Licitacion) error {
	return requireAtesWith(ctx, repo, lic, ColAteFechaEnvioBases, errSinBasesEnviadas)
}

func requirePropuestas(ctx context.Context, repo Repository, lic Licitacion) error {
	return requireAtesWith(ctx, repo, lic, ColAtePropuestaURL, errSinPropuestas)
}

func requireAtesWith(ctx context.Context, repo Repository, lic Licitacion, col string, missing error) error {
	n, err := repo.CountAtes(ctx, lic.ID, col)
	if err != nil {
		return errors.Wrap(err, "counting ates")
	}
	if n == 0 {
		return core.NewUnprocessableError(missing)
	}
	return nil
}
