package licitacion

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/licita/core"
	"github.com/trezcool/licita/core/access"
)

const (
	maxNumeroAttempts  = 3
	consultaDetailsLen = 100
)

// Historial actions
const (
	AccionCreada               = "Licitación creada"
	AccionPublicacion          = "Publicación confirmada"
	AccionCamposActualizados   = "Campos actualizados"
	AccionCronograma           = "Fechas de cronograma actualizadas"
	AccionAdjudicacionGuardada = "Adjudicación guardada"
	AccionAdjudicadaFne        = "Adjudicada a ATE FNE — avanzado a Contrato Pendiente"
	AccionAdjudicadaExterno    = "Adjudicada a proveedor externo"
	AccionContratoVinculado    = "Contrato generado y vinculado"
	AccionCerrada              = "Licitación cerrada (proveedor externo)"
	AccionConsultaRegistrada   = "Consulta registrada"
	accionAtePrefix            = "ATE registrada: "
	accionAteActualizadaPrefix = "ATE actualizada: "
	accionBasesEnviadasPrefix  = "Bases enviadas a ATE: "
	accionPropuestaPrefix      = "Propuesta recibida de ATE: "
	accionAteEliminadaPrefix   = "ATE eliminada: "
)

type Service struct {
	repo       Repository
	validate   *validator.Validate
	translator ut.Translator
	now        func() time.Time
}

func NewService(repo Repository, validate *validator.Validate, translator ut.Translator) *Service {
	return &Service{
		repo:       repo,
		validate:   validate,
		translator: translator,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (svc *Service) validateStruct(s interface{}) error {
	return core.ValidateStruct(svc.validate, svc.translator, s)
}

// mutation describes an operation on an existing licitación, run by Service.run.
type mutation struct {
	cap    access.Capability
	action string   // used in InvalidStateError messages, e.g. "guardar la adjudicación"
	from   []Estado // required states, none means the operation is not state-gated

	// validate runs after authorization and before the state check.
	validate func(lic Licitacion) error
	// apply performs the writes (phase 2) and returns the historial entry to append (phase 3).
	// entry.EstadoNuevo defaults to the state of the returned licitación.
	apply func(ctx context.Context, repo Repository, lic Licitacion) (Licitacion, HistorialEntry, error)
}

// run loads, authorizes, validates and checks the state of the licitación, applies the mutation and appends
// the historial entry, all in one transaction.
func (svc *Service) run(ctx context.Context, actor access.Actor, id string, m mutation) (Licitacion, error) {
	var res Licitacion
	err := svc.repo.InTx(ctx, func(repo Repository) error {
		lic, err := repo.GetLicitacion(ctx, id)
		if err != nil {
			return err
		}
		if err = actor.Authorize(m.cap, lic.SchoolID); err != nil {
			return err
		}
		if m.validate != nil {
			if err = m.validate(lic); err != nil {
				return err
			}
		}
		if len(m.from) > 0 && !lic.Estado.in(m.from) {
			return core.NewInvalidStateError(m.action, string(lic.Estado), estadoStrings(m.from)...)
		}

		updated, entry, err := m.apply(ctx, repo, lic)
		if err != nil {
			switch errors.Cause(err) {
			case errUnchanged:
				res = lic
				return nil
			case ErrStateConflict:
				return svc.stateConflict(ctx, repo, id, m)
			}
			return err
		}
		if updated.Estado != lic.Estado && !CanTransition(lic.Estado, updated.Estado) {
			return errors.Errorf("illegal transition %s -> %s", lic.Estado, updated.Estado)
		}

		entry.ID = core.NewID()
		entry.LicitacionID = lic.ID
		entry.EstadoAnterior = lic.Estado.Ptr()
		if entry.EstadoNuevo == "" {
			entry.EstadoNuevo = updated.Estado
		}
		entry.UserID = actor.UserID
		entry.CreatedAt = svc.now()
		if err = repo.AppendHistorial(ctx, entry); err != nil {
			return errors.Wrap(err, "appending historial")
		}

		res = updated
		return nil
	})
	return res, err
}

// errUnchanged is returned by mutations that are already applied; run then succeeds without writing.
var errUnchanged = errors.New("already applied")

// stateConflict re-reads the licitación after a conditional write matched no row.
func (svc *Service) stateConflict(ctx context.Context, repo Repository, id string, m mutation) error {
	current, err := repo.GetLicitacion(ctx, id)
	if err != nil {
		return errors.Wrap(err, "re-reading licitacion after state conflict")
	}
	return core.NewInvalidStateError(m.action, string(current.Estado), estadoStrings(m.from)...)
}

func (e Estado) in(states []Estado) bool {
	for _, s := range states {
		if e == s {
			return true
		}
	}
	return false
}

func estadoStrings(states []Estado) []string {
	strs := make([]string, len(states))
	for i, s := range states {
		strs[i] = string(s)
	}
	return strs
}

// Create inserts a new licitación awaiting publication. The numero_licitacion is the next one of the school and year;
// creation is retried when another request took the same number.
func (svc *Service) Create(ctx context.Context, actor access.Actor, nl NewLicitacion) (Licitacion, error) {
	if err := actor.Require(access.CapCreateLicitacion); err != nil {
		return Licitacion{}, err
	}
	nl.Clean()
	if err := svc.validateStruct(nl); err != nil {
		return Licitacion{}, err
	}

	prefix := fmt.Sprintf("LIC-%d-%d-", nl.Year, nl.SchoolID)
	for attempt := 1; ; attempt++ {
		lic, err := svc.create(ctx, actor, nl, prefix)
		if err == nil {
			return lic, nil
		}
		if errors.Cause(err) != ErrNumeroTaken || attempt == maxNumeroAttempts {
			return Licitacion{}, err
		}
	}
}

func (svc *Service) create(ctx context.Context, actor access.Actor, nl NewLicitacion, prefix string) (Licitacion, error) {
	var res Licitacion
	err := svc.repo.InTx(ctx, func(repo Repository) error {
		last, err := repo.LastNumero(ctx, prefix)
		if err != nil {
			return errors.Wrap(err, "getting last numero_licitacion")
		}
		seq := 1
		if last != "" {
			n, err := strconv.Atoi(strings.TrimPrefix(last, prefix))
			if err != nil {
				return errors.Wrapf(err, "parsing numero_licitacion %q", last)
			}
			seq = n + 1
		}

		now := svc.now()
		createdBy := actor.UserID
		lic := Licitacion{
			ID:                      core.NewID(),
			NumeroLicitacion:        fmt.Sprintf("%s%03d", prefix, seq),
			SchoolID:                nl.SchoolID,
			Estado:                  PublicacionPendiente,
			NombreLicitacion:        nl.NombreLicitacion,
			Year:                    nl.Year,
			EmailLicitacion:         nl.EmailLicitacion,
			MontoMinimo:             nl.MontoMinimo,
			MontoMaximo:             nl.MontoMaximo,
			TipoMoneda:              nl.TipoMoneda,
			DuracionMinima:          nl.DuracionMinima,
			DuracionMaxima:          nl.DuracionMaxima,
			PesoEvaluacionTecnica:   nl.PesoEvaluacionTecnica,
			PesoEvaluacionEconomica: 100 - nl.PesoEvaluacionTecnica,
			ParticipantesEstimados:  nl.ParticipantesEstimados,
			ModalidadPreferida:      nl.ModalidadPreferida,
			Notas:                   nl.Notas,
			CreatedBy:               &createdBy,
			CreatedAt:               now,
			UpdatedAt:               now,
		}
		if lic, err = repo.CreateLicitacion(ctx, lic); err != nil {
			return err
		}

		entry := HistorialEntry{
			ID:           core.NewID(),
			LicitacionID: lic.ID,
			Accion:       AccionCreada,
			EstadoNuevo:  PublicacionPendiente,
			Detalles:     map[string]interface{}{"numero_licitacion": lic.NumeroLicitacion},
			UserID:       actor.UserID,
			CreatedAt:    now,
		}
		if err = repo.AppendHistorial(ctx, entry); err != nil {
			return errors.Wrap(err, "appending historial")
		}
		res = lic
		return nil
	})
	return res, err
}

// Get returns the licitación if the actor may view it.
func (svc *Service) Get(ctx context.Context, actor access.Actor, id string) (Licitacion, error) {
	lic, err := svc.repo.GetLicitacion(ctx, id)
	if err != nil {
		return Licitacion{}, err
	}
	if err = actor.Authorize(access.CapViewLicitacion, lic.SchoolID); err != nil {
		return Licitacion{}, err
	}
	return lic, nil
}

// Query lists the licitaciones visible to the actor, newest first.
func (svc *Service) Query(ctx context.Context, actor access.Actor, filter QueryFilter) (Page, error) {
	if err := actor.Require(access.CapListLicitaciones); err != nil {
		return Page{}, err
	}
	filter.Clean()
	if err := svc.validateStruct(filter); err != nil {
		return Page{}, err
	}
	if filter.Estado != "" {
		if _, err := ParseEstado(filter.Estado); err != nil {
			return Page{}, err
		}
	}
	filter.SchoolIDs = nil
	if ids, all := actor.SchoolScope(access.CapListLicitaciones); !all {
		filter.SchoolIDs = ids
	}

	lics, total, err := svc.repo.QueryLicitaciones(ctx, filter)
	if err != nil {
		return Page{}, err
	}
	if lics == nil {
		lics = []Licitacion{}
	}
	return Page{Licitaciones: lics, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

// UpdateFields applies the allow-listed fields of a PATCH body. Fields the actor may not update are ignored.
func (svc *Service) UpdateFields(ctx context.Context, actor access.Actor, id string, raw RawFields) (Licitacion, error) {
	var (
		fields FieldSet
		keys   []string
	)
	return svc.run(ctx, actor, id, mutation{
		cap: access.CapUpdateLicitacion,
		validate: func(lic Licitacion) (err error) {
			allowed := make(RawFields)
			for k, v := range raw {
				if actor.FieldAllowed(k, lic.SchoolID) {
					allowed[k] = v
				}
			}
			if len(allowed) == 0 {
				return ErrNoFields
			}
			fields, keys, err = svc.decodeFields(lic, allowed)
			return err
		},
		apply: func(ctx context.Context, repo Repository, lic Licitacion) (Licitacion, HistorialEntry, error) {
			updated, err := repo.UpdateLicitacion(ctx, lic.ID, fields)
			if err != nil {
				return Licitacion{}, HistorialEntry{}, errors.Wrap(err, "updating licitacion fields")
			}
			return updated, HistorialEntry{
				Accion:   AccionCamposActualizados,
				Detalles: map[string]interface{}{"campos": keys},
			}, nil
		},
	})
}

// UpdateTimeline overrides the timeline dates. Invalid dates are reported as unprocessable.
func (svc *Service) UpdateTimeline(ctx context.Context, actor access.Actor, id string, tu TimelineUpdate) (Licitacion, error) {
	var fields FieldSet
	return svc.run(ctx, actor, id, mutation{
		cap: access.CapUpdateTimeline,
		validate: func(lic Licitacion) error {
			if err := svc.validateStruct(tu); err != nil {
				return unprocessable(err)
			}
			fields = tu.fields()
			if len(fields) == 0 {
				return ErrNoTimelineDates
			}
			return checkTimelineOrder(lic, fields)
		},
		apply: func(ctx context.Context, repo Repository, lic Licitacion) (Licitacion, HistorialEntry, error) {
			updated, err := repo.UpdateLicitacion(ctx, lic.ID, fields)
			if err != nil {
				return Licitacion{}, HistorialEntry{}, errors.Wrap(err, "updating timeline")
			}

			before := lic.Timeline()
			changed := make(map[string]interface{})
			for _, col := range TimelineColumns {
				nuevo, ok := fields[col]
				if !ok {
					continue
				}
				var anterior interface{}
				if before[col] != nil {
					anterior = *before[col]
				}
				if anterior != nuevo {
					changed[col] = map[string]interface{}{"anterior": anterior, "nuevo": nuevo}
				}
			}
			return updated, HistorialEntry{
				Accion:   AccionCronograma,
				Detalles: map[string]interface{}{"fechas_modificadas": changed},
			}, nil
		},
	})
}

// ConfirmPublicacion records the publication date and computes the timeline deadlines from it.
func (svc *Service) ConfirmPublicacion(ctx context.Context, actor access.Actor, id string, pub Publicacion) (Licitacion, error) {
	var fecha time.Time
	return svc.run(ctx, actor, id, mutation{
		cap:    access.CapConfirmPublicacion,
		action: "confirmar la publicación",
		from:   []Estado{PublicacionPendiente},
		validate: func(_ Licitacion) error {
			pub.Clean()
			if err := svc.validateStruct(pub); err != nil {
				return err
			}
			fecha, _ = time.Parse(core.DateLayout, pub.FechaPublicacion)
			return nil
		},
		apply: func(ctx context.Context, repo Repository, lic Licitacion) (Licitacion, HistorialEntry, error) {
			feriados, err := repo.QueryFeriados(ctx, fecha.Year(), fecha.Year()+1)
			if err != nil {
				return Licitacion{}, HistorialEntry{}, errors.Wrap(err, "querying feriados")
			}
			timeline := CalculateTimeline(fecha, feriados)

			fields := FieldSet{ColEstado: RecepcionBasesPendiente, ColFechaPublicacion: pub.FechaPublicacion}
			detalles := map[string]interface{}{ColFechaPublicacion: pub.FechaPublicacion}
			for col, date := range timeline {
				fields[col] = date
				detalles[col] = date
			}
			if pub.PublicacionImagenURL != nil {
				fields[access.FieldPublicacionImagenURL] = *pub.PublicacionImagenURL
			}
			updated, err := repo.UpdateLicitacionInState(ctx, lic.ID, PublicacionPendiente, fields)
			if err != nil {
				return Licitacion{}, HistorialEntry{}, errors.Wrap(err, "confirming publicacion")
			}
			return updated, HistorialEntry{Accion: AccionPublicacion, Detalles: detalles}, nil
		},
	})
}

// PublicacionText renders the call for bids the school posts once the licitación is published.
func (svc *Service) PublicacionText(ctx context.Context, actor access.Actor, id string, pt PublicacionTexto) (string, error) {
	lic, err := svc.Get(ctx, actor, id)
	if err != nil {
		return "", err
	}
	pt.Escuela = core.CleanString(pt.Escuela)
	pt.Comuna = core.CleanString(pt.Comuna)
	if err = svc.validateStruct(pt); err != nil {
		return "", err
	}
	return publicacionText(lic, pt), nil
}

// Advance moves the licitación along one of the generic edges of the lifecycle.
func (svc *Service) Advance(ctx context.Context, actor access.Actor, id string, in Advance) (Licitacion, error) {
	var target Estado
	return svc.run(ctx, actor, id, mutation{
		cap:    access.CapAdvanceLicitacion,
		action: "avanzar el estado",
		validate: func(lic Licitacion) error {
			if err := svc.validateStruct(in); err != nil {
				return err
			}
			var err error
			if target, err = ParseEstado(string(in.TargetEstado)); err != nil {
				return core.NewValidationError(err, core.FieldError{Field: "target_estado", Error: "estado desconocido"})
			}
			edg, ok := advances[lic.Estado]
			if !ok || edg.to != target {
				return core.NewInvalidStateError("avanzar a "+string(target), string(lic.Estado), estadoStrings(sourcesOf(target))...)
			}
			return nil
		},
		apply: func(ctx context.Context, repo Repository, lic Licitacion) (Licitacion, HistorialEntry, error) {
			edg := advances[lic.Estado]
			if edg.check != nil {
				if err := edg.check(ctx, repo, lic); err != nil {
					return Licitacion{}, HistorialEntry{}, err
				}
			}
			updated, err := repo.UpdateLicitacionInState(ctx, lic.ID, lic.Estado, FieldSet{ColEstado: target})
			if err != nil {
				return Licitacion{}, HistorialEntry{}, errors.Wrap(err, "advancing estado")
			}
			return updated, HistorialEntry{Accion: edg.accion, Detalles: map[string]interface{}{}}, nil
		},
	})
}

var (
	errSinGanador   = errors.New("Debe seleccionar un ATE ganador antes de confirmar la adjudicación")
	errNoFne        = errors.New("No se puede generar contrato: esta licitación fue adjudicada a un proveedor externo")
	errOtroContrato = errors.New("Esta licitación ya tiene un contrato asociado. No se puede vincular otro contrato")
	errAteAjena     = errors.New("La ATE no pertenece a esta licitación")
	errMontos       = errors.New("monto_maximo debe ser mayor o igual a monto_minimo")
	errCronograma   = errors.New("Las fechas del cronograma deben ser cronológicas")

	errAteConPropuesta = core.NewConflictError("No se puede eliminar una ATE que ya tiene una propuesta subida. La propuesta debe preservarse para la auditoría")
	errAteGanadora     = core.NewConflictError("No se puede eliminar la ATE ganadora de la licitación")
)

// sourcesOf returns the states from which `target` is reachable through Advance.
func sourcesOf(target Estado) []Estado {
	var srcs []Estado
	for _, from := range Estados {
		if edg, ok := advances[from]; ok && edg.to == target {
			srcs = append(srcs, from)
		}
	}
	return srcs
}

// SaveAdjudicacion records the adjudication data and the winner ATE. The state is left unchanged.
func (svc *Service) SaveAdjudicacion(ctx context.Context, actor access.Actor, id string, adj Adjudicacion) (Licitacion, error) {
	return svc.run(ctx, actor, id, mutation{
		cap:    access.CapSaveAdjudicacion,
		action: "guardar la adjudicación",
		from:   []Estado{AdjudicacionPendiente},
		validate: func(_ Licitacion) error {
			adj.Clean()
			return svc.validateStruct(adj)
		},
		apply: func(ctx context.Context, repo Repository, lic Licitacion) (Licitacion, HistorialEntry, error) {
			if _, err := repo.GetAte(ctx, lic.ID, adj.GanadorAteID); err != nil {
				if errors.Cause(err) == ErrAteNotFound {
					return Licitacion{}, HistorialEntry{}, ateAjena(ColGanadorAteID)
				}
				return Licitacion{}, HistorialEntry{}, errors.Wrap(err, "getting winner ate")
			}

			fields := FieldSet{
				ColGanadorAteID:                 adj.GanadorAteID,
				ColMontoAdjudicadoUF:            nullable(adj.MontoAdjudicadoUF),
				ColCondicionesPago:              nullable(adj.CondicionesPago),
				ColFechaOfertaGanadora:          nullable(adj.FechaOfertaGanadora),
				ColContactoCoordinacionNombre:   nullable(adj.ContactoCoordinacionNombre),
				ColContactoCoordinacionEmail:    nullable(adj.ContactoCoordinacionEmail),
				ColContactoCoordinacionTelefono: nullable(adj.ContactoCoordinacionTelefono),
			}
			updated, err := repo.UpdateLicitacionInState(ctx, lic.ID, AdjudicacionPendiente, fields)
			if err != nil {
				return Licitacion{}, HistorialEntry{}, errors.Wrap(err, "saving adjudicacion")
			}
			if err = repo.SetWinner(ctx, lic.ID, adj.GanadorAteID); err != nil {
				if errors.Cause(err) == ErrAteNotFound {
					return Licitacion{}, HistorialEntry{}, ateAjena(ColGanadorAteID)
				}
				return Licitacion{}, HistorialEntry{}, errors.Wrap(err, "setting winner")
			}

			detalles := map[string]interface{}{ColGanadorAteID: adj.GanadorAteID}
			if adj.MontoAdjudicadoUF != nil {
				detalles[ColMontoAdjudicadoUF] = *adj.MontoAdjudicadoUF
			}
			return updated, HistorialEntry{Accion: AccionAdjudicacionGuardada, Detalles: detalles}, nil
		},
	})
}

// ConfirmAdjudicacion settles a licitación with a saved winner. An FNE winner leads to the contract step,
// an external provider to adjudicada_externo.
func (svc *Service) ConfirmAdjudicacion(ctx context.Context, actor access.Actor, id string, ca ConfirmAdjudicacion) (Licitacion, error) {
	return svc.run(ctx, actor, id, mutation{
		cap:    access.CapConfirmAdjudicacion,
		action: "confirmar la adjudicación",
		from:   []Estado{AdjudicacionPendiente},
		apply: func(ctx context.Context, repo Repository, lic Licitacion) (Licitacion, HistorialEntry, error) {
			if lic.GanadorAteID == nil {
				return Licitacion{}, HistorialEntry{}, core.NewUnprocessableError(
					errSinGanador, core.FieldError{Field: ColGanadorAteID, Error: errSinGanador.Error()},
				)
			}
			target, accion := AdjudicadaExterno, AccionAdjudicadaExterno
			if ca.EsFne {
				target, accion = ContratoPendiente, AccionAdjudicadaFne
			}
			fields := FieldSet{
				ColEstado:            target,
				ColGanadorEsFne:      ca.EsFne,
				ColFechaAdjudicacion: svc.now().Format(core.DateLayout),
			}
			updated, err := repo.UpdateLicitacionInState(ctx, lic.ID, AdjudicacionPendiente, fields)
			if err != nil {
				return Licitacion{}, HistorialEntry{}, errors.Wrap(err, "confirming adjudicacion")
			}
			return updated, HistorialEntry{
				Accion: accion,
				Detalles: map[string]interface{}{
					"es_fne":        ca.EsFne,
					ColGanadorAteID: *lic.GanadorAteID,
				},
			}, nil
		},
	})
}

// LinkContrato links the contract generated for an FNE winner and moves the licitación to contrato_generado.
// Linking the same contract again is a no-op.
func (svc *Service) LinkContrato(ctx context.Context, actor access.Actor, id string, lc LinkContrato) (Licitacion, error) {
	var linked bool
	return svc.run(ctx, actor, id, mutation{
		cap:    access.CapLinkContrato,
		action: "generar contrato",
		validate: func(lic Licitacion) error {
			lc.Clean()
			if err := svc.validateStruct(lc); err != nil {
				return err
			}
			if lic.ContratoID != nil {
				if *lic.ContratoID != lc.ContratoID {
					return core.NewUnprocessableError(errOtroContrato, core.FieldError{Field: ColContratoID, Error: errOtroContrato.Error()})
				}
				linked = true
				return nil
			}
			if lic.Estado != ContratoPendiente {
				return core.NewInvalidStateError("generar contrato", string(lic.Estado), string(ContratoPendiente))
			}
			if lic.GanadorEsFne == nil || !*lic.GanadorEsFne {
				return core.NewUnprocessableError(errNoFne)
			}
			return nil
		},
		apply: func(ctx context.Context, repo Repository, lic Licitacion) (Licitacion, HistorialEntry, error) {
			if linked {
				return Licitacion{}, HistorialEntry{}, errUnchanged
			}
			fields := FieldSet{ColEstado: ContratoGenerado, ColContratoID: lc.ContratoID}
			updated, err := repo.UpdateLicitacionInState(ctx, lic.ID, ContratoPendiente, fields)
			if err != nil {
				return Licitacion{}, HistorialEntry{}, errors.Wrap(err, "linking contrato")
			}
			return updated, HistorialEntry{
				Accion:   AccionContratoVinculado,
				Detalles: map[string]interface{}{ColContratoID: lc.ContratoID},
			}, nil
		},
	})
}

// Close moves a licitación adjudicated to an external provider to cerrada. The request must explicitly confirm it.
func (svc *Service) Close(ctx context.Context, actor access.Actor, id string, cl Close) (Licitacion, error) {
	return svc.run(ctx, actor, id, mutation{
		cap:    access.CapCloseLicitacion,
		action: "cerrar la licitación",
		from:   []Estado{AdjudicadaExterno},
		validate: func(_ Licitacion) error {
			return svc.validateStruct(cl)
		},
		apply: func(ctx context.Context, repo Repository, lic Licitacion) (Licitacion, HistorialEntry, error) {
			updated, err := repo.UpdateLicitacionInState(ctx, lic.ID, AdjudicadaExterno, FieldSet{ColEstado: Cerrada})
			if err != nil {
				return Licitacion{}, HistorialEntry{}, errors.Wrap(err, "closing licitacion")
			}
			return updated, HistorialEntry{Accion: AccionCerrada, Detalles: map[string]interface{}{}}, nil
		},
	})
}

// QueryAtes lists the ATEs of the licitación in registration order.
func (svc *Service) QueryAtes(ctx context.Context, actor access.Actor, id string) ([]Ate, error) {
	lic, err := svc.repo.GetLicitacion(ctx, id)
	if err != nil {
		return nil, err
	}
	if err = actor.Authorize(access.CapViewAtes, lic.SchoolID); err != nil {
		return nil, err
	}
	ates, err := svc.repo.QueryAtes(ctx, lic.ID)
	if err != nil {
		return nil, err
	}
	if ates == nil {
		ates = []Ate{}
	}
	return ates, nil
}

// CreateAte registers a vendor on the licitación.
func (svc *Service) CreateAte(ctx context.Context, actor access.Actor, id string, na NewAte) (Ate, error) {
	var res Ate
	_, err := svc.run(ctx, actor, id, mutation{
		cap: access.CapCreateAte,
		validate: func(_ Licitacion) error {
			na.Clean()
			return svc.validateStruct(na)
		},
		apply: func(ctx context.Context, repo Repository, lic Licitacion) (Licitacion, HistorialEntry, error) {
			now := svc.now()
			ate, err := repo.CreateAte(ctx, Ate{
				ID:                  core.NewID(),
				LicitacionID:        lic.ID,
				NombreAte:           na.NombreAte,
				RutAte:              na.RutAte,
				NombreContacto:      na.NombreContacto,
				Email:               na.Email,
				Telefono:            na.Telefono,
				FechaSolicitudBases: na.FechaSolicitudBases,
				CreatedAt:           now,
				UpdatedAt:           now,
			})
			if err != nil {
				return Licitacion{}, HistorialEntry{}, errors.Wrap(err, "creating ate")
			}
			res = ate
			return lic, HistorialEntry{
				Accion:   accionAtePrefix + ate.NombreAte,
				Detalles: map[string]interface{}{"ate_id": ate.ID},
			}, nil
		},
	})
	return res, err
}

// UpdateAte changes the registration data of an ATE. Recording fecha_envio_bases marks the bases as sent.
func (svc *Service) UpdateAte(ctx context.Context, actor access.Actor, id, ateID string, au AteUpdate) (Ate, error) {
	var (
		res    Ate
		fields FieldSet
	)
	_, err := svc.run(ctx, actor, id, mutation{
		cap: access.CapUpdateAte,
		validate: func(_ Licitacion) error {
			au.Clean()
			if err := svc.validateStruct(au); err != nil {
				return err
			}
			if fields = au.fields(); len(fields) == 0 {
				return ErrNoAteFields
			}
			return nil
		},
		apply: func(ctx context.Context, repo Repository, lic Licitacion) (Licitacion, HistorialEntry, error) {
			ate, err := repo.UpdateAte(ctx, lic.ID, ateID, fields)
			if err != nil {
				return Licitacion{}, HistorialEntry{}, ateNotFound(err, "updating ate")
			}
			res = ate

			campos := make([]string, 0, len(fields))
			for col := range fields {
				campos = append(campos, col)
			}
			sort.Strings(campos)
			entry := HistorialEntry{
				Accion:   accionAteActualizadaPrefix + ate.NombreAte,
				Detalles: map[string]interface{}{"ate_id": ate.ID, "campos": campos},
			}
			if au.FechaEnvioBases != nil {
				entry.Accion = accionBasesEnviadasPrefix + ate.NombreAte
				entry.Detalles[ColAteFechaEnvioBases] = *au.FechaEnvioBases
			}
			return lic, entry, nil
		},
	})
	return res, err
}

// RecordPropuesta stores the metadata of the proposal document received from an ATE.
func (svc *Service) RecordPropuesta(ctx context.Context, actor access.Actor, id, ateID string, prop Propuesta) (Ate, error) {
	var res Ate
	_, err := svc.run(ctx, actor, id, mutation{
		cap: access.CapUpdateAte,
		validate: func(_ Licitacion) error {
			prop.Clean()
			return svc.validateStruct(prop)
		},
		apply: func(ctx context.Context, repo Repository, lic Licitacion) (Licitacion, HistorialEntry, error) {
			ate, err := repo.UpdateAte(ctx, lic.ID, ateID, prop.fields())
			if err != nil {
				return Licitacion{}, HistorialEntry{}, ateNotFound(err, "recording propuesta")
			}
			res = ate
			return lic, HistorialEntry{
				Accion: accionPropuestaPrefix + ate.NombreAte,
				Detalles: map[string]interface{}{
					"ate_id":                ate.ID,
					ColAtePropuestaFilename: prop.PropuestaFilename,
					ColAtePropuestaSize:     prop.PropuestaSize,
				},
			}, nil
		},
	})
	return res, err
}

// DeleteAte removes an ATE. ATEs holding a proposal or the win are kept for the audit trail.
func (svc *Service) DeleteAte(ctx context.Context, actor access.Actor, id, ateID string) error {
	_, err := svc.run(ctx, actor, id, mutation{
		cap: access.CapDeleteAte,
		apply: func(ctx context.Context, repo Repository, lic Licitacion) (Licitacion, HistorialEntry, error) {
			ate, err := repo.GetAte(ctx, lic.ID, ateID)
			if err != nil {
				return Licitacion{}, HistorialEntry{}, ateNotFound(err, "getting ate")
			}
			switch {
			case ate.PropuestaURL != nil:
				return Licitacion{}, HistorialEntry{}, errAteConPropuesta
			case ate.EsGanador || (lic.GanadorAteID != nil && *lic.GanadorAteID == ate.ID):
				return Licitacion{}, HistorialEntry{}, errAteGanadora
			}
			if err = repo.DeleteAte(ctx, lic.ID, ate.ID); err != nil {
				return Licitacion{}, HistorialEntry{}, ateNotFound(err, "deleting ate")
			}
			return lic, HistorialEntry{
				Accion:   accionAteEliminadaPrefix + ate.NombreAte,
				Detalles: map[string]interface{}{"ate_id": ate.ID, ColAteNombre: ate.NombreAte},
			}, nil
		},
	})
	return err
}

// ateNotFound maps ErrAteNotFound to its 404 form.
func ateNotFound(err error, msg string) error {
	if errors.Cause(err) == ErrAteNotFound {
		return ErrAteNoEncontrada
	}
	return errors.Wrap(err, msg)
}

// QueryConsultas lists the consultas of the licitación, oldest first.
func (svc *Service) QueryConsultas(ctx context.Context, actor access.Actor, id string) ([]Consulta, error) {
	lic, err := svc.repo.GetLicitacion(ctx, id)
	if err != nil {
		return nil, err
	}
	if err = actor.Authorize(access.CapViewConsultas, lic.SchoolID); err != nil {
		return nil, err
	}
	consultas, err := svc.repo.QueryConsultas(ctx, lic.ID)
	if err != nil {
		return nil, err
	}
	if consultas == nil {
		consultas = []Consulta{}
	}
	return consultas, nil
}

// CreateConsulta registers a question on the licitación. A referenced ATE must belong to the same licitación.
func (svc *Service) CreateConsulta(ctx context.Context, actor access.Actor, id string, nc NewConsulta) (Consulta, error) {
	var res Consulta
	_, err := svc.run(ctx, actor, id, mutation{
		cap: access.CapCreateConsulta,
		validate: func(_ Licitacion) error {
			nc.Clean()
			return svc.validateStruct(nc)
		},
		apply: func(ctx context.Context, repo Repository, lic Licitacion) (Licitacion, HistorialEntry, error) {
			if nc.AteID != nil {
				if _, err := repo.GetAte(ctx, lic.ID, *nc.AteID); err != nil {
					if errors.Cause(err) == ErrAteNotFound {
						return Licitacion{}, HistorialEntry{}, ateAjena("ate_id")
					}
					return Licitacion{}, HistorialEntry{}, errors.Wrap(err, "getting consulta ate")
				}
			}

			now := svc.now()
			cons, err := repo.CreateConsulta(ctx, Consulta{
				ID:             core.NewID(),
				LicitacionID:   lic.ID,
				AteID:          nc.AteID,
				Pregunta:       nc.Pregunta,
				Respuesta:      nc.Respuesta,
				FechaPregunta:  nc.FechaPregunta,
				FechaRespuesta: nc.FechaRespuesta,
				CreatedAt:      now,
				UpdatedAt:      now,
			})
			if err != nil {
				return Licitacion{}, HistorialEntry{}, errors.Wrap(err, "creating consulta")
			}
			res = cons

			detalles := map[string]interface{}{
				"consulta_id": cons.ID,
				"pregunta":    core.Truncate(cons.Pregunta, consultaDetailsLen),
			}
			if cons.AteID != nil {
				detalles["ate_id"] = *cons.AteID
			}
			return lic, HistorialEntry{Accion: AccionConsultaRegistrada, Detalles: detalles}, nil
		},
	})
	return res, err
}

func ateAjena(field string) error {
	return core.NewValidationError(errAteAjena, core.FieldError{Field: field, Error: errAteAjena.Error()})
}

// unprocessable turns a validation error into its 422 form.
func unprocessable(err error) error {
	if vErr, ok := errors.Cause(err).(*core.ValidationError); ok {
		return core.NewUnprocessableError(vErr.Err, vErr.Fields...)
	}
	return err
}

// nullable turns an optional value into a FieldSet value (nil clears the column).
func nullable[T any](v *T) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// checkTimelineOrder verifies the merged timeline is chronological.
func checkTimelineOrder(lic Licitacion, fields FieldSet) error {
	current := lic.Timeline()
	prev, prevCol := "", ""
	for _, col := range TimelineColumns {
		var date string
		if v, ok := fields[col]; ok {
			date, _ = v.(string)
		} else if current[col] != nil {
			date = *current[col]
		}
		if date == "" {
			continue
		}
		// YYYY-MM-DD dates compare lexically
		if prev != "" && date < prev {
			return core.NewUnprocessableError(errCronograma, core.FieldError{
				Field: col,
				Error: fmt.Sprintf("debe ser igual o posterior a %s", prevCol),
			})
		}
		prev, prevCol = date, col
	}
	return nil
}
