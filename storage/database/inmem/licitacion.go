package inmemdb

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/licita/core/access"
	"github.com/trezcool/licita/core/licitacion"
)

type licitacionRepository struct {
	db   *DB
	inTx bool
}

var _ licitacion.Repository = (*licitacionRepository)(nil) // interface compliance check

func NewLicitacionRepository(db *DB) *licitacionRepository {
	return &licitacionRepository{db: db}
}

func (repo *licitacionRepository) InTx(ctx context.Context, fn func(repo licitacion.Repository) error) error {
	if repo.inTx {
		return fn(repo)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	repo.db.txMu.Lock()
	defer repo.db.txMu.Unlock()

	snap := repo.db.snapshot()
	if err := fn(&licitacionRepository{db: repo.db, inTx: true}); err != nil {
		repo.db.restore(snap)
		return err
	}
	return nil
}

func (repo *licitacionRepository) GetLicitacion(_ context.Context, id string) (licitacion.Licitacion, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if lic, ok := repo.db.licitaciones[id]; ok {
		return lic, nil
	}
	return licitacion.Licitacion{}, licitacion.ErrNotFound
}

func (repo *licitacionRepository) QueryLicitaciones(_ context.Context, filter licitacion.QueryFilter) ([]licitacion.Licitacion, int, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var schools map[int64]bool
	if filter.SchoolIDs != nil {
		schools = make(map[int64]bool, len(filter.SchoolIDs))
		for _, sid := range filter.SchoolIDs {
			schools[sid] = true
		}
	}

	lics := make([]licitacion.Licitacion, 0)
	for _, lic := range repo.db.licitaciones {
		switch {
		case schools != nil && !schools[lic.SchoolID]:
		case filter.SchoolID != 0 && lic.SchoolID != filter.SchoolID:
		case filter.Estado != "" && string(lic.Estado) != filter.Estado:
		case filter.Year != 0 && lic.Year != filter.Year:
		default:
			lics = append(lics, lic)
		}
	}
	sort.Slice(lics, func(i, j int) bool {
		if !lics[i].CreatedAt.Equal(lics[j].CreatedAt) {
			return lics[i].CreatedAt.After(lics[j].CreatedAt)
		}
		return lics[i].ID > lics[j].ID
	})

	total := len(lics)
	start := filter.Offset()
	if start < 0 || start > total {
		start = total
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}
	return lics[start:end], total, nil
}

func (repo *licitacionRepository) LastNumero(_ context.Context, prefix string) (string, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var last string
	for _, lic := range repo.db.licitaciones {
		num := lic.NumeroLicitacion
		if len(num) < len(prefix) || num[:len(prefix)] != prefix {
			continue
		}
		// longer sequence numbers sort after shorter ones
		if len(num) > len(last) || (len(num) == len(last) && num > last) {
			last = num
		}
	}
	return last, nil
}

func (repo *licitacionRepository) CreateLicitacion(_ context.Context, lic licitacion.Licitacion) (licitacion.Licitacion, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	for _, l := range repo.db.licitaciones {
		if l.NumeroLicitacion == lic.NumeroLicitacion {
			return licitacion.Licitacion{}, licitacion.ErrNumeroTaken
		}
	}
	repo.db.licitaciones[lic.ID] = lic
	return lic, nil
}

func (repo *licitacionRepository) UpdateLicitacion(_ context.Context, id string, fields licitacion.FieldSet) (licitacion.Licitacion, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	lic, ok := repo.db.licitaciones[id]
	if !ok {
		return licitacion.Licitacion{}, licitacion.ErrNotFound
	}
	return repo.save(lic, fields)
}

func (repo *licitacionRepository) UpdateLicitacionInState(_ context.Context, id string, estado licitacion.Estado, fields licitacion.FieldSet) (licitacion.Licitacion, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	lic, ok := repo.db.licitaciones[id]
	if !ok || lic.Estado != estado {
		return licitacion.Licitacion{}, licitacion.ErrStateConflict
	}
	return repo.save(lic, fields)
}

// save must be called with the write lock held.
func (repo *licitacionRepository) save(lic licitacion.Licitacion, fields licitacion.FieldSet) (licitacion.Licitacion, error) {
	for col, val := range fields {
		if err := setField(&lic, col, val); err != nil {
			return licitacion.Licitacion{}, err
		}
	}
	lic.UpdatedAt = time.Now().UTC()
	repo.db.licitaciones[lic.ID] = lic
	return lic, nil
}

func (repo *licitacionRepository) GetAte(_ context.Context, licitacionID, ateID string) (licitacion.Ate, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if ate, ok := repo.db.ates[ateID]; ok && ate.LicitacionID == licitacionID {
		return ate, nil
	}
	return licitacion.Ate{}, licitacion.ErrAteNotFound
}

func (repo *licitacionRepository) QueryAtes(_ context.Context, licitacionID string) ([]licitacion.Ate, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	ates := make([]licitacion.Ate, 0)
	for _, ate := range repo.db.ates {
		if ate.LicitacionID == licitacionID {
			ates = append(ates, ate)
		}
	}
	sort.Slice(ates, func(i, j int) bool {
		if !ates[i].CreatedAt.Equal(ates[j].CreatedAt) {
			return ates[i].CreatedAt.Before(ates[j].CreatedAt)
		}
		return ates[i].ID < ates[j].ID
	})
	return ates, nil
}

func (repo *licitacionRepository) CountAtes(ctx context.Context, licitacionID string, notNull ...string) (int, error) {
	ates, err := repo.QueryAtes(ctx, licitacionID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ate := range ates {
		set := true
		for _, col := range notNull {
			v, err := ateField(ate, col)
			if err != nil {
				return 0, err
			}
			set = set && v
		}
		if set {
			n++
		}
	}
	return n, nil
}

func (repo *licitacionRepository) CreateAte(_ context.Context, ate licitacion.Ate) (licitacion.Ate, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	repo.db.ates[ate.ID] = ate
	return ate, nil
}

func (repo *licitacionRepository) UpdateAte(_ context.Context, licitacionID, ateID string, fields licitacion.FieldSet) (licitacion.Ate, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	ate, ok := repo.db.ates[ateID]
	if !ok || ate.LicitacionID != licitacionID {
		return licitacion.Ate{}, licitacion.ErrAteNotFound
	}
	for col, val := range fields {
		if err := setAteField(&ate, col, val); err != nil {
			return licitacion.Ate{}, err
		}
	}
	ate.UpdatedAt = time.Now().UTC()
	repo.db.ates[ateID] = ate
	return ate, nil
}

func (repo *licitacionRepository) DeleteAte(_ context.Context, licitacionID, ateID string) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if ate, ok := repo.db.ates[ateID]; !ok || ate.LicitacionID != licitacionID {
		return licitacion.ErrAteNotFound
	}
	for id, cons := range repo.db.consultas {
		if cons.AteID != nil && *cons.AteID == ateID {
			cons.AteID = nil
			repo.db.consultas[id] = cons
		}
	}
	delete(repo.db.ates, ateID)
	return nil
}

func (repo *licitacionRepository) SetWinner(_ context.Context, licitacionID, ateID string) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if ate, ok := repo.db.ates[ateID]; !ok || ate.LicitacionID != licitacionID {
		return licitacion.ErrAteNotFound
	}
	now := time.Now().UTC()
	for id, ate := range repo.db.ates {
		if ate.LicitacionID == licitacionID && ate.EsGanador {
			ate.EsGanador = false
			ate.UpdatedAt = now
			repo.db.ates[id] = ate
		}
	}
	winner := repo.db.ates[ateID]
	winner.EsGanador = true
	winner.UpdatedAt = now
	repo.db.ates[ateID] = winner
	return nil
}

func (repo *licitacionRepository) QueryConsultas(_ context.Context, licitacionID string) ([]licitacion.Consulta, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	consultas := make([]licitacion.Consulta, 0)
	for _, cons := range repo.db.consultas {
		if cons.LicitacionID == licitacionID {
			consultas = append(consultas, cons)
		}
	}
	sort.Slice(consultas, func(i, j int) bool {
		if !consultas[i].CreatedAt.Equal(consultas[j].CreatedAt) {
			return consultas[i].CreatedAt.Before(consultas[j].CreatedAt)
		}
		return consultas[i].ID < consultas[j].ID
	})
	return consultas, nil
}

func (repo *licitacionRepository) CreateConsulta(_ context.Context, cons licitacion.Consulta) (licitacion.Consulta, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	repo.db.consultas[cons.ID] = cons
	return cons, nil
}

func (repo *licitacionRepository) AppendHistorial(_ context.Context, entry licitacion.HistorialEntry) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	repo.db.historial = append(repo.db.historial, entry)
	return nil
}

func (repo *licitacionRepository) QueryFeriados(_ context.Context, from, to int) ([]string, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	feriados := make([]string, 0)
	for fecha := range repo.db.feriados {
		if year, err := strconv.Atoi(fecha[:4]); err == nil && year >= from && year <= to {
			feriados = append(feriados, fecha)
		}
	}
	sort.Strings(feriados)
	return feriados, nil
}

func setField(lic *licitacion.Licitacion, col string, val interface{}) error {
	switch col {
	case licitacion.ColEstado:
		estado, ok := val.(licitacion.Estado)
		if !ok || !estado.Valid() {
			return errors.Errorf("invalid estado %v", val)
		}
		lic.Estado = estado
	case access.FieldNombre:
		lic.NombreLicitacion, _ = val.(string)
	case access.FieldEmail:
		lic.EmailLicitacion, _ = val.(string)
	case access.FieldMontoMinimo:
		lic.MontoMinimo, _ = val.(float64)
	case access.FieldMontoMaximo:
		lic.MontoMaximo, _ = val.(float64)
	case access.FieldTipoMoneda:
		lic.TipoMoneda, _ = val.(string)
	case access.FieldDuracionMinima:
		lic.DuracionMinima, _ = val.(string)
	case access.FieldDuracionMaxima:
		lic.DuracionMaxima, _ = val.(string)
	case access.FieldParticipantesEstimados:
		lic.ParticipantesEstimados = ptr[int](val)
	case access.FieldModalidadPreferida:
		lic.ModalidadPreferida = ptr[string](val)
	case access.FieldNotas:
		lic.Notas = ptr[string](val)
	case access.FieldPublicacionImagenURL:
		lic.PublicacionImagenURL = ptr[string](val)
	case licitacion.ColFechaPublicacion:
		lic.FechaPublicacion = ptr[string](val)
	case licitacion.ColFechaLimiteSolicitudBases:
		lic.FechaLimiteSolicitudBases = ptr[string](val)
	case licitacion.ColFechaLimiteConsultas:
		lic.FechaLimiteConsultas = ptr[string](val)
	case licitacion.ColFechaInicioPropuestas:
		lic.FechaInicioPropuestas = ptr[string](val)
	case licitacion.ColFechaLimitePropuestas:
		lic.FechaLimitePropuestas = ptr[string](val)
	case licitacion.ColFechaLimiteEvaluacion:
		lic.FechaLimiteEvaluacion = ptr[string](val)
	case licitacion.ColGanadorAteID:
		lic.GanadorAteID = ptr[string](val)
	case licitacion.ColGanadorEsFne:
		lic.GanadorEsFne = ptr[bool](val)
	case licitacion.ColMontoAdjudicadoUF:
		lic.MontoAdjudicadoUF = ptr[float64](val)
	case licitacion.ColCondicionesPago:
		lic.CondicionesPago = ptr[string](val)
	case licitacion.ColFechaOfertaGanadora:
		lic.FechaOfertaGanadora = ptr[string](val)
	case licitacion.ColContactoCoordinacionNombre:
		lic.ContactoCoordinacionNombre = ptr[string](val)
	case licitacion.ColContactoCoordinacionEmail:
		lic.ContactoCoordinacionEmail = ptr[string](val)
	case licitacion.ColContactoCoordinacionTelefono:
		lic.ContactoCoordinacionTelefono = ptr[string](val)
	case licitacion.ColFechaAdjudicacion:
		lic.FechaAdjudicacion = ptr[string](val)
	case licitacion.ColContratoID:
		lic.ContratoID = ptr[string](val)
	default:
		return errors.Errorf("unknown column %q", col)
	}
	return nil
}

func setAteField(ate *licitacion.Ate, col string, val interface{}) error {
	switch col {
	case licitacion.ColAteNombre:
		ate.NombreAte, _ = val.(string)
	case licitacion.ColAteRut:
		ate.RutAte = ptr[string](val)
	case licitacion.ColAteNombreContacto:
		ate.NombreContacto = ptr[string](val)
	case licitacion.ColAteEmail:
		ate.Email = ptr[string](val)
	case licitacion.ColAteTelefono:
		ate.Telefono = ptr[string](val)
	case licitacion.ColAteFechaSolicitudBases:
		ate.FechaSolicitudBases = ptr[string](val)
	case licitacion.ColAteFechaEnvioBases:
		ate.FechaEnvioBases = ptr[string](val)
	case licitacion.ColAteNotas:
		ate.Notas = ptr[string](val)
	case licitacion.ColAtePropuestaURL:
		ate.PropuestaURL = ptr[string](val)
	case licitacion.ColAtePropuestaFilename:
		ate.PropuestaFilename = ptr[string](val)
	case licitacion.ColAtePropuestaSize:
		ate.PropuestaSize = ptr[int64](val)
	case licitacion.ColAtePropuestaMimeType:
		ate.PropuestaMimeType = ptr[string](val)
	case licitacion.ColAteFechaPropuesta:
		ate.FechaPropuesta = ptr[string](val)
	default:
		return errors.Errorf("unknown ate column %q", col)
	}
	return nil
}

// ateField reports whether the nullable column `col` of the ATE is set.
func ateField(ate licitacion.Ate, col string) (bool, error) {
	switch col {
	case licitacion.ColAteFechaEnvioBases:
		return ate.FechaEnvioBases != nil, nil
	case licitacion.ColAtePropuestaURL:
		return ate.PropuestaURL != nil, nil
	case licitacion.ColAteFechaPropuesta:
		return ate.FechaPropuesta != nil, nil
	case licitacion.ColAteRut:
		return ate.RutAte != nil, nil
	case licitacion.ColAteEmail:
		return ate.Email != nil, nil
	default:
		return false, errors.Errorf("unsupported ate column %q", col)
	}
}

// ptr returns a pointer to a copy of val, or nil when val is not a T.
func ptr[T any](val interface{}) *T {
	v, ok := val.(T)
	if !ok {
		return nil
	}
	return &v
}
