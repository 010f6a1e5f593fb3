package pgrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/licita/core"
	"github.com/trezcool/licita/core/access"
	"github.com/trezcool/licita/core/licitacion"
)

type licitacionRow struct {
	ID                           string       `db:"id"`
	NumeroLicitacion             string       `db:"numero_licitacion"`
	SchoolID                     int64        `db:"school_id"`
	Estado                       string       `db:"estado"`
	NombreLicitacion             string       `db:"nombre_licitacion"`
	Year                         int          `db:"year"`
	EmailLicitacion              string       `db:"email_licitacion"`
	MontoMinimo                  float64      `db:"monto_minimo"`
	MontoMaximo                  float64      `db:"monto_maximo"`
	TipoMoneda                   string       `db:"tipo_moneda"`
	DuracionMinima               string       `db:"duracion_minima"`
	DuracionMaxima               string       `db:"duracion_maxima"`
	PesoEvaluacionTecnica        int          `db:"peso_evaluacion_tecnica"`
	PesoEvaluacionEconomica      int          `db:"peso_evaluacion_economica"`
	ParticipantesEstimados       null.Int     `db:"participantes_estimados"`
	ModalidadPreferida           null.String  `db:"modalidad_preferida"`
	Notas                        null.String  `db:"notas"`
	PublicacionImagenURL         null.String  `db:"publicacion_imagen_url"`
	FechaPublicacion             null.Time    `db:"fecha_publicacion"`
	FechaLimiteSolicitudBases    null.Time    `db:"fecha_limite_solicitud_bases"`
	FechaLimiteConsultas         null.Time    `db:"fecha_limite_consultas"`
	FechaInicioPropuestas        null.Time    `db:"fecha_inicio_propuestas"`
	FechaLimitePropuestas        null.Time    `db:"fecha_limite_propuestas"`
	FechaLimiteEvaluacion        null.Time    `db:"fecha_limite_evaluacion"`
	GanadorAteID                 null.String  `db:"ganador_ate_id"`
	GanadorEsFne                 null.Bool    `db:"ganador_es_fne"`
	MontoAdjudicadoUF            null.Float64 `db:"monto_adjudicado_uf"`
	CondicionesPago              null.String  `db:"condiciones_pago"`
	FechaOfertaGanadora          null.Time    `db:"fecha_oferta_ganadora"`
	ContactoCoordinacionNombre   null.String  `db:"contacto_coordinacion_nombre"`
	ContactoCoordinacionEmail    null.String  `db:"contacto_coordinacion_email"`
	ContactoCoordinacionTelefono null.String  `db:"contacto_coordinacion_telefono"`
	FechaAdjudicacion            null.Time    `db:"fecha_adjudicacion"`
	ContratoID                   null.String  `db:"contrato_id"`
	CreatedBy                    null.String  `db:"created_by"`
	CreatedAt                    time.Time    `db:"created_at"`
	UpdatedAt                    time.Time    `db:"updated_at"`
}

type ateRow struct {
	ID                  string      `db:"id"`
	LicitacionID        string      `db:"licitacion_id"`
	NombreAte           string      `db:"nombre_ate"`
	RutAte              null.String `db:"rut_ate"`
	NombreContacto      null.String `db:"nombre_contacto"`
	Email               null.String `db:"email"`
	Telefono            null.String `db:"telefono"`
	FechaSolicitudBases null.Time   `db:"fecha_solicitud_bases"`
	FechaEnvioBases     null.Time   `db:"fecha_envio_bases"`
	PropuestaURL        null.String `db:"propuesta_url"`
	PropuestaFilename   null.String `db:"propuesta_filename"`
	PropuestaSize       null.Int64  `db:"propuesta_size"`
	PropuestaMimeType   null.String `db:"propuesta_mime_type"`
	FechaPropuesta      null.Time   `db:"fecha_propuesta"`
	Notas               null.String `db:"notas"`
	EsGanador           bool        `db:"es_ganador"`
	CreatedAt           time.Time   `db:"created_at"`
	UpdatedAt           time.Time   `db:"updated_at"`
}

type consultaRow struct {
	ID             string      `db:"id"`
	LicitacionID   string      `db:"licitacion_id"`
	AteID          null.String `db:"ate_id"`
	Pregunta       string      `db:"pregunta"`
	Respuesta      null.String `db:"respuesta"`
	FechaPregunta  null.Time   `db:"fecha_pregunta"`
	FechaRespuesta null.Time   `db:"fecha_respuesta"`
	CreatedAt      time.Time   `db:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at"`
}

type historialRow struct {
	ID             string         `db:"id"`
	LicitacionID   string         `db:"licitacion_id"`
	Accion         string         `db:"accion"`
	EstadoAnterior null.String    `db:"estado_anterior"`
	EstadoNuevo    string         `db:"estado_nuevo"`
	Detalles       types.JSONText `db:"detalles"`
	UserID         string         `db:"user_id"`
	CreatedAt      time.Time      `db:"created_at"`
}

// writable lists the columns FieldSets may touch.
var writable = func() map[string]bool {
	cols := map[string]bool{
		licitacion.ColEstado:                       true,
		licitacion.ColFechaPublicacion:             true,
		licitacion.ColGanadorAteID:                 true,
		licitacion.ColGanadorEsFne:                 true,
		licitacion.ColMontoAdjudicadoUF:            true,
		licitacion.ColCondicionesPago:              true,
		licitacion.ColFechaOfertaGanadora:          true,
		licitacion.ColContactoCoordinacionNombre:   true,
		licitacion.ColContactoCoordinacionEmail:    true,
		licitacion.ColContactoCoordinacionTelefono: true,
		licitacion.ColFechaAdjudicacion:            true,
		licitacion.ColContratoID:                   true,
	}
	for _, col := range licitacion.TimelineColumns {
		cols[col] = true
	}
	for _, col := range access.UpdatableFields() {
		cols[col] = true
	}
	return cols
}()

// ateWritable lists the licitacion_ates columns FieldSets may touch.
var ateWritable = map[string]bool{
	licitacion.ColAteNombre:              true,
	licitacion.ColAteRut:                 true,
	licitacion.ColAteNombreContacto:      true,
	licitacion.ColAteEmail:               true,
	licitacion.ColAteTelefono:            true,
	licitacion.ColAteFechaSolicitudBases: true,
	licitacion.ColAteFechaEnvioBases:     true,
	licitacion.ColAteNotas:               true,
	licitacion.ColAtePropuestaURL:        true,
	licitacion.ColAtePropuestaFilename:   true,
	licitacion.ColAtePropuestaSize:       true,
	licitacion.ColAtePropuestaMimeType:   true,
	licitacion.ColAteFechaPropuesta:      true,
}

type licitacionRepository struct {
	db   core.DB
	exec core.DBExecutor
	tx   core.DBTransactor // set on transaction-bound repositories
}

var _ licitacion.Repository = (*licitacionRepository)(nil) // interface compliance check

func NewLicitacionRepository(db core.DB) *licitacionRepository {
	return &licitacionRepository{db: db, exec: db}
}

func (repo *licitacionRepository) boil(lic licitacion.Licitacion) licitacionRow {
	return licitacionRow{
		ID:                           lic.ID,
		NumeroLicitacion:             lic.NumeroLicitacion,
		SchoolID:                     lic.SchoolID,
		Estado:                       string(lic.Estado),
		NombreLicitacion:             lic.NombreLicitacion,
		Year:                         lic.Year,
		EmailLicitacion:              lic.EmailLicitacion,
		MontoMinimo:                  lic.MontoMinimo,
		MontoMaximo:                  lic.MontoMaximo,
		TipoMoneda:                   lic.TipoMoneda,
		DuracionMinima:               lic.DuracionMinima,
		DuracionMaxima:               lic.DuracionMaxima,
		PesoEvaluacionTecnica:        lic.PesoEvaluacionTecnica,
		PesoEvaluacionEconomica:      lic.PesoEvaluacionEconomica,
		ParticipantesEstimados:       intFromPtr(lic.ParticipantesEstimados),
		ModalidadPreferida:           null.StringFromPtr(lic.ModalidadPreferida),
		Notas:                        null.StringFromPtr(lic.Notas),
		PublicacionImagenURL:         null.StringFromPtr(lic.PublicacionImagenURL),
		FechaPublicacion:             dateFrom(lic.FechaPublicacion),
		FechaLimiteSolicitudBases:    dateFrom(lic.FechaLimiteSolicitudBases),
		FechaLimiteConsultas:         dateFrom(lic.FechaLimiteConsultas),
		FechaInicioPropuestas:        dateFrom(lic.FechaInicioPropuestas),
		FechaLimitePropuestas:        dateFrom(lic.FechaLimitePropuestas),
		FechaLimiteEvaluacion:        dateFrom(lic.FechaLimiteEvaluacion),
		GanadorAteID:                 null.StringFromPtr(lic.GanadorAteID),
		GanadorEsFne:                 null.BoolFromPtr(lic.GanadorEsFne),
		MontoAdjudicadoUF:            null.Float64FromPtr(lic.MontoAdjudicadoUF),
		CondicionesPago:              null.StringFromPtr(lic.CondicionesPago),
		FechaOfertaGanadora:          dateFrom(lic.FechaOfertaGanadora),
		ContactoCoordinacionNombre:   null.StringFromPtr(lic.ContactoCoordinacionNombre),
		ContactoCoordinacionEmail:    null.StringFromPtr(lic.ContactoCoordinacionEmail),
		ContactoCoordinacionTelefono: null.StringFromPtr(lic.ContactoCoordinacionTelefono),
		FechaAdjudicacion:            dateFrom(lic.FechaAdjudicacion),
		ContratoID:                   null.StringFromPtr(lic.ContratoID),
		CreatedBy:                    null.StringFromPtr(lic.CreatedBy),
		CreatedAt:                    lic.CreatedAt.UTC(),
		UpdatedAt:                    lic.UpdatedAt.UTC(),
	}
}

func (repo *licitacionRepository) unboil(row licitacionRow) licitacion.Licitacion {
	return licitacion.Licitacion{
		ID:                           row.ID,
		NumeroLicitacion:             row.NumeroLicitacion,
		SchoolID:                     row.SchoolID,
		Estado:                       licitacion.Estado(row.Estado),
		NombreLicitacion:             row.NombreLicitacion,
		Year:                         row.Year,
		EmailLicitacion:              row.EmailLicitacion,
		MontoMinimo:                  row.MontoMinimo,
		MontoMaximo:                  row.MontoMaximo,
		TipoMoneda:                   row.TipoMoneda,
		DuracionMinima:               row.DuracionMinima,
		DuracionMaxima:               row.DuracionMaxima,
		PesoEvaluacionTecnica:        row.PesoEvaluacionTecnica,
		PesoEvaluacionEconomica:      row.PesoEvaluacionEconomica,
		ParticipantesEstimados:       intPtr(row.ParticipantesEstimados),
		ModalidadPreferida:           row.ModalidadPreferida.Ptr(),
		Notas:                        row.Notas.Ptr(),
		PublicacionImagenURL:         row.PublicacionImagenURL.Ptr(),
		FechaPublicacion:             dateString(row.FechaPublicacion),
		FechaLimiteSolicitudBases:    dateString(row.FechaLimiteSolicitudBases),
		FechaLimiteConsultas:         dateString(row.FechaLimiteConsultas),
		FechaInicioPropuestas:        dateString(row.FechaInicioPropuestas),
		FechaLimitePropuestas:        dateString(row.FechaLimitePropuestas),
		FechaLimiteEvaluacion:        dateString(row.FechaLimiteEvaluacion),
		GanadorAteID:                 row.GanadorAteID.Ptr(),
		GanadorEsFne:                 row.GanadorEsFne.Ptr(),
		MontoAdjudicadoUF:            row.MontoAdjudicadoUF.Ptr(),
		CondicionesPago:              row.CondicionesPago.Ptr(),
		FechaOfertaGanadora:          dateString(row.FechaOfertaGanadora),
		ContactoCoordinacionNombre:   row.ContactoCoordinacionNombre.Ptr(),
		ContactoCoordinacionEmail:    row.ContactoCoordinacionEmail.Ptr(),
		ContactoCoordinacionTelefono: row.ContactoCoordinacionTelefono.Ptr(),
		FechaAdjudicacion:            dateString(row.FechaAdjudicacion),
		ContratoID:                   row.ContratoID.Ptr(),
		CreatedBy:                    row.CreatedBy.Ptr(),
		CreatedAt:                    row.CreatedAt.UTC(),
		UpdatedAt:                    row.UpdatedAt.UTC(),
	}
}

func intFromPtr(i *int) null.Int {
	if i == nil {
		return null.Int{}
	}
	return null.IntFrom(*i)
}

func intPtr(i null.Int) *int {
	if !i.Valid {
		return nil
	}
	v := i.Int
	return &v
}

// trapNoRowsErr maps "no rows" to `notFound`.
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

func (repo *licitacionRepository) InTx(ctx context.Context, fn func(repo licitacion.Repository) error) error {
	if repo.tx != nil {
		return fn(repo)
	}
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = fn(&licitacionRepository{db: repo.db, exec: tx, tx: tx}); err != nil {
		return rollback(tx, err)
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

func (repo *licitacionRepository) GetLicitacion(ctx context.Context, id string) (licitacion.Licitacion, error) {
	q := "SELECT * FROM licitaciones WHERE id = $1"
	if repo.tx != nil {
		q += " FOR UPDATE"
	}
	var row licitacionRow
	if err := sqlx.GetContext(ctx, repo.exec, &row, q, id); err != nil {
		return licitacion.Licitacion{}, trapNoRowsErr(err, licitacion.ErrNotFound, "getting licitacion")
	}
	return repo.unboil(row), nil
}

func (repo *licitacionRepository) QueryLicitaciones(ctx context.Context, filter licitacion.QueryFilter) ([]licitacion.Licitacion, int, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.SchoolIDs != nil {
		if len(filter.SchoolIDs) == 0 {
			return []licitacion.Licitacion{}, 0, nil
		}
		conds = append(conds, "school_id IN (?)")
		args = append(args, filter.SchoolIDs)
	}
	if filter.SchoolID != 0 {
		conds = append(conds, "school_id = ?")
		args = append(args, filter.SchoolID)
	}
	if filter.Estado != "" {
		conds = append(conds, "estado = ?")
		args = append(args, filter.Estado)
	}
	if filter.Year != 0 {
		conds = append(conds, "year = ?")
		args = append(args, filter.Year)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	countQ, countArgs, err := sqlx.In("SELECT COUNT(*) FROM licitaciones"+where, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "building count query")
	}
	var total int
	if err = sqlx.GetContext(ctx, repo.exec, &total, repo.exec.Rebind(countQ), countArgs...); err != nil {
		return nil, 0, errors.Wrap(err, "counting licitaciones")
	}

	ordering := []core.DBOrdering{{Field: "created_at"}, {Field: "id"}}
	orderList := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		orderList = append(orderList, ord.String())
	}
	listQ, listArgs, err := sqlx.In(
		"SELECT * FROM licitaciones"+where+" ORDER BY "+strings.Join(orderList, ", ")+" LIMIT ? OFFSET ?",
		append(args, filter.Limit, filter.Offset())...,
	)
	if err != nil {
		return nil, 0, errors.Wrap(err, "building list query")
	}
	var rows []licitacionRow
	if err = sqlx.SelectContext(ctx, repo.exec, &rows, repo.exec.Rebind(listQ), listArgs...); err != nil {
		return nil, 0, errors.Wrap(err, "querying licitaciones")
	}

	lics := make([]licitacion.Licitacion, 0, len(rows))
	for _, row := range rows {
		lics = append(lics, repo.unboil(row))
	}
	return lics, total, nil
}

func (repo *licitacionRepository) LastNumero(ctx context.Context, prefix string) (string, error) {
	var numero string
	err := sqlx.GetContext(ctx, repo.exec, &numero, `
		SELECT numero_licitacion FROM licitaciones
		WHERE numero_licitacion LIKE $1
		ORDER BY length(numero_licitacion) DESC, numero_licitacion DESC
		LIMIT 1`,
		prefix+"%",
	)
	if errors.Cause(err) == sql.ErrNoRows {
		return "", nil
	}
	return numero, errors.Wrap(err, "getting last numero_licitacion")
}

const insertLicitacion = `
	INSERT INTO licitaciones (
		id, numero_licitacion, school_id, estado, nombre_licitacion, year, email_licitacion,
		monto_minimo, monto_maximo, tipo_moneda, duracion_minima, duracion_maxima,
		peso_evaluacion_tecnica, peso_evaluacion_economica, participantes_estimados,
		modalidad_preferida, notas, publicacion_imagen_url, created_by, created_at, updated_at
	) VALUES (
		:id, :numero_licitacion, :school_id, :estado, :nombre_licitacion, :year, :email_licitacion,
		:monto_minimo, :monto_maximo, :tipo_moneda, :duracion_minima, :duracion_maxima,
		:peso_evaluacion_tecnica, :peso_evaluacion_economica, :participantes_estimados,
		:modalidad_preferida, :notas, :publicacion_imagen_url, :created_by, :created_at, :updated_at
	)`

func (repo *licitacionRepository) CreateLicitacion(ctx context.Context, lic licitacion.Licitacion) (licitacion.Licitacion, error) {
	if _, err := sqlx.NamedExecContext(ctx, repo.exec, insertLicitacion, repo.boil(lic)); err != nil {
		if isUniqueViolation(err) {
			return licitacion.Licitacion{}, licitacion.ErrNumeroTaken
		}
		return licitacion.Licitacion{}, errors.Wrap(err, "inserting licitacion")
	}
	return lic, nil
}

// buildUpdate returns an UPDATE statement on `table` setting `fields` (in column order) and updated_at.
func buildUpdate(table string, allowed map[string]bool, fields licitacion.FieldSet, now time.Time, conds ...string) (string, []interface{}, error) {
	cols := make([]string, 0, len(fields))
	for col := range fields {
		if !allowed[col] {
			return "", nil, errors.Errorf("column %q is not writable", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols)+1)
	args := make([]interface{}, 0, len(cols)+1+len(conds))
	for _, col := range cols {
		args = append(args, columnValue(fields[col]))
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	args = append(args, now)
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))

	where := make([]string, 0, len(conds))
	for i, cond := range conds {
		where = append(where, fmt.Sprintf("%s = $%d", cond, len(args)+i+1))
	}
	q := "UPDATE " + table + " SET " + strings.Join(sets, ", ") + " WHERE " + strings.Join(where, " AND ") + " RETURNING *"
	return q, args, nil
}

func columnValue(v interface{}) interface{} {
	if estado, ok := v.(licitacion.Estado); ok {
		return string(estado)
	}
	return v
}

func (repo *licitacionRepository) UpdateLicitacion(ctx context.Context, id string, fields licitacion.FieldSet) (licitacion.Licitacion, error) {
	q, args, err := buildUpdate("licitaciones", writable, fields, time.Now().UTC(), "id")
	if err != nil {
		return licitacion.Licitacion{}, err
	}
	var row licitacionRow
	if err = sqlx.GetContext(ctx, repo.exec, &row, q, append(args, id)...); err != nil {
		return licitacion.Licitacion{}, trapNoRowsErr(err, licitacion.ErrNotFound, "updating licitacion")
	}
	return repo.unboil(row), nil
}

func (repo *licitacionRepository) UpdateLicitacionInState(ctx context.Context, id string, estado licitacion.Estado, fields licitacion.FieldSet) (licitacion.Licitacion, error) {
	q, args, err := buildUpdate("licitaciones", writable, fields, time.Now().UTC(), "id", "estado")
	if err != nil {
		return licitacion.Licitacion{}, err
	}
	var row licitacionRow
	if err = sqlx.GetContext(ctx, repo.exec, &row, q, append(args, id, string(estado))...); err != nil {
		return licitacion.Licitacion{}, trapNoRowsErr(err, licitacion.ErrStateConflict, "updating licitacion in state")
	}
	return repo.unboil(row), nil
}

func unboilAte(row ateRow) licitacion.Ate {
	return licitacion.Ate{
		ID:                  row.ID,
		LicitacionID:        row.LicitacionID,
		NombreAte:           row.NombreAte,
		RutAte:              row.RutAte.Ptr(),
		NombreContacto:      row.NombreContacto.Ptr(),
		Email:               row.Email.Ptr(),
		Telefono:            row.Telefono.Ptr(),
		FechaSolicitudBases: dateString(row.FechaSolicitudBases),
		FechaEnvioBases:     dateString(row.FechaEnvioBases),
		PropuestaURL:        row.PropuestaURL.Ptr(),
		PropuestaFilename:   row.PropuestaFilename.Ptr(),
		PropuestaSize:       row.PropuestaSize.Ptr(),
		PropuestaMimeType:   row.PropuestaMimeType.Ptr(),
		FechaPropuesta:      dateString(row.FechaPropuesta),
		Notas:               row.Notas.Ptr(),
		EsGanador:           row.EsGanador,
		CreatedAt:           row.CreatedAt.UTC(),
		UpdatedAt:           row.UpdatedAt.UTC(),
	}
}

func (repo *licitacionRepository) GetAte(ctx context.Context, licitacionID, ateID string) (licitacion.Ate, error) {
	var row ateRow
	err := sqlx.GetContext(ctx, repo.exec, &row,
		"SELECT * FROM licitacion_ates WHERE id = $1 AND licitacion_id = $2", ateID, licitacionID)
	if err != nil {
		return licitacion.Ate{}, trapNoRowsErr(err, licitacion.ErrAteNotFound, "getting ate")
	}
	return unboilAte(row), nil
}

func (repo *licitacionRepository) QueryAtes(ctx context.Context, licitacionID string) ([]licitacion.Ate, error) {
	var rows []ateRow
	err := sqlx.SelectContext(ctx, repo.exec, &rows,
		"SELECT * FROM licitacion_ates WHERE licitacion_id = $1 ORDER BY created_at ASC, id ASC", licitacionID)
	if err != nil {
		return nil, errors.Wrap(err, "querying ates")
	}
	ates := make([]licitacion.Ate, 0, len(rows))
	for _, row := range rows {
		ates = append(ates, unboilAte(row))
	}
	return ates, nil
}

func (repo *licitacionRepository) CountAtes(ctx context.Context, licitacionID string, notNull ...string) (int, error) {
	q := "SELECT COUNT(*) FROM licitacion_ates WHERE licitacion_id = $1"
	for _, col := range notNull {
		if !ateWritable[col] {
			return 0, errors.Errorf("unknown ate column %q", col)
		}
		q += " AND " + col + " IS NOT NULL"
	}
	var n int
	err := sqlx.GetContext(ctx, repo.exec, &n, q, licitacionID)
	return n, errors.Wrap(err, "counting ates")
}

const insertAte = `
	INSERT INTO licitacion_ates (
		id, licitacion_id, nombre_ate, rut_ate, nombre_contacto, email, telefono,
		fecha_solicitud_bases, fecha_envio_bases, propuesta_url, propuesta_filename, propuesta_size,
		propuesta_mime_type, fecha_propuesta, notas, es_ganador, created_at, updated_at
	) VALUES (
		:id, :licitacion_id, :nombre_ate, :rut_ate, :nombre_contacto, :email, :telefono,
		:fecha_solicitud_bases, :fecha_envio_bases, :propuesta_url, :propuesta_filename, :propuesta_size,
		:propuesta_mime_type, :fecha_propuesta, :notas, :es_ganador, :created_at, :updated_at
	)`

func (repo *licitacionRepository) CreateAte(ctx context.Context, ate licitacion.Ate) (licitacion.Ate, error) {
	row := ateRow{
		ID:                  ate.ID,
		LicitacionID:        ate.LicitacionID,
		NombreAte:           ate.NombreAte,
		RutAte:              null.StringFromPtr(ate.RutAte),
		NombreContacto:      null.StringFromPtr(ate.NombreContacto),
		Email:               null.StringFromPtr(ate.Email),
		Telefono:            null.StringFromPtr(ate.Telefono),
		FechaSolicitudBases: dateFrom(ate.FechaSolicitudBases),
		FechaEnvioBases:     dateFrom(ate.FechaEnvioBases),
		PropuestaURL:        null.StringFromPtr(ate.PropuestaURL),
		PropuestaFilename:   null.StringFromPtr(ate.PropuestaFilename),
		PropuestaSize:       null.Int64FromPtr(ate.PropuestaSize),
		PropuestaMimeType:   null.StringFromPtr(ate.PropuestaMimeType),
		FechaPropuesta:      dateFrom(ate.FechaPropuesta),
		Notas:               null.StringFromPtr(ate.Notas),
		EsGanador:           ate.EsGanador,
		CreatedAt:           ate.CreatedAt.UTC(),
		UpdatedAt:           ate.UpdatedAt.UTC(),
	}
	if _, err := sqlx.NamedExecContext(ctx, repo.exec, insertAte, row); err != nil {
		return licitacion.Ate{}, errors.Wrap(err, "inserting ate")
	}
	return ate, nil
}

func (repo *licitacionRepository) UpdateAte(ctx context.Context, licitacionID, ateID string, fields licitacion.FieldSet) (licitacion.Ate, error) {
	q, args, err := buildUpdate("licitacion_ates", ateWritable, fields, time.Now().UTC(), "id", "licitacion_id")
	if err != nil {
		return licitacion.Ate{}, err
	}
	var row ateRow
	if err = sqlx.GetContext(ctx, repo.exec, &row, q, append(args, ateID, licitacionID)...); err != nil {
		return licitacion.Ate{}, trapNoRowsErr(err, licitacion.ErrAteNotFound, "updating ate")
	}
	return unboilAte(row), nil
}

// DeleteAte must run in a transaction: the consultas are detached before the delete.
func (repo *licitacionRepository) DeleteAte(ctx context.Context, licitacionID, ateID string) error {
	if _, err := repo.exec.ExecContext(ctx,
		"UPDATE licitacion_consultas SET ate_id = NULL, updated_at = $3 WHERE ate_id = $1 AND licitacion_id = $2",
		ateID, licitacionID, time.Now().UTC(),
	); err != nil {
		return errors.Wrap(err, "detaching consultas")
	}
	res, err := repo.exec.ExecContext(ctx,
		"DELETE FROM licitacion_ates WHERE id = $1 AND licitacion_id = $2", ateID, licitacionID)
	if err != nil {
		return errors.Wrap(err, "deleting ate")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "deleting ate")
	}
	if n == 0 {
		return licitacion.ErrAteNotFound
	}
	return nil
}

// SetWinner must run in a transaction: the reset and the set are two statements.
func (repo *licitacionRepository) SetWinner(ctx context.Context, licitacionID, ateID string) error {
	now := time.Now().UTC()
	if _, err := repo.exec.ExecContext(ctx,
		"UPDATE licitacion_ates SET es_ganador = false, updated_at = $2 WHERE licitacion_id = $1 AND es_ganador",
		licitacionID, now,
	); err != nil {
		return errors.Wrap(err, "resetting winner")
	}
	res, err := repo.exec.ExecContext(ctx,
		"UPDATE licitacion_ates SET es_ganador = true, updated_at = $3 WHERE id = $1 AND licitacion_id = $2",
		ateID, licitacionID, now,
	)
	if err != nil {
		return errors.Wrap(err, "setting winner")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "setting winner")
	}
	if n == 0 {
		return licitacion.ErrAteNotFound
	}
	return nil
}

func (repo *licitacionRepository) QueryConsultas(ctx context.Context, licitacionID string) ([]licitacion.Consulta, error) {
	var rows []consultaRow
	err := sqlx.SelectContext(ctx, repo.exec, &rows,
		"SELECT * FROM licitacion_consultas WHERE licitacion_id = $1 ORDER BY created_at ASC, id ASC", licitacionID)
	if err != nil {
		return nil, errors.Wrap(err, "querying consultas")
	}
	consultas := make([]licitacion.Consulta, 0, len(rows))
	for _, row := range rows {
		consultas = append(consultas, licitacion.Consulta{
			ID:             row.ID,
			LicitacionID:   row.LicitacionID,
			AteID:          row.AteID.Ptr(),
			Pregunta:       row.Pregunta,
			Respuesta:      row.Respuesta.Ptr(),
			FechaPregunta:  dateString(row.FechaPregunta),
			FechaRespuesta: dateString(row.FechaRespuesta),
			CreatedAt:      row.CreatedAt.UTC(),
			UpdatedAt:      row.UpdatedAt.UTC(),
		})
	}
	return consultas, nil
}

const insertConsulta = `
	INSERT INTO licitacion_consultas (
		id, licitacion_id, ate_id, pregunta, respuesta, fecha_pregunta, fecha_respuesta, created_at, updated_at
	) VALUES (
		:id, :licitacion_id, :ate_id, :pregunta, :respuesta, :fecha_pregunta, :fecha_respuesta, :created_at, :updated_at
	)`

func (repo *licitacionRepository) CreateConsulta(ctx context.Context, cons licitacion.Consulta) (licitacion.Consulta, error) {
	row := consultaRow{
		ID:             cons.ID,
		LicitacionID:   cons.LicitacionID,
		AteID:          null.StringFromPtr(cons.AteID),
		Pregunta:       cons.Pregunta,
		Respuesta:      null.StringFromPtr(cons.Respuesta),
		FechaPregunta:  dateFrom(cons.FechaPregunta),
		FechaRespuesta: dateFrom(cons.FechaRespuesta),
		CreatedAt:      cons.CreatedAt.UTC(),
		UpdatedAt:      cons.UpdatedAt.UTC(),
	}
	if _, err := sqlx.NamedExecContext(ctx, repo.exec, insertConsulta, row); err != nil {
		return licitacion.Consulta{}, errors.Wrap(err, "inserting consulta")
	}
	return cons, nil
}

const insertHistorial = `
	INSERT INTO licitacion_historial (
		id, licitacion_id, accion, estado_anterior, estado_nuevo, detalles, user_id, created_at
	) VALUES (
		:id, :licitacion_id, :accion, :estado_anterior, :estado_nuevo, :detalles, :user_id, :created_at
	)`

func (repo *licitacionRepository) AppendHistorial(ctx context.Context, entry licitacion.HistorialEntry) error {
	detalles := entry.Detalles
	if detalles == nil {
		detalles = map[string]interface{}{}
	}
	raw, err := json.Marshal(detalles)
	if err != nil {
		return errors.Wrap(err, "encoding historial detalles")
	}

	row := historialRow{
		ID:           entry.ID,
		LicitacionID: entry.LicitacionID,
		Accion:       entry.Accion,
		EstadoNuevo:  string(entry.EstadoNuevo),
		Detalles:     types.JSONText(raw),
		UserID:       entry.UserID,
		CreatedAt:    entry.CreatedAt.UTC(),
	}
	if entry.EstadoAnterior != nil {
		row.EstadoAnterior = null.StringFrom(string(*entry.EstadoAnterior))
	}
	if _, err = sqlx.NamedExecContext(ctx, repo.exec, insertHistorial, row); err != nil {
		return errors.Wrap(err, "inserting historial")
	}
	return nil
}

func (repo *licitacionRepository) QueryFeriados(ctx context.Context, from, to int) ([]string, error) {
	var fechas []time.Time
	err := sqlx.SelectContext(ctx, repo.exec, &fechas,
		"SELECT fecha FROM feriados_chile WHERE year BETWEEN $1 AND $2 ORDER BY fecha", from, to)
	if err != nil {
		return nil, errors.Wrap(err, "querying feriados")
	}
	feriados := make([]string, 0, len(fechas))
	for _, f := range fechas {
		feriados = append(feriados, f.Format(core.DateLayout))
	}
	return feriados, nil
}
