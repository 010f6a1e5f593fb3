package licitacion

import (
	"encoding/json"
	"time"

	"github.com/trezcool/licita/core"
)

type Licitacion struct {
	ID                           string    `json:"id"`
	NumeroLicitacion             string    `json:"numero_licitacion"`
	SchoolID                     int64     `json:"school_id"`
	Estado                       Estado    `json:"estado"`
	NombreLicitacion             string    `json:"nombre_licitacion"`
	Year                         int       `json:"year"`
	EmailLicitacion              string    `json:"email_licitacion"`
	MontoMinimo                  float64   `json:"monto_minimo"`
	MontoMaximo                  float64   `json:"monto_maximo"`
	TipoMoneda                   string    `json:"tipo_moneda"`
	DuracionMinima               string    `json:"duracion_minima"`
	DuracionMaxima               string    `json:"duracion_maxima"`
	PesoEvaluacionTecnica        int       `json:"peso_evaluacion_tecnica"`
	PesoEvaluacionEconomica      int       `json:"peso_evaluacion_economica"`
	ParticipantesEstimados       *int      `json:"participantes_estimados"`
	ModalidadPreferida           *string   `json:"modalidad_preferida"`
	Notas                        *string   `json:"notas"`
	PublicacionImagenURL         *string   `json:"publicacion_imagen_url"`
	FechaPublicacion             *string   `json:"fecha_publicacion"`
	FechaLimiteSolicitudBases    *string   `json:"fecha_limite_solicitud_bases"`
	FechaLimiteConsultas         *string   `json:"fecha_limite_consultas"`
	FechaInicioPropuestas        *string   `json:"fecha_inicio_propuestas"`
	FechaLimitePropuestas        *string   `json:"fecha_limite_propuestas"`
	FechaLimiteEvaluacion        *string   `json:"fecha_limite_evaluacion"`
	GanadorAteID                 *string   `json:"ganador_ate_id"`
	GanadorEsFne                 *bool     `json:"ganador_es_fne"`
	MontoAdjudicadoUF            *float64  `json:"monto_adjudicado_uf"`
	CondicionesPago              *string   `json:"condiciones_pago"`
	FechaOfertaGanadora          *string   `json:"fecha_oferta_ganadora"`
	ContactoCoordinacionNombre   *string   `json:"contacto_coordinacion_nombre"`
	ContactoCoordinacionEmail    *string   `json:"contacto_coordinacion_email"`
	ContactoCoordinacionTelefono *string   `json:"contacto_coordinacion_telefono"`
	FechaAdjudicacion            *string   `json:"fecha_adjudicacion"`
	ContratoID                   *string   `json:"contrato_id"`
	CreatedBy                    *string   `json:"created_by"`
	CreatedAt                    time.Time `json:"created_at"` // UTC
	UpdatedAt                    time.Time `json:"updated_at"` // UTC
}

// Timeline returns the current timeline dates keyed by column name.
func (l Licitacion) Timeline() map[string]*string {
	return map[string]*string{
		ColFechaLimiteSolicitudBases: l.FechaLimiteSolicitudBases,
		ColFechaLimiteConsultas:      l.FechaLimiteConsultas,
		ColFechaInicioPropuestas:     l.FechaInicioPropuestas,
		ColFechaLimitePropuestas:     l.FechaLimitePropuestas,
		ColFechaLimiteEvaluacion:     l.FechaLimiteEvaluacion,
	}
}

// Ate (Asistencia Técnica Educativa) is a vendor taking part in a licitación.
type Ate struct {
	ID                  string    `json:"id"`
	LicitacionID        string    `json:"licitacion_id"`
	NombreAte           string    `json:"nombre_ate"`
	RutAte              *string   `json:"rut_ate"`
	NombreContacto      *string   `json:"nombre_contacto"`
	Email               *string   `json:"email"`
	Telefono            *string   `json:"telefono"`
	FechaSolicitudBases *string   `json:"fecha_solicitud_bases"`
	FechaEnvioBases     *string   `json:"fecha_envio_bases"`
	PropuestaURL        *string   `json:"propuesta_url"`
	PropuestaFilename   *string   `json:"propuesta_filename"`
	PropuestaSize       *int64    `json:"propuesta_size"`
	PropuestaMimeType   *string   `json:"propuesta_mime_type"`
	FechaPropuesta      *string   `json:"fecha_propuesta"`
	Notas               *string   `json:"notas"`
	EsGanador           bool      `json:"es_ganador"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Consulta is a bidder question (and its answer) raised during the process.
type Consulta struct {
	ID             string    `json:"id"`
	LicitacionID   string    `json:"licitacion_id"`
	AteID          *string   `json:"ate_id"`
	Pregunta       string    `json:"pregunta"`
	Respuesta      *string   `json:"respuesta"`
	FechaPregunta  *string   `json:"fecha_pregunta"`
	FechaRespuesta *string   `json:"fecha_respuesta"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// HistorialEntry is an append-only audit record of a licitación.
type HistorialEntry struct {
	ID             string                 `json:"id"`
	LicitacionID   string                 `json:"licitacion_id"`
	Accion         string                 `json:"accion"`
	EstadoAnterior *Estado                `json:"estado_anterior"`
	EstadoNuevo    Estado                 `json:"estado_nuevo"`
	Detalles       map[string]interface{} `json:"detalles"`
	UserID         string                 `json:"user_id"`
	CreatedAt      time.Time              `json:"created_at"`
}

// FieldSet maps column names to their new values. A nil value clears a nullable column.
type FieldSet map[string]interface{}

// Columns
const (
	ColEstado                       = "estado"
	ColFechaPublicacion             = "fecha_publicacion"
	ColFechaLimiteSolicitudBases    = "fecha_limite_solicitud_bases"
	ColFechaLimiteConsultas         = "fecha_limite_consultas"
	ColFechaInicioPropuestas        = "fecha_inicio_propuestas"
	ColFechaLimitePropuestas        = "fecha_limite_propuestas"
	ColFechaLimiteEvaluacion        = "fecha_limite_evaluacion"
	ColGanadorAteID                 = "ganador_ate_id"
	ColGanadorEsFne                 = "ganador_es_fne"
	ColMontoAdjudicadoUF            = "monto_adjudicado_uf"
	ColCondicionesPago              = "condiciones_pago"
	ColFechaOfertaGanadora          = "fecha_oferta_ganadora"
	ColContactoCoordinacionNombre   = "contacto_coordinacion_nombre"
	ColContactoCoordinacionEmail    = "contacto_coordinacion_email"
	ColContactoCoordinacionTelefono = "contacto_coordinacion_telefono"
	ColFechaAdjudicacion            = "fecha_adjudicacion"
	ColContratoID                   = "contrato_id"
)

// ATE columns
const (
	ColAteNombre              = "nombre_ate"
	ColAteRut                 = "rut_ate"
	ColAteNombreContacto      = "nombre_contacto"
	ColAteEmail               = "email"
	ColAteTelefono            = "telefono"
	ColAteFechaSolicitudBases = "fecha_solicitud_bases"
	ColAteFechaEnvioBases     = "fecha_envio_bases"
	ColAteNotas               = "notas"
	ColAtePropuestaURL        = "propuesta_url"
	ColAtePropuestaFilename   = "propuesta_filename"
	ColAtePropuestaSize       = "propuesta_size"
	ColAtePropuestaMimeType   = "propuesta_mime_type"
	ColAteFechaPropuesta      = "fecha_propuesta"
)

// TimelineColumns lists the timeline dates in chronological order.
var TimelineColumns = []string{
	ColFechaLimiteSolicitudBases,
	ColFechaLimiteConsultas,
	ColFechaInicioPropuestas,
	ColFechaLimitePropuestas,
	ColFechaLimiteEvaluacion,
}

// NewLicitacion contains information needed to create a new Licitacion.
type NewLicitacion struct {
	SchoolID               int64   `json:"school_id" validate:"required,gt=0"`
	NombreLicitacion       string  `json:"nombre_licitacion" validate:"required,max=500"`
	Year                   int     `json:"year" validate:"required,min=2024,max=2030"`
	EmailLicitacion        string  `json:"email_licitacion" validate:"required,email"`
	MontoMinimo            float64 `json:"monto_minimo" validate:"gte=0,lte=999999999999.99"`
	MontoMaximo            float64 `json:"monto_maximo" validate:"gte=0,lte=999999999999.99,gtefield=MontoMinimo"`
	TipoMoneda             string  `json:"tipo_moneda" validate:"omitempty,oneof=UF CLP"`
	DuracionMinima         string  `json:"duracion_minima" validate:"required,max=255"`
	DuracionMaxima         string  `json:"duracion_maxima" validate:"required,max=255"`
	PesoEvaluacionTecnica  int     `json:"peso_evaluacion_tecnica" validate:"required,min=1,max=99"`
	ParticipantesEstimados *int    `json:"participantes_estimados" validate:"omitempty,gt=0"`
	ModalidadPreferida     *string `json:"modalidad_preferida" validate:"omitempty,oneof=Presencial Virtual Hibrido"`
	Notas                  *string `json:"notas" validate:"omitempty,max=2000"`
}

func (nl *NewLicitacion) Clean() {
	nl.NombreLicitacion = core.CleanString(nl.NombreLicitacion)
	nl.EmailLicitacion = core.CleanString(nl.EmailLicitacion, true /* lower */)
	nl.DuracionMinima = core.CleanString(nl.DuracionMinima)
	nl.DuracionMaxima = core.CleanString(nl.DuracionMaxima)
	nl.ModalidadPreferida = core.CleanStringPtr(nl.ModalidadPreferida)
	nl.Notas = core.CleanStringPtr(nl.Notas)
	if nl.TipoMoneda == "" {
		nl.TipoMoneda = "UF"
	}
}

// FieldUpdate holds the general fields of a PATCH. Only the keys present in the request (and allowed for the role) are applied.
type FieldUpdate struct {
	NombreLicitacion       *string  `json:"nombre_licitacion" validate:"omitempty,min=1,max=500"`
	EmailLicitacion        *string  `json:"email_licitacion" validate:"omitempty,email"`
	MontoMinimo            *float64 `json:"monto_minimo" validate:"omitempty,gte=0,lte=999999999999.99"`
	MontoMaximo            *float64 `json:"monto_maximo" validate:"omitempty,gte=0,lte=999999999999.99"`
	TipoMoneda             *string  `json:"tipo_moneda" validate:"omitempty,oneof=UF CLP"`
	DuracionMinima         *string  `json:"duracion_minima" validate:"omitempty,min=1,max=255"`
	DuracionMaxima         *string  `json:"duracion_maxima" validate:"omitempty,min=1,max=255"`
	ParticipantesEstimados *int     `json:"participantes_estimados" validate:"omitempty,gt=0"`
	ModalidadPreferida     *string  `json:"modalidad_preferida" validate:"omitempty,oneof=Presencial Virtual Hibrido"`
	Notas                  *string  `json:"notas" validate:"omitempty,max=2000"`
	PublicacionImagenURL   *string  `json:"publicacion_imagen_url" validate:"omitempty,max=2048"`
}

// RawFields is a PATCH body as received, keyed by field name.
type RawFields map[string]json.RawMessage

// TimelineUpdate is the admin override of the timeline dates.
type TimelineUpdate struct {
	FechaLimiteSolicitudBases *string `json:"fecha_limite_solicitud_bases" validate:"omitempty,fecha"`
	FechaLimiteConsultas      *string `json:"fecha_limite_consultas" validate:"omitempty,fecha"`
	FechaInicioPropuestas     *string `json:"fecha_inicio_propuestas" validate:"omitempty,fecha"`
	FechaLimitePropuestas     *string `json:"fecha_limite_propuestas" validate:"omitempty,fecha"`
	FechaLimiteEvaluacion     *string `json:"fecha_limite_evaluacion" validate:"omitempty,fecha"`
}

func (tu TimelineUpdate) fields() FieldSet {
	flds := make(FieldSet)
	add := func(col string, val *string) {
		if val != nil {
			flds[col] = *val
		}
	}
	add(ColFechaLimiteSolicitudBases, tu.FechaLimiteSolicitudBases)
	add(ColFechaLimiteConsultas, tu.FechaLimiteConsultas)
	add(ColFechaInicioPropuestas, tu.FechaInicioPropuestas)
	add(ColFechaLimitePropuestas, tu.FechaLimitePropuestas)
	add(ColFechaLimiteEvaluacion, tu.FechaLimiteEvaluacion)
	return flds
}

// Publicacion confirms the publication of the call for bids.
type Publicacion struct {
	FechaPublicacion     string  `json:"fecha_publicacion" validate:"required,fecha"`
	PublicacionImagenURL *string `json:"publicacion_imagen_url" validate:"omitempty,max=2048"`
}

func (p *Publicacion) Clean() {
	p.FechaPublicacion = core.CleanString(p.FechaPublicacion)
	p.PublicacionImagenURL = core.CleanStringPtr(p.PublicacionImagenURL)
}

// PublicacionTexto holds the school data quoted in the publication text.
type PublicacionTexto struct {
	Escuela string `json:"escuela" query:"escuela" validate:"required,max=255"`
	Comuna  string `json:"comuna" query:"comuna" validate:"required,max=255"`
}

// Advance requests a move along the state machine.
type Advance struct {
	TargetEstado Estado `json:"target_estado" validate:"required"`
}

// Adjudicacion is the adjudication data saved while the licitación awaits adjudication.
type Adjudicacion struct {
	GanadorAteID                 string   `json:"ganador_ate_id" validate:"required,uuid"`
	MontoAdjudicadoUF            *float64 `json:"monto_adjudicado_uf" validate:"omitempty,gt=0,lte=999999999"`
	CondicionesPago              *string  `json:"condiciones_pago" validate:"omitempty,max=3000"`
	FechaOfertaGanadora          *string  `json:"fecha_oferta_ganadora" validate:"omitempty,fecha"`
	ContactoCoordinacionNombre   *string  `json:"contacto_coordinacion_nombre" validate:"omitempty,max=255"`
	ContactoCoordinacionEmail    *string  `json:"contacto_coordinacion_email" validate:"omitempty,email"`
	ContactoCoordinacionTelefono *string  `json:"contacto_coordinacion_telefono" validate:"omitempty,max=50"`
}

func (adj *Adjudicacion) Clean() {
	adj.GanadorAteID = core.CleanString(adj.GanadorAteID, true /* lower */)
	adj.CondicionesPago = core.CleanStringPtr(adj.CondicionesPago)
	adj.ContactoCoordinacionNombre = core.CleanStringPtr(adj.ContactoCoordinacionNombre)
	adj.ContactoCoordinacionEmail = core.CleanStringPtr(adj.ContactoCoordinacionEmail, true /* lower */)
	adj.ContactoCoordinacionTelefono = core.CleanStringPtr(adj.ContactoCoordinacionTelefono)
}

type ConfirmAdjudicacion struct {
	EsFne bool `json:"es_fne"`
}

type Close struct {
	Confirmar bool `json:"confirmar" validate:"eq=true"`
}

// LinkContrato links the contract generated for an FNE adjudication.
type LinkContrato struct {
	ContratoID string `json:"contrato_id" validate:"required,uuid"`
}

func (lc *LinkContrato) Clean() {
	lc.ContratoID = core.CleanString(lc.ContratoID, true /* lower */)
}

type NewAte struct {
	NombreAte           string  `json:"nombre_ate" validate:"required,max=255"`
	RutAte              *string `json:"rut_ate" validate:"omitempty,max=20,rut"`
	NombreContacto      *string `json:"nombre_contacto" validate:"omitempty,max=255"`
	Email               *string `json:"email" validate:"omitempty,email"`
	Telefono            *string `json:"telefono" validate:"omitempty,max=50"`
	FechaSolicitudBases *string `json:"fecha_solicitud_bases" validate:"omitempty,fecha"`
}

func (na *NewAte) Clean() {
	na.NombreAte = core.CleanString(na.NombreAte)
	na.RutAte = core.CleanStringPtr(na.RutAte)
	na.NombreContacto = core.CleanStringPtr(na.NombreContacto)
	na.Email = core.CleanStringPtr(na.Email, true /* lower */)
	na.Telefono = core.CleanStringPtr(na.Telefono)
}

// AteUpdate holds the ATE fields to change. Nil fields are left untouched.
type AteUpdate struct {
	NombreAte           *string `json:"nombre_ate" validate:"omitempty,min=1,max=255"`
	RutAte              *string `json:"rut_ate" validate:"omitempty,max=20,rut"`
	NombreContacto      *string `json:"nombre_contacto" validate:"omitempty,max=255"`
	Email               *string `json:"email" validate:"omitempty,email"`
	Telefono            *string `json:"telefono" validate:"omitempty,max=50"`
	FechaSolicitudBases *string `json:"fecha_solicitud_bases" validate:"omitempty,fecha"`
	FechaEnvioBases     *string `json:"fecha_envio_bases" validate:"omitempty,fecha"`
	Notas               *string `json:"notas" validate:"omitempty,max=2000"`
}

func (au *AteUpdate) Clean() {
	au.NombreAte = trimPtr(au.NombreAte)
	au.RutAte = core.CleanStringPtr(au.RutAte)
	au.NombreContacto = core.CleanStringPtr(au.NombreContacto)
	au.Email = core.CleanStringPtr(au.Email, true /* lower */)
	au.Telefono = core.CleanStringPtr(au.Telefono)
	au.FechaSolicitudBases = core.CleanStringPtr(au.FechaSolicitudBases)
	au.FechaEnvioBases = core.CleanStringPtr(au.FechaEnvioBases)
	au.Notas = core.CleanStringPtr(au.Notas)
}

func (au AteUpdate) fields() FieldSet {
	flds := make(FieldSet)
	add := func(col string, val *string) {
		if val != nil {
			flds[col] = *val
		}
	}
	add(ColAteNombre, au.NombreAte)
	add(ColAteRut, au.RutAte)
	add(ColAteNombreContacto, au.NombreContacto)
	add(ColAteEmail, au.Email)
	add(ColAteTelefono, au.Telefono)
	add(ColAteFechaSolicitudBases, au.FechaSolicitudBases)
	add(ColAteFechaEnvioBases, au.FechaEnvioBases)
	add(ColAteNotas, au.Notas)
	return flds
}

// Propuesta is the metadata of a proposal document received from an ATE (PDF, Word or image, up to 25 MB).
// The document itself lives in external storage.
type Propuesta struct {
	PropuestaURL      string  `json:"propuesta_url" validate:"required,max=2048"`
	PropuestaFilename string  `json:"propuesta_filename" validate:"required,max=255"`
	PropuestaSize     int64   `json:"propuesta_size" validate:"required,gt=0,lte=26214400"`
	PropuestaMimeType string  `json:"propuesta_mime_type" validate:"required,oneof=application/pdf application/msword application/vnd.openxmlformats-officedocument.wordprocessingml.document image/png image/jpeg image/gif image/webp"`
	FechaPropuesta    *string `json:"fecha_propuesta" validate:"omitempty,fecha"`
	Notas             *string `json:"notas" validate:"omitempty,max=2000"`
}

func (p *Propuesta) Clean() {
	p.PropuestaURL = core.CleanString(p.PropuestaURL)
	p.PropuestaFilename = core.CleanString(p.PropuestaFilename)
	p.PropuestaMimeType = core.CleanString(p.PropuestaMimeType, true /* lower */)
	if p.PropuestaMimeType == "image/jpg" {
		p.PropuestaMimeType = "image/jpeg"
	}
	p.FechaPropuesta = core.CleanStringPtr(p.FechaPropuesta)
	p.Notas = core.CleanStringPtr(p.Notas)
}

func (p Propuesta) fields() FieldSet {
	flds := FieldSet{
		ColAtePropuestaURL:      p.PropuestaURL,
		ColAtePropuestaFilename: p.PropuestaFilename,
		ColAtePropuestaSize:     p.PropuestaSize,
		ColAtePropuestaMimeType: p.PropuestaMimeType,
	}
	if p.FechaPropuesta != nil {
		flds[ColAteFechaPropuesta] = *p.FechaPropuesta
	}
	if p.Notas != nil {
		flds[ColAteNotas] = *p.Notas
	}
	return flds
}

type NewConsulta struct {
	Pregunta       string  `json:"pregunta" validate:"required,max=2000"`
	Respuesta      *string `json:"respuesta" validate:"omitempty,max=2000"`
	FechaPregunta  *string `json:"fecha_pregunta" validate:"omitempty,fecha"`
	FechaRespuesta *string `json:"fecha_respuesta" validate:"omitempty,fecha"`
	AteID          *string `json:"ate_id" validate:"omitempty,uuid"`
}

func (nc *NewConsulta) Clean() {
	nc.Pregunta = core.CleanString(nc.Pregunta)
	nc.Respuesta = core.CleanStringPtr(nc.Respuesta)
	nc.AteID = core.CleanStringPtr(nc.AteID, true /* lower */)
}

type QueryFilter struct {
	SchoolID int64  `json:"school_id" query:"school_id"`
	Estado   string `json:"estado" query:"estado"`
	Year     int    `json:"year" query:"year"`
	Page     int    `json:"page" query:"page" validate:"lte=100000"`
	Limit    int    `json:"limit" query:"limit"`

	// SchoolIDs restricts the query to these schools when non-nil (set from the caller's scope).
	SchoolIDs []int64 `json:"-" query:"-"`
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 50
)

func (qf *QueryFilter) Clean() {
	qf.Estado = core.CleanString(qf.Estado, true /* lower */)
	if qf.Page < 1 {
		qf.Page = 1
	}
	if qf.Limit < 1 {
		qf.Limit = defaultPageLimit
	}
	if qf.Limit > maxPageLimit {
		qf.Limit = maxPageLimit
	}
}

func (qf QueryFilter) Offset() int {
	return (qf.Page - 1) * qf.Limit
}

type Page struct {
	Licitaciones []Licitacion `json:"licitaciones"`
	Total        int          `json:"total"`
	Page         int          `json:"page"`
	Limit        int          `json:"limit"`
}
