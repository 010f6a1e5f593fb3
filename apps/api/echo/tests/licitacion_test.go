package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/licita/core"
	"github.com/trezcool/licita/core/access"
	"github.com/trezcool/licita/core/licitacion"
	"github.com/trezcool/licita/tests"
)

const (
	adminID     = "admin-1"
	encargadoID = "encargado-1"
	nobodyID    = "nobody"
)

func (e env) seedRoles(t *testing.T) {
	testutil.CreateRole(t, e.store.Roles, adminID, access.RoleAdmin, nil)
	testutil.CreateRole(t, e.store.Roles, encargadoID, access.RoleEncargado, school(1))
}

func Test_licitacionApi_checkOrder(t *testing.T) {
	e := setup(t)
	e.seedRoles(t)
	lic1 := testutil.CreateLicitacion(t, e.svc, 1)
	lic2 := testutil.CreateLicitacion(t, e.svc, 2)

	adminTk := e.token(t, adminID)
	encTk := e.token(t, encargadoID)
	nobodyTk := e.token(t, nobodyID)
	path1 := "/v1/licitaciones/" + lic1.ID
	path2 := "/v1/licitaciones/" + lic2.ID

	stateErr := core.NewInvalidStateError("guardar la adjudicación", "publicacion_pendiente", "adjudicacion_pendiente").Error()

	e.run(t, []httpTest{
		{
			name: "auth required", path: "/v1/licitaciones", wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, httpErr{Error: "Usuario no autenticado"}),
		},
		{
			name: "invalid token", path: "/v1/licitaciones", token: "not-a-jwt", wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, httpErr{Error: "Token inválido o expirado"}),
		},
		{
			name: "no licitacion role", path: "/v1/licitaciones", token: nobodyTk, wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: access.ErrNoRoles.Error()}),
		},
		{
			name: "no role before bad id", path: "/v1/licitaciones/xyz", token: nobodyTk, wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: access.ErrNoRoles.Error()}),
		},
		{
			name: "bad id", path: "/v1/licitaciones/xyz", token: adminTk, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "Identificador inválido", Campos: map[string]string{"id": "debe ser un UUID válido"}}),
		},
		{
			name: "bad id (no dashes)", path: "/v1/licitaciones/" + strings.ReplaceAll(lic1.ID, "-", ""), token: adminTk,
			wantCode: http.StatusBadRequest,
		},
		{
			name: "unknown id", path: "/v1/licitaciones/" + uuid.New().String(), token: adminTk, wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: licitacion.ErrNotFound.Error()}),
		},
		{
			name: "other school", path: path2, token: encTk, wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: access.ErrSchoolScope.Error()}),
		},
		{name: "own school", path: path1, token: encTk, wantCode: http.StatusOK},
		{name: "any school (admin)", path: path2, token: adminTk, wantCode: http.StatusOK},
		{
			name: "scope before body", method: http.MethodPost, path: path2 + "/consultas", token: encTk, body: []byte("{"),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: access.ErrSchoolScope.Error()}),
		},
		{
			name: "capability before body", method: http.MethodPost, path: path1 + "/adjudicacion", token: encTk, body: []byte("{"),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: access.ErrCapability.Error()}),
		},
		{
			name: "malformed body", method: http.MethodPost, path: path1 + "/adjudicacion", token: adminTk, body: []byte("{"),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "Cuerpo de la solicitud inválido"}),
		},
		{
			name: "body before state", method: http.MethodPost, path: path1 + "/adjudicacion", token: adminTk, body: []byte("{}"),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "Datos inválidos", Campos: map[string]string{"ganador_ate_id": "este campo es obligatorio"}}),
		},
		{
			name: "state", method: http.MethodPost, path: path1 + "/adjudicacion", token: adminTk,
			body:     marchallObj(t, licitacion.Adjudicacion{GanadorAteID: uuid.New().String()}),
			wantCode: http.StatusUnprocessableEntity,
			wantData: marchallObj(t, httpErr{Error: stateErr, EstadoActual: "publicacion_pendiente"}),
		},
		{
			name: "bad ate id", method: http.MethodPut, path: path1 + "/ates/xyz", token: adminTk, body: []byte(`{"notas": "x"}`),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "Identificador de ATE inválido", Campos: map[string]string{"ate_id": "debe ser un UUID válido"}}),
		},
		{
			name: "unknown ate", method: http.MethodPut, path: path1 + "/ates/" + uuid.New().String(), token: adminTk, body: []byte(`{"notas": "x"}`),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "ATE no encontrada"}),
		},
		{
			name: "unknown route", path: "/v1/licitaciones/" + lic1.ID + "/nope", token: adminTk, wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "Recurso no encontrado"}),
		},
	})
}

func Test_licitacionApi_create(t *testing.T) {
	e := setup(t)
	e.seedRoles(t)

	valid := licitacion.NewLicitacion{
		SchoolID:              7,
		NombreLicitacion:      "  Asesoría pedagógica ",
		Year:                  2026,
		EmailLicitacion:       "Compras@Colegio.cl",
		MontoMinimo:           100,
		MontoMaximo:           900,
		DuracionMinima:        "3 meses",
		DuracionMaxima:        "6 meses",
		PesoEvaluacionTecnica: 60,
	}
	invalid := valid
	invalid.MontoMaximo = 10

	t.Run("admin", func(t *testing.T) {
		rec := e.do(httpTest{method: http.MethodPost, path: "/v1/licitaciones", token: e.token(t, adminID), body: marchallObj(t, valid)})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var lic licitacion.Licitacion
		unmarshal(t, rec, "licitacion", &lic)
		assert.Equal(t, licitacion.PublicacionPendiente, lic.Estado)
		assert.Equal(t, "LIC-2026-7-001", lic.NumeroLicitacion)
		assert.Equal(t, "Asesoría pedagógica", lic.NombreLicitacion)
		assert.Equal(t, "compras@colegio.cl", lic.EmailLicitacion)
		assert.Equal(t, "UF", lic.TipoMoneda)
		assert.Equal(t, 40, lic.PesoEvaluacionEconomica)
		require.NotNil(t, lic.CreatedBy)
		assert.Equal(t, adminID, *lic.CreatedBy)

		hist := e.store.DB.Historial(lic.ID)
		require.Len(t, hist, 1)
		assert.Equal(t, licitacion.AccionCreada, hist[0].Accion)
		assert.Nil(t, hist[0].EstadoAnterior)
	})

	e.run(t, []httpTest{
		{
			name: "encargado", method: http.MethodPost, path: "/v1/licitaciones", token: e.token(t, encargadoID),
			body: marchallObj(t, valid), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: access.ErrCapability.Error()}),
		},
		{
			name: "wrong type", method: http.MethodPost, path: "/v1/licitaciones", token: e.token(t, adminID),
			body: []byte(`{"school_id": "uno"}`), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{
				Error:  "Cuerpo de la solicitud inválido",
				Campos: map[string]string{"school_id": "tipo de dato inválido"},
			}),
		},
	})

	t.Run("montos", func(t *testing.T) {
		rec := e.do(httpTest{method: http.MethodPost, path: "/v1/licitaciones", token: e.token(t, adminID), body: marchallObj(t, invalid)})
		require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

		var campos map[string]string
		unmarshal(t, rec, "campos", &campos)
		assert.Contains(t, campos, "monto_maximo")
	})

	t.Run("montos above NUMERIC(14, 2)", func(t *testing.T) {
		tooLarge := valid
		tooLarge.MontoMinimo = 1e12
		tooLarge.MontoMaximo = 1e12
		rec := e.do(httpTest{method: http.MethodPost, path: "/v1/licitaciones", token: e.token(t, adminID), body: marchallObj(t, tooLarge)})
		require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

		var campos map[string]string
		unmarshal(t, rec, "campos", &campos)
		assert.Contains(t, campos, "monto_minimo")
		assert.Contains(t, campos, "monto_maximo")
	})
}

func Test_licitacionApi_query(t *testing.T) {
	e := setup(t)
	e.seedRoles(t)
	a := testutil.CreateLicitacion(t, e.svc, 1)
	testutil.CreateLicitacion(t, e.svc, 2)
	c := testutil.CreateLicitacion(t, e.svc, 1)
	testutil.MoveTo(t, e.svc, c, licitacion.RecepcionBasesPendiente)

	query := func(t *testing.T, token, qs string) licitacion.Page {
		rec := e.do(httpTest{path: "/v1/licitaciones" + qs, token: token})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var page licitacion.Page
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		return page
	}
	ids := func(page licitacion.Page) []string {
		var res []string
		for _, lic := range page.Licitaciones {
			res = append(res, lic.ID)
		}
		return res
	}

	adminTk := e.token(t, adminID)
	encTk := e.token(t, encargadoID)

	page := query(t, adminTk, "")
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.Limit)

	page = query(t, encTk, "")
	assert.Equal(t, 2, page.Total)
	assert.ElementsMatch(t, []string{a.ID, c.ID}, ids(page))

	page = query(t, encTk, "?school_id=2")
	assert.Zero(t, page.Total)
	assert.NotNil(t, page.Licitaciones)

	page = query(t, adminTk, "?estado=recepcion_bases_pendiente")
	assert.Equal(t, []string{c.ID}, ids(page))

	page = query(t, adminTk, "?limit=1&page=2")
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Licitaciones, 1)

	page = query(t, adminTk, "?limit=500")
	assert.Equal(t, 50, page.Limit)

	page = query(t, adminTk, "?page=100000&limit=50")
	assert.Equal(t, 3, page.Total)
	assert.Empty(t, page.Licitaciones)

	e.run(t, []httpTest{
		{
			name: "unknown estado", path: "/v1/licitaciones?estado=archivada", token: adminTk, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "datos inválidos", Campos: map[string]string{"estado": "estado desconocido"}}),
		},
		{name: "bad page", path: "/v1/licitaciones?page=uno", token: adminTk, wantCode: http.StatusBadRequest},
		{name: "page overflowing int", path: "/v1/licitaciones?page=99999999999999999999", token: adminTk, wantCode: http.StatusBadRequest},
	})

	for _, qs := range []string{"?page=100001", "?page=9223372036854775807&limit=50"} {
		t.Run("page out of range "+qs, func(t *testing.T) {
			rec := e.do(httpTest{path: "/v1/licitaciones" + qs, token: adminTk})
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			var campos map[string]string
			unmarshal(t, rec, "campos", &campos)
			assert.Contains(t, campos, "page")
		})
	}
}

func Test_licitacionApi_lifecycle(t *testing.T) {
	e := setup(t)
	e.seedRoles(t)
	lic := testutil.CreateLicitacion(t, e.svc, 1)
	other := testutil.CreateLicitacion(t, e.svc, 1)
	foreignAte := testutil.CreateAte(t, e.svc, other.ID, "ATE Ajena")

	adminTk := e.token(t, adminID)
	encTk := e.token(t, encargadoID)
	path := "/v1/licitaciones/" + lic.ID
	estado := func(target string) []byte {
		return marchallObj(t, map[string]interface{}{"target_estado": target})
	}
	send := func(t *testing.T, method, suffix, token string, body []byte, wantCode int) *httptest.ResponseRecorder {
		rec := e.do(httpTest{method: method, path: path + suffix, token: token, body: body})
		require.Equal(t, wantCode, rec.Code, rec.Body.String())
		return rec
	}
	post := func(t *testing.T, suffix string, body []byte, wantCode int) licitacion.Licitacion {
		rec := send(t, http.MethodPost, suffix, adminTk, body, wantCode)
		var res licitacion.Licitacion
		if wantCode == http.StatusOK {
			unmarshal(t, rec, "licitacion", &res)
		}
		return res
	}

	e.run(t, []httpTest{
		{
			name: "publish through advance", method: http.MethodPost, path: path + "/estado", token: adminTk,
			body: estado("recepcion_bases_pendiente"), wantCode: http.StatusUnprocessableEntity,
			wantData: marchallObj(t, httpErr{
				Error:        core.NewInvalidStateError("avanzar a recepcion_bases_pendiente", "publicacion_pendiente").Error(),
				EstadoActual: "publicacion_pendiente",
			}),
		},
		{
			name: "skip states", method: http.MethodPost, path: path + "/estado", token: adminTk,
			body: estado("adjudicacion_pendiente"), wantCode: http.StatusUnprocessableEntity,
			wantData: marchallObj(t, httpErr{
				Error:        core.NewInvalidStateError("avanzar a adjudicacion_pendiente", "publicacion_pendiente", "evaluacion_pendiente").Error(),
				EstadoActual: "publicacion_pendiente",
			}),
		},
		{
			name: "unknown estado", method: http.MethodPost, path: path + "/estado", token: adminTk,
			body: estado("publicada"), wantCode: http.StatusBadRequest,
		},
		{
			name: "publish without fecha", method: http.MethodPost, path: path + "/publicacion", token: encTk,
			body: []byte(`{}`), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "Datos inválidos", Campos: map[string]string{"fecha_publicacion": "este campo es obligatorio"}}),
		},
	})

	// the encargado of the school publishes
	rec := send(t, http.MethodPost, "/publicacion", encTk, []byte(`{"fecha_publicacion": "2026-03-02"}`), http.StatusOK)
	var got licitacion.Licitacion
	unmarshal(t, rec, "licitacion", &got)
	assert.Equal(t, licitacion.RecepcionBasesPendiente, got.Estado)
	require.NotNil(t, got.FechaLimiteSolicitudBases)
	assert.Equal(t, "2026-03-09", *got.FechaLimiteSolicitudBases)
	require.NotNil(t, got.FechaLimiteEvaluacion)
	assert.Equal(t, "2026-03-30", *got.FechaLimiteEvaluacion)

	rec = send(t, http.MethodGet, "/publicacion/texto?escuela=Escuela+Los+Aromos&comuna=Maip%C3%BA", encTk, nil, http.StatusOK)
	var texto string
	unmarshal(t, rec, "texto", &texto)
	assert.Contains(t, texto, "es que el Escuela Los Aromos, de la comuna de Maipú,")
	assert.Contains(t, texto, "hasta el 9 de marzo de 2026 al correo licitaciones@colegio.cl")
	send(t, http.MethodGet, "/publicacion/texto?escuela=Escuela", encTk, nil, http.StatusBadRequest)

	rec = send(t, http.MethodGet, "", encTk, nil, http.StatusOK)
	var proxima string
	unmarshal(t, rec, "proxima_accion", &proxima)
	assert.Equal(t, "Registrar ATEs y enviar bases", proxima)

	// no ATE with bases sent yet
	post(t, "/estado", estado("propuestas_pendientes"), http.StatusUnprocessableEntity)

	rec = send(t, http.MethodPost, "/ates", adminTk,
		[]byte(`{"nombre_ate": "ATE Uno", "email": "Contacto@ATE.cl"}`), http.StatusCreated)
	var ate licitacion.Ate
	unmarshal(t, rec, "ate", &ate)
	assert.Equal(t, "ATE Uno", ate.NombreAte)
	require.NotNil(t, ate.Email)
	assert.Equal(t, "contacto@ate.cl", *ate.Email)
	extra := testutil.CreateAte(t, e.svc, lic.ID, "ATE Dos")
	atePath := "/ates/" + ate.ID

	e.run(t, []httpTest{
		{
			name: "empty ate update", method: http.MethodPut, path: path + atePath, token: encTk, body: []byte(`{}`),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: licitacion.ErrNoAteFields.Error()}),
		},
		{
			name: "ate of another licitacion", method: http.MethodPut, path: path + "/ates/" + foreignAte.ID, token: encTk,
			body: []byte(`{"notas": "x"}`), wantCode: http.StatusNotFound,
		},
		{name: "delete ate", method: http.MethodDelete, path: path + "/ates/" + extra.ID, token: encTk, wantCode: http.StatusNoContent},
	})

	rec = send(t, http.MethodPut, atePath, encTk, []byte(`{"fecha_envio_bases": "2026-03-04"}`), http.StatusOK)
	unmarshal(t, rec, "ate", &ate)
	require.NotNil(t, ate.FechaEnvioBases)
	assert.Equal(t, "2026-03-04", *ate.FechaEnvioBases)

	got = post(t, "/estado", estado("propuestas_pendientes"), http.StatusOK)
	assert.Equal(t, licitacion.PropuestasPendientes, got.Estado)

	// no propuesta yet
	post(t, "/estado", estado("evaluacion_pendiente"), http.StatusUnprocessableEntity)

	send(t, http.MethodPost, atePath+"/propuesta", encTk, []byte(`{"propuesta_url": "https://storage.test/p.pdf"}`), http.StatusBadRequest)
	rec = send(t, http.MethodPost, atePath+"/propuesta", encTk, marchallObj(t, testutil.Propuesta()), http.StatusOK)
	unmarshal(t, rec, "ate", &ate)
	require.NotNil(t, ate.PropuestaURL)

	e.run(t, []httpTest{
		{
			name: "ate with propuesta is kept", method: http.MethodDelete, path: path + atePath, token: adminTk,
			wantCode: http.StatusConflict,
			wantData: marchallObj(t, httpErr{
				Error: "No se puede eliminar una ATE que ya tiene una propuesta subida. La propuesta debe preservarse para la auditoría",
			}),
		},
	})

	got = post(t, "/estado", estado("evaluacion_pendiente"), http.StatusOK)
	assert.Equal(t, licitacion.EvaluacionPendiente, got.Estado)
	got = post(t, "/estado", estado("adjudicacion_pendiente"), http.StatusOK)
	assert.Equal(t, licitacion.AdjudicacionPendiente, got.Estado)

	post(t, "/adjudicacion/confirmar", []byte(`{"es_fne": true}`), http.StatusUnprocessableEntity)

	e.run(t, []httpTest{
		{
			name: "winner from another licitacion", method: http.MethodPost, path: path + "/adjudicacion", token: adminTk,
			body:     marchallObj(t, licitacion.Adjudicacion{GanadorAteID: foreignAte.ID}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{
				Error:  "La ATE no pertenece a esta licitación",
				Campos: map[string]string{"ganador_ate_id": "La ATE no pertenece a esta licitación"},
			}),
		},
	})

	monto := 450.5
	got = post(t, "/adjudicacion", marchallObj(t, licitacion.Adjudicacion{GanadorAteID: ate.ID, MontoAdjudicadoUF: &monto}), http.StatusOK)
	assert.Equal(t, licitacion.AdjudicacionPendiente, got.Estado)
	require.NotNil(t, got.GanadorAteID)
	assert.Equal(t, ate.ID, *got.GanadorAteID)
	assert.Equal(t, []string{ate.ID}, e.store.DB.Winners(lic.ID))

	got = post(t, "/adjudicacion/confirmar", []byte(`{"es_fne": true}`), http.StatusOK)
	assert.Equal(t, licitacion.ContratoPendiente, got.Estado)
	require.NotNil(t, got.GanadorEsFne)
	assert.True(t, *got.GanadorEsFne)
	assert.NotNil(t, got.FechaAdjudicacion)

	e.run(t, []httpTest{
		{
			name: "FNE adjudication is not closed", method: http.MethodPost, path: path + "/cerrar", token: adminTk,
			body: []byte(`{"confirmar": true}`), wantCode: http.StatusUnprocessableEntity,
			wantData: marchallObj(t, httpErr{
				Error:        core.NewInvalidStateError("cerrar la licitación", "contrato_pendiente", "adjudicada_externo").Error(),
				EstadoActual: "contrato_pendiente",
			}),
		},
		{
			name: "contrato is admin only", method: http.MethodPost, path: path + "/contrato", token: encTk,
			body: marchallObj(t, licitacion.LinkContrato{ContratoID: uuid.New().String()}), wantCode: http.StatusForbidden,
		},
	})

	contrato := marchallObj(t, licitacion.LinkContrato{ContratoID: uuid.New().String()})
	got = post(t, "/contrato", contrato, http.StatusOK)
	assert.Equal(t, licitacion.ContratoGenerado, got.Estado)
	require.NotNil(t, got.ContratoID)
	again := post(t, "/contrato", contrato, http.StatusOK)
	assert.Equal(t, got.ContratoID, again.ContratoID)

	var acciones []string
	for _, entry := range e.store.DB.Historial(lic.ID) {
		acciones = append(acciones, entry.Accion)
	}
	assert.Equal(t, []string{
		licitacion.AccionCreada,
		licitacion.AccionPublicacion,
		"ATE registrada: ATE Uno",
		"ATE registrada: ATE Dos",
		"ATE eliminada: ATE Dos",
		"Bases enviadas a ATE: ATE Uno",
		"Avanzado a Recepción de Propuestas",
		"Propuesta recibida de ATE: ATE Uno",
		"Avanzado a Evaluación Pendiente",
		"Avanzado a Adjudicación Pendiente",
		licitacion.AccionAdjudicacionGuardada,
		licitacion.AccionAdjudicadaFne,
		licitacion.AccionContratoVinculado,
	}, acciones)
}

func Test_licitacionApi_externalAdjudication(t *testing.T) {
	e := setup(t)
	e.seedRoles(t)
	lic := testutil.CreateLicitacion(t, e.svc, 1)
	ate := testutil.CreateAte(t, e.svc, lic.ID, "Proveedor Externo")
	lic = testutil.MoveTo(t, e.svc, lic, licitacion.AdjudicacionPendiente)

	adminTk := e.token(t, adminID)
	path := "/v1/licitaciones/" + lic.ID

	e.run(t, []httpTest{
		{
			name: "save winner", method: http.MethodPost, path: path + "/adjudicacion", token: adminTk,
			body: marchallObj(t, licitacion.Adjudicacion{GanadorAteID: ate.ID}), wantCode: http.StatusOK,
		},
		{
			name: "confirm external", method: http.MethodPost, path: path + "/adjudicacion/confirmar", token: adminTk,
			body: []byte(`{"es_fne": false}`), wantCode: http.StatusOK,
		},
		{
			name: "winner is kept", method: http.MethodDelete, path: path + "/ates/" + ate.ID, token: adminTk,
			wantCode: http.StatusConflict,
		},
		{
			name: "no contrato for external providers", method: http.MethodPost, path: path + "/contrato", token: adminTk,
			body: marchallObj(t, licitacion.LinkContrato{ContratoID: uuid.New().String()}), wantCode: http.StatusUnprocessableEntity,
			wantData: marchallObj(t, httpErr{
				Error:        core.NewInvalidStateError("generar contrato", "adjudicada_externo", "contrato_pendiente").Error(),
				EstadoActual: "adjudicada_externo",
			}),
		},
		{
			name: "close", method: http.MethodPost, path: path + "/cerrar", token: adminTk,
			body: []byte(`{"confirmar": true}`), wantCode: http.StatusOK,
		},
		{
			name: "closed is terminal", method: http.MethodPost, path: path + "/cerrar", token: adminTk,
			body: []byte(`{"confirmar": true}`), wantCode: http.StatusUnprocessableEntity,
			wantData: marchallObj(t, httpErr{
				Error:        core.NewInvalidStateError("cerrar la licitación", "cerrada", "adjudicada_externo").Error(),
				EstadoActual: "cerrada",
			}),
		},
	})

	hist := e.store.DB.Historial(lic.ID)
	require.GreaterOrEqual(t, len(hist), 3)
	assert.Equal(t, licitacion.AccionAdjudicadaExterno, hist[len(hist)-2].Accion)
	assert.Equal(t, licitacion.AccionCerrada, hist[len(hist)-1].Accion)
}

func Test_licitacionApi_update(t *testing.T) {
	e := setup(t)
	e.seedRoles(t)
	lic := testutil.CreateLicitacion(t, e.svc, 1)

	adminTk := e.token(t, adminID)
	encTk := e.token(t, encargadoID)
	path := "/v1/licitaciones/" + lic.ID
	patch := func(token, body string) httpTest {
		return httpTest{method: http.MethodPatch, path: path, token: token, body: []byte(body)}
	}

	tests := []struct {
		httpTest
		check func(t *testing.T, lic licitacion.Licitacion)
	}{
		{httpTest: withCode(patch(encTk, `{"nombre_licitacion": "Otro nombre"}`), http.StatusBadRequest, "nombre not allowed for encargado")},
		{
			httpTest: withCode(patch(encTk, `{"publicacion_imagen_url": "https://cdn.colegio.cl/aviso.png", "notas": "x"}`), http.StatusOK, "encargado image"),
			check: func(t *testing.T, got licitacion.Licitacion) {
				require.NotNil(t, got.PublicacionImagenURL)
				assert.Equal(t, "https://cdn.colegio.cl/aviso.png", *got.PublicacionImagenURL)
				assert.Nil(t, got.Notas)
			},
		},
		{httpTest: withCode(patch(adminTk, `{"monto_maximo": 50}`), http.StatusBadRequest, "monto_maximo below monto_minimo")},
		{httpTest: withCode(patch(adminTk, `{"nombre_licitacion": null}`), http.StatusBadRequest, "null on required field")},
		{httpTest: withCode(patch(adminTk, `{"year": 2027}`), http.StatusBadRequest, "field outside the allow-list")},
		{httpTest: withCode(patch(adminTk, `[1, 2]`), http.StatusBadRequest, "not an object")},
		{
			httpTest: withCode(patch(adminTk, `{"notas": "Con visita técnica", "monto_maximo": 800}`), http.StatusOK, "admin fields"),
			check: func(t *testing.T, got licitacion.Licitacion) {
				require.NotNil(t, got.Notas)
				assert.Equal(t, "Con visita técnica", *got.Notas)
				assert.Equal(t, 800.0, got.MontoMaximo)
			},
		},
		{
			httpTest: withCode(patch(adminTk, `{"notas": null}`), http.StatusOK, "clear nullable"),
			check: func(t *testing.T, got licitacion.Licitacion) {
				assert.Nil(t, got.Notas)
			},
		},
		{httpTest: withCode(patch(encTk, `{"timeline": {"fecha_limite_consultas": "2026-04-01"}}`), http.StatusForbidden, "timeline is admin only")},
		{httpTest: withCode(patch(adminTk, `{"timeline": {"fecha_limite_consultas": "2026-02-30"}}`), http.StatusUnprocessableEntity, "timeline bad date")},
		{httpTest: withCode(patch(adminTk, `{"timeline": {}}`), http.StatusUnprocessableEntity, "timeline empty")},
		{httpTest: withCode(patch(adminTk, `{"timeline": "mañana"}`), http.StatusUnprocessableEntity, "timeline not an object")},
		{
			httpTest: withData(
				withCode(patch(adminTk, `{"timeline": null}`), http.StatusUnprocessableEntity, "timeline null"),
				marchallObj(t, httpErr{Error: "No se proporcionaron fechas para actualizar"}),
			),
		},
		{
			httpTest: withCode(patch(adminTk, `{"timeline": {"fecha_limite_consultas": "2026-04-01", "fecha_limite_propuestas": "2026-05-01"}}`), http.StatusOK, "timeline"),
			check: func(t *testing.T, got licitacion.Licitacion) {
				require.NotNil(t, got.FechaLimiteConsultas)
				assert.Equal(t, "2026-04-01", *got.FechaLimiteConsultas)
				require.NotNil(t, got.FechaLimitePropuestas)
				assert.Equal(t, "2026-05-01", *got.FechaLimitePropuestas)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(tt.httpTest)
			checkCodeAndData(t, tt.httpTest, rec)
			if tt.check != nil {
				var got licitacion.Licitacion
				unmarshal(t, rec, "licitacion", &got)
				tt.check(t, got)
			}
		})
	}

	hist := e.store.DB.Historial(lic.ID)
	require.Len(t, hist, 5)
	assert.Equal(t, licitacion.AccionCamposActualizados, hist[1].Accion)
	assert.Equal(t, []string{"publicacion_imagen_url"}, hist[1].Detalles["campos"])
	assert.Equal(t, licitacion.AccionCronograma, hist[4].Accion)
}

func withCode(tt httpTest, code int, name string) httpTest {
	tt.wantCode = code
	tt.name = name
	return tt
}

func withData(tt httpTest, data []byte) httpTest {
	tt.wantData = data
	return tt
}

func Test_licitacionApi_consultas(t *testing.T) {
	e := setup(t)
	e.seedRoles(t)
	lic := testutil.CreateLicitacion(t, e.svc, 1)
	other := testutil.CreateLicitacion(t, e.svc, 1)
	ate := testutil.CreateAte(t, e.svc, lic.ID, "ATE Uno")
	foreign := testutil.CreateAte(t, e.svc, other.ID, "ATE Dos")

	encTk := e.token(t, encargadoID)
	path := "/v1/licitaciones/" + lic.ID + "/consultas"

	rec := e.do(httpTest{
		method: http.MethodPost, path: path, token: encTk,
		body: marchallObj(t, map[string]interface{}{"pregunta": "¿Plazo de entrega?", "ate_id": ate.ID, "fecha_pregunta": "2026-03-10"}),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var cons licitacion.Consulta
	unmarshal(t, rec, "consulta", &cons)
	assert.Equal(t, "¿Plazo de entrega?", cons.Pregunta)

	e.run(t, []httpTest{
		{
			name: "foreign ate", method: http.MethodPost, path: path, token: encTk,
			body:     marchallObj(t, map[string]interface{}{"pregunta": "¿Otra?", "ate_id": foreign.ID}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{
				Error:  "La ATE no pertenece a esta licitación",
				Campos: map[string]string{"ate_id": "La ATE no pertenece a esta licitación"},
			}),
		},
		{
			name: "missing pregunta", method: http.MethodPost, path: path, token: encTk, body: []byte(`{}`),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "Datos inválidos", Campos: map[string]string{"pregunta": "este campo es obligatorio"}}),
		},
		{
			name: "list", path: path, token: encTk, wantCode: http.StatusOK,
			wantData: marchallObj(t, map[string]interface{}{"consultas": []licitacion.Consulta{cons}}),
		},
		{
			name: "list ates", path: "/v1/licitaciones/" + lic.ID + "/ates", token: encTk, wantCode: http.StatusOK,
			wantData: marchallObj(t, map[string]interface{}{"ates": []licitacion.Ate{ate}}),
		},
	})

	consultas, err := e.svc.QueryConsultas(context.Background(), testutil.AdminActor(adminID), lic.ID)
	require.NoError(t, err)
	assert.Len(t, consultas, 1)
}

func Test_server_rateLimit(t *testing.T) {
	e := setup(t, func(conf *core.Config) {
		conf.Server.RateLimit = 0.001
		conf.Server.RateBurst = 1
	})
	e.seedRoles(t)
	lic := testutil.CreateLicitacion(t, e.svc, 1)
	encTk := e.token(t, encargadoID)
	path := "/v1/licitaciones/" + lic.ID + "/consultas"
	body := []byte(`{"pregunta": "¿Plazo?"}`)

	e.run(t, []httpTest{
		{name: "first", method: http.MethodPost, path: path, token: encTk, body: body, wantCode: http.StatusCreated},
		{
			name: "second", method: http.MethodPost, path: path, token: encTk, body: body, wantCode: http.StatusTooManyRequests,
			wantData: marchallObj(t, httpErr{Error: "Demasiadas solicitudes, intente más tarde"}),
		},
		{name: "reads are not limited", path: path, token: encTk, wantCode: http.StatusOK},
	})
}

func Test_server_metricsAndHome(t *testing.T) {
	e := setup(t)

	rec := e.do(httpTest{path: "/"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Bienvenido")
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = e.do(httpTest{path: "/metrics"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET",path="/",status="200"} 1`)
}
