package echoapi

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/licita/core"
	"github.com/trezcool/licita/core/access"
	"github.com/trezcool/licita/core/licitacion"
)

var errLicNotFoundInCtx = errors.New("licitacion object not found in echo.Context")

const timelineKey = "timeline"

type licitacionApi struct {
	svc *licitacion.Service
}

func registerLicitacionAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	actor echo.MiddlewareFunc,
	limit echo.MiddlewareFunc,
	svc *licitacion.Service,
) {
	api := licitacionApi{svc: svc}

	lg := g.Group("/licitaciones", jwt, actor)
	lg.GET("", api.query)
	lg.POST("", api.create, limit)

	// detail endpoints
	dg := lg.Group("/:id", licitacionMiddleware(svc))
	dg.GET("", api.retrieve)
	dg.PATCH("", api.update, capabilityMiddleware(access.CapUpdateLicitacion), limit)
	dg.POST("/publicacion", api.confirmPublicacion, capabilityMiddleware(access.CapConfirmPublicacion), limit)
	dg.GET("/publicacion/texto", api.publicacionText, capabilityMiddleware(access.CapViewLicitacion))
	dg.POST("/estado", api.advance, capabilityMiddleware(access.CapAdvanceLicitacion), limit)
	dg.POST("/adjudicacion", api.saveAdjudicacion, capabilityMiddleware(access.CapSaveAdjudicacion), limit)
	dg.POST("/adjudicacion/confirmar", api.confirmAdjudicacion, capabilityMiddleware(access.CapConfirmAdjudicacion), limit)
	dg.POST("/contrato", api.linkContrato, capabilityMiddleware(access.CapLinkContrato), limit)
	dg.POST("/cerrar", api.close, capabilityMiddleware(access.CapCloseLicitacion), limit)

	dg.GET("/consultas", api.queryConsultas, capabilityMiddleware(access.CapViewConsultas))
	dg.POST("/consultas", api.createConsulta, capabilityMiddleware(access.CapCreateConsulta), limit)
	dg.GET("/ates", api.queryAtes, capabilityMiddleware(access.CapViewAtes))
	dg.POST("/ates", api.createAte, capabilityMiddleware(access.CapCreateAte), limit)
	dg.PUT("/ates/:ateId", api.updateAte, capabilityMiddleware(access.CapUpdateAte), limit)
	dg.DELETE("/ates/:ateId", api.deleteAte, capabilityMiddleware(access.CapDeleteAte), limit)
	dg.POST("/ates/:ateId/propuesta", api.recordPropuesta, capabilityMiddleware(access.CapUpdateAte), limit)
}

func getContextLicitacion(ctx echo.Context) (licitacion.Licitacion, error) {
	lic, ok := ctx.Get(contextObjectKey).(licitacion.Licitacion)
	if !ok {
		return licitacion.Licitacion{}, errors.Wrap(errLicNotFoundInCtx, "retrieving object from context")
	}
	return lic, nil
}

// contextTargets returns the actor and the licitación of a detail request.
func contextTargets(ctx echo.Context) (access.Actor, licitacion.Licitacion, error) {
	actor, err := getContextActor(ctx)
	if err != nil {
		return access.Actor{}, licitacion.Licitacion{}, err
	}
	lic, err := getContextLicitacion(ctx)
	return actor, lic, err
}

func licitacionResponse(ctx echo.Context, code int, lic licitacion.Licitacion) error {
	return ctx.JSON(code, echo.Map{"licitacion": lic})
}

// Handlers

func (api *licitacionApi) query(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	var filter licitacion.QueryFilter
	if err = ctx.Bind(&filter); err != nil {
		return core.NewValidationError(errors.New("Parámetros de búsqueda inválidos"))
	}

	page, err := api.svc.Query(ctx.Request().Context(), actor, filter)
	if err != nil {
		return errors.Wrap(err, "querying licitaciones")
	}
	return ctx.JSON(http.StatusOK, page)
}

func (api *licitacionApi) create(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	if err = actor.Require(access.CapCreateLicitacion); err != nil {
		return err
	}
	var data licitacion.NewLicitacion
	if err = ctx.Bind(&data); err != nil {
		return bindError(err)
	}

	lic, err := api.svc.Create(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "creating licitacion")
	}
	return licitacionResponse(ctx, http.StatusCreated, lic)
}

func (api *licitacionApi) retrieve(ctx echo.Context) error {
	lic, err := getContextLicitacion(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"licitacion": lic, "proxima_accion": lic.Estado.NextAction()})
}

// update applies either the timeline override (`{"timeline": {...}}`) or the general fields of the body.
func (api *licitacionApi) update(ctx echo.Context) error {
	actor, lic, err := contextTargets(ctx)
	if err != nil {
		return err
	}

	// decoded by hand: the general fields are applied only when present in the body
	var raw licitacion.RawFields
	if err = json.NewDecoder(ctx.Request().Body).Decode(&raw); err != nil || raw == nil {
		return core.NewValidationError(errInvalidBody)
	}

	if tl, ok := raw[timelineKey]; ok {
		if err = actor.Authorize(access.CapUpdateTimeline, lic.SchoolID); err != nil {
			return err
		}
		var data licitacion.TimelineUpdate
		if err = json.Unmarshal(tl, &data); err != nil {
			return core.NewUnprocessableError(errors.New("Fechas de cronograma inválidas"))
		}
		lic, err = api.svc.UpdateTimeline(ctx.Request().Context(), actor, lic.ID, data)
		if err != nil {
			return errors.Wrap(err, "updating timeline")
		}
		return licitacionResponse(ctx, http.StatusOK, lic)
	}

	lic, err = api.svc.UpdateFields(ctx.Request().Context(), actor, lic.ID, raw)
	if err != nil {
		return errors.Wrap(err, "updating licitacion")
	}
	return licitacionResponse(ctx, http.StatusOK, lic)
}

func (api *licitacionApi) confirmPublicacion(ctx echo.Context) error {
	actor, lic, err := contextTargets(ctx)
	if err != nil {
		return err
	}
	var data licitacion.Publicacion
	if err = ctx.Bind(&data); err != nil {
		return bindError(err)
	}

	lic, err = api.svc.ConfirmPublicacion(ctx.Request().Context(), actor, lic.ID, data)
	if err != nil {
		return errors.Wrap(err, "confirming publicacion")
	}
	return licitacionResponse(ctx, http.StatusOK, lic)
}

func (api *licitacionApi) publicacionText(ctx echo.Context) error {
	actor, lic, err := contextTargets(ctx)
	if err != nil {
		return err
	}
	var data licitacion.PublicacionTexto
	if err = ctx.Bind(&data); err != nil {
		return core.NewValidationError(errors.New("Parámetros inválidos"))
	}

	text, err := api.svc.PublicacionText(ctx.Request().Context(), actor, lic.ID, data)
	if err != nil {
		return errors.Wrap(err, "generating publicacion text")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"texto": text})
}

func (api *licitacionApi) advance(ctx echo.Context) error {
	actor, lic, err := contextTargets(ctx)
	if err != nil {
		return err
	}
	var data licitacion.Advance
	if err = ctx.Bind(&data); err != nil {
		return bindError(err)
	}

	lic, err = api.svc.Advance(ctx.Request().Context(), actor, lic.ID, data)
	if err != nil {
		return errors.Wrap(err, "advancing licitacion")
	}
	return licitacionResponse(ctx, http.StatusOK, lic)
}

func (api *licitacionApi) saveAdjudicacion(ctx echo.Context) error {
	actor, lic, err := contextTargets(ctx)
	if err != nil {
		return err
	}
	var data licitacion.Adjudicacion
	if err = ctx.Bind(&data); err != nil {
		return bindError(err)
	}

	lic, err = api.svc.SaveAdjudicacion(ctx.Request().Context(), actor, lic.ID, data)
	if err != nil {
		return errors.Wrap(err, "saving adjudicacion")
	}
	return licitacionResponse(ctx, http.StatusOK, lic)
}

func (api *licitacionApi) confirmAdjudicacion(ctx echo.Context) error {
	actor, lic, err := contextTargets(ctx)
	if err != nil {
		return err
	}
	var data licitacion.ConfirmAdjudicacion
	if err = ctx.Bind(&data); err != nil {
		return bindError(err)
	}

	lic, err = api.svc.ConfirmAdjudicacion(ctx.Request().Context(), actor, lic.ID, data)
	if err != nil {
		return errors.Wrap(err, "confirming adjudicacion")
	}
	return licitacionResponse(ctx, http.StatusOK, lic)
}

func (api *licitacionApi) linkContrato(ctx echo.Context) error {
	actor, lic, err := contextTargets(ctx)
	if err != nil {
		return err
	}
	var data licitacion.LinkContrato
	if err = ctx.Bind(&data); err != nil {
		return bindError(err)
	}

	lic, err = api.svc.LinkContrato(ctx.Request().Context(), actor, lic.ID, data)
	if err != nil {
		return errors.Wrap(err, "linking contrato")
	}
	return licitacionResponse(ctx, http.StatusOK, lic)
}

func (api *licitacionApi) close(ctx echo.Context) error {
	actor, lic, err := contextTargets(ctx)
	if err != nil {
		return err
	}
	var data licitacion.Close
	if err = ctx.Bind(&data); err != nil {
		return bindError(err)
	}

	lic, err = api.svc.Close(ctx.Request().Context(), actor, lic.ID, data)
	if err != nil {
		return errors.Wrap(err, "closing licitacion")
	}
	return licitacionResponse(ctx, http.StatusOK, lic)
}
