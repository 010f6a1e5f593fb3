package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/licita/core"
	"github.com/trezcool/licita/core/access"
	"github.com/trezcool/licita/core/licitacion"
)

// ateTargets returns the actor, the licitación and the `:ateId` path param of an ATE request.
func ateTargets(ctx echo.Context) (access.Actor, licitacion.Licitacion, string, error) {
	ateID, ok := core.ParseUUID(ctx.Param("ateId"))
	if !ok {
		return access.Actor{}, licitacion.Licitacion{}, "", errInvalidAteID
	}
	actor, lic, err := contextTargets(ctx)
	return actor, lic, ateID, err
}

func (api *licitacionApi) queryAtes(ctx echo.Context) error {
	actor, lic, err := contextTargets(ctx)
	if err != nil {
		return err
	}
	ates, err := api.svc.QueryAtes(ctx.Request().Context(), actor, lic.ID)
	if err != nil {
		return errors.Wrap(err, "querying ates")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"ates": ates})
}

func (api *licitacionApi) createAte(ctx echo.Context) error {
	actor, lic, err := contextTargets(ctx)
	if err != nil {
		return err
	}
	var data licitacion.NewAte
	if err = ctx.Bind(&data); err != nil {
		return bindError(err)
	}

	ate, err := api.svc.CreateAte(ctx.Request().Context(), actor, lic.ID, data)
	if err != nil {
		return errors.Wrap(err, "creating ate")
	}
	return ctx.JSON(http.StatusCreated, echo.Map{"ate": ate})
}

func (api *licitacionApi) updateAte(ctx echo.Context) error {
	actor, lic, ateID, err := ateTargets(ctx)
	if err != nil {
		return err
	}
	var data licitacion.AteUpdate
	if err = ctx.Bind(&data); err != nil {
		return bindError(err)
	}

	ate, err := api.svc.UpdateAte(ctx.Request().Context(), actor, lic.ID, ateID, data)
	if err != nil {
		return errors.Wrap(err, "updating ate")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"ate": ate})
}

func (api *licitacionApi) recordPropuesta(ctx echo.Context) error {
	actor, lic, ateID, err := ateTargets(ctx)
	if err != nil {
		return err
	}
	var data licitacion.Propuesta
	if err = ctx.Bind(&data); err != nil {
		return bindError(err)
	}

	ate, err := api.svc.RecordPropuesta(ctx.Request().Context(), actor, lic.ID, ateID, data)
	if err != nil {
		return errors.Wrap(err, "recording propuesta")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"ate": ate})
}

func (api *licitacionApi) deleteAte(ctx echo.Context) error {
	actor, lic, ateID, err := ateTargets(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.DeleteAte(ctx.Request().Context(), actor, lic.ID, ateID); err != nil {
		return errors.Wrap(err, "deleting ate")
	}
	return ctx.NoContent(http.StatusNoContent)
}
