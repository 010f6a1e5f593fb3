package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/licita/core/licitacion"
)

func (api *licitacionApi) queryConsultas(ctx echo.Context) error {
	actor, lic, err := contextTargets(ctx)
	if err != nil {
		return err
	}
	consultas, err := api.svc.QueryConsultas(ctx.Request().Context(), actor, lic.ID)
	if err != nil {
		return errors.Wrap(err, "querying consultas")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"consultas": consultas})
}

func (api *licitacionApi) createConsulta(ctx echo.Context) error {
	actor, lic, err := contextTargets(ctx)
	if err != nil {
		return err
	}
	var data licitacion.NewConsulta
	if err = ctx.Bind(&data); err != nil {
		return bindError(err)
	}

	consulta, err := api.svc.CreateConsulta(ctx.Request().Context(), actor, lic.ID, data)
	if err != nil {
		return errors.Wrap(err, "creating consulta")
	}
	return ctx.JSON(http.StatusCreated, echo.Map{"consulta": consulta})
}
