package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mkopo/core/sanction"
)

type sanctionApi struct {
	svc *sanction.Service
}

func registerSanctionAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *sanction.Service) {
	api := sanctionApi{svc: svc}

	sg := g.Group("/sanctions", jwt)
	sg.GET("", api.query)
	sg.GET("/:guid", api.retrieve)
	sg.DELETE("/:guid", api.lift, adminMiddleware())
}

func (api *sanctionApi) query(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	filter := new(sanction.QueryFilter)
	if err = ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []sanction.Sanction{})
	}
	filter.Clean()
	if !claims.IsStaff() {
		filter.UserGUID = claims.Subject
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	sanctions, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying sanctions")
	}
	if sanctions == nil {
		sanctions = []sanction.Sanction{}
	}
	return ctx.JSON(http.StatusOK, sanctions)
}

func (api *sanctionApi) retrieve(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	sanc, err := api.svc.Get(ctx.Request().Context(), ctx.Param("guid"))
	if err != nil {
		return errors.Wrap(err, "finding sanction")
	}
	if sanc.UserGUID != claims.Subject && !claims.IsStaff() {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, sanc)
}

func (api *sanctionApi) lift(ctx echo.Context) error {
	if err := api.svc.Lift(ctx.Request().Context(), ctx.Param("guid")); err != nil {
		return errors.Wrap(err, "lifting sanction")
	}
	return ctx.NoContent(http.StatusNoContent)
}
