package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mkopo/core/incident"
)

type incidentApi struct {
	svc      *incident.Service
	validate *validator.Validate
}

func registerIncidentAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *incident.Service, validate *validator.Validate) {
	api := incidentApi{svc: svc, validate: validate}

	ig := g.Group("/incidents", jwt)
	ig.POST("", api.report)
	ig.GET("", api.query, staffMiddleware)
	ig.GET("/:guid", api.retrieve, staffMiddleware)
	ig.POST("/:guid/resolve", api.resolve, adminMiddleware())
}

func (api *incidentApi) report(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	var data incident.NewIncident
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewIncident")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	inc, err := api.svc.Report(ctx.Request().Context(), data, claims.Subject)
	if err != nil {
		return errors.Wrap(err, "reporting incident")
	}
	return ctx.JSON(http.StatusCreated, inc)
}

func (api *incidentApi) query(ctx echo.Context) error {
	filter := new(incident.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []incident.Incident{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	incidents, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying incidents")
	}
	if incidents == nil {
		incidents = []incident.Incident{}
	}
	return ctx.JSON(http.StatusOK, incidents)
}

func (api *incidentApi) retrieve(ctx echo.Context) error {
	inc, err := api.svc.Get(ctx.Request().Context(), ctx.Param("guid"))
	if err != nil {
		return errors.Wrap(err, "finding incident")
	}
	return ctx.JSON(http.StatusOK, inc)
}

func (api *incidentApi) resolve(ctx echo.Context) error {
	inc, err := api.svc.Resolve(ctx.Request().Context(), ctx.Param("guid"))
	if err != nil {
		return errors.Wrap(err, "resolving incident")
	}
	return ctx.JSON(http.StatusOK, inc)
}
