package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mkopo/core/device"
)

type deviceApi struct {
	svc      *device.Service
	validate *validator.Validate
}

func registerDeviceAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *device.Service, validate *validator.Validate) {
	api := deviceApi{svc: svc, validate: validate}

	dg := g.Group("/devices", jwt)
	dg.GET("", api.query)
	dg.POST("", api.create, adminMiddleware())
	dg.GET("/:guid", api.retrieve)
	dg.PUT("/:guid", api.update, adminMiddleware())
	dg.POST("/:guid/available", api.markAvailable, adminMiddleware())
}

func (api *deviceApi) create(ctx echo.Context) error {
	var data device.NewDevice
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewDevice")
	}
	if err := data.Validate(ctx.Request().Context(), api.validate, api.svc); err != nil {
		return err
	}

	dev, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating device")
	}
	return ctx.JSON(http.StatusCreated, dev)
}

func (api *deviceApi) query(ctx echo.Context) error {
	filter := new(device.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []device.Device{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	devices, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying devices")
	}
	if devices == nil {
		devices = []device.Device{}
	}
	return ctx.JSON(http.StatusOK, devices)
}

func (api *deviceApi) retrieve(ctx echo.Context) error {
	dev, err := api.svc.Get(ctx.Request().Context(), ctx.Param("guid"))
	if err != nil {
		return errors.Wrap(err, "finding device")
	}
	return ctx.JSON(http.StatusOK, dev)
}

func (api *deviceApi) update(ctx echo.Context) error {
	dev, err := api.svc.Get(ctx.Request().Context(), ctx.Param("guid"))
	if err != nil {
		return errors.Wrap(err, "finding device")
	}

	var data device.UpdateDevice
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateDevice")
	}
	if err = data.Validate(ctx.Request().Context(), dev, api.validate, api.svc); err != nil {
		return err
	}

	dev, err = api.svc.Update(ctx.Request().Context(), dev.GUID, data)
	if err != nil {
		return errors.Wrap(err, "updating device")
	}
	return ctx.JSON(http.StatusOK, dev)
}

func (api *deviceApi) markAvailable(ctx echo.Context) error {
	dev, err := api.svc.MarkAvailable(ctx.Request().Context(), ctx.Param("guid"))
	if err != nil {
		return errors.Wrap(err, "marking device available")
	}
	return ctx.JSON(http.StatusOK, dev)
}
