package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mkopo/core/loan"
)

type loanApi struct {
	svc      *loan.Service
	validate *validator.Validate
}

func registerLoanAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *loan.Service, validate *validator.Validate) {
	api := loanApi{svc: svc, validate: validate}

	lg := g.Group("/loans", jwt)
	lg.POST("", api.create)
	lg.GET("", api.query)
	lg.POST("/sweep", api.sweep, adminMiddleware())
	lg.GET("/:guid", api.retrieve)
	lg.POST("/:guid/return", api.giveBack, staffMiddleware)
	lg.POST("/:guid/cancel", api.cancel, staffMiddleware)
	lg.DELETE("/:guid", api.destroy, adminMiddleware())
}

// create opens a loan. Students borrow for themselves; staff may borrow on behalf of any user.
func (api *loanApi) create(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	var data loan.NewLoan
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewLoan")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	if data.UserGUID == "" {
		data.UserGUID = claims.Subject
	} else if data.UserGUID != claims.Subject && !claims.IsStaff() {
		return errHttpForbidden
	}

	ln, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating loan")
	}
	return ctx.JSON(http.StatusCreated, ln)
}

func (api *loanApi) query(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	filter := new(loan.QueryFilter)
	if err = ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []loan.Loan{})
	}
	filter.Clean()
	if !claims.IsStaff() {
		filter.UserGUID = claims.Subject
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	loans, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying loans")
	}
	if loans == nil {
		loans = []loan.Loan{}
	}
	return ctx.JSON(http.StatusOK, loans)
}

func (api *loanApi) retrieve(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	ln, err := api.svc.Get(ctx.Request().Context(), ctx.Param("guid"))
	if err != nil {
		return errors.Wrap(err, "finding loan")
	}
	if ln.UserGUID != claims.Subject && !claims.IsStaff() {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, ln)
}

func (api *loanApi) giveBack(ctx echo.Context) error {
	ln, err := api.svc.Return(ctx.Request().Context(), ctx.Param("guid"))
	if err != nil {
		return errors.Wrap(err, "returning loan")
	}
	return ctx.JSON(http.StatusOK, ln)
}

func (api *loanApi) cancel(ctx echo.Context) error {
	ln, err := api.svc.Cancel(ctx.Request().Context(), ctx.Param("guid"))
	if err != nil {
		return errors.Wrap(err, "cancelling loan")
	}
	return ctx.JSON(http.StatusOK, ln)
}

func (api *loanApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), ctx.Param("guid")); err != nil {
		return errors.Wrap(err, "deleting loan")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *loanApi) sweep(ctx echo.Context) error {
	count, err := api.svc.SweepOverdue(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "sweeping overdue loans")
	}
	return ctx.JSON(http.StatusOK, SweepResponse{Flagged: count})
}

type SweepResponse struct {
	Flagged int `json:"flagged"`
}
