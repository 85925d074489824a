package echoapi

import (
	"sort"

	"github.com/labstack/echo/v4"
)

func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return err
			}
			if claims.IsAdmin && contextHasAnyRole(claims, roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// staffMiddleware lets admins and teachers through.
func staffMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		claims, err := getContextClaims(ctx)
		if err != nil {
			return err
		}
		if claims.IsStaff() {
			return next(ctx)
		}
		return errHttpForbidden
	}
}

func contextHasAnyRole(claims Claims, roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	userRoles := append([]string(nil), claims.Roles...)
	sort.Strings(userRoles)
	for _, role := range roles {
		if i := sort.SearchStrings(userRoles, role); i < len(userRoles) && userRoles[i] == role {
			return true
		}
	}
	return false
}
