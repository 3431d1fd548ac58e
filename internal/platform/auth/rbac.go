package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin         = "admin"
	RolePhysician     = "physician"
	RolePharmacist    = "pharmacist"
	RoleLabTechnician = "lab_technician"
	RoleRadiologist   = "radiologist"
)

// RequireRole allows the request if the user holds any of roles. Admin
// passes every check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasAnyRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasAnyRole reports whether held satisfies any of required.
func HasAnyRole(held []string, required ...string) bool {
	for _, has := range held {
		if has == RoleAdmin {
			return true
		}
		for _, r := range required {
			if has == r {
				return true
			}
		}
	}
	return false
}
