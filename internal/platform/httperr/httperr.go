// Package httperr maps service errors onto echo HTTP errors.
package httperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/cdsengine/internal/platform/db"
)

// MessageUnavailable is the body returned when reference data could not be
// reached. A caller must never read it as "no issues found".
const MessageUnavailable = "data unavailable"

// From converts err into an *echo.HTTPError. Port failures become 503,
// db.ErrNotFound becomes 404 with notFound as the message, anything else is
// treated as a validation failure (400).
func From(err error, notFound string) error {
	if err == nil {
		return nil
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	switch {
	case db.IsUnavailable(err):
		return echo.NewHTTPError(http.StatusServiceUnavailable, MessageUnavailable)
	case errors.Is(err, db.ErrNotFound):
		if notFound == "" {
			notFound = "not found"
		}
		return echo.NewHTTPError(http.StatusNotFound, notFound)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}
