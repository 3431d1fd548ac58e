package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication and tenant resolution. CDS Hooks
// discovery must be reachable by EHR clients before they hold a token.
var publicPaths = map[string]bool{
	"/health":       true,
	"/health/db":    true,
	"/metrics":      true,
	"/cds-services": true,
}

// AuthSkipper returns true for requests whose route should skip
// authentication. Set it as JWTConfig.Skipper.
func AuthSkipper(c echo.Context) bool {
	return c.Request().Method == "GET" && publicPaths[c.Path()]
}

// IsPublicPath reports whether path is a public infrastructure endpoint.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
