package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication. The websocket endpoint only pushes
// "something changed" signals and /metrics only counts; neither carries
// patient data.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/metrics":   true,
	"/ws":        true,
}

// AuthSkipper returns true for requests whose path should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}
