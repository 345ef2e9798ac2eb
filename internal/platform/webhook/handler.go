package webhook

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/erqueue/erqueue/internal/platform/auth"
	"github.com/erqueue/erqueue/pkg/pagination"
)

type Handler struct {
	sink *Sink
}

func NewHandler(sink *Sink) *Handler {
	return &Handler{sink: sink}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/admin/webhooks/deliveries", h.ListDeliveries, auth.RequireRole("admin"))
}

func (h *Handler) ListDeliveries(c echo.Context) error {
	p := pagination.FromContext(c)
	all := h.sink.Attempts()
	lo, hi := p.Window(len(all))
	return c.JSON(http.StatusOK, pagination.NewResponse(all[lo:hi], len(all), p))
}
