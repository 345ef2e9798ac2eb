package queue

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/erqueue/erqueue/internal/platform/apperr"
	"github.com/erqueue/erqueue/pkg/pagination"
)

// Enricher attaches patient and triage details to listed entries. The queue
// package does not own those records.
type Enricher interface {
	Enrich(ctx context.Context, entries []*Entry) (interface{}, error)
}

type Handler struct {
	store    Store
	enricher Enricher
}

// NewHandler builds the queue read endpoints. enricher may be nil, in which
// case bare entries are returned.
func NewHandler(store Store, enricher Enricher) *Handler {
	return &Handler{store: store, enricher: enricher}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/queue", h.ListWaiting)
}

func (h *Handler) ListWaiting(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()

	items, total, err := h.store.ListWaiting(ctx, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}

	var data interface{} = items
	if h.enricher != nil {
		if data, err = h.enricher.Enrich(ctx, items); err != nil {
			return apperr.HTTPError(err)
		}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(data, total, pg))
}
