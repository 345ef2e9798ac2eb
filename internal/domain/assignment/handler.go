package assignment

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/erqueue/erqueue/internal/platform/apperr"
	"github.com/erqueue/erqueue/internal/platform/auth"
)

type Handler struct {
	coord *Coordinator
}

func NewHandler(coord *Coordinator) *Handler {
	return &Handler{coord: coord}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/doctor", auth.RequireRole("doctor"))
	g.POST("/toggle-availability", h.ToggleAvailability)
	g.POST("/assign-patient", h.AssignPatient)
	g.GET("/current-session", h.CurrentSession)
	g.POST("/complete-session", h.CompleteSession)
}

type completeRequest struct {
	SessionID    uuid.UUID `json:"session_id"`
	MedicalNotes string    `json:"medical_notes"`
}

func staffID(c echo.Context) (uuid.UUID, error) {
	id, err := auth.StaffIDFromContext(c.Request().Context())
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "token subject is not a staff id")
	}
	return id, nil
}

func (h *Handler) ToggleAvailability(c echo.Context) error {
	id, err := staffID(c)
	if err != nil {
		return err
	}
	d, err := h.coord.ToggleAvailability(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"available": d.Available})
}

func (h *Handler) AssignPatient(c echo.Context) error {
	id, err := staffID(c)
	if err != nil {
		return err
	}
	a, err := h.coord.TryAssign(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CurrentSession(c echo.Context) error {
	id, err := staffID(c)
	if err != nil {
		return err
	}
	a, err := h.coord.CurrentSession(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CompleteSession(c echo.Context) error {
	id, err := staffID(c)
	if err != nil {
		return err
	}
	var req completeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SessionID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}
	out, err := h.coord.Complete(c.Request().Context(), req.SessionID, req.MedicalNotes, id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, out)
}
