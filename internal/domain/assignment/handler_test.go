package assignment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/erqueue/erqueue/internal/domain/doctor"
	"github.com/erqueue/erqueue/internal/platform/auth"
)

func doctorContext(e *echo.Echo, method, body string, staff uuid.UUID) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	ctx := context.WithValue(req.Context(), auth.UserIDKey, staff.String())
	ctx = context.WithValue(ctx, auth.UserRolesKey, []string{"doctor"})
	rec := httptest.NewRecorder()
	return e.NewContext(req.WithContext(ctx), rec), rec
}

func httpCode(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return 0
}

func TestHandler_AssignAndComplete(t *testing.T) {
	f := newFixture(t)
	docID := f.addDoctor(t, doctor.RoleDoctor, true)
	f.triagePatient(t, 7, "shortness of breath")
	h := NewHandler(f.coord)
	e := echo.New()

	c, rec := doctorContext(e, http.MethodPost, "", docID)
	if err := h.AssignPatient(c); err != nil {
		t.Fatalf("assign: %v", err)
	}
	var a Assignment
	if err := json.Unmarshal(rec.Body.Bytes(), &a); err != nil {
		t.Fatal(err)
	}

	c, rec = doctorContext(e, http.MethodGet, "", docID)
	if err := h.CurrentSession(c); err != nil {
		t.Fatalf("current session: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	body := `{"session_id":"` + a.Session.ID.String() + `","medical_notes":"Nebuliser given."}`
	c, rec = doctorContext(e, http.MethodPost, body, docID)
	if err := h.CompleteSession(c); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c, _ = doctorContext(e, http.MethodPost, body, docID)
	if code := httpCode(h.CompleteSession(c)); code != http.StatusConflict {
		t.Errorf("expected 409 on repeat completion, got %d", code)
	}
}

func TestHandler_ErrorMapping(t *testing.T) {
	f := newFixture(t)
	docID := f.addDoctor(t, doctor.RoleDoctor, true)
	h := NewHandler(f.coord)
	e := echo.New()

	c, _ := doctorContext(e, http.MethodPost, "", docID)
	if code := httpCode(h.AssignPatient(c)); code != http.StatusNotFound {
		t.Errorf("empty queue: expected 404, got %d", code)
	}

	c, _ = doctorContext(e, http.MethodGet, "", docID)
	if code := httpCode(h.CurrentSession(c)); code != http.StatusNotFound {
		t.Errorf("no session: expected 404, got %d", code)
	}

	c, _ = doctorContext(e, http.MethodPost, `{"session_id":"`+uuid.NewString()+`","medical_notes":""}`, docID)
	if code := httpCode(h.CompleteSession(c)); code != http.StatusNotFound {
		t.Errorf("unknown session: expected 404, got %d", code)
	}

	f.triagePatient(t, 5, "fever")
	a, err := f.coord.TryAssign(context.Background(), docID)
	if err != nil {
		t.Fatal(err)
	}
	blank := `{"session_id":"` + a.Session.ID.String() + `","medical_notes":"  "}`

	other := f.addDoctor(t, doctor.RoleDoctor, true)
	c, _ = doctorContext(e, http.MethodPost, blank, other)
	if code := httpCode(h.CompleteSession(c)); code != http.StatusForbidden {
		t.Errorf("blank notes from another doctor: expected 403, got %d", code)
	}

	c, _ = doctorContext(e, http.MethodPost, blank, docID)
	if code := httpCode(h.CompleteSession(c)); code != http.StatusBadRequest {
		t.Errorf("blank notes: expected 400, got %d", code)
	}

	c, _ = doctorContext(e, http.MethodPost, `{"medical_notes":"x"}`, docID)
	if code := httpCode(h.CompleteSession(c)); code != http.StatusBadRequest {
		t.Errorf("missing session id: expected 400, got %d", code)
	}
}

func TestHandler_ToggleAvailability(t *testing.T) {
	f := newFixture(t)
	docID := f.addDoctor(t, doctor.RoleDoctor, true)
	h := NewHandler(f.coord)
	e := echo.New()

	c, rec := doctorContext(e, http.MethodPost, "", docID)
	if err := h.ToggleAvailability(c); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	var body map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["available"] {
		t.Error("expected doctor to be unavailable after toggle")
	}
}

func TestHandler_RejectsNonUUIDSubject(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.coord)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	ctx := context.WithValue(req.Context(), auth.UserIDKey, "dev-user")
	c := e.NewContext(req.WithContext(ctx), httptest.NewRecorder())

	if code := httpCode(h.AssignPatient(c)); code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", code)
	}
}
