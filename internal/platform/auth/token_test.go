package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestIssueToken_RoundTripsThroughMiddleware(t *testing.T) {
	cfg := JWTConfig{Issuer: "erqueue", Audience: "erqueue-api", SigningKey: testSigningKey}
	tokenStr, err := IssueToken(cfg, "0b8e6f4e-8f57-4a53-9d43-5a0f2b7c1d11", []string{"doctor"}, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	c := e.NewContext(req, httptest.NewRecorder())

	var gotID string
	var gotRoles []string
	h := JWTMiddleware(cfg)(func(c echo.Context) error {
		gotID = UserIDFromContext(c.Request().Context())
		gotRoles = RolesFromContext(c.Request().Context())
		return nil
	})
	if err := h(c); err != nil {
		t.Fatalf("token rejected: %v", err)
	}
	if gotID != "0b8e6f4e-8f57-4a53-9d43-5a0f2b7c1d11" {
		t.Errorf("unexpected subject %q", gotID)
	}
	if len(gotRoles) != 1 || gotRoles[0] != "doctor" {
		t.Errorf("unexpected roles %v", gotRoles)
	}
}

func TestIssueToken_RequiresKey(t *testing.T) {
	if _, err := IssueToken(JWTConfig{}, "x", nil, time.Minute); err == nil {
		t.Fatal("expected error for empty signing key")
	}
}

func TestIssueToken_ExpiredIsRejected(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey}
	tokenStr, err := IssueToken(cfg, "x", nil, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	err = JWTMiddleware(cfg)(func(echo.Context) error { return nil })(e.NewContext(req, httptest.NewRecorder()))

	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}
