package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erqueue/erqueue/internal/config"
	"github.com/erqueue/erqueue/internal/domain/doctor"
	"github.com/erqueue/erqueue/internal/domain/patient"
	"github.com/erqueue/erqueue/internal/platform/auth"
	"github.com/erqueue/erqueue/internal/seed"
)

var (
	doctorID  = uuid.MustParse("5b0b6a0e-2a3d-4c4e-8f52-0d6f0c9a1d01")
	patientID = uuid.MustParse("5b0b6a0e-2a3d-4c4e-8f52-0d6f0c9a1a01")
)

func testConfig() *config.Config {
	return &config.Config{
		Env:                          "development",
		StorageBackend:               config.BackendMemory,
		RequestTimeout:               5 * time.Second,
		BodyLimit:                    "64K",
		RateLimitRPS:                 1000,
		RateLimitBurst:               1000,
		AssignMaxAttempts:            5,
		RejectDuplicateActiveEntries: true,
		NotifyBuffer:                 16,
	}
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	store := memoryBackend()
	_, err := seed.Apply(context.Background(), store.tx, store.patients, store.doctors, &seed.File{
		Patients: []*patient.Patient{{ID: patientID, FirstName: "Ada", LastName: "Lovelace", MedicalRecordNumber: "MRN-1"}},
		Doctors:  []*doctor.Doctor{{ID: doctorID, Name: "Dr. Grey", Role: doctor.RoleDoctor, Available: true}},
	})
	require.NoError(t, err)
	a, err := newApp(testConfig(), zerolog.Nop(), store)
	require.NoError(t, err)
	return a
}

type caller struct {
	id    uuid.UUID
	roles string
}

func do(t *testing.T, a *app, who caller, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if who.id != uuid.Nil {
		req.Header.Set(auth.DevUserIDHeader, who.id.String())
	}
	if who.roles != "" {
		req.Header.Set(auth.DevUserRolesHeader, who.roles)
	}
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	return rec
}

func TestServer_TriageToCompletion(t *testing.T) {
	a := newTestApp(t)
	nurse := caller{id: uuid.New(), roles: "nurse"}
	dr := caller{id: doctorID, roles: "doctor"}

	rec := do(t, a, nurse, http.MethodPost, "/api/v1/triage", map[string]interface{}{
		"patient_id":     patientID,
		"heart_rate":     125,
		"blood_pressure": "185/95",
		"pain_level":     9,
		"symptoms":       "chest pain, sweating",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, a, nurse, http.MethodGet, "/api/v1/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, 1, listing.Total)

	rec = do(t, a, dr, http.MethodPost, "/api/v1/doctor/assign-patient", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var assigned struct {
		Session struct {
			ID uuid.UUID `json:"id"`
		} `json:"session"`
		QueueEntry struct {
			UrgencyScore int `json:"urgency_score"`
		} `json:"queue_entry"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &assigned))
	assert.Equal(t, 34, assigned.QueueEntry.UrgencyScore)

	rec = do(t, a, dr, http.MethodPost, "/api/v1/doctor/assign-patient", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "doctor already in session")

	rec = do(t, a, dr, http.MethodGet, "/api/v1/doctor/current-session", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, a, dr, http.MethodPost, "/api/v1/doctor/complete-session", map[string]interface{}{
		"session_id":    assigned.Session.ID,
		"medical_notes": "ECG normal, discharged",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, a, dr, http.MethodGet, "/api/v1/doctor/current-session", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, a, nurse, http.MethodGet, "/api/v1/doctors/"+doctorID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var d doctor.Doctor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.True(t, d.Available)
	assert.Nil(t, d.ActiveSessionID)
}

func TestServer_RoleChecks(t *testing.T) {
	a := newTestApp(t)

	rec := do(t, a, caller{id: uuid.New(), roles: "nurse"}, http.MethodPost, "/api/v1/doctor/assign-patient", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, a, caller{id: doctorID, roles: "doctor"}, http.MethodPost, "/api/v1/doctor/assign-patient", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "empty queue")
}

func TestServer_Health(t *testing.T) {
	a := newTestApp(t)

	rec := do(t, a, caller{}, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"backend":"memory"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, a, caller{}, http.MethodGet, "/health/db", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, a, caller{}, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "erqueue_queue_waiting 0")
	assert.Contains(t, rec.Body.String(), `route="/health"`)
}

func TestServer_WebhookDeliveriesRoute(t *testing.T) {
	cfg := testConfig()
	cfg.WebhookURLs = []string{"http://127.0.0.1:1/hook"}
	a, err := newApp(cfg, zerolog.Nop(), memoryBackend())
	require.NoError(t, err)

	rec := do(t, a, caller{}, http.MethodGet, "/api/v1/admin/webhooks/deliveries", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	cfg.WebhookURLs = []string{"not a url"}
	_, err = newApp(cfg, zerolog.Nop(), memoryBackend())
	assert.Error(t, err)
}
