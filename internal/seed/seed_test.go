package seed

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erqueue/erqueue/internal/domain/doctor"
	"github.com/erqueue/erqueue/internal/domain/patient"
	"github.com/erqueue/erqueue/internal/platform/apperr"
	"github.com/erqueue/erqueue/internal/platform/db"
)

const fixture = `{
  "patients": [
    {"id": "7d1c9a52-3a54-4d3e-9b7f-0b0f2f1a0001", "first_name": "Ada", "last_name": "Lovelace", "medical_record_number": "MRN-1"},
    {"first_name": "Alan", "last_name": "Turing", "medical_record_number": "MRN-2"}
  ],
  "doctors": [
    {"id": "7d1c9a52-3a54-4d3e-9b7f-0b0f2f1a00d1", "name": "Dr. Grey", "role": "doctor", "available": true},
    {"name": "Nurse Joy", "role": "nurse"}
  ]
}`

func writeFixture(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAndApply(t *testing.T) {
	f, err := Load(writeFixture(t, fixture))
	require.NoError(t, err)

	patients := patient.NewMemoryDirectory()
	doctors := doctor.NewMemoryRegistry()
	res, err := Apply(context.Background(), db.NewMemoryTransactor(), patients, doctors, f)
	require.NoError(t, err)
	assert.Equal(t, Result{Patients: 2, Doctors: 2}, res)

	p, err := patients.Get(context.Background(), uuid.MustParse("7d1c9a52-3a54-4d3e-9b7f-0b0f2f1a0001"))
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", p.FullName())

	d, err := doctors.Get(context.Background(), uuid.MustParse("7d1c9a52-3a54-4d3e-9b7f-0b0f2f1a00d1"))
	require.NoError(t, err)
	assert.True(t, d.Available)
	assert.NotEqual(t, uuid.Nil, f.Patients[1].ID, "ids are assigned when absent")
}

func TestApply_BadDoctorRollsBack(t *testing.T) {
	f := &File{Doctors: []*doctor.Doctor{
		{ID: uuid.New(), Name: "ok", Role: doctor.RoleDoctor},
		{ID: uuid.New(), Name: "bad", Role: "janitor"},
	}}
	doctors := doctor.NewMemoryRegistry()

	_, err := Apply(context.Background(), db.NewMemoryTransactor(), patient.NewMemoryDirectory(), doctors, f)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = doctors.Get(context.Background(), f.Doctors[0].ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "first doctor should be rolled back")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = Load(writeFixture(t, "{not json"))
	assert.Error(t, err)
}
