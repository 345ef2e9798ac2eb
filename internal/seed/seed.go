// Package seed loads staff and patient fixtures. Registration of both lives
// outside this service, so fixtures are how a fresh deployment gets data.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/erqueue/erqueue/internal/domain/doctor"
	"github.com/erqueue/erqueue/internal/domain/patient"
	"github.com/erqueue/erqueue/internal/platform/db"
)

type File struct {
	Patients []*patient.Patient `json:"patients"`
	Doctors  []*doctor.Doctor   `json:"doctors"`
}

type Result struct {
	Patients int `json:"patients"`
	Doctors  int `json:"doctors"`
}

func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f File
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return &f, nil
}

// Apply writes every fixture in one unit of work; a single bad record leaves
// the stores untouched.
func Apply(ctx context.Context, tx db.Transactor, patients patient.Directory, doctors doctor.Registry, f *File) (Result, error) {
	var res Result
	err := tx.WithinTx(ctx, func(ctx context.Context) error {
		res = Result{}
		for _, p := range f.Patients {
			if err := patients.Create(ctx, p); err != nil {
				return fmt.Errorf("seed patient %s: %w", p.MedicalRecordNumber, err)
			}
			res.Patients++
		}
		for _, d := range f.Doctors {
			// Nobody starts mid-session.
			d.ActiveSessionID = nil
			if err := doctors.Create(ctx, d); err != nil {
				return fmt.Errorf("seed doctor %q: %w", d.Name, err)
			}
			res.Doctors++
		}
		return nil
	})
	return res, err
}
