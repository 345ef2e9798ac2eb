package triage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/erqueue/erqueue/internal/domain/patient"
	"github.com/erqueue/erqueue/internal/domain/queue"
	"github.com/erqueue/erqueue/internal/platform/apperr"
	"github.com/erqueue/erqueue/internal/platform/db"
	"github.com/erqueue/erqueue/internal/platform/notify"
)

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []notify.Kind
}

func (n *recordingNotifier) Publish(k notify.Kind) {
	n.mu.Lock()
	n.kinds = append(n.kinds, k)
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.kinds)
}

type testEnv struct {
	svc      *Service
	records  Repository
	queue    queue.Store
	patients patient.Directory
	notifier *recordingNotifier
}

func newTestEnv(t *testing.T, policy queue.DuplicatePolicy) *testEnv {
	t.Helper()
	env := &testEnv{
		records:  NewMemoryRepo(),
		queue:    queue.NewMemoryStore(),
		patients: patient.NewMemoryDirectory(),
		notifier: &recordingNotifier{},
	}
	env.svc = NewService(db.NewMemoryTransactor(), env.records, env.queue, env.patients, env.notifier, policy, zerolog.Nop())
	return env
}

func (env *testEnv) addPatient(t *testing.T) uuid.UUID {
	t.Helper()
	p := &patient.Patient{FirstName: "Test", LastName: "Patient", MedicalRecordNumber: uuid.NewString()}
	if err := env.patients.Create(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	return p.ID
}

func TestService_Submit(t *testing.T) {
	env := newTestEnv(t, queue.RejectDuplicates)
	pid := env.addPatient(t)

	intake, err := env.svc.Submit(context.Background(), Vitals{
		PatientID: pid, HeartRate: 110, BloodPressure: "150/95", PainLevel: 8, Symptoms: "mild headache",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intake.QueueEntry.UrgencyScore != 22 {
		t.Errorf("expected score 22, got %d", intake.QueueEntry.UrgencyScore)
	}
	if intake.QueueEntry.TriageID != intake.Triage.ID {
		t.Error("queue entry does not reference its triage record")
	}
	if intake.QueueEntry.Status != queue.StatusWaiting {
		t.Errorf("expected WAITING, got %s", intake.QueueEntry.Status)
	}

	head, err := env.queue.PeekHighest(context.Background())
	if err != nil || head.ID != intake.QueueEntry.ID {
		t.Errorf("expected new entry at head, got %v, %v", head, err)
	}
	if env.notifier.count() != 1 {
		t.Errorf("expected one notification, got %d", env.notifier.count())
	}
}

func TestService_Submit_ValidationBeforeMutation(t *testing.T) {
	env := newTestEnv(t, queue.RejectDuplicates)
	pid := env.addPatient(t)

	_, err := env.svc.Submit(context.Background(), Vitals{PatientID: pid, HeartRate: 80, BloodPressure: "120/80", PainLevel: 0, Symptoms: "x"})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, total, _ := env.queue.ListWaiting(context.Background(), 0, 0); total != 0 {
		t.Errorf("expected empty queue, got %d entries", total)
	}
	if env.notifier.count() != 0 {
		t.Error("no notification expected on rejected input")
	}
}

func TestService_Submit_UnknownPatient(t *testing.T) {
	env := newTestEnv(t, queue.RejectDuplicates)
	_, err := env.svc.Submit(context.Background(), validVitals())
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestService_Submit_DuplicateRollsBackTriage(t *testing.T) {
	env := newTestEnv(t, queue.RejectDuplicates)
	pid := env.addPatient(t)
	v := validVitals()
	v.PatientID = pid

	first, err := env.svc.Submit(context.Background(), v)
	if err != nil {
		t.Fatal(err)
	}

	_, err = env.svc.Submit(context.Background(), v)
	if !errors.Is(err, apperr.ErrDuplicateActiveEntry) {
		t.Fatalf("expected duplicate entry error, got %v", err)
	}

	latest, err := env.records.LatestByPatient(context.Background(), pid)
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != first.Triage.ID {
		t.Error("triage record from the rejected submission was not rolled back")
	}
	if env.notifier.count() != 1 {
		t.Errorf("expected one notification, got %d", env.notifier.count())
	}
}

func TestService_Submit_AllowDuplicates(t *testing.T) {
	env := newTestEnv(t, queue.AllowDuplicates)
	pid := env.addPatient(t)
	v := validVitals()
	v.PatientID = pid

	for i := 0; i < 2; i++ {
		if _, err := env.svc.Submit(context.Background(), v); err != nil {
			t.Fatalf("submission %d: %v", i, err)
		}
	}
	if _, total, _ := env.queue.ListWaiting(context.Background(), 0, 0); total != 2 {
		t.Errorf("expected 2 waiting entries, got %d", total)
	}
}

func TestService_Enrich(t *testing.T) {
	env := newTestEnv(t, queue.RejectDuplicates)
	pid := env.addPatient(t)
	v := validVitals()
	v.PatientID = pid
	intake, err := env.svc.Submit(context.Background(), v)
	if err != nil {
		t.Fatal(err)
	}

	orphan := &queue.Entry{TriageID: uuid.New(), PatientID: uuid.New(), UrgencyScore: 1}
	if err := env.queue.Insert(context.Background(), orphan, queue.AllowDuplicates); err != nil {
		t.Fatal(err)
	}

	entries, _, _ := env.queue.ListWaiting(context.Background(), 0, 0)
	out, err := env.svc.Enrich(context.Background(), entries)
	if err != nil {
		t.Fatal(err)
	}
	items := out.([]QueueItem)
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ID != intake.QueueEntry.ID || items[0].Patient == nil || items[0].Triage == nil {
		t.Errorf("expected first item fully enriched, got %+v", items[0])
	}
	if items[1].Patient != nil || items[1].Triage != nil {
		t.Errorf("expected orphan entry left bare, got %+v", items[1])
	}
}
