package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2030, 3, 4, 8, 0, 0, 0, time.UTC)

func tomorrowAt(hour, minute int) time.Time {
	return time.Date(2030, 3, 5, hour, minute, 0, 0, time.UTC)
}

type fixture struct {
	svc     *Service
	repo    *MemoryRepository
	patient *Patient
	other   *Patient
	doctor  *Doctor
	clock   *testClock
	notify  *recordingNotifier
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingNotifier struct {
	mu        sync.Mutex
	booked    []uuid.UUID
	cancelled []string
}

func (n *recordingNotifier) AppointmentBooked(a Appointment) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.booked = append(n.booked, a.ID)
}

func (n *recordingNotifier) AppointmentCancelled(a Appointment, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, reason)
}

// mapSlotCache is a SlotCache kept in a map, without expiry.
type mapSlotCache struct {
	mu      sync.Mutex
	entries map[string][]Slot
	gets    int
}

func newMapSlotCache() *mapSlotCache {
	return &mapSlotCache{entries: make(map[string][]Slot)}
}

func (c *mapSlotCache) Get(_ context.Context, doctorID uuid.UUID, date string) ([]Slot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	slots, ok := c.entries[doctorID.String()+":"+date]
	return slots, ok, nil
}

func (c *mapSlotCache) Set(_ context.Context, doctorID uuid.UUID, date string, slots []Slot, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[doctorID.String()+":"+date] = slots
	return nil
}

func (c *mapSlotCache) Invalidate(_ context.Context, doctorID uuid.UUID, dates ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range dates {
		delete(c.entries, doctorID.String()+":"+d)
	}
	return nil
}

func newDoctor(hours ...WorkingWindow) *Doctor {
	return &Doctor{
		ID:                  uuid.New(),
		UserID:              uuid.New(),
		Name:                "Dr. " + gofakeit.LastName(),
		ConsultationFee:     decimal.RequireFromString("750.00"),
		SlotDurationMinutes: 30,
		IsAvailable:         true,
		WorkingHours:        hours,
	}
}

func newPatient() *Patient {
	email := gofakeit.Email()
	return &Patient{ID: uuid.New(), Name: gofakeit.Name(), Email: &email}
}

func newFixture(t *testing.T, opts ...func(*Options)) *fixture {
	t.Helper()

	ctx := context.Background()
	f := &fixture{
		repo:    NewMemoryRepository(),
		patient: newPatient(),
		other:   newPatient(),
		doctor:  newDoctor(),
		clock:   &testClock{now: testNow},
		notify:  &recordingNotifier{},
	}
	require.NoError(t, f.repo.CreatePatient(ctx, f.patient))
	require.NoError(t, f.repo.CreatePatient(ctx, f.other))
	require.NoError(t, f.repo.CreateDoctor(ctx, f.doctor))

	o := Options{
		Calendar: DefaultCalendar(),
		Notifier: f.notify,
		Clock:    f.clock.Now,
	}
	for _, fn := range opts {
		fn(&o)
	}
	f.svc = NewService(f.repo, o)
	return f
}

func (f *fixture) book(t *testing.T, patient *Patient, start time.Time) *Appointment {
	t.Helper()
	appt, err := f.svc.BookAppointment(context.Background(), BookingRequest{
		PatientID: patient.ID,
		DoctorID:  f.doctor.ID,
		StartTime: start,
		Type:      TypeInPerson,
	})
	require.NoError(t, err)
	return appt
}

func slotAt(t *testing.T, slots []Slot, start time.Time) Slot {
	t.Helper()
	for _, s := range slots {
		if s.Start.Equal(start) {
			return s
		}
	}
	t.Fatalf("no slot starting at %s", start)
	return Slot{}
}
