package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository. Units of work for one doctor
// are serialized by a per-doctor mutex; writes are staged and applied only
// when the unit of work succeeds.
type MemoryRepository struct {
	mu           sync.RWMutex
	patients     map[uuid.UUID]Patient
	doctors      map[uuid.UUID]Doctor
	appointments map[uuid.UUID]Appointment
	events       []EventLog
	nextEventID  int64

	locksMu     sync.Mutex
	doctorLocks map[uuid.UUID]*sync.Mutex
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		patients:     make(map[uuid.UUID]Patient),
		doctors:      make(map[uuid.UUID]Doctor),
		appointments: make(map[uuid.UUID]Appointment),
		doctorLocks:  make(map[uuid.UUID]*sync.Mutex),
	}
}

func (r *MemoryRepository) CreatePatient(_ context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients[p.ID] = *p
	return nil
}

func (r *MemoryRepository) CreateDoctor(_ context.Context, d *Doctor) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.UserID == uuid.Nil {
		d.UserID = uuid.New()
	}
	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	cp := *d
	cp.WorkingHours = append([]WorkingWindow(nil), d.WorkingHours...)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.doctors[d.ID] = cp
	return nil
}

func (r *MemoryRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	d.WorkingHours = append([]WorkingWindow(nil), d.WorkingHours...)
	return &d, nil
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) ListDoctorAppointments(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Appointment, 0)
	for _, a := range r.appointments {
		if a.DoctorID != doctorID || a.Status == StatusCancelled {
			continue
		}
		if Overlaps(a.StartTime, a.EndTime(), from, to) {
			result = append(result, a)
		}
	}
	sortByStart(result)
	return result, nil
}

func (r *MemoryRepository) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.page(func(a Appointment) bool { return a.PatientID == patientID }, limit, offset), nil
}

func (r *MemoryRepository) ListAppointmentsByDoctor(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.page(func(a Appointment) bool { return a.DoctorID == doctorID }, limit, offset), nil
}

func (r *MemoryRepository) page(match func(Appointment) bool, limit, offset int) []Appointment {
	r.mu.RLock()
	matched := make([]Appointment, 0)
	for _, a := range r.appointments {
		if match(a) {
			matched = append(matched, a)
		}
	}
	r.mu.RUnlock()

	sortByStart(matched)
	if offset >= len(matched) {
		return []Appointment{}
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched
}

func (r *MemoryRepository) FindElapsedScheduled(_ context.Context, now time.Time, limit int) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Appointment, 0)
	for _, a := range r.appointments {
		if a.Status == StatusScheduled && !a.EndTime().After(now) {
			result = append(result, a)
		}
	}
	sortByStart(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Events returns a copy of the audit log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventLog(nil), r.events...)
}

func (r *MemoryRepository) doctorLock(id uuid.UUID) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	l, ok := r.doctorLocks[id]
	if !ok {
		l = &sync.Mutex{}
		r.doctorLocks[id] = l
	}
	return l
}

func (r *MemoryRepository) WithDoctorTx(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	lock := r.doctorLock(doctorID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{repo: r, staged: make(map[uuid.UUID]Appointment)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.commit(tx)
}

// commit applies the staged writes, rejecting any write set that would leave
// two overlapping non-cancelled appointments for one doctor.
func (r *MemoryRepository) commit(tx *memoryTx) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, staged := range tx.staged {
		if staged.Status == StatusCancelled {
			continue
		}
		for otherID, other := range r.appointments {
			if otherID == id {
				continue
			}
			if s, ok := tx.staged[otherID]; ok {
				other = s
			}
			if other.DoctorID != staged.DoctorID || other.Status == StatusCancelled {
				continue
			}
			if Overlaps(staged.StartTime, staged.EndTime(), other.StartTime, other.EndTime()) {
				return ErrSlotConflict
			}
		}
		for otherID, other := range tx.staged {
			if otherID == id || other.DoctorID != staged.DoctorID || other.Status == StatusCancelled {
				continue
			}
			if Overlaps(staged.StartTime, staged.EndTime(), other.StartTime, other.EndTime()) {
				return ErrSlotConflict
			}
		}
	}

	for id, a := range tx.staged {
		r.appointments[id] = a
	}
	for _, ev := range tx.events {
		r.nextEventID++
		ev.ID = r.nextEventID
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = time.Now()
		}
		r.events = append(r.events, ev)
	}
	return nil
}

type memoryTx struct {
	repo   *MemoryRepository
	staged map[uuid.UUID]Appointment
	events []EventLog
}

func (t *memoryTx) lookup(id uuid.UUID) (Appointment, bool) {
	if a, ok := t.staged[id]; ok {
		return a, true
	}
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	a, ok := t.repo.appointments[id]
	return a, ok
}

func (t *memoryTx) GetAppointmentForUpdate(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := t.lookup(id)
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (t *memoryTx) FindConflicting(_ context.Context, doctorID uuid.UUID, start, end time.Time, exclude *uuid.UUID) ([]Appointment, error) {
	t.repo.mu.RLock()
	view := make(map[uuid.UUID]Appointment, len(t.repo.appointments)+len(t.staged))
	for id, a := range t.repo.appointments {
		if a.DoctorID == doctorID {
			view[id] = a
		}
	}
	t.repo.mu.RUnlock()
	for id, a := range t.staged {
		view[id] = a
	}

	result := make([]Appointment, 0)
	for id, a := range view {
		if exclude != nil && id == *exclude {
			continue
		}
		if a.DoctorID != doctorID || a.Status == StatusCancelled {
			continue
		}
		if Overlaps(a.StartTime, a.EndTime(), start, end) {
			result = append(result, a)
		}
	}
	sortByStart(result)
	return result, nil
}

func (t *memoryTx) InsertAppointment(_ context.Context, a *Appointment) error {
	if _, exists := t.lookup(a.ID); exists {
		return ErrSlotConflict
	}
	t.staged[a.ID] = *a
	return nil
}

func (t *memoryTx) UpdateAppointment(_ context.Context, a *Appointment) error {
	if _, exists := t.lookup(a.ID); !exists {
		return ErrAppointmentNotFound
	}
	t.staged[a.ID] = *a
	return nil
}

func (t *memoryTx) InsertEvent(_ context.Context, ev EventLog) error {
	t.events = append(t.events, ev)
	return nil
}

func sortByStart(appts []Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if appts[i].StartTime.Equal(appts[j].StartTime) {
			return appts[i].ID.String() < appts[j].ID.String()
		}
		return appts[i].StartTime.Before(appts[j].StartTime)
	})
}
