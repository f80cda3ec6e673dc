package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scheduled(doctorID uuid.UUID, start time.Time, minutes int) *Appointment {
	return &Appointment{
		ID:              uuid.New(),
		PatientID:       uuid.New(),
		DoctorID:        doctorID,
		StartTime:       start,
		DurationMinutes: minutes,
		Status:          StatusScheduled,
		Type:            TypeInPerson,
	}
}

func TestMemoryRepositoryRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	doctorID := uuid.New()
	boom := errors.New("boom")

	a := scheduled(doctorID, tomorrowAt(9, 0), 30)
	err := repo.WithDoctorTx(ctx, doctorID, func(ctx context.Context, tx Tx) error {
		require.NoError(t, tx.InsertAppointment(ctx, a))
		require.NoError(t, tx.InsertEvent(ctx, EventLog{EventType: EventAppointmentBooked}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = repo.GetAppointmentByID(ctx, a.ID)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	assert.Empty(t, repo.Events())
}

func TestMemoryRepositoryCommitRejectsOverlap(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	doctorID := uuid.New()

	first := scheduled(doctorID, tomorrowAt(9, 0), 60)
	require.NoError(t, repo.WithDoctorTx(ctx, doctorID, func(ctx context.Context, tx Tx) error {
		return tx.InsertAppointment(ctx, first)
	}))

	// skipping the conflict query still cannot persist an overlap
	err := repo.WithDoctorTx(ctx, doctorID, func(ctx context.Context, tx Tx) error {
		return tx.InsertAppointment(ctx, scheduled(doctorID, tomorrowAt(9, 30), 30))
	})
	assert.ErrorIs(t, err, ErrSlotConflict)

	// other doctors are unaffected
	otherDoctor := uuid.New()
	require.NoError(t, repo.WithDoctorTx(ctx, otherDoctor, func(ctx context.Context, tx Tx) error {
		return tx.InsertAppointment(ctx, scheduled(otherDoctor, tomorrowAt(9, 30), 30))
	}))
}

func TestMemoryRepositoryTxSeesStagedWrites(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	doctorID := uuid.New()
	a := scheduled(doctorID, tomorrowAt(10, 0), 30)

	require.NoError(t, repo.WithDoctorTx(ctx, doctorID, func(ctx context.Context, tx Tx) error {
		require.NoError(t, tx.InsertAppointment(ctx, a))

		got, err := tx.GetAppointmentForUpdate(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, a.StartTime, got.StartTime)

		found, err := tx.FindConflicting(ctx, doctorID, tomorrowAt(10, 15), tomorrowAt(10, 45), nil)
		require.NoError(t, err)
		assert.Len(t, found, 1)

		found, err = tx.FindConflicting(ctx, doctorID, tomorrowAt(10, 15), tomorrowAt(10, 45), &a.ID)
		require.NoError(t, err)
		assert.Empty(t, found)
		return nil
	}))
}

func TestMemoryRepositoryCancelledDoNotBlock(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	doctorID := uuid.New()

	a := scheduled(doctorID, tomorrowAt(10, 0), 30)
	a.Status = StatusCancelled
	require.NoError(t, repo.WithDoctorTx(ctx, doctorID, func(ctx context.Context, tx Tx) error {
		return tx.InsertAppointment(ctx, a)
	}))
	require.NoError(t, repo.WithDoctorTx(ctx, doctorID, func(ctx context.Context, tx Tx) error {
		return tx.InsertAppointment(ctx, scheduled(doctorID, tomorrowAt(10, 0), 30))
	}))

	listed, err := repo.ListDoctorAppointments(ctx, doctorID, tomorrowAt(0, 0), tomorrowAt(23, 0))
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestMemoryRepositoryCanceledContext(t *testing.T) {
	repo := NewMemoryRepository()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := repo.WithDoctorTx(ctx, uuid.New(), func(context.Context, Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
