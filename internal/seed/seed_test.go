package seed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/doctor-appointment-scheduling/internal/appointment"
)

func TestRunPopulatesRegistrar(t *testing.T) {
	ctx := context.Background()
	repo := appointment.NewMemoryRepository()

	res, err := Run(ctx, repo, Options{Doctors: 5, Patients: 20, Seed: 42})
	require.NoError(t, err)
	require.Len(t, res.Doctors, 5)
	require.Len(t, res.Patients, 20)

	for _, d := range res.Doctors {
		stored, err := repo.GetDoctorByID(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, 30, stored.SlotDurationMinutes)
		assert.Len(t, stored.WorkingHours, 2)
		assert.True(t, stored.ConsultationFee.IsPositive())
		require.NotNil(t, stored.Specialty)
	}

	for _, p := range res.Patients {
		_, err := repo.GetPatientByID(ctx, p.ID)
		require.NoError(t, err)
		require.NotNil(t, p.Email)
	}
}

func TestRunIsDeterministicForSeed(t *testing.T) {
	ctx := context.Background()

	a, err := Run(ctx, appointment.NewMemoryRepository(), Options{Doctors: 3, Patients: 3, Seed: 7})
	require.NoError(t, err)
	b, err := Run(ctx, appointment.NewMemoryRepository(), Options{Doctors: 3, Patients: 3, Seed: 7})
	require.NoError(t, err)

	for i := range a.Doctors {
		assert.Equal(t, a.Doctors[i].Name, b.Doctors[i].Name)
		assert.True(t, a.Doctors[i].ConsultationFee.Equal(b.Doctors[i].ConsultationFee))
	}
	assert.Equal(t, a.Patients[0].Name, b.Patients[0].Name)
}
