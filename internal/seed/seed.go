package seed

import (
	"context"
	"fmt"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hackgods/doctor-appointment-scheduling/internal/appointment"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

// Result lists what was created.
type Result struct {
	Doctors  []appointment.Doctor
	Patients []appointment.Patient
}

type Options struct {
	Doctors  int
	Patients int
	Seed     uint64 // 0 picks a random seed
	Logger   *zap.Logger
}

// Run creates doctors with morning and evening sessions and 30-minute slots,
// and patients with fake names and emails.
func Run(ctx context.Context, reg appointment.Registrar, opts Options) (Result, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	faker := gofakeit.New(opts.Seed)

	var res Result

	log.Info("seeding doctors", zap.Int("count", opts.Doctors))
	for i := 0; i < opts.Doctors; i++ {
		specialty := specialties[faker.Number(0, len(specialties)-1)]
		fee := decimal.NewFromInt(int64(faker.Number(20, 120) * 25))

		d := &appointment.Doctor{
			Name:                "Dr. " + faker.Name(),
			Specialty:           &specialty,
			ConsultationFee:     fee,
			SlotDurationMinutes: 30,
			IsAvailable:         faker.Number(1, 10) > 1,
			WorkingHours: []appointment.WorkingWindow{
				{Session: "MORNING", Start: appointment.Clock(10, 0), End: appointment.Clock(13, 0)},
				{Session: "EVENING", Start: appointment.Clock(15, 0), End: appointment.Clock(18, 0)},
			},
		}
		if err := reg.CreateDoctor(ctx, d); err != nil {
			return res, fmt.Errorf("create doctor: %w", err)
		}
		res.Doctors = append(res.Doctors, *d)
	}

	log.Info("seeding patients", zap.Int("count", opts.Patients))
	for i := 0; i < opts.Patients; i++ {
		email := faker.Email()
		p := &appointment.Patient{
			Name:  faker.Name(),
			Email: &email,
		}
		if err := reg.CreatePatient(ctx, p); err != nil {
			return res, fmt.Errorf("create patient: %w", err)
		}
		res.Patients = append(res.Patients, *p)

		if (i+1)%500 == 0 {
			log.Info("patients seeded", zap.Int("done", i+1), zap.Int("total", opts.Patients))
		}
	}

	return res, nil
}
