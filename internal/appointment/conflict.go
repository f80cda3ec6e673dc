package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
// Touching intervals do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// detectConflict runs the overlap query inside the doctor's unit of work, so
// the answer holds until the surrounding transaction commits.
func detectConflict(ctx context.Context, tx Tx, doctorID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (bool, error) {
	conflicts, err := tx.FindConflicting(ctx, doctorID, start, end, exclude)
	if err != nil {
		return false, fmt.Errorf("find conflicting appointments: %w", err)
	}
	return len(conflicts) > 0, nil
}

// HasConflict reports whether the doctor has a non-cancelled appointment
// overlapping [start, end). exclude omits one appointment from the
// comparison, which lets an appointment be checked against everything but
// itself.
func (s *Service) HasConflict(ctx context.Context, doctorID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (bool, error) {
	var found bool
	err := s.repo.WithDoctorTx(ctx, doctorID, func(ctx context.Context, tx Tx) error {
		var err error
		found, err = detectConflict(ctx, tx, doctorID, start, end, exclude)
		return err
	})
	return found, err
}
