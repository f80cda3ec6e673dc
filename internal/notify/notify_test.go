package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/doctor-appointment-scheduling/internal/appointment"
	"github.com/hackgods/doctor-appointment-scheduling/internal/metrics"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []Message
	gate chan struct{}
	err  error
}

func (s *recordingSink) Send(ctx context.Context, msg Message) error {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return s.err
}

func (s *recordingSink) received() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.msgs...)
}

func testAppointment() appointment.Appointment {
	return appointment.Appointment{
		ID:        uuid.New(),
		PatientID: uuid.New(),
		DoctorID:  uuid.New(),
		StartTime: time.Date(2030, 3, 5, 10, 0, 0, 0, time.UTC),
		Type:      appointment.TypeOnline,
		Status:    appointment.StatusScheduled,
	}
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	sink := &recordingSink{}
	reg := prometheus.NewRegistry()
	m := metrics.NewCollector(reg, "test")
	d := NewDispatcher(sink, Options{Workers: 2, Buffer: 8, Metrics: m})

	a := testAppointment()
	d.AppointmentBooked(a)

	by := appointment.PartyDoctor
	a.CancelledBy = &by
	d.AppointmentCancelled(a, "doctor unwell")

	require.NoError(t, d.Close(context.Background()))

	msgs := sink.received()
	require.Len(t, msgs, 2)
	kinds := map[string]Message{}
	for _, msg := range msgs {
		kinds[msg.Kind] = msg
		assert.Equal(t, a.ID, msg.AppointmentID)
	}
	assert.Equal(t, "doctor unwell", kinds[KindCancelled].Reason)
	assert.Equal(t, "DOCTOR", kinds[KindCancelled].CancelledBy)
	assert.Contains(t, kinds, KindBooked)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifyTotal.WithLabelValues(KindBooked, "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifyTotal.WithLabelValues(KindCancelled, "sent")))
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &recordingSink{gate: make(chan struct{})}
	reg := prometheus.NewRegistry()
	m := metrics.NewCollector(reg, "test")
	d := NewDispatcher(sink, Options{Workers: 1, Buffer: 1, Metrics: m})

	// one message held by the worker, one buffered, the rest dropped
	for i := 0; i < 10; i++ {
		d.AppointmentBooked(testAppointment())
	}
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.NotifyTotal.WithLabelValues(KindBooked, "dropped")) >= 8
	}, time.Second, 10*time.Millisecond)

	close(sink.gate)
	require.NoError(t, d.Close(context.Background()))

	delivered := len(sink.received())
	dropped := int(testutil.ToFloat64(m.NotifyTotal.WithLabelValues(KindBooked, "dropped")))
	assert.Equal(t, 10, delivered+dropped)
	assert.GreaterOrEqual(t, delivered, 1)
}

func TestDispatcherAfterClose(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, Options{})
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))

	assert.NotPanics(t, func() { d.AppointmentBooked(testAppointment()) })
	assert.Empty(t, sink.received())
}

func TestDispatcherCountsFailures(t *testing.T) {
	sink := &recordingSink{err: errors.New("smtp down")}
	reg := prometheus.NewRegistry()
	m := metrics.NewCollector(reg, "test")
	d := NewDispatcher(sink, Options{Workers: 1, Buffer: 4, Metrics: m})

	d.AppointmentCancelled(testAppointment(), "")
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifyTotal.WithLabelValues(KindCancelled, "failed")))
}

func TestDispatcherCloseHonoursDeadline(t *testing.T) {
	sink := &recordingSink{gate: make(chan struct{})}
	d := NewDispatcher(sink, Options{Workers: 1, Buffer: 1, SendTimeout: time.Minute})
	d.AppointmentBooked(testAppointment())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)

	close(sink.gate)
}

func TestStreamSinkAppends(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	sink := NewStreamSink(rdb, StreamOptions{Stream: "appointments:notifications"})
	a := testAppointment()

	require.NoError(t, sink.Send(context.Background(), Message{
		Kind:          KindCancelled,
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
		StartTime:     a.StartTime,
		Type:          a.Type,
		Reason:        "schedule change",
		CancelledBy:   "PATIENT",
		OccurredAt:    time.Now(),
	}))

	entries, err := rdb.XRange(context.Background(), "appointments:notifications", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, KindCancelled, entries[0].Values["kind"])
	assert.Equal(t, a.ID.String(), entries[0].Values["appointment_id"])
	assert.Equal(t, "schedule change", entries[0].Values["reason"])
	assert.Equal(t, "2030-03-05T10:00:00Z", entries[0].Values["start_time"])
}

func TestStreamSinkBreakerOpens(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	sink := NewStreamSink(rdb, StreamOptions{Stream: "n", FailureThreshold: 2, OpenTimeout: time.Minute})
	mr.Close()

	for i := 0; i < 2; i++ {
		assert.Error(t, sink.Send(context.Background(), Message{Kind: KindBooked}))
	}
	assert.Equal(t, gobreaker.StateOpen, sink.State())

	err := sink.Send(context.Background(), Message{Kind: KindBooked})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}
