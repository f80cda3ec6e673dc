package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/doctor-appointment-scheduling/internal/appointment"
	"github.com/hackgods/doctor-appointment-scheduling/internal/metrics"
)

const (
	KindBooked    = "appointment.booked"
	KindCancelled = "appointment.cancelled"
)

var ErrDispatcherClosed = errors.New("notification dispatcher closed")

// Message is the payload handed to a Sink.
type Message struct {
	Kind          string
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	StartTime     time.Time
	Type          appointment.AppointmentType
	Reason        string
	CancelledBy   string
	OccurredAt    time.Time
}

type Sink interface {
	Send(ctx context.Context, msg Message) error
}

type Options struct {
	Workers     int
	Buffer      int
	SendTimeout time.Duration
	Logger      *zap.Logger
	Metrics     *metrics.Collector
}

// Dispatcher implements appointment.Notifier on top of a bounded queue
// drained by a fixed set of workers. Enqueueing never blocks; when the queue
// is full the message is dropped.
type Dispatcher struct {
	sink    Sink
	queue   chan Message
	timeout time.Duration
	log     *zap.Logger
	metrics *metrics.Collector

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

var _ appointment.Notifier = (*Dispatcher)(nil)

func NewDispatcher(sink Sink, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	d := &Dispatcher{
		sink:    sink,
		queue:   make(chan Message, opts.Buffer),
		timeout: opts.SendTimeout,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}

	d.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go d.worker()
	}
	return d
}

func (d *Dispatcher) AppointmentBooked(a appointment.Appointment) {
	d.enqueue(Message{
		Kind:          KindBooked,
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
		StartTime:     a.StartTime,
		Type:          a.Type,
		OccurredAt:    time.Now(),
	})
}

func (d *Dispatcher) AppointmentCancelled(a appointment.Appointment, reason string) {
	msg := Message{
		Kind:          KindCancelled,
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
		StartTime:     a.StartTime,
		Type:          a.Type,
		Reason:        reason,
		OccurredAt:    time.Now(),
	}
	if a.CancelledBy != nil {
		msg.CancelledBy = string(*a.CancelledBy)
	}
	d.enqueue(msg)
}

func (d *Dispatcher) enqueue(msg Message) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(msg, ErrDispatcherClosed)
		return
	}

	select {
	case d.queue <- msg:
	default:
		d.drop(msg, errors.New("queue full"))
	}
}

func (d *Dispatcher) drop(msg Message, reason error) {
	d.metrics.Notify(msg.Kind, "dropped")
	d.log.Warn("notification dropped",
		zap.String("kind", msg.Kind),
		zap.Stringer("appointment_id", msg.AppointmentID),
		zap.Error(reason),
	)
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for msg := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.sink.Send(ctx, msg)
		cancel()

		if err != nil {
			d.metrics.Notify(msg.Kind, "failed")
			d.log.Error("notification delivery failed",
				zap.String("kind", msg.Kind),
				zap.Stringer("appointment_id", msg.AppointmentID),
				zap.Error(err),
			)
			continue
		}
		d.metrics.Notify(msg.Kind, "sent")
	}
}

// Close stops accepting messages and waits for queued ones to be delivered
// or for ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
