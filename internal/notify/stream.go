package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// StreamSink appends notifications to a Redis stream for downstream email
// and SMS consumers. Calls go through a circuit breaker so an unreachable
// Redis fails fast instead of tying up the workers.
type StreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
	cb     *gobreaker.CircuitBreaker[string]
}

type StreamOptions struct {
	Stream           string
	MaxLen           int64
	FailureThreshold uint32
	OpenTimeout      time.Duration
	Logger           *zap.Logger
}

func NewStreamSink(client *redis.Client, opts StreamOptions) *StreamSink {
	if opts.MaxLen <= 0 {
		opts.MaxLen = 10000
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	threshold := opts.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "notify-stream",
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &StreamSink{
		client: client,
		stream: opts.Stream,
		maxLen: opts.MaxLen,
		cb:     cb,
	}
}

func (s *StreamSink) Send(ctx context.Context, msg Message) error {
	_, err := s.cb.Execute(func() (string, error) {
		return s.client.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			MaxLen: s.maxLen,
			Approx: true,
			Values: streamValues(msg),
		}).Result()
	})
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

func (s *StreamSink) State() gobreaker.State {
	return s.cb.State()
}

func streamValues(msg Message) map[string]any {
	values := map[string]any{
		"kind":           msg.Kind,
		"appointment_id": msg.AppointmentID.String(),
		"patient_id":     msg.PatientID.String(),
		"doctor_id":      msg.DoctorID.String(),
		"start_time":     msg.StartTime.Format(time.RFC3339),
		"type":           string(msg.Type),
		"occurred_at":    msg.OccurredAt.Format(time.RFC3339Nano),
	}
	if msg.Reason != "" {
		values["reason"] = msg.Reason
	}
	if msg.CancelledBy != "" {
		values["cancelled_by"] = msg.CancelledBy
	}
	return values
}

// LogSink writes notifications to the log. It is used when no stream is
// configured.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Send(_ context.Context, msg Message) error {
	s.log.Info("notification",
		zap.String("kind", msg.Kind),
		zap.Stringer("appointment_id", msg.AppointmentID),
		zap.Stringer("patient_id", msg.PatientID),
		zap.Stringer("doctor_id", msg.DoctorID),
		zap.Time("start_time", msg.StartTime),
		zap.String("reason", msg.Reason),
	)
	return nil
}
