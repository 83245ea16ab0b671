package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/metrics"
)

const defaultTimeout = 10 * time.Second

// Channel delivers one payload to one recipient.
type Channel interface {
	Name() string
	Send(ctx context.Context, recipientID uuid.UUID, p Payload) error
}

// Fanout implements appointment.Notifier. Each (channel, recipient) pair is
// delivered on its own goroutine with a context detached from the request,
// so the HTTP response never waits on delivery.
type Fanout struct {
	channels []Channel
	timeout  time.Duration
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	wg       sync.WaitGroup
}

func NewFanout(logger zerolog.Logger, m *metrics.Metrics, timeout time.Duration, channels ...Channel) *Fanout {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Fanout{
		channels: channels,
		timeout:  timeout,
		logger:   logger,
		metrics:  m,
	}
}

func (f *Fanout) Notify(ctx context.Context, ev appointment.Event) {
	if len(ev.Recipients) == 0 || len(f.channels) == 0 {
		return
	}
	payload := BuildPayload(ev)
	detached := context.WithoutCancel(ctx)

	for _, ch := range f.channels {
		for _, recipient := range ev.Recipients {
			f.wg.Add(1)
			go f.deliver(detached, ch, recipient, payload)
		}
	}
}

func (f *Fanout) deliver(ctx context.Context, ch Channel, recipient uuid.UUID, p Payload) {
	defer f.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error().
				Interface("panic", r).
				Str("channel", ch.Name()).
				Str("recipient_id", recipient.String()).
				Msg("notification channel panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	err := ch.Send(ctx, recipient, p)
	f.metrics.ObserveDelivery(ch.Name(), err)
	if err != nil {
		f.logger.Warn().Err(err).
			Str("channel", ch.Name()).
			Str("recipient_id", recipient.String()).
			Str("appointment_id", p.AppointmentID.String()).
			Str("kind", string(p.Kind)).
			Msg("notification delivery failed")
	}
}

// Wait blocks until all in-flight deliveries finish. Used on shutdown.
func (f *Fanout) Wait() {
	f.wg.Wait()
}

var _ appointment.Notifier = (*Fanout)(nil)
