package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/metrics"
)

type delivery struct {
	recipient uuid.UUID
	payload   Payload
	ctxErr    error
}

type fakeChannel struct {
	name  string
	err   error
	panic bool
	delay time.Duration

	mu   sync.Mutex
	sent []delivery
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Send(ctx context.Context, recipient uuid.UUID, p Payload) error {
	if c.panic {
		panic("boom")
	}
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, delivery{recipient: recipient, payload: p, ctxErr: ctx.Err()})
	return c.err
}

func (c *fakeChannel) deliveries() []delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]delivery(nil), c.sent...)
}

func sampleEvent(kind appointment.EventKind) appointment.Event {
	reason := "feeling better"
	detail := appointment.AppointmentDetail{
		Appointment: appointment.Appointment{
			ID:              uuid.New(),
			PatientID:       uuid.New(),
			PractitionerID:  uuid.New(),
			Date:            "2026-03-02",
			Time:            "09:15",
			DurationMinutes: 30,
			Status:          appointment.StatusScheduled,
			Reason:          "checkup",
		},
		PatientName:      "Pat Patient",
		PractitionerName: "Dr. House",
	}
	if kind == appointment.EventCancelled {
		detail.Status = appointment.StatusCancelled
		detail.CancelReason = &reason
	}
	return appointment.Event{
		Kind:        kind,
		Appointment: detail,
		Recipients:  []uuid.UUID{detail.PractitionerID, detail.PatientID},
	}
}

func TestBuildPayload(t *testing.T) {
	created := BuildPayload(sampleEvent(appointment.EventCreated))
	assert.Equal(t, "Appointment scheduled", created.Title)
	assert.Contains(t, created.Message, "Pat Patient with Dr. House")
	assert.Contains(t, created.Message, "2026-03-02 at 09:15")
	assert.Equal(t, "checkup", created.Reason)

	cancelled := BuildPayload(sampleEvent(appointment.EventCancelled))
	assert.Equal(t, "Appointment cancelled", cancelled.Title)
	assert.Equal(t, "feeling better", cancelled.CancelReason)
	assert.Contains(t, cancelled.Message, "Reason: feeling better")
	assert.Equal(t, appointment.StatusCancelled, cancelled.Status)

	updated := BuildPayload(sampleEvent(appointment.EventUpdated))
	assert.Equal(t, "Appointment updated", updated.Title)
	assert.Contains(t, updated.Message, "is now scheduled")
}

func TestFanout_DeliversToEveryRecipientOnEveryChannel(t *testing.T) {
	live := &fakeChannel{name: "live"}
	mail := &fakeChannel{name: "email", err: errors.New("smtp down")}
	broken := &fakeChannel{name: "broken", panic: true}
	reg := prometheus.NewRegistry()
	f := NewFanout(zerolog.Nop(), metrics.New(reg), time.Second, live, mail, broken)

	ctx, cancel := context.WithCancel(context.Background())
	ev := sampleEvent(appointment.EventCreated)
	f.Notify(ctx, ev)
	cancel() // request finished before delivery
	f.Wait()

	for _, ch := range []*fakeChannel{live, mail} {
		got := ch.deliveries()
		require.Len(t, got, 2, ch.name)
		var recipients []uuid.UUID
		for _, d := range got {
			recipients = append(recipients, d.recipient)
			assert.NoError(t, d.ctxErr, "delivery context must outlive the request")
			assert.Equal(t, ev.Appointment.ID, d.payload.AppointmentID)
		}
		assert.ElementsMatch(t, ev.Recipients, recipients)
	}
}

func TestFanout_NotifyReturnsImmediately(t *testing.T) {
	slow := &fakeChannel{name: "slow", delay: 200 * time.Millisecond}
	f := NewFanout(zerolog.Nop(), nil, time.Second, slow)

	start := time.Now()
	f.Notify(context.Background(), sampleEvent(appointment.EventUpdated))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	f.Wait()
	assert.Len(t, slow.deliveries(), 2)
}

func TestFanout_NoRecipients(t *testing.T) {
	ch := &fakeChannel{name: "live"}
	f := NewFanout(zerolog.Nop(), nil, 0, ch)
	ev := sampleEvent(appointment.EventCreated)
	ev.Recipients = nil
	f.Notify(context.Background(), ev)
	f.Wait()
	assert.Empty(t, ch.deliveries())
}

type fakeDirectory map[uuid.UUID]*appointment.User

func (d fakeDirectory) GetUserByID(_ context.Context, id uuid.UUID) (*appointment.User, error) {
	if u, ok := d[id]; ok {
		return u, nil
	}
	return nil, appointment.ErrUserNotFound
}

type fakeSender struct {
	mu   sync.Mutex
	sent []EmailMessage
	err  error
}

func (s *fakeSender) Send(_ context.Context, msg EmailMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return s.err
}

func TestEmailChannel(t *testing.T) {
	email := "pat@example.test"
	withMail, noMail := uuid.New(), uuid.New()
	dir := fakeDirectory{
		withMail: {ID: withMail, Name: "Pat <Patient>", Email: &email},
		noMail:   {ID: noMail, Name: "Walk-in"},
	}
	sender := &fakeSender{}
	ch := NewEmailChannel(dir, sender)
	p := BuildPayload(sampleEvent(appointment.EventCreated))

	require.NoError(t, ch.Send(context.Background(), withMail, p))
	require.NoError(t, ch.Send(context.Background(), noMail, p))
	require.NoError(t, ch.Send(context.Background(), uuid.New(), p))

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, email, msg.To)
	assert.Equal(t, "Appointment scheduled", msg.Subject)
	assert.Contains(t, msg.Body, "Time: 09:15 (30 minutes)")
	assert.Contains(t, msg.HTML, "Pat &lt;Patient&gt;")

	sender.err = errors.New("rejected")
	assert.Error(t, ch.Send(context.Background(), withMail, p))
}

// memorySQS is an in-process stand-in for the SQS API.
type memorySQS struct {
	mu       sync.Mutex
	seq      int
	messages map[string]string // receipt -> body
	deleted  []string
}

func newMemorySQS() *memorySQS {
	return &memorySQS{messages: make(map[string]string)}
}

func (m *memorySQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := strconv.Itoa(m.seq)
	m.messages["r-"+id] = aws.ToString(in.MessageBody)
	return &sqs.SendMessageOutput{MessageId: aws.String(id)}, nil
}

func (m *memorySQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := &sqs.ReceiveMessageOutput{}
	for receipt, body := range m.messages {
		if len(out.Messages) == int(in.MaxNumberOfMessages) {
			break
		}
		out.Messages = append(out.Messages, sqstypes.Message{
			MessageId:     aws.String(receipt[2:]),
			ReceiptHandle: aws.String(receipt),
			Body:          aws.String(body),
		})
	}
	return out, nil
}

func (m *memorySQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	receipt := aws.ToString(in.ReceiptHandle)
	delete(m.messages, receipt)
	m.deleted = append(m.deleted, receipt)
	return &sqs.DeleteMessageOutput{}, nil
}

func TestQueueChannelAndConsumer(t *testing.T) {
	backend := newMemorySQS()
	queue := NewSQSQueue(backend, "https://sqs.local/000000000000/clinic-notify")
	ch := NewQueueChannel(queue)

	ev := sampleEvent(appointment.EventCancelled)
	p := BuildPayload(ev)
	require.NoError(t, ch.Send(context.Background(), ev.Recipients[0], p))
	require.NoError(t, ch.Send(context.Background(), ev.Recipients[1], p))
	_, err := backend.SendMessage(context.Background(), &sqs.SendMessageInput{MessageBody: aws.String("not json")})
	require.NoError(t, err)

	var job EmailJob
	for _, body := range backend.messages {
		if json.Unmarshal([]byte(body), &job) == nil {
			break
		}
	}
	assert.Equal(t, p.AppointmentID, job.Payload.AppointmentID)

	target := &fakeChannel{name: "email"}
	consumer := NewConsumer(queue, target, zerolog.Nop())
	n, err := consumer.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, target.deliveries(), 2)
	assert.Empty(t, backend.messages, "delivered and malformed jobs are deleted")
}

func TestConsumerLeavesFailedJobs(t *testing.T) {
	backend := newMemorySQS()
	queue := NewSQSQueue(backend, "https://sqs.local/q")
	require.NoError(t, NewQueueChannel(queue).Send(context.Background(), uuid.New(), BuildPayload(sampleEvent(appointment.EventCreated))))

	consumer := NewConsumer(queue, &fakeChannel{name: "email", err: errors.New("provider down")}, zerolog.Nop())
	n, err := consumer.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, backend.messages, 1)
	assert.Empty(t, backend.deleted)
}
