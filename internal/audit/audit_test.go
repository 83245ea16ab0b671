package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgRecorder_Record(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	actor := uuid.New()
	resource := uuid.New()
	ts := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(&actor, ActionCancel, resource, []byte(`{"cancel_reason":"patient request"}`), &ts).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec := NewPgRecorder(mock)
	err = rec.Record(context.Background(), Record{
		ActorID:    actor,
		Action:     ActionCancel,
		ResourceID: resource,
		Changeset:  map[string]any{"cancel_reason": "patient request"},
		Timestamp:  ts,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRecorder_SystemActor(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	resource := uuid.New()
	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs((*uuid.UUID)(nil), ActionNoShow, resource, []byte(nil), (*time.Time)(nil)).
		WillReturnError(errors.New("connection reset"))

	err = NewPgRecorder(mock).Record(context.Background(), Record{Action: ActionNoShow, ResourceID: resource})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert audit log")
	require.NoError(t, mock.ExpectationsWereMet())
}

type recorderFunc func(ctx context.Context, rec Record) error

func (f recorderFunc) Record(ctx context.Context, rec Record) error { return f(ctx, rec) }

func TestMulti(t *testing.T) {
	var calls int
	ok := recorderFunc(func(ctx context.Context, rec Record) error { calls++; return nil })
	bad := recorderFunc(func(ctx context.Context, rec Record) error { calls++; return errors.New("down") })

	err := Multi{ok, nil, bad, ok}.Record(context.Background(), Record{Action: ActionCreate})
	require.Error(t, err)
	assert.Equal(t, 3, calls)

	assert.NoError(t, Multi{ok}.Record(context.Background(), Record{}))
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaRecorder_KeysByResource(t *testing.T) {
	w := &fakeWriter{}
	k := &KafkaRecorder{writer: w}

	resource := uuid.New()
	require.NoError(t, k.Record(context.Background(), Record{
		Action:     ActionUpdate,
		ResourceID: resource,
		Changeset:  map[string]any{"status": "confirmed"},
		Timestamp:  time.Now(),
	}))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, resource.String(), string(w.msgs[0].Key))

	var decoded Record
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, ActionUpdate, decoded.Action)
	assert.Equal(t, "confirmed", decoded.Changeset["status"])
}
