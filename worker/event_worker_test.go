package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardflow/fanout"
	"boardflow/models"
	"boardflow/realtime"
)

type staticVerifier struct {
	identities map[string]realtime.Identity
}

func (v *staticVerifier) Verify(_ context.Context, credential string) (realtime.Identity, error) {
	id, ok := v.identities[credential]
	if !ok {
		return realtime.Identity{}, errors.New("unknown credential")
	}
	return id, nil
}

type captureSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *captureSink) WriteMessage(_ int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.frames = append(s.frames, cp)
	return nil
}

func (s *captureSink) SetWriteDeadline(time.Time) error { return nil }
func (s *captureSink) Close() error                     { return nil }

func (s *captureSink) payloads(t *testing.T) []wirePayload {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wirePayload, len(s.frames))
	for i, f := range s.frames {
		require.NoError(t, json.Unmarshal(f, &out[i]))
	}
	return out
}

func newWorker(t *testing.T) (*EventWorker, *realtime.Registry) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	registry := realtime.NewRegistry(&staticVerifier{identities: map[string]realtime.Identity{
		"member": {UserID: 2},
		"tester": {UserID: 7},
		"admin":  {UserID: 1, IsAdmin: true},
	}}, log)
	return &EventWorker{Registry: registry, Logger: log}, registry
}

func TestDispatchDeliversPerRecipientType(t *testing.T) {
	w, registry := newWorker(t)
	member := &captureSink{}
	broadened := &captureSink{}

	_, err := registry.OnConnect(context.Background(), "member", member)
	require.NoError(t, err)
	_, err = registry.OnConnect(context.Background(), "tester", broadened)
	require.NoError(t, err)

	env := fanout.Envelope{
		Event: fanout.Event{
			Kind:      fanout.ProjectUpdated,
			ProjectID: 10,
			Message:   "project moved to in_progress",
		},
		Recipients: []fanout.Recipient{
			{UserID: 2, Type: models.NotificationTypeProject},
			{UserID: 7, Type: models.NotificationTypeTesterBroadened},
		},
	}
	payload, err := env.Marshal()
	require.NoError(t, err)

	w.dispatch(payload)

	memberGot := member.payloads(t)
	require.Len(t, memberGot, 1)
	assert.Equal(t, fanout.ProjectUpdated, memberGot[0].Kind)
	assert.Equal(t, models.NotificationTypeProject, memberGot[0].Type)

	testerGot := broadened.payloads(t)
	require.Len(t, testerGot, 1)
	assert.Equal(t, models.NotificationTypeTesterBroadened, testerGot[0].Type)
}

func TestDispatchSkipsUsersWithoutLocalConnections(t *testing.T) {
	w, registry := newWorker(t)
	member := &captureSink{}
	_, err := registry.OnConnect(context.Background(), "member", member)
	require.NoError(t, err)

	env := fanout.Envelope{
		Event: fanout.Event{Kind: fanout.TaskCreated, ProjectID: 10, Message: "task created"},
		Recipients: []fanout.Recipient{
			{UserID: 2, Type: models.NotificationTypeTask},
			{UserID: 99, Type: models.NotificationTypeTask},
		},
	}
	payload, err := env.Marshal()
	require.NoError(t, err)

	w.dispatch(payload)

	assert.Len(t, member.payloads(t), 1)
}

func TestDispatchCopiesEveryEventToAdminChannel(t *testing.T) {
	w, registry := newWorker(t)
	admin := &captureSink{}
	_, err := registry.OnConnect(context.Background(), "admin", admin)
	require.NoError(t, err)

	env := fanout.Envelope{
		Event: fanout.Event{Kind: fanout.CommentCreated, ProjectID: 10, Message: "new comment"},
		// Admin is not in the resolved audience.
		Recipients: []fanout.Recipient{{UserID: 2, Type: models.NotificationTypeComment}},
	}
	payload, err := env.Marshal()
	require.NoError(t, err)

	w.dispatch(payload)

	got := admin.payloads(t)
	require.Len(t, got, 1)
	assert.Equal(t, fanout.CommentCreated, got[0].Kind)
	assert.Equal(t, string(fanout.CommentCreated), got[0].Type)
}

func TestDispatchDropsMalformedEnvelope(t *testing.T) {
	w, registry := newWorker(t)
	member := &captureSink{}
	_, err := registry.OnConnect(context.Background(), "member", member)
	require.NoError(t, err)

	w.dispatch([]byte("{not json"))

	assert.Empty(t, member.payloads(t))
}
