package realtime

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardflow/apperr"
)

type fakeVerifier struct {
	identities map[string]Identity
}

func (f *fakeVerifier) Verify(_ context.Context, credential string) (Identity, error) {
	id, ok := f.identities[credential]
	if !ok {
		return Identity{}, apperr.Unauthenticated("invalid credential")
	}
	return id, nil
}

type fakeSink struct {
	mu       sync.Mutex
	writes   [][]byte
	failNext bool
	closed   bool
}

func (s *fakeSink) WriteMessage(_ int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		return errors.New("broken pipe")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.writes = append(s.writes, cp)
	return nil
}

func (s *fakeSink) SetWriteDeadline(time.Time) error { return nil }

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func newTestRegistry() *Registry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewRegistry(&fakeVerifier{identities: map[string]Identity{
		"user-token":  {UserID: 7},
		"admin-token": {UserID: 1, IsAdmin: true},
	}}, log)
}

func TestOnConnectJoinsUserChannel(t *testing.T) {
	r := newTestRegistry()

	m, err := r.OnConnect(context.Background(), "user-token", &fakeSink{})
	require.NoError(t, err)
	assert.Equal(t, uint(7), m.UserID)
	assert.Equal(t, []string{UserChannel(7)}, m.Channels)
	assert.Equal(t, 1, r.Presence(UserChannel(7)))
	assert.Equal(t, 0, r.Presence(ChannelAdmin))
	assert.Equal(t, 1, r.LocalConnections())
}

func TestOnConnectAdminJoinsAdminChannel(t *testing.T) {
	r := newTestRegistry()

	m, err := r.OnConnect(context.Background(), "admin-token", &fakeSink{})
	require.NoError(t, err)
	assert.Contains(t, m.Channels, UserChannel(1))
	assert.Contains(t, m.Channels, ChannelAdmin)
	assert.Equal(t, 1, r.Presence(ChannelAdmin))
}

func TestOnConnectRejectsBadCredential(t *testing.T) {
	r := newTestRegistry()

	_, err := r.OnConnect(context.Background(), "nope", &fakeSink{})
	require.Error(t, err)
	assert.True(t, apperr.IsAuthentication(err))
	assert.Equal(t, 0, r.LocalConnections())
}

func TestDeliverReachesEveryChannelMember(t *testing.T) {
	r := newTestRegistry()
	first := &fakeSink{}
	second := &fakeSink{}

	// Same user on two devices; both connections get the payload.
	_, err := r.OnConnect(context.Background(), "user-token", first)
	require.NoError(t, err)
	_, err = r.OnConnect(context.Background(), "user-token", second)
	require.NoError(t, err)

	r.Deliver(UserChannel(7), []byte(`{"kind":"task.created"}`))

	require.Len(t, first.received(), 1)
	require.Len(t, second.received(), 1)
	assert.Equal(t, []byte(`{"kind":"task.created"}`), first.received()[0])
}

func TestDeliverToEmptyChannelIsNoop(t *testing.T) {
	r := newTestRegistry()
	r.Deliver(UserChannel(99), []byte("payload"))
	assert.Equal(t, 0, r.LocalConnections())
}

func TestDeliverPrunesFailedConnections(t *testing.T) {
	r := newTestRegistry()
	healthy := &fakeSink{}
	broken := &fakeSink{failNext: true}

	_, err := r.OnConnect(context.Background(), "user-token", healthy)
	require.NoError(t, err)
	_, err = r.OnConnect(context.Background(), "user-token", broken)
	require.NoError(t, err)
	require.Equal(t, 2, r.Presence(UserChannel(7)))

	r.Deliver(UserChannel(7), []byte("payload"))

	assert.Equal(t, 1, r.Presence(UserChannel(7)))
	assert.Equal(t, 1, r.LocalConnections())
	assert.True(t, broken.closed)
	assert.Len(t, healthy.received(), 1)
}

func TestOnDisconnectUpdatesPresence(t *testing.T) {
	r := newTestRegistry()

	m, err := r.OnConnect(context.Background(), "admin-token", &fakeSink{})
	require.NoError(t, err)
	require.Equal(t, 1, r.Presence(ChannelAdmin))

	r.OnDisconnect(m.ConnectionID)

	assert.Equal(t, 0, r.Presence(ChannelAdmin))
	assert.Equal(t, 0, r.Presence(UserChannel(1)))
	assert.Equal(t, 0, r.LocalConnections())

	// Disconnecting twice is harmless.
	r.OnDisconnect(m.ConnectionID)
	assert.Equal(t, 0, r.LocalConnections())
}

// overlapSink flags any two writers active inside WriteMessage at the
// same time. The real websocket connection panics in that situation,
// so the registry must serialize all writers per connection.
type overlapSink struct {
	inWrite  int32
	overlaps int32
	writes   int32
}

func (s *overlapSink) WriteMessage(int, []byte) error {
	if !atomic.CompareAndSwapInt32(&s.inWrite, 0, 1) {
		atomic.AddInt32(&s.overlaps, 1)
		return nil
	}
	time.Sleep(time.Millisecond)
	atomic.AddInt32(&s.writes, 1)
	atomic.StoreInt32(&s.inWrite, 0)
	return nil
}

func (s *overlapSink) SetWriteDeadline(time.Time) error { return nil }
func (s *overlapSink) Close() error                     { return nil }

func TestWritersOnOneConnectionNeverOverlap(t *testing.T) {
	r := newTestRegistry()
	sink := &overlapSink{}

	m, err := r.OnConnect(context.Background(), "user-token", sink)
	require.NoError(t, err)

	// Channel delivery, direct sends and keepalive pings all race for
	// the same connection.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			r.Deliver(UserChannel(7), []byte(`{"kind":"task.updated"}`))
		}()
		go func() {
			defer wg.Done()
			_ = r.Send(m.ConnectionID, []byte(`{"type":"connected"}`))
		}()
		go func() {
			defer wg.Done()
			_ = r.Ping(m.ConnectionID)
		}()
	}
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&sink.overlaps), "two writers were inside WriteMessage at once")
	assert.Equal(t, int32(30), atomic.LoadInt32(&sink.writes))
}

func TestSendAndPingRejectUnknownConnection(t *testing.T) {
	r := newTestRegistry()

	assert.Error(t, r.Send("missing", []byte("payload")))
	assert.Error(t, r.Ping("missing"))
}

func TestConcurrentConnectDeliverDisconnect(t *testing.T) {
	r := newTestRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := r.OnConnect(context.Background(), "user-token", &fakeSink{})
			if err != nil {
				return
			}
			r.Deliver(UserChannel(7), []byte("payload"))
			r.OnDisconnect(m.ConnectionID)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.LocalConnections())
	assert.Equal(t, 0, r.Presence(UserChannel(7)))
}
