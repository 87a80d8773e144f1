// Package realtime holds the per-process connection registry. Each
// process tracks only the websocket connections it physically holds;
// cross-process reach comes from every process subscribing to the same
// pub/sub channel and delivering locally. The local map is mutated
// only by this process's connect/disconnect handlers.
package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ChannelAdmin is the shared channel privileged users join in
// addition to their private channel.
const ChannelAdmin = "admin"

// UserChannel is the private per-user logical channel name.
func UserChannel(userID uint) string {
	return fmt.Sprintf("user:%d", userID)
}

const writeWait = 10 * time.Second

// Identity is what a verified credential resolves to.
type Identity struct {
	UserID  uint
	IsAdmin bool
}

// CredentialVerifier authenticates the credential presented at
// connection time. Channel membership is rederived from the
// credential on every connect, so reconnects need no resume token.
type CredentialVerifier interface {
	Verify(ctx context.Context, credential string) (Identity, error)
}

// Sink is the write side of a connection. *websocket.Conn satisfies
// it; tests substitute fakes.
type Sink interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type connection struct {
	id       string
	userID   uint
	channels []string
	sink     Sink

	// writeMu serializes every writer on this connection: channel
	// delivery, direct sends and keepalive pings. The underlying
	// websocket supports one concurrent writer only.
	writeMu sync.Mutex
}

func (c *connection) write(messageType int, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.sink.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.sink.WriteMessage(messageType, payload)
}

// ChannelMembership reports where a connection was placed.
type ChannelMembership struct {
	ConnectionID string
	UserID       uint
	Channels     []string
}

type Registry struct {
	verifier CredentialVerifier
	log      *logrus.Logger

	mu        sync.RWMutex
	conns     map[string]*connection
	byChannel map[string]map[string]*connection
}

func NewRegistry(verifier CredentialVerifier, log *logrus.Logger) *Registry {
	return &Registry{
		verifier:  verifier,
		log:       log,
		conns:     make(map[string]*connection),
		byChannel: make(map[string]map[string]*connection),
	}
}

// OnConnect authenticates the credential and joins the connection to
// its channels: the user's private channel always, the admin channel
// when privileged. A failed credential returns an error and the
// caller must close the socket; no anonymous connections.
func (r *Registry) OnConnect(ctx context.Context, credential string, sink Sink) (ChannelMembership, error) {
	identity, err := r.verifier.Verify(ctx, credential)
	if err != nil {
		return ChannelMembership{}, err
	}

	channels := []string{UserChannel(identity.UserID)}
	if identity.IsAdmin {
		channels = append(channels, ChannelAdmin)
	}

	conn := &connection{
		id:       uuid.NewString(),
		userID:   identity.UserID,
		channels: channels,
		sink:     sink,
	}

	r.mu.Lock()
	r.conns[conn.id] = conn
	for _, ch := range channels {
		if r.byChannel[ch] == nil {
			r.byChannel[ch] = make(map[string]*connection)
		}
		r.byChannel[ch][conn.id] = conn
	}
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{
		"connection_id": conn.id,
		"user_id":       identity.UserID,
		"channels":      channels,
	}).Info("websocket connected")

	return ChannelMembership{ConnectionID: conn.id, UserID: identity.UserID, Channels: channels}, nil
}

// OnDisconnect removes the connection from every channel it joined.
// The distributed pub/sub needs no cleanup; its membership is
// connection-scoped and evaporates with the process subscription.
func (r *Registry) OnDisconnect(connectionID string) {
	r.mu.Lock()
	conn, ok := r.conns[connectionID]
	if ok {
		delete(r.conns, connectionID)
		for _, ch := range conn.channels {
			if members := r.byChannel[ch]; members != nil {
				delete(members, connectionID)
				if len(members) == 0 {
					delete(r.byChannel, ch)
				}
			}
		}
	}
	r.mu.Unlock()

	if ok {
		r.log.WithField("connection_id", connectionID).Info("websocket disconnected")
	}
}

// Deliver writes the payload to every local connection in the
// channel. The map is copied under the read lock so writes happen
// outside it; connections that fail to accept the write are pruned.
func (r *Registry) Deliver(channel string, payload []byte) {
	r.mu.RLock()
	members := r.byChannel[channel]
	if len(members) == 0 {
		r.mu.RUnlock()
		return
	}
	targets := make([]*connection, 0, len(members))
	for _, conn := range members {
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	for _, conn := range targets {
		if err := conn.write(websocket.TextMessage, payload); err != nil {
			r.log.WithFields(logrus.Fields{
				"connection_id": conn.id,
				"channel":       channel,
			}).WithError(err).Warn("delivery failed, dropping connection")
			r.drop(conn)
		}
	}
}

func (r *Registry) lookup(connectionID string) (*connection, error) {
	r.mu.RLock()
	conn, ok := r.conns[connectionID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("connection %s is not registered", connectionID)
	}
	return conn, nil
}

// Send writes the payload to one connection, serialized with every
// other writer on it.
func (r *Registry) Send(connectionID string, payload []byte) error {
	conn, err := r.lookup(connectionID)
	if err != nil {
		return err
	}
	return conn.write(websocket.TextMessage, payload)
}

// Ping sends a keepalive ping through the connection's write lock so
// it cannot interleave with a delivery in flight.
func (r *Registry) Ping(connectionID string) error {
	conn, err := r.lookup(connectionID)
	if err != nil {
		return err
	}
	return conn.write(websocket.PingMessage, nil)
}

func (r *Registry) drop(conn *connection) {
	r.OnDisconnect(conn.id)
	_ = conn.sink.Close()
}

// Presence reports how many local connections a channel holds.
func (r *Registry) Presence(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byChannel[channel])
}

// LocalConnections reports the total connections this process holds.
func (r *Registry) LocalConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
