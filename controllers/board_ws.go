package controller

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"boardflow/realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// BoardWSController owns the live-updates websocket endpoint. It
// hands authenticated connections to the registry; the event worker
// pushes payloads at them.
type BoardWSController struct {
	Registry *realtime.Registry
	Logger   *log.Logger
}

func NewBoardWSController(registry *realtime.Registry, logger *log.Logger) *BoardWSController {
	return &BoardWSController{Registry: registry, Logger: logger}
}

// Upgrade gates the route to websocket upgrade requests.
func (bc *BoardWSController) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Handle authenticates the credential presented at connect time and
// parks the connection in the registry until it drops. The credential
// comes from the token query param or the Authorization header; a bad
// one closes the socket immediately.
func (bc *BoardWSController) Handle(conn *websocket.Conn) {
	defer conn.Close()

	token := conn.Query("token")
	if token == "" {
		token = strings.TrimPrefix(conn.Headers("Authorization"), "Bearer ")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	membership, err := bc.Registry.OnConnect(ctx, token, conn)
	cancel()
	if err != nil {
		bc.Logger.Printf("Rejected websocket connection: %v", err)
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"),
			time.Now().Add(writeWait),
		)
		return
	}
	defer bc.Registry.OnDisconnect(membership.ConnectionID)

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// The registry may already be delivering to this connection, so
	// every write from here on goes through its per-connection lock.
	welcome, err := json.Marshal(map[string]interface{}{
		"type":     "connected",
		"channels": membership.Channels,
	})
	if err != nil {
		return
	}
	if err := bc.Registry.Send(membership.ConnectionID, welcome); err != nil {
		return
	}

	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := bc.Registry.Ping(membership.ConnectionID); err != nil {
					return
				}
			}
		}
	}()

	// Inbound traffic is ignored beyond keepalive; delivery is one-way.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				bc.Logger.Printf("Websocket error for user %d: %v", membership.UserID, err)
			}
			return
		}
	}
}
