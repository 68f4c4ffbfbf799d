package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatvault/config"
	"chatvault/logger"
)

const (
	opDispatch  = 0
	opHeartbeat = 1
	opIdentify  = 2
	opHello     = 10
)

type gatewayFrame struct {
	Op   int             `json:"op"`
	Type string          `json:"t,omitempty"`
	Data json.RawMessage `json:"d,omitempty"`
	Seq  int64           `json:"s,omitempty"`
}

type helloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

// MessageHandler receives live messages dispatched by the gateway.
type MessageHandler func(Message)

// Gateway keeps a websocket session to the platform's event stream and
// dispatches MESSAGE_CREATE events to a handler. Connection drops are
// retried with a fixed wait. The retry budget counts consecutive failed
// sessions and resets once a session identifies, so routine disconnects
// over a long daemon lifetime never exhaust it.
type Gateway struct {
	url           string
	token         string
	handler       MessageHandler
	reconnectWait time.Duration
	maxRetries    int

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewGateway creates a gateway listener.
func NewGateway(cfg *config.Config, handler MessageHandler) *Gateway {
	return &Gateway{
		url:           cfg.Platform.GatewayURL,
		token:         cfg.Account.Token,
		handler:       handler,
		reconnectWait: 5 * time.Second,
		maxRetries:    5,
	}
}

// Run connects and listens until the context is cancelled or the reconnect
// budget is spent.
func (g *Gateway) Run(ctx context.Context) error {
	if g.url == "" {
		return fmt.Errorf("gateway url is not configured")
	}

	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		identified, err := g.listenOnce(ctx)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}

		if identified {
			failures = 0
		}
		failures++
		logger.Logger.Warn().Err(err).Int("failures", failures).Msg("gateway connection lost")
		if failures >= g.maxRetries {
			return fmt.Errorf("gateway gave up after %d consecutive failures: %w", failures, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.reconnectWait):
		}
	}
}

// listenOnce runs one session and reports whether it got as far as
// identifying before failing.
func (g *Gateway) listenOnce(ctx context.Context) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, g.url, nil)
	if err != nil {
		return false, fmt.Errorf("gateway dial: %w", err)
	}
	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()
	defer conn.Close()

	stopHeartbeat := make(chan struct{})
	defer close(stopHeartbeat)

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stopHeartbeat:
		}
	}()

	identified := false
	for {
		var frame gatewayFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return identified, fmt.Errorf("gateway read: %w", err)
		}

		switch frame.Op {
		case opHello:
			var hello helloData
			if err := json.Unmarshal(frame.Data, &hello); err != nil {
				return identified, fmt.Errorf("gateway hello: %w", err)
			}
			if err := g.writeJSON(gatewayFrame{
				Op:   opIdentify,
				Data: mustMarshal(map[string]string{"token": g.token}),
			}); err != nil {
				return identified, err
			}
			identified = true
			go g.heartbeat(time.Duration(hello.HeartbeatInterval)*time.Millisecond, stopHeartbeat)

		case opDispatch:
			if frame.Type != "MESSAGE_CREATE" {
				continue
			}
			var msg Message
			if err := json.Unmarshal(frame.Data, &msg); err != nil {
				logger.Logger.Error().Err(err).Msg("failed to decode gateway message")
				continue
			}
			g.handler(msg)
		}
	}
}

func (g *Gateway) heartbeat(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := g.writeJSON(gatewayFrame{Op: opHeartbeat}); err != nil {
				logger.Logger.Error().Err(err).Msg("gateway heartbeat failed")
				return
			}
		}
	}
}

func (g *Gateway) writeJSON(frame gatewayFrame) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return fmt.Errorf("gateway not connected")
	}
	return g.conn.WriteJSON(frame)
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
