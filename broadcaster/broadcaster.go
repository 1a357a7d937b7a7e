// Package broadcaster implements the status broadcaster of SPEC_FULL.md
// §2.3: an optional WebSocket fan-out of reconciler phase-change events,
// for operator dashboards. It satisfies reconciler.Broadcaster. The
// reconnect/backoff and ping-loop idiom is carried over from the
// coordinator package this was adapted from; the bidirectional
// pause/resume/cancel workflow-control vocabulary that package used to
// talk to when-v3 is dropped, since a reconciler pass is not a pausable
// workflow (SPEC_FULL.md's Non-goals exclude a workflow engine) — this
// broadcaster only ever sends, and only ever reports.
package broadcaster

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/graphprotocol/indexer-sub006/reconciler"
)

// Config holds configuration for the Broadcaster.
type Config struct {
	// DashboardURL is the WebSocket URL of the operator dashboard (e.g.,
	// "ws://localhost:8081/v1/status").
	DashboardURL string

	// Indexer identifies the agent instance to the dashboard.
	Indexer string

	// Networks lists the CAIP-2 networks this agent manages.
	Networks []string

	// Version is the agent's software version.
	Version string

	ReconnectInitialDelay  time.Duration
	ReconnectMaxDelay      time.Duration
	ReconnectBackoffFactor float64
	ReconnectMaxAttempts   int // 0 = infinite

	PingInterval time.Duration

	Logger *logrus.Entry
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReconnectInitialDelay:  1 * time.Second,
		ReconnectMaxDelay:      30 * time.Second,
		ReconnectBackoffFactor: 2.0,
		ReconnectMaxAttempts:   0,
		PingInterval:           30 * time.Second,
	}
}

// Broadcaster maintains a best-effort WebSocket connection to an operator
// dashboard and forwards reconciler phase-change events to it. A
// Broadcaster with no reachable dashboard silently drops events; it never
// blocks or errors the reconciler pass that's reporting them.
type Broadcaster struct {
	config Config
	logger *logrus.Entry

	conn      *websocket.Conn
	connMu    sync.RWMutex
	connected bool

	sendChan chan *WSMessage

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Broadcaster. Connect must be called to start it.
func New(config Config) *Broadcaster {
	if config.Logger == nil {
		config.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Broadcaster{
		config:   config,
		logger:   config.Logger.WithField("component", "broadcaster"),
		sendChan: make(chan *WSMessage, 100),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Connect starts the connection loop in the background. It returns
// immediately; connection and reconnection happen asynchronously.
func (b *Broadcaster) Connect() {
	b.wg.Add(1)
	go b.connectionLoop()
}

// Close shuts down the broadcaster and waits for its goroutines to exit.
func (b *Broadcaster) Close() error {
	b.cancel()
	b.connMu.Lock()
	if b.conn != nil {
		b.conn.Close()
	}
	b.connMu.Unlock()
	b.wg.Wait()
	return nil
}

// IsConnected returns whether the WebSocket is currently connected.
func (b *Broadcaster) IsConnected() bool {
	b.connMu.RLock()
	defer b.connMu.RUnlock()
	return b.connected
}

// BroadcastPhase implements reconciler.Broadcaster. It queues a
// phase_changed message for network; if nothing is connected the message
// is dropped rather than blocking the reconciler pass.
func (b *Broadcaster) BroadcastPhase(network string, phase reconciler.Phase, detail string) {
	if !b.IsConnected() {
		return
	}

	msg := NewMessage(MessageTypePhaseChanged)
	msg.Network = network
	msg.SetPayload(PhaseChangedPayload{
		Network: network,
		Phase:   string(phase),
		Detail:  detail,
	})

	select {
	case b.sendChan <- msg:
	default:
		b.logger.Warn("send channel full, dropping phase event")
	}
}

func (b *Broadcaster) connectionLoop() {
	defer b.wg.Done()

	delay := b.config.ReconnectInitialDelay
	attempts := 0

	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		err := b.connect()
		if err != nil {
			attempts++
			b.logger.WithError(err).WithField("attempt", attempts).Warn("dashboard connection failed")

			if b.config.ReconnectMaxAttempts > 0 && attempts >= b.config.ReconnectMaxAttempts {
				b.logger.Error("max reconnection attempts reached, giving up on dashboard")
				return
			}

			select {
			case <-b.ctx.Done():
				return
			case <-time.After(delay):
			}

			delay = time.Duration(float64(delay) * b.config.ReconnectBackoffFactor)
			if delay > b.config.ReconnectMaxDelay {
				delay = b.config.ReconnectMaxDelay
			}
			continue
		}

		delay = b.config.ReconnectInitialDelay
		attempts = 0

		if err := b.runConnection(); err != nil {
			b.logger.WithError(err).Warn("dashboard connection lost")
		}

		b.connMu.Lock()
		b.connected = false
		b.connMu.Unlock()
	}
}

func (b *Broadcaster) connect() error {
	b.logger.WithField("url", b.config.DashboardURL).Info("connecting to status dashboard")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	headers := http.Header{}
	headers.Set("X-Indexer", b.config.Indexer)

	conn, _, err := dialer.DialContext(b.ctx, b.config.DashboardURL, headers)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	b.connMu.Lock()
	b.conn = conn
	b.connected = true
	b.connMu.Unlock()

	b.logger.Info("connected to status dashboard")

	return b.sendRegistration()
}

func (b *Broadcaster) sendRegistration() error {
	msg := NewMessage(MessageTypeRegister)
	msg.SetPayload(RegisterPayload{
		Indexer:  b.config.Indexer,
		Version:  b.config.Version,
		Networks: b.config.Networks,
	})
	return b.sendMessage(msg)
}

func (b *Broadcaster) runConnection() error {
	senderDone := make(chan struct{})
	go func() {
		defer close(senderDone)
		b.senderLoop()
	}()

	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		b.pingLoop()
	}()

	err := b.readLoop()

	b.connMu.Lock()
	if b.conn != nil {
		b.conn.Close()
	}
	b.connMu.Unlock()

	<-senderDone
	<-pingDone

	return err
}

func (b *Broadcaster) readLoop() error {
	for {
		select {
		case <-b.ctx.Done():
			return b.ctx.Err()
		default:
		}

		b.connMu.RLock()
		conn := b.conn
		b.connMu.RUnlock()

		if conn == nil {
			return fmt.Errorf("connection closed")
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read error: %w", err)
		}

		msg, err := ParseMessage(data)
		if err != nil {
			b.logger.WithError(err).Warn("failed to parse dashboard message")
			continue
		}

		b.handleMessage(msg)
	}
}

func (b *Broadcaster) senderLoop() {
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-b.sendChan:
			if !ok {
				return
			}
			if err := b.sendMessage(msg); err != nil {
				b.logger.WithError(err).Warn("failed to send message")
			}
		}
	}
}

func (b *Broadcaster) pingLoop() {
	ticker := time.NewTicker(b.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.connMu.RLock()
			conn := b.conn
			b.connMu.RUnlock()

			if conn == nil {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				b.logger.WithError(err).Debug("ping failed")
			}
		}
	}
}

func (b *Broadcaster) sendMessage(msg *WSMessage) error {
	b.connMu.RLock()
	conn := b.conn
	b.connMu.RUnlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	data, err := msg.JSON()
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// handleMessage dispatches a message from the dashboard. The only
// messages the dashboard ever sends are keepalive pings and the
// registration ack; both are handled inline since there is no broader
// handler registry to dispatch through.
func (b *Broadcaster) handleMessage(msg *WSMessage) {
	switch msg.Type {
	case MessageTypePing:
		pong := NewMessage(MessageTypePong)
		pong.ID = msg.ID
		if err := b.sendMessage(pong); err != nil {
			b.logger.WithError(err).Debug("pong failed")
		}
	case MessageTypeRegistered:
		b.logger.Info("registered with status dashboard")
	default:
		b.logger.WithField("type", msg.Type).Debug("unhandled dashboard message")
	}
}
