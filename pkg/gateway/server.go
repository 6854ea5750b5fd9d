package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/parlato-app/parlato/pkg/call"
)

// Call is the session surface the gateway drives, satisfied by
// *call.Session.
type Call interface {
	Start(ctx context.Context) error
	Hangup()
	ToggleMute() bool
	Status() call.Status
	Close() error
}

// SessionFactory builds a fresh session wired to the given observers.
// Sessions are single-use; the gateway asks for a new one per call.
type SessionFactory func(onStatus func(call.Status), onNotice func(call.Notice)) (Call, error)

// Config configures the gateway server.
type Config struct {
	// PingInterval between websocket pings. Defaults to 20s.
	PingInterval time.Duration

	// WriteTimeout per outbound frame. Defaults to 5s.
	WriteTimeout time.Duration

	Logger *slog.Logger
}

// Server upgrades UI connections and relays control and status frames.
// One call at a time per connection: the audio devices are exclusive.
type Server struct {
	newSession SessionFactory
	cfg        Config
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// NewServer creates a gateway over the given session factory.
func NewServer(factory SessionFactory, cfg Config) *Server {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		newSession: factory,
		cfg:        cfg,
		logger:     logger,
		// The UI connects from its own local origin.
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "error", err)
		return
	}

	c := &client{
		id:     uuid.NewString(),
		ws:     ws,
		server: s,
		out:    make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	c.logger = s.logger.With("conn_id", c.id)
	c.logger.Info("ui connected", "remote", r.RemoteAddr)

	go c.writeLoop()
	c.readLoop()
}

// client is one UI connection. A single writer goroutine owns the socket's
// write side; everything else funnels through the out channel.
type client struct {
	id     string
	ws     *websocket.Conn
	server *Server
	logger *slog.Logger

	out  chan []byte
	done chan struct{}

	mu        sync.Mutex
	sess      Call
	closeOnce sync.Once
}

// push queues a frame, dropping it if the UI cannot keep up. Status frames
// are periodic; losing one is harmless.
func (c *client) push(data []byte) {
	select {
	case c.out <- data:
	case <-c.done:
	default:
		c.logger.Debug("dropping frame, slow ui", "bytes", len(data))
	}
}

func (c *client) pushStatus(st call.Status) {
	data, err := encodeStatus(st)
	if err != nil {
		return
	}
	c.push(data)
}

func (c *client) pushNotice(n call.Notice) {
	data, err := encodeNotice(n)
	if err != nil {
		return
	}
	c.push(data)
}

func (c *client) pushError(pe *ProtocolError) {
	data, err := encodeError(pe)
	if err != nil {
		return
	}
	c.push(data)
}

func (c *client) readLoop() {
	defer c.close()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Info("ui disconnected", "error", err)
			return
		}

		msg, err := DecodeControlMessage(data)
		if err != nil {
			if pe, ok := err.(*ProtocolError); ok {
				c.pushError(pe)
				continue
			}
			return
		}
		c.handle(msg)
	}
}

func (c *client) handle(msg ControlMessage) {
	switch msg.Type {
	case OpStartCall:
		c.startCall()
	case OpHangup:
		c.mu.Lock()
		sess := c.sess
		c.mu.Unlock()
		if sess != nil {
			sess.Hangup()
		}
	case OpToggleMute:
		c.mu.Lock()
		sess := c.sess
		c.mu.Unlock()
		if sess != nil {
			sess.ToggleMute()
		}
	}
}

func (c *client) startCall() {
	c.mu.Lock()
	if c.sess != nil && !c.sess.Status().Phase.Terminal() {
		c.mu.Unlock()
		c.pushError(badRequest("a call is already active"))
		return
	}
	prev := c.sess
	c.sess = nil
	c.mu.Unlock()

	// The previous call is terminal; release whatever it still holds
	// before the new one claims the audio devices.
	if prev != nil {
		_ = prev.Close()
	}

	sess, err := c.server.newSession(c.pushStatus, c.pushNotice)
	if err != nil {
		c.logger.Error("session create failed", "error", err)
		c.pushNotice(call.Notice{Message: "Could not start the call.", Severity: call.SeverityError})
		return
	}

	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()

	if err := sess.Start(context.Background()); err != nil {
		// The session has already surfaced the reason through OnNotice. It
		// never became a call; release it so the next start_call is not
		// rejected as a duplicate.
		c.logger.Warn("call start rejected", "error", err)
		c.mu.Lock()
		if c.sess == sess {
			c.sess = nil
		}
		c.mu.Unlock()
		_ = sess.Close()
	}
}

// close tears the connection down once: the session first, so the devices
// are released even when the UI vanishes mid-call.
func (c *client) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		sess := c.sess
		c.sess = nil
		c.mu.Unlock()
		if sess != nil {
			_ = sess.Close()
		}

		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *client) writeLoop() {
	pingTicker := time.NewTicker(c.server.cfg.PingInterval)
	defer pingTicker.Stop()

	writeTimeout := c.server.cfg.WriteTimeout

	for {
		select {
		case <-c.done:
			deadline := time.Now().Add(writeTimeout)
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		case <-pingTicker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				c.close()
				return
			}
		case data := <-c.out:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				c.close()
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		}
	}
}
