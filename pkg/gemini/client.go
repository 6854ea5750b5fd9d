package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultBaseURL is the production Live endpoint.
	DefaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	// DefaultModel is the current realtime speech-to-speech model.
	DefaultModel = "gemini-2.0-flash-live-001"

	bidiPath     = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	writeTimeout = 5 * time.Second
	pingInterval = 20 * time.Second
)

// Config configures a Live connection. The API key is passed to Dial, not
// stored here, so one Config can serve every credential in the pool.
type Config struct {
	// BaseURL overrides the endpoint; used by tests against a local server.
	BaseURL string

	// Model without the "models/" prefix. Defaults to DefaultModel.
	Model string

	// Voice is the prebuilt voice name, e.g. "Aoede". Optional.
	Voice string

	// SystemInstruction is the tutor persona prompt. Optional.
	SystemInstruction string

	Logger *slog.Logger
}

// Event is one decoded server message. Audio payloads stay base64; the
// caller owns decoding so it can drop malformed chunks individually.
type Event struct {
	SetupComplete bool

	// Audio holds base64 PCM16LE payloads at 24 kHz, in arrival order.
	Audio []string

	TurnComplete bool
	Interrupted  bool
	GoAway       bool
}

// Client is one live websocket connection. Events arrive on Events(); the
// channel closes when the transport ends, after which Err reports why.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger
	events chan Event
	done   chan struct{}

	writeMu sync.Mutex

	mu     sync.Mutex
	err    error
	closed bool
}

// Dial connects, sends the setup message, and starts the receive and
// keepalive loops. The connection is usable once an Event with
// SetupComplete arrives.
func Dial(ctx context.Context, apiKey string, cfg Config) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	wsURL := fmt.Sprintf("%s%s?key=%s", baseURL, bidiPath, url.QueryEscape(apiKey))
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}

	c := &Client{
		conn:   conn,
		logger: logger,
		events: make(chan Event, 32),
		done:   make(chan struct{}),
	}

	if err := c.sendSetup(model, cfg); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	go c.receiveLoop()
	go c.keepaliveLoop()

	return c, nil
}

func (c *Client) sendSetup(model string, cfg Config) error {
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
		},
	}
	if cfg.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.SystemInstruction}},
		}
	}
	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	return c.writeJSON(msg)
}

// SendAudio delivers one base64 PCM16LE chunk (16 kHz mono) to the model.
func (c *Client) SendAudio(data string) error {
	if c.isClosed() {
		return fmt.Errorf("gemini: connection closed")
	}
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{{MIMEType: InputMIMEType, Data: data}},
		},
	}
	return c.writeJSON(msg)
}

// SendTurn sends a completed user text turn. The session uses it once per
// call, right after setup completes, to make the tutor speak first.
func (c *Client) SendTurn(text string) error {
	if c.isClosed() {
		return fmt.Errorf("gemini: connection closed")
	}
	msg := clientContentMessage{
		ClientContent: clientContent{
			Turns:        []contentTurn{{Role: "user", Parts: []part{{Text: text}}}},
			TurnComplete: true,
		},
	}
	return c.writeJSON(msg)
}

// Events returns the inbound event stream. Closed when the transport ends.
func (c *Client) Events() <-chan Event { return c.events }

// Err returns the error that ended the connection, nil for a local Close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close tears the connection down. Idempotent; the close frame is
// best-effort and not awaited.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	deadline := time.Now().Add(writeTimeout)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.conn.Close()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil && !c.closed {
		c.err = err
	}
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// receiveLoop owns the events channel: it closes it when the transport ends.
func (c *Client) receiveLoop() {
	defer close(c.events)

	for {
		var msg serverMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.setErr(err)
			return
		}

		ev, ok := decodeEvent(&msg, c.logger)
		if !ok {
			continue
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

func decodeEvent(msg *serverMessage, logger *slog.Logger) (Event, bool) {
	var ev Event
	var seen bool

	if msg.SetupComplete != nil {
		ev.SetupComplete = true
		seen = true
	}
	if msg.GoAway != nil {
		ev.GoAway = true
		seen = true
	}
	if msg.Error != nil {
		logger.Warn("server error message", "code", msg.Error.Code, "message", msg.Error.Message)
	}
	if sc := msg.ServerContent; sc != nil {
		seen = true
		ev.TurnComplete = sc.TurnComplete
		ev.Interrupted = sc.Interrupted
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData != nil && p.InlineData.Data != "" {
					ev.Audio = append(ev.Audio, p.InlineData.Data)
				}
			}
		}
	}

	return ev, seen
}

func (c *Client) keepaliveLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return
			}
		}
	}
}
