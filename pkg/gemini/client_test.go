package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{}

// liveServer records inbound client messages and lets the test script
// outbound server messages.
type liveServer struct {
	t        *testing.T
	server   *httptest.Server
	received chan json.RawMessage
	send     chan any
}

func newLiveServer(t *testing.T) *liveServer {
	ls := &liveServer{
		t:        t,
		received: make(chan json.RawMessage, 16),
		send:     make(chan any, 16),
	}
	ls.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		go func() {
			for msg := range ls.send {
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			}
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				close(ls.received)
				return
			}
			ls.received <- json.RawMessage(data)
		}
	}))
	t.Cleanup(ls.server.Close)
	return ls
}

func (ls *liveServer) baseURL() string {
	return "ws" + strings.TrimPrefix(ls.server.URL, "http")
}

func (ls *liveServer) next() map[string]json.RawMessage {
	select {
	case data, ok := <-ls.received:
		if !ok {
			ls.t.Fatal("server connection closed before message")
		}
		var m map[string]json.RawMessage
		if err := json.Unmarshal(data, &m); err != nil {
			ls.t.Fatalf("unmarshal client message: %v", err)
		}
		return m
	case <-time.After(2 * time.Second):
		ls.t.Fatal("timed out waiting for client message")
		return nil
	}
}

func waitEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestClient_SetupIsFirstMessage(t *testing.T) {
	ls := newLiveServer(t)

	c, err := Dial(context.Background(), "test-key", Config{
		BaseURL:           ls.baseURL(),
		Voice:             "Aoede",
		SystemInstruction: "You are a patient Spanish tutor.",
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	msg := ls.next()
	raw, ok := msg["setup"]
	if !ok {
		t.Fatalf("first message keys = %v, want setup", keys(msg))
	}

	var setup setupConfig
	if err := json.Unmarshal(raw, &setup); err != nil {
		t.Fatalf("unmarshal setup: %v", err)
	}
	if setup.Model != "models/"+DefaultModel {
		t.Fatalf("model = %q, want models/%s", setup.Model, DefaultModel)
	}
	if got := setup.GenerationConfig.ResponseModalities; len(got) != 1 || got[0] != "AUDIO" {
		t.Fatalf("responseModalities = %v, want [AUDIO]", got)
	}
	if setup.GenerationConfig.SpeechConfig == nil ||
		setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Aoede" {
		t.Fatal("voice not carried into setup")
	}
	if setup.SystemInstruction == nil || len(setup.SystemInstruction.Parts) != 1 {
		t.Fatal("system instruction not carried into setup")
	}
}

func TestClient_SendAudioCarriesMIMEType(t *testing.T) {
	ls := newLiveServer(t)

	c, err := Dial(context.Background(), "test-key", Config{BaseURL: ls.baseURL()})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	ls.next() // setup

	if err := c.SendAudio("cGNtZGF0YQ=="); err != nil {
		t.Fatalf("send audio: %v", err)
	}

	var msg realtimeInputMessage
	if err := json.Unmarshal(mustField(t, ls.next(), "realtimeInput"), &msg.RealtimeInput); err != nil {
		t.Fatalf("unmarshal realtimeInput: %v", err)
	}
	chunks := msg.RealtimeInput.MediaChunks
	if len(chunks) != 1 {
		t.Fatalf("mediaChunks = %d, want 1", len(chunks))
	}
	if chunks[0].MIMEType != InputMIMEType {
		t.Fatalf("mimeType = %q, want %q", chunks[0].MIMEType, InputMIMEType)
	}
	if chunks[0].Data != "cGNtZGF0YQ==" {
		t.Fatalf("data = %q, not passed through", chunks[0].Data)
	}
}

func TestClient_SendTurnCompletesTurn(t *testing.T) {
	ls := newLiveServer(t)

	c, err := Dial(context.Background(), "test-key", Config{BaseURL: ls.baseURL()})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	ls.next() // setup

	if err := c.SendTurn("Greet the student."); err != nil {
		t.Fatalf("send turn: %v", err)
	}

	var cc clientContent
	if err := json.Unmarshal(mustField(t, ls.next(), "clientContent"), &cc); err != nil {
		t.Fatalf("unmarshal clientContent: %v", err)
	}
	if !cc.TurnComplete {
		t.Fatal("turnComplete = false, want true")
	}
	if len(cc.Turns) != 1 || cc.Turns[0].Role != "user" {
		t.Fatalf("turns = %+v, want one user turn", cc.Turns)
	}
}

func TestClient_ServerEventsAreDecoded(t *testing.T) {
	ls := newLiveServer(t)

	c, err := Dial(context.Background(), "test-key", Config{BaseURL: ls.baseURL()})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	ls.next() // setup

	ls.send <- map[string]any{"setupComplete": map[string]any{}}
	if ev := waitEvent(t, c); !ev.SetupComplete {
		t.Fatalf("event = %+v, want setup complete", ev)
	}

	ls.send <- map[string]any{"serverContent": map[string]any{
		"modelTurn": map[string]any{
			"parts": []any{
				map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "AAAA"}},
				map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "BBBB"}},
			},
		},
	}}
	ev := waitEvent(t, c)
	if len(ev.Audio) != 2 || ev.Audio[0] != "AAAA" || ev.Audio[1] != "BBBB" {
		t.Fatalf("audio = %v, want [AAAA BBBB]", ev.Audio)
	}
	if ev.TurnComplete {
		t.Fatal("turnComplete = true before server signals it")
	}

	ls.send <- map[string]any{"serverContent": map[string]any{"turnComplete": true}}
	if ev := waitEvent(t, c); !ev.TurnComplete {
		t.Fatalf("event = %+v, want turn complete", ev)
	}

	ls.send <- map[string]any{"serverContent": map[string]any{"interrupted": true}}
	if ev := waitEvent(t, c); !ev.Interrupted {
		t.Fatalf("event = %+v, want interrupted", ev)
	}
}

func TestClient_CloseIsIdempotentAndEndsEvents(t *testing.T) {
	ls := newLiveServer(t)

	c, err := Dial(context.Background(), "test-key", Config{BaseURL: ls.baseURL()})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	ls.next() // setup

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	select {
	case _, ok := <-c.Events():
		if ok {
			// Drain anything in flight; the channel must close soon.
			for range c.Events() {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after Close")
	}

	if err := c.SendAudio("AAAA"); err == nil {
		t.Fatal("send after close should fail")
	}
}

func mustField(t *testing.T, msg map[string]json.RawMessage, field string) json.RawMessage {
	t.Helper()
	raw, ok := msg[field]
	if !ok {
		t.Fatalf("message keys = %v, want %s", keys(msg), field)
	}
	return raw
}

func keys(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
