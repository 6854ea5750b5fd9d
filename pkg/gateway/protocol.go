// Package gateway exposes the call pipeline to the UI over a local
// websocket: three control operations in, status and notice frames out.
package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/parlato-app/parlato/pkg/call"
)

// Control operations accepted from the UI.
const (
	OpStartCall  = "start_call"
	OpHangup     = "hangup"
	OpToggleMute = "toggle_mute"
)

// ProtocolError describes a rejected client message.
type ProtocolError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func badRequest(format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: "bad_request", Message: fmt.Sprintf(format, args...)}
}

// ControlMessage is one inbound UI operation.
type ControlMessage struct {
	Type string `json:"type"`
}

// DecodeControlMessage strictly decodes an inbound frame: unknown fields
// and unknown operations are rejected rather than ignored.
func DecodeControlMessage(data []byte) (ControlMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg ControlMessage
	if err := dec.Decode(&msg); err != nil {
		return ControlMessage{}, badRequest("malformed control message: %v", err)
	}
	if dec.More() {
		return ControlMessage{}, badRequest("trailing data after control message")
	}

	switch msg.Type {
	case OpStartCall, OpHangup, OpToggleMute:
		return msg, nil
	case "":
		return ControlMessage{}, badRequest("missing type")
	default:
		return ControlMessage{}, badRequest("unknown operation %q", msg.Type)
	}
}

// Outbound frame types.
const (
	frameStatus = "status"
	frameNotice = "notice"
)

type statusFrame struct {
	Type  string `json:"type"`
	Phase string `json:"phase"`
	call.Status
}

type noticeFrame struct {
	Type string `json:"type"`
	call.Notice
}

func encodeStatus(s call.Status) ([]byte, error) {
	return json.Marshal(statusFrame{Type: frameStatus, Phase: s.Phase.String(), Status: s})
}

func encodeNotice(n call.Notice) ([]byte, error) {
	return json.Marshal(noticeFrame{Type: frameNotice, Notice: n})
}

func encodeError(pe *ProtocolError) ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		*ProtocolError
	}{Type: "error", ProtocolError: pe})
}
