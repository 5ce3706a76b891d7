// Package proto defines the envelope exchanged between participants of the messaging fabric.
package proto

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type MsgType string

const (
	MsgTypeStartProcessing     MsgType = "start_application_processing"
	MsgTypeApplicationResult   MsgType = "application_result"
	MsgTypeToolExecRequest     MsgType = "tool_execution_request"
	MsgTypeToolExecResponse    MsgType = "tool_execution_response"
	MsgTypeHumanReviewRequired MsgType = "human_review_required"
	MsgTypeStatusUpdate        MsgType = "status_update"
	MsgTypeError               MsgType = "error"
)

// AllMsgTypes lists every message type in declaration order.
var AllMsgTypes = []MsgType{
	MsgTypeStartProcessing,
	MsgTypeApplicationResult,
	MsgTypeToolExecRequest,
	MsgTypeToolExecResponse,
	MsgTypeHumanReviewRequired,
	MsgTypeStatusUpdate,
	MsgTypeError,
}

// Envelope is a stamped message unit. ExtraContext is carried for bookkeeping only.
type Envelope struct {
	ID            string            `json:"message_id"`
	Type          MsgType           `json:"message_type"`
	Sender        string            `json:"sender"`
	Receiver      string            `json:"receiver"`
	ApplicationID string            `json:"application_id"`
	Timestamp     time.Time         `json:"timestamp"`
	Payload       map[string]any    `json:"payload"`
	InReplyTo     string            `json:"in_reply_to,omitempty"`
	ExtraContext  map[string]string `json:"extra_context,omitempty"`
}

func NewEnvelope(msgType MsgType, sender, receiver, applicationID string) *Envelope {
	return &Envelope{
		ID:            NewID(),
		Type:          msgType,
		Sender:        sender,
		Receiver:      receiver,
		ApplicationID: applicationID,
		Timestamp:     time.Now().UTC(),
		Payload:       make(map[string]any),
	}
}

// NewID returns a fresh message identifier.
func NewID() string {
	return uuid.NewString()
}

// Reply builds an envelope addressed back to the sender of env.
func (e *Envelope) Reply(msgType MsgType, sender string) *Envelope {
	reply := NewEnvelope(msgType, sender, e.Sender, e.ApplicationID)
	reply.InReplyTo = e.ID
	return reply
}

// Stamp fills the id and timestamp when absent.
func (e *Envelope) Stamp() {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
}

func (e *Envelope) SetPayload(key string, value any) {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
}

func (e *Envelope) GetPayload(key string) (any, bool) {
	if e.Payload == nil {
		return nil, false
	}
	val, ok := e.Payload[key]
	return val, ok
}

// GetString returns a payload value as a string, or "" when absent or mistyped.
func (e *Envelope) GetString(key string) string {
	v, ok := e.GetPayload(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (e *Envelope) SetExtra(key, value string) {
	if e.ExtraContext == nil {
		e.ExtraContext = make(map[string]string)
	}
	e.ExtraContext[key] = value
}

func (e *Envelope) Clone() *Envelope {
	clone := *e
	if e.Payload != nil {
		clone.Payload = make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			clone.Payload[k] = v
		}
	}
	if e.ExtraContext != nil {
		clone.ExtraContext = make(map[string]string, len(e.ExtraContext))
		for k, v := range e.ExtraContext {
			clone.ExtraContext[k] = v
		}
	}
	return &clone
}

func (e *Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("message_id is required")
	}
	if e.Sender == "" {
		return fmt.Errorf("sender is required")
	}
	if e.Receiver == "" {
		return fmt.Errorf("receiver is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if _, ok := ValidateMsgType(string(e.Type)); !ok {
		return fmt.Errorf("invalid message type: %q", e.Type)
	}
	return nil
}

func (e *Envelope) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func FromJSON(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return &env, nil
}

func ValidateMsgType(s string) (MsgType, bool) {
	for _, mt := range AllMsgTypes {
		if string(mt) == s {
			return mt, true
		}
	}
	return "", false
}

// ParseMsgType accepts the canonical lowercase form as well as upper-case constant spellings.
func ParseMsgType(s string) (MsgType, error) {
	if mt, ok := ValidateMsgType(strings.ToLower(strings.TrimSpace(s))); ok {
		return mt, nil
	}
	return "", fmt.Errorf("unknown message type: %s", s)
}

func (mt MsgType) String() string {
	return string(mt)
}
