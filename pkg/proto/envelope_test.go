package proto

import (
	"strings"
	"testing"
	"time"
)

func TestNewEnvelope(t *testing.T) {
	env := NewEnvelope(MsgTypeStartProcessing, "DirectClient", "InsuranceOrchestrator", "APP_0000BEEF")

	if env.ID == "" {
		t.Error("Expected non-empty ID")
	}
	if env.Timestamp.IsZero() {
		t.Error("Expected non-zero timestamp")
	}
	if env.Payload == nil {
		t.Error("Expected initialized payload map")
	}
	if err := env.Validate(); err != nil {
		t.Errorf("Expected valid envelope, got %v", err)
	}
}

func TestStampFillsMissingFields(t *testing.T) {
	env := &Envelope{Type: MsgTypeStatusUpdate, Sender: "a", Receiver: "b"}
	env.Stamp()

	if env.ID == "" || env.Timestamp.IsZero() || env.Payload == nil {
		t.Errorf("Expected stamped envelope, got %+v", env)
	}

	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	kept := &Envelope{ID: "keep", Timestamp: fixed}
	kept.Stamp()
	if kept.ID != "keep" || !kept.Timestamp.Equal(fixed) {
		t.Errorf("Expected existing id and timestamp kept, got %+v", kept)
	}
}

func TestReply(t *testing.T) {
	req := NewEnvelope(MsgTypeToolExecRequest, "client", "InsuranceOrchestrator", "APP_1")
	reply := req.Reply(MsgTypeToolExecResponse, "InsuranceOrchestrator")

	if reply.Receiver != "client" || reply.Sender != "InsuranceOrchestrator" {
		t.Errorf("Unexpected routing: %s -> %s", reply.Sender, reply.Receiver)
	}
	if reply.InReplyTo != req.ID {
		t.Errorf("Expected in_reply_to %s, got %s", req.ID, reply.InReplyTo)
	}
	if reply.ApplicationID != "APP_1" {
		t.Errorf("Expected application id carried, got %s", reply.ApplicationID)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Envelope)
		wantErr string
	}{
		{"missing id", func(e *Envelope) { e.ID = "" }, "message_id"},
		{"missing sender", func(e *Envelope) { e.Sender = "" }, "sender"},
		{"missing receiver", func(e *Envelope) { e.Receiver = "" }, "receiver"},
		{"zero timestamp", func(e *Envelope) { e.Timestamp = time.Time{} }, "timestamp"},
		{"bad type", func(e *Envelope) { e.Type = "bogus" }, "invalid message type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := NewEnvelope(MsgTypeError, "a", "b", "")
			tt.mutate(env)
			err := env.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	env := NewEnvelope(MsgTypeStatusUpdate, "a", "b", "APP_1")
	env.SetPayload("step", 1)
	env.SetExtra("trace", "x")

	clone := env.Clone()
	clone.SetPayload("step", 2)
	clone.SetExtra("trace", "y")

	if v, _ := env.GetPayload("step"); v != 1 {
		t.Errorf("Expected original payload untouched, got %v", v)
	}
	if env.ExtraContext["trace"] != "x" {
		t.Errorf("Expected original extra context untouched, got %s", env.ExtraContext["trace"])
	}
}

func TestJSONRoundTrip(t *testing.T) {
	env := NewEnvelope(MsgTypeHumanReviewRequired, "InsuranceOrchestrator", "client", "APP_2")
	env.SetPayload(KeyApplicationID, "APP_2")
	env.InReplyTo = "parent"

	data, err := env.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}
	if !strings.Contains(string(data), `"message_type":"human_review_required"`) {
		t.Errorf("Unexpected wire form: %s", data)
	}

	restored, err := FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON failed: %v", err)
	}
	if restored.ID != env.ID || restored.Type != env.Type || restored.InReplyTo != "parent" {
		t.Errorf("Round trip mismatch: %+v", restored)
	}
	if restored.GetString(KeyApplicationID) != "APP_2" {
		t.Errorf("Expected payload preserved, got %v", restored.Payload)
	}

	if _, err := FromJSON([]byte("{not json")); err == nil {
		t.Error("Expected error for malformed JSON")
	}
}

func TestParseMsgType(t *testing.T) {
	for _, mt := range AllMsgTypes {
		got, err := ParseMsgType(strings.ToUpper(string(mt)))
		if err != nil || got != mt {
			t.Errorf("ParseMsgType(%q) = %q, %v", strings.ToUpper(string(mt)), got, err)
		}
	}
	if _, err := ParseMsgType("STORY"); err == nil {
		t.Error("Expected error for unknown type")
	}
}

func TestTypedPayloads(t *testing.T) {
	env := NewEnvelope(MsgTypeStartProcessing, "DirectClient", "InsuranceOrchestrator", "APP_3")
	env.Payload = MustEncodePayload(StartProcessing{
		CustomerID:   "CUST-1",
		PersonalInfo: map[string]any{"state": "CA"},
		CarImageRefs: []string{"gs://bucket/car.jpg"},
	})

	got, err := DecodePayload[StartProcessing](env)
	if err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if got.CustomerID != "CUST-1" || got.PersonalInfo["state"] != "CA" || len(got.CarImageRefs) != 1 {
		t.Errorf("Unexpected decode: %+v", got)
	}
	if got.DocumentRefs != nil {
		t.Errorf("Expected nil document refs, got %v", got.DocumentRefs)
	}

	env.Payload = map[string]any{"customer_id": 42}
	if _, err := DecodePayload[StartProcessing](env); err == nil {
		t.Error("Expected error for mistyped customer_id")
	}

	if _, err := DecodePayload[StartProcessing](nil); err == nil {
		t.Error("Expected error for nil envelope")
	}
}
