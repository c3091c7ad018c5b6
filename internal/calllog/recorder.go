// Package calllog records per-call log lines and status changes and fans
// them out to sinks through the hook manager.
package calllog

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/soyeahso/dialtask/internal/hooks"
)

// Call statuses broadcast by sessions. Twilio webhook statuses
// (ringing, busy, no-answer, ...) pass through unchanged.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
)

// Entry is one appended log line.
type Entry struct {
	CallSid string
	ID      string
	Text    string
}

// Status is one call status change.
type Status struct {
	CallSid string
	Status  string
	From    string
	To      string
}

// Recorder emits call log entries and status changes as hook events.
type Recorder struct {
	hooks *hooks.Manager
	newID func() string
}

// NewRecorder creates a Recorder that emits on m.
func NewRecorder(m *hooks.Manager) *Recorder {
	return &Recorder{hooks: m, newID: shortID}
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Append records text for callSid. An empty id gets a random one.
func (r *Recorder) Append(ctx context.Context, callSid, text, id string) {
	if id == "" {
		id = r.newID()
	}
	r.hooks.Emit(ctx, hooks.EventCallLog, map[string]any{
		"call_sid": callSid,
		"id":       id,
		"text":     text,
	})
}

// Status broadcasts a status change for callSid.
func (r *Recorder) Status(ctx context.Context, callSid, status string) {
	r.Broadcast(ctx, Status{CallSid: callSid, Status: status})
}

// Broadcast emits a full status record, as received from the Twilio
// status webhook.
func (r *Recorder) Broadcast(ctx context.Context, s Status) {
	r.hooks.Emit(ctx, hooks.EventCallStatus, map[string]any{
		"call_sid": s.CallSid,
		"status":   s.Status,
		"from":     s.From,
		"to":       s.To,
	})
}

// EntryFrom decodes a call.log payload.
func EntryFrom(p hooks.Payload) Entry {
	return Entry{CallSid: p.String("call_sid"), ID: p.String("id"), Text: p.String("text")}
}

// StatusFrom decodes a call.status payload.
func StatusFrom(p hooks.Payload) Status {
	return Status{
		CallSid: p.String("call_sid"),
		Status:  p.String("status"),
		From:    p.String("from"),
		To:      p.String("to"),
	}
}
