package calllog

import (
	"context"

	"github.com/soyeahso/dialtask/internal/hooks"
	"github.com/soyeahso/dialtask/internal/logging"
)

// RegisterLogSink writes every call log entry and status change to log.
func RegisterLogSink(m *hooks.Manager, log *logging.Logger) {
	log = log.Sub("calllog")

	m.On(hooks.EventCallLog, "zerolog", func(_ context.Context, p hooks.Payload) error {
		e := EntryFrom(p)
		log.Info().Str("call_sid", e.CallSid).Str("id", e.ID).Msg(e.Text)
		return nil
	})

	m.On(hooks.EventCallStatus, "zerolog", func(_ context.Context, p hooks.Payload) error {
		s := StatusFrom(p)
		ev := log.Info().Str("call_sid", s.CallSid).Str("status", s.Status)
		if s.From != "" {
			ev = ev.Str("from", s.From)
		}
		if s.To != "" {
			ev = ev.Str("to", s.To)
		}
		ev.Msg("call status")
		return nil
	})
}
