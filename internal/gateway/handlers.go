package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/soyeahso/dialtask/internal/calllog"
	"github.com/soyeahso/dialtask/internal/hooks"
	"github.com/soyeahso/dialtask/internal/twilio"
)

const maxCallRequest = 64 << 10

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Streams int    `json:"streams"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Streams: s.streams.Count()})
}

// handleStream upgrades a Twilio Media Streams connection and serves it
// until the call ends.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxStreamMessage)

	stream := twilio.NewStream(conn, s.streamCfg, s.streamDeps, s.log)
	id := s.streams.Add(stream)
	s.emit(r.Context(), hooks.EventStreamOpen, map[string]any{"conn_id": id, "remote": r.RemoteAddr})

	err = stream.Serve(r.Context())
	s.streams.Remove(id)

	closed := map[string]any{"conn_id": id, "call_sid": stream.CallSid()}
	if err != nil {
		closed["error"] = err.Error()
		s.log.Warn().Err(err).Str("call_sid", stream.CallSid()).Msg("media stream ended with error")
	}
	s.emit(context.WithoutCancel(r.Context()), hooks.EventStreamClose, closed)
}

// handleStatusCallback receives Twilio call status webhooks. A ringing
// call is answered with the stream TwiML.
func (s *Server) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	if s.validator != nil && s.webhookURL != "" {
		params := make(map[string]string, len(r.PostForm))
		for k, v := range r.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		if !s.validator.Validate(s.webhookURL, params, r.Header.Get("X-Twilio-Signature")) {
			s.log.Warn().Str("remote", r.RemoteAddr).Msg("status callback with bad signature")
			writeError(w, http.StatusForbidden, "invalid signature")
			return
		}
	}

	st := calllog.Status{
		CallSid: r.PostForm.Get("CallSid"),
		Status:  r.PostForm.Get("CallStatus"),
		From:    r.PostForm.Get("From"),
		To:      r.PostForm.Get("To"),
	}
	if st.CallSid == "" {
		writeError(w, http.StatusBadRequest, "CallSid is required")
		return
	}

	s.log.Info().
		Str("call_sid", st.CallSid).
		Str("status", st.Status).
		Str("from", st.From).
		Str("to", st.To).
		Msg("call status")
	if s.status != nil {
		s.status.Broadcast(r.Context(), st)
	}

	if st.Status == "ringing" && s.caller != nil {
		doc, err := s.caller.StreamTwiML("")
		if err != nil {
			s.log.Error().Err(err).Msg("rendering answer twiml failed")
			writeError(w, http.StatusInternalServerError, "twiml unavailable")
			return
		}
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(doc))
		return
	}
	w.WriteHeader(http.StatusOK)
}

type createCallRequest struct {
	To     string `json:"to"`
	Phrase string `json:"phrase,omitempty"`
}

type createCallResponse struct {
	Sid string `json:"sid"`
}

// handleCreateCall places an outbound call. It requires the gateway bearer
// token; repeated failures from one host are throttled.
func (s *Server) handleCreateCall(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Token == "" {
		writeError(w, http.StatusForbidden, "calls API disabled: no gateway token configured")
		return
	}
	if s.authFailures.Blocked(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("too many failed auth attempts")
		writeError(w, http.StatusTooManyRequests, "too many failed attempts")
		return
	}
	if res := AuthorizeBearer(s.cfg.Token, r); !res.OK {
		s.authFailures.Allow(r.RemoteAddr)
		s.log.Warn().Str("remote", r.RemoteAddr).Str("reason", res.Reason).Msg("unauthorized call request")
		writeError(w, http.StatusUnauthorized, res.Reason)
		return
	}
	if s.caller == nil {
		writeError(w, http.StatusServiceUnavailable, "outbound calls not configured")
		return
	}

	var req createCallRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCallRequest)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.To = strings.TrimSpace(req.To)
	if req.To == "" {
		writeError(w, http.StatusBadRequest, "to is required")
		return
	}

	sid, err := s.caller.MakeCall(r.Context(), req.To, req.Phrase)
	switch {
	case errors.Is(err, twilio.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.log.Error().Err(err).Str("to", req.To).Msg("placing call failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, createCallResponse{Sid: sid})
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
