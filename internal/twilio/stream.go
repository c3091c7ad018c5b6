package twilio

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/dialtask/internal/call"
	"github.com/soyeahso/dialtask/internal/logging"
	"github.com/soyeahso/dialtask/internal/realtime"
)

var (
	// ErrStreamClosed is returned when writing to a stream that has shut down.
	ErrStreamClosed = errors.New("twilio: stream closed")

	// ErrNotConnected is returned for messages that precede "connected".
	ErrNotConnected = errors.New("twilio: must be connected before receiving commands")

	// ErrAlreadyConnected is returned for a second "connected" message.
	ErrAlreadyConnected = errors.New("twilio: already connected")

	// ErrAuthFailed is returned when the stream's account SID does not match.
	ErrAuthFailed = errors.New("twilio: account sid mismatch")
)

const writeTimeout = 10 * time.Second

// Agent is the realtime side of a call. *realtime.Agent satisfies it.
type Agent interface {
	Start(ctx context.Context) error
	EnqueueAudio(ulaw []byte) error
	SendFunctionResult(callID, output string) error
	Close()
}

// AgentFactory builds the realtime agent for a configured call.
type AgentFactory func(cfg realtime.Config, h realtime.Handlers) Agent

// StreamConfig is shared by every stream the gateway accepts.
type StreamConfig struct {
	// AccountSID, when set, must match the account of every stream.
	AccountSID string

	AI            call.AIConfig
	RealtimeURL   string
	RealtimeModel string
}

// StreamDeps are the collaborators handed to each call session.
type StreamDeps struct {
	Speaker  call.Speaker
	Tasks    call.TaskLister
	Tools    call.Dispatcher
	Notifier call.Notifier
	NewAgent AgentFactory
}

// Stream serves one Media Streams WebSocket connection. It turns Twilio
// messages into call session events and implements call.Outbound.
type Stream struct {
	conn *websocket.Conn
	cfg  StreamConfig
	deps StreamDeps
	log  *logging.Logger
	root *logging.Logger

	ctx       context.Context
	connected bool

	writeMu sync.Mutex
	closed  bool

	mu        sync.RWMutex
	callSid   string
	streamSid string
	session   *call.Session
	agent     Agent
}

// NewStream wraps an upgraded connection.
func NewStream(conn *websocket.Conn, cfg StreamConfig, deps StreamDeps, log *logging.Logger) *Stream {
	if deps.NewAgent == nil {
		deps.NewAgent = func(c realtime.Config, h realtime.Handlers) Agent {
			return realtime.New(c, h, log)
		}
	}
	return &Stream{
		conn: conn,
		cfg:  cfg,
		deps: deps,
		log:  log.Sub("stream"),
		root: log,
		ctx:  context.Background(),
	}
}

// CallSid returns the call identifier once the stream has started.
func (s *Stream) CallSid() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callSid
}

// StreamSid returns the stream identifier once the stream has started.
func (s *Stream) StreamSid() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamSid
}

// Serve reads messages until Twilio stops the stream, the connection drops
// or ctx is done. The call session is unsubscribed and the realtime agent
// closed before it returns.
func (s *Stream) Serve(ctx context.Context) error {
	s.ctx = ctx
	defer s.finish()

	stop := context.AfterFunc(ctx, func() {
		s.closeWith(websocket.CloseGoingAway, "server shutting down")
	})
	defer stop()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("twilio: reading stream: %w", err)
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn().Err(err).Msg("malformed stream message")
			continue
		}

		closing, err := s.handle(msg)
		if closing != nil {
			s.closeWith(closing.Code, closing.Text)
			return err
		}
		if err != nil {
			s.log.Warn().Err(err).Str("event", msg.Event).Msg("stream message failed")
		}
	}
}

// handle processes one message. A non-nil CloseError ends the stream.
func (s *Stream) handle(msg Message) (*websocket.CloseError, error) {
	switch msg.Event {
	case EventConnected:
		if s.connected {
			return &websocket.CloseError{Code: websocket.CloseProtocolError, Text: "already connected"}, ErrAlreadyConnected
		}
		s.connected = true
		s.log.Debug().Str("protocol", msg.Protocol).Str("version", msg.Version).Msg("stream connected")
		return nil, nil
	case EventStop:
		s.log.Debug().Msg("stop received, disconnecting")
		return &websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "stream stopped"}, nil
	}

	if !s.connected {
		return &websocket.CloseError{Code: websocket.CloseProtocolError, Text: "not connected"}, ErrNotConnected
	}

	switch msg.Event {
	case EventStart:
		return s.start(msg.Start)
	case EventMedia:
		return nil, s.media(msg.Media)
	case EventMark:
		if msg.Mark != nil {
			s.log.Debug().Str("mark", msg.Mark.Name).Msg("mark played")
		}
		return nil, nil
	case EventDTMF:
		if msg.DTMF == nil {
			return nil, errors.New("twilio: dtmf message without payload")
		}
		return nil, s.sessionEvent(call.DTMF{Digit: msg.DTMF.Digit})
	}
	return nil, fmt.Errorf("twilio: unknown event %q", msg.Event)
}

func (s *Stream) start(p *StartPayload) (*websocket.CloseError, error) {
	if p == nil {
		return &websocket.CloseError{Code: websocket.CloseProtocolError, Text: "malformed start"}, errors.New("twilio: start message without payload")
	}
	if s.currentSession() != nil {
		return nil, errors.New("twilio: duplicate start message")
	}

	if s.cfg.AccountSID != "" && s.cfg.AccountSID != p.AccountSID {
		s.log.Warn().Str("account_sid", maskSID(p.AccountSID)).Msg("unauthenticated stream")
		return &websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "Auth Failed"}, ErrAuthFailed
	}

	s.log = s.root.Sub("stream").ForCall(p.CallSID, p.StreamSID)
	session := call.New(
		call.Config{CallSid: p.CallSID, StreamSid: p.StreamSID, AI: s.cfg.AI},
		call.Deps{
			Out:      s,
			Speaker:  s.deps.Speaker,
			Tasks:    s.deps.Tasks,
			Tools:    s.deps.Tools,
			Notifier: s.deps.Notifier,
		},
		s.root,
	)

	s.mu.Lock()
	s.callSid = p.CallSID
	s.streamSid = p.StreamSID
	s.session = session
	s.mu.Unlock()

	s.log.Info().Msg("media stream started")
	if err := session.Handle(s.ctx, call.Subscribe{}); err != nil {
		return nil, err
	}
	return nil, session.Handle(s.ctx, call.ConfigureRequest{})
}

func (s *Stream) media(p *MediaPayload) error {
	if p == nil || p.Track == trackOutbound {
		return nil
	}
	agent := s.currentAgent()
	if agent == nil {
		return nil
	}
	audio, err := base64.StdEncoding.DecodeString(p.Payload)
	if err != nil {
		return fmt.Errorf("twilio: decoding media: %w", err)
	}
	return agent.EnqueueAudio(audio)
}

func (s *Stream) sessionEvent(ev call.Event) error {
	session := s.currentSession()
	if session == nil {
		return call.ErrNotActive
	}
	return session.Handle(s.ctx, ev)
}

func (s *Stream) currentSession() *call.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func (s *Stream) currentAgent() Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agent
}

func (s *Stream) finish() {
	if session := s.currentSession(); session != nil {
		_ = session.Handle(s.ctx, call.Unsubscribe{})
	}
	if agent := s.currentAgent(); agent != nil {
		agent.Close()
	}
	s.closeWith(websocket.CloseNormalClosure, "")
	s.log.Info().Msg("media stream stopped")
}

// Media implements call.Outbound.
func (s *Stream) Media(payload string) error {
	return s.writeJSON(mediaMessage{Event: EventMedia, StreamSID: s.StreamSid(), Media: MediaPayload{Payload: payload}})
}

// Mark implements call.Outbound.
func (s *Stream) Mark(name string) error {
	return s.writeJSON(markMessage{Event: EventMark, StreamSID: s.StreamSid(), Mark: MarkPayload{Name: name}})
}

// Clear drops audio Twilio has buffered but not yet played.
func (s *Stream) Clear() error {
	return s.writeJSON(clearMessage{Event: EventClear, StreamSID: s.StreamSid()})
}

// Control implements call.Outbound. Configuration starts the realtime
// agent; function results are forwarded to it.
func (s *Stream) Control(msg call.ControlMessage) error {
	switch msg.Event {
	case call.EventConfiguration:
		conf, ok := msg.Data.(call.Configuration)
		if !ok {
			return fmt.Errorf("twilio: unexpected configuration payload %T", msg.Data)
		}
		return s.startAgent(conf)
	case call.EventFunctionCallResult:
		agent := s.currentAgent()
		if agent == nil {
			return errors.New("twilio: function result without realtime agent")
		}
		output, err := json.Marshal(msg.Data)
		if err != nil {
			return fmt.Errorf("twilio: encoding function result: %w", err)
		}
		return agent.SendFunctionResult(msg.CallID, string(output))
	}
	return fmt.Errorf("twilio: unsupported control event %q", msg.Event)
}

func (s *Stream) startAgent(conf call.Configuration) error {
	cfg := realtime.NewConfig(conf.APIKey)
	if s.cfg.RealtimeURL != "" {
		cfg.URL = s.cfg.RealtimeURL
	}
	if s.cfg.RealtimeModel != "" {
		cfg.Model = s.cfg.RealtimeModel
	}
	if conf.Voice != "" {
		cfg.Voice = conf.Voice
	}
	cfg.Prompt = conf.Prompt
	if conf.Tools != "" {
		cfg.Tools = json.RawMessage(conf.Tools)
	}

	agent := s.deps.NewAgent(cfg, s.agentHandlers())
	if err := agent.Start(s.ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.agent = agent
	s.mu.Unlock()
	return nil
}

func (s *Stream) agentHandlers() realtime.Handlers {
	return realtime.Handlers{
		Transcript: func(role, text, id string) {
			if err := s.sessionEvent(call.Transcript{Role: role, Text: text, ID: id}); err != nil {
				s.log.Debug().Err(err).Msg("transcript dropped")
			}
		},
		Audio: func(payload, itemID string) {
			if session := s.currentSession(); session != nil {
				session.Play(s.ctx, payload, "ai-delta-"+itemID)
			}
		},
		FunctionCall: func(name, arguments, callID string) {
			err := s.sessionEvent(call.FunctionCall{Name: name, Arguments: arguments, CallID: callID})
			if err != nil {
				s.log.Warn().Err(err).Str("function", name).Msg("function call dropped")
			}
		},
		SpeechStarted: func() {
			if err := s.Clear(); err != nil {
				s.log.Debug().Err(err).Msg("clear failed")
			}
		},
	}
}

func (s *Stream) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

func (s *Stream) isClosed() bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.closed
}

// closeWith sends a close frame and closes the connection once.
func (s *Stream) closeWith(code int, text string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(time.Second))
	s.conn.Close()
}

// Close shuts the stream down from outside the read loop.
func (s *Stream) Close() {
	s.closeWith(websocket.CloseGoingAway, "server shutting down")
}

func maskSID(sid string) string {
	if len(sid) <= 5 {
		return "***"
	}
	return sid[:5] + "***"
}
