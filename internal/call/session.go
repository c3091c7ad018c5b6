// Package call implements the per-call session: it greets the caller,
// answers keypad presses, configures the realtime model and runs the
// functions it asks for. Inbound events arrive through Session.Handle;
// everything the session produces goes out through an Outbound.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"

	"github.com/soyeahso/dialtask/internal/audio"
	"github.com/soyeahso/dialtask/internal/calllog"
	"github.com/soyeahso/dialtask/internal/logging"
	"github.com/soyeahso/dialtask/internal/store"
	"github.com/soyeahso/dialtask/internal/tasks"
	"github.com/soyeahso/dialtask/internal/tools"
)

var (
	// ErrNotActive is returned for events that arrive before Subscribe or
	// after Unsubscribe.
	ErrNotActive = errors.New("call: session not active")

	// ErrAlreadySubscribed is returned for a second Subscribe.
	ErrAlreadySubscribed = errors.New("call: session already subscribed")

	// ErrMalformedArguments is returned when function-call arguments are
	// not a JSON object. Only that call is affected.
	ErrMalformedArguments = errors.New("call: malformed function arguments")
)

// Phase is the lifecycle position of a session.
type Phase int

const (
	Idle Phase = iota
	Active
	Terminated
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Terminated:
		return "terminated"
	}
	return "phase(" + strconv.Itoa(int(p)) + ")"
}

// Outbound carries what a session emits back to the bridge.
type Outbound interface {
	Media(payload string) error
	Mark(name string) error
	Control(msg ControlMessage) error
}

// Speaker turns a phrase into a media payload.
type Speaker interface {
	Synthesize(ctx context.Context, phrase, voice string) (string, error)
}

// TaskLister looks up open tasks for a keypad period.
type TaskLister interface {
	ForPeriod(ctx context.Context, p tasks.Period) ([]store.Todo, error)
}

// Dispatcher runs tool calls. *tools.Registry satisfies it.
type Dispatcher interface {
	Has(name string) bool
	Invoke(ctx context.Context, name string, args map[string]any) (tools.Result, error)
	SchemaJSON() (string, error)
}

// Notifier receives call log lines and status changes.
// *calllog.Recorder satisfies it.
type Notifier interface {
	Append(ctx context.Context, callSid, text, id string)
	Status(ctx context.Context, callSid, status string)
}

// AIConfig controls realtime tool calling.
type AIConfig struct {
	Enabled bool
	APIKey  string
	Prompt  string
}

// Config identifies the call a session serves.
type Config struct {
	CallSid   string
	StreamSid string
	AI        AIConfig
}

// Deps are the collaborators a session talks to.
type Deps struct {
	Out      Outbound
	Speaker  Speaker
	Tasks    TaskLister
	Tools    Dispatcher
	Notifier Notifier
}

// Option configures a Session.
type Option func(*Session)

// WithVoicePicker replaces the uniform random voice choice.
func WithVoicePicker(pick func() string) Option {
	return func(s *Session) { s.pickVoice = pick }
}

// Session owns one phone call. Handle is safe to call from several
// goroutines; replies are transmitted one at a time, media before mark.
type Session struct {
	cfg  Config
	deps Deps
	log  *logging.Logger

	pickVoice func() string

	// sendMu serializes transmissions and guards against sending after
	// termination. It is taken before mu.
	sendMu sync.Mutex

	mu         sync.Mutex
	phase      Phase
	voice      string
	configured bool
}

// New creates an idle session.
func New(cfg Config, deps Deps, log *logging.Logger, opts ...Option) *Session {
	s := &Session{
		cfg:       cfg,
		deps:      deps,
		log:       log.Sub("call").ForCall(cfg.CallSid, cfg.StreamSid),
		pickVoice: randomVoice,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func randomVoice() string {
	return audio.Voices[rand.IntN(len(audio.Voices))]
}

// CallSid returns the Twilio call identifier.
func (s *Session) CallSid() string { return s.cfg.CallSid }

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Voice returns the voice bound at subscription, or "" before it.
func (s *Session) Voice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice
}

// Handle dispatches one inbound event. Failures of a single reply or tool
// call are logged and do not end the session; the returned error reports
// lifecycle violations and malformed function arguments.
func (s *Session) Handle(ctx context.Context, ev Event) error {
	switch ev := ev.(type) {
	case Subscribe:
		return s.subscribe(ctx)
	case Unsubscribe:
		s.unsubscribe(ctx)
		return nil
	case nil:
		return errors.New("call: nil event")
	default:
		if s.Phase() != Active {
			return fmt.Errorf("%w: %T", ErrNotActive, ev)
		}
	}

	switch ev := ev.(type) {
	case DTMF:
		s.dtmf(ctx, ev.Digit)
	case ConfigureRequest:
		s.configure()
	case Transcript:
		s.transcript(ctx, ev)
	case FunctionCall:
		return s.functionCall(ctx, ev)
	default:
		return fmt.Errorf("call: unsupported event %T", ev)
	}
	return nil
}

func (s *Session) subscribe(ctx context.Context) error {
	s.mu.Lock()
	switch s.phase {
	case Active:
		s.mu.Unlock()
		return ErrAlreadySubscribed
	case Terminated:
		s.mu.Unlock()
		return ErrNotActive
	}
	s.phase = Active
	s.voice = s.pickVoice()
	voice := s.voice
	s.mu.Unlock()

	s.log.Info().Str("voice", voice).Msg("session active")
	s.deps.Notifier.Status(ctx, s.cfg.CallSid, calllog.StatusActive)
	s.record(ctx, "Media stream has started", "")

	s.speak(ctx, markGreeting, greeting(voice, s.cfg.AI.Enabled))
	return nil
}

func (s *Session) unsubscribe(ctx context.Context) {
	s.sendMu.Lock()
	s.mu.Lock()
	prev := s.phase
	s.phase = Terminated
	s.mu.Unlock()
	s.sendMu.Unlock()

	if prev != Active {
		return
	}
	s.record(ctx, "Media stream has stopped", "")
	s.deps.Notifier.Status(ctx, s.cfg.CallSid, calllog.StatusCompleted)
	s.log.Info().Msg("session terminated")
}

func (s *Session) dtmf(ctx context.Context, digit string) {
	s.record(ctx, "< Pressed #"+digit, "")

	n, err := strconv.Atoi(strings.TrimSpace(digit))
	if err != nil {
		return
	}
	period, ok := tasks.ForDigit(n)
	if !ok {
		return
	}

	todos, err := s.deps.Tasks.ForPeriod(ctx, period)
	if err != nil {
		s.log.Warn().Err(err).Str("period", string(period)).Msg("task lookup failed, skipping reply")
		return
	}
	s.speak(ctx, markDTMFResponse+strconv.Itoa(n), taskListing(period, todos))
}

func (s *Session) configure() {
	if !s.cfg.AI.Enabled {
		return
	}

	s.mu.Lock()
	if s.configured {
		s.mu.Unlock()
		return
	}
	s.configured = true
	voice := s.voice
	s.mu.Unlock()

	schema, err := s.deps.Tools.SchemaJSON()
	if err != nil {
		s.log.Error().Err(err).Msg("tool schema unavailable, realtime not configured")
		return
	}

	s.control(ControlMessage{
		Event: EventConfiguration,
		Data: Configuration{
			APIKey: s.cfg.AI.APIKey,
			Voice:  voice,
			Prompt: s.cfg.AI.Prompt,
			Tools:  schema,
		},
	})
}

func (s *Session) transcript(ctx context.Context, t Transcript) {
	direction := ">"
	if t.Role == "user" {
		direction = "<"
	}
	s.record(ctx, direction+" "+t.Text, t.ID)
}

func (s *Session) functionCall(ctx context.Context, fc FunctionCall) error {
	args := map[string]any{}
	if strings.TrimSpace(fc.Arguments) != "" {
		if err := json.Unmarshal([]byte(fc.Arguments), &args); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedArguments, fc.Name, err)
		}
	}

	if !s.deps.Tools.Has(fc.Name) {
		s.log.Warn().Str("function", fc.Name).Msg("ignoring call to unknown function")
		return nil
	}

	s.record(ctx, "# Invoke: "+fc.Name+"("+fc.Arguments+")", "")

	result, err := s.deps.Tools.Invoke(ctx, fc.Name, args)
	if err != nil {
		s.log.Warn().Err(err).Str("function", fc.Name).Msg("function call failed")
		result = tools.Result{"status": "failed", "message": err.Error()}
	}

	s.control(ControlMessage{Event: EventFunctionCallResult, CallID: fc.CallID, Data: result})
	return nil
}

// speak synthesizes phrase and transmits it as a media frame followed by a
// mark named mark.
func (s *Session) speak(ctx context.Context, mark, phrase string) {
	payload, err := s.deps.Speaker.Synthesize(ctx, phrase, s.Voice())
	if err != nil {
		s.log.Error().Err(err).Str("mark", mark).Msg("synthesis failed, skipping reply")
		return
	}
	s.transmit(ctx, payload, mark, "> "+phrase)
}

// Play transmits audio that is already encoded for the call, such as a
// realtime response delta, followed by mark. It is dropped once the session
// is no longer active.
func (s *Session) Play(ctx context.Context, payload, mark string) {
	s.transmit(ctx, payload, mark, "")
}

func (s *Session) transmit(ctx context.Context, payload, mark, logText string) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.Phase() != Active {
		s.log.Debug().Str("mark", mark).Msg("discarding reply for closed session")
		return
	}

	if err := s.deps.Out.Media(payload); err != nil {
		s.log.Warn().Err(err).Str("mark", mark).Msg("sending media failed")
		return
	}
	if logText != "" {
		s.record(ctx, logText, "")
	}
	if err := s.deps.Out.Mark(mark); err != nil {
		s.log.Warn().Err(err).Str("mark", mark).Msg("sending mark failed")
	}
}

func (s *Session) control(msg ControlMessage) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.Phase() != Active {
		s.log.Debug().Str("event", msg.Event).Msg("discarding control message for closed session")
		return
	}
	if err := s.deps.Out.Control(msg); err != nil {
		s.log.Warn().Err(err).Str("event", msg.Event).Msg("sending control message failed")
	}
}

func (s *Session) record(ctx context.Context, text, id string) {
	s.deps.Notifier.Append(ctx, s.cfg.CallSid, text, id)
}
