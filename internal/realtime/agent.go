// Package realtime connects a phone call to the OpenAI Realtime API over a
// WebSocket. Caller audio is forwarded in batches; synthesized audio,
// transcripts and function calls come back through Handlers.
package realtime

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/dialtask/internal/logging"
	"github.com/soyeahso/dialtask/internal/version"
)

const (
	DefaultURL   = "wss://api.openai.com/v1/realtime"
	DefaultModel = "gpt-4o-realtime-preview-2024-10-01"
	DefaultVoice = "alloy"

	// One 20 ms mu-law packet is 160 bytes; 320*15 buffers roughly 300 ms
	// of caller audio per append.
	bytesPerFlush = 320 * 15

	sendQueueSize = 128
)

// ErrClosed is returned when sending on a closed agent.
var ErrClosed = errors.New("realtime: agent closed")

// Config describes one realtime session.
type Config struct {
	URL    string
	APIKey string
	Model  string
	Voice  string
	Prompt string

	// Tools is the serialized tool schema, passed through as is.
	Tools json.RawMessage

	HandshakeTimeout time.Duration
}

// NewConfig returns a Config with the default endpoint, model and voice.
func NewConfig(apiKey string) Config {
	return Config{
		URL:              DefaultURL,
		APIKey:           apiKey,
		Model:            DefaultModel,
		Voice:            DefaultVoice,
		HandshakeTimeout: 10 * time.Second,
	}
}

// Handlers receive server events. They run on the agent's read goroutine,
// one at a time. Nil handlers are skipped.
type Handlers struct {
	Transcript    func(role, text, id string)
	Audio         func(payload, itemID string)
	FunctionCall  func(name, arguments, callID string)
	SpeechStarted func()
}

// Agent is one realtime WebSocket session.
type Agent struct {
	cfg      Config
	handlers Handlers
	log      *logging.Logger

	bufMu sync.Mutex
	buf   bytes.Buffer

	connMu sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc

	sendCh chan []byte
	// writeDone is closed once the write loop has exited.
	writeDone chan struct{}
	done      chan struct{}
}

// New creates an agent. Start connects it.
func New(cfg Config, h Handlers, log *logging.Logger) *Agent {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	return &Agent{
		cfg:       cfg,
		handlers:  h,
		log:       log.Sub("realtime"),
		sendCh:    make(chan []byte, sendQueueSize),
		writeDone: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (a *Agent) endpoint() (string, error) {
	u, err := url.Parse(a.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("realtime: parsing url: %w", err)
	}
	q := u.Query()
	q.Set("model", a.cfg.Model)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Start dials the realtime endpoint, sends the session configuration and
// starts the read and write loops. The loops stop when ctx is done, the
// server goes away or Close is called.
func (a *Agent) Start(ctx context.Context) error {
	endpoint, err := a.endpoint()
	if err != nil {
		return err
	}

	header := http.Header{
		"Authorization": []string{"Bearer " + a.cfg.APIKey},
		"OpenAI-Beta":   []string{"realtime=v1"},
		"User-Agent":    []string{version.UserAgent()},
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: a.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("realtime: dial %s: %w (status %d)", a.cfg.URL, err, resp.StatusCode)
		}
		return fmt.Errorf("realtime: dial %s: %w", a.cfg.URL, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	a.connMu.Lock()
	a.conn = conn
	a.cancel = cancel
	a.connMu.Unlock()

	a.log.Debug().Str("model", a.cfg.Model).Str("voice", a.cfg.Voice).Msg("connected to realtime API")

	if err := a.send(a.sessionUpdate()); err != nil {
		a.Close()
		return err
	}

	go a.writeLoop(loopCtx)
	go a.readLoop(loopCtx)
	return nil
}

func (a *Agent) sessionUpdate() sessionUpdate {
	body := sessionBody{
		Modalities:              []string{"text", "audio"},
		Voice:                   a.cfg.Voice,
		Instructions:            a.cfg.Prompt,
		InputAudioFormat:        "g711_ulaw",
		OutputAudioFormat:       "g711_ulaw",
		InputAudioTranscription: transcriptionOpts{Model: "whisper-1"},
		TurnDetection:           turnDetection{Type: "server_vad"},
	}
	if len(a.cfg.Tools) > 0 {
		body.Tools = a.cfg.Tools
		body.ToolChoice = "auto"
	}
	return sessionUpdate{Type: "session.update", Session: body}
}

// EnqueueAudio buffers caller mu-law audio and appends it to the input
// buffer once more than bytesPerFlush bytes are pending.
func (a *Agent) EnqueueAudio(ulaw []byte) error {
	a.bufMu.Lock()
	defer a.bufMu.Unlock()

	a.buf.Write(ulaw)
	if a.buf.Len() <= bytesPerFlush {
		return nil
	}

	msg := audioAppend{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(a.buf.Bytes()),
	}
	a.buf.Reset()
	if err := a.send(msg); err != nil {
		return fmt.Errorf("realtime: sending audio: %w", err)
	}
	return nil
}

// SendFunctionResult returns a function result to the model and asks it to
// continue the response.
func (a *Agent) SendFunctionResult(callID, output string) error {
	err := a.send(itemCreate{
		Type: "conversation.item.create",
		Item: functionOutput{Type: "function_call_output", CallID: callID, Output: output},
	})
	if err != nil {
		return err
	}
	return a.send(responseCreate{Type: "response.create"})
}

// Done is closed once the read loop has exited.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// Close stops the loops and closes the connection. It is safe to call more
// than once.
func (a *Agent) Close() {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *Agent) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: encoding message: %w", err)
	}
	select {
	case <-a.done:
		return ErrClosed
	case <-a.writeDone:
		return ErrClosed
	default:
	}
	select {
	case a.sendCh <- data:
		return nil
	case <-a.done:
		return ErrClosed
	case <-a.writeDone:
		return ErrClosed
	}
}

func (a *Agent) writeLoop(ctx context.Context) {
	defer close(a.writeDone)
	for {
		select {
		case msg := <-a.sendCh:
			if err := a.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				a.log.Warn().Err(err).Msg("realtime write failed")
				a.conn.Close()
				return
			}
		case <-ctx.Done():
			_ = a.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			a.conn.Close()
			return
		}
	}
}

func (a *Agent) readLoop(ctx context.Context) {
	defer close(a.done)
	defer a.Close()

	for {
		_, data, err := a.conn.ReadMessage()
		if err != nil {
			switch {
			case ctx.Err() != nil:
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				a.log.Debug().Msg("realtime connection closed by server")
			default:
				a.log.Warn().Err(err).Msg("realtime read failed")
			}
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			a.log.Warn().Err(err).Msg("malformed realtime event")
			continue
		}
		a.dispatch(ev)
	}
}

func (a *Agent) dispatch(ev serverEvent) {
	h := a.handlers
	switch ev.Type {
	case typeSessionCreated, typeSessionUpdated:
		a.log.Debug().Str("type", ev.Type).Msg("realtime session ready")
	case typeError:
		if ev.Error != nil {
			a.log.Error().Str("code", ev.Error.Code).Str("kind", ev.Error.Type).Msg(ev.Error.Message)
		}
	case typeSpeechStarted:
		if h.SpeechStarted != nil {
			h.SpeechStarted()
		}
	case typeUserTranscriptDone:
		if ev.Transcript != "" && h.Transcript != nil {
			h.Transcript("user", ev.Transcript, ev.ItemID)
		}
	case typeAssistantTranscriptDone:
		if ev.Transcript != "" && h.Transcript != nil {
			h.Transcript("assistant", ev.Transcript, ev.ItemID)
		}
	case typeAudioDelta:
		if ev.Delta != "" && h.Audio != nil {
			h.Audio(ev.Delta, ev.ItemID)
		}
	case typeFunctionArgumentsDone:
		if h.FunctionCall != nil {
			h.FunctionCall(ev.Name, ev.Arguments, ev.CallID)
		}
	default:
		a.log.Trace().Str("type", ev.Type).Msg("ignored realtime event")
	}
}
