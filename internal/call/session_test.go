package call

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/soyeahso/dialtask/internal/audio"
	"github.com/soyeahso/dialtask/internal/logging"
	"github.com/soyeahso/dialtask/internal/store"
	"github.com/soyeahso/dialtask/internal/tasks"
	"github.com/soyeahso/dialtask/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trace records everything a session emits, in order, across the
// outbound channel and the notifier.
type trace struct {
	mu       sync.Mutex
	events   []string
	controls []ControlMessage
	logs     []logLine
	statuses []string
}

type logLine struct {
	text string
	id   string
}

func (t *trace) add(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, s)
}

func (t *trace) Media(payload string) error {
	t.add("media:" + payload)
	return nil
}

func (t *trace) Mark(name string) error {
	t.add("mark:" + name)
	return nil
}

func (t *trace) Control(msg ControlMessage) error {
	t.mu.Lock()
	t.controls = append(t.controls, msg)
	t.mu.Unlock()
	t.add("control:" + msg.Event)
	return nil
}

func (t *trace) Append(_ context.Context, callSid, text, id string) {
	t.mu.Lock()
	t.logs = append(t.logs, logLine{text: text, id: id})
	t.mu.Unlock()
	t.add("log:" + text)
}

func (t *trace) Status(_ context.Context, callSid, status string) {
	t.mu.Lock()
	t.statuses = append(t.statuses, status)
	t.mu.Unlock()
	t.add("status:" + status)
}

func (t *trace) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.events...)
}

func (t *trace) count(prefix string) int {
	n := 0
	for _, e := range t.snapshot() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

func (t *trace) logTexts() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.logs))
	for i, l := range t.logs {
		out[i] = l.text
	}
	return out
}

// fakeSpeaker returns "<voice>|<phrase>" as the payload.
type fakeSpeaker struct {
	err     error
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeSpeaker) Synthesize(ctx context.Context, phrase, voice string) (string, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return "", f.err
	}
	return voice + "|" + phrase, nil
}

type fakeTasks struct {
	mu    sync.Mutex
	todos map[tasks.Period][]store.Todo
	err   error
	asked []tasks.Period
}

func (f *fakeTasks) ForPeriod(_ context.Context, p tasks.Period) ([]store.Todo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, p)
	return f.todos[p], f.err
}

type fixture struct {
	session  *Session
	trace    *trace
	speaker  *fakeSpeaker
	tasks    *fakeTasks
	registry *tools.Registry
	invoked  []string
}

func newFixture(t *testing.T, ai bool) *fixture {
	t.Helper()
	f := &fixture{
		trace:    &trace{},
		speaker:  &fakeSpeaker{},
		tasks:    &fakeTasks{todos: map[tasks.Period][]store.Todo{}},
		registry: tools.NewRegistry(logging.New(nil, "silent")),
	}

	require.NoError(t, f.registry.Register(
		tools.Spec{
			Name:        "ping",
			Description: "Echo a number",
			Signature:   tools.Params(tools.Required("n", tools.Integer)),
			Handler: func(_ context.Context, args tools.Args) (tools.Result, error) {
				f.invoked = append(f.invoked, "ping")
				n, _ := args.Int("n")
				return tools.Result{"status": "ok", "n": n}, nil
			},
		},
		tools.Spec{
			Name:        "explode",
			Description: "Always fails",
			Signature:   tools.Params(),
			Handler: func(context.Context, tools.Args) (tools.Result, error) {
				f.invoked = append(f.invoked, "explode")
				return nil, errors.New("database is locked")
			},
		},
	))

	f.session = New(
		Config{
			CallSid:   "CA123",
			StreamSid: "MZ456",
			AI:        AIConfig{Enabled: ai, APIKey: "sk-test", Prompt: "Be brief."},
		},
		Deps{
			Out:      f.trace,
			Speaker:  f.speaker,
			Tasks:    f.tasks,
			Tools:    f.registry,
			Notifier: f.trace,
		},
		logging.New(nil, "silent"),
		WithVoicePicker(func() string { return "nova" }),
	)
	return f
}

func (f *fixture) handle(t *testing.T, ev Event) {
	t.Helper()
	require.NoError(t, f.session.Handle(context.Background(), ev))
}

// assertPairs checks that every media event is immediately followed by a
// mark and that no mark appears on its own.
func assertPairs(t *testing.T, events []string) {
	t.Helper()
	var outbound []string
	for _, e := range events {
		if strings.HasPrefix(e, "media:") || strings.HasPrefix(e, "mark:") {
			outbound = append(outbound, e)
		}
	}
	require.Zero(t, len(outbound)%2, "unpaired outbound events: %v", outbound)
	for i := 0; i < len(outbound); i += 2 {
		assert.True(t, strings.HasPrefix(outbound[i], "media:"), outbound[i])
		assert.True(t, strings.HasPrefix(outbound[i+1], "mark:"), outbound[i+1])
	}
}

func TestSubscribeGreetsOnce(t *testing.T) {
	f := newFixture(t, false)
	f.handle(t, Subscribe{})

	greetingText := "Hi, I'm Nova. Press 1 to check tasks for today. " +
		"Press 2 to check tasks for tomorrow. Press 3 to check tasks for this week."
	assert.Equal(t, []string{
		"status:active",
		"log:Media stream has started",
		"media:nova|" + greetingText,
		"log:> " + greetingText,
		"mark:greeting",
	}, f.trace.snapshot())
	assert.Equal(t, Active, f.session.Phase())
	assert.Equal(t, "nova", f.session.Voice())

	err := f.session.Handle(context.Background(), Subscribe{})
	assert.ErrorIs(t, err, ErrAlreadySubscribed)
	assert.Equal(t, 1, f.trace.count("mark:greeting"))
}

func TestRealtimeGreeting(t *testing.T) {
	f := newFixture(t, true)
	f.handle(t, Subscribe{})

	assert.Contains(t, f.trace.snapshot(),
		"media:nova|Hi, I'm Nova. I can tell you about your planned tasks and help to you manage them. What would you like to do?")
}

func TestRandomVoiceIsKnown(t *testing.T) {
	f := newFixture(t, false)
	s := New(Config{CallSid: "CA1"}, f.session.deps, logging.New(nil, "silent"))

	require.NoError(t, s.Handle(context.Background(), Subscribe{}))
	assert.Contains(t, audio.Voices, s.Voice())
	assert.Contains(t, f.trace.snapshot()[2], "media:"+s.Voice()+"|Hi, I'm ")
}

func TestEventsRequireActiveSession(t *testing.T) {
	events := []Event{
		DTMF{Digit: "1"},
		ConfigureRequest{},
		Transcript{Role: "user", Text: "hi"},
		FunctionCall{Name: "ping", Arguments: `{"n":1}`},
	}

	f := newFixture(t, true)
	for _, ev := range events {
		assert.ErrorIs(t, f.session.Handle(context.Background(), ev), ErrNotActive)
	}
	assert.Empty(t, f.trace.snapshot())

	f.handle(t, Subscribe{})
	f.handle(t, Unsubscribe{})
	before := len(f.trace.snapshot())
	for _, ev := range events {
		assert.ErrorIs(t, f.session.Handle(context.Background(), ev), ErrNotActive)
	}
	assert.Len(t, f.trace.snapshot(), before)
	assert.Empty(t, f.invoked)

	assert.ErrorIs(t, f.session.Handle(context.Background(), Subscribe{}), ErrNotActive)
}

func TestNilEvent(t *testing.T) {
	f := newFixture(t, false)
	assert.Error(t, f.session.Handle(context.Background(), nil))
}

func TestUnsubscribe(t *testing.T) {
	f := newFixture(t, false)
	f.handle(t, Subscribe{})
	f.handle(t, Unsubscribe{})
	f.handle(t, Unsubscribe{})

	events := f.trace.snapshot()
	assert.Equal(t, []string{"log:Media stream has stopped", "status:completed"}, events[len(events)-2:])
	assert.Equal(t, []string{"active", "completed"}, f.trace.statuses)
	assert.Equal(t, Terminated, f.session.Phase())
}

func TestUnsubscribeBeforeSubscribe(t *testing.T) {
	f := newFixture(t, false)
	f.handle(t, Unsubscribe{})

	assert.Empty(t, f.trace.snapshot())
	assert.Equal(t, Terminated, f.session.Phase())
}

func TestDTMFNoTasks(t *testing.T) {
	f := newFixture(t, false)
	f.handle(t, Subscribe{})
	f.handle(t, DTMF{Digit: "1"})

	events := f.trace.snapshot()
	assert.Equal(t, []string{
		"log:< Pressed #1",
		"media:nova|You don't have any tasks for today",
		"log:> You don't have any tasks for today",
		"mark:dtmf_response_1",
	}, events[5:])
	assert.Equal(t, []tasks.Period{tasks.Today}, f.tasks.asked)
}

func TestDTMFListsTasks(t *testing.T) {
	f := newFixture(t, false)
	f.tasks.todos[tasks.Week] = []store.Todo{
		{ID: 1, Description: "Buy milk", Deadline: time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)},
		{ID: 2, Description: "Call mom", Deadline: time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)},
	}
	f.tasks.todos[tasks.Tomorrow] = f.tasks.todos[tasks.Week][1:]

	f.handle(t, Subscribe{})
	f.handle(t, DTMF{Digit: "3"})
	f.handle(t, DTMF{Digit: "2"})

	snap := f.trace.snapshot()
	assert.Contains(t, snap, "media:nova|Here is what you have for this week:\nBuy milk,Call mom")
	assert.Contains(t, snap, "mark:dtmf_response_3")
	assert.Contains(t, snap, "media:nova|Here is what you have for tomorrow:\nCall mom")
	assert.Contains(t, snap, "mark:dtmf_response_2")
	assertPairs(t, snap)
}

func TestDTMFUnknownDigitOnlyLogs(t *testing.T) {
	for _, digit := range []string{"0", "4", "5", "6", "7", "8", "9", "*", "#", "", "12"} {
		t.Run("digit "+digit, func(t *testing.T) {
			f := newFixture(t, false)
			f.handle(t, Subscribe{})
			before := len(f.trace.snapshot())

			f.handle(t, DTMF{Digit: digit})

			assert.Equal(t, []string{"log:< Pressed #" + digit}, f.trace.snapshot()[before:])
			assert.Empty(t, f.tasks.asked)
		})
	}
}

func TestDTMFLookupFailureSkipsReply(t *testing.T) {
	f := newFixture(t, false)
	f.tasks.err = errors.New("disk I/O error")
	f.handle(t, Subscribe{})
	f.handle(t, DTMF{Digit: "1"})

	assert.Equal(t, 1, f.trace.count("media:"))
	assert.Equal(t, Active, f.session.Phase())
}

func TestSynthesisFailureSkipsReply(t *testing.T) {
	f := newFixture(t, false)
	f.speaker.err = &audio.SynthesisError{Voice: "nova", Phrase: "x", Err: errors.New("quota exceeded")}

	f.handle(t, Subscribe{})
	f.handle(t, DTMF{Digit: "1"})

	assert.Zero(t, f.trace.count("media:"))
	assert.Zero(t, f.trace.count("mark:"))
	assert.Equal(t, Active, f.session.Phase())
}

func TestConfigureDisabled(t *testing.T) {
	f := newFixture(t, false)
	f.handle(t, Subscribe{})
	f.handle(t, ConfigureRequest{})

	assert.Zero(t, f.trace.count("control:"))
}

func TestConfigureOnce(t *testing.T) {
	f := newFixture(t, true)
	f.handle(t, Subscribe{})
	f.handle(t, ConfigureRequest{})
	f.handle(t, ConfigureRequest{})

	require.Len(t, f.trace.controls, 1)
	msg := f.trace.controls[0]
	assert.Equal(t, EventConfiguration, msg.Event)

	cfg, ok := msg.Data.(Configuration)
	require.True(t, ok)
	assert.Equal(t, "sk-test", cfg.APIKey)
	assert.Equal(t, "nova", cfg.Voice)
	assert.Equal(t, "Be brief.", cfg.Prompt)

	var schema []map[string]any
	require.NoError(t, json.Unmarshal([]byte(cfg.Tools), &schema))
	require.Len(t, schema, 2)
	assert.Equal(t, "ping", schema[0]["name"])
	assert.Equal(t, "function", schema[0]["type"])
}

func TestConfigurationWireShape(t *testing.T) {
	data, err := json.Marshal(ControlMessage{
		Event: EventConfiguration,
		Data:  Configuration{APIKey: "k", Voice: "echo", Prompt: "p", Tools: "[]"},
	})
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"event":"ai.configuration","data":{"apiKey":"k","voice":"echo","prompt":"p","tools":"[]"}}`,
		string(data))
}

func TestTranscriptLogs(t *testing.T) {
	f := newFixture(t, true)
	f.handle(t, Subscribe{})
	f.handle(t, Transcript{Role: "user", Text: "What's on today?", ID: "item_1"})
	f.handle(t, Transcript{Role: "assistant", Text: "Nothing.", ID: "item_2"})

	logs := f.trace.logs[len(f.trace.logs)-2:]
	assert.Equal(t, []logLine{{"< What's on today?", "item_1"}, {"> Nothing.", "item_2"}}, logs)
	assert.Equal(t, Active, f.session.Phase())
	assert.Equal(t, "nova", f.session.Voice())
}

func TestFunctionCallInvokes(t *testing.T) {
	f := newFixture(t, true)
	f.handle(t, Subscribe{})
	f.handle(t, FunctionCall{Name: "ping", Arguments: `{"n":7}`, CallID: "call_1"})

	assert.Equal(t, []string{"ping"}, f.invoked)
	assert.Contains(t, f.trace.logTexts(), `# Invoke: ping({"n":7})`)

	require.Len(t, f.trace.controls, 1)
	msg := f.trace.controls[0]
	assert.Equal(t, EventFunctionCallResult, msg.Event)
	assert.Equal(t, "call_1", msg.CallID)
	assert.Equal(t, tools.Result{"status": "ok", "n": int64(7)}, msg.Data)
}

func TestFunctionCallUnknownName(t *testing.T) {
	for _, name := range []string{"drop_tables", "", "Ping", "ping "} {
		f := newFixture(t, true)
		f.handle(t, Subscribe{})
		f.handle(t, FunctionCall{Name: name, Arguments: `{}`, CallID: "call_x"})

		assert.Empty(t, f.invoked, name)
		assert.Zero(t, f.trace.count("control:"), name)
		assert.NotContains(t, strings.Join(f.trace.logTexts(), "\n"), "# Invoke", name)
	}
}

func TestFunctionCallMalformedArguments(t *testing.T) {
	f := newFixture(t, true)
	f.handle(t, Subscribe{})

	for _, raw := range []string{`{"n":`, `[1,2]`, `"n"`} {
		err := f.session.Handle(context.Background(), FunctionCall{Name: "ping", Arguments: raw})
		assert.ErrorIs(t, err, ErrMalformedArguments, raw)
	}
	assert.Empty(t, f.invoked)
	assert.Zero(t, f.trace.count("control:"))

	f.handle(t, FunctionCall{Name: "ping", Arguments: `{"n":1}`})
	assert.Equal(t, []string{"ping"}, f.invoked)
	assert.Equal(t, Active, f.session.Phase())
}

func TestFunctionCallFailuresBecomeResults(t *testing.T) {
	f := newFixture(t, true)
	f.handle(t, Subscribe{})
	f.handle(t, FunctionCall{Name: "explode", Arguments: ``, CallID: "c1"})
	f.handle(t, FunctionCall{Name: "ping", Arguments: `{}`, CallID: "c2"})

	require.Len(t, f.trace.controls, 2)
	assert.Equal(t, tools.Result{"status": "failed", "message": "database is locked"}, f.trace.controls[0].Data)

	res := f.trace.controls[1].Data.(tools.Result)
	assert.Equal(t, "failed", res["status"])
	assert.Contains(t, res["message"], "n")
	assert.Equal(t, []string{"explode"}, f.invoked)
}

func TestReplyAfterTerminationIsDiscarded(t *testing.T) {
	f := newFixture(t, false)
	f.handle(t, Subscribe{})

	f.speaker.entered = make(chan struct{}, 1)
	f.speaker.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- f.session.Handle(context.Background(), DTMF{Digit: "1"})
	}()

	<-f.speaker.entered
	f.handle(t, Unsubscribe{})
	close(f.speaker.gate)
	require.NoError(t, <-done)

	assert.Equal(t, 1, f.trace.count("media:"))
	assert.Zero(t, f.trace.count("mark:dtmf_response"))
}

func TestConcurrentRepliesStayPaired(t *testing.T) {
	f := newFixture(t, false)
	f.handle(t, Subscribe{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.session.Handle(context.Background(), DTMF{Digit: "1"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 21, f.trace.count("media:"))
	assertPairs(t, f.trace.snapshot())
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "active", Active.String())
	assert.Equal(t, "terminated", Terminated.String())
	assert.Equal(t, "phase(7)", Phase(7).String())
}

func TestPlay(t *testing.T) {
	f := newFixture(t, true)
	f.session.Play(context.Background(), "early", "ai-delta-x")
	assert.Empty(t, f.trace.snapshot())

	f.handle(t, Subscribe{})
	before := len(f.trace.snapshot())
	f.session.Play(context.Background(), "AAAA", "ai-delta-item_1")
	assert.Equal(t, []string{"media:AAAA", "mark:ai-delta-item_1"}, f.trace.snapshot()[before:])

	f.handle(t, Unsubscribe{})
	f.session.Play(context.Background(), "late", "ai-delta-item_2")
	assert.Zero(t, f.trace.count("media:late"))
}
