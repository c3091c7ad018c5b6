package call

// Event is an inbound event for a Session. The set is closed: Subscribe,
// DTMF, ConfigureRequest, Transcript, FunctionCall and Unsubscribe.
type Event interface {
	event()
}

// Subscribe opens the session once the media stream has started.
type Subscribe struct{}

// DTMF is a keypad press. Digit is the raw value reported by Twilio.
type DTMF struct {
	Digit string
}

// ConfigureRequest asks for the realtime configuration.
type ConfigureRequest struct{}

// Transcript is a finished utterance from either side of the call.
type Transcript struct {
	Role string // "user" or "assistant"
	Text string
	ID   string
}

// FunctionCall is a tool invocation requested by the realtime model.
type FunctionCall struct {
	Name      string
	Arguments string // JSON object
	CallID    string
}

// Unsubscribe closes the session.
type Unsubscribe struct{}

func (Subscribe) event()        {}
func (DTMF) event()             {}
func (ConfigureRequest) event() {}
func (Transcript) event()       {}
func (FunctionCall) event()     {}
func (Unsubscribe) event()      {}

// Control-plane event names.
const (
	EventConfiguration      = "ai.configuration"
	EventFunctionCallResult = "ai.function_call_result"
)

// ControlMessage travels on the AI control channel rather than the media
// stream. CallID links a function result to its request.
type ControlMessage struct {
	Event  string `json:"event"`
	CallID string `json:"callId,omitempty"`
	Data   any    `json:"data"`
}

// Configuration is the data of an ai.configuration message. Tools holds the
// serialized tool schema.
type Configuration struct {
	APIKey string `json:"apiKey"`
	Voice  string `json:"voice"`
	Prompt string `json:"prompt"`
	Tools  string `json:"tools"`
}
