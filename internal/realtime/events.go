package realtime

import "encoding/json"

// Server event types the agent acts on. Everything else is logged at
// trace level and dropped.
const (
	typeError                   = "error"
	typeSessionCreated          = "session.created"
	typeSessionUpdated          = "session.updated"
	typeSpeechStarted           = "input_audio_buffer.speech_started"
	typeUserTranscriptDone      = "conversation.item.input_audio_transcription.completed"
	typeAudioDelta              = "response.audio.delta"
	typeAssistantTranscriptDone = "response.audio_transcript.done"
	typeFunctionArgumentsDone   = "response.function_call_arguments.done"
)

// serverEvent is the union of the fields used from server events.
type serverEvent struct {
	Type       string       `json:"type"`
	ItemID     string       `json:"item_id"`
	Delta      string       `json:"delta"`
	Transcript string       `json:"transcript"`
	Name       string       `json:"name"`
	CallID     string       `json:"call_id"`
	Arguments  string       `json:"arguments"`
	Error      *serverError `json:"error,omitempty"`
}

type serverError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type sessionUpdate struct {
	Type    string      `json:"type"`
	Session sessionBody `json:"session"`
}

type sessionBody struct {
	Modalities              []string          `json:"modalities"`
	Voice                   string            `json:"voice,omitempty"`
	Instructions            string            `json:"instructions,omitempty"`
	InputAudioFormat        string            `json:"input_audio_format"`
	OutputAudioFormat       string            `json:"output_audio_format"`
	InputAudioTranscription transcriptionOpts `json:"input_audio_transcription"`
	TurnDetection           turnDetection     `json:"turn_detection"`
	Tools                   json.RawMessage   `json:"tools,omitempty"`
	ToolChoice              string            `json:"tool_choice,omitempty"`
}

type transcriptionOpts struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type itemCreate struct {
	Type string         `json:"type"`
	Item functionOutput `json:"item"`
}

type functionOutput struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

type responseCreate struct {
	Type string `json:"type"`
}
