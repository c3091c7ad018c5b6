package audio

import (
	"context"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// Voices are the synthesis voices a call may be assigned.
var Voices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

// OpenAISpeech calls the OpenAI speech endpoint for raw 24 kHz PCM.
type OpenAISpeech struct {
	client *openai.Client
	model  openai.SpeechModel
}

// OpenAIOptions configures the speech client.
type OpenAIOptions struct {
	APIKey         string
	OrganizationID string
	Model          string // defaults to tts-1
	BaseURL        string // override for proxies and tests
}

// NewOpenAISpeech creates a speech backend.
func NewOpenAISpeech(opts OpenAIOptions) *OpenAISpeech {
	cfg := openai.DefaultConfig(opts.APIKey)
	cfg.OrgID = opts.OrganizationID
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	model := openai.TTSModel1
	if opts.Model != "" {
		model = openai.SpeechModel(opts.Model)
	}
	return &OpenAISpeech{client: openai.NewClientWithConfig(cfg), model: model}
}

// Speak implements Speech.
func (s *OpenAISpeech) Speak(ctx context.Context, phrase, voice string) ([]byte, error) {
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          s.model,
		Input:          phrase,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Close()

	pcm, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("reading speech body: %w", err)
	}
	return pcm, nil
}
