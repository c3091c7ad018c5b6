package audio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAISpeech(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/speech", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "org-1", r.Header.Get("OpenAI-Organization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(pcm16(1, 2, 3))
	}))
	defer ts.Close()

	speech := NewOpenAISpeech(OpenAIOptions{
		APIKey:         "sk-test",
		OrganizationID: "org-1",
		BaseURL:        ts.URL + "/v1",
	})

	pcm, err := speech.Speak(context.Background(), "Hello", "onyx")
	require.NoError(t, err)
	assert.Equal(t, pcm16(1, 2, 3), pcm)

	assert.Equal(t, "tts-1", got["model"])
	assert.Equal(t, "Hello", got["input"])
	assert.Equal(t, "onyx", got["voice"])
	assert.Equal(t, "pcm", got["response_format"])
}

func TestOpenAISpeechError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer ts.Close()

	speech := NewOpenAISpeech(OpenAIOptions{APIKey: "nope", BaseURL: ts.URL + "/v1"})
	tr := newTranscoder(speech, nil)

	_, err := tr.Synthesize(context.Background(), "Hello", "onyx")
	var se *SynthesisError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, err.Error(), "bad key")
}

func TestVoicesAreKnownToBackend(t *testing.T) {
	assert.Equal(t, []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}, Voices)
}
