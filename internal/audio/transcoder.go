// Package audio turns text into Twilio-ready speech: 8 kHz G.711 mu-law,
// base64 encoded, cached by voice and phrase.
package audio

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/zaf/g711"
	"golang.org/x/sync/singleflight"

	"github.com/soyeahso/dialtask/internal/logging"
)

const (
	// TargetRate is the sample rate of a Twilio media stream.
	TargetRate = 8000

	// synthesisTimeout bounds a shared backend call, which no single
	// caller's context controls.
	synthesisTimeout = 30 * time.Second
)

// ErrEmptyAudio is wrapped in a SynthesisError when the backend returns no
// samples.
var ErrEmptyAudio = errors.New("audio: backend returned no samples")

// SynthesisError reports a failed text-to-speech request. It is never
// retried by the transcoder.
type SynthesisError struct {
	Voice  string
	Phrase string
	Err    error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("audio: synthesizing %q with voice %s: %v", truncate(e.Phrase, 40), e.Voice, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Speech produces 16-bit little-endian mono PCM for a phrase.
type Speech interface {
	Speak(ctx context.Context, phrase, voice string) ([]byte, error)
}

// Transcoder synthesizes phrases and converts them for the telephony leg.
// Concurrent requests for the same key share one backend call.
type Transcoder struct {
	speech Speech
	cache  Cache
	factor int
	group  singleflight.Group
	log    *logging.Logger
}

// Option configures a Transcoder.
type Option func(*Transcoder)

// WithSourceRate sets the PCM rate the speech backend produces. The
// decimation factor is the nearest whole ratio to TargetRate, so both
// 20 kHz and 24 kHz sources keep every third sample.
func WithSourceRate(hz int) Option {
	return func(t *Transcoder) {
		if f := (hz + TargetRate/2) / TargetRate; f >= 1 {
			t.factor = f
		}
	}
}

// NewTranscoder creates a Transcoder. A nil cache selects an in-process
// MemoryCache.
func NewTranscoder(speech Speech, cache Cache, log *logging.Logger, opts ...Option) *Transcoder {
	if cache == nil {
		cache = NewMemoryCache()
	}
	t := &Transcoder{
		speech: speech,
		cache:  cache,
		factor: 3,
		log:    log.Sub("audio"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Factor is the decimation factor in use.
func (t *Transcoder) Factor() int { return t.factor }

// Synthesize returns the base64 mu-law payload for phrase spoken by voice.
// Identical inputs always yield the same payload; the backend is called at
// most once per cache key.
func (t *Transcoder) Synthesize(ctx context.Context, phrase, voice string) (string, error) {
	key := CacheKey(voice, phrase)
	if payload, ok := t.lookup(ctx, key); ok {
		return payload, nil
	}

	ch := t.group.DoChan(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), synthesisTimeout)
		defer cancel()

		if payload, ok := t.lookup(ctx, key); ok {
			return payload, nil
		}

		pcm, err := t.speech.Speak(ctx, phrase, voice)
		if err != nil {
			return "", &SynthesisError{Voice: voice, Phrase: phrase, Err: err}
		}
		if len(pcm) < 2 {
			return "", &SynthesisError{Voice: voice, Phrase: phrase, Err: ErrEmptyAudio}
		}

		payload := Encode(pcm, t.factor)
		if err := t.cache.Set(ctx, key, payload); err != nil {
			t.log.Warn().Err(err).Str("key", key).Msg("audio cache write failed")
		}
		t.log.Debug().Str("key", key).Int("pcm_bytes", len(pcm)).Int("payload_bytes", len(payload)).Msg("phrase synthesized")
		return payload, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			t.log.Trace().Str("key", key).Msg("joined in-flight synthesis")
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (t *Transcoder) lookup(ctx context.Context, key string) (string, bool) {
	payload, ok, err := t.cache.Get(ctx, key)
	if err != nil {
		t.log.Warn().Err(err).Str("key", key).Msg("audio cache read failed")
		return "", false
	}
	return payload, ok
}

// CacheKey derives the content address of a (voice, phrase) pair.
func CacheKey(voice, phrase string) string {
	return "ai:audio:" + voice + ":" + Normalize(phrase)
}

// Normalize lowercases a phrase and collapses every run of characters other
// than letters, digits, '-' and '_' into a single '-'. Leading and trailing
// separators are dropped.
func Normalize(phrase string) string {
	var b strings.Builder
	b.Grow(len(phrase))
	pending := false
	for _, r := range strings.ToLower(phrase) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' {
			if pending && b.Len() > 0 {
				b.WriteByte('-')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return strings.Trim(squeezeDashes(b.String()), "-")
}

func squeezeDashes(s string) string {
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return s
}

// Encode decimates 16-bit LE PCM by factor, mu-law encodes each kept
// sample and base64 encodes the result. No anti-aliasing filter is applied.
func Encode(pcm []byte, factor int) string {
	return base64.StdEncoding.EncodeToString(EncodeUlaw(Decimate(pcm, factor)))
}

// Decimate keeps every factor-th sample of 16-bit little-endian PCM. A
// trailing odd byte is ignored.
func Decimate(pcm []byte, factor int) []int16 {
	if factor < 1 {
		factor = 1
	}
	n := len(pcm) / 2
	out := make([]int16, 0, (n+factor-1)/factor)
	for i := 0; i < n; i += factor {
		out = append(out, int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}
	return out
}

// EncodeUlaw compands linear samples to G.711 mu-law bytes.
func EncodeUlaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = g711.EncodeUlawFrame(s)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
