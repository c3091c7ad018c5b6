package twilio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/soyeahso/dialtask/internal/config"
	"github.com/soyeahso/dialtask/internal/logging"
	twilioapi "github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"
)

// ErrNotConfigured is returned by MakeCall when credentials or numbers are
// missing.
var ErrNotConfigured = errors.New("twilio: not configured")

const (
	// CallTimeout is how long Twilio lets an outbound call ring, in seconds.
	CallTimeout = 60

	fallbackMessage = "I'm sorry, I cannot connect you at this time."
)

// callCreator is the slice of the REST API used here.
type callCreator interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

// Service places outbound calls and renders the TwiML that connects a call
// to the media stream endpoint.
type Service struct {
	cfg   config.TwilioConfig
	calls callCreator
	log   *logging.Logger
}

// NewService creates a Service. The REST client is only built when
// credentials are present.
func NewService(cfg config.TwilioConfig, log *logging.Logger) *Service {
	s := &Service{cfg: cfg, log: log.Sub("twilio")}
	if cfg.AccountSID != "" && cfg.AuthToken != "" {
		client := twilioapi.NewRestClientWithParams(twilioapi.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		})
		s.calls = client.Api
	}
	return s
}

// StreamTwiML returns a <Response> that optionally says phrase, connects
// the call to the stream callback and apologizes if the stream ends.
func (s *Service) StreamTwiML(phrase string) (string, error) {
	var verbs []twiml.Element
	if phrase != "" {
		verbs = append(verbs, &twiml.VoiceSay{Message: phrase})
	}
	verbs = append(verbs,
		&twiml.VoiceConnect{
			InnerElements: []twiml.Element{&twiml.VoiceStream{Url: s.cfg.StreamCallback}},
		},
		&twiml.VoiceSay{Message: fallbackMessage},
	)

	doc, err := twiml.Voice(verbs)
	if err != nil {
		return "", fmt.Errorf("twilio: rendering twiml: %w", err)
	}
	return doc, nil
}

// MakeCall dials to from the configured number and bridges the answered
// call into the media stream. It returns the call SID.
func (s *Service) MakeCall(ctx context.Context, to, phrase string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if missing := s.missing(); len(missing) > 0 {
		return "", fmt.Errorf("%w: missing %s", ErrNotConfigured, strings.Join(missing, ", "))
	}
	if to == "" {
		return "", errors.New("twilio: destination number is required")
	}

	doc, err := s.StreamTwiML(phrase)
	if err != nil {
		return "", err
	}

	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(s.cfg.PhoneNumber)
	params.SetTwiml(doc)
	params.SetTimeout(CallTimeout)
	if s.cfg.StatusCallback != "" {
		params.SetStatusCallback(s.cfg.StatusCallback)
		params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	}

	resp, err := s.calls.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("twilio: creating call: %w", err)
	}
	if resp == nil || resp.Sid == nil {
		return "", errors.New("twilio: create call returned no sid")
	}

	s.log.Info().Str("to", to).Str("call_sid", *resp.Sid).Msg("outbound call placed")
	return *resp.Sid, nil
}

func (s *Service) missing() []string {
	var out []string
	if s.calls == nil {
		out = append(out, "accountSid/authToken")
	}
	if s.cfg.PhoneNumber == "" {
		out = append(out, "phoneNumber")
	}
	if s.cfg.StreamCallback == "" {
		out = append(out, "streamCallback")
	}
	return out
}
