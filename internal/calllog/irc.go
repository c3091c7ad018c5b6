package calllog

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/lrstanley/girc"
	"github.com/soyeahso/dialtask/internal/config"
	"github.com/soyeahso/dialtask/internal/hooks"
	"github.com/soyeahso/dialtask/internal/logging"
	"github.com/soyeahso/dialtask/internal/version"
)

// ErrNotConnected is returned when a line is mirrored before the IRC
// connection is up.
var ErrNotConnected = errors.New("calllog: irc not connected")

// maxLineLen keeps PRIVMSG lines under the 512 byte protocol limit.
const maxLineLen = 400

// IRCSink mirrors call logs into a single IRC channel.
type IRCSink struct {
	cfg    config.IRCConfig
	client *girc.Client
	log    *logging.Logger

	mu        sync.Mutex
	send      func(target, text string)
	connected func() bool
}

// NewIRCSink creates a sink from configuration. Start connects it.
func NewIRCSink(cfg config.IRCConfig, log *logging.Logger) *IRCSink {
	s := &IRCSink{cfg: cfg, log: log.Sub("calllog.irc")}

	gcfg := girc.Config{
		Server:  cfg.Server,
		Port:    cfg.Port,
		Nick:    cfg.Nick,
		User:    cfg.Nick,
		Name:    "dialtask call log",
		SSL:     cfg.UseTLS,
		Version: version.UserAgent(),
	}
	if cfg.UseTLS {
		gcfg.TLSConfig = &tls.Config{ServerName: cfg.Server}
	}
	if cfg.Password != "" {
		gcfg.ServerPass = cfg.Password
	}

	s.client = girc.New(gcfg)
	s.client.Handlers.Add(girc.CONNECTED, func(c *girc.Client, _ girc.Event) {
		s.log.Info().Str("nick", c.GetNick()).Str("channel", cfg.Channel).Msg("connected to IRC")
		c.Cmd.Join(cfg.Channel)
	})
	s.client.Handlers.Add(girc.DISCONNECTED, func(*girc.Client, girc.Event) {
		s.log.Warn().Msg("disconnected from IRC")
	})

	s.send = s.client.Cmd.Message
	s.connected = s.client.IsConnected
	return s
}

// Register subscribes the sink to call log and status events.
func (s *IRCSink) Register(m *hooks.Manager) {
	m.On(hooks.EventCallLog, "irc", func(_ context.Context, p hooks.Payload) error {
		return s.deliver(FormatEntry(EntryFrom(p)))
	})
	m.On(hooks.EventCallStatus, "irc", func(_ context.Context, p hooks.Payload) error {
		return s.deliver(FormatStatus(StatusFrom(p)))
	})
}

// Start connects and blocks until the connection ends or ctx is done.
func (s *IRCSink) Start(ctx context.Context) error {
	s.log.Info().
		Str("server", s.cfg.Server).
		Int("port", s.cfg.Port).
		Bool("tls", s.cfg.UseTLS).
		Msg("connecting to IRC")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.client.Connect()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("irc connect: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.client.Close()
		return ctx.Err()
	}
}

// Close quits the server if connected.
func (s *IRCSink) Close() {
	if s.client.IsConnected() {
		s.client.Quit("dialtask shutting down")
	}
}

func (s *IRCSink) deliver(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected() {
		return ErrNotConnected
	}
	for _, line := range splitLines(text, maxLineLen) {
		s.send(s.cfg.Channel, line)
	}
	return nil
}

// FormatEntry renders an entry as "[<call sid>] <text>".
func FormatEntry(e Entry) string {
	return "[" + e.CallSid + "] " + e.Text
}

// FormatStatus renders a status change, with the numbers when known.
func FormatStatus(s Status) string {
	line := "[" + s.CallSid + "] status: " + s.Status
	if s.From != "" || s.To != "" {
		line += " (" + s.From + " -> " + s.To + ")"
	}
	return line
}

// splitLines breaks text on newlines and chunks long lines. Blank lines
// are dropped since IRC can't carry them.
func splitLines(text string, maxLen int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		for len(line) > maxLen {
			cut := maxLen
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			if cut == 0 {
				// maxLen is narrower than one rune.
				_, cut = utf8.DecodeRuneInString(line)
			}
			out = append(out, line[:cut])
			line = line[cut:]
		}
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}
