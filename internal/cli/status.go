package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/soyeahso/dialtask/internal/config"
	"github.com/soyeahso/dialtask/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "dialtask %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintln(out)

			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}
			writeStatus(out, &cfg, paths)
			return nil
		},
	}
}

func writeStatus(out io.Writer, cfg *config.Config, p config.Paths) {
	g := cfg.Gateway
	fmt.Fprintf(out, "Gateway: port=%d bind=%s tls=%v calls-api=%v\n",
		g.Port, g.Bind, g.TLS.Enabled, g.Token != "")
	fmt.Fprintf(out, "Store:   %s\n", p.StorePath(cfg))

	fmt.Fprintf(out, "OpenAI:  key=%s realtime=%v model=%s tts=%s\n",
		present(cfg.OpenAI.APIKey), cfg.OpenAI.Realtime(), cfg.OpenAI.RealtimeModel, cfg.OpenAI.TTSModel)

	tw := cfg.Twilio
	fmt.Fprintf(out, "Twilio:  account=%s number=%s stream=%s\n",
		maskValue(tw.AccountSID), orNone(tw.PhoneNumber), orNone(tw.StreamCallback))

	cache := cfg.Audio.Cache
	if cache == "redis" {
		cache += " (" + cfg.Audio.Redis.Addr + ")"
	}
	fmt.Fprintf(out, "Audio:   source=%dHz cache=%s\n", cfg.Audio.SourceSampleRate, cache)

	if irc := cfg.CallLog.IRC; irc != nil {
		fmt.Fprintf(out, "IRC:     server=%s:%d nick=%s channel=%s tls=%v\n",
			irc.Server, irc.Port, irc.Nick, irc.Channel, irc.UseTLS)
	} else {
		fmt.Fprintln(out, "IRC:     (not configured)")
	}

	if issues := config.ValidateServe(cfg); len(issues) > 0 {
		fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
		for _, issue := range issues {
			fmt.Fprintf(out, "  - %s\n", issue)
		}
	}
}

func present(s string) string {
	if s == "" {
		return "missing"
	}
	return "set"
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func maskValue(s string) string {
	if s == "" {
		return "(none)"
	}
	if len(s) <= 6 {
		return strings.Repeat("*", len(s))
	}
	return s[:6] + strings.Repeat("*", len(s)-6)
}
