package cli

import (
	"fmt"

	"github.com/soyeahso/dialtask/internal/twilio"
	"github.com/spf13/cobra"
)

func newCallCmd() *cobra.Command {
	var phrase string

	cmd := &cobra.Command{
		Use:   "call <number>",
		Short: "Place an outbound call bridged to the gateway",
		Long: "Dials <number> from twilio.phoneNumber. When the call is answered it is " +
			"connected to twilio.streamCallback, so a gateway must be reachable there.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			sid, err := twilio.NewService(cfg.Twilio, log).MakeCall(cmd.Context(), args[0], phrase)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sid)
			return nil
		},
	}

	cmd.Flags().StringVar(&phrase, "say", "", "phrase spoken before the stream connects")
	return cmd
}
