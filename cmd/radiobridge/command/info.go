package command

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/exepirit/radiobridge/pkg/radiobridge/fldigi"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the channel state and, for fldigi, the modem and rig settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		ch, closer, err := openChannel(ctx, cfg.Channel, cfg.Bridge)
		if err != nil {
			return err
		}
		defer closer.Close()

		out := cmd.OutOrStdout()
		state, err := ch.TransmitState(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "channel:  %s\n", cfg.Channel)
		fmt.Fprintf(out, "state:    %s\n", state)
		fmt.Fprintf(out, "timeouts: %.3fs per byte (%s)\n", cfg.Bridge.SecondsPerByte(), cfg.Bridge.Mode)

		if c, ok := ch.(*fldigi.Controller); ok {
			info, err := c.Info(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "fldigi:   %s\n", info.Version)
			fmt.Fprintf(out, "modem:    %s, carrier %d Hz, bandwidth %d Hz\n", info.Modem, info.Carrier, info.Bandwidth)
			fmt.Fprintf(out, "rig:      %s at %.0f Hz\n", info.RigMode, info.Frequency)
		}
		return nil
	},
}
