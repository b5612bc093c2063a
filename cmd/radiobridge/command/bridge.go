package command

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/exepirit/radiobridge/internal/metrics"
	"github.com/exepirit/radiobridge/pkg/radiobridge"
)

var listenCmd = &cobra.Command{
	Use:   "listen ADDR",
	Short: "Accept one TCP connection on ADDR and bridge it over the channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBridge(cmd.Context(), func(ctx context.Context, ch radiobridge.ChannelController, opts ...radiobridge.BridgeOption) error {
			logger.Info("tcp_listening", "addr", args[0])
			return radiobridge.ListenAndBridge(ctx, args[0], ch, cfg.Bridge, opts...)
		})
	},
}

var dialCmd = &cobra.Command{
	Use:   "dial ADDR",
	Short: "Connect to the TCP server at ADDR and bridge the connection over the channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBridge(cmd.Context(), func(ctx context.Context, ch radiobridge.ChannelController, opts ...radiobridge.BridgeOption) error {
			return radiobridge.DialAndBridge(ctx, args[0], ch, cfg.Bridge, opts...)
		})
	},
}

type bridgeFunc func(ctx context.Context, ch radiobridge.ChannelController, opts ...radiobridge.BridgeOption) error

func runBridge(parent context.Context, run bridgeFunc) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ch, closer, err := openChannel(ctx, cfg.Channel, cfg.Bridge)
	if err != nil {
		return err
	}
	defer closer.Close()
	logger.Info("channel_opened", "channel", cfg.Channel, "mode", cfg.Bridge.Mode)

	if err := configureChannel(ctx, ch); err != nil {
		return err
	}
	serveMetrics(ctx, cfg.MetricsAddr)

	var stats radiobridge.Stats = radiobridge.NopStats{}
	if cfg.MetricsAddr != "" {
		stats = metrics.Stats{}
	}
	return run(ctx, ch, radiobridge.WithLogger(logger), radiobridge.WithStats(stats))
}
