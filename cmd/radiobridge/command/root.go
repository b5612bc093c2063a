package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/exepirit/radiobridge/internal/config"
	"github.com/exepirit/radiobridge/internal/log"
	"github.com/exepirit/radiobridge/internal/metrics"
)

var (
	cfgFile string
	cfg     config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "radiobridge",
	Short: "Bridge a TCP stream over a half-duplex text radio channel",
	Long: `radiobridge carries a TCP byte stream across a half-duplex text channel such as an
fldigi sound card modem. One side listens for the TCP client, the other side dials the TCP
server, and both take turns on the channel.

Channels are given as URLs:
  fldigi://127.0.0.1:7362
  serial:/dev/ttyUSB0?baud=9600
  mqtt://broker:1883/radiobridge?chunk=16
  udp://0.0.0.0:7400?peer=10.0.0.2:7400`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "TOML config file")
	flags.String("channel", "", "channel controller URL")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text, json")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	flags.String("modem", "", "modem to select before bridging, e.g. PSK125R")
	flags.Int("carrier", 0, "audio carrier in Hz; turns AFC off")
	flags.String("rig-mode", "", "rig mode to select, e.g. USB")

	rootCmd.AddCommand(listenCmd, dialCmd, infoCmd)
}

// setup loads configuration, lets explicit flags win and builds the logger.
func setup(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	overrides := map[string]*string{
		"channel":      &cfg.Channel,
		"log-level":    &cfg.LogLevel,
		"log-format":   &cfg.LogFormat,
		"metrics-addr": &cfg.MetricsAddr,
		"modem":        &cfg.Modem,
		"rig-mode":     &cfg.RigMode,
	}
	for name, target := range overrides {
		if flags.Changed(name) {
			*target, _ = flags.GetString(name)
		}
	}
	if flags.Changed("carrier") {
		cfg.Carrier, _ = flags.GetInt("carrier")
	}
	if cfg.Modem != "" {
		cfg.Bridge.Mode = cfg.Modem
	}

	logger, err = log.New(log.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

// serveMetrics exposes Prometheus metrics until ctx is done.
func serveMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		logger.Info("metrics_listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics_server_failed", "error", err)
		}
	}()
}
