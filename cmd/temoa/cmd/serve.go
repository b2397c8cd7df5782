package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pborenstein/temoa/internal/server"
	"github.com/pborenstein/temoa/internal/telemetry"
	"github.com/pborenstein/temoa/internal/watcher"
)

var (
	flagServeAddr  string
	flagServeWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP search API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, err := buildRegistry(cmd.Context())
		if err != nil {
			return err
		}
		defer reg.Close()

		var recorder *telemetry.Recorder
		if path := telemetryPath(); path != "" {
			if recorder, err = telemetry.Open(path); err != nil {
				slog.Warn("telemetry_disabled", slog.String("error", err.Error()))
				recorder = nil
			} else {
				defer func() { _ = recorder.Close() }()
			}
		}

		if flagServeWatch {
			w, werr := watcher.New(reg, watcher.DefaultDebounce)
			if werr != nil {
				slog.Warn("watcher_disabled", slog.String("error", werr.Error()))
			} else {
				defer func() { _ = w.Close() }()
				for _, vc := range cfg.Vaults {
					if err := w.WatchVault(vc.Name, vc.Path); err != nil {
						slog.Warn("watch_vault_failed",
							slog.String("vault", vc.Name),
							slog.String("error", err.Error()))
					}
				}
			}
		}

		addr := flagServeAddr
		if addr == "" {
			addr = cfg.Server.Addr
		}

		slog.Info("http_server_started", slog.String("addr", addr))
		return server.New(reg, recorder).Run(addr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagServeAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().BoolVar(&flagServeWatch, "watch", true, "invalidate cached engines when vault files change")
	rootCmd.AddCommand(serveCmd)
}
