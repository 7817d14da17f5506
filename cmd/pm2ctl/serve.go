package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/pm2ctl"
	"github.com/spf13/cobra"
)

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	Listen   string
	BasePath string
}

func newServeCmd(gf *GlobalFlags) *cobra.Command {
	var f ServeFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := pm2ctl.DefaultConfig()
			if gf.ConfigPath != "" {
				loaded, err := pm2ctl.LoadConfig(gf.ConfigPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if f.Listen != "" {
				cfg.Server.Listen = f.Listen
			}
			if f.BasePath != "" {
				cfg.Server.BasePath = f.BasePath
			}

			ctl, err := pm2ctl.New(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = ctl.Close() }()

			if err := pm2ctl.RegisterMetricsDefault(); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.CommandTimeout)
			version, err := ctl.Verify(ctx)
			cancel()
			if err != nil {
				return fmt.Errorf("pm2 not reachable: %w", err)
			}
			fmt.Printf("pm2 %s, serving on %s\n", version, cfg.Server.Listen)

			srv, err := pm2ctl.NewHTTPServer(cfg.Server.Listen, cfg.Server.BasePath, ctl)
			if err != nil {
				return err
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&f.Listen, "listen", "", "listen address, overrides config")
	cmd.Flags().StringVar(&f.BasePath, "base-path", "", "API base path, overrides config")
	return cmd
}
