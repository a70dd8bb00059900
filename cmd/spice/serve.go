package main

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/api"
	"github.com/Veraticus/the-spice-must-match/internal/certs"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the job and review API over HTTP",
		Long: `Start the HTTP API. Jobs submitted over HTTP run in this process and can
be polled at /api/jobs/:id. Prometheus metrics are served at /metrics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := startApp(cmd.Context(), needs{
				provider:  boolFlag(cmd, "enrich"),
				plaid:     boolFlag(cmd, "plaid"),
				simplefin: boolFlag(cmd, "simplefin"),
				gmail:     boolFlag(cmd, "gmail"),
				workers:   true,
			})
			if err != nil {
				return err
			}
			defer rt.Close()

			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = rt.cfg.Server.Addr
			}
			server := api.NewServer(rt.app, slog.Default())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			useTLS := boolFlag(cmd, "tls")
			var cert tls.Certificate
			if useTLS {
				if cert, err = certs.NewStore(rt.cfg.Server.CertDir).Certificate(); err != nil {
					return err
				}
			}

			errCh := make(chan error, 1)
			go func() {
				if useTLS {
					errCh <- server.ListenTLS(addr, cert)
					return
				}
				errCh <- server.Listen(addr)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			slog.Info("Shutting down API server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "", "listen address (default server.addr)")
	cmd.Flags().Bool("tls", false, "serve HTTPS with a self-signed certificate from server.cert_dir")
	cmd.Flags().Bool("enrich", true, "connect the AI provider for enrich and retry jobs")
	cmd.Flags().Bool("plaid", false, "connect Plaid for sync jobs")
	cmd.Flags().Bool("simplefin", false, "connect SimpleFIN for sync jobs")
	cmd.Flags().Bool("gmail", false, "connect Gmail for sync jobs")
	return cmd
}

func boolFlag(cmd *cobra.Command, flag string) bool {
	v, _ := cmd.Flags().GetBool(flag)
	return v
}
