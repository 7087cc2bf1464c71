package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/callbatch/internal/orchestrate"
	"github.com/sells-group/callbatch/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve run history and trigger the chain over HTTP or Telegram",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initBatch(ctx, "serve", true)
		if err != nil {
			return err
		}
		defer env.Close()

		runner := func(ctx context.Context) (*orchestrate.Report, error) {
			return orchestrate.New(env.Ledger, env.Notifier).Run(ctx, chainSteps(env)...)
		}
		app := server.New(ctx, runner, env.Ledger, server.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
		})

		// Telegram /start triggers the chain like POST /runs.
		if env.Telegram != nil {
			go env.Telegram.Listen(ctx, env.Bot, func(ctx context.Context, command string) {
				if command != "start" {
					return
				}
				if !app.Trigger() {
					env.Telegram.Progress(ctx, "Ya hay un pipeline en ejecución")
				}
			})
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           app.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		app.Wait()
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
