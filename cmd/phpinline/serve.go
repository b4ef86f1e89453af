package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sakif/phpinline/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP evaluation API",
	Long: `Exposes live and block evaluation plus the evaluation history over a JSON
HTTP API, with Prometheus metrics on /metrics. It listens on 127.0.0.1 unless
--host says otherwise, and requires a bearer token signed with server.jwtSecret.
Without a secret it refuses to start unless --insecure is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, true)
		if err != nil {
			return err
		}
		defer a.close()

		cfg := a.settings.Snapshot()
		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("host") {
			cfg.Server.Host, _ = cmd.Flags().GetString("host")
		}
		if insecure, _ := cmd.Flags().GetBool("insecure"); insecure {
			cfg.Server.Insecure = true
		}

		srv, err := server.New(server.Config{
			Host:      cfg.Server.Host,
			Port:      cfg.Server.Port,
			JWTSecret: cfg.Server.JWTSecret,
			Insecure:  cfg.Server.Insecure,
		}, a.svc, func() string { return a.settings.Snapshot().Color() }, a.metrics, a.logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntP("port", "p", 0, "Port to listen on (overrides the config file)")
	serveCmd.Flags().String("host", "", "Address to listen on (default 127.0.0.1)")
	serveCmd.Flags().Bool("insecure", false, "Serve the API without authentication")
}
