package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/sakif/phpinline/internal/lsp"
)

var lspCmd = &cobra.Command{
	Use:   "lsp",
	Short: "Run as a language server on stdio",
	Long: `Starts a Language Server Protocol server on stdin/stdout. Editors send
document and cursor events; results come back as diagnostics and
phpInline/annotation notifications. Logs go to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		commonlog.Configure(verbosity, nil)

		a, err := newApp(cmd, true)
		if err != nil {
			return err
		}
		defer a.close()

		srv := lsp.New(a.svc, a.settings, a.metrics, a.logger, version)
		runErr := srv.Run()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Close(ctx); err != nil {
			a.logger.Warn("sessions did not stop in time")
		}
		return runErr
	},
}

func init() {
	rootCmd.AddCommand(lspCmd)
	lspCmd.Flags().CountP("verbose", "v", "Protocol log verbosity (repeat for more)")
}
