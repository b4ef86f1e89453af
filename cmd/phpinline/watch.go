package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/phpinline/internal/session"
	"github.com/sakif/phpinline/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch <file.php>",
	Short: "Re-evaluate a PHP file every time it is saved",
	Long: `Watches a PHP file and, after each save settles, evaluates the first line
that changed and prints its annotation. Useful with editors that have no
language server support.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, true)
		if err != nil {
			return err
		}
		defer a.close()

		w, err := watch.New(args[0], a.logger)
		if err != nil {
			return err
		}

		term := watch.NewTerminal(os.Stdout, w.Text)
		sessions := session.NewManager(a.svc, term, a.settings, a.metrics, a.logger)
		w.Attach(sessions)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		term.Notice("watching %s (Ctrl+C to stop)", args[0])
		runErr := w.Run(ctx)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sessions.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("evaluations still running at exit")
		}
		return runErr
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
