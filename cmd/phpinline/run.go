package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/sakif/phpinline/internal/annotation"
	"github.com/sakif/phpinline/internal/apperror"
	"github.com/sakif/phpinline/internal/model"
	"github.com/sakif/phpinline/internal/service"
	"github.com/sakif/phpinline/internal/trigger"
)

// errFailed makes the process exit non-zero after a failed evaluation whose
// annotation has already been printed.
var errFailed = errors.New("evaluation failed")

var runCmd = &cobra.Command{
	Use:   "run [file.php]",
	Short: "Evaluate once and print the annotation",
	Long: `Evaluates a PHP file in live mode, or with --block the code read from
stdin, and prints the annotation that an editor would show.

Exit status is 1 when the evaluation failed.`,
	Example: `  phpinline run script.php --line 12
  echo 'echo 6 * 7;' | phpinline run --block`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		block, _ := cmd.Flags().GetBool("block")
		line, _ := cmd.Flags().GetInt("line")

		a, err := newApp(cmd, true)
		if err != nil {
			return err
		}
		defer a.close()

		var outcome *model.Outcome
		if block {
			src, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			outcome, err = a.svc.Block(cmd.Context(), service.BlockRequest{
				DocumentURI: "stdin",
				Selection:   string(src),
				Line:        max(line, 0),
			})
			if err != nil {
				return userError(err)
			}
		} else {
			if len(args) == 0 {
				return errors.New("a file is required unless --block is set")
			}
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(abs)
			if err != nil {
				return err
			}
			text := string(data)
			if line < 0 {
				line = trigger.LastLine(text)
			}
			outcome, err = a.svc.Live(cmd.Context(), service.LiveRequest{
				DocumentURI: "file://" + abs,
				Path:        abs,
				Saved:       true,
				Source:      text,
				Line:        line,
			})
			if err != nil {
				return userError(err)
			}
		}

		note, ok := annotation.FromOutcome(*outcome, a.settings.Snapshot().Color())
		if !ok {
			return nil
		}
		out := termenv.NewOutput(cmd.OutOrStdout())
		styled := out.String(note.Content())
		if note.Failed {
			styled = styled.Foreground(termenv.ANSIRed).Bold()
		}
		fmt.Fprintln(out, styled)
		if note.Failed {
			return errFailed
		}
		return nil
	},
}

// userError unwraps validation failures to their human-readable message.
func userError(err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return errors.New(appErr.Message)
	}
	return err
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Bool("block", false, "Evaluate the code on stdin as a block")
	runCmd.Flags().IntP("line", "l", -1, "0-based line the annotation belongs to (default: last line)")
}
