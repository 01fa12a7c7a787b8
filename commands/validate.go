package commands

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/c360studio/semflow/schema"
	"github.com/c360studio/semflow/workflow"
)

// watchDebounce coalesces the editor write bursts fsnotify reports into
// one revalidation.
const watchDebounce = 300 * time.Millisecond

func newValidateCmd(cc *commandContext) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "validate <workflow.yaml>",
		Short: "Validate a workflow document",
		Long: `Validate checks the document against the workflow schema, then plans
the step DAG to surface dependency and emit conflicts. With --watch the
file is revalidated on every save until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := cc.setup()
			if err != nil {
				return err
			}
			validator, err := buildValidator(cfg)
			if err != nil {
				return fmt.Errorf("load schemas: %w", err)
			}

			path := args[0]
			if !watch {
				return validateOnce(cmd.OutOrStdout(), validator, path)
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("create file watcher: %w", err)
			}
			defer watcher.Close()

			// Watch the directory, not the file: editors replace files on
			// save and the watch would die with the old inode.
			dir := filepath.Dir(path)
			if err := watcher.Add(dir); err != nil {
				return fmt.Errorf("watch %s: %w", dir, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			_ = validateOnce(cmd.OutOrStdout(), validator, path)
			fmt.Fprintf(cmd.OutOrStdout(), "watching %s\n", path)

			target, _ := filepath.Abs(path)
			var timer *time.Timer
			pending := make(chan struct{}, 1)
			for {
				select {
				case <-ctx.Done():
					return nil
				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					abs, _ := filepath.Abs(event.Name)
					if abs != target {
						continue
					}
					if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
						continue
					}
					if timer != nil {
						timer.Stop()
					}
					timer = time.AfterFunc(watchDebounce, func() {
						select {
						case pending <- struct{}{}:
						default:
						}
					})
				case <-pending:
					_ = validateOnce(cmd.OutOrStdout(), validator, path)
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					logger.Warn("file watcher error", "error", err)
				}
			}
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Revalidate on every save")
	return cmd
}

func validateOnce(w io.Writer, validator *schema.Validator, path string) error {
	wf, err := workflow.NewLoader(validator).Load(path)
	if err != nil {
		fmt.Fprintf(w, "%s: INVALID\n  %v\n", path, err)
		return err
	}
	if _, err := workflow.Plan(wf); err != nil {
		fmt.Fprintf(w, "%s: INVALID\n  %v\n", path, err)
		return err
	}
	fmt.Fprintf(w, "%s: OK (%d steps)\n", path, len(wf.Steps))
	return nil
}
