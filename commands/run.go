package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/c360studio/semflow/adapter"
	"github.com/c360studio/semflow/audit"
	"github.com/c360studio/semflow/config"
	"github.com/c360studio/semflow/cost"
	"github.com/c360studio/semflow/executor"
	"github.com/c360studio/semflow/history"
	"github.com/c360studio/semflow/metrics"
	"github.com/c360studio/semflow/router"
	"github.com/c360studio/semflow/run"
	"github.com/c360studio/semflow/runerr"
	"github.com/c360studio/semflow/workflow"
)

func newRunCmd(cc *commandContext) *cobra.Command {
	var (
		filePatterns    []string
		inputPairs      []string
		lane            string
		maxTokens       int
		workers         int
		failFast        bool
		preferDet       bool
		dryRun          bool
		runTimeout      time.Duration
		eventsURL       string
		metricsTextfile string
		noHistory       bool
	)

	cmd := &cobra.Command{
		Use:   "run <workflow.yaml>",
		Short: "Execute a workflow",
		Long: `Run loads and validates the workflow document, plans the step DAG, and
executes it. Exit code 0 means the run succeeded, 1 failed, 2 cancelled,
3 the document did not validate or plan.`,
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
			registry, err := buildRegistry()
			if err != nil {
				return fmt.Errorf("build adapter registry: %w", err)
			}

			if !cmd.Flags().Changed("workers") {
				workers = cfg.Run.Workers
			}
			if !cmd.Flags().Changed("events-url") {
				eventsURL = cfg.Events.URL
			}
			if !cmd.Flags().Changed("metrics-textfile") {
				metricsTextfile = cfg.Metrics.Textfile
			}

			engineOpts := []executor.EngineOption{
				executor.WithEngineLogger(logger),
				executor.WithEngineWorkers(workers),
			}

			var recorder *metrics.Prometheus
			if metricsTextfile != "" {
				recorder = metrics.NewPrometheus()
				engineOpts = append(engineOpts, executor.WithEngineRecorder(recorder))
			}

			if eventsURL != "" {
				mirror, err := audit.NewNATSMirror(eventsURL, cfg.Events.SubjectPrefix, logger)
				if err != nil {
					return err
				}
				defer mirror.Close()
				engineOpts = append(engineOpts, executor.WithAuditMirror(mirror))
			}

			engine := executor.NewEngine(cfg.Workspace.Root, validator, registry, engineOpts...)

			wf, err := engine.LoadWorkflow(args[0])
			if err != nil {
				return err
			}
			plan, err := engine.Plan(wf)
			if err != nil {
				return err
			}

			overrides := buildOverrides(cmd, cfg, wf, maxTokens, failFast, preferDet)

			if dryRun {
				printPlan(cmd.OutOrStdout(), plan)
				return printRoutes(cmd.OutOrStdout(), registry, plan, overrides.Apply(wf.Policy))
			}

			inputs, err := buildInputs(filePatterns, inputPairs, lane)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if runTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, runTimeout)
				defer cancel()
			}

			summary, err := engine.Run(ctx, plan, inputs, overrides)
			if err != nil {
				return err
			}

			if recorder != nil {
				if err := recorder.WriteTextfile(metricsTextfile); err != nil {
					logger.Warn("write metrics textfile", "path", metricsTextfile, "error", err)
				}
			}
			if !noHistory && cfg.History.Path != "" {
				recordHistory(cfg.History.Path, summary, logger)
			}

			printSummary(cmd.OutOrStdout(), engine, summary)

			switch summary.Status {
			case workflow.RunSucceeded:
				return nil
			case workflow.RunAborted:
				return &ExitError{Code: 2, Err: runerr.Newf(runerr.KindCancelled, "run %s aborted", summary.RunID)}
			default:
				return &ExitError{Code: 1, Err: fmt.Errorf("run %s failed", summary.RunID)}
			}
		},
	}

	cmd.Flags().StringSliceVar(&filePatterns, "files", nil, "Glob patterns expanded into inputs.files (doublestar)")
	cmd.Flags().StringArrayVar(&inputPairs, "input", nil, "Input override key=value (repeatable)")
	cmd.Flags().StringVar(&lane, "lane", "", "Value for inputs.lane")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Token budget override (0 = unlimited)")
	cmd.Flags().IntVar(&workers, "workers", 1, "Worker pool size")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "Stop scheduling after the first step failure")
	cmd.Flags().BoolVar(&preferDet, "prefer-deterministic", false, "Prefer deterministic adapters when any qualify")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate and print the plan without executing")
	cmd.Flags().DurationVar(&runTimeout, "run-timeout", 0, "Abort the run after this duration (0 = no limit)")
	cmd.Flags().StringVar(&eventsURL, "events-url", "", "NATS URL for the live audit mirror")
	cmd.Flags().StringVar(&metricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this file after the run")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Skip recording the run in the local index")

	return cmd
}

// printRoutes previews the routing decision for every step under the
// effective policy. The preview tracker carries the budget so estimates
// filter the way they would in a real run, but nothing is reserved, so
// each step is judged against the full budget.
func printRoutes(w io.Writer, registry *adapter.Registry, plan *workflow.RunPlan, policy workflow.Policy) error {
	costs, err := cost.NewTracker(policy.MaxTokens, audit.Discard{})
	if err != nil {
		return err
	}
	rt := router.New(registry)

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tADAPTER\tESTIMATE\tNOTE")
	for _, id := range plan.Order {
		node := plan.Node(id)
		_, decision, err := rt.Route(node.Step, policy, costs)
		if err != nil {
			fmt.Fprintf(tw, "%s\t-\t-\t%v\n", id, err)
			continue
		}
		note := "-"
		if decision.Fallback {
			note = "capability fallback"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", id, decision.Chosen, decision.Estimate, note)
	}
	return tw.Flush()
}

// buildInputs assembles the input overrides from the run flags. File
// patterns expand relative to the working directory; matches are merged,
// deduplicated, and sorted.
func buildInputs(filePatterns, inputPairs []string, lane string) (map[string]any, error) {
	inputs := map[string]any{}

	if len(filePatterns) > 0 {
		seen := map[string]bool{}
		var files []string
		for _, pattern := range filePatterns {
			matches, err := doublestar.FilepathGlob(pattern)
			if err != nil {
				return nil, fmt.Errorf("expand files pattern %q: %w", pattern, err)
			}
			for _, m := range matches {
				if !seen[m] {
					seen[m] = true
					files = append(files, m)
				}
			}
		}
		sort.Strings(files)
		inputs["files"] = files
	}

	for _, pair := range inputPairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input override %q, expected key=value", pair)
		}
		inputs[key] = value
	}

	if lane != "" {
		inputs["lane"] = lane
	}
	return inputs, nil
}

// buildOverrides maps the run flags and config defaults onto policy
// overrides. A flag only overrides when set; the config budget applies
// when the document declares none.
func buildOverrides(cmd *cobra.Command, cfg *config.Config,
	wf *workflow.Workflow, maxTokens int, failFast, preferDet bool) *executor.PolicyOverrides {

	overrides := &executor.PolicyOverrides{}
	if cmd.Flags().Changed("max-tokens") {
		overrides.MaxTokens = &maxTokens
	} else if cfg.Run.MaxTokens > 0 && wf.Policy.MaxTokens == 0 {
		budget := cfg.Run.MaxTokens
		overrides.MaxTokens = &budget
	}
	if cmd.Flags().Changed("fail-fast") {
		overrides.FailFast = &failFast
	}
	if cmd.Flags().Changed("prefer-deterministic") {
		overrides.PreferDeterministic = &preferDet
	}
	return overrides
}

// recordHistory indexes the run locally. Best-effort: the manifest and
// audit log are the durable record.
func recordHistory(path string, summary *run.Summary, logger *slog.Logger) {
	store, err := history.Open(path)
	if err != nil {
		logger.Warn("open run history", "path", path, "error", err)
		return
	}
	defer store.Close()
	if err := store.Record(summary); err != nil {
		logger.Warn("record run history", "run_id", summary.RunID, "error", err)
	}
}

func printSummary(w io.Writer, engine *executor.Engine, summary *run.Summary) {
	fmt.Fprintf(w, "run %s: %s\n", summary.RunID, summary.Status)
	fmt.Fprintf(w, "  tokens used: %d", summary.TokensUsedTotal)
	if summary.TokensOverrun > 0 {
		fmt.Fprintf(w, " (overrun %d)", summary.TokensOverrun)
	}
	fmt.Fprintln(w)
	for _, res := range summary.StepResults {
		fmt.Fprintf(w, "  %-10s %s", res.StepID, res.Status)
		if res.Error != nil {
			fmt.Fprintf(w, " (%s)", res.Error.Kind)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "  artifacts: %s\n", engine.ArtifactRoot(summary.RunID))
	fmt.Fprintf(w, "  audit log: %s\n", engine.LogPath(summary.RunID))
}
