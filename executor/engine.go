package executor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/c360studio/semflow/adapter"
	"github.com/c360studio/semflow/artifact"
	"github.com/c360studio/semflow/audit"
	"github.com/c360studio/semflow/cost"
	"github.com/c360studio/semflow/metrics"
	"github.com/c360studio/semflow/output"
	"github.com/c360studio/semflow/run"
	"github.com/c360studio/semflow/runerr"
	"github.com/c360studio/semflow/schema"
	"github.com/c360studio/semflow/verifier"
	"github.com/c360studio/semflow/workflow"
)

// Engine is the public orchestration surface: load, plan, run, validate.
// It assembles the per-run plumbing (artifact store, audit log, cost
// tracker, run context) around the reusable executor.
type Engine struct {
	schemas   *schema.Validator
	loader    *workflow.Loader
	registry  *adapter.Registry
	workspace string
	logger    *slog.Logger
	recorder  metrics.Recorder
	plugins   []verifier.Plugin
	mirror    audit.Mirror
	workers   int
	grace     time.Duration
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the diagnostic logger.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(g *Engine) { g.logger = logger }
}

// WithEngineRecorder sets the metrics recorder.
func WithEngineRecorder(r metrics.Recorder) EngineOption {
	return func(g *Engine) { g.recorder = r }
}

// WithGatePlugins registers custom gate plugins.
func WithGatePlugins(plugins ...verifier.Plugin) EngineOption {
	return func(g *Engine) { g.plugins = append(g.plugins, plugins...) }
}

// WithAuditMirror attaches a best-effort secondary sink for audit lines.
func WithAuditMirror(m audit.Mirror) EngineOption {
	return func(g *Engine) { g.mirror = m }
}

// WithEngineWorkers bounds the worker pool for runs.
func WithEngineWorkers(n int) EngineOption {
	return func(g *Engine) {
		if n < 1 {
			n = 1
		}
		g.workers = n
	}
}

// WithEngineGrace sets the adapter abandonment grace window.
func WithEngineGrace(d time.Duration) EngineOption {
	return func(g *Engine) { g.grace = d }
}

// NewEngine creates an engine. The workspace directory receives the
// artifacts/<run_id>/ and logs/ trees.
func NewEngine(workspace string, schemas *schema.Validator, registry *adapter.Registry, opts ...EngineOption) *Engine {
	g := &Engine{
		schemas:   schemas,
		loader:    workflow.NewLoader(schemas),
		registry:  registry,
		workspace: workspace,
		logger:    slog.Default(),
		recorder:  metrics.Nop{},
		workers:   DefaultWorkers,
		grace:     DefaultGrace,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Registry returns the engine's adapter registry.
func (g *Engine) Registry() *adapter.Registry {
	return g.registry
}

// LoadWorkflow reads, validates, and canonicalizes a workflow document.
func (g *Engine) LoadWorkflow(path string) (*workflow.Workflow, error) {
	return g.loader.Load(path)
}

// Plan builds the run plan for a canonical workflow.
func (g *Engine) Plan(wf *workflow.Workflow) (*workflow.RunPlan, error) {
	return workflow.Plan(wf)
}

// ValidateArtifact checks a file on disk against a named schema.
func (g *Engine) ValidateArtifact(path, schemaID string) (schema.Issues, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, runerr.Wrap(runerr.KindInternal, "read artifact", err)
	}
	return g.schemas.ValidateBytes(data, schemaID)
}

// PolicyOverrides adjusts the workflow's policy for one run. Nil fields
// keep the document's values.
type PolicyOverrides struct {
	MaxTokens           *int
	PreferDeterministic *bool
	FailFast            *bool
	StepTimeoutMS       *int
}

// Apply returns the policy with the overrides folded in.
func (po *PolicyOverrides) Apply(p workflow.Policy) workflow.Policy {
	if po == nil {
		return p
	}
	if po.MaxTokens != nil {
		p.MaxTokens = *po.MaxTokens
	}
	if po.PreferDeterministic != nil {
		p.PreferDeterministic = *po.PreferDeterministic
	}
	if po.FailFast != nil {
		p.FailFast = *po.FailFast
	}
	if po.StepTimeoutMS != nil && *po.StepTimeoutMS > 0 {
		p.StepTimeoutMS = *po.StepTimeoutMS
	}
	return p
}

// Run executes a plan. Input overrides merge over the workflow's declared
// inputs; policy overrides adjust the document policy for this run only.
// The audit log is flushed and closed before the summary is returned, and
// manifest.json plus report.md are written into the run's artifact root.
func (g *Engine) Run(ctx context.Context, plan *workflow.RunPlan,
	inputs map[string]any, overrides *PolicyOverrides) (*run.Summary, error) {

	// The plan's nodes point into the workflow document, so the run
	// executes a shallow copy carrying the adjusted policy.
	wf := *plan.Workflow
	wf.Policy = overrides.Apply(wf.Policy)
	runPlan := *plan
	runPlan.Workflow = &wf

	runID := run.NewID()

	logOpts := []audit.Option{audit.WithLogger(g.logger)}
	if g.mirror != nil {
		logOpts = append(logOpts, audit.WithMirror(g.mirror))
	}
	log, err := audit.NewLog(g.workspace, runID, logOpts...)
	if err != nil {
		return nil, runerr.Wrap(runerr.KindInternal, "open audit log", err)
	}

	store, err := artifact.NewStore(g.workspace, runID)
	if err != nil {
		_ = log.Close()
		return nil, runerr.Wrap(runerr.KindInternal, "create artifact store", err)
	}

	tracker, err := cost.NewTracker(wf.Policy.MaxTokens, log)
	if err != nil {
		_ = log.Close()
		return nil, runerr.Wrap(runerr.KindInternal, "create cost tracker", err)
	}

	rc := run.NewContext(runID, &wf, inputs, store, tracker, log)

	exec := New(g.registry, verifier.New(g.schemas, g.plugins...),
		WithWorkers(g.workers),
		WithLogger(g.logger),
		WithRecorder(g.recorder),
		WithGrace(g.grace))

	summary, runErr := exec.Run(ctx, &runPlan, rc)

	if closeErr := log.Close(); closeErr != nil {
		g.logger.Warn("close audit log", "run_id", runID, "error", closeErr)
	}
	if runErr != nil {
		return nil, runErr
	}

	if _, err := run.WriteManifest(store.Root(), summary); err != nil {
		g.logger.Warn("write manifest", "run_id", runID, "error", err)
	}
	if _, err := output.WriteReport(store.Root(), summary); err != nil {
		g.logger.Warn("write report", "run_id", runID, "error", err)
	}
	return summary, nil
}

// LogPath returns the audit log location for a run under this workspace.
func (g *Engine) LogPath(runID string) string {
	return filepath.Join(g.workspace, "logs", runID+".jsonl")
}

// ArtifactRoot returns the artifact root for a run under this workspace.
func (g *Engine) ArtifactRoot(runID string) string {
	return filepath.Join(g.workspace, "artifacts", runID)
}
