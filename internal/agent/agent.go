package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"genebench/internal/codegen"
	"genebench/internal/dataset"
	"genebench/internal/history"
	"genebench/internal/llm"
	"genebench/internal/notebook"
	"genebench/internal/plan"
	"genebench/internal/stream"
	"genebench/internal/workspace"
)

// Agent runs the analysis pipeline. Construct one per chat session.
type Agent struct {
	client     llm.Client
	resolver   *dataset.Resolver
	workspaces *workspace.Manager
	generator  *codegen.Generator
	streams    *stream.Orchestrator // optional
	mutator    *notebook.Mutator
	hist       *history.Store // optional
	logger     *zap.Logger
	callbacks  Callbacks

	stopped atomic.Bool

	mu    sync.Mutex
	phase Phase
}

// Options wires the agent's collaborators. Streams and History may be nil.
type Options struct {
	Client     llm.Client
	Resolver   *dataset.Resolver
	Workspaces *workspace.Manager
	Generator  *codegen.Generator
	Streams    *stream.Orchestrator
	Mutator    *notebook.Mutator
	History    *history.Store
	Logger     *zap.Logger
	Callbacks  Callbacks
}

// New creates an agent.
func New(opts Options) *Agent {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		client:     opts.Client,
		resolver:   opts.Resolver,
		workspaces: opts.Workspaces,
		generator:  opts.Generator,
		streams:    opts.Streams,
		mutator:    opts.Mutator,
		hist:       opts.History,
		logger:     logger,
		callbacks:  opts.Callbacks,
		phase:      PhaseIdle,
	}
}

// Phase reports the run state machine's current position.
func (a *Agent) Phase() Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

func (a *Agent) setPhase(p Phase) {
	a.mu.Lock()
	a.phase = p
	a.mu.Unlock()
}

// Stop requests cooperative cancellation. In-flight LLM calls finish and
// their results are discarded; steps not yet started go straight to
// cancelled. Stop never preempts.
func (a *Agent) Stop() {
	a.stopped.Store(true)
	a.logger.Info("stop requested")
}

// ExecuteAnalysisRequest runs the full pipeline for one free-text request.
// Datasets the user selected up front (local files or known accessions) are
// merged with the resolver's findings; on an ID collision the selected ref's
// local path wins. Planning and dataset failures degrade (fallback plan,
// zero datasets); only workspace creation fails the run.
func (a *Agent) ExecuteAnalysisRequest(ctx context.Context, request string, selected ...dataset.Ref) (*Result, error) {
	a.stopped.Store(false)
	result := &Result{
		RunID:     uuid.NewString(),
		Request:   request,
		StartedAt: time.Now(),
	}

	a.setPhase(PhaseUnderstanding)
	a.callbacks.status("understanding", "Analyzing your request")
	result.Understanding = a.understand(ctx, request)

	a.setPhase(PhaseResolvingData)
	a.callbacks.status("resolving_data", "Looking up datasets")
	resolved := a.resolver.Resolve(ctx, result.Understanding.DataNeeded, request)
	result.Datasets = dataset.Dedupe(append(append([]dataset.Ref{}, selected...), resolved...))

	if a.stopped.Load() {
		return a.finishCancelled(result), nil
	}

	a.setPhase(PhaseCreatingWorkspace)
	a.callbacks.status("creating_workspace", "Preparing the workspace")
	dir, err := a.workspaces.Create(request)
	if err != nil {
		a.setPhase(PhaseIdle)
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	result.WorkingDirectory = dir

	a.setPhase(PhasePlanningSteps)
	for _, description := range result.Understanding.RequiredSteps {
		result.Steps = append(result.Steps, &Step{
			ID:          uuid.NewString(),
			Description: description,
			Status:      StatusPending,
		})
	}

	a.setPhase(PhaseGeneratingCode)
	a.generateSteps(ctx, result)

	if result.Cancelled {
		return a.finishCancelled(result), nil
	}
	a.setPhase(PhaseDone)
	result.FinishedAt = time.Now()
	a.recordRun(result, "completed")
	a.logger.Info("analysis complete",
		zap.String("run_id", result.RunID),
		zap.Int("steps", len(result.Steps)),
		zap.Int("datasets", len(result.Datasets)))
	return result, nil
}

// understand asks the LLM for a plan and parses it. An LLM failure yields
// the canned fallback plan so the pipeline never halts here.
func (a *Agent) understand(ctx context.Context, request string) *plan.Understanding {
	response, err := a.client.Ask(ctx, plan.PromptFor(request))
	if err != nil {
		a.logger.Warn("planning call failed, using fallback plan", zap.Error(err))
		return plan.FallbackPlan(request)
	}
	return plan.Parse(response, request)
}

// generateSteps produces code for each step strictly in order. Step i+1
// never starts before step i's artifact (or fallback) exists.
func (a *Agent) generateSteps(ctx context.Context, result *Result) {
	for i, step := range result.Steps {
		if a.stopped.Load() {
			a.cancelFrom(result, i)
			result.Cancelled = true
			return
		}

		step.Status = StatusRunning
		a.callbacks.stepStart(step.ID, step.Description)
		a.streamStart(step.ID)

		req := codegen.StepRequest{
			Index:            i,
			Description:      step.Description,
			Question:         result.Understanding.UserQuestion,
			WorkingDirectory: result.WorkingDirectory,
			Datasets:         result.Datasets,
			DataDriven:       i > 0 && len(result.Datasets) > 0,
		}
		code, source := a.generator.Generate(ctx, req, a.chunkFunc(step.ID))
		step.Code = code
		step.Source = source

		// A stop during generation lets the call finish but the step is
		// flagged cancelled, not completed.
		if a.stopped.Load() {
			step.Status = StatusCancelled
			a.streamComplete(step.ID, code, false)
			a.cancelFrom(result, i+1)
			result.Cancelled = true
			return
		}

		step.Status = StatusCompleted
		a.streamComplete(step.ID, code, true)
	}
}

func (a *Agent) cancelFrom(result *Result, index int) {
	for _, step := range result.Steps[index:] {
		step.Status = StatusCancelled
	}
}

func (a *Agent) finishCancelled(result *Result) *Result {
	a.setPhase(PhaseCancelled)
	result.Cancelled = true
	result.FinishedAt = time.Now()
	a.recordRun(result, "cancelled")
	a.logger.Info("analysis cancelled", zap.String("run_id", result.RunID))
	return result
}

// GenerateUnifiedNotebook persists the run's steps as one notebook. A
// write failure is a hard error; nothing downstream can compensate.
func (a *Agent) GenerateUnifiedNotebook(ctx context.Context, result *Result, path string) error {
	var cells []notebook.StepCells
	for _, step := range result.Steps {
		if step.Status == StatusCancelled && step.Code == "" {
			continue
		}
		cells = append(cells, notebook.StepCells{
			Description: step.Description,
			Code:        step.Code,
		})
	}

	title := result.Understanding.UserQuestion
	if title == "" {
		title = result.Request
	}
	if err := a.mutator.AppendGenerated(path, title, cells); err != nil {
		return fmt.Errorf("write notebook: %w", err)
	}
	return nil
}

// StartNotebookCodeGeneration runs the pipeline and notebook write in the
// background. The completion callback fires exactly once, with either the
// result or the error, so the caller can release its processing state.
func (a *Agent) StartNotebookCodeGeneration(ctx context.Context, request, notebookPath string, onDone func(*Result, error)) {
	go func() {
		result, err := a.ExecuteAnalysisRequest(ctx, request)
		if err != nil {
			onDone(nil, err)
			return
		}
		if err := a.GenerateUnifiedNotebook(ctx, result, notebookPath); err != nil {
			onDone(result, err)
			return
		}
		onDone(result, nil)
	}()
}

func (a *Agent) streamStart(stepID string) {
	if a.streams == nil {
		return
	}
	if err := a.streams.Start(stepID); err != nil {
		a.logger.Warn("stream session start failed", zap.String("step_id", stepID), zap.Error(err))
	}
}

func (a *Agent) chunkFunc(stepID string) codegen.ChunkFunc {
	if a.streams == nil {
		return nil
	}
	return func(chunk string) {
		if err := a.streams.Chunk(stepID, chunk); err != nil {
			a.logger.Debug("stream chunk dropped", zap.String("step_id", stepID), zap.Error(err))
		}
	}
}

func (a *Agent) streamComplete(stepID, code string, success bool) {
	if a.streams == nil {
		return
	}
	if err := a.streams.Complete(stepID, code, success); err != nil {
		a.logger.Debug("stream completion dropped", zap.String("step_id", stepID), zap.Error(err))
	}
}

func (a *Agent) recordRun(result *Result, status string) {
	if a.hist == nil {
		return
	}
	run := history.Run{
		ID:               result.RunID,
		Request:          result.Request,
		WorkingDirectory: result.WorkingDirectory,
		Status:           status,
		StartedAt:        result.StartedAt,
		FinishedAt:       result.FinishedAt,
	}
	for _, ref := range result.Datasets {
		run.Datasets = append(run.Datasets, ref.ID)
	}
	for i, step := range result.Steps {
		run.Steps = append(run.Steps, history.StepRecord{
			Index:       i,
			Description: step.Description,
			Status:      string(step.Status),
			Source:      string(step.Source),
		})
	}
	if err := a.hist.Record(run); err != nil {
		a.logger.Warn("history record failed", zap.String("run_id", result.RunID), zap.Error(err))
	}
}
