package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"genebench/internal/codegen"
	"genebench/internal/dataset"
	"genebench/internal/history"
	"genebench/internal/notebook"
	"genebench/internal/workspace"
)

// scriptedClient answers the planning prompt with a fixed plan and every
// generation prompt with fenced code. It can block on a gate to let tests
// stop the agent mid-generation.
type scriptedClient struct {
	mu        sync.Mutex
	planErr   error
	genCalls  int
	gate      chan struct{} // if set, generation waits on it once
	gateUsed  bool
	planReply string
}

func newScriptedClient() *scriptedClient {
	return &scriptedClient{
		planReply: `UNDERSTANDING:
Find differentially expressed genes in GSE555.

STEPS:
1. Download GSE555 expression data from GEO
2. Perform differential expression analysis between groups
3. Generate a volcano plot of the significant genes

DATA_NEEDED:
- GSE555

OUTPUTS:
- differential expression table
- volcano plot`,
	}
}

func (c *scriptedClient) Ask(ctx context.Context, question string) (string, error) {
	if strings.Contains(question, "STEPS:") && strings.Contains(question, "UNDERSTANDING:") {
		if c.planErr != nil {
			return "", c.planErr
		}
		return c.planReply, nil
	}

	c.mu.Lock()
	c.genCalls++
	gate := c.gate
	used := c.gateUsed
	c.gateUsed = true
	c.mu.Unlock()

	if gate != nil && !used {
		<-gate
	}
	code := fmt.Sprintf("import pandas as pd\nprint('step code %d')\ndf = pd.DataFrame()", c.genCalls)
	return "```python\n" + code + "\n```", nil
}

func (c *scriptedClient) AskWithContext(ctx context.Context, question, contextInfo string) (string, error) {
	return c.Ask(ctx, question)
}

func (c *scriptedClient) generationCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.genCalls
}

func newTestAgent(t *testing.T, client *scriptedClient) (*Agent, *notebook.Store) {
	t.Helper()
	store, err := notebook.NewStore(nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(store.Close)

	return New(Options{
		Client:     client,
		Resolver:   dataset.NewResolver(dataset.ResolverConfig{}),
		Workspaces: workspace.NewManager(t.TempDir(), nil),
		Generator:  codegen.NewGenerator(client, nil),
		Mutator:    notebook.NewMutator(store, client, nil),
	}), store
}

func TestExecuteAnalysisRequestEndToEnd(t *testing.T) {
	client := newScriptedClient()
	a, _ := newTestAgent(t, client)

	result, err := a.ExecuteAnalysisRequest(t.Context(), "Find differentially expressed genes in GSE555")
	if err != nil {
		t.Fatalf("ExecuteAnalysisRequest failed: %v", err)
	}

	if len(result.Steps) != 3 {
		t.Fatalf("Expected 3 steps, got %d", len(result.Steps))
	}
	var hasDEGStep bool
	for _, step := range result.Steps {
		if strings.Contains(strings.ToLower(step.Description), "differential") {
			hasDEGStep = true
		}
		if step.Status != StatusCompleted {
			t.Errorf("Step %q not completed: %s", step.Description, step.Status)
		}
		if step.Code == "" {
			t.Errorf("Step %q has no code", step.Description)
		}
	}
	if !hasDEGStep {
		t.Error("Plan missing a differential expression step")
	}

	if len(result.Datasets) != 1 || result.Datasets[0].ID != "GSE555" {
		t.Errorf("Dataset resolution wrong: %+v", result.Datasets)
	}

	for _, sub := range workspace.Subdirs() {
		if _, err := os.Stat(filepath.Join(result.WorkingDirectory, sub)); err != nil {
			t.Errorf("Workspace missing %s: %v", sub, err)
		}
	}
	if a.Phase() != PhaseDone {
		t.Errorf("Expected done phase, got %s", a.Phase())
	}
}

func TestExecuteMergesSelectedDatasets(t *testing.T) {
	client := newScriptedClient()
	a, _ := newTestAgent(t, client)

	selected := []dataset.Ref{
		{ID: "GSE555", Source: "local", LocalPath: "/data/GSE555", IsLocalDirectory: true},
		{ID: "counts.csv", Source: "local", LocalPath: "/data/counts.csv"},
	}
	result, err := a.ExecuteAnalysisRequest(t.Context(),
		"Find differentially expressed genes in GSE555", selected...)
	if err != nil {
		t.Fatalf("ExecuteAnalysisRequest failed: %v", err)
	}

	// The resolver also finds GSE555; the merge must keep one entry and
	// prefer the user's local copy.
	if len(result.Datasets) != 2 {
		t.Fatalf("Expected 2 datasets after merge, got %+v", result.Datasets)
	}
	if result.Datasets[0].ID != "GSE555" || result.Datasets[0].LocalPath != "/data/GSE555" {
		t.Errorf("Selected local GSE555 lost in merge: %+v", result.Datasets[0])
	}
	if !result.Datasets[0].IsLocalDirectory {
		t.Error("Local directory flag dropped in merge")
	}
	if result.Datasets[1].ID != "counts.csv" {
		t.Errorf("Selected file missing: %+v", result.Datasets[1])
	}
}

func TestExecutePlanningFailureUsesFallback(t *testing.T) {
	client := newScriptedClient()
	client.planErr = fmt.Errorf("llm down")
	a, _ := newTestAgent(t, client)

	result, err := a.ExecuteAnalysisRequest(t.Context(), "analyze my data")
	if err != nil {
		t.Fatalf("Pipeline should survive a planning failure: %v", err)
	}
	if len(result.Steps) == 0 {
		t.Error("Fallback plan produced no steps")
	}
}

func TestStopBeforeRunCancelsAllSteps(t *testing.T) {
	client := newScriptedClient()
	a, _ := newTestAgent(t, client)

	// Block the first generation call so Stop lands mid-step.
	client.gate = make(chan struct{})
	done := make(chan *Result, 1)
	go func() {
		result, err := a.ExecuteAnalysisRequest(context.Background(), "Find DEGs in GSE555")
		if err != nil {
			t.Errorf("ExecuteAnalysisRequest failed: %v", err)
		}
		done <- result
	}()

	// Wait for the first generation call to block on the gate, then stop.
	deadline := time.Now().Add(2 * time.Second)
	for client.generationCalls() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Generation never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	a.Stop()
	close(client.gate)

	result := <-done
	if !result.Cancelled {
		t.Fatal("Result not flagged cancelled")
	}
	// The in-flight step finished its call but is cancelled, not completed.
	if result.Steps[0].Status != StatusCancelled {
		t.Errorf("In-flight step status = %s, want cancelled", result.Steps[0].Status)
	}
	if result.Steps[0].Code == "" {
		t.Error("In-flight step should keep its generated code")
	}
	for _, step := range result.Steps[1:] {
		if step.Status != StatusCancelled {
			t.Errorf("Later step %q not cancelled: %s", step.Description, step.Status)
		}
	}
	// Generator must not have been invoked for the later steps.
	if calls := client.generationCalls(); calls != 1 {
		t.Errorf("Generator invoked %d times after stop, want 1", calls)
	}
	if a.Phase() != PhaseCancelled {
		t.Errorf("Expected cancelled phase, got %s", a.Phase())
	}
}

func TestGenerateUnifiedNotebook(t *testing.T) {
	client := newScriptedClient()
	a, _ := newTestAgent(t, client)

	result, err := a.ExecuteAnalysisRequest(t.Context(), "Find differentially expressed genes in GSE555")
	if err != nil {
		t.Fatalf("ExecuteAnalysisRequest failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "analysis.ipynb")
	if err := a.GenerateUnifiedNotebook(t.Context(), result, path); err != nil {
		t.Fatalf("GenerateUnifiedNotebook failed: %v", err)
	}

	doc, err := notebook.Read(path)
	if err != nil {
		t.Fatalf("Notebook unreadable: %v", err)
	}
	var firstCode string
	for _, cell := range doc.Cells {
		if cell.CellType == notebook.CellCode {
			firstCode = cell.SourceText()
			break
		}
	}
	if strings.TrimSpace(firstCode) == "" {
		t.Error("First code cell is empty")
	}
}

func TestStartNotebookCodeGenerationCallback(t *testing.T) {
	client := newScriptedClient()
	a, _ := newTestAgent(t, client)

	path := filepath.Join(t.TempDir(), "bg.ipynb")
	done := make(chan error, 1)
	a.StartNotebookCodeGeneration(context.Background(), "Find DEGs in GSE555", path, func(result *Result, err error) {
		if err == nil && result == nil {
			err = fmt.Errorf("callback fired with neither result nor error")
		}
		done <- err
	})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Background generation failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Completion callback never fired")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Notebook not written: %v", err)
	}
}

func TestRunRecordedInHistory(t *testing.T) {
	client := newScriptedClient()
	hist, err := history.NewStore(filepath.Join(t.TempDir(), "h.db"), nil)
	if err != nil {
		t.Fatalf("history.NewStore failed: %v", err)
	}
	t.Cleanup(func() { hist.Close() })

	store, err := notebook.NewStore(nil)
	if err != nil {
		t.Fatalf("notebook.NewStore failed: %v", err)
	}
	t.Cleanup(store.Close)

	a := New(Options{
		Client:     client,
		Resolver:   dataset.NewResolver(dataset.ResolverConfig{}),
		Workspaces: workspace.NewManager(t.TempDir(), nil),
		Generator:  codegen.NewGenerator(client, nil),
		Mutator:    notebook.NewMutator(store, client, nil),
		History:    hist,
	})

	result, err := a.ExecuteAnalysisRequest(t.Context(), "Find DEGs in GSE555")
	if err != nil {
		t.Fatalf("ExecuteAnalysisRequest failed: %v", err)
	}

	run, err := hist.Get(result.RunID)
	if err != nil {
		t.Fatalf("Run not in history: %v", err)
	}
	if run.Status != "completed" {
		t.Errorf("History status = %s, want completed", run.Status)
	}
	if len(run.Steps) != len(result.Steps) {
		t.Errorf("History has %d steps, want %d", len(run.Steps), len(result.Steps))
	}
	if len(run.Datasets) != 1 || run.Datasets[0] != "GSE555" {
		t.Errorf("History datasets wrong: %v", run.Datasets)
	}
}

func TestStatusCallbacksEmitted(t *testing.T) {
	client := newScriptedClient()
	var mu sync.Mutex
	var statuses []string
	var stepEvents []StepEvent

	store, err := notebook.NewStore(nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(store.Close)

	a := New(Options{
		Client:     client,
		Resolver:   dataset.NewResolver(dataset.ResolverConfig{}),
		Workspaces: workspace.NewManager(t.TempDir(), nil),
		Generator:  codegen.NewGenerator(client, nil),
		Mutator:    notebook.NewMutator(store, client, nil),
		Callbacks: Callbacks{
			OnStatus: func(e StatusEvent) {
				mu.Lock()
				statuses = append(statuses, e.Status)
				mu.Unlock()
			},
			OnStepStart: func(e StepEvent) {
				mu.Lock()
				stepEvents = append(stepEvents, e)
				mu.Unlock()
			},
		},
	})

	result, err := a.ExecuteAnalysisRequest(t.Context(), "Find DEGs in GSE555")
	if err != nil {
		t.Fatalf("ExecuteAnalysisRequest failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, want := range []string{"understanding", "resolving_data", "creating_workspace"} {
		var found bool
		for _, s := range statuses {
			if s == want {
				found = true
			}
		}
		if !found {
			t.Errorf("Status %q never emitted (got %v)", want, statuses)
		}
	}
	if len(stepEvents) != len(result.Steps) {
		t.Errorf("Step events: got %d, want %d", len(stepEvents), len(result.Steps))
	}
	for i, e := range stepEvents {
		if e.StepID != result.Steps[i].ID {
			t.Errorf("Step event %d id mismatch", i)
		}
	}
}
