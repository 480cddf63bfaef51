package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"genebench/internal/agent"
	"genebench/internal/codegen"
	"genebench/internal/dataset"
	"genebench/internal/history"
	"genebench/internal/llm"
	"genebench/internal/notebook"
	"genebench/internal/stream"
	"genebench/internal/workspace"
)

var (
	notebookOut  string
	noHistory    bool
	datasetFlags []string
)

var runCmd = &cobra.Command{
	Use:   "run [request]",
	Short: "Run an analysis request end to end",
	Long: `Plans the request, resolves datasets, creates a workspace, generates
code for each step, and writes the notebook into the workspace.

Example:
  genebench run "Find differentially expressed genes in GSE555"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalysis,
}

func init() {
	runCmd.Flags().StringVarP(&notebookOut, "output", "o", "", "notebook path (default: <workspace>/analysis.ipynb)")
	runCmd.Flags().BoolVar(&noHistory, "no-history", false, "skip recording this run in the history database")
	runCmd.Flags().StringArrayVarP(&datasetFlags, "dataset", "d", nil, "dataset to use: a local file/directory path or a GEO accession (repeatable)")
}

func runAnalysis(cmd *cobra.Command, args []string) error {
	request := strings.Join(args, " ")
	ctx := cmd.Context()

	client, err := llm.NewClient(ctx, cfg.LLM)
	if err != nil {
		return err
	}

	searcher := dataset.NewHTTPSearchClient(dataset.SearchClientConfig{
		BaseURL: cfg.Search.BaseURL,
		Timeout: cfg.SearchTimeout(),
		OnProgress: func(p dataset.Progress) {
			fmt.Printf("  [%3d%%] %s\n", p.Progress, p.Message)
		},
	})

	resolver := dataset.NewResolver(dataset.ResolverConfig{
		Searcher:   searcher,
		LLMClient:  client,
		Logger:     logger,
		Timeout:    cfg.SearchTimeout(),
		MaxResults: cfg.Search.MaxResults,
	})

	var hist *history.Store
	if cfg.History.Enabled && !noHistory {
		hist, err = history.NewStore(cfg.History.DatabasePath, logger)
		if err != nil {
			logger.Warn("history store unavailable", zap.Error(err))
		} else {
			defer hist.Close()
		}
	}

	store, err := notebook.NewStore(logger)
	if err != nil {
		return err
	}
	defer store.Close()

	streams := stream.NewOrchestrator(&consoleSink{}, logger)
	defer streams.Close()

	a := agent.New(agent.Options{
		Client:     client,
		Resolver:   resolver,
		Workspaces: workspace.NewManager(cfg.Workspace.Root, logger),
		Generator:  codegen.NewGenerator(client, logger),
		Streams:    streams,
		Mutator:    notebook.NewMutator(store, client, logger),
		History:    hist,
		Logger:     logger,
		Callbacks: agent.Callbacks{
			OnStatus: func(e agent.StatusEvent) {
				fmt.Printf("==> %s\n", e.Message)
			},
			OnStepStart: func(e agent.StepEvent) {
				fmt.Printf("--> generating: %s\n", e.StepDescription)
			},
		},
	})

	selected, err := selectedDatasets(datasetFlags)
	if err != nil {
		return err
	}

	result, err := a.ExecuteAnalysisRequest(ctx, request, selected...)
	if err != nil {
		return err
	}
	if result.Cancelled {
		fmt.Println("Run cancelled.")
		return nil
	}

	out := notebookOut
	if out == "" {
		out = filepath.Join(result.WorkingDirectory, "analysis.ipynb")
	}
	if err := a.GenerateUnifiedNotebook(ctx, result, out); err != nil {
		return err
	}

	fmt.Printf("\nWorkspace: %s\n", result.WorkingDirectory)
	fmt.Printf("Notebook:  %s\n", out)
	if len(result.Datasets) > 0 {
		var ids []string
		for _, d := range result.Datasets {
			ids = append(ids, d.ID)
		}
		fmt.Printf("Datasets:  %s\n", strings.Join(ids, ", "))
	}
	fmt.Printf("Steps:     %d", len(result.Steps))
	templated := 0
	for _, s := range result.Steps {
		if s.Source == codegen.SourceTemplate {
			templated++
		}
	}
	if templated > 0 {
		fmt.Printf(" (%d from fallback templates)", templated)
	}
	fmt.Println()
	return nil
}

// selectedDatasets turns --dataset values into refs. A value that resolves
// to an existing path becomes a local dataset; anything else is treated as
// an accession for the resolver to confirm.
func selectedDatasets(values []string) ([]dataset.Ref, error) {
	var refs []dataset.Ref
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if info, err := os.Stat(v); err == nil {
			abs, err := filepath.Abs(v)
			if err != nil {
				return nil, fmt.Errorf("resolve dataset path %q: %w", v, err)
			}
			refs = append(refs, dataset.Ref{
				ID:               filepath.Base(abs),
				Source:           "local",
				LocalPath:        abs,
				IsLocalDirectory: info.IsDir(),
			})
			continue
		}
		refs = append(refs, dataset.Ref{ID: v, Source: "GEO"})
	}
	return refs, nil
}

// consoleSink renders streaming updates as terminal progress lines.
type consoleSink struct{}

func (consoleSink) MessageStarted(stepID, messageID string) {}

func (consoleSink) MessageUpdated(stepID, messageID, accumulated string) {
	fmt.Printf("\r    %d chars received", len(accumulated))
}

func (consoleSink) MessageCompleted(stepID, messageID, finalCode string, success bool) {
	status := "done"
	if !success {
		status = "discarded"
	}
	fmt.Printf("\r    %s (%d chars)\n", status, len(finalCode))
}

func (consoleSink) MessageFailed(stepID, messageID string, err error) {
	fmt.Printf("\r    failed: %v\n", err)
}
