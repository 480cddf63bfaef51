package codegen

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"genebench/internal/dataset"
	"genebench/internal/llm"
)

// CodeSource records which fallback tier produced a step's code.
type CodeSource string

const (
	SourceModel    CodeSource = "model"    // extracted from the LLM response
	SourceTemplate CodeSource = "template" // keyword-classified fallback
)

// StepRequest carries everything the generator needs for one step.
type StepRequest struct {
	// Index is the zero-based step position within the plan.
	Index int

	// Description is the step text from the plan.
	Description string

	// Question is the user's original analysis question.
	Question string

	// WorkingDirectory is the run's workspace path.
	WorkingDirectory string

	// Datasets are the refs resolved for this run.
	Datasets []dataset.Ref

	// DataDriven marks runs whose prior steps load data into the
	// expression_data / sample_metadata bindings.
	DataDriven bool
}

// ChunkFunc receives incremental response text during streaming generation.
type ChunkFunc func(chunk string)

// Generator produces one code artifact per analysis step.
type Generator struct {
	client llm.Client
	logger *zap.Logger
}

// NewGenerator creates a step code generator.
func NewGenerator(client llm.Client, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{client: client, logger: logger}
}

// Generate produces code for one step. The LLM response is streamed through
// onChunk when the client supports it (onChunk may be nil). Generation
// never fails: an LLM error, an unextractable response, or code shorter
// than the executable threshold all degrade to the templated fallback.
func (g *Generator) Generate(ctx context.Context, req StepRequest, onChunk ChunkFunc) (string, CodeSource) {
	response, err := g.askModel(ctx, req, onChunk)
	if err != nil {
		g.logger.Warn("step generation LLM call failed, using template",
			zap.Int("step", req.Index), zap.Error(err))
		return FallbackCode(req.Description, req.Datasets), SourceTemplate
	}

	code, err := ExtractCode(response)
	if err != nil || len(code) < minCodeLength {
		g.logger.Info("extracted code unusable, using template",
			zap.Int("step", req.Index),
			zap.Int("code_length", len(code)),
			zap.Error(err))
		return FallbackCode(req.Description, req.Datasets), SourceTemplate
	}

	return code, SourceModel
}

func (g *Generator) askModel(ctx context.Context, req StepRequest, onChunk ChunkFunc) (string, error) {
	prompt := BuildPrompt(req)

	streamer, ok := g.client.(llm.StreamingClient)
	if !ok || onChunk == nil {
		return g.client.Ask(ctx, prompt)
	}

	contentChan, errorChan := streamer.AskStreaming(ctx, prompt, "")
	var full strings.Builder
	for chunk := range contentChan {
		full.WriteString(chunk)
		onChunk(chunk)
	}
	if err := <-errorChan; err != nil {
		return "", err
	}
	if full.Len() == 0 {
		return "", fmt.Errorf("empty streaming response")
	}
	return full.String(), nil
}

// BuildPrompt assembles the per-step generation prompt: step description,
// original question, working directory, resolved datasets, and - for
// data-driven runs - the variable-binding contract prior steps provide.
func BuildPrompt(req StepRequest) string {
	var b strings.Builder

	b.WriteString("Write executable Python code for one step of a bioinformatics analysis.\n\n")
	fmt.Fprintf(&b, "Original question: %s\n", req.Question)
	fmt.Fprintf(&b, "Step %d: %s\n", req.Index+1, req.Description)
	fmt.Fprintf(&b, "Working directory: %s\n", req.WorkingDirectory)

	if len(req.Datasets) > 0 {
		b.WriteString("\nResolved datasets:\n")
		for _, d := range req.Datasets {
			fmt.Fprintf(&b, "- %s", d.ID)
			if d.Samples > 0 {
				fmt.Fprintf(&b, " (%d samples", d.Samples)
				if d.Organism != "" {
					fmt.Fprintf(&b, ", %s", d.Organism)
				}
				b.WriteString(")")
			} else if d.Organism != "" {
				fmt.Fprintf(&b, " (%s)", d.Organism)
			}
			b.WriteString("\n")
		}
	}

	if req.DataDriven {
		b.WriteString("\nPrior steps have already loaded the data. Two dicts keyed by dataset id are in scope:\n")
		b.WriteString("- expression_data: pandas DataFrame of expression values per dataset\n")
		b.WriteString("- sample_metadata: pandas DataFrame of sample annotations per dataset\n")
		b.WriteString("Use them directly; do not re-download.\n")
	}

	b.WriteString("\nSave tables under results/ and figures under figures/.\n")
	b.WriteString("Respond with a single fenced Python code block and no surrounding explanation.\n")
	return b.String()
}
