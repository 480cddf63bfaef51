package notebook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"genebench/internal/codegen"
	"genebench/internal/llm"
)

// StepCells is one generated step destined for the notebook: a markdown
// header plus the step's code.
type StepCells struct {
	Description string
	Code        string
}

// Mutator appends generated analysis cells and performs targeted LLM cell
// edits, always rewriting the whole file atomically through the Store.
type Mutator struct {
	store  *Store
	client llm.Client
	logger *zap.Logger
}

// NewMutator creates a notebook mutator.
func NewMutator(store *Store, client llm.Client, logger *zap.Logger) *Mutator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mutator{store: store, client: client, logger: logger}
}

// AppendGenerated builds the run's cells onto the notebook at path: one
// intro markdown cell, then a markdown header and a code cell per step.
// Starts from the existing document when the file is already a notebook.
func (m *Mutator) AppendGenerated(path, title string, steps []StepCells) error {
	doc, err := ReadOrNew(path)
	if err != nil {
		return err
	}

	var intro strings.Builder
	fmt.Fprintf(&intro, "# %s\n\n", title)
	fmt.Fprintf(&intro, "Generated on %s.\n", time.Now().Format("2006-01-02 15:04"))
	doc.AppendMarkdown(intro.String())

	for i, step := range steps {
		doc.AppendMarkdown(fmt.Sprintf("## Step %d: %s", i+1, step.Description))
		doc.AppendCode(step.Code)
	}

	if err := m.store.Save(path, doc); err != nil {
		return err
	}
	m.logger.Info("notebook written",
		zap.String("path", path), zap.Int("steps", len(steps)))
	return nil
}

// EditCellRange rewrites lines [startLine, endLine] (1-based, inclusive)
// of the cell at cellIndex according to the instruction. The selected
// window plus the rest of the cell go to the LLM; only the window is
// replaced. Pass startLine <= 0 to target the whole cell.
func (m *Mutator) EditCellRange(ctx context.Context, path string, cellIndex, startLine, endLine int, instruction string) error {
	doc, err := m.store.Load(path)
	if err != nil {
		return err
	}
	if cellIndex < 0 || cellIndex >= len(doc.Cells) {
		return fmt.Errorf("cell index %d out of range (notebook has %d cells)", cellIndex, len(doc.Cells))
	}

	cell := doc.Cells[cellIndex]
	source := cell.SourceText()
	start, end := resolveWindow(source, startLine, endLine)
	window := source[start:end]

	rewritten, err := m.rewriteWindow(ctx, source, window, instruction)
	if err != nil {
		return fmt.Errorf("edit cell %d: %w", cellIndex, err)
	}

	doc.Cells[cellIndex].Source = splitSource(source[:start] + rewritten + source[end:])
	if err := m.store.Save(path, doc); err != nil {
		return err
	}
	m.logger.Info("notebook cell edited",
		zap.String("path", path), zap.Int("cell", cellIndex),
		zap.Int("start_line", startLine), zap.Int("end_line", endLine))
	return nil
}

func (m *Mutator) rewriteWindow(ctx context.Context, fullSource, window, instruction string) (string, error) {
	prompt := fmt.Sprintf(
		"Rewrite the following Python code according to the instruction. "+
			"Respond with a single fenced code block containing only the rewritten code, nothing else.\n\n"+
			"Instruction: %s\n\nCode to rewrite:\n```python\n%s\n```",
		instruction, window)

	response, err := m.client.AskWithContext(ctx, prompt,
		"Full cell for context:\n```python\n"+fullSource+"\n```")
	if err != nil {
		return "", err
	}

	code, err := codegen.ExtractCode(response)
	if err != nil {
		// No fenced block and no code-looking lines: take the raw
		// response so short rewrites like a single comment still land.
		code = strings.TrimSpace(response)
		if code == "" {
			return "", fmt.Errorf("empty rewrite response")
		}
	}
	return code, nil
}

// resolveWindow maps a 1-based inclusive line range onto character offsets
// in source. Out-of-range values clamp; a non-positive startLine selects
// the whole source.
func resolveWindow(source string, startLine, endLine int) (int, int) {
	if startLine <= 0 {
		return 0, len(source)
	}

	lines := strings.SplitAfter(source, "\n")
	if endLine < startLine {
		endLine = startLine
	}
	if startLine > len(lines) {
		return len(source), len(source)
	}
	if endLine > len(lines) {
		endLine = len(lines)
	}

	start := 0
	for i := 0; i < startLine-1; i++ {
		start += len(lines[i])
	}
	end := start
	for i := startLine - 1; i < endLine; i++ {
		end += len(lines[i])
	}
	return start, end
}
