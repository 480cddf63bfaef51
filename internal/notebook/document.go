// Package notebook reads, mutates, and persists Jupyter notebooks. The
// on-disk shape is nbformat 4 JSON; writes always serialize the whole
// document to a temp file and rename it into place so a partial write can
// never leave an invalid notebook behind.
package notebook

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	CellMarkdown = "markdown"
	CellCode     = "code"

	nbFormat      = 4
	nbFormatMinor = 4
)

// Cell is one notebook cell. Code cells carry outputs and an execution
// count; markdown cells carry neither.
type Cell struct {
	CellType       string         `json:"cell_type"`
	Metadata       map[string]any `json:"metadata"`
	Source         []string       `json:"source"`
	Outputs        []any          `json:"outputs,omitempty"`
	ExecutionCount *int           `json:"execution_count,omitempty"`
}

// MarshalJSON keeps code cells interoperable: outputs is always present
// (empty list, never omitted) and execution_count is present even when
// null. Markdown cells omit both.
func (c Cell) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"cell_type": c.CellType,
		"metadata":  c.Metadata,
		"source":    c.Source,
	}
	if c.Metadata == nil {
		m["metadata"] = map[string]any{}
	}
	if c.CellType == CellCode {
		outputs := c.Outputs
		if outputs == nil {
			outputs = []any{}
		}
		m["outputs"] = outputs
		m["execution_count"] = c.ExecutionCount
	}
	return json.Marshal(m)
}

// SourceText joins the cell's source lines back into one string.
func (c Cell) SourceText() string {
	return strings.Join(c.Source, "")
}

// Document is an nbformat 4 notebook.
type Document struct {
	Cells         []Cell         `json:"cells"`
	Metadata      map[string]any `json:"metadata"`
	NBFormat      int            `json:"nbformat"`
	NBFormatMinor int            `json:"nbformat_minor"`
}

// NewDocument returns an empty notebook with the fixed python3 kernelspec.
func NewDocument() *Document {
	return &Document{
		Cells: []Cell{},
		Metadata: map[string]any{
			"kernelspec": map[string]any{
				"display_name": "Python 3",
				"language":     "python",
				"name":         "python3",
			},
			"language_info": map[string]any{
				"name":    "python",
				"version": "3",
			},
		},
		NBFormat:      nbFormat,
		NBFormatMinor: nbFormatMinor,
	}
}

// AppendMarkdown appends a markdown cell. Cell order is append-stable:
// existing indices never change.
func (d *Document) AppendMarkdown(text string) {
	d.Cells = append(d.Cells, Cell{
		CellType: CellMarkdown,
		Metadata: map[string]any{},
		Source:   splitSource(text),
	})
}

// AppendCode appends a code cell with no outputs and a null execution count.
func (d *Document) AppendCode(code string) {
	d.Cells = append(d.Cells, Cell{
		CellType: CellCode,
		Metadata: map[string]any{},
		Source:   splitSource(code),
		Outputs:  []any{},
	})
}

// splitSource converts text into the nbformat source-line convention:
// every line keeps its trailing newline except the last.
func splitSource(text string) []string {
	if text == "" {
		return []string{}
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// Read parses a notebook file.
func Read(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read notebook %s: %w", path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse notebook %s: %w", path, err)
	}
	if doc.Cells == nil {
		doc.Cells = []Cell{}
	}
	return &doc, nil
}

// ReadOrNew parses the file if it exists, otherwise returns an empty
// document ready for appends.
func ReadOrNew(path string) (*Document, error) {
	doc, err := Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDocument(), nil
		}
		return nil, err
	}
	return doc, nil
}

// Write serializes the whole document and atomically replaces the file:
// temp file in the same directory, then rename.
func Write(path string, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", " ")
	if err != nil {
		return fmt.Errorf("serialize notebook: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create notebook directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".ipynb-*")
	if err != nil {
		return fmt.Errorf("create temp notebook: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp notebook: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp notebook: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace notebook %s: %w", path, err)
	}
	return nil
}
