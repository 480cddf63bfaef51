package codegen

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"genebench/internal/dataset"
)

type fakeClient struct {
	response string
	err      error
	asked    []string
}

func (f *fakeClient) Ask(ctx context.Context, question string) (string, error) {
	f.asked = append(f.asked, question)
	return f.response, f.err
}

func (f *fakeClient) AskWithContext(ctx context.Context, question, contextInfo string) (string, error) {
	return f.Ask(ctx, question)
}

type fakeStreamer struct {
	fakeClient
	chunks []string
}

func (f *fakeStreamer) AskStreaming(ctx context.Context, question, contextInfo string) (<-chan string, <-chan error) {
	contentChan := make(chan string, len(f.chunks))
	errorChan := make(chan error, 1)
	for _, c := range f.chunks {
		contentChan <- c
	}
	close(contentChan)
	errorChan <- f.err
	close(errorChan)
	return contentChan, errorChan
}

func sampleRequest() StepRequest {
	return StepRequest{
		Index:            0,
		Description:      "Perform differential expression analysis",
		Question:         "Find DEGs in GSE555",
		WorkingDirectory: "/tmp/ws",
		Datasets:         []dataset.Ref{{ID: "GSE555", Samples: 12, Organism: "Homo sapiens"}},
	}
}

func TestGenerateUsesModelCode(t *testing.T) {
	code := "import pandas as pd\ndf = pd.read_csv('results/differential_expression.csv')\nprint(df.sort_values('p_value').head())"
	client := &fakeClient{response: "```python\n" + code + "\n```"}
	g := NewGenerator(client, nil)

	got, source := g.Generate(t.Context(), sampleRequest(), nil)
	if source != SourceModel {
		t.Fatalf("Expected model source, got %s", source)
	}
	if got != code {
		t.Errorf("Generated code mangled:\n%s", got)
	}
}

func TestGenerateFallsBackOnError(t *testing.T) {
	client := &fakeClient{err: fmt.Errorf("api unavailable")}
	g := NewGenerator(client, nil)

	got, source := g.Generate(t.Context(), sampleRequest(), nil)
	if source != SourceTemplate {
		t.Fatalf("Expected template source on LLM error, got %s", source)
	}
	if !strings.Contains(got, "GSE555") {
		t.Errorf("Template missing dataset id:\n%s", got)
	}
}

func TestGenerateFallsBackOnProse(t *testing.T) {
	client := &fakeClient{response: "I cannot write code for that particular request, sorry about that."}
	g := NewGenerator(client, nil)

	if _, source := g.Generate(t.Context(), sampleRequest(), nil); source != SourceTemplate {
		t.Errorf("Expected template source for prose response, got %s", source)
	}
}

func TestGenerateFallsBackOnShortCode(t *testing.T) {
	client := &fakeClient{response: "```python\nprint(1)\n```"}
	g := NewGenerator(client, nil)

	if _, source := g.Generate(t.Context(), sampleRequest(), nil); source != SourceTemplate {
		t.Errorf("Expected template source for sub-threshold code, got %s", source)
	}
}

func TestGenerateStreamsChunks(t *testing.T) {
	code := "import scanpy as sc\nadata = sc.read_h5ad('data/expr.h5ad')\nsc.pp.normalize_total(adata)"
	client := &fakeStreamer{chunks: []string{"```python\n", code, "\n```"}}
	g := NewGenerator(client, nil)

	var received []string
	got, source := g.Generate(t.Context(), sampleRequest(), func(chunk string) {
		received = append(received, chunk)
	})

	if source != SourceModel {
		t.Fatalf("Expected model source, got %s", source)
	}
	if got != code {
		t.Errorf("Streamed code mangled:\n%s", got)
	}
	if len(received) != 3 {
		t.Errorf("Expected 3 chunks, got %d", len(received))
	}
}

func TestGenerateStreamErrorFallsBack(t *testing.T) {
	client := &fakeStreamer{
		chunks:     []string{"partial"},
		fakeClient: fakeClient{err: fmt.Errorf("stream cut")},
	}
	g := NewGenerator(client, nil)

	if _, source := g.Generate(t.Context(), sampleRequest(), func(string) {}); source != SourceTemplate {
		t.Errorf("Expected template source after stream error, got %s", source)
	}
}

func TestBuildPromptContents(t *testing.T) {
	req := sampleRequest()
	req.DataDriven = true
	prompt := BuildPrompt(req)

	for _, want := range []string{
		"Find DEGs in GSE555",
		"Step 1: Perform differential expression analysis",
		"/tmp/ws",
		"GSE555 (12 samples, Homo sapiens)",
		"expression_data",
		"sample_metadata",
		"results/",
		"figures/",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("Prompt missing %q", want)
		}
	}
}

func TestBuildPromptWithoutDataContract(t *testing.T) {
	prompt := BuildPrompt(sampleRequest())
	if strings.Contains(prompt, "do not re-download") {
		t.Error("Variable-binding contract should be absent when not data driven")
	}
}
