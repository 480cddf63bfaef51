// Package plan turns a free-form LLM planning response into a structured
// Understanding of the user's analysis request.
//
// Parsing is resilient by contract: a structural section parse is tried
// first, then a loose heuristic extraction over the whole response, then a
// canned generic plan. Callers never receive an empty step list.
package plan

import "strings"

// Understanding is the structured breakdown of one analysis request.
// It is produced once per request and never mutated afterwards; a new
// request creates a new Understanding.
type Understanding struct {
	// UserQuestion is the question being answered: the LLM's restatement
	// when the response carried one, otherwise the original request.
	UserQuestion string `json:"user_question"`

	// RequiredSteps are the analysis steps in plan order. Never empty.
	RequiredSteps []string `json:"required_steps"`

	// DataNeeded lists datasets or data kinds the plan depends on.
	DataNeeded []string `json:"data_needed"`

	// ExpectedOutputs lists the artifacts the analysis should produce.
	ExpectedOutputs []string `json:"expected_outputs"`
}

// PromptFor builds the planning prompt sent to the LLM backend.
// The response format it requests is what Parse understands.
func PromptFor(request string) string {
	var b strings.Builder
	b.WriteString("You are a bioinformatics analysis planner. Break the following request into an executable plan.\n\n")
	b.WriteString("Request: ")
	b.WriteString(request)
	b.WriteString("\n\nRespond in exactly this format:\n")
	b.WriteString("UNDERSTANDING:\n<one-sentence restatement of the goal>\n\n")
	b.WriteString("STEPS:\n1. <first step>\n2. <second step>\n...\n\n")
	b.WriteString("DATA_NEEDED:\n- <dataset accession or data kind>\n...\n\n")
	b.WriteString("OUTPUTS:\n- <expected output artifact>\n...\n")
	return b.String()
}

// FallbackPlan returns the fixed generic plan used when the LLM call itself
// fails. The pipeline never halts on a planning failure.
func FallbackPlan(request string) *Understanding {
	return &Understanding{
		UserQuestion: request,
		RequiredSteps: []string{
			"Download and load the relevant datasets into the analysis environment",
			"Preprocess and normalize the expression data for analysis",
			"Perform the core statistical analysis appropriate to the question",
			"Generate visualizations summarizing the main findings",
			"Save results tables and figures to the output directories",
		},
		DataNeeded:      []string{"gene expression data"},
		ExpectedOutputs: []string{"results tables", "figures"},
	}
}
