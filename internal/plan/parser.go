package plan

import (
	"regexp"
	"strings"
)

// minStepLength is the minimum step text length; shorter ordinal fragments
// are treated as formatting noise and discarded.
const minStepLength = 10

// maxLooseSteps caps the sentence-level fallback extraction.
const maxLooseSteps = 6

var (
	ordinalRe = regexp.MustCompile(`^\s*(\d+)[.)]\s+(.+)$`)
	bulletRe  = regexp.MustCompile(`^\s*[-*•]\s+(.+)$`)

	// stepVerbs mark sentences that look like analysis steps in free prose.
	stepVerbs = []string{"step", "analyze", "download", "perform", "generate"}
)

type section int

const (
	sectionNone section = iota
	sectionUnderstanding
	sectionSteps
	sectionData
	sectionOutputs
)

// Parse converts one LLM planning response into an Understanding.
// The request string is the user's original free-text request; it is used
// as the question when the response carries no restatement, and seeds the
// fallback plan when nothing can be extracted.
func Parse(response, request string) *Understanding {
	u := &Understanding{UserQuestion: request}

	var summary []string
	current := sectionNone

	for _, raw := range strings.Split(response, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if next, ok := sectionHeader(line); ok {
			current = next
			continue
		}

		switch current {
		case sectionUnderstanding:
			summary = append(summary, line)
		case sectionSteps:
			if m := ordinalRe.FindStringSubmatch(line); m != nil {
				text := strings.TrimSpace(m[2])
				if len(text) > minStepLength {
					u.RequiredSteps = append(u.RequiredSteps, text)
				}
			}
		case sectionData:
			u.DataNeeded = append(u.DataNeeded, listItems(line)...)
		case sectionOutputs:
			u.ExpectedOutputs = append(u.ExpectedOutputs, listItems(line)...)
		}
	}

	if len(summary) > 0 {
		u.UserQuestion = strings.Join(summary, " ")
	}

	// Structural parse found nothing: fall back to loose extraction, then
	// to the canned plan. RequiredSteps must never be empty.
	if len(u.RequiredSteps) == 0 {
		u.RequiredSteps = extractLooseSteps(response)
	}
	if len(u.RequiredSteps) == 0 {
		fallback := FallbackPlan(request)
		u.RequiredSteps = fallback.RequiredSteps
		if len(u.DataNeeded) == 0 {
			u.DataNeeded = fallback.DataNeeded
		}
		if len(u.ExpectedOutputs) == 0 {
			u.ExpectedOutputs = fallback.ExpectedOutputs
		}
	}

	return u
}

// sectionHeader recognizes the planning response section markers.
func sectionHeader(line string) (section, bool) {
	upper := strings.ToUpper(line)
	switch {
	case strings.HasPrefix(upper, "UNDERSTANDING:"):
		return sectionUnderstanding, true
	case strings.HasPrefix(upper, "STEPS:"):
		return sectionSteps, true
	case strings.HasPrefix(upper, "DATA_NEEDED:"), strings.HasPrefix(upper, "DATA NEEDED:"):
		return sectionData, true
	case strings.HasPrefix(upper, "OUTPUTS:"):
		return sectionOutputs, true
	}
	return sectionNone, false
}

// listItems accepts a bullet line or a comma-separated list line.
func listItems(line string) []string {
	if m := bulletRe.FindStringSubmatch(line); m != nil {
		line = m[1]
	}
	var items []string
	for _, part := range strings.Split(line, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			items = append(items, part)
		}
	}
	return items
}

// extractLooseSteps scans an unstructured response for step-like lines:
// first ordinal/bulleted lines anywhere in the text, then sentences
// containing step-indicative verbs, capped at maxLooseSteps.
func extractLooseSteps(response string) []string {
	var steps []string

	for _, raw := range strings.Split(response, "\n") {
		line := strings.TrimSpace(raw)
		var text string
		if m := ordinalRe.FindStringSubmatch(line); m != nil {
			text = strings.TrimSpace(m[2])
		} else if m := bulletRe.FindStringSubmatch(line); m != nil {
			text = strings.TrimSpace(m[1])
		}
		if len(text) > minStepLength {
			steps = append(steps, text)
		}
	}
	if len(steps) > 0 {
		return steps
	}

	// Last resort before the canned plan: sentences that mention a step verb.
	for _, sentence := range splitSentences(response) {
		lower := strings.ToLower(sentence)
		for _, verb := range stepVerbs {
			if strings.Contains(lower, verb) {
				steps = append(steps, sentence)
				break
			}
		}
		if len(steps) >= maxLooseSteps {
			break
		}
	}
	return steps
}

func splitSentences(text string) []string {
	var sentences []string
	for _, chunk := range regexp.MustCompile(`[.!?\n]+`).Split(text, -1) {
		chunk = strings.TrimSpace(chunk)
		if len(chunk) > minStepLength {
			sentences = append(sentences, chunk)
		}
	}
	return sentences
}
