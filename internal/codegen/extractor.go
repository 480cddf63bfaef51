// Package codegen generates one executable Python artifact per analysis
// step, with a three-level fallback chain: structured model output, a
// heuristic scrape of prose-mixed responses, and keyword-classified
// templates. A single bad LLM response never fails a step.
package codegen

import (
	"fmt"
	"regexp"
	"strings"
)

// minCodeLength is the threshold below which extracted code is considered
// too thin to execute and the templated fallback is used instead.
const minCodeLength = 50

// proseWordLimit marks the prose boundary for the heuristic scanner: a
// line with more words than this and no code markers ends accumulation.
const proseWordLimit = 10

var fencedBlockRe = regexp.MustCompile("(?s)```(?:python|py)?\\s*\n(.*?)```")

// codeTokens are line prefixes the heuristic scanner treats as code.
var codeTokens = []string{
	"import ", "from ", "def ", "class ", "print(", "#",
	"for ", "while ", "if ", "elif ", "else:", "try:", "except",
	"with ", "return ", "plt.", "pd.", "np.", "sns.", "sc.",
}

var assignmentRe = regexp.MustCompile(`^\s*[\w.\[\]'"]+\s*(\+|-|\*|/)?=\s*\S`)

// ExtractCode pulls executable code out of an LLM response.
// It tries a fenced code block first, then the heuristic line scanner.
// Extraction is idempotent on a valid fenced block: the block body is
// returned trimmed, unchanged.
func ExtractCode(response string) (string, error) {
	if m := fencedBlockRe.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1]), nil
	}

	code := scanCodeLines(response)
	if code == "" {
		return "", fmt.Errorf("no code found in response")
	}
	return code, nil
}

// scanCodeLines accumulates consecutive code-looking lines and stops when
// the response drifts back into prose.
func scanCodeLines(response string) string {
	var lines []string
	collecting := false

	for _, raw := range strings.Split(response, "\n") {
		line := strings.TrimRight(raw, " \t")
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			if collecting {
				lines = append(lines, "")
			}
			continue
		}

		if isCodeLine(trimmed) {
			collecting = true
			lines = append(lines, line)
			continue
		}

		// A prose line after code has started ends the scan.
		if collecting && isProse(trimmed) {
			break
		}
		if collecting {
			// Short non-code line inside a code run: keep it, it is
			// likely a continuation.
			lines = append(lines, line)
		}
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func isCodeLine(line string) bool {
	for _, tok := range codeTokens {
		if strings.HasPrefix(line, tok) {
			return true
		}
	}
	return assignmentRe.MatchString(line)
}

func isProse(line string) bool {
	if strings.ContainsAny(line, "=(){}[]") {
		return false
	}
	return len(strings.Fields(line)) > proseWordLimit
}
