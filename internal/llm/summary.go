package llm

import (
	"fmt"
	"strings"
)

const (
	answerMarker     = "RÉPONSE:"
	maxSummaryItems  = 3
	fallbackSummary  = "Analyse terminée - Voir terminal"
	summarySeparator = " | "
)

// Summarize condenses a model answer to its "RÉPONSE:" lines, e.g.
// "Q1: B | Q2: A". At most three answers are kept.
func Summarize(answer string) string {
	var answers []string
	for _, line := range strings.Split(answer, "\n") {
		idx := strings.LastIndex(line, answerMarker)
		if idx < 0 {
			continue
		}
		value := strings.TrimSpace(line[idx+len(answerMarker):])
		answers = append(answers, fmt.Sprintf("Q%d: %s", len(answers)+1, value))
	}

	if len(answers) == 0 {
		return fallbackSummary
	}
	if len(answers) > maxSummaryItems {
		answers = answers[:maxSummaryItems]
	}
	return strings.Join(answers, summarySeparator)
}
