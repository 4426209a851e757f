package pipeline

import (
	"fmt"
	"strings"
)

const synthesisInstruction = "Now, refer the analysis process, directly give the answer to the original question concisely, without any explanations or extra description"

// BuildChainPrompt lays out the question and every round's intent and passages
// for the final answer call.
func BuildChainPrompt(question string, rounds []Round) string {
	var sb strings.Builder
	sb.WriteString("Original question:")
	sb.WriteString(question)
	sb.WriteString("\n\nAnalysis process:")
	for _, round := range rounds {
		sb.WriteString(fmt.Sprintf("\n\nstep %d:", round.Iteration))
		sb.WriteString("\n- intent:")
		sb.WriteString(round.Intent)
		sb.WriteString("\n- retrieve passages:")
		sb.WriteString(strings.Join(round.Passages, ", "))
		sb.WriteString("...")
	}
	sb.WriteString("\n\n")
	sb.WriteString(synthesisInstruction)
	return sb.String()
}
