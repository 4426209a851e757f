package reasoning

import (
	"fmt"
	"strings"
)

const decomposePromptTemplate = `As a professional question analyzer, follow these steps:

1. Deeply understand: "%[1]s"
2. Extract core intent (one concise sentence)
3. Create search-optimized query (noun phrases/keywords)
4. Format EXACTLY like:

Intent: [single intent sentence]
Query: [search terms]

Example:
User: How to prevent summer colds?
Output:
Intent: Identify effective prevention methods for seasonal summer colds
Query: summer cold prevention effective methods

Now analyze: "%[1]s"
`

const judgePromptTemplate = `You are an analytical assistant specializing in information adequacy assessment. Follow this thinking process:

[User Intent Analysis]
%s

[Retrieved Documents]
%s

[Analysis Steps]
1. Identify key requirements from the user intent
2. Map each requirement to relevant information in the documents
3. Detect any missing elements or ambiguities
4. Consider potential follow-up questions needed
5. Final adequacy conclusion (respond EXACTLY in this format):
   Final Answer: [YES/NO]
   or as JSON: {"Final Answer": "YES"} / {"Final Answer": "NO"}`

const refinePromptTemplate = `Analyze the following problem and retrieved materials step by step.
First identify the gaps in current information, then generate both a refined intent and a search description for further investigation.

[Problem]: %s
[Materials]:
%s

Let's think through this step by step:
1. First, analyze the user's original problem statement
2. Evaluate the relevance and completeness of retrieved materials
3. Identify specific aspects that need clarification or additional information
4. Determine the knowledge domains that should be explored next
5. Formulate a precise follow-up intent based on the identified gaps
6. Create a searchable description for targeted information retrieval

Generate the output strictly in this format:
New Intent: [Your refined intent statement here]
New Search Description: [Your search description here]`

func decomposePrompt(question string) string {
	return fmt.Sprintf(decomposePromptTemplate, question)
}

func judgePrompt(intent string, passages []string) string {
	lines := make([]string, len(passages))
	for i, passage := range passages {
		lines[i] = "- " + passage
	}
	return fmt.Sprintf(judgePromptTemplate, intent, strings.Join(lines, "\n"))
}

func refinePrompt(question string, materials []string) string {
	lines := make([]string, len(materials))
	for i, material := range materials {
		lines[i] = fmt.Sprintf("%d. %s", i+1, material)
	}
	return fmt.Sprintf(refinePromptTemplate, question, strings.Join(lines, "\n"))
}
