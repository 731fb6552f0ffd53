package executor

import (
	"fmt"
	"strings"
)

const aggregateInstructions = `%s

The review findings to consolidate are in these files, one per reviewer:
%s

Read every file, merge overlapping findings, drop duplicates, and write a
single consolidated report. Keep each finding's file references and
severity. Do not re-review the code yourself.`

const fixInstructions = `%s

The consolidated review report is at:
%s

Read the report and address its findings in the codebase. Apply the
smallest change that resolves each finding. Summarize what you changed
and which findings you deliberately left open.`

// BuildAggregatePrompt synthesizes the aggregation-phase prompt from the
// configured base prompt and the output artifacts of completed workers.
func BuildAggregatePrompt(base string, outputs []string) string {
	var list strings.Builder
	for _, path := range outputs {
		fmt.Fprintf(&list, "- %s\n", path)
	}
	return fmt.Sprintf(aggregateInstructions, strings.TrimSpace(base), strings.TrimSpace(list.String()))
}

// BuildFixPrompt synthesizes the fix-phase prompt from the configured base
// prompt and the aggregate artifact path.
func BuildFixPrompt(base, aggregatePath string) string {
	return fmt.Sprintf(fixInstructions, strings.TrimSpace(base), aggregatePath)
}
