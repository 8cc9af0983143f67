package executor

import (
	"fmt"
	"strings"

	"github.com/subplot-sh/subplot/pkg/models"
)

// BuildInstructions composes the prompt handed to a subtask's agent process.
// The agent sees the overall plan goal, its own assignment, and a summary of
// the dependencies that already completed.
func BuildInstructions(plan *models.Plan, st *models.Subtask) string {
	var b strings.Builder

	b.WriteString("You are completing one subtask of a larger plan.\n\n")

	if plan.Description != "" {
		b.WriteString("## Overall goal\n\n")
		b.WriteString(plan.Description)
		b.WriteString("\n\n")
	}

	b.WriteString("## Your subtask\n\n")
	fmt.Fprintf(&b, "**%s**\n\n", st.Name)
	if st.Description != "" {
		b.WriteString(st.Description)
		b.WriteString("\n\n")
	}

	if len(st.DependsOn) > 0 {
		b.WriteString("## Completed prerequisites\n\n")
		b.WriteString("The following subtasks finished before yours started; build on their results:\n\n")
		for _, depID := range st.DependsOn {
			if dep := plan.Subtask(depID); dep != nil {
				fmt.Fprintf(&b, "- %s\n", dep.Name)
			} else {
				fmt.Fprintf(&b, "- %s\n", depID)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("## Requirements\n\n")
	b.WriteString("- Work only within the current directory\n")
	b.WriteString("- Stay focused on this subtask; other subtasks are handled separately\n")
	b.WriteString("- Exit successfully only if the subtask is fully done\n")

	return b.String()
}
