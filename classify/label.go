package classify

import (
	"fmt"
	"time"

	"github.com/jayusctrojan/ctxpg/types"
)

// labelSnippetLen caps the decision excerpt embedded in a label.
const labelSnippetLen = 48

// AutoLabel derives a human-readable checkpoint label from the most recent
// window of messages. Precedence: code (with filename when one is
// mentioned), then decision, then error, then task completion, then a
// timestamp fallback.
func AutoLabel(c Classifier, messages []*types.Message, now time.Time) string {
	if len(messages) > DefaultRecentWindow {
		messages = messages[len(messages)-DefaultRecentWindow:]
	}

	var combined string
	for _, msg := range messages {
		combined += msg.Content + "\n"
	}

	set := make(map[string]struct{})
	for _, tag := range c.Classify(combined) {
		set[tag] = struct{}{}
	}

	if _, ok := set[TagCode]; ok {
		if paths := ExtractFilePaths(combined); len(paths) > 0 {
			return "Code changes: " + paths[0]
		}
		return "Code changes"
	}
	if _, ok := set[TagDecision]; ok {
		if decisions := ExtractDecisions(combined, labelSnippetLen); len(decisions) > 0 {
			return "Decision: " + decisions[0]
		}
		return "Decision point"
	}
	if _, ok := set[TagError]; ok {
		return "Error investigation"
	}
	if _, ok := set[TagTaskComplete]; ok {
		return "Task completed"
	}
	return fmt.Sprintf("Checkpoint %s", now.UTC().Format("2006-01-02 15:04"))
}
