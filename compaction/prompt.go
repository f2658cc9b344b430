package compaction

import (
	"strings"

	"github.com/jayusctrojan/ctxpg/types"
)

// DefaultSystemPrompt instructs the model to produce a structured summary
// that can replace the condensed messages without losing the context needed
// to continue the conversation.
const DefaultSystemPrompt = `You are a conversation summarizer. Your summary will replace the original messages in a live conversation, so it must preserve everything needed to continue correctly.

Produce a structured summary with these sections. Write "None" for a section with no relevant content.

1. **Goal and Intent** - what the user is trying to accomplish, with any stated constraints.
2. **Key Facts and Decisions** - technical concepts established, decisions made and why.
3. **Files and Code** - files created, modified, or discussed; important code snippets and paths.
4. **Errors and Fixes** - errors hit, how they were resolved, workarounds in effect.
5. **Open Items** - tasks mentioned but not finished, follow-ups agreed on.
6. **Current State** - what was in progress at the end and the immediate next action.

Guidelines:
- Be concise but complete; include exact names (files, functions, error messages).
- Keep events in chronological order within each section.
- Preserve exact user quotes when they carry intent.
- Never invent information that is not in the conversation.`

// AggressiveRecoveryPrompt is used during overflow recovery. It trades
// completeness for size: only code, decisions, the current task, and
// errors survive.
const AggressiveRecoveryPrompt = `You are an emergency conversation summarizer. The conversation has exceeded the model's input limit and must shrink drastically.

Produce the smallest summary that preserves ONLY:
1. Code that was written or modified (keep it verbatim if short, otherwise name the file and describe the change).
2. Decisions that were made and their one-line rationale.
3. The task currently in progress and its immediate next step.
4. Unresolved errors and what has been tried.

Drop everything else: greetings, explanations, abandoned approaches, commentary. Use terse bullet points. Do not add section headers for empty sections.`

// ArchiveSystemPrompt produces the long-form distillation stored as a
// session memory for future sessions.
const ArchiveSystemPrompt = `You are archiving a finished conversation as a long-term memory for future sessions on the same project.

Write a self-contained narrative summary covering:
- What the session set out to do and whether it succeeded.
- The decisions made, with enough rationale that a future session will not relitigate them.
- The files and components touched, and how they fit together.
- Problems encountered and how they were solved.
- Anything explicitly deferred or left broken.

A future reader has no access to the original messages. Prefer completeness over brevity, but stay factual; never invent details.`

// BuildUserPrompt wraps the formatted conversation for the summarizer.
func BuildUserPrompt(conversationText string) string {
	return `Summarize the following conversation according to your instructions.

<conversation>
` + conversationText + `
</conversation>`
}

// FormatMessages renders messages as readable text for summarization.
// Summary messages from earlier compactions are labeled so the model folds
// them in rather than treating them as a turn.
func FormatMessages(messages []*types.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		b.WriteString(roleLabel(msg))
		b.WriteString(":\n")
		b.WriteString(msg.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}

func roleLabel(msg *types.Message) string {
	if msg.IsSummary {
		return "Earlier conversation (already summarized)"
	}
	switch msg.Role {
	case types.RoleAssistant:
		return "Assistant"
	case types.RoleSystem:
		return "System"
	default:
		return "User"
	}
}
