package classify

import (
	"reflect"
	"testing"
	"time"

	"github.com/jayusctrojan/ctxpg/types"
)

func TestPatternClassifier(t *testing.T) {
	c := NewPatternClassifier()

	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "plain text",
			text: "hello, can you help me with something",
			want: nil,
		},
		{
			name: "fenced code",
			text: "here you go\n```go\nfunc main() {}\n```",
			want: []string{TagCode},
		},
		{
			name: "file reference",
			text: "the bug is in handlers/auth.go near the top",
			want: []string{TagFileReference},
		},
		{
			name: "url is not a file reference",
			text: "see https://example.com/docs.html for details",
			want: nil,
		},
		{
			name: "decision",
			text: "We decided to use Postgres for the queue.",
			want: []string{TagDecision},
		},
		{
			name: "error",
			text: "error: connection refused",
			want: []string{TagError},
		},
		{
			name: "completion",
			text: "All tests pass now.",
			want: []string{TagTaskComplete},
		},
		{
			name: "multiple tags keep precedence order",
			text: "Fixed it. We'll use a retry loop:\n```go\nfor {}\n```",
			want: []string{TagCode, TagDecision, TagTaskComplete},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractCodeBlocks(t *testing.T) {
	blocks := ExtractCodeBlocks("intro\n```python\nprint(\"hi\")\n```\nand\n```\nraw\n```")
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	if blocks[0].Language != "python" {
		t.Errorf("Language = %q, want %q", blocks[0].Language, "python")
	}
	if blocks[0].Content != "print(\"hi\")" {
		t.Errorf("Content = %q", blocks[0].Content)
	}
	if blocks[1].Language != "" {
		t.Errorf("unfenced language = %q, want empty", blocks[1].Language)
	}
}

func TestExtractFilePaths(t *testing.T) {
	paths := ExtractFilePaths("edit src/main.go and src/main.go, ignore https://x.com/a.html")
	want := []string{"src/main.go"}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("ExtractFilePaths() = %v, want %v", paths, want)
	}
}

func TestExtractDecisions(t *testing.T) {
	decisions := ExtractDecisions("We decided to use pgx. Some filler. Going with option B!", 200)
	if len(decisions) != 2 {
		t.Fatalf("got %d decisions, want 2: %v", len(decisions), decisions)
	}
}

func TestAutoLabel(t *testing.T) {
	c := NewPatternClassifier()
	now := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "code with filename",
			content: "updated auth.go\n```go\nfunc Login() {}\n```",
			want:    "Code changes: auth.go",
		},
		{
			name:    "decision beats error",
			content: "The build failed: timeout. We decided to use a bigger runner",
			want:    "Decision: We decided to use a bigger runner",
		},
		{
			name:    "error only",
			content: "exception: null pointer",
			want:    "Error investigation",
		},
		{
			name:    "completion",
			content: "Everything is implemented.",
			want:    "Task completed",
		},
		{
			name:    "fallback timestamp",
			content: "just chatting",
			want:    "Checkpoint 2025-03-01 12:30",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := []*types.Message{types.NewUserMessage("s1", tt.content)}
			got := AutoLabel(c, msgs, now)
			if got != tt.want {
				t.Errorf("AutoLabel() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsEssential(t *testing.T) {
	c := NewPatternClassifier()
	if IsEssential(c, types.NewUserMessage("s1", "thanks!")) {
		t.Error("plain message should not be essential")
	}
	if !IsEssential(c, types.NewAssistantMessage("s1", "```go\nx := 1\n```")) {
		t.Error("code message should be essential")
	}
}
