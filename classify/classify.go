// Package classify provides lightweight content classification for
// conversation messages: tag detection for checkpoint auto-labeling,
// essential-content checks for emergency reduction, and code/decision
// extraction for session memories.
//
// The matching rules are deliberately simple pattern heuristics behind the
// Classifier interface, so they can evolve or be replaced by a model-based
// classifier without touching callers.
package classify

import (
	"regexp"
	"strings"

	"github.com/jayusctrojan/ctxpg/types"
)

// Content tags produced by classification.
const (
	TagCode          = "code"
	TagFileReference = "file_reference"
	TagDecision      = "decision"
	TagError         = "error"
	TagTaskComplete  = "task_complete"
)

// DefaultRecentWindow is how many trailing messages are scanned when
// classifying a conversation.
const DefaultRecentWindow = 5

// Classifier derives content tags from text.
type Classifier interface {
	Classify(text string) []string
}

// decisionPhrases indicate an explicit decision was made.
var decisionPhrases = []string{
	"decided to", "will use", "chosen", "selected",
	"going with", "let's go with", "we'll use",
	"the approach is", "the solution is",
}

// errorPhrases indicate error content.
var errorPhrases = []string{
	"error:", "exception:", "failed:", "traceback",
	"error occurred", "failed to", "couldn't", "unable to",
	"panic:",
}

// completionPhrases indicate task completion.
var completionPhrases = []string{
	"completed", "finished", "done", "implemented",
	"fixed", "resolved", "working now", "tests pass",
}

var (
	filePathRe = regexp.MustCompile(`[\w\-./]+\.[a-zA-Z]{2,4}\b`)
	urlRe      = regexp.MustCompile(`https?://`)
)

// PatternClassifier is the default Classifier. It detects fenced code
// blocks through the markdown AST and everything else through phrase and
// path patterns.
type PatternClassifier struct{}

// NewPatternClassifier creates the default classifier.
func NewPatternClassifier() *PatternClassifier {
	return &PatternClassifier{}
}

// Classify implements Classifier.
func (c *PatternClassifier) Classify(text string) []string {
	tags := make(map[string]struct{})
	lower := strings.ToLower(text)

	if len(ExtractCodeBlocks(text)) > 0 {
		tags[TagCode] = struct{}{}
	}

	// File-path-shaped tokens, ignoring lines that are actually URLs.
	if filePathRe.MatchString(text) && !urlRe.MatchString(lower) {
		tags[TagFileReference] = struct{}{}
	}

	for _, phrase := range decisionPhrases {
		if strings.Contains(lower, phrase) {
			tags[TagDecision] = struct{}{}
			break
		}
	}

	for _, phrase := range errorPhrases {
		if strings.Contains(lower, phrase) {
			tags[TagError] = struct{}{}
			break
		}
	}

	for _, phrase := range completionPhrases {
		if strings.Contains(lower, phrase) {
			tags[TagTaskComplete] = struct{}{}
			break
		}
	}

	return sortedTags(tags)
}

// tagOrder is the fixed precedence used for labels and deterministic
// output: code > file_reference > decision > error > task_complete.
var tagOrder = []string{TagCode, TagFileReference, TagDecision, TagError, TagTaskComplete}

func sortedTags(set map[string]struct{}) []string {
	var out []string
	for _, tag := range tagOrder {
		if _, ok := set[tag]; ok {
			out = append(out, tag)
		}
	}
	return out
}

// MessageTags classifies the most recent window of messages and returns the
// union of their tags in precedence order.
func MessageTags(c Classifier, messages []*types.Message, window int) []string {
	if window <= 0 {
		window = DefaultRecentWindow
	}
	if len(messages) > window {
		messages = messages[len(messages)-window:]
	}

	set := make(map[string]struct{})
	for _, msg := range messages {
		for _, tag := range c.Classify(msg.Content) {
			set[tag] = struct{}{}
		}
	}
	return sortedTags(set)
}

// IsEssential reports whether a message carries content that emergency
// reduction must never force-remove: code, errors, file references, or
// decisions.
func IsEssential(c Classifier, msg *types.Message) bool {
	for _, tag := range c.Classify(msg.Content) {
		switch tag {
		case TagCode, TagError, TagFileReference, TagDecision:
			return true
		}
	}
	return false
}
