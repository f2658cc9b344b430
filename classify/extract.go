package classify

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

// CodeBlock is a fenced code block extracted from markdown content.
type CodeBlock struct {
	Language string
	Content  string
}

// markdown is stateless and safe for concurrent Parse calls.
var markdown = goldmark.New()

// ExtractCodeBlocks parses text as markdown and returns every fenced code
// block with its declared language, if any.
func ExtractCodeBlocks(text string) []CodeBlock {
	src := []byte(text)
	doc := markdown.Parser().Parse(gmtext.NewReader(src))

	var blocks []CodeBlock
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fenced, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}

		var lang string
		if info := fenced.Language(src); info != nil {
			lang = string(info)
		}

		var body strings.Builder
		lines := fenced.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			body.Write(src[seg.Start:seg.Stop])
		}

		blocks = append(blocks, CodeBlock{
			Language: lang,
			Content:  strings.TrimRight(body.String(), "\n"),
		})
		return ast.WalkContinue, nil
	})
	return blocks
}

// ExtractFilePaths returns file-path-shaped tokens from text, skipping
// tokens that are part of URLs. Results are deduplicated in order of first
// appearance.
func ExtractFilePaths(text string) []string {
	matches := filePathRe.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var paths []string
	for _, loc := range matches {
		match := text[loc[0]:loc[1]]
		// Skip when the token sits inside a URL.
		prefixStart := loc[0] - 12
		if prefixStart < 0 {
			prefixStart = 0
		}
		if urlRe.MatchString(text[prefixStart:loc[1]]) {
			continue
		}
		if _, ok := seen[match]; ok {
			continue
		}
		seen[match] = struct{}{}
		paths = append(paths, match)
	}
	return paths
}

// ExtractDecisions returns sentences from text that contain a decision
// phrase, trimmed and capped at maxLen runes each.
func ExtractDecisions(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = 200
	}

	var decisions []string
	for _, sentence := range splitSentences(text) {
		lower := strings.ToLower(sentence)
		for _, phrase := range decisionPhrases {
			if strings.Contains(lower, phrase) {
				decisions = append(decisions, truncate(sentence, maxLen))
				break
			}
		}
	}
	return decisions
}

func splitSentences(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		for _, sentence := range strings.FieldsFunc(line, func(r rune) bool {
			return r == '.' || r == '!' || r == '?'
		}) {
			sentence = strings.TrimSpace(sentence)
			if sentence != "" {
				out = append(out, sentence)
			}
		}
	}
	return out
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}
