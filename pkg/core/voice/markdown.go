package voice

import (
	"regexp"
	"strings"
)

var markdownRules = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile("```[\\s\\S]*?```"), " "},
	{regexp.MustCompile(`(?m)^\s*[*\-]\s`), ", "},
	{regexp.MustCompile("`([^`]+)`"), "${1}"},
	{regexp.MustCompile(`\*\*(.*?)\*\*`), "${1}"},
	{regexp.MustCompile(`\*(.*?)\*`), "${1}"},
	{regexp.MustCompile(`(?m)^\s*#+\s`), ""},
	{regexp.MustCompile(`\n`), ". "},
	{regexp.MustCompile(` +`), " "},
}

// StripMarkdown flattens a markdown reply into plain speakable text. Code
// fences are dropped, bullets become comma pauses and newlines become
// sentence breaks.
func StripMarkdown(text string) string {
	if text == "" {
		return ""
	}
	for _, r := range markdownRules {
		text = r.re.ReplaceAllString(text, r.repl)
	}
	return strings.TrimSpace(text)
}
