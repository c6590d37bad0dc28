package extract

import (
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

func readMarkdown(path string) (string, map[string]string, error) {
	raw, _, err := readText(path)
	if err != nil {
		return "", nil, err
	}
	meta, body := splitFrontmatter(raw)
	return cleanMarkdown(body), meta, nil
}

// splitFrontmatter separates a leading YAML block from the body. Only string
// values are kept; keys are lowercased.
func splitFrontmatter(content string) (map[string]string, string) {
	if !strings.HasPrefix(content, "---") {
		return map[string]string{}, content
	}

	parts := strings.SplitN(content, "---", 3)
	if len(parts) < 3 {
		return map[string]string{}, content
	}

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(strings.TrimSpace(parts[1])), &raw); err != nil {
		return map[string]string{}, content
	}

	out := make(map[string]string)
	for k, v := range raw {
		if sv, ok := v.(string); ok {
			out[strings.ToLower(k)] = sv
		}
	}
	return out, strings.TrimPrefix(parts[2], "\n")
}

// Applied in order; images go before links so "![alt](src)" is dropped whole.
var markdownRules = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?m)^\x60{3}.*$`), ""},
	{regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`), ""},
	{regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`), "$1"},
	{regexp.MustCompile(`\*\*([^*]+)\*\*`), "$1"},
	{regexp.MustCompile(`\*([^*\n]+)\*`), "$1"},
	{regexp.MustCompile(`__([^_]+)__`), "$1"},
	{regexp.MustCompile(`\b_([^_\n]+)_\b`), "$1"},
	{regexp.MustCompile("`([^`\n]+)`"), "$1"},
	{regexp.MustCompile(`<[^>\n]+>`), ""},
	{regexp.MustCompile(`(?m)^\s{0,3}#+\s?`), ""},
	{regexp.MustCompile(`(?m)^\s{0,3}>\s?`), ""},
	{regexp.MustCompile(`\|`), " "},
	{regexp.MustCompile(`-{2,}`), ""},
	{regexp.MustCompile(`\n{2,}`), "\n"},
}

// cleanMarkdown strips markup and keeps the readable text.
func cleanMarkdown(s string) string {
	for _, r := range markdownRules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return strings.TrimSpace(s)
}
