package prompts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// promptsDir is the directory containing prompt template override files.
var promptsDir = "prompts"

// SetPromptsDir overrides the default prompts directory.
func SetPromptsDir(dir string) {
	promptsDir = dir
}

// PreviewLimit bounds how much of each step's output is quoted when building
// the synthesis prompt, keeping its size sane across 16 steps.
const PreviewLimit = 600

// Excerpt is one completed analysis fed into the synthesis prompt.
type Excerpt struct {
	Title string
	Text  string
}

// Analysis builds the prompt for one analysis step. The step's template may
// reference {{businessName}} and {{hypothesis}}; a file named after the
// template key in the prompts directory overrides the built-in body.
func Analysis(templateKey, body, businessName, hypothesis string) string {
	if tmpl := loadTemplate(templateKey + ".md"); tmpl != "" {
		body = tmpl
	}
	return interpolate(body, map[string]string{
		"businessName": businessName,
		"hypothesis":   hypothesis,
	})
}

// Synthesis builds the final summary prompt from all collected step results.
// Each result is truncated to PreviewLimit characters.
func Synthesis(businessName string, excerpts []Excerpt) string {
	tmpl := loadTemplate("synthesis.md")
	if tmpl == "" {
		tmpl = defaultSynthesisTemplate
	}

	var findings strings.Builder
	for i, ex := range excerpts {
		findings.WriteString(fmt.Sprintf("### %d. %s\n%s\n\n", i+1, ex.Title, Truncate(ex.Text, PreviewLimit)))
	}

	return interpolate(tmpl, map[string]string{
		"businessName": businessName,
		"findings":     findings.String(),
	})
}

const defaultSynthesisTemplate = `You are a senior market research analyst. Synthesize the following per-topic findings about "{{businessName}}" into one executive research summary.

## Findings
{{findings}}

## Instructions

Write a cohesive summary that includes:
1. **Market Opportunity**: the overall size and direction of the opportunity
2. **Competitive Position**: where this business stands and its differentiation
3. **Key Risks**: the most material risks surfaced across the analyses
4. **Recommended Next Steps**: three to five concrete actions

Output in markdown. Do not repeat the findings verbatim; integrate them.`

// Truncate cuts s to at most limit runes, appending an ellipsis when cut.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func loadTemplate(name string) string {
	path := filepath.Join(promptsDir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func interpolate(tmpl string, vars map[string]string) string {
	result := tmpl
	for k, v := range vars {
		result = strings.ReplaceAll(result, "{{"+k+"}}", v)
	}
	return result
}
