package llm

import (
	"fmt"
	"strings"
)

// Prompt variant selection thresholds.
const (
	briefWordLimit    = 300  // forum items under this get the brief variant
	detailedWordFloor = 5000 // video transcripts over this get the detailed variant
)

type promptVariant string

const (
	variantBrief    promptVariant = "brief"
	variantDetailed promptVariant = "detailed"
	variantDiff     promptVariant = "diff"
	variantStandard promptVariant = "standard"
)

// pickVariant chooses the summarization prompt by content characteristics.
func pickVariant(sourceKind, content string, isDiff bool) promptVariant {
	words := len(strings.Fields(content))
	switch {
	case isDiff:
		return variantDiff
	case sourceKind == "reddit" && words < briefWordLimit:
		return variantBrief
	case sourceKind == "youtube" && words > detailedWordFloor:
		return variantDetailed
	default:
		return variantStandard
	}
}

const analysisSystemPrompt = `You are a content analyst. You respond with a single JSON object and nothing else: no preamble, no markdown fences, no commentary.`

const analysisSchema = `{
  "summary": "string, max 400 characters, plain prose",
  "reading_summary": "string, markdown",
  "alpha_insights": ["string"],
  "patterns": ["string"],
  "entities": ["string"],
  "quotes": ["string"],
  "tools": ["string"],
  "urls": ["string"]
}`

var variantInstructions = map[promptVariant]string{
	variantBrief: `This is a short discussion post. Keep reading_summary to a few sentences capturing the post and the notable comment threads.`,
	variantDetailed: `This is a long video transcript. Produce a thorough reading_summary covering every major segment; do not skip the later parts of the transcript.`,
	variantDiff: `The content is a unified diff of a tracked document. Analyze only the changed lines (those starting with + or -); describe what was added, removed, or reworded. Ignore unchanged context lines.`,
	variantStandard: `Produce a reading_summary proportional to the source: roughly 10-15% of its length, preserving the argument structure.`,
}

// summarizePrompt renders the analysis request for one item.
func summarizePrompt(variant promptVariant, title, url, sourceKind, sourceName, content string, metrics map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the following %s content.\n\n", sourceKind)
	fmt.Fprintf(&b, "Title: %s\nURL: %s\nSource: %s\n", title, url, sourceName)
	if len(metrics) > 0 {
		fmt.Fprintf(&b, "Engagement: %v\n", metrics)
	}
	b.WriteString("\n")
	b.WriteString(variantInstructions[variant])
	b.WriteString("\n\nRespond with exactly this JSON shape:\n")
	b.WriteString(analysisSchema)
	b.WriteString("\n\nContent:\n")
	b.WriteString(content)
	return b.String()
}

const evaluateSystemPrompt = `You are a personal content prioritizer. You respond with a single JSON object and nothing else.`

// evaluatePrompt renders the priority-evaluation request against the user's
// context document.
func evaluatePrompt(title, url, content, userContext string) string {
	var b strings.Builder
	b.WriteString("Decide how well this content matches the user's interests.\n\n")
	b.WriteString("User interest profile:\n")
	b.WriteString(userContext)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- priority must be \"high\", \"medium\", \"low\", or null\n")
	b.WriteString("- if matched_interests is empty, priority must be null\n")
	b.WriteString("- content matching the \"Not Interested\" section gets priority null\n")
	b.WriteString("\nRespond with exactly: {\"priority\": \"high\"|\"medium\"|\"low\"|null, \"matched_interests\": [\"string\"], \"reasoning\": \"string\"}\n")
	fmt.Fprintf(&b, "\nTitle: %s\nURL: %s\n\nContent:\n%s", title, url, content)
	return b.String()
}
