package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nickpending/prismis-sub000/internal/model"
)

// SummarizeInput carries everything the analyzer needs about one item.
type SummarizeInput struct {
	Title      string
	URL        string
	Content    string
	SourceKind string
	SourceName string
	Metrics    map[string]any
	IsDiff     bool
}

// AnalysisResult is the structured analysis the model returns.
type AnalysisResult struct {
	Summary        string   `json:"summary"`
	ReadingSummary string   `json:"reading_summary"`
	AlphaInsights  []string `json:"alpha_insights"`
	Patterns       []string `json:"patterns"`
	Entities       []string `json:"entities"`
	Quotes         []string `json:"quotes"`
	Tools          []string `json:"tools"`
	URLs           []string `json:"urls"`
}

// Fields merges the analysis into an analysis blob, leaving metrics to the
// caller.
func (r *AnalysisResult) Fields() model.Analysis {
	return model.Analysis{
		"reading_summary": r.ReadingSummary,
		"alpha_insights":  r.AlphaInsights,
		"patterns":        r.Patterns,
		"entities":        r.Entities,
		"quotes":          r.Quotes,
		"tools":           r.Tools,
		"urls":            r.URLs,
	}
}

// Analyzer produces summaries with structured analysis.
type Analyzer struct {
	chat ChatProvider
}

// NewAnalyzer builds an analyzer over the chat provider.
func NewAnalyzer(chat ChatProvider) *Analyzer {
	return &Analyzer{chat: chat}
}

// Summarize runs the analysis call behind the breaker and retry wrapper.
// A response missing the required summary field returns (nil, nil): the
// item is stored without LLM data rather than failing the tick.
func (a *Analyzer) Summarize(ctx context.Context, in SummarizeInput) (*AnalysisResult, error) {
	variant := pickVariant(in.SourceKind, in.Content, in.IsDiff)
	prompt := summarizePrompt(variant, in.Title, in.URL, in.SourceKind, in.SourceName, in.Content, in.Metrics)

	raw, err := withRetry(ctx, "summarize", func() (string, error) {
		return guarded(func() (string, error) {
			return a.chat.Complete(ctx, analysisSystemPrompt, prompt)
		})
	})
	if err != nil {
		return nil, err
	}

	var result AnalysisResult
	if err := json.Unmarshal([]byte(extractJSON(raw)), &result); err != nil {
		return nil, nil
	}
	if strings.TrimSpace(result.Summary) == "" {
		return nil, nil
	}
	if len(result.Summary) > model.MaxSummaryLen {
		result.Summary = result.Summary[:model.MaxSummaryLen]
	}
	return &result, nil
}

// extractJSON strips markdown code fences and leading prose so a slightly
// chatty model response still parses.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		return strings.TrimSpace(s)
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
