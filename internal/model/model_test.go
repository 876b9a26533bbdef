package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSourceURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		kind    SourceKind
		want    string
		wantErr bool
	}{
		{name: "reddit short-form", raw: "reddit://golang", kind: KindReddit, want: "https://www.reddit.com/r/golang"},
		{name: "reddit short-form with r prefix", raw: "reddit://r/golang", kind: KindReddit, want: "https://www.reddit.com/r/golang"},
		{name: "youtube handle", raw: "youtube://@veritasium", kind: KindYouTube, want: "https://www.youtube.com/@veritasium"},
		{name: "youtube channel id", raw: "youtube://UCHnyfMqiRRG1u-2MsSQLbXA", kind: KindYouTube, want: "https://www.youtube.com/channel/UCHnyfMqiRRG1u-2MsSQLbXA"},
		{name: "youtube bare name", raw: "youtube://veritasium", kind: KindYouTube, want: "https://www.youtube.com/@veritasium"},
		{name: "rss short-form", raw: "rss://example.com/feed.xml", kind: KindRSS, want: "https://example.com/feed.xml"},
		{name: "scheme added", raw: "example.com/feed.xml", kind: KindRSS, want: "https://example.com/feed.xml"},
		{name: "passthrough https", raw: "https://example.com/notes.md", kind: KindFile, want: "https://example.com/notes.md"},
		{name: "empty", raw: "", kind: KindRSS, wantErr: true},
		{name: "bad scheme", raw: "ftp://example.com/feed", kind: KindRSS, wantErr: true},
		{name: "empty reddit", raw: "reddit://", kind: KindReddit, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeSourceURL(tt.raw, tt.kind)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsKind(err, KindValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAnalysisMergePreservesMetrics(t *testing.T) {
	fetcher := Analysis{
		"metrics": map[string]any{"score": 42, "num_comments": 7},
	}
	llm := Analysis{
		"summary":  "short",
		"patterns": []any{"a"},
		"metrics":  map[string]any{"bogus": true},
	}

	merged := fetcher.Merge(llm)

	require.NotNil(t, merged.Metrics())
	assert.Equal(t, 42, merged.Metrics()["score"])
	assert.NotContains(t, merged.Metrics(), "bogus")
	assert.Equal(t, "short", merged["summary"])

	// Original maps untouched.
	assert.NotContains(t, fetcher, "summary")
}

func TestAnalysisRoundTrip(t *testing.T) {
	a := Analysis{"metrics": map[string]any{"views": float64(10)}, "first_fetch": true}
	s, err := a.MarshalText()
	require.NoError(t, err)

	back, err := ParseAnalysis(s)
	require.NoError(t, err)
	assert.Equal(t, true, back["first_fetch"])
	assert.Equal(t, float64(10), back.Metrics()["views"])

	empty, err := ParseAnalysis("")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestPriorityWeight(t *testing.T) {
	assert.Equal(t, 1.0, PriorityHigh.Weight())
	assert.Equal(t, 0.5, PriorityMedium.Weight())
	assert.Equal(t, 0.0, PriorityLow.Weight())
	assert.Equal(t, 0.0, Priority("").Weight())
}

func TestErrorKinds(t *testing.T) {
	base := E(KindQuota, "insufficient_quota on %s", "gpt-4o")
	wrapped := fmt.Errorf("call failed: %w", base)

	assert.True(t, IsKind(wrapped, KindQuota))
	assert.Equal(t, KindQuota, KindOf(wrapped))
	assert.Equal(t, KindStorage, KindOf(errors.New("plain")))

	cause := errors.New("boom")
	w := Wrap(KindFetch, cause, "fetch %s", "x")
	assert.ErrorIs(t, w, cause)
}

func TestDeriveSourceName(t *testing.T) {
	assert.Equal(t, "r/golang", DeriveSourceName("https://www.reddit.com/r/golang", KindReddit))
	assert.Equal(t, "example.com", DeriveSourceName("https://www.example.com/feed.xml", KindRSS))
	assert.Equal(t, "notes.md", DeriveSourceName("https://example.com/docs/notes.md", KindFile))
}
