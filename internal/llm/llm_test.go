package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickpending/prismis-sub000/internal/model"
)

// fakeChat scripts provider responses and counts calls.
type fakeChat struct {
	calls     int
	responses []string
	errs      []error
}

func (f *fakeChat) Name() string { return "fake" }

func (f *fakeChat) Complete(ctx context.Context, system, prompt string) (string, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return "", f.errs[idx]
	}
	if idx < len(f.responses) {
		return f.responses[idx], nil
	}
	if len(f.responses) > 0 {
		return f.responses[len(f.responses)-1], nil
	}
	return "", errors.New("no scripted response")
}

func setupFastLLM(t *testing.T) {
	t.Helper()
	ResetBreaker()
	oldInterval := retryInitialInterval
	oldTimeout := breakerTimeout
	retryInitialInterval = time.Millisecond
	breakerTimeout = 50 * time.Millisecond
	t.Cleanup(func() {
		retryInitialInterval = oldInterval
		breakerTimeout = oldTimeout
		ResetBreaker()
	})
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		msg       string
		quota     bool
		transient bool
	}{
		{"insufficient_quota for this key", true, false},
		{"HTTP 429 Too Many Requests", true, false},
		{"billing hard limit reached", true, false},
		{"context deadline exceeded (timeout)", false, true},
		{"upstream returned 503", false, true},
		{"connection reset by peer", false, true},
		{"invalid model name", false, false},
	}
	for _, tc := range cases {
		t.Run(tc.msg, func(t *testing.T) {
			err := errors.New(tc.msg)
			assert.Equal(t, tc.quota, IsQuota(err))
			assert.Equal(t, tc.transient, IsTransient(err))
		})
	}
}

func TestWithRetryTransient(t *testing.T) {
	setupFastLLM(t)

	calls := 0
	got, err := withRetry(context.Background(), "test", func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("upstream returned 503")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestWithRetryNonTransientFailsFast(t *testing.T) {
	setupFastLLM(t)

	calls := 0
	_, err := withRetry(context.Background(), "test", func() (string, error) {
		calls++
		return "", errors.New("invalid request payload")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-transient errors never retry")
}

func TestWithRetryQuotaFailsFast(t *testing.T) {
	setupFastLLM(t)

	calls := 0
	_, err := withRetry(context.Background(), "test", func() (string, error) {
		calls++
		return "", errors.New("insufficient_quota")
	})
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindQuota))
	assert.Equal(t, 1, calls)
}

func TestCircuitBreakerQuotaLifecycle(t *testing.T) {
	setupFastLLM(t)

	quotaErr := errors.New("insufficient_quota: billing limit")
	chat := &fakeChat{errs: []error{quotaErr, quotaErr, quotaErr}}
	analyzer := NewAnalyzer(chat)
	in := SummarizeInput{Title: "t", Content: "c", SourceKind: "rss"}

	// Three quota failures open the breaker.
	for i := 0; i < 3; i++ {
		_, err := analyzer.Summarize(context.Background(), in)
		require.Error(t, err)
	}
	assert.Equal(t, 3, chat.calls)

	// The fourth attempt is rejected locally: no provider I/O.
	_, err := analyzer.Summarize(context.Background(), in)
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindQuota))
	assert.Equal(t, 3, chat.calls, "open breaker must not reach the provider")

	// After the recovery window one probe is allowed; success closes.
	time.Sleep(breakerTimeout + 20*time.Millisecond)
	chat.errs = nil
	chat.responses = []string{`{"summary":"all good"}`}

	result, err := analyzer.Summarize(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "all good", result.Summary)

	// Closed again: calls flow normally.
	_, err = analyzer.Summarize(context.Background(), in)
	require.NoError(t, err)
}

func TestBreakerIgnoresNonQuotaErrors(t *testing.T) {
	setupFastLLM(t)

	chat := &fakeChat{errs: []error{
		errors.New("bad input"), errors.New("bad input"),
		errors.New("bad input"), errors.New("bad input"),
	}}
	analyzer := NewAnalyzer(chat)
	in := SummarizeInput{Title: "t", Content: "c", SourceKind: "rss"}

	for i := 0; i < 4; i++ {
		_, err := analyzer.Summarize(context.Background(), in)
		require.Error(t, err)
	}
	assert.Equal(t, 4, chat.calls, "non-quota failures never open the breaker")
}

func TestSummarize(t *testing.T) {
	setupFastLLM(t)

	t.Run("parses fenced json", func(t *testing.T) {
		chat := &fakeChat{responses: []string{"```json\n{\"summary\":\"short\",\"patterns\":[\"p\"]}\n```"}}
		result, err := NewAnalyzer(chat).Summarize(context.Background(), SummarizeInput{Title: "t", Content: "c"})
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, "short", result.Summary)
		assert.Equal(t, []string{"p"}, result.Patterns)
	})

	t.Run("missing summary yields nil", func(t *testing.T) {
		chat := &fakeChat{responses: []string{`{"patterns":["p"]}`}}
		result, err := NewAnalyzer(chat).Summarize(context.Background(), SummarizeInput{Title: "t", Content: "c"})
		require.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("unparseable response yields nil", func(t *testing.T) {
		chat := &fakeChat{responses: []string{"sorry, I cannot do that"}}
		result, err := NewAnalyzer(chat).Summarize(context.Background(), SummarizeInput{Title: "t", Content: "c"})
		require.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("overlong summary truncates", func(t *testing.T) {
		long := strings.Repeat("x", 600)
		chat := &fakeChat{responses: []string{`{"summary":"` + long + `"}`}}
		result, err := NewAnalyzer(chat).Summarize(context.Background(), SummarizeInput{Title: "t", Content: "c"})
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Len(t, result.Summary, model.MaxSummaryLen)
	})
}

func TestPickVariant(t *testing.T) {
	short := "few words here"
	long := strings.Repeat("word ", 6000)

	assert.Equal(t, variantDiff, pickVariant("file", short, true))
	assert.Equal(t, variantBrief, pickVariant("reddit", short, false))
	assert.Equal(t, variantStandard, pickVariant("reddit", long, false))
	assert.Equal(t, variantDetailed, pickVariant("youtube", long, false))
	assert.Equal(t, variantStandard, pickVariant("youtube", short, false))
	assert.Equal(t, variantStandard, pickVariant("rss", short, false))
}

func TestRevalidate(t *testing.T) {
	cases := []struct {
		name         string
		raw          string
		wantPriority model.Priority
		wantMatches  int
	}{
		{"valid high", `{"priority":"high","matched_interests":["go"],"reasoning":"r"}`, model.PriorityHigh, 1},
		{"empty matches forces null", `{"priority":"high","matched_interests":[],"reasoning":"r"}`, "", 0},
		{"invalid priority with matches becomes medium", `{"priority":"urgent","matched_interests":["go"]}`, model.PriorityMedium, 1},
		{"null priority stays null", `{"priority":null,"matched_interests":["go"]}`, "", 1},
		{"parse error", `not json at all`, "", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := revalidate(tc.raw)
			assert.Equal(t, tc.wantPriority, ev.Priority)
			assert.Len(t, ev.MatchedInterests, tc.wantMatches)
		})
	}
}

func TestEvaluate(t *testing.T) {
	setupFastLLM(t)

	chat := &fakeChat{responses: []string{`{"priority":"low","matched_interests":["infra"],"reasoning":"tangential"}`}}
	ev, err := NewEvaluator(chat).Evaluate(context.Background(), "t", "u", "c", "## High Priority Topics\n- infra")
	require.NoError(t, err)
	assert.Equal(t, model.PriorityLow, ev.Priority)
	assert.Equal(t, []string{"infra"}, ev.MatchedInterests)
}

type fakeEmbedding struct {
	lastText string
	vec      []float32
	dims     int
}

func (f *fakeEmbedding) Embed(ctx context.Context, text string) ([]float32, error) {
	f.lastText = text
	return f.vec, nil
}

func (f *fakeEmbedding) Dimensions() int { return f.dims }

func TestEmbedder(t *testing.T) {
	setupFastLLM(t)

	provider := &fakeEmbedding{vec: []float32{1, 2, 3}, dims: 3}
	e := NewEmbedder(provider, "test-model")

	vec, err := e.EmbedText(context.Background(), "Title", "body text")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vec)
	assert.True(t, strings.HasPrefix(provider.lastText, "Title\n\n"))

	provider.dims = 4
	_, err = e.EmbedText(context.Background(), "Title", "body text")
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindValidation))

	assert.Nil(t, NewEmbedder(nil, "x"), "nil provider disables embedding")
}

func TestOpenAIClientWireFormat(t *testing.T) {
	setupFastLLM(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat/completions":
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`))
		case "/embeddings":
			_, _ = w.Write([]byte(`{"data":[{"embedding":[0.5,0.25]}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	chat := newOpenAIClient("openai", srv.URL, "test-key", "gpt-test")
	reply, err := chat.Complete(context.Background(), "sys", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", reply)

	embedder := newOpenAIEmbedder("openai", srv.URL, "test-key", "embed-test", 2)
	vec, err := embedder.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, vec)
}

func TestOpenAIClientErrorSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"insufficient_quota"}}`))
	}))
	defer srv.Close()

	chat := newOpenAIClient("openai", srv.URL, "k", "m")
	_, err := chat.Complete(context.Background(), "", "hi")
	require.Error(t, err)
	assert.True(t, IsQuota(err), "429 body must classify as quota")
}

func TestOpenAIBaseURL(t *testing.T) {
	assert.Equal(t, "https://api.openai.com/v1", openAIBaseURL("openai", ""))
	assert.Equal(t, "https://api.groq.com/openai/v1", openAIBaseURL("groq", ""))
	assert.Equal(t, "https://openrouter.ai/api/v1", openAIBaseURL("openrouter", ""))
	assert.Equal(t, "http://localhost:9999/v1", openAIBaseURL("openai", "http://localhost:9999/v1/"))
}

func TestHealthCheck(t *testing.T) {
	setupFastLLM(t)

	chat := &fakeChat{responses: []string{"ok"}}
	require.NoError(t, HealthCheck(context.Background(), chat))

	failing := &fakeChat{errs: []error{errors.New("model not found")}}
	err := HealthCheck(context.Background(), failing)
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindConfig))
}
