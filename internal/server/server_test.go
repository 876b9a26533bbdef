package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickpending/prismis-sub000/internal/config"
	"github.com/nickpending/prismis-sub000/internal/model"
	"github.com/nickpending/prismis-sub000/internal/server"
	"github.com/nickpending/prismis-sub000/internal/storage"
	"github.com/nickpending/prismis-sub000/internal/usercontext"
)

const testKey = "test-api-key"

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	handler http.Handler
	store   *storage.Storage
	audio   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	audio := t.TempDir()
	srv := server.New(server.Config{
		Store:     store,
		Contexts:  usercontext.NewStore(filepath.Join(t.TempDir(), "context.md")),
		Validator: server.NewValidator("prismis-test/1.0"),
		Archival:  config.Archival{Enabled: true, MediumUnread: 14, MediumRead: 14, LowUnread: 7, LowRead: 3},
		AudioDir:  audio,
		APIKey:    testKey,
		Host:      "127.0.0.1",
		Port:      0,
		Version:   "test",
		Logger:    slog.Default(),
	})
	return &testServer{handler: srv.Handler(), store: store, audio: audio}
}

func (ts *testServer) do(t *testing.T, method, path, body, key string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env),
			"every JSON response must be an envelope: %s", rec.Body.String())
	}
	return rec, env
}

func (ts *testServer) seedContent(t *testing.T, title string, p model.Priority, read bool) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	srcID, err := ts.store.AddSource(ctx, "https://example.com/feed.xml", model.KindRSS, "seed")
	require.NoError(t, err)

	summary := "summary of " + title
	id, err := ts.store.AddContent(ctx, model.ContentItem{
		SourceID:   &srcID,
		ExternalID: "ext-" + title,
		Title:      title,
		URL:        "https://example.com/" + title,
		Content:    "body of " + title,
		Summary:    &summary,
		Priority:   p,
		Read:       read,
		FetchedAt:  time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NotNil(t, id)
	return *id
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(t, http.MethodGet, "/api/sources", "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Message, "X-API-Key")

	rec, env = ts.do(t, http.MethodGet, "/api/sources", "", "wrong-key")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, env.Success)

	// Health stays open.
	rec, env = ts.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
}

func TestAddFileSource(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(t, http.MethodPost, "/api/sources",
		`{"url":"https://example.com/notes.md","type":"file"}`, testKey)
	require.Equal(t, http.StatusOK, rec.Code, env.Message)
	var src model.Source
	require.NoError(t, json.Unmarshal(env.Data, &src))
	assert.Equal(t, model.KindFile, src.Kind)
	assert.Equal(t, "notes.md", src.Name)

	// Duplicate URL returns the existing source, not an error.
	rec, env2 := ts.do(t, http.MethodPost, "/api/sources",
		`{"url":"https://example.com/notes.md","type":"file"}`, testKey)
	require.Equal(t, http.StatusOK, rec.Code)
	var dup model.Source
	require.NoError(t, json.Unmarshal(env2.Data, &dup))
	assert.Equal(t, src.ID, dup.ID)

	// Non-text extension rejected.
	rec, env = ts.do(t, http.MethodPost, "/api/sources",
		`{"url":"https://example.com/binary.pdf","type":"file"}`, testKey)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, env.Message, ".md or .txt")
}

func TestAddSourceValidation(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(t, http.MethodPost, "/api/sources",
		`{"url":"https://example.com/x","type":"telegram"}`, testKey)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, env.Message, "unsupported source type")

	rec, env = ts.do(t, http.MethodPost, "/api/sources",
		`{"url":"https://www.youtube.com/watch?v=abc123","type":"youtube"}`, testKey)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, env.Message, "watch URLs")

	rec, _ = ts.do(t, http.MethodPost, "/api/sources",
		`{"url":"https://www.youtube.com/@somecreator","type":"youtube"}`, testKey)
	assert.Equal(t, http.StatusOK, rec.Code, "handle-form channel URLs pass the syntactic check")

	rec, env = ts.do(t, http.MethodPost, "/api/sources", `{"url":"","type":"rss"}`, testKey)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, env.Message, "url is required")
}

func TestAddFeedSourceProbesURL(t *testing.T) {
	feed := `<?xml version="1.0"?><rss version="2.0"><channel><title>T</title>
<item><title>one</title><link>https://example.com/1</link><guid>g1</guid></item>
</channel></rss>`
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/feed.xml" {
			_, _ = w.Write([]byte(feed))
			return
		}
		http.NotFound(w, r)
	}))
	defer upstream.Close()

	ts := newTestServer(t)

	rec, env := ts.do(t, http.MethodPost, "/api/sources",
		fmt.Sprintf(`{"url":"%s/feed.xml","type":"rss"}`, upstream.URL), testKey)
	assert.Equal(t, http.StatusOK, rec.Code, env.Message)

	rec, env = ts.do(t, http.MethodPost, "/api/sources",
		fmt.Sprintf(`{"url":"%s/not-a-feed","type":"rss"}`, upstream.URL), testKey)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, env.Message, "parsable feed")
}

func TestSourceLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	id, err := ts.store.AddSource(ctx, "https://example.com/feed.xml", model.KindRSS, "lifecycle")
	require.NoError(t, err)

	rec, env := ts.do(t, http.MethodPatch, "/api/sources/"+id.String()+"/pause", "", testKey)
	require.Equal(t, http.StatusOK, rec.Code)
	var src model.Source
	require.NoError(t, json.Unmarshal(env.Data, &src))
	assert.False(t, src.Active)

	rec, env = ts.do(t, http.MethodPatch, "/api/sources/"+id.String()+"/resume", "", testKey)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &src))
	assert.True(t, src.Active)
	assert.Zero(t, src.ErrorCount, "resume clears the error counter")

	rec, env = ts.do(t, http.MethodPatch, "/api/sources/"+id.String(),
		`{"name":"renamed"}`, testKey)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &src))
	assert.Equal(t, "renamed", src.Name)

	rec, _ = ts.do(t, http.MethodDelete, "/api/sources/"+id.String(), "", testKey)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = ts.do(t, http.MethodDelete, "/api/sources/"+id.String(), "", testKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)

	rec, _ = ts.do(t, http.MethodDelete, "/api/sources/not-a-uuid", "", testKey)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListEntriesFilters(t *testing.T) {
	ts := newTestServer(t)
	ts.seedContent(t, "high-unread", model.PriorityHigh, false)
	ts.seedContent(t, "high-read", model.PriorityHigh, true)
	ts.seedContent(t, "low-unread", model.PriorityLow, false)

	rec, env := ts.do(t, http.MethodGet, "/api/entries?priority=high", "", testKey)
	require.Equal(t, http.StatusOK, rec.Code)
	var data struct {
		Entries []model.ContentItem `json:"entries"`
		Count   int                 `json:"count"`
		Total   int                 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 2, data.Count)
	for _, e := range data.Entries {
		assert.Empty(t, e.Content, "listing omits bodies")
	}

	rec, env = ts.do(t, http.MethodGet, "/api/entries?priority=high&unread_only=true", "", testKey)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 1, data.Count)
	assert.Equal(t, "high-unread", data.Entries[0].Title)

	rec, env = ts.do(t, http.MethodGet, "/api/entries?priority=urgent", "", testKey)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, env.Message, "invalid priority")

	rec, _ = ts.do(t, http.MethodGet, "/api/entries?limit=20000", "", testKey)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/api/entries?since=yesterday", "", testKey)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, _ = ts.do(t, http.MethodGet,
		"/api/entries?since=2026-01-01T00:00:00Z&since_hours=24", "", testKey)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, env = ts.do(t, http.MethodGet, "/api/entries?since_hours=24", "", testKey)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 3, data.Count)
}

func TestGetEntryAndRaw(t *testing.T) {
	ts := newTestServer(t)
	id := ts.seedContent(t, "article", model.PriorityHigh, false)

	rec, env := ts.do(t, http.MethodGet, "/api/entries/"+id.String(), "", testKey)
	require.Equal(t, http.StatusOK, rec.Code)
	var item model.ContentItem
	require.NoError(t, json.Unmarshal(env.Data, &item))
	assert.Empty(t, item.Content, "lightweight by default")
	require.NotNil(t, item.Summary)

	rec, env = ts.do(t, http.MethodGet, "/api/entries/"+id.String()+"?include=content", "", testKey)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &item))
	assert.Equal(t, "body of article", item.Content)

	rec, _ = ts.do(t, http.MethodGet, "/api/entries/"+id.String()+"/raw", "", testKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Equal(t, "body of article", rec.Body.String())

	rec, env = ts.do(t, http.MethodGet, "/api/entries/"+uuid.NewString(), "", testKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
}

func TestUpdateEntry(t *testing.T) {
	ts := newTestServer(t)
	id := ts.seedContent(t, "article", model.PriorityHigh, false)

	rec, env := ts.do(t, http.MethodPatch, "/api/entries/"+id.String(),
		`{"read":true,"favorited":true,"flagged":true}`, testKey)
	require.Equal(t, http.StatusOK, rec.Code, env.Message)
	var item model.ContentItem
	require.NoError(t, json.Unmarshal(env.Data, &item))
	assert.True(t, item.Read)
	assert.True(t, item.Favorited)
	assert.True(t, item.FlaggedInteresting)

	rec, env = ts.do(t, http.MethodPatch, "/api/entries/"+id.String(), `{}`, testKey)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, env.Message, "nothing to update")

	rec, _ = ts.do(t, http.MethodPatch, "/api/entries/"+uuid.NewString(),
		`{"read":true}`, testKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchWithoutEmbedder(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(t, http.MethodGet, "/api/search?q=anything", "", testKey)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, env.Message, "semantic search is unavailable")

	rec, env = ts.do(t, http.MethodGet, "/api/search", "", testKey)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPrune(t *testing.T) {
	ts := newTestServer(t)
	// Unprioritized item is prunable; the high-priority one is not.
	ctx := context.Background()
	srcID, err := ts.store.AddSource(ctx, "https://example.com/feed.xml", model.KindRSS, "seed")
	require.NoError(t, err)
	_, err = ts.store.AddContent(ctx, model.ContentItem{
		SourceID: &srcID, ExternalID: "plain", Title: "plain",
		URL: "https://example.com/plain", FetchedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	ts.seedContent(t, "kept", model.PriorityHigh, false)

	rec, env := ts.do(t, http.MethodGet, "/api/prune/count", "", testKey)
	require.Equal(t, http.StatusOK, rec.Code)
	var count struct {
		Count int64 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &count))
	assert.Equal(t, int64(1), count.Count)

	rec, env = ts.do(t, http.MethodPost, "/api/prune", `{}`, testKey)
	require.Equal(t, http.StatusOK, rec.Code)
	var deleted struct {
		Deleted int64 `json:"deleted"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &deleted))
	assert.Equal(t, int64(1), deleted.Deleted)

	rec, _ = ts.do(t, http.MethodPost, "/api/prune", `{"days":0}`, testKey)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestArchiveStatus(t *testing.T) {
	ts := newTestServer(t)
	ts.seedContent(t, "active-high", model.PriorityHigh, false)

	rec, env := ts.do(t, http.MethodGet, "/api/archive/status", "", testKey)
	require.Equal(t, http.StatusOK, rec.Code)
	var data struct {
		Enabled bool                 `json:"enabled"`
		Windows model.ArchiveWindows `json:"windows"`
		Active  map[string]int       `json:"active"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.True(t, data.Enabled)
	assert.Equal(t, 14, data.Windows.MediumUnread)
	assert.Equal(t, 1, data.Active["high"])
}

func TestContextDocument(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(t, http.MethodGet, "/api/context", "", testKey)
	require.Equal(t, http.StatusOK, rec.Code)
	var data struct {
		Content string `json:"content"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Contains(t, data.Content, "## High Priority Topics")

	rec, env = ts.do(t, http.MethodPut, "/api/context",
		`{"content":"## High Priority Topics\n- x\n"}`, testKey)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "partial documents are rejected")

	full := "## High Priority Topics\n- go\n\n## Medium Priority Topics\n- db\n\n## Low Priority Topics\n- talks\n\n## Not Interested\n- crypto\n"
	body, err := json.Marshal(map[string]string{"content": full})
	require.NoError(t, err)
	rec, _ = ts.do(t, http.MethodPut, "/api/context", string(body), testKey)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = ts.do(t, http.MethodGet, "/api/context", "", testKey)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, full, data.Content)
}

func TestCreateBriefing(t *testing.T) {
	ts := newTestServer(t)
	ts.seedContent(t, "first", model.PriorityHigh, false)

	rec, env := ts.do(t, http.MethodPost, "/api/audio/briefings", `{}`, testKey)
	require.Equal(t, http.StatusOK, rec.Code, env.Message)
	var data struct {
		Path  string `json:"path"`
		Items int    `json:"items"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 1, data.Items)

	script, err := os.ReadFile(data.Path)
	require.NoError(t, err)
	assert.Contains(t, string(script), "first")
	assert.Contains(t, string(script), "summary of first")

	// No medium items yet.
	rec, _ = ts.do(t, http.MethodPost, "/api/audio/briefings", `{"priority":"medium"}`, testKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/audio/briefings", `{"priority":"urgent"}`, testKey)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/sources", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	// Non-local origins get no CORS headers.
	req = httptest.NewRequest(http.MethodOptions, "/api/sources", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
