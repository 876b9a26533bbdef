package fetcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickpending/prismis-sub000/internal/model"
)

func TestParseVideoLine(t *testing.T) {
	v, ok := parseVideoLine("abc123|Go 1.26 | What's New|754|20250810|10432|https://www.youtube.com/watch?v=abc123")
	require.True(t, ok)
	assert.Equal(t, "abc123", v.ID)
	assert.Equal(t, "Go 1.26 | What's New", v.Title, "pipes inside titles survive")
	assert.Equal(t, 754, v.Duration)
	assert.Equal(t, 10432, v.ViewCount)
	assert.Equal(t, "https://www.youtube.com/watch?v=abc123", v.URL)
	require.NotNil(t, v.UploadDate)
	assert.Equal(t, time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC), *v.UploadDate)

	_, ok = parseVideoLine("")
	assert.False(t, ok)
	_, ok = parseVideoLine("too|few|fields")
	assert.False(t, ok)
}

func TestDiscoveryTreatsBreakFilterExitAsSuccess(t *testing.T) {
	f := NewYouTubeFetcher(5, 30)
	f.run = func(ctx context.Context, name string, args ...string) (string, int, error) {
		assert.Equal(t, "yt-dlp", name)
		return "v1|First|60|20250820|100|https://youtube.com/watch?v=v1\n" +
			"v2|Second|90|20250819|200|https://youtube.com/watch?v=v2\n", breakFilterExit, nil
	}

	videos, err := f.discover(context.Background(), "https://www.youtube.com/@chan")
	require.NoError(t, err)
	assert.Len(t, videos, 2)
}

func TestDiscoveryFailsOnOtherExitCodes(t *testing.T) {
	f := NewYouTubeFetcher(5, 30)
	f.run = func(ctx context.Context, name string, args ...string) (string, int, error) {
		return "", 1, nil
	}
	_, err := f.discover(context.Background(), "https://www.youtube.com/@chan")
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindFetch))
}

func TestFetchStoresVideosWithoutTranscript(t *testing.T) {
	oldPoll := subtitlePoll
	subtitlePoll = 50 * time.Millisecond
	t.Cleanup(func() { subtitlePoll = oldPoll })

	f := NewYouTubeFetcher(5, 30)
	f.tempDir = t.TempDir()
	f.run = func(ctx context.Context, name string, args ...string) (string, int, error) {
		if args[0] == "--flat-playlist" {
			return "v1|Talk|60|20250820|100|https://youtube.com/watch?v=v1\n", 0, nil
		}
		// Subtitle run succeeds but writes nothing.
		return "", 0, nil
	}

	items, err := f.Fetch(context.Background(), testSource(model.KindYouTube, "https://www.youtube.com/@chan"))
	require.NoError(t, err)
	require.Len(t, items, 1)

	got := items[0]
	assert.Equal(t, noTranscriptNote, got.Content)
	assert.Equal(t, model.PriorityLow, got.Priority)
	require.NotNil(t, got.Notes)
	assert.Equal(t, noTranscriptNote, *got.Notes)
	metrics := got.Analysis.Metrics()
	require.NotNil(t, metrics)
	assert.Equal(t, "v1", metrics["video_id"])
}

func TestParseSubtitlesVTT(t *testing.T) {
	raw := `WEBVTT
Kind: captions
Language: en

00:00:00.000 --> 00:00:02.000
<c>welcome to the</c> show

00:00:02.000 --> 00:00:04.000
welcome to the show

00:00:04.000 --> 00:00:06.000
today we talk about Go
`
	got := ParseSubtitles(raw)
	assert.Equal(t, "welcome to the show\ntoday we talk about Go", got)
}

func TestParseSubtitlesSRT(t *testing.T) {
	raw := `1
00:00:00,000 --> 00:00:02,000
first line

2
00:00:02,000 --> 00:00:04,000
second line
`
	got := ParseSubtitles(raw)
	assert.Equal(t, "first line\nsecond line", got)
}
