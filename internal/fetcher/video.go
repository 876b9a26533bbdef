package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nickpending/prismis-sub000/internal/model"
)

const (
	// discoveryTimeout bounds the channel enumeration call; transcriptTimeout
	// bounds each per-video subtitle download.
	discoveryTimeout  = 60 * time.Second
	transcriptTimeout = 60 * time.Second

	// breakFilterExit is yt-dlp's exit code when --break-match-filters stops
	// enumeration at the date boundary. It means "done", not "failed".
	breakFilterExit = 101

	noTranscriptNote = "No transcript available"
)

// subtitlePoll bounds the wait for the subtitle file to land on disk after
// yt-dlp exits. Variable so tests can shorten it.
var subtitlePoll = 3 * time.Second

// ytPrintTemplate produces one pipe-delimited line per video.
const ytPrintTemplate = "%(id)s|%(title)s|%(duration)s|%(upload_date)s|%(view_count)s|%(webpage_url)s"

// RunCommandFunc executes an external tool and returns combined stdout, the
// exit code, and any launch error. Injectable so tests can stub yt-dlp.
type RunCommandFunc func(ctx context.Context, name string, args ...string) (stdout string, exitCode int, err error)

// YouTubeFetcher enumerates a channel's recent uploads via yt-dlp and
// extracts auto-generated subtitles into plain-text transcripts.
type YouTubeFetcher struct {
	run      RunCommandFunc
	maxItems int
	lookback int

	// tempDir overrides os.MkdirTemp's parent in tests.
	tempDir string
}

// NewYouTubeFetcher builds the video fetcher.
func NewYouTubeFetcher(maxItems, lookbackDays int) *YouTubeFetcher {
	return &YouTubeFetcher{run: runCommand, maxItems: maxItems, lookback: lookbackDays}
}

func (f *YouTubeFetcher) Kind() model.SourceKind { return model.KindYouTube }

type videoEntry struct {
	ID         string
	Title      string
	Duration   int
	UploadDate *time.Time
	ViewCount  int
	URL        string
}

// Fetch enumerates recent channel videos and attaches each one's
// transcript. Videos without transcripts are still returned, low priority,
// so the user sees that the upload happened.
func (f *YouTubeFetcher) Fetch(ctx context.Context, src model.Source) ([]model.ContentItem, error) {
	videos, err := f.discover(ctx, src.URL)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var items []model.ContentItem
	for _, v := range videos {
		item := model.ContentItem{
			SourceID:    &src.ID,
			ExternalID:  v.ID,
			Title:       v.Title,
			URL:         v.URL,
			PublishedAt: v.UploadDate,
			FetchedAt:   now,
			Analysis: model.Analysis{
				"metrics": map[string]any{
					"video_id":   v.ID,
					"view_count": v.ViewCount,
					"duration":   v.Duration,
				},
			},
		}
		transcript, err := f.transcript(ctx, v.URL, v.ID)
		if err != nil || strings.TrimSpace(transcript) == "" {
			item.Content = noTranscriptNote
			item.Priority = model.PriorityLow
			note := noTranscriptNote
			item.Notes = &note
		} else {
			item.Content = transcript
		}
		items = append(items, item)
	}
	return items, nil
}

// discover lists recent uploads with a date boundary. yt-dlp walks the
// uploads playlist newest first; --break-match-filters stops it at the
// first video older than the lookback window.
func (f *YouTubeFetcher) discover(ctx context.Context, channelURL string) ([]videoEntry, error) {
	boundary := lookbackCutoff(f.lookback).Format("20060102")
	args := []string{
		"--flat-playlist", "--no-warnings",
		"--break-match-filters", "upload_date >= " + boundary,
		"--playlist-end", strconv.Itoa(f.maxItems),
		"--print", ytPrintTemplate,
		channelURL,
	}

	runCtx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()
	stdout, exitCode, err := f.run(runCtx, "yt-dlp", args...)
	if err != nil {
		return nil, fetchErr(err, "run yt-dlp discovery")
	}
	if exitCode != 0 && exitCode != breakFilterExit {
		return nil, fetchErrf("yt-dlp discovery exited %d", exitCode)
	}

	var videos []videoEntry
	for _, line := range strings.Split(stdout, "\n") {
		v, ok := parseVideoLine(strings.TrimSpace(line))
		if !ok {
			continue
		}
		videos = append(videos, v)
		if f.maxItems > 0 && len(videos) >= f.maxItems {
			break
		}
	}
	return videos, nil
}

// parseVideoLine decodes one id|title|duration|upload_date|view_count|url
// print line. Title may itself contain pipes, so the line splits from both
// ends.
func parseVideoLine(line string) (videoEntry, bool) {
	if line == "" {
		return videoEntry{}, false
	}
	fields := strings.Split(line, "|")
	if len(fields) < 6 {
		return videoEntry{}, false
	}
	n := len(fields)
	v := videoEntry{
		ID:    fields[0],
		Title: strings.Join(fields[1:n-4], "|"),
		URL:   fields[n-1],
	}
	if v.ID == "" || v.URL == "" {
		return videoEntry{}, false
	}
	v.Duration = atoiSafe(fields[n-4])
	v.ViewCount = atoiSafe(fields[n-2])
	if t, err := time.ParseInLocation("20060102", fields[n-3], time.UTC); err == nil {
		v.UploadDate = &t
	}
	return v, true
}

func atoiSafe(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// transcript downloads auto-generated subtitles into a temp directory and
// parses them to plain text.
func (f *YouTubeFetcher) transcript(ctx context.Context, videoURL, videoID string) (string, error) {
	dir, err := os.MkdirTemp(f.tempDir, "prismis-subs-")
	if err != nil {
		return "", fetchErr(err, "create subtitle temp dir")
	}
	defer os.RemoveAll(dir)

	args := []string{
		"--skip-download", "--no-warnings",
		"--write-auto-subs", "--write-subs",
		"--sub-langs", "en.*,en",
		"--sub-format", "vtt/srt",
		"--output", filepath.Join(dir, videoID),
		videoURL,
	}
	runCtx, cancel := context.WithTimeout(ctx, transcriptTimeout)
	defer cancel()
	if _, exitCode, err := f.run(runCtx, "yt-dlp", args...); err != nil {
		return "", fetchErr(err, "run yt-dlp subtitles")
	} else if exitCode != 0 {
		return "", fetchErrf("yt-dlp subtitles exited %d", exitCode)
	}

	path, err := waitForSubtitle(dir)
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fetchErr(err, "read subtitle file")
	}
	return ParseSubtitles(string(raw)), nil
}

// waitForSubtitle polls the temp dir for the subtitle file. yt-dlp can exit
// before the file is fully flushed.
func waitForSubtitle(dir string) (string, error) {
	deadline := time.Now().Add(subtitlePoll)
	for {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return "", fetchErr(err, "scan subtitle dir")
		}
		for _, e := range entries {
			name := e.Name()
			if strings.HasSuffix(name, ".vtt") || strings.HasSuffix(name, ".srt") {
				return filepath.Join(dir, name), nil
			}
		}
		if time.Now().After(deadline) {
			return "", fetchErrf("no subtitle file produced")
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// runCommand is the production RunCommandFunc.
func runCommand(ctx context.Context, name string, args ...string) (string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = nil

	err := cmd.Run()
	if err == nil {
		return stdout.String(), 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.String(), exitErr.ExitCode(), nil
	}
	return "", -1, fmt.Errorf("run %s: %w", name, err)
}
