package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BatmanBruc/bat-bot-video/internal/utils"
)

var (
	ErrTimeout  = errors.New("extractor: timed out")
	ErrNoFile   = errors.New("extractor: no file produced")
	ErrNoOutput = errors.New("extractor: empty metadata")
)

// DefaultSelectors are tried in order until one succeeds.
var DefaultSelectors = []string{"best[ext=mp4]/best", "bv*+ba/b"}

const (
	outputTemplate = "%(title).150B.%(ext)s"
	progressMarker = "PROGRESS|"
	stderrTail     = 4096
)

type ProbeResult struct {
	Title           string
	SizeBytes       int64   // 0 when unknown
	DurationSeconds float64 // 0 when unknown
}

type FetchResult struct {
	Path            string
	Title           string
	DurationSeconds float64
}

type Progress struct {
	Percent string
	Speed   string
	ETA     string
}

// YTDLP drives the yt-dlp executable.
type YTDLP struct {
	bin    string
	runner utils.CommandRunner
}

func New(bin string, runner utils.CommandRunner) *YTDLP {
	if strings.TrimSpace(bin) == "" {
		bin = "yt-dlp"
	}
	if runner == nil {
		runner = utils.ExecRunner{}
	}
	return &YTDLP{bin: bin, runner: runner}
}

type videoInfo struct {
	Title          string   `json:"title"`
	Duration       *float64 `json:"duration"`
	Filesize       *int64   `json:"filesize"`
	FilesizeApprox *int64   `json:"filesize_approx"`
	Tbr            *float64 `json:"tbr"`
	Filename       string   `json:"_filename"`
	FilenameAlt    string   `json:"filename"`

	RequestedFormats []struct {
		Filesize       *int64 `json:"filesize"`
		FilesizeApprox *int64 `json:"filesize_approx"`
	} `json:"requested_formats"`

	RequestedDownloads []struct {
		Filepath string `json:"filepath"`
		Filename string `json:"_filename"`
	} `json:"requested_downloads"`
}

func (v videoInfo) duration() float64 {
	if v.Duration == nil || *v.Duration < 0 {
		return 0
	}
	return *v.Duration
}

// approxSize prefers declared sizes and falls back to duration × total
// bitrate. tbr is kbit/s, so bytes = seconds × tbr × 1000 / 8.
func (v videoInfo) approxSize() int64 {
	if v.Filesize != nil && *v.Filesize > 0 {
		return *v.Filesize
	}
	if v.FilesizeApprox != nil && *v.FilesizeApprox > 0 {
		return *v.FilesizeApprox
	}
	var sum int64
	for _, f := range v.RequestedFormats {
		switch {
		case f.Filesize != nil && *f.Filesize > 0:
			sum += *f.Filesize
		case f.FilesizeApprox != nil && *f.FilesizeApprox > 0:
			sum += *f.FilesizeApprox
		}
	}
	if sum > 0 {
		return sum
	}
	if v.Tbr != nil && *v.Tbr > 0 && v.duration() > 0 {
		return int64(v.duration() * *v.Tbr * 125)
	}
	return 0
}

// Probe reads metadata only. No media is transferred.
func (y *YTDLP) Probe(ctx context.Context, url string, timeout time.Duration) (ProbeResult, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	var stdout bytes.Buffer
	stderr := utils.NewTailWriter(stderrTail)
	args := []string{"-J", "--no-playlist", "--skip-download", "--no-warnings", "--", url}
	if err := y.runner.Run(ctx, y.bin, args, &stdout, stderr); err != nil {
		return ProbeResult{}, toolError("probe", ctx, err, stderr.String())
	}

	info, err := lastInfo(stdout.Bytes())
	if err != nil {
		return ProbeResult{}, fmt.Errorf("yt-dlp probe: %w", err)
	}
	return ProbeResult{
		Title:           info.Title,
		SizeBytes:       info.approxSize(),
		DurationSeconds: info.duration(),
	}, nil
}

// Fetch downloads url into outDir, trying each selector in order. The
// returned path is whatever yt-dlp reported; callers must sanitize it.
func (y *YTDLP) Fetch(ctx context.Context, url string, selectors []string, outDir string, timeout time.Duration, onProgress func(Progress)) (FetchResult, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	if len(selectors) == 0 {
		selectors = DefaultSelectors
	}

	var errs []error
	for _, sel := range selectors {
		res, err := y.fetchOnce(ctx, url, sel, outDir, onProgress)
		if err == nil {
			return res, nil
		}
		errs = append(errs, fmt.Errorf("format %q: %w", sel, err))
		if ctx.Err() != nil {
			break
		}
	}
	return FetchResult{}, errors.Join(errs...)
}

func (y *YTDLP) fetchOnce(ctx context.Context, url, selector, outDir string, onProgress func(Progress)) (FetchResult, error) {
	var stdout bytes.Buffer
	tail := utils.NewTailWriter(stderrTail)
	lines := utils.NewLineWriter(func(line string) {
		if p, ok := parseProgress(line); ok {
			if onProgress != nil {
				onProgress(p)
			}
			return
		}
		_, _ = tail.Write([]byte(line + "\n"))
	})

	args := []string{
		"-f", selector,
		"-o", filepath.Join(outDir, outputTemplate),
		"--no-playlist",
		"--no-warnings",
		"--merge-output-format", "mp4",
		"-j", "--no-simulate",
		"--progress", "--newline",
		"--progress-template", "download:" + progressMarker + "%(progress._percent_str)s|%(progress._speed_str)s|%(progress._eta_str)s",
		"--", url,
	}
	err := y.runner.Run(ctx, y.bin, args, &stdout, lines)
	lines.Flush()
	if err != nil {
		return FetchResult{}, toolError("fetch", ctx, err, tail.String())
	}

	info, err := lastInfo(stdout.Bytes())
	if err != nil {
		return FetchResult{}, fmt.Errorf("yt-dlp fetch: %w", err)
	}

	path := ""
	for _, d := range info.RequestedDownloads {
		if d.Filepath != "" {
			path = d.Filepath
		} else if d.Filename != "" {
			path = d.Filename
		}
	}
	if path == "" {
		path = info.Filename
	}
	if path == "" {
		path = info.FilenameAlt
	}
	if path == "" {
		return FetchResult{}, ErrNoFile
	}
	if st, err := os.Stat(path); err != nil || st.IsDir() {
		return FetchResult{}, fmt.Errorf("%w: %s", ErrNoFile, filepath.Base(path))
	}

	return FetchResult{Path: path, Title: info.Title, DurationSeconds: info.duration()}, nil
}

// lastInfo decodes the last JSON object on stdout. yt-dlp prints one per line.
func lastInfo(out []byte) (videoInfo, error) {
	var info videoInfo
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return videoInfo{}, ErrNoOutput
	}
	if err := json.Unmarshal(trimmed, &info); err == nil {
		return info, nil
	}

	lines := bytes.Split(trimmed, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		info = videoInfo{}
		if err := json.Unmarshal(line, &info); err != nil {
			return videoInfo{}, fmt.Errorf("decode metadata: %w", err)
		}
		return info, nil
	}
	return videoInfo{}, ErrNoOutput
}

func parseProgress(line string) (Progress, bool) {
	rest, ok := strings.CutPrefix(line, progressMarker)
	if !ok {
		return Progress{}, false
	}
	parts := strings.SplitN(rest, "|", 3)
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	return Progress{
		Percent: strings.TrimSpace(parts[0]),
		Speed:   strings.TrimSpace(parts[1]),
		ETA:     strings.TrimSpace(parts[2]),
	}, true
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func toolError(op string, ctx context.Context, err error, stderr string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("yt-dlp %s: %w", op, ErrTimeout)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("yt-dlp %s: %w", op, ctx.Err())
	}
	if msg := lastErrorLine(stderr); msg != "" {
		return fmt.Errorf("yt-dlp %s: %w: %s", op, err, msg)
	}
	return fmt.Errorf("yt-dlp %s: %w", op, err)
}

func lastErrorLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(lines[i], "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(lines[i], "ERROR:"))
		}
	}
	if len(lines) > 0 {
		return strings.TrimSpace(lines[len(lines)-1])
	}
	return ""
}
