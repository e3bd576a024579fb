package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BatmanBruc/bat-bot-video/internal/utils"
)

var (
	ErrTimeout      = errors.New("converter: timed out")
	ErrEmptyOutput  = errors.New("converter: output file is missing or empty")
	ErrToolMissing  = errors.New("converter: tool is not installed")
	ErrBadDuration  = errors.New("converter: cannot read duration")
	ErrSameLocation = errors.New("converter: input and output are the same file")
)

const (
	DefaultRF  = 22
	minRF      = 18
	maxRF      = 40
	outputTail = 2048
)

// Request describes one HandBrakeCLI run.
type Request struct {
	Input     string
	Output    string
	Preset    string
	RF        int
	MaxHeight int // 0 keeps the preset's height
}

type HandBrake struct {
	bin     string
	ffprobe string
	runner  utils.CommandRunner
}

func NewHandBrake(bin, ffprobeBin string, runner utils.CommandRunner) *HandBrake {
	if strings.TrimSpace(bin) == "" {
		bin = "HandBrakeCLI"
	}
	if strings.TrimSpace(ffprobeBin) == "" {
		ffprobeBin = "ffprobe"
	}
	if runner == nil {
		runner = utils.ExecRunner{}
	}
	return &HandBrake{bin: bin, ffprobe: ffprobeBin, runner: runner}
}

// Available reports whether both executables are on PATH.
func (h *HandBrake) Available() error {
	for _, bin := range []string{h.bin, h.ffprobe} {
		if !utils.HasCommand(bin) {
			return fmt.Errorf("%w: %s", ErrToolMissing, bin)
		}
	}
	return nil
}

// OutputPath names the encoded copy next to the input.
func OutputPath(input string, height int) string {
	dir := filepath.Dir(input)
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	if height > 0 {
		return filepath.Join(dir, fmt.Sprintf("%s_%dp.mp4", base, height))
	}
	return filepath.Join(dir, base+"_encoded.mp4")
}

func clampRF(rf int) int {
	if rf <= 0 {
		return DefaultRF
	}
	if rf < minRF {
		return minRF
	}
	if rf > maxRF {
		return maxRF
	}
	return rf
}

func buildArgs(req Request) []string {
	args := []string{
		"-i", req.Input,
		"-o", req.Output,
		"--preset", req.Preset,
		"-e", "x264",
		"-q", strconv.Itoa(clampRF(req.RF)),
	}
	if req.MaxHeight > 0 {
		args = append(args, "--maxHeight", strconv.Itoa(req.MaxHeight))
	}
	return append(args, "-E", "aac", "-B", "128", "--format", "av_mp4")
}

// Encode runs HandBrakeCLI and returns the output size. Success means exit
// code 0 and a non-empty output file; anything else removes the output.
func (h *HandBrake) Encode(ctx context.Context, req Request, timeout time.Duration) (int64, error) {
	if filepath.Clean(req.Input) == filepath.Clean(req.Output) {
		return 0, ErrSameLocation
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	output := utils.NewTailWriter(outputTail)
	err := h.runner.Run(ctx, h.bin, buildArgs(req), output, output)
	if err != nil {
		_ = os.Remove(req.Output)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, ErrTimeout
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("HandBrakeCLI: %w, output: %s", err, lastLine(output.String()))
	}

	info, err := os.Stat(req.Output)
	if err != nil || info.Size() == 0 {
		_ = os.Remove(req.Output)
		return 0, ErrEmptyOutput
	}
	return info.Size(), nil
}

// Duration measures a local file with ffprobe.
func (h *HandBrake) Duration(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var stdout bytes.Buffer
	stderr := utils.NewTailWriter(outputTail)
	args := []string{"-v", "error", "-show_entries", "format=duration", "-of", "csv=p=0", path}
	if err := h.runner.Run(ctx, h.ffprobe, args, &stdout, stderr); err != nil {
		return 0, fmt.Errorf("ffprobe: %w: %s", err, lastLine(stderr.String()))
	}
	raw := strings.TrimSpace(stdout.String())
	d, err := strconv.ParseFloat(raw, 64)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadDuration, raw)
	}
	return d, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexAny(s, "\r\n"); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
