// Package ffmpeg invokes the ffprobe and ffmpeg executables as subprocesses.
//
// Every call checks the exit status. A non-zero exit, a signal or a timeout
// becomes a *TranscodeError carrying the argument vector and captured stderr.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrProbe     = errors.New("probe failure")
	ErrTranscode = errors.New("transcode failure")
)

const (
	// ClipSeconds is the length of each sampled clip and the frame scan window.
	ClipSeconds = 5

	manifestName = "filelist.txt"
	fastPreset   = "ultrafast"
)

var clipFractions = []float64{0.25, 0.5, 0.75}

// TranscodeError describes a subprocess that did not exit cleanly.
type TranscodeError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *TranscodeError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("%s exited with code %d: %v", e.binary(), e.ExitCode, e.Err)
	}
	return fmt.Sprintf("%s exited with code %d: %v: %s", e.binary(), e.ExitCode, e.Err, stderr)
}

func (e *TranscodeError) Unwrap() []error {
	return []error{ErrTranscode, e.Err}
}

func (e *TranscodeError) binary() string {
	if len(e.Args) == 0 {
		return "subprocess"
	}
	return filepath.Base(e.Args[0])
}

type Options struct {
	FFmpeg  string
	FFprobe string
	// Timeout bounds a single subprocess call. Zero means unbounded.
	Timeout time.Duration
}

type Invoker struct {
	ffmpeg  string
	ffprobe string
	timeout time.Duration
}

func New(opts Options) *Invoker {
	ffmpegBin := strings.TrimSpace(opts.FFmpeg)
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	ffprobeBin := strings.TrimSpace(opts.FFprobe)
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}
	return &Invoker{
		ffmpeg:  ffmpegBin,
		ffprobe: ffprobeBin,
		timeout: opts.Timeout,
	}
}

// ClipOffsets returns the clip start offsets at 25%, 50% and 75% of duration.
func ClipOffsets(duration float64) []float64 {
	offsets := make([]float64, len(clipFractions))
	for i, fraction := range clipFractions {
		offsets[i] = duration * fraction
	}
	return offsets
}

// FrameOffset returns the thumbnail scan start, a third into the input.
func FrameOffset(duration float64) float64 {
	return duration / 3
}

func formatOffset(seconds float64) string {
	return fmt.Sprintf("%.2f", seconds)
}

// ProbeDuration returns the container duration of path in seconds.
func (i *Invoker) ProbeDuration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	stdout, err := i.run(ctx, i.ffprobe, args)
	if err != nil {
		return 0, errors.Join(ErrProbe, err)
	}

	line := strings.TrimSpace(string(stdout))
	if line == "" {
		return 0, fmt.Errorf("%w: empty duration output for %s", ErrProbe, path)
	}
	if idx := strings.IndexAny(line, "\r\n"); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	duration, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: non-numeric duration %q for %s", ErrProbe, line, path)
	}
	if math.IsNaN(duration) || math.IsInf(duration, 0) || duration <= 0 {
		return 0, fmt.Errorf("%w: unusable duration %q for %s", ErrProbe, line, path)
	}

	zerolog.Ctx(ctx).Debug().Str("path", path).Float64("duration", duration).Msg("probed duration")
	return duration, nil
}

// ExtractClips cuts ClipSeconds-long, audio-less clips at each of
// ClipOffsets(duration) into outDir and returns them in offset order.
func (i *Invoker) ExtractClips(ctx context.Context, input, outDir string, duration float64) ([]string, error) {
	offsets := ClipOffsets(duration)
	clips := make([]string, 0, len(offsets))
	for n, offset := range offsets {
		clipPath := filepath.Join(outDir, fmt.Sprintf("clip%d.mp4", n))
		args := []string{
			"-ss", formatOffset(offset),
			"-i", input,
			"-t", strconv.Itoa(ClipSeconds),
			"-c:v", "libx264",
			"-an",
			"-preset", fastPreset,
			clipPath,
		}
		if err := i.transcode(ctx, args, clipPath); err != nil {
			return nil, err
		}
		clips = append(clips, clipPath)
	}
	return clips, nil
}

// Concat writes an ordered concat manifest next to output and joins the
// clips with a stream copy.
func (i *Invoker) Concat(ctx context.Context, clips []string, output string) error {
	if len(clips) == 0 {
		return fmt.Errorf("%w: nothing to concatenate", ErrTranscode)
	}
	manifest, err := WriteManifest(filepath.Join(filepath.Dir(output), manifestName), clips)
	if err != nil {
		return errors.Join(ErrTranscode, err)
	}
	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", manifest,
		"-c", "copy",
		output,
	}
	return i.transcode(ctx, args, output)
}

// ExtractFrame writes one representative still from the ClipSeconds window
// starting at FrameOffset(duration).
func (i *Invoker) ExtractFrame(ctx context.Context, input, output string, duration float64) error {
	args := []string{
		"-ss", formatOffset(FrameOffset(duration)),
		"-i", input,
		"-t", strconv.Itoa(ClipSeconds),
		"-vf", "thumbnail",
		"-frames:v", "1",
		"-an",
		"-preset", fastPreset,
		output,
	}
	return i.transcode(ctx, args, output)
}

// WriteManifest writes the concat demuxer list for clips, one absolute
// path per line, in the given order.
func WriteManifest(path string, clips []string) (string, error) {
	var content strings.Builder
	for _, clip := range clips {
		absPath, err := filepath.Abs(clip)
		if err != nil {
			return "", fmt.Errorf("resolve clip path %s: %w", clip, err)
		}
		escaped := strings.ReplaceAll(absPath, "'", "'\\''")
		content.WriteString(fmt.Sprintf("file '%s'\n", escaped))
	}
	if err := os.WriteFile(path, []byte(content.String()), 0o644); err != nil {
		return "", fmt.Errorf("write concat manifest: %w", err)
	}
	return path, nil
}

func (i *Invoker) transcode(ctx context.Context, args []string, output string) error {
	full := append([]string{"-nostdin", "-y"}, args...)
	if _, err := i.run(ctx, i.ffmpeg, full); err != nil {
		return err
	}
	info, err := os.Stat(output)
	if err != nil {
		return &TranscodeError{Args: append([]string{i.ffmpeg}, full...), Err: fmt.Errorf("missing output %s: %w", output, err)}
	}
	if info.Size() == 0 {
		return &TranscodeError{Args: append([]string{i.ffmpeg}, full...), Err: fmt.Errorf("empty output %s", output)}
	}
	return nil
}

// run executes binary with args and returns its stdout. Any failure to
// start or finish cleanly is a *TranscodeError.
func (i *Invoker) run(ctx context.Context, binary string, args []string) ([]byte, error) {
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	argv := append([]string{binary}, args...)
	zerolog.Ctx(ctx).Debug().Strs("args", argv).Msg("running subprocess")

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdin = nil
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w: %w", err, ctxErr)
	}
	failure := &TranscodeError{
		Args:     argv,
		ExitCode: exitCode,
		Stderr:   stderr.String(),
		Err:      err,
	}
	zerolog.Ctx(ctx).Error().
		Err(err).
		Strs("args", argv).
		Int("exit_code", exitCode).
		Str("stderr", strings.TrimSpace(stderr.String())).
		Msg("subprocess failed")
	return nil, failure
}
