package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worker-preview/pkg/testsupport"
)

func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func TestClipOffsets(t *testing.T) {
	assert.Equal(t, []float64{5, 10, 15}, ClipOffsets(20))
	assert.InDelta(t, 10.0, FrameOffset(30), 1e-9)
}

func TestProbeDuration(t *testing.T) {
	dir := t.TempDir()
	probe := testsupport.StubFFprobe(t, dir, "20.040000\n", "", 0)
	inv := New(Options{FFprobe: probe.Path})

	duration, err := inv.ProbeDuration(context.Background(), "/videos/cat.mp4")
	require.NoError(t, err)
	assert.InDelta(t, 20.04, duration, 1e-9)

	calls := probe.Calls(t)
	require.Len(t, calls, 1)
	assert.Equal(t, []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		"/videos/cat.mp4",
	}, calls[0])
}

func TestProbeDurationFailures(t *testing.T) {
	cases := []struct {
		name     string
		stdout   string
		exitCode int
	}{
		{name: "blank output", stdout: "  \n"},
		{name: "non numeric", stdout: "N/A\n"},
		{name: "zero", stdout: "0.000000\n"},
		{name: "negative", stdout: "-3\n"},
		{name: "nan", stdout: "NaN\n"},
		{name: "non zero exit", stdout: "12.0\n", exitCode: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			probe := testsupport.StubFFprobe(t, t.TempDir(), tc.stdout, "moov atom not found", tc.exitCode)
			inv := New(Options{FFprobe: probe.Path})

			_, err := inv.ProbeDuration(context.Background(), "in.mp4")
			require.ErrorIs(t, err, ErrProbe)
		})
	}
}

func TestProbeDurationMissingBinary(t *testing.T) {
	inv := New(Options{FFprobe: filepath.Join(t.TempDir(), "does-not-exist")})

	_, err := inv.ProbeDuration(context.Background(), "in.mp4")
	require.ErrorIs(t, err, ErrProbe)
}

func TestExtractClipsRequestsThreeFiveSecondSamples(t *testing.T) {
	dir := t.TempDir()
	stub := testsupport.StubFFmpeg(t, dir, testsupport.FFmpegStubOptions{})
	inv := New(Options{FFmpeg: stub.Path})
	outDir := filepath.Join(dir, "work")
	require.NoError(t, os.MkdirAll(outDir, 0o755))

	clips, err := inv.ExtractClips(context.Background(), "/in/cat.mp4", outDir, 20)
	require.NoError(t, err)
	require.Len(t, clips, 3)

	calls := stub.Calls(t)
	require.Len(t, calls, 3)
	for i, want := range []string{"5.00", "10.00", "15.00"} {
		args := calls[i]
		assert.Equal(t, want, argAfter(args, "-ss"))
		assert.Equal(t, "5", argAfter(args, "-t"))
		assert.Equal(t, "/in/cat.mp4", argAfter(args, "-i"))
		assert.Equal(t, "ultrafast", argAfter(args, "-preset"))
		assert.Contains(t, args, "-an")
		assert.Contains(t, args, "-nostdin")
		assert.Equal(t, clips[i], args[len(args)-1])
	}
}

func TestConcatPreservesClipOrder(t *testing.T) {
	dir := t.TempDir()
	stub := testsupport.StubFFmpeg(t, dir, testsupport.FFmpegStubOptions{})
	inv := New(Options{FFmpeg: stub.Path})
	ctx := context.Background()

	clips, err := inv.ExtractClips(ctx, "in.mp4", dir, 20)
	require.NoError(t, err)

	output := filepath.Join(dir, "preview.mp4")
	require.NoError(t, inv.Concat(ctx, clips, output))

	manifest, err := os.ReadFile(filepath.Join(dir, "filelist.txt"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(manifest)), "\n")
	require.Len(t, lines, 3)
	for i, clip := range clips {
		abs, _ := filepath.Abs(clip)
		assert.Equal(t, "file '"+abs+"'", lines[i])
	}

	// The stub joins clip bytes, so the output is the ordered sum of the clips.
	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "clip 5.00\nclip 10.00\nclip 15.00\n", string(data))

	var total int64
	for _, clip := range clips {
		info, err := os.Stat(clip)
		require.NoError(t, err)
		total += info.Size()
	}
	assert.EqualValues(t, total, len(data))

	last := stub.Calls(t)[3]
	assert.Equal(t, "concat", argAfter(last, "-f"))
	assert.Equal(t, "copy", argAfter(last, "-c"))
}

func TestConcatRejectsEmptyInput(t *testing.T) {
	inv := New(Options{})
	err := inv.Concat(context.Background(), nil, filepath.Join(t.TempDir(), "out.mp4"))
	assert.ErrorIs(t, err, ErrTranscode)
}

func TestWriteManifestEscapesQuotes(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteManifest(filepath.Join(dir, "list.txt"), []string{"/tmp/it's.mp4"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "file '/tmp/it'\\''s.mp4'\n", string(data))
}

func TestExtractFrameRequestsThirdOfDuration(t *testing.T) {
	dir := t.TempDir()
	fixture := filepath.Join(dir, "fixture.png")
	testsupport.WritePNG(t, fixture)
	stub := testsupport.StubFFmpeg(t, dir, testsupport.FFmpegStubOptions{Frame: fixture})
	inv := New(Options{FFmpeg: stub.Path})

	output := filepath.Join(dir, "thumbnail.png")
	require.NoError(t, inv.ExtractFrame(context.Background(), "preview.mp4", output, 30))

	calls := stub.Calls(t)
	require.Len(t, calls, 1)
	args := calls[0]
	assert.Equal(t, "10.00", argAfter(args, "-ss"))
	assert.Equal(t, "5", argAfter(args, "-t"))
	assert.Equal(t, "1", argAfter(args, "-frames:v"))
	assert.Contains(t, args, "-an")

	_, err := os.Stat(output)
	assert.NoError(t, err)
}

func TestNonZeroExitIsTranscodeFailure(t *testing.T) {
	dir := t.TempDir()
	stub := testsupport.StubFFmpeg(t, dir, testsupport.FFmpegStubOptions{
		ExitCode: 1,
		Stderr:   "Invalid data found when processing input",
		FailOn:   "15.00",
	})
	inv := New(Options{FFmpeg: stub.Path})

	_, err := inv.ExtractClips(context.Background(), "in.mp4", dir, 20)
	require.ErrorIs(t, err, ErrTranscode)

	var transcodeErr *TranscodeError
	require.True(t, errors.As(err, &transcodeErr))
	assert.Equal(t, 1, transcodeErr.ExitCode)
	assert.Contains(t, transcodeErr.Stderr, "Invalid data found")
	assert.Equal(t, stub.Path, transcodeErr.Args[0])

	_, statErr := os.Stat(filepath.Join(dir, "clip2.mp4"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestTimeoutIsTranscodeFailure(t *testing.T) {
	dir := t.TempDir()
	slow := filepath.Join(dir, "ffmpeg")
	require.NoError(t, os.WriteFile(slow, []byte("#!/bin/sh\nexec sleep 5\n"), 0o755))
	inv := New(Options{FFmpeg: slow, Timeout: 100 * time.Millisecond})

	err := inv.ExtractFrame(context.Background(), "in.mp4", filepath.Join(dir, "out.png"), 30)
	require.ErrorIs(t, err, ErrTranscode)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMissingOutputIsTranscodeFailure(t *testing.T) {
	dir := t.TempDir()
	silent := filepath.Join(dir, "ffmpeg")
	require.NoError(t, os.WriteFile(silent, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	inv := New(Options{FFmpeg: silent})

	err := inv.ExtractFrame(context.Background(), "in.mp4", filepath.Join(dir, "out.png"), 30)
	require.ErrorIs(t, err, ErrTranscode)
}
