// Package testsupport provides stand-ins for the ffmpeg toolchain and
// small media fixtures for tests.
package testsupport

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
)

// FFmpegStub is a shell script standing in for ffmpeg. It records each
// argument vector and writes the last argument as its output file:
//   - clips contain "clip <offset>\n" where offset is the -ss value
//   - concat outputs are the concatenation of the manifest's files
//   - .png outputs are a copy of the configured PNG fixture
type FFmpegStub struct {
	Path    string
	LogPath string
}

type FFmpegStubOptions struct {
	// ExitCode is returned instead of 0 when FailOn matches (or always when
	// FailOn is empty). No output is written on failure.
	ExitCode int
	Stderr   string
	FailOn   string
	// Frame is copied to .png outputs. Without it the stub writes text.
	Frame string
}

// StubFFmpeg writes an ffmpeg stand-in into dir.
func StubFFmpeg(t testing.TB, dir string, opts FFmpegStubOptions) *FFmpegStub {
	t.Helper()

	stub := &FFmpegStub{
		Path:    filepath.Join(dir, "ffmpeg"),
		LogPath: filepath.Join(dir, "ffmpeg.log"),
	}
	stderrPath := filepath.Join(dir, "ffmpeg.stderr")
	writeFile(t, stderrPath, []byte(opts.Stderr), 0o644)

	failCheck := ""
	if opts.ExitCode != 0 {
		if opts.FailOn == "" {
			failCheck = fmt.Sprintf("cat '%s' >&2\nexit %d\n", stderrPath, opts.ExitCode)
		} else {
			failCheck = fmt.Sprintf("case \"$*\" in\n  *'%s'*) cat '%s' >&2; exit %d;;\nesac\n", opts.FailOn, stderrPath, opts.ExitCode)
		}
	}

	script := fmt.Sprintf(`#!/bin/sh
printf '%%s\t' "$@" >> '%s'
printf '\n' >> '%s'
%s
out=""
input=""
offset=""
prev=""
concat=0
for arg in "$@"; do
  case "$prev" in
    -i) input="$arg" ;;
    -ss) offset="$arg" ;;
    -f) [ "$arg" = "concat" ] && concat=1 ;;
  esac
  prev="$arg"
  out="$arg"
done
if [ "$concat" = "1" ]; then
  : > "$out"
  sed -n "s/^file '\(.*\)'$/\1/p" "$input" | while IFS= read -r clip; do
    cat "$clip" >> "$out"
  done
  exit 0
fi
case "$out" in
  *.png)
    if [ -n '%s' ]; then cp '%s' "$out"; exit 0; fi ;;
esac
printf 'clip %%s\n' "$offset" > "$out"
exit 0
`, stub.LogPath, stub.LogPath, failCheck, opts.Frame, opts.Frame)

	writeFile(t, stub.Path, []byte(script), 0o755)
	return stub
}

// Calls returns the recorded argument vectors, oldest first.
func (s *FFmpegStub) Calls(t testing.TB) [][]string {
	t.Helper()
	return readCalls(t, s.LogPath)
}

// FFprobeStub is a shell script standing in for ffprobe.
type FFprobeStub struct {
	Path    string
	LogPath string
}

// StubFFprobe writes an ffprobe stand-in into dir that prints stdout and
// exits with exitCode, writing stderr to its error stream.
func StubFFprobe(t testing.TB, dir, stdout, stderr string, exitCode int) *FFprobeStub {
	t.Helper()

	stub := &FFprobeStub{
		Path:    filepath.Join(dir, "ffprobe"),
		LogPath: filepath.Join(dir, "ffprobe.log"),
	}
	stdoutPath := filepath.Join(dir, "ffprobe.stdout")
	stderrPath := filepath.Join(dir, "ffprobe.stderr")
	writeFile(t, stdoutPath, []byte(stdout), 0o644)
	writeFile(t, stderrPath, []byte(stderr), 0o644)

	script := fmt.Sprintf(`#!/bin/sh
printf '%%s\t' "$@" >> '%s'
printf '\n' >> '%s'
cat '%s'
cat '%s' >&2
exit %d
`, stub.LogPath, stub.LogPath, stdoutPath, stderrPath, exitCode)

	writeFile(t, stub.Path, []byte(script), 0o755)
	return stub
}

func (s *FFprobeStub) Calls(t testing.TB) [][]string {
	t.Helper()
	return readCalls(t, s.LogPath)
}

// WritePNG writes a small solid PNG image to path.
func WritePNG(t testing.TB, path string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	img := imaging.New(16, 9, color.NRGBA{R: 0x42, G: 0x42, B: 0x42, A: 0xff})
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("save png %s: %v", path, err)
	}
}

func readCalls(t testing.TB, logPath string) [][]string {
	t.Helper()

	data, err := os.ReadFile(logPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("read stub log %s: %v", logPath, err)
	}

	var calls [][]string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSuffix(line, "\t")
		if line == "" {
			continue
		}
		calls = append(calls, strings.Split(line, "\t"))
	}
	return calls
}

func writeFile(t testing.TB, path string, data []byte, mode os.FileMode) {
	t.Helper()
	if err := os.WriteFile(path, data, mode); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
