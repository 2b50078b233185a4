// Package ffmpeg drives the external ffmpeg and ffprobe tools used to cut,
// join and measure clips. Every invocation is bounded by a timeout.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/rssrn/birdbird/internal/conf"
	"github.com/rssrn/birdbird/internal/errors"
	"github.com/rssrn/birdbird/internal/logger"
)

const componentFFmpeg = "ffmpeg"

// maxStderr caps how much tool output is attached to an error
const maxStderr = 2048

// Options configures an Executor.
type Options struct {
	FFmpegPath    string
	FFprobePath   string
	Timeout       time.Duration // per invocation
	StreamCopy    bool          // cut without re-encoding
	VideoCodec    string
	AudioCodec    string
	Preset        string
	CRF           int
	ProbeCacheTTL time.Duration
}

// OptionsFromSettings builds executor options from configuration.
func OptionsFromSettings(s *conf.HighlightSettings) Options {
	return Options{
		FFmpegPath:    s.FFmpegPath,
		FFprobePath:   s.FFprobePath,
		Timeout:       s.Timeout,
		StreamCopy:    s.StreamCopy,
		VideoCodec:    s.VideoCodec,
		AudioCodec:    s.AudioCodec,
		Preset:        s.Preset,
		CRF:           s.CRF,
		ProbeCacheTTL: s.ProbeCache,
	}
}

// runFunc executes a command and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) (stdout []byte, stderr string, err error)

// Executor runs ffmpeg and ffprobe. It is safe for concurrent use.
type Executor struct {
	opts    Options
	ffmpeg  string
	ffprobe string
	probes  *cache.Cache
	run     runFunc
}

// NewExecutor locates ffmpeg and ffprobe and returns an executor.
func NewExecutor(opts Options) (*Executor, error) {
	ffmpegBin, err := conf.LookupTool(opts.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, errors.New(err).
			Component(componentFFmpeg).
			Category(errors.CategoryConfiguration).
			Context("tool", "ffmpeg").
			Build()
	}
	ffprobeBin, err := conf.LookupTool(opts.FFprobePath, "ffprobe")
	if err != nil {
		return nil, errors.New(err).
			Component(componentFFmpeg).
			Category(errors.CategoryConfiguration).
			Context("tool", "ffprobe").
			Build()
	}
	return newExecutor(opts, ffmpegBin, ffprobeBin, runCommand), nil
}

func newExecutor(opts Options, ffmpegBin, ffprobeBin string, run runFunc) *Executor {
	if opts.Timeout <= 0 {
		opts.Timeout = conf.DefaultTranscodeTimeout
	}
	ttl := opts.ProbeCacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Executor{
		opts:    opts,
		ffmpeg:  ffmpegBin,
		ffprobe: ffprobeBin,
		probes:  cache.New(ttl, 2*ttl),
		run:     run,
	}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, string, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // G204: binary resolved by LookupTool, args built internally
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.String(), err
}

// invoke runs a tool under the executor timeout and maps failures to categorized errors.
func (e *Executor) invoke(ctx context.Context, operation, bin string, args ...string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, err := e.run(runCtx, bin, args...)
	if err == nil {
		GetLogger().Trace("Tool finished",
			logger.String("operation", operation),
			logger.Duration("elapsed", time.Since(start)))
		return stdout, nil
	}

	category := errors.CategoryCommandExecution
	switch {
	case ctx.Err() != nil:
		err = ctx.Err()
		category = errors.CategoryCancellation
	case runCtx.Err() != nil:
		err = fmt.Errorf("%s timed out after %s: %w", operation, e.opts.Timeout, runCtx.Err())
		category = errors.CategoryTimeout
	}

	return nil, errors.New(err).
		Component(componentFFmpeg).
		Category(category).
		Context("operation", operation).
		Context("stderr", truncate(stderr, maxStderr)).
		Timing(operation, time.Since(start)).
		Build()
}

// Extract writes the [start, end) range of input to output. With stream
// copy enabled the cut snaps to the nearest preceding keyframe.
func (e *Executor) Extract(ctx context.Context, input string, start, end float64, output string) error {
	if end <= start {
		return errors.Newf("empty extraction range [%.3f, %.3f)", start, end).
			Component(componentFFmpeg).
			Category(errors.CategoryValidation).
			Context("input", input).
			Build()
	}

	tmp := partialPath(output)
	defer os.Remove(tmp)

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", formatSeconds(start),
		"-i", input,
		"-t", formatSeconds(end - start),
	}
	args = append(args, e.codecArgs()...)
	args = append(args, tmp)

	if _, err := e.invoke(ctx, "extract", e.ffmpeg, args...); err != nil {
		return err
	}
	return commit(tmp, output)
}

func (e *Executor) codecArgs() []string {
	if e.opts.StreamCopy {
		return []string{"-c", "copy", "-avoid_negative_ts", "make_zero"}
	}
	return []string{
		"-c:v", e.opts.VideoCodec,
		"-preset", e.opts.Preset,
		"-crf", strconv.Itoa(e.opts.CRF),
		"-c:a", e.opts.AudioCodec,
	}
}

// Concat joins parts in order into output using the concat demuxer without
// re-encoding. All parts must share one encoding profile.
func (e *Executor) Concat(ctx context.Context, parts []string, output string) error {
	if len(parts) == 0 {
		return errors.Newf("nothing to concatenate").
			Component(componentFFmpeg).
			Category(errors.CategoryValidation).
			Context("output", output).
			Build()
	}

	listFile, err := writeConcatList(filepath.Dir(output), parts)
	if err != nil {
		return err
	}
	defer os.Remove(listFile)

	tmp := partialPath(output)
	defer os.Remove(tmp)

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "concat", "-safe", "0",
		"-i", listFile,
		"-c", "copy",
		// identical parts must give an identical reel so republishing is a no-op
		"-map_metadata", "-1",
		"-fflags", "+bitexact",
		"-flags:v", "+bitexact",
		"-flags:a", "+bitexact",
		"-movflags", "+faststart",
		tmp,
	}
	if _, err := e.invoke(ctx, "concat", e.ffmpeg, args...); err != nil {
		return err
	}
	return commit(tmp, output)
}

// Duration returns the container duration of path in seconds. Results are
// cached per path, size and modification time.
func (e *Executor) Duration(ctx context.Context, path string) (float64, error) {
	key := path
	if info, err := os.Stat(path); err == nil {
		key = fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
	}
	if v, ok := e.probes.Get(key); ok {
		return v.(float64), nil
	}

	out, err := e.invoke(ctx, "probe", e.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	if err != nil {
		return 0, err
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, errors.New(err).
			Component(componentFFmpeg).
			Category(errors.CategoryFileParsing).
			Context("operation", "probe").
			Context("path", path).
			Context("output", truncate(string(out), 128)).
			Build()
	}

	e.probes.Set(key, duration, cache.DefaultExpiration)
	return duration, nil
}

func writeConcatList(dir string, parts []string) (string, error) {
	var b strings.Builder
	for _, p := range parts {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		// concat demuxer quoting: close the quote, escape, reopen
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}

	f, err := os.CreateTemp(dir, "concat-*.txt")
	if err != nil {
		return "", errors.New(err).
			Component(componentFFmpeg).
			Category(errors.CategoryFileIO).
			Context("operation", "create_concat_list").
			Build()
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", errors.New(err).
			Component(componentFFmpeg).
			Category(errors.CategoryFileIO).
			Context("operation", "write_concat_list").
			Build()
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", errors.New(err).
			Component(componentFFmpeg).
			Category(errors.CategoryFileIO).
			Context("operation", "close_concat_list").
			Build()
	}
	return f.Name(), nil
}

// partialPath keeps the extension so ffmpeg can infer the container.
func partialPath(output string) string {
	ext := filepath.Ext(output)
	return strings.TrimSuffix(output, ext) + ".partial" + ext
}

func commit(tmp, output string) error {
	if err := os.Rename(tmp, output); err != nil {
		return errors.New(err).
			Component(componentFFmpeg).
			Category(errors.CategoryFileIO).
			Context("operation", "rename_output").
			Context("from", tmp).
			Context("to", output).
			Build()
	}
	return nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
