// Package batch scans recordings end to end: open, detect, store. Several
// recordings can be scanned in parallel; each scan is independent and a
// failure in one never affects the others.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/linuxmatters/poreflow/internal/config"
	"github.com/linuxmatters/poreflow/internal/detect"
	"github.com/linuxmatters/poreflow/internal/export"
	"github.com/linuxmatters/poreflow/internal/sink"
	"github.com/linuxmatters/poreflow/internal/waveform"
)

// ProgressCallback reports per-file scan progress. It may be called from
// several goroutines at once.
type ProgressCallback func(path string, p detect.Progress)

// Options configures a batch. Store, JSONL and WAVDir are optional outputs.
type Options struct {
	Config   config.Detector
	Channel  int
	Workers  int // 0 uses one worker per CPU
	Store    *sink.Store
	JSONL    *sink.JSONL
	WAVDir   string
	Logger   *slog.Logger
	Progress ProgressCallback

	// Extra receives every event after the configured outputs.
	Extra detect.Sink

	// Done is called as each file finishes, possibly from several goroutines.
	Done func(Result)

	// Open opens a recording. Defaults to waveform.Open.
	Open func(path string) (waveform.Source, error)
}

// Result is the outcome of scanning one file.
type Result struct {
	Path    string
	RunID   string
	Summary *detect.Summary
	Err     error
}

// Run scans every path and returns results in the order of paths.
func Run(ctx context.Context, paths []string, opts Options) []Result {
	results := make([]Result, len(paths))
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, len(paths))

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = ScanFile(ctx, paths[i], opts)
				if opts.Done != nil {
					opts.Done(results[i])
				}
			}
		}()
	}

	for i := range paths {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return results
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.New().String()
}

// ScanFile runs one complete scan of path.
func ScanFile(ctx context.Context, path string, opts Options) Result {
	res := Result{Path: path, RunID: NewRunID()}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("file", filepath.Base(path), "run", res.RunID)

	open := opts.Open
	if open == nil {
		open = func(p string) (waveform.Source, error) { return waveform.Open(p) }
	}
	src, err := open(path)
	if err != nil {
		res.Err = fmt.Errorf("failed to open %s: %w", path, err)
		logger.Error("open failed", "error", err)
		return res
	}
	defer src.Close()

	scanOpts := []detect.Option{detect.WithLogger(logger), detect.WithChannel(opts.Channel)}
	if opts.Progress != nil {
		scanOpts = append(scanOpts, detect.WithProgress(func(p detect.Progress) {
			opts.Progress(path, p)
		}))
	}
	scanner, err := detect.NewScanner(opts.Config, scanOpts...)
	if err != nil {
		res.Err = err
		return res
	}

	// The store goes last so it only holds events every other output accepted.
	var (
		sinks  []detect.Sink
		writer *sink.Writer
	)
	if opts.JSONL != nil {
		sinks = append(sinks, opts.JSONL.Sink(res.RunID, path))
	}
	sinks = append(sinks, opts.Extra)
	if opts.Store != nil {
		writer = opts.Store.Writer(res.RunID)
		sinks = append(sinks, writer)
	}

	var out detect.Sink = sink.Multi(sinks...)
	if opts.WAVDir != "" {
		out, err = export.NewWAVSink(opts.WAVDir, snapshotPrefix(path, res.RunID), out)
		if err != nil {
			if writer != nil {
				writer.Cancel()
			}
			res.Err = err
			return res
		}
	}

	started := time.Now()
	res.Summary, res.Err = scanner.Scan(ctx, src, out)

	if writer != nil {
		// Events already handed over stay valid after cancellation.
		if err := writer.Flush(); err != nil && res.Err == nil {
			res.Err = fmt.Errorf("failed to commit events: %w", err)
		}
		if err := opts.Store.PutRun(runRecord(res, src, opts.Config, started)); err != nil && res.Err == nil {
			res.Err = fmt.Errorf("failed to record run: %w", err)
		}
	}

	switch {
	case res.Err == nil:
		logger.Info("file scanned", "events", res.Summary.Events, "elapsed", res.Summary.Elapsed)
	case errors.Is(res.Err, detect.ErrCancelled):
		logger.Warn("scan cancelled", "events", res.Summary.Events)
	default:
		logger.Error("scan failed", "error", res.Err)
	}
	return res
}

func snapshotPrefix(path, runID string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return base + "-" + runID[:8]
}

func runRecord(res Result, src waveform.Source, cfg config.Detector, started time.Time) sink.Run {
	run := sink.Run{
		ID:         res.RunID,
		Source:     res.Path,
		StartedAt:  started.UTC(),
		SampleRate: src.SampleRate(),
		Config:     cfg,
	}
	if s := res.Summary; s != nil {
		run.Samples = s.Samples
		run.Events = s.Events
		run.Levels = s.Levels
		run.RejectedShort = s.RejectedShort
		run.RejectedLong = s.RejectedLong
		run.Elapsed = s.Elapsed
	}
	if res.Err != nil {
		run.Error = res.Err.Error()
	}
	return run
}

// Totals sums every result that produced a summary, including scans that
// were cancelled or failed part way.
func Totals(results []Result) (files, failed int, sum detect.Summary) {
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
		if r.Summary == nil {
			continue
		}
		files++
		sum.Samples += r.Summary.Samples
		sum.Events += r.Summary.Events
		sum.Levels += r.Summary.Levels
		sum.RejectedShort += r.Summary.RejectedShort
		sum.RejectedLong += r.Summary.RejectedLong
		sum.Elapsed += r.Summary.Elapsed
	}
	return files, failed, sum
}
