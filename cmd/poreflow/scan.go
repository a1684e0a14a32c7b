package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/linuxmatters/poreflow/internal/batch"
	"github.com/linuxmatters/poreflow/internal/cli"
	"github.com/linuxmatters/poreflow/internal/config"
	"github.com/linuxmatters/poreflow/internal/detect"
	"github.com/linuxmatters/poreflow/internal/sink"
	"github.com/linuxmatters/poreflow/internal/ui"
)

// ScanCmd detects events. Detector flags override values from --config.
type ScanCmd struct {
	Files []string `arg:"" name:"file" help:"Recordings to scan (.log Flat or .hkd Blocked)." type:"existingfile"`

	Config        string   `help:"JSON detector configuration." placeholder:"path" type:"existingfile"`
	MinLength     *float64 `help:"Minimum event length in seconds." placeholder:"s"`
	MaxLength     *float64 `help:"Maximum event length in seconds." placeholder:"s"`
	Direction     string   `help:"Excursions to detect: negative, positive or both; config keeps the configured directions." enum:"negative,positive,both,config" default:"config"`
	Baseline      string   `help:"Baseline strategy: adaptive or fixed." placeholder:"strategy"`
	BaselineValue *float64 `help:"Constant baseline for the fixed strategy." placeholder:"A"`
	Filter        *float64 `help:"Smoothing factor for the adaptive baseline, in (0, 1)." placeholder:"a"`
	Threshold     string   `help:"Threshold strategy: noise, absolute or percent." placeholder:"strategy"`
	Start         *float64 `help:"Start threshold (standard deviations, amperes or percent)." placeholder:"x"`
	End           *float64 `help:"End threshold (standard deviations, amperes or percent)." placeholder:"x"`
	Delta         *float64 `help:"Fixed CUSUM step size; 0 derives it from each event." placeholder:"A"`
	RawPoints     *int     `help:"Raw samples kept either side of each event." placeholder:"n"`
	Channel       int      `help:"Channel to scan." default:"0"`

	Store   string `help:"Badger directory to store runs and events in." placeholder:"dir" type:"path"`
	JSONL   string `name:"jsonl" help:"Write events as JSON lines to this file." placeholder:"path" type:"path"`
	WAVDir  string `name:"wav-dir" help:"Write each event's raw snapshot as a WAV file here." placeholder:"dir" type:"path"`
	Workers int    `help:"Files scanned in parallel; 0 uses every CPU." default:"0"`
	NoTUI   bool   `name:"no-tui" help:"Disable the interactive progress display."`
}

// detector resolves the configuration: defaults, then --config, then flags.
func (c *ScanCmd) detector() (config.Detector, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return cfg, err
	}

	setFloat := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	setFloat(&cfg.MinEventLength, c.MinLength)
	setFloat(&cfg.MaxEventLength, c.MaxLength)
	setFloat(&cfg.Baseline.Value, c.BaselineValue)
	setFloat(&cfg.Baseline.FilterParameter, c.Filter)
	setFloat(&cfg.Threshold.Start, c.Start)
	setFloat(&cfg.Threshold.End, c.End)
	setFloat(&cfg.CUSUMDelta, c.Delta)
	if c.RawPoints != nil {
		cfg.RawPointsPerSide = *c.RawPoints
	}

	switch c.Direction {
	case "negative":
		cfg.DetectNegative, cfg.DetectPositive = true, false
	case "positive":
		cfg.DetectNegative, cfg.DetectPositive = false, true
	case "both":
		cfg.DetectNegative, cfg.DetectPositive = true, true
	}

	if c.Baseline != "" {
		if cfg.Baseline.Strategy, err = config.ParseBaselineStrategy(c.Baseline); err != nil {
			return cfg, err
		}
	}
	if c.Threshold != "" {
		if cfg.Threshold.Strategy, err = config.ParseThresholdStrategy(c.Threshold); err != nil {
			return cfg, err
		}
	}
	return cfg, cfg.Validate()
}

func (c *ScanCmd) Run(g *Globals) error {
	cfg, err := c.detector()
	if err != nil {
		return err
	}

	useTUI := !c.NoTUI && isTerminal(os.Stdout)
	logger, cleanup, err := newLogger(g, useTUI)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer cleanup()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	opts := batch.Options{
		Config:  cfg,
		Channel: c.Channel,
		Workers: c.Workers,
		WAVDir:  c.WAVDir,
		Logger:  logger,
	}

	if c.Store != "" {
		store, err := sink.OpenStore(c.Store, logger)
		if err != nil {
			return err
		}
		defer closeQuietly("event store", store)
		opts.Store = store
	}
	if c.JSONL != "" {
		j, err := sink.CreateJSONL(c.JSONL)
		if err != nil {
			return err
		}
		defer closeQuietly("JSONL output", j)
		opts.JSONL = j
	}

	logger.Info("scan requested",
		"files", len(c.Files),
		"baseline", cfg.Baseline.Strategy,
		"threshold", cfg.Threshold.Strategy)

	var results []batch.Result
	if useTUI {
		results, err = runWithTUI(ctx, cancel, c.Files, opts)
		if err != nil {
			return err
		}
	} else {
		opts.Done = func(r batch.Result) {
			switch {
			case r.Err != nil:
				cli.PrintError(fmt.Sprintf("%s: %v", r.Path, r.Err))
			default:
				cli.PrintSuccess(fmt.Sprintf("%s: %s events", r.Path, cli.FormatCount(r.Summary.Events)))
			}
		}
		results = batch.Run(ctx, c.Files, opts)
	}

	printRuns(results, opts.Store != nil)

	files, failed, sum := batch.Totals(results)
	cli.PrintScanSummary(cli.ScanTotals{
		Files:         files,
		Failed:        failed,
		Samples:       sum.Samples,
		Events:        sum.Events,
		Levels:        sum.Levels,
		RejectedShort: sum.RejectedShort,
		RejectedLong:  sum.RejectedLong,
		Elapsed:       sum.Elapsed,
	})

	if failed > 0 {
		return fmt.Errorf("%d of %d file(s) failed", failed, len(results))
	}
	return nil
}

// runWithTUI runs the batch behind the progress display.
func runWithTUI(ctx context.Context, cancel context.CancelFunc, paths []string, opts batch.Options) ([]batch.Result, error) {
	model := ui.NewModel(paths, cancel)
	p := tea.NewProgram(model)

	opts.Progress = func(path string, pr detect.Progress) {
		p.Send(ui.FileProgress{Path: path, Progress: pr})
	}
	opts.Done = func(r batch.Result) {
		msg := ui.FileDone{Path: r.Path, Err: r.Err}
		if r.Summary != nil {
			msg.Events = r.Summary.Events
		}
		p.Send(msg)
	}

	var results []batch.Result
	done := make(chan struct{})
	go func() {
		defer close(done)
		results = batch.Run(ctx, paths, opts)
		files, failed, sum := batch.Totals(results)
		p.Send(ui.ScanComplete{Totals: cli.ScanTotals{
			Files:  files,
			Failed: failed,
			Events: sum.Events,
		}})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-done
		return nil, fmt.Errorf("running UI: %w", err)
	}

	// Quitting the UI early cancels the scans; wait for them to wind down.
	if model.Interrupted() {
		cancel()
	}
	<-done
	return results, nil
}

func printRuns(results []batch.Result, stored bool) {
	if !stored {
		return
	}
	cli.PrintSection("Runs")
	for _, r := range results {
		if r.Summary == nil {
			continue
		}
		cli.PrintInfo(shortRunID(r.RunID), r.Path)
	}
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
