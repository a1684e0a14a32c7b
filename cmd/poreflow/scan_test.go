package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"

	"github.com/linuxmatters/poreflow/internal/config"
)

func ptr[T any](v T) *T { return &v }

func TestScanDetectorDefaults(t *testing.T) {
	cmd := ScanCmd{Direction: "config"}
	cfg, err := cmd.detector()
	if err != nil {
		t.Fatalf("detector() error = %v", err)
	}
	if cfg != config.Default() {
		t.Errorf("detector() = %+v, want defaults", cfg)
	}
}

func TestScanDetectorOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detector.json")
	data := `{"min_event_length": 0.001, "threshold": {"strategy": "absolute", "start": 2e-10, "end": 1e-10}}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := ScanCmd{
		Config:        path,
		Direction:     "both",
		Baseline:      "Fixed",
		BaselineValue: ptr(1e-9),
		End:           ptr(0.5e-10),
		RawPoints:     ptr(0),
	}
	cfg, err := cmd.detector()
	if err != nil {
		t.Fatalf("detector() error = %v", err)
	}

	if cfg.MinEventLength != 0.001 {
		t.Errorf("MinEventLength = %v, want value from file", cfg.MinEventLength)
	}
	if cfg.Threshold.Start != 2e-10 || cfg.Threshold.End != 0.5e-10 {
		t.Errorf("Threshold = %+v, want start from file and end from flag", cfg.Threshold)
	}
	if cfg.Threshold.Strategy != config.ThresholdAbsolute {
		t.Errorf("Threshold.Strategy = %q", cfg.Threshold.Strategy)
	}
	if cfg.Baseline.Strategy != config.BaselineFixed || cfg.Baseline.Value != 1e-9 {
		t.Errorf("Baseline = %+v", cfg.Baseline)
	}
	if !cfg.DetectNegative || !cfg.DetectPositive {
		t.Error("both directions should be enabled")
	}
	if cfg.RawPointsPerSide != 0 {
		t.Errorf("RawPointsPerSide = %d, want 0", cfg.RawPointsPerSide)
	}
}

func TestScanDetectorRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		cmd  ScanCmd
	}{
		{"unknown threshold", ScanCmd{Direction: "config", Threshold: "loud"}},
		{"unknown baseline", ScanCmd{Direction: "config", Baseline: "median"}},
		{"min above max", ScanCmd{Direction: "config", MinLength: ptr(2.0), MaxLength: ptr(1.0)}},
		{"negative delta", ScanCmd{Direction: "config", Delta: ptr(-1.0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.cmd.detector(); !errors.Is(err, config.ErrInvalid) {
				t.Errorf("detector() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestParseCommandLine(t *testing.T) {
	file := filepath.Join(t.TempDir(), "trace.log")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	var cli struct {
		Globals
		Scan ScanCmd `cmd:""`
	}
	parser, err := kong.New(&cli, kong.Vars{"version": "test"}, kong.Exit(func(int) { t.Fatal("unexpected exit") }))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := parser.Parse([]string{"scan", "--start", "6", "--direction", "positive", "--no-tui", file}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(cli.Scan.Files) != 1 || cli.Scan.Files[0] != file {
		t.Errorf("Files = %v", cli.Scan.Files)
	}
	if cli.Scan.Start == nil || *cli.Scan.Start != 6 {
		t.Errorf("Start = %v, want 6", cli.Scan.Start)
	}
	if cli.Scan.MinLength != nil {
		t.Error("MinLength should stay unset")
	}
	if !cli.Scan.NoTUI || cli.LogLevel != "info" {
		t.Errorf("NoTUI = %v, LogLevel = %q", cli.Scan.NoTUI, cli.LogLevel)
	}

	cfg, err := cli.Scan.detector()
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.DetectPositive || cfg.DetectNegative || cfg.Threshold.Start != 6 {
		t.Errorf("detector() = %+v", cfg)
	}
}
