package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
)

// Scan settings
const (
	WarmupSamples = 100   // Samples used to seed the baseline estimate
	ChunkSamples  = 65536 // Read size when a source has no natural block size
)

// Detector defaults
const (
	DefaultMinEventLength   = 10e-6 // seconds
	DefaultMaxEventLength   = 10e-3 // seconds
	DefaultFilterParameter  = 0.93  // exponential smoothing factor a
	DefaultStartStdDev      = 5.0
	DefaultEndStdDev        = 1.0
	DefaultRawPointsPerSide = 50
)

// ErrInvalid is returned for configurations that cannot drive a scan.
var ErrInvalid = errors.New("invalid detector configuration")

// BaselineStrategy selects how the local mean is tracked.
type BaselineStrategy string

const (
	BaselineAdaptive BaselineStrategy = "adaptive"
	BaselineFixed    BaselineStrategy = "fixed"
)

// ThresholdStrategy selects how start/end thresholds are derived.
type ThresholdStrategy string

const (
	ThresholdNoise    ThresholdStrategy = "noise"
	ThresholdAbsolute ThresholdStrategy = "absolute"
	ThresholdPercent  ThresholdStrategy = "percent"
)

// Baseline configures the baseline strategy.
type Baseline struct {
	Strategy BaselineStrategy `json:"strategy"`

	// FilterParameter is the smoothing factor for the adaptive strategy
	FilterParameter float64 `json:"filter_parameter"`

	// Value is the constant baseline for the fixed strategy
	Value float64 `json:"value"`
}

// Threshold configures the threshold strategy. Start and End are multiples of
// the noise standard deviation, absolute currents, or percentages of the
// baseline depending on Strategy.
type Threshold struct {
	Strategy ThresholdStrategy `json:"strategy"`
	Start    float64           `json:"start"`
	End      float64           `json:"end"`
}

// Detector holds every parameter of an event scan. Build one with Default or
// Load, then treat it as read-only.
type Detector struct {
	MinEventLength   float64   `json:"min_event_length"` // seconds
	MaxEventLength   float64   `json:"max_event_length"` // seconds
	DetectPositive   bool      `json:"detect_positive"`
	DetectNegative   bool      `json:"detect_negative"`
	Baseline         Baseline  `json:"baseline"`
	Threshold        Threshold `json:"threshold"`
	CUSUMDelta       float64   `json:"cusum_delta"` // 0 derives delta from each event's onset
	RawPointsPerSide int       `json:"raw_points_per_side"`
}

// Default returns a fully populated configuration.
func Default() Detector {
	return Detector{
		MinEventLength: DefaultMinEventLength,
		MaxEventLength: DefaultMaxEventLength,
		DetectPositive: false,
		DetectNegative: true,
		Baseline: Baseline{
			Strategy:        BaselineAdaptive,
			FilterParameter: DefaultFilterParameter,
		},
		Threshold: Threshold{
			Strategy: ThresholdNoise,
			Start:    DefaultStartStdDev,
			End:      DefaultEndStdDev,
		},
		RawPointsPerSide: DefaultRawPointsPerSide,
	}
}

// Load reads a JSON configuration from path, layered over Default.
// An empty path returns the defaults.
func Load(path string) (Detector, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Detector{}, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Detector{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Detector{}, err
	}
	return cfg, nil
}

// Validate reports the first problem that would prevent a scan.
func (d Detector) Validate() error {
	switch {
	case d.MinEventLength < 0:
		return fmt.Errorf("%w: min_event_length must not be negative", ErrInvalid)
	case d.MaxEventLength <= 0:
		return fmt.Errorf("%w: max_event_length must be positive", ErrInvalid)
	case d.MinEventLength > d.MaxEventLength:
		return fmt.Errorf("%w: min_event_length exceeds max_event_length", ErrInvalid)
	case !d.DetectPositive && !d.DetectNegative:
		return fmt.Errorf("%w: at least one direction must be enabled", ErrInvalid)
	case d.RawPointsPerSide < 0:
		return fmt.Errorf("%w: raw_points_per_side must not be negative", ErrInvalid)
	case d.CUSUMDelta < 0:
		return fmt.Errorf("%w: cusum_delta must not be negative", ErrInvalid)
	}

	switch d.Baseline.Strategy {
	case BaselineAdaptive:
		if d.Baseline.FilterParameter <= 0 || d.Baseline.FilterParameter >= 1 {
			return fmt.Errorf("%w: filter_parameter must be in (0, 1)", ErrInvalid)
		}
	case BaselineFixed:
	default:
		return fmt.Errorf("%w: unknown baseline strategy %q", ErrInvalid, d.Baseline.Strategy)
	}

	switch d.Threshold.Strategy {
	case ThresholdNoise, ThresholdAbsolute, ThresholdPercent:
	default:
		return fmt.Errorf("%w: unknown threshold strategy %q", ErrInvalid, d.Threshold.Strategy)
	}
	if d.Threshold.Start <= 0 || d.Threshold.End < 0 {
		return fmt.Errorf("%w: thresholds must be positive", ErrInvalid)
	}
	return nil
}

// Samples converts a duration in seconds to a whole number of samples.
func Samples(seconds, sampleRate float64) int {
	return int(math.Round(seconds * sampleRate))
}

// ParseBaselineStrategy validates a strategy name from the command line.
func ParseBaselineStrategy(s string) (BaselineStrategy, error) {
	switch v := BaselineStrategy(strings.ToLower(s)); v {
	case BaselineAdaptive, BaselineFixed:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown baseline strategy %q", ErrInvalid, s)
}

// ParseThresholdStrategy validates a strategy name from the command line.
func ParseThresholdStrategy(s string) (ThresholdStrategy, error) {
	switch v := ThresholdStrategy(strings.ToLower(s)); v {
	case ThresholdNoise, ThresholdAbsolute, ThresholdPercent:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown threshold strategy %q", ErrInvalid, s)
}
