package ui

import (
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Spectrum renders band powers as a two-row block chart, log-scaled so
// decades of noise density stay visible.
func Spectrum(bands []float64, width int) string {
	if len(bands) == 0 || width <= 0 {
		return ""
	}

	blocks := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

	// Gradient from quiet to loud
	colors := []lipgloss.Color{
		lipgloss.Color("#2E2A6B"),
		lipgloss.Color("#3F3D99"),
		lipgloss.Color("#2F5FBF"),
		lipgloss.Color("#1E90FF"),
		lipgloss.Color("#1FA2C8"),
		lipgloss.Color("#20B2AA"),
		lipgloss.Color("#4FD8BF"),
		lipgloss.Color("#7FFFD4"),
	}

	stride := max(len(bands)/width, 1)

	display := make([]float64, 0, width)
	for i := 0; i < len(bands) && len(display) < width; i += stride {
		v := 0.0
		if bands[i] > 0 {
			v = math.Log10(bands[i])
		}
		display = append(display, v)
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range display {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo
	for i, v := range display {
		if span == 0 {
			display[i] = 1
		} else {
			display[i] = (v - lo) / span
		}
	}

	pick := func(normalised float64, n int) int {
		return max(min(int(normalised*float64(n-1)), n-1), 0)
	}

	var result strings.Builder

	// Top row: the portion above half height
	for _, normalised := range display {
		if normalised > 0.5 {
			block := blocks[pick((normalised-0.5)*2, len(blocks))]
			result.WriteString(lipgloss.NewStyle().
				Foreground(colors[pick(normalised, len(colors))]).
				Render(string(block)))
		} else {
			result.WriteString(" ")
		}
	}
	result.WriteString("\n")

	// Bottom row
	for _, normalised := range display {
		idx := len(blocks) - 1
		if normalised < 0.5 {
			idx = pick(normalised*2, len(blocks))
		}
		result.WriteString(lipgloss.NewStyle().
			Foreground(colors[pick(normalised, len(colors))]).
			Render(string(blocks[idx])))
	}

	return result.String()
}
