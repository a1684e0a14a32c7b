package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Color palette
var (
	primaryColor   = lipgloss.Color("#1E90FF") // Poreflow blue
	accentColor    = lipgloss.Color("#20B2AA") // Teal
	successColor   = lipgloss.Color("#00AA00") // Green
	errorColor     = lipgloss.Color("#D7263D") // Red
	mutedColor     = lipgloss.Color("#888888") // Gray
	highlightColor = lipgloss.Color("#FFD166") // Amber
	textColor      = lipgloss.Color("#FFFFFF") // White
)

// Styles
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accentColor).
			MarginTop(1)

	SuccessStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(successColor)

	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(errorColor)

	HighlightStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(highlightColor)

	KeyStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	ValueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(textColor)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(1, 2).
			MarginTop(1).
			MarginBottom(1)
)

// Name is the display name used in banners and help.
const Name = "Poreflow 〰"

// Tagline describes the tool in one line.
const Tagline = "Find translocation events in nanopore current recordings."

var printer = message.NewPrinter(language.English)

// PrintBanner prints the application banner
func PrintBanner() {
	fmt.Println(TitleStyle.Render(Name))
	fmt.Println(SubtitleStyle.Render(Tagline))
	fmt.Println()
}

// PrintVersion prints version information
func PrintVersion(version string) {
	fmt.Println(TitleStyle.Render(Name))
	fmt.Printf("%s %s\n", KeyStyle.Render("Version:"), ValueStyle.Render(version))
	fmt.Println()
}

// PrintError prints an error message
func PrintError(message string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", ErrorStyle.Render("Error:"), message)
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	fmt.Fprintf(os.Stderr, "%s %s\n", HighlightStyle.Render("Warning:"), message)
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	fmt.Printf("%s %s\n", SuccessStyle.Render("✓"), message)
}

// PrintInfo prints a key-value line
func PrintInfo(key, value string) {
	fmt.Printf("%s %s\n", KeyStyle.Render(fmt.Sprintf("%-14s", key+":")), ValueStyle.Render(value))
}

// PrintSection prints a section header
func PrintSection(title string) {
	fmt.Println(HeaderStyle.Render(title))
}

// PrintBox prints content in a styled box
func PrintBox(content string) {
	fmt.Println(BoxStyle.Render(content))
}

// FormatDuration formats a duration nicely
func FormatDuration(d time.Duration) string {
	switch {
	case d == 0:
		return "0s"
	case d < time.Millisecond:
		return fmt.Sprintf("%.0fµs", float64(d)/float64(time.Microsecond))
	case d < time.Second:
		return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// FormatCount formats an integer with thousands separators
func FormatCount(n int) string {
	return printer.Sprintf("%d", n)
}

// FormatBytes formats a byte count
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatRate formats a sample rate in Hz with an SI prefix
func FormatRate(hz float64) string {
	return humanize.SIWithDigits(hz, 2, "Hz")
}

// FormatCurrent formats a current in amperes with an SI prefix
func FormatCurrent(amps float64) string {
	return humanize.SIWithDigits(amps, 3, "A")
}

// FormatSpeed formats throughput relative to the recording's own duration
func FormatSpeed(speed float64) string {
	return fmt.Sprintf("%.1fx realtime", speed)
}

// ScanTotals is what PrintScanSummary reports.
type ScanTotals struct {
	Files         int
	Failed        int
	Samples       int
	Events        int
	Levels        int
	RejectedShort int
	RejectedLong  int
	Elapsed       time.Duration
}

// PrintScanSummary prints a summary in a box
func PrintScanSummary(t ScanTotals) {
	var b strings.Builder

	if t.Failed == 0 {
		b.WriteString(SuccessStyle.Render("✓ Scan Complete!"))
	} else {
		b.WriteString(ErrorStyle.Render(fmt.Sprintf("✗ Scan finished with %d failed file(s)", t.Failed)))
	}
	b.WriteString("\n\n")

	row := func(key, value string) {
		b.WriteString(KeyStyle.Render(fmt.Sprintf("%-11s", key+":")))
		b.WriteString(ValueStyle.Render(value))
		b.WriteString("\n")
	}
	row("Files", FormatCount(t.Files))
	row("Samples", FormatCount(t.Samples))
	row("Events", FormatCount(t.Events))
	row("Levels", FormatCount(t.Levels))
	row("Rejected", fmt.Sprintf("%s short, %s long", FormatCount(t.RejectedShort), FormatCount(t.RejectedLong)))
	b.WriteString(KeyStyle.Render(fmt.Sprintf("%-11s", "Time:")))
	b.WriteString(ValueStyle.Render(FormatDuration(t.Elapsed)))

	PrintBox(b.String())
}
