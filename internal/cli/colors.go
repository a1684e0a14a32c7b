package cli

import "github.com/charmbracelet/lipgloss"

// Ion colour palette
// Shared theme colours for consistent branding across CLI and TUI
var (
	// Core colours (deep to bright)
	IonIndigo = lipgloss.Color("#3F3D99") // Deep indigo
	IonBlue   = lipgloss.Color("#1E90FF") // Dodger blue
	IonTeal   = lipgloss.Color("#20B2AA") // Light sea green
	IonCyan   = lipgloss.Color("#7FFFD4") // Aquamarine

	// Accent colours
	SlateGray = lipgloss.Color("#708090") // Subtle text
)
