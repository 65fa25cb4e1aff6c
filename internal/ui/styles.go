package ui

import "github.com/charmbracelet/lipgloss"

// Color palette - warm amber accent over neutral grays.
const (
	ColorAmber    = "214" // Primary accent - amber/orange
	ColorAmberDim = "172" // Dimmed amber for inactive elements
	ColorWhite    = "255" // Headers, important text
	ColorGray     = "245" // Secondary text, labels
	ColorDarkGray = "238" // Box borders, separators
	ColorRed      = "196" // Errors
	ColorYellow   = "220" // Warnings
	ColorGreen    = "114" // Success
)

// Styles holds all UI styles for TUI rendering.
type Styles struct {
	Header   lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Dim      lipgloss.Style
	Stage    lipgloss.Style
	Active   lipgloss.Style
	Progress lipgloss.Style

	Border lipgloss.Style
	Panel  lipgloss.Style
	Label  lipgloss.Style
}

// DefaultStyles returns styled components for TUI mode.
func DefaultStyles() Styles {
	return Styles{
		Header:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorAmber)),
		Success:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGreen)),
		Warning:  lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:    lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Dim:      lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Stage:    lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAmberDim)),
		Active:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorAmber)),
		Progress: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAmber)),

		Border: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorDarkGray)).
			Padding(0, 1),
		Label: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
	}
}

// NoColorStyles returns unstyled components for plain mode.
func NoColorStyles() Styles {
	return Styles{
		Header:   lipgloss.NewStyle(),
		Success:  lipgloss.NewStyle(),
		Warning:  lipgloss.NewStyle(),
		Error:    lipgloss.NewStyle(),
		Dim:      lipgloss.NewStyle(),
		Stage:    lipgloss.NewStyle(),
		Active:   lipgloss.NewStyle(),
		Progress: lipgloss.NewStyle(),
		Border:   lipgloss.NewStyle(),
		Panel:    lipgloss.NewStyle(),
		Label:    lipgloss.NewStyle(),
	}
}

// GetStyles returns the appropriate styles based on color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
