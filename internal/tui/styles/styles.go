// Package styles holds the lipgloss colors and styles shared by the CLI
// output and the live job board.
package styles

import "github.com/charmbracelet/lipgloss"

var (
	// Colors meet WCAG AA contrast on black and dark surfaces
	PrimaryColor   = lipgloss.Color("#A78BFA") // violet-400
	SecondaryColor = lipgloss.Color("#10B981") // green
	WarningColor   = lipgloss.Color("#F59E0B") // amber
	ErrorColor     = lipgloss.Color("#F87171") // red-400
	MutedColor     = lipgloss.Color("#9CA3AF")
	SurfaceColor   = lipgloss.Color("#1F2937")
	TextColor      = lipgloss.Color("#F9FAFB")
	BorderColor    = lipgloss.Color("#6B7280")

	// Job status colors
	StatusSleeping = lipgloss.Color("#60A5FA") // blue
	StatusWaiting  = lipgloss.Color("#9CA3AF") // gray
	StatusRunning  = lipgloss.Color("#10B981") // green
	StatusOK       = lipgloss.Color("#A78BFA") // purple
	StatusWarning  = lipgloss.Color("#FBBF24") // yellow
	StatusError    = lipgloss.Color("#F87171") // red
	StatusCanceled = lipgloss.Color("#F472B6") // pink

	Primary   = lipgloss.NewStyle().Foreground(PrimaryColor)
	Secondary = lipgloss.NewStyle().Foreground(SecondaryColor)
	Warning   = lipgloss.NewStyle().Foreground(WarningColor)
	Error     = lipgloss.NewStyle().Foreground(ErrorColor)
	Muted     = lipgloss.NewStyle().Foreground(MutedColor)
	Text      = lipgloss.NewStyle().Foreground(TextColor)

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor).
		MarginBottom(1)

	Subtitle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Italic(true)

	Header = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(BorderColor).
		MarginBottom(1)

	// Table cells
	TableHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor).
			Padding(0, 1)

	TableCell = lipgloss.NewStyle().
			Foreground(TextColor).
			Padding(0, 1)

	ContentBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderColor).
			Padding(0, 1)

	StatusBar = lipgloss.NewStyle().
			Foreground(TextColor).
			Background(SurfaceColor).
			Padding(0, 1)

	HelpBar = lipgloss.NewStyle().
		Foreground(MutedColor).
		MarginTop(1)

	HelpKey = lipgloss.NewStyle().
		Bold(true).
		Foreground(SecondaryColor)

	ErrorMsg = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	SuccessMsg = lipgloss.NewStyle().
			Foreground(SecondaryColor).
			Bold(true)

	WarningMsg = lipgloss.NewStyle().
			Foreground(WarningColor).
			Bold(true)

	// Deadlock graph cells
	GraphHeld    = lipgloss.NewStyle().Foreground(SecondaryColor).Bold(true)
	GraphWaiting = lipgloss.NewStyle().Foreground(ErrorColor).Bold(true)
	GraphEmpty   = lipgloss.NewStyle().Foreground(MutedColor)
)

// StatusColor returns the color for a job status as reported by the
// tracker: a live state or the severity of a finished run.
func StatusColor(status string) lipgloss.Color {
	switch status {
	case "sleeping":
		return StatusSleeping
	case "waiting":
		return StatusWaiting
	case "running":
		return StatusRunning
	case "ok", "info":
		return StatusOK
	case "warning":
		return StatusWarning
	case "error":
		return StatusError
	case "cancel":
		return StatusCanceled
	default:
		return MutedColor
	}
}

// StatusIcon returns an icon for a job status.
func StatusIcon(status string) string {
	switch status {
	case "sleeping":
		return "☾"
	case "waiting":
		return "○"
	case "running":
		return "●"
	case "ok", "info":
		return "✓"
	case "warning":
		return "!"
	case "error":
		return "✗"
	case "cancel":
		return "⊘"
	default:
		return "·"
	}
}

// Status renders an icon and label in the status color.
func Status(status string) string {
	return lipgloss.NewStyle().
		Foreground(StatusColor(status)).
		Render(StatusIcon(status) + " " + status)
}
