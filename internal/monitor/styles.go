package monitor

import "github.com/charmbracelet/lipgloss"

// VSCode color palette, lifted from the teacher's styles.go — same
// sober/professional register, trimmed to the subset this dashboard
// actually uses.
const (
	bgSelected = "#264f78"
	bgBorder   = "#3c3c3c"

	fgBright = "#ffffff"
	fgDim    = "#808080"

	colorPlaying = "#4ec9b0"
	colorStopped = "#f48771"
	colorBusy    = "#4fc1ff"
	colorWarning = "#dcdcaa"

	colorSeparator = "#3c3c3c"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(colorBusy))

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(fgBright))

	selectedLineStyle = lipgloss.NewStyle().
				Background(lipgloss.Color(bgSelected))

	playingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorPlaying))

	stoppedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorStopped))

	busyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorBusy))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(fgDim))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(bgBorder)).
			Padding(0, 1)

	sepStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(colorSeparator))
)

func streamStateStyle(playing, buffering bool) lipgloss.Style {
	switch {
	case buffering:
		return busyStyle
	case playing:
		return playingStyle
	default:
		return stoppedStyle
	}
}
