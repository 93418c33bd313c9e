package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/yllada/passage/vpn"
)

var (
	colorAccent     = lipgloss.Color("#3584e4")
	colorConnected  = lipgloss.Color("#2ec27e")
	colorConnecting = lipgloss.Color("#e5a50a")
	colorError      = lipgloss.Color("#e01b24")
	colorDim        = lipgloss.AdaptiveColor{Light: "#77767b", Dark: "#9a9996"}

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent).
			MarginBottom(1)

	rowStyle      = lipgloss.NewStyle().PaddingLeft(2)
	selectedStyle = lipgloss.NewStyle().
			PaddingLeft(1).
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(colorAccent).
			Bold(true)

	badgeStyle = lipgloss.NewStyle().Foreground(colorDim)
	dimStyle   = lipgloss.NewStyle().Foreground(colorDim)
	errorStyle = lipgloss.NewStyle().Foreground(colorError)

	formStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(1, 2).
			MarginTop(1)
)

// statusStyle colors a status label.
func statusStyle(s vpn.Status) lipgloss.Style {
	switch s {
	case vpn.StatusConnected:
		return lipgloss.NewStyle().Foreground(colorConnected).Bold(true)
	case vpn.StatusConnecting, vpn.StatusDisconnecting:
		return lipgloss.NewStyle().Foreground(colorConnecting)
	default:
		return dimStyle
	}
}
