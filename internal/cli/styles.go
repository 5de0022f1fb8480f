package cli

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor = lipgloss.Color("#7D56F4")
	successColor = lipgloss.Color("#04B575")
	errorColor   = lipgloss.Color("#EE6D66")
	warningColor = lipgloss.Color("#FFAA00")
	mutedColor   = lipgloss.Color("#626262")

	titleStyle   = lipgloss.NewStyle().Foreground(primaryColor).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	noticeStyle  = lipgloss.NewStyle().Foreground(warningColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)

	tableHeaderStyle = lipgloss.NewStyle().Foreground(primaryColor).Bold(true).Padding(0, 1)
	tableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
)
