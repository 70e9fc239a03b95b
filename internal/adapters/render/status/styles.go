package status

import "github.com/charmbracelet/lipgloss"

type styles struct {
	title    lipgloss.Style
	header   lipgloss.Style
	label    lipgloss.Style
	detail   lipgloss.Style
	warning  lipgloss.Style
	section  lipgloss.Style
	empty    lipgloss.Style
	active   lipgloss.Style
	standby  lipgloss.Style
	dead     lipgloss.Style
	meta     lipgloss.Style
	bracket  lipgloss.Style
	barFill  lipgloss.Style
	barEmpty lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:    lipgloss.NewStyle().Bold(true),
		header:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		label:    lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		detail:   lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		warning:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		section:  lipgloss.NewStyle().MarginTop(1),
		empty:    lipgloss.NewStyle().Faint(true),
		active:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		standby:  lipgloss.NewStyle().Foreground(lipgloss.Color("159")),
		dead:     lipgloss.NewStyle().Foreground(lipgloss.Color("238")),
		meta:     lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		bracket:  lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		barFill:  lipgloss.NewStyle().Foreground(lipgloss.Color("159")),
		barEmpty: lipgloss.NewStyle().Foreground(lipgloss.Color("238")),
	}
}
