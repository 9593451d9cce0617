package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Styles contains all the styling for the TUI.
type Styles struct {
	Title        lipgloss.Style
	Help         lipgloss.Style
	Error        lipgloss.Style
	SearchPrompt lipgloss.Style

	// Banner
	BannerLogo    lipgloss.Style
	BannerDesc    lipgloss.Style
	BannerVersion lipgloss.Style

	// Server items
	ServerItem       lipgloss.Style
	ServerItemCursor lipgloss.Style
	ServerItemDim    lipgloss.Style
	ServerName       lipgloss.Style
	ServerAddr       lipgloss.Style

	// Action selector
	ActionPrompt lipgloss.Style
}

// DefaultStyles returns the default styling.
func DefaultStyles() Styles {
	var styles Styles

	// Color palette
	primaryColor := lipgloss.Color("86")   // Cyan
	secondaryColor := lipgloss.Color("98") // Purple
	errorColor := lipgloss.Color("196")    // Red
	dimColor := lipgloss.Color("241")      // Gray

	styles.Title = lipgloss.NewStyle().
		Foreground(primaryColor).
		Bold(true)

	styles.Help = lipgloss.NewStyle().
		Foreground(dimColor).
		MarginTop(1)

	styles.Error = lipgloss.NewStyle().
		Foreground(errorColor).
		Bold(true)

	styles.SearchPrompt = lipgloss.NewStyle().
		Foreground(primaryColor).
		Bold(true)

	styles.BannerLogo = lipgloss.NewStyle().
		Foreground(primaryColor).
		Bold(true)

	styles.BannerDesc = lipgloss.NewStyle().
		Foreground(secondaryColor)

	styles.BannerVersion = lipgloss.NewStyle().
		Foreground(dimColor)

	styles.ServerItem = lipgloss.NewStyle().
		PaddingLeft(1)

	styles.ServerItemCursor = lipgloss.NewStyle().
		PaddingLeft(1).
		Foreground(lipgloss.Color("black")).
		Background(primaryColor).
		Bold(true)

	styles.ServerItemDim = lipgloss.NewStyle().
		PaddingLeft(1).
		Foreground(dimColor)

	styles.ServerName = lipgloss.NewStyle().
		Foreground(secondaryColor).
		Bold(true)

	styles.ServerAddr = lipgloss.NewStyle().
		Foreground(dimColor)

	styles.ActionPrompt = lipgloss.NewStyle().
		Foreground(primaryColor).
		Bold(true).
		MarginTop(1)

	return styles
}

// WithWidth updates styles to use the specified width.
func (s Styles) WithWidth(width int) Styles {
	s.ServerItem = s.ServerItem.Width(width)
	s.ServerItemCursor = s.ServerItemCursor.Width(width)
	s.ServerItemDim = s.ServerItemDim.Width(width)
	return s
}
