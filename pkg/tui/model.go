// Package tui is the server picker: a bubbletea list over the registry that
// returns the chosen server and what to do with it.
package tui

import (
	"fmt"
	"runtime/debug"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ai-help-me/sftpdeck/pkg/registry"
)

// ViewMode represents the current TUI view mode.
type ViewMode int

const (
	ModeServerList ViewMode = iota
	ModeSearching
	ModeSelectAction
)

// Actions offered for a selected server.
const (
	ActionBrowse = "browse" // interactive browse session
	ActionList   = "list"   // print the first page of the remote login directory
)

var actions = []struct {
	name  string
	label string
}{
	{ActionBrowse, "Browse files"},
	{ActionList, "List home directory"},
}

// Model is the main Bubbletea model.
type Model struct {
	servers      []registry.Server
	filtered     []registry.Server
	cursor       int
	actionCursor int
	Selected     *registry.Server
	query        string
	Quitted      bool
	mode         ViewMode
	Action       string
	styles       Styles
	keys         KeyBindings
	width        int
	height       int
}

// NewModel creates a picker over servers.
func NewModel(servers []registry.Server) Model {
	return Model{
		servers:  servers,
		filtered: servers,
		mode:     ModeServerList,
		styles:   DefaultStyles(),
		keys:     DefaultKeyBindings(),
		width:    80, // updated by WindowSizeMsg
		height:   24,
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.WindowSize()
}

// Update handles messages (Elm architecture).
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.styles = m.styles.WithWidth(m.width)
		return m, nil

	default:
		return m, nil
	}
}

// handleKeyMsg processes keyboard input.
func (m Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" || (msg.String() == "q" && m.mode != ModeSearching) {
		m.Quitted = true
		return m, tea.Quit
	}

	switch m.mode {
	case ModeServerList:
		return m.updateServerList(msg)
	case ModeSearching:
		return m.updateSearching(msg)
	case ModeSelectAction:
		return m.updateSelectAction(msg)
	}
	return m, nil
}

// updateServerList handles key messages in list mode.
func (m Model) updateServerList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(m.filtered)-1 {
			m.cursor++
		}

	case "enter":
		if len(m.filtered) > 0 {
			selected := m.filtered[m.cursor]
			m.Selected = &selected
			m.mode = ModeSelectAction
		}

	case "/":
		m.mode = ModeSearching
		m.query = ""
	}

	return m, nil
}

// updateSearching handles key messages in search mode.
func (m Model) updateSearching(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = ModeServerList
		m.query = ""
		m.filtered = m.servers
		m.cursor = 0

	case "enter":
		if len(m.filtered) > 0 {
			selected := m.filtered[0]
			m.Selected = &selected
			m.mode = ModeSelectAction
		}

	case "backspace":
		if len(m.query) > 0 {
			runes := []rune(m.query)
			m.query = string(runes[:len(runes)-1])
			m.filterServers()
		}

	default:
		if msg.Type == tea.KeyRunes {
			m.query += string(msg.Runes)
			m.filterServers()
		}
	}

	return m, nil
}

// updateSelectAction handles key messages in action selection mode.
func (m Model) updateSelectAction(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.actionCursor > 0 {
			m.actionCursor--
		}

	case "down", "j":
		if m.actionCursor < len(actions)-1 {
			m.actionCursor++
		}

	case "enter":
		m.Action = actions[m.actionCursor].name
		return m, tea.Quit

	case "esc":
		m.mode = ModeServerList
		m.Selected = nil
		m.actionCursor = 0
	}

	return m, nil
}

// filterServers filters the list on name, address and username.
func (m *Model) filterServers() {
	m.cursor = 0
	if m.query == "" {
		m.filtered = m.servers
		return
	}

	query := strings.ToLower(m.query)
	m.filtered = nil
	for _, s := range m.servers {
		if strings.Contains(strings.ToLower(s.Name), query) ||
			strings.Contains(strings.ToLower(s.Address), query) ||
			strings.Contains(strings.ToLower(s.Username), query) {
			m.filtered = append(m.filtered, s)
		}
	}
}

// View renders the UI.
func (m Model) View() string {
	if m.Quitted {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.renderBanner())
	b.WriteString("\n")

	switch m.mode {
	case ModeServerList, ModeSearching:
		b.WriteString(m.renderServerList())
	case ModeSelectAction:
		b.WriteString(m.renderActionSelect())
	}

	b.WriteString("\n")
	b.WriteString(m.renderHelp())
	return b.String()
}

func address(s registry.Server) string {
	return fmt.Sprintf("%s@%s:%d", s.Username, s.Address, s.Port)
}

// renderServerList renders the server list.
func (m Model) renderServerList() string {
	var b strings.Builder

	if m.mode == ModeSearching {
		b.WriteString(m.styles.SearchPrompt.Render("Search: " + m.query + "_"))
		b.WriteString("\n")
	}

	if len(m.filtered) == 0 {
		b.WriteString(m.styles.ServerItemDim.Render("No servers found"))
		return b.String()
	}

	for i, s := range m.filtered {
		// Selected rows stay plain so the cursor style is not nested.
		if i == m.cursor {
			b.WriteString(m.styles.ServerItemCursor.Render("> " + s.Name + " - " + address(s)))
		} else {
			line := "  " + m.styles.ServerName.Render(s.Name) + " - " + m.styles.ServerAddr.Render(address(s))
			b.WriteString(m.styles.ServerItem.Render(line))
		}
		b.WriteString("\n")
	}

	return b.String()
}

// renderActionSelect renders the action selection prompt.
func (m Model) renderActionSelect() string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Selected: " + m.Selected.Name))
	b.WriteString("\n")
	b.WriteString(m.styles.ActionPrompt.Render("Action:"))
	b.WriteString("\n")

	for i, a := range actions {
		if i == m.actionCursor {
			b.WriteString(m.styles.ServerItemCursor.Render("> " + a.label))
		} else {
			b.WriteString(m.styles.ServerItem.Render("  " + a.label))
		}
		b.WriteString("\n")
	}

	b.WriteString(m.styles.ServerItemDim.Render("Press ESC to go back"))
	return b.String()
}

// renderBanner renders the title banner.
func (m Model) renderBanner() string {
	var b strings.Builder

	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}

	b.WriteString(m.styles.BannerLogo.Render("sftpdeck"))
	b.WriteString("\n")
	b.WriteString(m.styles.BannerDesc.Render("SFTP file browser"))
	b.WriteString("\n")
	b.WriteString(m.styles.BannerVersion.Render("Version: " + version))
	b.WriteString("\n")

	return b.String()
}

// renderHelp renders the help text.
func (m Model) renderHelp() string {
	var help []string

	switch m.mode {
	case ModeServerList:
		help = []string{
			m.keys.Up + " up", m.keys.Down + " down", m.keys.Select + " select",
			m.keys.Search + " search", m.keys.Quit + " quit",
		}
	case ModeSearching:
		help = []string{"type to search", "enter select", m.keys.Cancel + " cancel"}
	case ModeSelectAction:
		help = []string{
			m.keys.Up + " up", m.keys.Down + " down", m.keys.Select + " select", m.keys.Cancel + " back",
		}
	}

	return m.styles.Help.Render(strings.Join(help, " • "))
}

// Pick runs the picker full-screen and returns the chosen server and action.
// A nil server means the user quit.
func Pick(servers []registry.Server) (*registry.Server, string, error) {
	final, err := tea.NewProgram(NewModel(servers), tea.WithAltScreen()).Run()
	if err != nil {
		return nil, "", fmt.Errorf("run picker: %w", err)
	}
	m, ok := final.(Model)
	if !ok || m.Quitted || m.Action == "" {
		return nil, "", nil
	}
	return m.Selected, m.Action, nil
}
