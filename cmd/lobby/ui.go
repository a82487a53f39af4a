package main

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/partycrab/lobby/internal/catalog"
	"github.com/partycrab/lobby/internal/conn"
	"github.com/partycrab/lobby/internal/session"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	hostStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	reconStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Blink(true)
)

type viewMsg struct{ view session.View }

type viewsClosedMsg struct{}

// waitForView blocks on the session's view channel; bubbletea re-arms it
// after every delivery.
func waitForView(views <-chan session.View) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-views
		if !ok {
			return viewsClosedMsg{}
		}
		return viewMsg{view: v}
	}
}

type model struct {
	code   string
	lib    catalog.Library
	client *conn.Client
	views  <-chan session.View

	current   session.View
	nameBuf   string
	wasInGame bool
	farewell  string
}

func newModel(code string, lib catalog.Library, client *conn.Client, views <-chan session.View) model {
	return model{code: code, lib: lib, client: client, views: views}
}

func (m model) Init() tea.Cmd {
	return waitForView(m.views)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case viewMsg:
		m.current = msg.view
		if m.current.Ended {
			m.farewell = "This room does not exist (or has expired)."
			return m, tea.Quit
		}
		// Host readiness fires once per game start, after the grace delay.
		inGame := m.current.Phase == session.PhaseInGame
		if inGame && !m.wasInGame && m.current.Me.IsHost {
			m.client.NotifyHostReady()
		}
		m.wasInGame = inGame
		return m, waitForView(m.views)

	case viewsClosedMsg:
		return m, tea.Quit

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}

	if m.current.Phase == session.PhaseAwaitingName {
		switch msg.Type {
		case tea.KeyEnter:
			if name := strings.TrimSpace(m.nameBuf); name != "" {
				m.client.SubmitName(name)
			}
		case tea.KeyBackspace:
			if len(m.nameBuf) > 0 {
				runes := []rune(m.nameBuf)
				m.nameBuf = string(runes[:len(runes)-1])
			}
		case tea.KeyRunes, tea.KeySpace:
			m.nameBuf += string(msg.Runes)
		}
		return m, nil
	}

	switch m.current.Phase {
	case session.PhaseLobby:
		if msg.String() == "q" {
			return m, tea.Quit
		}
		if !m.current.Me.IsHost {
			return m, nil
		}
		if msg.String() == "s" {
			m.client.StartGame()
			return m, nil
		}
		if n := digit(msg.String()); n >= 1 && n <= len(m.lib.GameList) {
			m.client.SelectGame(m.lib.GameList[n-1].ID)
		}

	case session.PhaseInGame:
		switch msg.String() {
		case "q":
			return m, tea.Quit
		case "e":
			if m.current.Me.IsHost {
				m.client.ExitGame()
			}
		}

	default:
		if msg.String() == "q" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m model) View() string {
	if m.farewell != "" {
		return noticeStyle.Render(m.farewell) + "\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("room "+m.code) + "\n\n")

	switch m.current.Phase {
	case session.PhaseLoading:
		b.WriteString("loading...\n")

	case session.PhaseAwaitingName:
		b.WriteString("Pick a name: " + m.nameBuf + "▌\n")
		if m.current.Notice != "" {
			b.WriteString(noticeStyle.Render(m.current.Notice) + "\n")
		}
		b.WriteString(dimStyle.Render("enter to submit") + "\n")

	case session.PhaseLobby:
		b.WriteString("Players:\n")
		for _, p := range m.current.PlayerList {
			line := "  " + p.Name
			if p.Name == "" {
				line = "  " + dimStyle.Render("(choosing a name)")
			}
			if p.IsHost {
				line += hostStyle.Render(" ★")
			}
			if p.ID == m.current.Me.ID {
				line += dimStyle.Render(" (you)")
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\nGames:\n")
		for i, g := range m.lib.GameList {
			marker := "  "
			if g.ID == m.current.SelectedGameID {
				marker = "> "
			}
			b.WriteString(fmt.Sprintf("%s%d. %s %s\n", marker, i+1, g.Name, dimStyle.Render("("+g.Category+")")))
		}
		if m.current.Me.IsHost {
			b.WriteString("\n" + dimStyle.Render("1-9 select · s start · q quit") + "\n")
		} else {
			b.WriteString("\n" + dimStyle.Render("waiting for the host · q quit") + "\n")
		}

	case session.PhaseInGame:
		name := m.current.SelectedGameID
		if g, ok := m.lib.GameByID(name); ok {
			name = g.Name
		}
		b.WriteString("Now playing: " + titleStyle.Render(name) + "\n")
		if len(m.current.GameState) > 0 {
			b.WriteString(dimStyle.Render(string(m.current.GameState)) + "\n")
		}
		if m.current.Me.IsHost {
			b.WriteString("\n" + dimStyle.Render("e exit game · q quit") + "\n")
		} else {
			b.WriteString("\n" + dimStyle.Render("q quit") + "\n")
		}
	}

	if m.current.Reconnecting {
		b.WriteString("\n" + reconStyle.Render("reconnecting...") + "\n")
	}
	return b.String()
}

func digit(s string) int {
	if len(s) == 1 && s[0] >= '1' && s[0] <= '9' {
		return int(s[0] - '0')
	}
	return 0
}
