package cmd

import (
	"encoding/json"
	"fmt"
	"sort"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/camerafleet/orchestrator/internal/notify"
)

var watchAddr string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow device states and deployments from a running broker",
	RunE: func(cmd *cobra.Command, args []string) error {
		url := fmt.Sprintf("ws://%s/ws", watchAddr)
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", url, err)
		}
		defer conn.Close()

		events := make(chan notify.Notification, 64)
		go func() {
			defer close(events)
			for {
				var n notify.Notification
				if err := conn.ReadJSON(&n); err != nil {
					return
				}
				events <- n
			}
		}()

		_, err = tea.NewProgram(newWatchModel(events)).Run()
		return err
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchAddr, "addr", "localhost:8000", "host:port of the running broker's webserver")
	rootCmd.AddCommand(watchCmd)
}

var (
	watchTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	watchStateStyle = map[string]lipgloss.Style{
		"Ready":        lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		"Streaming":    lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		"Disconnected": lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		"Error":        lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
	watchDimStyle = lipgloss.NewStyle().Faint(true)
)

type watchModel struct {
	events <-chan notify.Notification
	states map[int]string
	tail   []string
	closed bool
}

type notificationMsg notify.Notification

type streamClosedMsg struct{}

func newWatchModel(events <-chan notify.Notification) watchModel {
	return watchModel{events: events, states: make(map[int]string)}
}

func (m watchModel) next() tea.Msg {
	n, ok := <-m.events
	if !ok {
		return streamClosedMsg{}
	}
	return notificationMsg(n)
}

func (m watchModel) Init() tea.Cmd { return m.next }

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case streamClosedMsg:
		m.closed = true
		return m, nil
	case notificationMsg:
		m.apply(notify.Notification(msg))
		return m, m.next
	}
	return m, nil
}

func (m *watchModel) apply(n notify.Notification) {
	line := n.Kind
	if data, ok := n.Data.(map[string]any); ok {
		if b, err := json.Marshal(data); err == nil {
			line = fmt.Sprintf("%s %s", n.Kind, b)
		}
		if n.Kind == "state_changed" {
			id, idOK := data["device_id"].(float64)
			state, stateOK := data["state"].(string)
			if idOK && stateOK {
				m.states[int(id)] = state
			}
		}
	}
	m.tail = append(m.tail, line)
	if len(m.tail) > 8 {
		m.tail = m.tail[len(m.tail)-8:]
	}
}

func (m watchModel) View() string {
	s := watchTitleStyle.Render("camera fleet") + "\n\n"

	ids := make([]int, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	if len(ids) == 0 {
		s += watchDimStyle.Render("waiting for state changes...") + "\n"
	}
	for _, id := range ids {
		state := m.states[id]
		style, ok := watchStateStyle[state]
		if !ok {
			style = lipgloss.NewStyle()
		}
		s += fmt.Sprintf("  device %-6d %s\n", id, style.Render(state))
	}

	s += "\n" + watchDimStyle.Render("recent:") + "\n"
	for _, line := range m.tail {
		s += watchDimStyle.Render("  "+line) + "\n"
	}
	if m.closed {
		s += "\n" + watchDimStyle.Render("stream closed") + "\n"
	}
	s += "\n" + watchDimStyle.Render("q to quit") + "\n"
	return s
}
