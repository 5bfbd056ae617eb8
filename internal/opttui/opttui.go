// Copyright (c) 2025 Neomantra Corp

// Package opttui is a single-page bubbletea progress view over an
// AsyncOrchestrator's job table, replacing the teacher's multi-page
// internal/tui with the one page this pipeline needs: one row per
// submitted symbol, refreshed by polling Query until every job
// completes.
package opttui

import (
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/algoratio/bento-optionchain/internal/chainpool"
)

// Nimble color palette, matching internal/tui/styles.go.
var (
	colorDarkPurple  = lipgloss.Color("#3F3080")
	colorLightPurple = lipgloss.Color("#655BA7")
	colorRed         = lipgloss.Color("#E24F36")
	colorGrue        = lipgloss.Color("#4495AA")
	colorYellow      = lipgloss.Color("#FBF4A5")

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true).
			BorderForeground(colorLightPurple)

	headerStyle = lipgloss.NewStyle().
			Foreground(colorYellow).
			Background(colorDarkPurple)

	tableStyles = table.Styles{
		Header:   lipgloss.NewStyle().Bold(true).Foreground(colorRed).Padding(0, 1),
		Selected: lipgloss.NewStyle().Bold(true).Foreground(colorGrue),
		Cell:     lipgloss.NewStyle().Padding(0, 1),
	}
)

const (
	columnSymbolWidth = 10
	columnJobWidth    = 8
	columnStateWidth  = 10
	columnDetailWidth = 40

	pollInterval = 250 * time.Millisecond
)

// Querier is the subset of AsyncOrchestrator the progress view polls,
// accepted as an interface so tests can drive it without a real pool.
type Querier interface {
	Query() map[chainpool.JobID]chainpool.Result
}

// rowState is the human-readable status of one job row.
type rowState struct {
	symbol string
	jobID  chainpool.JobID
	state  string
	detail string
}

type pollMsg struct{}

// Model is the bubbletea model for the job-progress page.
type Model struct {
	querier Querier
	jobs    map[chainpool.JobID]string // jobID -> symbol, submission order preserved via order
	order   []chainpool.JobID

	rows  []rowState
	table table.Model
	help  help.Model
	keys  keyMap

	done bool
}

type keyMap struct {
	Quit key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{Quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit"))}
}

func (k keyMap) ShortHelp() []key.Binding { return []key.Binding{k.Quit} }
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Quit}}
}

// NewModel builds a progress-view Model for the given jobID->symbol
// submission map, polling querier until every job is no longer Running.
func NewModel(querier Querier, jobs map[chainpool.JobID]string) Model {
	order := make([]chainpool.JobID, 0, len(jobs))
	for id := range jobs {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	tbl := table.New(table.WithColumns([]table.Column{
		{Title: "Symbol", Width: columnSymbolWidth},
		{Title: "Job", Width: columnJobWidth},
		{Title: "State", Width: columnStateWidth},
		{Title: "Detail", Width: columnDetailWidth},
	}), table.WithStyles(tableStyles), table.WithFocused(false))

	return Model{
		querier: querier,
		jobs:    jobs,
		order:   order,
		table:   tbl,
		help:    help.New(),
		keys:    defaultKeyMap(),
	}
}

// Run starts the bubbletea program for m and blocks until it exits.
func Run(m Model) error {
	p := tea.NewProgram(m)
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg { return pollMsg{} })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}
	case pollMsg:
		m.refresh()
		if m.done {
			return m, tea.Quit
		}
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg { return pollMsg{} })
	}
	return m, nil
}

// refresh re-queries the orchestrator and rebuilds the table rows,
// matching internal/tui's pattern of re-fetching state on each page tick.
func (m *Model) refresh() {
	results := m.querier.Query()
	rows := make([]table.Row, 0, len(m.order))
	m.rows = m.rows[:0]
	m.done = true
	for _, id := range m.order {
		symbol := m.jobs[id]
		state := "running"
		detail := ""
		if result, ok := results[id]; ok {
			switch {
			case result.Running:
				m.done = false
			case result.Failed:
				state = "failed"
				detail = result.Message
			default:
				state = "done"
				detail = result.Message
			}
		} else {
			m.done = false
		}
		m.rows = append(m.rows, rowState{symbol: symbol, jobID: id, state: state, detail: detail})
		rows = append(rows, table.Row{symbol, fmt.Sprintf("%d", id), state, detail})
	}
	m.table.SetRows(rows)
}

func (m Model) View() string {
	header := headerStyle.Render(" bento-optionchain ")
	return header + "\n" + borderStyle.Render(m.table.View()) + "\n" + m.help.View(m.keys)
}
