// Package ui is the interactive dashboard. It never touches the sampler: it
// reads whatever snapshot the engine last published on each render tick and
// forwards key presses as view or scheduler commands.
package ui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/Dicklesworthstone/sysmoni/internal/model"
	"github.com/Dicklesworthstone/sysmoni/internal/proctable"
	"github.com/Dicklesworthstone/sysmoni/internal/state"
)

// Controller is the part of the engine the dashboard drives.
type Controller interface {
	Current() *state.Snapshot
	View() state.View
	TogglePause() bool
	Refresh()
	SetFilterSpec(proctable.FilterSpec) error
	SetSort(proctable.SortKey, proctable.Direction)
	ToggleGrouping() bool
	ToggleTree() bool
}

type Options struct {
	RenderInterval time.Duration
	Unit           model.TempUnit
	Logger         *zap.Logger
}

// row is one displayed process line.
type row struct {
	proctable.Record
	depth int
	last  bool
}

// key returns the identity selection follows across refreshes. Grouped rows
// have no handle, so they are keyed by their lowest pid.
func (r row) key() uint64 {
	if r.Handle != 0 {
		return r.Handle
	}
	return uint64(uint32(r.PID)) | 1<<63
}

// Model renders the latest snapshot of a Controller.
type Model struct {
	ctl    Controller
	opts   Options
	logger *zap.Logger

	keys  keyMap
	skeys searchKeys
	help  help.Model

	search    textinput.Model
	searching bool
	filter    proctable.FilterSpec

	snap     *state.Snapshot
	rows     []row
	cursor   int
	offset   int
	selected uint64

	width  int
	height int
}

func New(ctl Controller, opts Options) *Model {
	if opts.RenderInterval <= 0 {
		opts.RenderInterval = 200 * time.Millisecond
	}
	if opts.Unit == "" {
		opts.Unit = model.Celsius
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ti := textinput.New()
	ti.Prompt = "/"
	ti.Placeholder = "filter processes"
	ti.CharLimit = 256

	m := &Model{
		ctl:    ctl,
		opts:   opts,
		logger: logger,
		keys:   defaultKeys(),
		skeys:  defaultSearchKeys(),
		help:   help.New(),
		search: ti,
		width:  120,
		height: 40,
	}
	m.filter = ctl.View().Filter
	m.setSnapshot(ctl.Current())
	return m
}

// Messages
type tickMsg struct{}

func (m *Model) tickCmd() tea.Cmd {
	return tea.Tick(m.opts.RenderInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m *Model) Init() tea.Cmd { return m.tickCmd() }

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.scrollToCursor()
	case tea.KeyMsg:
		if m.searching {
			return m, m.updateSearch(msg)
		}
		return m, m.updateKeys(msg)
	case tickMsg:
		m.pull()
		return m, m.tickCmd()
	}
	return m, nil
}

func (m *Model) updateKeys(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Pause):
		paused := m.ctl.TogglePause()
		m.logger.Debug("pause toggled", zap.Bool("paused", paused))
	case key.Matches(msg, m.keys.Refresh):
		m.ctl.Refresh()
	case key.Matches(msg, m.keys.Search):
		m.searching = true
		m.filter = m.ctl.View().Filter
		m.search.SetValue(m.filter.Text)
		m.search.CursorEnd()
		return m.search.Focus()
	case key.Matches(msg, m.keys.SortCPU):
		m.sortBy(proctable.SortCPU)
	case key.Matches(msg, m.keys.SortMem):
		m.sortBy(proctable.SortMem)
	case key.Matches(msg, m.keys.SortPID):
		m.sortBy(proctable.SortPID)
	case key.Matches(msg, m.keys.SortNam):
		m.sortBy(proctable.SortName)
	case key.Matches(msg, m.keys.Group):
		m.ctl.ToggleGrouping()
		m.pull()
	case key.Matches(msg, m.keys.Tree):
		m.ctl.ToggleTree()
		m.pull()
	case key.Matches(msg, m.keys.Up):
		m.move(-1)
	case key.Matches(msg, m.keys.Down):
		m.move(1)
	case key.Matches(msg, m.keys.PgUp):
		m.move(-m.pageSize())
	case key.Matches(msg, m.keys.PgDown):
		m.move(m.pageSize())
	case key.Matches(msg, m.keys.Top):
		m.move(-len(m.rows))
	case key.Matches(msg, m.keys.Bottom):
		m.move(len(m.rows))
	}
	return nil
}

func (m *Model) updateSearch(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.skeys.Apply):
		m.searching = false
		m.search.Blur()
		return nil
	case key.Matches(msg, m.skeys.Cancel):
		m.searching = false
		m.search.Blur()
		m.search.SetValue("")
		m.filter.Text = ""
	case key.Matches(msg, m.skeys.Regex):
		m.filter.Mode = toggleMode(m.filter.Mode, proctable.ModeRegex)
	case key.Matches(msg, m.skeys.Fuzzy):
		m.filter.Mode = toggleMode(m.filter.Mode, proctable.ModeFuzzy)
	case key.Matches(msg, m.skeys.Case):
		m.filter.CaseSensitive = !m.filter.CaseSensitive
	case key.Matches(msg, m.skeys.Cmd):
		m.filter.MatchCommand = !m.filter.MatchCommand
	default:
		var cmd tea.Cmd
		m.search, cmd = m.search.Update(msg)
		if m.search.Value() == m.filter.Text {
			return cmd
		}
		m.filter.Text = m.search.Value()
		m.applyFilter()
		return cmd
	}
	m.applyFilter()
	return nil
}

func toggleMode(cur, want proctable.Mode) proctable.Mode {
	if cur == want {
		return proctable.ModeSubstring
	}
	return want
}

// applyFilter sends the edited filter to the engine. A rejected expression
// leaves the previous filter active and shows up as Snapshot.FilterError.
func (m *Model) applyFilter() {
	if err := m.ctl.SetFilterSpec(m.filter); err != nil {
		m.logger.Debug("filter rejected", zap.String("text", m.filter.Text), zap.Error(err))
	}
	m.pull()
}

// sortBy selects key, or flips the direction when key is already active.
// Numeric columns start descending, text columns ascending.
func (m *Model) sortBy(k proctable.SortKey) {
	v := m.ctl.View()
	dir := proctable.Descending
	if k == proctable.SortPID || k == proctable.SortName {
		dir = proctable.Ascending
	}
	if v.SortKey == k {
		dir = v.Direction.Toggle()
	}
	m.ctl.SetSort(k, dir)
	m.pull()
}

func (m *Model) pull() {
	if snap := m.ctl.Current(); snap != m.snap {
		m.setSnapshot(snap)
	}
}

// setSnapshot swaps in snap and keeps the cursor on the previously selected
// process if it is still listed.
func (m *Model) setSnapshot(snap *state.Snapshot) {
	if snap == nil {
		return
	}
	m.snap = snap
	m.rows = displayRows(snap)

	found := false
	if m.selected != 0 {
		for i, r := range m.rows {
			if r.key() == m.selected {
				m.cursor = i
				found = true
				break
			}
		}
	}
	if !found {
		m.cursor = min(m.cursor, len(m.rows)-1)
		m.cursor = max(m.cursor, 0)
		m.selected = 0
		if len(m.rows) > 0 {
			m.selected = m.rows[m.cursor].key()
		}
	}
	m.scrollToCursor()
}

func displayRows(snap *state.Snapshot) []row {
	if snap.View.TreeMode && !snap.View.GroupByName {
		rows := make([]row, len(snap.TreeRows))
		for i, tr := range snap.TreeRows {
			rows[i] = row{Record: tr.Record, depth: tr.Depth, last: tr.Last}
		}
		return rows
	}
	rows := make([]row, len(snap.Rows))
	for i, r := range snap.Rows {
		rows[i] = row{Record: r}
	}
	return rows
}

func (m *Model) move(delta int) {
	if len(m.rows) == 0 {
		return
	}
	m.cursor = max(0, min(len(m.rows)-1, m.cursor+delta))
	m.selected = m.rows[m.cursor].key()
	m.scrollToCursor()
}

// overviewHeight is the number of lines above the process table.
const overviewHeight = 12

func (m *Model) pageSize() int {
	return max(3, m.height-overviewHeight-4)
}

func (m *Model) scrollToCursor() {
	page := m.pageSize()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+page {
		m.offset = m.cursor - page + 1
	}
	m.offset = max(0, min(m.offset, len(m.rows)-page))
	m.offset = max(m.offset, 0)
}

// Selected returns the record under the cursor.
func (m *Model) Selected() (proctable.Record, bool) {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return proctable.Record{}, false
	}
	return m.rows[m.cursor].Record, true
}

// Run starts the Bubble Tea program and blocks until the user quits or ctx
// is cancelled.
func Run(ctx context.Context, ctl Controller, opts Options) error {
	prog := tea.NewProgram(New(ctl, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := prog.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
