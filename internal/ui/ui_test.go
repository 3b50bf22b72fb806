package ui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dicklesworthstone/sysmoni/internal/model"
	"github.com/Dicklesworthstone/sysmoni/internal/proctable"
	"github.com/Dicklesworthstone/sysmoni/internal/series"
	"github.com/Dicklesworthstone/sysmoni/internal/state"
)

// fakeCtl drives a real coordinator and records scheduler commands.
type fakeCtl struct {
	*state.Coordinator
	paused    bool
	refreshes int
}

func (f *fakeCtl) TogglePause() bool {
	f.paused = !f.paused
	return f.paused
}

func (f *fakeCtl) Refresh() { f.refreshes++ }

func (f *fakeCtl) SetFilterSpec(spec proctable.FilterSpec) error { return f.SetFilter(spec) }

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func procs(ps ...model.Process) model.RawMetrics {
	raw := model.RawMetrics{
		Timestamp: t0,
		CPU:       &model.CPU{Total: 40},
		Memory:    &model.Memory{UsedBytes: 1 << 30, TotalBytes: 4 << 30},
		Processes: ps,
	}
	raw.Mark(model.SourceProcess)
	return raw
}

func newModel(t *testing.T, raw model.RawMetrics) (*Model, *fakeCtl) {
	t.Helper()
	c, err := state.New(state.Options{})
	require.NoError(t, err)
	c.Apply(state.Cycle{Time: t0, Raw: raw})
	ctl := &fakeCtl{Coordinator: c}
	m := New(ctl, Options{Unit: model.Celsius})
	m.Update(tea.WindowSizeMsg{Width: 160, Height: 50})
	return m, ctl
}

func runes(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

func press(m *Model, msgs ...tea.KeyMsg) {
	for _, msg := range msgs {
		m.Update(msg)
	}
}

func TestSortKeysToggleDirection(t *testing.T) {
	m, ctl := newModel(t, procs(
		model.Process{PID: 1, Name: "init", CPU: 1},
		model.Process{PID: 2, Name: "bash", CPU: 5},
	))

	press(m, runes("n"))
	v := ctl.View()
	assert.Equal(t, proctable.SortName, v.SortKey)
	assert.Equal(t, proctable.Ascending, v.Direction)

	press(m, runes("n"))
	assert.Equal(t, proctable.Descending, ctl.View().Direction)

	press(m, runes("c"))
	v = ctl.View()
	assert.Equal(t, proctable.SortCPU, v.SortKey)
	assert.Equal(t, proctable.Descending, v.Direction)
	assert.Equal(t, int32(2), m.rows[0].PID)
}

func TestSelectionFollowsProcess(t *testing.T) {
	m, ctl := newModel(t, procs(
		model.Process{PID: 1, Name: "a", CPU: 9},
		model.Process{PID: 2, Name: "b", CPU: 5},
		model.Process{PID: 3, Name: "c", CPU: 1},
	))
	press(m, runes("j"))
	sel, ok := m.Selected()
	require.True(t, ok)
	require.Equal(t, int32(2), sel.PID)

	// pid 2 becomes the busiest and moves to the top.
	raw := procs(
		model.Process{PID: 1, Name: "a", CPU: 1},
		model.Process{PID: 2, Name: "b", CPU: 50},
		model.Process{PID: 3, Name: "c", CPU: 2},
	)
	raw.Timestamp = t0.Add(time.Second)
	ctl.Apply(state.Cycle{Time: raw.Timestamp, Raw: raw})
	m.Update(tickMsg{})

	sel, ok = m.Selected()
	require.True(t, ok)
	assert.Equal(t, int32(2), sel.PID)
	assert.Equal(t, 0, m.cursor)
}

func TestCursorClampsWhenSelectionVanishes(t *testing.T) {
	c, err := state.New(state.Options{Debounce: 1})
	require.NoError(t, err)
	c.Apply(state.Cycle{Time: t0, Raw: procs(
		model.Process{PID: 1, Name: "a", CPU: 9},
		model.Process{PID: 2, Name: "b", CPU: 5},
	)})
	ctl := &fakeCtl{Coordinator: c}
	m := New(ctl, Options{})
	press(m, runes("G"))
	require.Equal(t, 1, m.cursor)

	raw := procs(model.Process{PID: 1, Name: "a", CPU: 9})
	raw.Timestamp = t0.Add(time.Second)
	c.Apply(state.Cycle{Time: raw.Timestamp, Raw: raw})
	m.Update(tickMsg{})

	sel, ok := m.Selected()
	require.True(t, ok)
	assert.Equal(t, int32(1), sel.PID)
}

func TestSearchAppliesLiveAndReportsBadRegex(t *testing.T) {
	m, ctl := newModel(t, procs(
		model.Process{PID: 1, Name: "nginx"},
		model.Process{PID: 2, Name: "postgres"},
	))

	press(m, runes("/"))
	require.True(t, m.searching)
	press(m, runes("ng"))
	assert.Equal(t, "ng", ctl.View().Filter.Text)
	require.Len(t, m.rows, 1)
	assert.Equal(t, "nginx", m.rows[0].Name)

	// Switch to regex and type an unbalanced bracket: the previous filter stays.
	press(m, tea.KeyMsg{Type: tea.KeyCtrlR})
	assert.Equal(t, proctable.ModeRegex, ctl.View().Filter.Mode)
	press(m, runes("["))
	assert.Equal(t, "ng", ctl.View().Filter.Text)
	assert.NotEmpty(t, m.snap.FilterError)
	assert.Contains(t, m.View(), m.snap.FilterError)

	press(m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.False(t, m.searching)
	assert.Empty(t, ctl.View().Filter.Text)
	assert.Len(t, m.rows, 2)
}

func TestSearchKeysDoNotTriggerCommands(t *testing.T) {
	m, ctl := newModel(t, procs(model.Process{PID: 1, Name: "qemu"}))
	press(m, runes("/"), runes("q"), runes("r"), runes(" "))
	assert.Equal(t, 0, ctl.refreshes)
	assert.False(t, ctl.paused)
	assert.Equal(t, "qr ", m.search.Value())

	press(m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.False(t, m.searching)
	assert.Equal(t, "qr ", ctl.View().Filter.Text)
}

func TestControlKeys(t *testing.T) {
	m, ctl := newModel(t, procs(model.Process{PID: 1, Name: "a"}))

	press(m, tea.KeyMsg{Type: tea.KeySpace})
	assert.True(t, ctl.paused)
	press(m, runes("r"))
	assert.Equal(t, 1, ctl.refreshes)

	press(m, tea.KeyMsg{Type: tea.KeyTab})
	assert.True(t, ctl.View().GroupByName)
	press(m, runes("t"))
	assert.True(t, ctl.View().TreeMode)

	_, cmd := m.Update(runes("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestTreeRowsRender(t *testing.T) {
	m, _ := newModel(t, procs(
		model.Process{PID: 1, Name: "init"},
		model.Process{PID: 10, PPID: 1, HasParent: true, Name: "sshd"},
		model.Process{PID: 11, PPID: 10, HasParent: true, Name: "bash"},
	))
	press(m, runes("t"))
	require.Len(t, m.rows, 3)
	assert.Equal(t, 0, m.rows[0].depth)
	assert.Equal(t, 2, m.rows[2].depth)

	view := m.View()
	assert.Contains(t, view, "└─ sshd")
	assert.Contains(t, view, "  └─ bash")
	assert.Contains(t, view, "tree")
}

func TestViewShowsGapsAndStatus(t *testing.T) {
	c, err := state.New(state.Options{})
	require.NoError(t, err)
	c.Apply(state.Cycle{Time: t0, Raw: procs()})
	raw := model.RawMetrics{Timestamp: t0.Add(time.Second), Memory: &model.Memory{UsedBytes: 1, TotalBytes: 2}}
	raw.Mark(model.SourceProcess)
	c.Apply(state.Cycle{Time: raw.Timestamp, Raw: raw})

	m := New(&fakeCtl{Coordinator: c}, Options{})
	view := m.View()
	assert.Contains(t, view, "n/a", "cpu card shows missing reading")
	assert.Contains(t, view, "#2")
	assert.True(t, strings.Contains(view, "Processes 0/0"))
}

func TestSparkline(t *testing.T) {
	tests := []struct {
		name    string
		samples []series.Sample
		width   int
		percent bool
		want    string
	}{
		{"empty pads", nil, 3, true, "   "},
		{"percent scale", []series.Sample{{Value: 0}, {Value: 100}}, 2, true, "▁█"},
		{"gap is blank", []series.Sample{{Value: 100}, {Gap: true}, {Value: 100}}, 3, true, "█ █"},
		{"relative scale", []series.Sample{{Value: 5}, {Value: 10}}, 2, false, "▄█"},
		{"keeps newest", []series.Sample{{Value: 100}, {Value: 0}, {Value: 0}}, 2, true, "▁▁"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sparkline(tt.samples, tt.width, tt.percent))
		})
	}
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
	assert.Equal(t, "", truncate("abc", 0))
	assert.Contains(t, gaugeBar(150, 4), "100.0%")
	assert.Equal(t, "1.0 KiB/s", rate(1024))
	assert.Equal(t, "0 B/s", rate(-1))
}
