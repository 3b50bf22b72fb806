package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Dicklesworthstone/sysmoni/internal/model"
	"github.com/Dicklesworthstone/sysmoni/internal/proctable"
	"github.com/Dicklesworthstone/sysmoni/internal/series"
	"github.com/Dicklesworthstone/sysmoni/internal/state"
)

const (
	gaugeWidth = 24
	sparkWidth = 36
)

func (m *Model) View() string {
	s := m.snap
	if s == nil {
		return subtleStyle.Render("waiting for first sample…")
	}

	cards := []string{m.cpuCard(), m.memCard(), m.netCard()}
	if c := m.diskCard(); c != "" {
		cards = append(cards, c)
	}
	extras := make([]string, 0, 3)
	for _, c := range []string{m.tempCard(), m.gpuCard(), m.batteryCard()} {
		if c != "" {
			extras = append(extras, c)
		}
	}

	parts := []string{m.header(), lipgloss.JoinHorizontal(lipgloss.Top, cards...)}
	if len(extras) > 0 {
		parts = append(parts, lipgloss.JoinHorizontal(lipgloss.Top, extras...))
	}
	parts = append(parts, m.processTable(), m.footer())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *Model) header() string {
	s := m.snap
	line := titleStyle.Render("sysmoni") + "  "
	if s.Time.IsZero() {
		line += subtleStyle.Render("collecting…")
	} else {
		line += subtleStyle.Render(s.Time.Format("Mon Jan 2 15:04:05 MST 2006"))
	}
	line += subtleStyle.Render(fmt.Sprintf("  #%d", s.Sequence))
	if s.Scheduler.Paused {
		line += "  " + pausedStyle.Render("PAUSED")
	}
	if s.Scheduler.Overruns > 0 {
		line += "  " + warnStyle.Render(fmt.Sprintf("%d overruns", s.Scheduler.Overruns))
	}
	if s.Scheduler.LastDuration > 0 {
		line += subtleStyle.Render(fmt.Sprintf("  poll %s", s.Scheduler.LastDuration.Round(time.Millisecond)))
	}

	var marks []string
	for _, src := range model.AllSources {
		st := s.Status(src)
		switch st.Status {
		case state.SourceTransient:
			marks = append(marks, warnStyle.Render(string(src)+" ?"))
		case state.SourceUnavailable:
			if src == model.SourceCPU || src == model.SourceMemory || src == model.SourceProcess {
				marks = append(marks, errStyle.Render(string(src)+" ✗"))
			}
		}
	}
	if len(marks) > 0 {
		line += "  " + strings.Join(marks, " ")
	}
	return line
}

func (m *Model) spark(id series.SourceID, percent bool) string {
	return sparkline(m.snap.Series[id].Tail(sparkWidth), sparkWidth, percent)
}

func (m *Model) cpuCard() string {
	s := m.snap
	if s.CPU == nil {
		return card("CPU", na+"\n"+m.spark(state.CPUTotal, true))
	}
	return card("CPU", fmt.Sprintf("%s  load %.2f %.2f %.2f\n%s",
		gaugeBar(s.CPU.Total, gaugeWidth),
		s.CPU.Load1, s.CPU.Load5, s.CPU.Load15,
		m.spark(state.CPUTotal, true)))
}

func (m *Model) memCard() string {
	s := m.snap
	if s.Memory == nil {
		return card("Memory", na+"\n"+m.spark(state.MemUsedPct, true))
	}
	mem := s.Memory
	return card("Memory", fmt.Sprintf("%s  %s/%s | Swap %3.0f%%\n%s",
		gaugeBar(mem.UsedPercent(), gaugeWidth),
		bytes(mem.UsedBytes), bytes(mem.TotalBytes),
		mem.SwapPercent(),
		m.spark(state.MemUsedPct, true)))
}

func (m *Model) netCard() string {
	s := m.snap
	if s.Network == nil {
		return card("Network", na+"\n"+m.spark(state.NetTotalRx, false))
	}
	rx, tx := s.NetTotals()
	return card("Network", fmt.Sprintf("RX %-12s TX %-12s\n%s",
		rate(rx), rate(tx), m.spark(state.NetTotalRx, false)))
}

func (m *Model) diskCard() string {
	s := m.snap
	if len(s.Disks) == 0 {
		return ""
	}
	limit := min(3, len(s.Disks))
	lines := make([]string, 0, limit)
	for _, d := range s.Disks[:limit] {
		lines = append(lines, fmt.Sprintf("%-10s %5.1f%%  R %-10s W %-10s",
			truncate(d.Name, 10), d.UsedPercent(), rate(d.ReadBytesSec), rate(d.WriteBytesSec)))
	}
	return card("Disks", strings.Join(lines, "\n"))
}

func (m *Model) tempCard() string {
	s := m.snap
	if len(s.Temps) == 0 {
		return ""
	}
	limit := min(4, len(s.Temps))
	lines := make([]string, 0, limit)
	for _, t := range s.Temps[:limit] {
		lines = append(lines, fmt.Sprintf("%-14s %6.1f%s",
			truncate(t.Sensor, 14), m.opts.Unit.Convert(t.Celsius), m.opts.Unit.Symbol()))
	}
	return card("Temps", strings.Join(lines, "\n"))
}

func (m *Model) gpuCard() string {
	s := m.snap
	if len(s.GPUs) == 0 {
		return ""
	}
	lines := make([]string, 0, len(s.GPUs))
	for _, g := range s.GPUs {
		lines = append(lines,
			fmt.Sprintf("%s %4.0f%% mem:%4.0f/%-4.0fMiB %4.0f%s",
				truncate(g.Name, 10), g.Util, g.MemUsedMB, g.MemTotalMB,
				m.opts.Unit.Convert(g.TempC), m.opts.Unit.Symbol()))
	}
	return card("GPU", strings.Join(lines, "\n"))
}

func (m *Model) batteryCard() string {
	b := m.snap.Battery
	if b == nil {
		return ""
	}
	return card("Battery", fmt.Sprintf("%.0f%% (%s)", b.Percent, b.State))
}

type column struct {
	title string
	width int
	key   proctable.SortKey
	right bool
}

func (m *Model) columns() []column {
	if m.snap.View.GroupByName {
		return []column{
			{"COUNT", 6, proctable.SortCount, true},
			{"NAME", 28, proctable.SortName, false},
			{"CPU%", 7, proctable.SortCPU, true},
			{"MEM", 10, proctable.SortMem, true},
			{"READ", 11, proctable.SortRead, true},
			{"WRITE", 11, proctable.SortWrite, true},
		}
	}
	return []column{
		{"PID", 7, proctable.SortPID, true},
		{"NAME", 28, proctable.SortName, false},
		{"USER", 10, -1, false},
		{"CPU%", 7, proctable.SortCPU, true},
		{"MEM", 10, proctable.SortMem, true},
		{"READ", 11, proctable.SortRead, true},
		{"WRITE", 11, proctable.SortWrite, true},
		{"S", 2, proctable.SortState, false},
	}
}

func pad(s string, width int, right bool) string {
	s = truncate(s, width)
	if right {
		return fmt.Sprintf("%*s", width, s)
	}
	return fmt.Sprintf("%-*s", width, s)
}

func (m *Model) processTable() string {
	v := m.snap.View
	cols := m.columns()

	heads := make([]string, len(cols))
	for i, c := range cols {
		t := c.title
		if c.key == v.SortKey {
			if v.Direction == proctable.Ascending {
				t += "▲"
			} else {
				t += "▼"
			}
		}
		heads[i] = pad(t, c.width, c.right)
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(strings.Join(heads, " ")))
	b.WriteByte('\n')

	if len(m.rows) == 0 {
		b.WriteString(subtleStyle.Render("no matching processes"))
	}
	end := min(len(m.rows), m.offset+m.pageSize())
	for i := m.offset; i < end; i++ {
		r := m.rows[i]
		line := m.renderRow(r, cols)
		switch {
		case i == m.cursor:
			line = selectedStyle.Render(line)
		case r.Status == proctable.StatusStale:
			line = staleStyle.Render(line)
		}
		b.WriteString(line)
		if i < end-1 {
			b.WriteByte('\n')
		}
	}

	title := fmt.Sprintf("Processes %d/%d", len(m.rows), m.snap.Processes)
	if v.TreeMode && !v.GroupByName {
		title += " · tree"
	}
	if v.GroupByName {
		title += " · grouped"
	}
	if m.snap.Malformed > 0 {
		title += " · " + warnStyle.Render(fmt.Sprintf("%d malformed", m.snap.Malformed))
	}
	return card(title, b.String())
}

func (m *Model) renderRow(r row, cols []column) string {
	cells := make([]string, len(cols))
	for i, c := range cols {
		var val string
		switch c.title {
		case "COUNT":
			val = fmt.Sprintf("%d", r.Count)
		case "PID":
			val = fmt.Sprintf("%d", r.PID)
		case "NAME":
			val = treePrefix(r) + r.Name
			if r.Malformed() {
				val += " !"
			}
		case "USER":
			val = r.User
		case "CPU%":
			val = fmt.Sprintf("%.1f", r.CPU)
		case "MEM":
			val = bytes(r.MemBytes)
		case "READ":
			val = rate(r.ReadBytesSec)
		case "WRITE":
			val = rate(r.WriteBytesSec)
		case "S":
			val = r.State
		}
		cells[i] = pad(val, c.width, c.right)
	}
	return strings.Join(cells, " ")
}

func treePrefix(r row) string {
	if r.depth == 0 {
		return ""
	}
	branch := "├─ "
	if r.last {
		branch = "└─ "
	}
	return strings.Repeat("  ", r.depth-1) + branch
}

func (m *Model) footer() string {
	var b strings.Builder
	switch {
	case m.searching:
		b.WriteString(m.search.View())
		b.WriteString("  " + subtleStyle.Render(filterFlags(m.filter)))
	case m.snap.View.Filter.Text != "":
		f := m.snap.View.Filter
		b.WriteString(labelStyle.Render("filter: ") + f.Text + "  " + subtleStyle.Render(filterFlags(f)))
	}
	if m.snap.FilterError != "" {
		if b.Len() > 0 {
			b.WriteString("  ")
		}
		b.WriteString(errStyle.Render(m.snap.FilterError))
	}
	if b.Len() > 0 {
		b.WriteByte('\n')
	}
	if m.searching {
		b.WriteString(m.help.View(m.skeys))
	} else {
		b.WriteString(m.help.View(m.keys))
	}
	return b.String()
}

func filterFlags(f proctable.FilterSpec) string {
	flags := []string{f.Mode.String()}
	if f.CaseSensitive && f.Mode != proctable.ModeFuzzy {
		flags = append(flags, "Aa")
	}
	if f.MatchCommand {
		flags = append(flags, "cmd")
	}
	return "[" + strings.Join(flags, " ") + "]"
}
