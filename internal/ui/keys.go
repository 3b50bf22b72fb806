package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap holds every binding the dashboard reacts to outside search mode.
type keyMap struct {
	Quit    key.Binding
	Help    key.Binding
	Pause   key.Binding
	Refresh key.Binding
	Search  key.Binding
	SortCPU key.Binding
	SortMem key.Binding
	SortPID key.Binding
	SortNam key.Binding
	Group   key.Binding
	Tree    key.Binding
	Up      key.Binding
	Down    key.Binding
	PgUp    key.Binding
	PgDown  key.Binding
	Top     key.Binding
	Bottom  key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		Help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Pause:   key.NewBinding(key.WithKeys(" ", "space"), key.WithHelp("space", "pause")),
		Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Search:  key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "filter")),
		SortCPU: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "sort cpu")),
		SortMem: key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "sort mem")),
		SortPID: key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "sort pid")),
		SortNam: key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "sort name")),
		Group:   key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "group by name")),
		Tree:    key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "tree")),
		Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		PgUp:    key.NewBinding(key.WithKeys("pgup"), key.WithHelp("pgup", "page up")),
		PgDown:  key.NewBinding(key.WithKeys("pgdown"), key.WithHelp("pgdn", "page down")),
		Top:     key.NewBinding(key.WithKeys("home", "g"), key.WithHelp("g", "top")),
		Bottom:  key.NewBinding(key.WithKeys("end", "G"), key.WithHelp("G", "bottom")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Search, k.SortCPU, k.SortMem, k.Group, k.Tree, k.Pause, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.PgUp, k.PgDown, k.Top, k.Bottom},
		{k.SortCPU, k.SortMem, k.SortPID, k.SortNam},
		{k.Search, k.Group, k.Tree},
		{k.Pause, k.Refresh, k.Help, k.Quit},
	}
}

// searchKeys apply while the filter box has focus.
type searchKeys struct {
	Apply  key.Binding
	Cancel key.Binding
	Regex  key.Binding
	Fuzzy  key.Binding
	Case   key.Binding
	Cmd    key.Binding
}

func defaultSearchKeys() searchKeys {
	return searchKeys{
		Apply:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "keep")),
		Cancel: key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "clear")),
		Regex:  key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "regex")),
		Fuzzy:  key.NewBinding(key.WithKeys("ctrl+f"), key.WithHelp("ctrl+f", "fuzzy")),
		Case:   key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "case")),
		Cmd:    key.NewBinding(key.WithKeys("ctrl+a"), key.WithHelp("ctrl+a", "match command")),
	}
}

func (k searchKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Apply, k.Cancel, k.Regex, k.Fuzzy, k.Case, k.Cmd}
}

func (k searchKeys) FullHelp() [][]key.Binding { return [][]key.Binding{k.ShortHelp()} }
