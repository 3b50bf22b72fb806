package proctable

// Tree is a parent/child view over a set of records. It is built from an
// arena of records keyed by pid; parent links are weak, so a record whose
// parent is not in the set hangs off the synthetic root (Roots).
type Tree struct {
	Roots    []int32
	Children map[int32][]int32
	Parent   map[int32]int32
	nodes    map[int32]Record
}

// TreeRow is one line of a flattened tree.
type TreeRow struct {
	Record
	Depth int
	Last  bool // last child of its parent
}

const (
	unvisited = iota
	onPath
	resolved
)

// GroupByTree builds a Tree. Children and roots keep the order of records.
// Parent chains that loop back on themselves are cut at the first node of the
// loop met while walking, which then becomes a root.
func GroupByTree(records []Record) *Tree {
	t := &Tree{
		Children: make(map[int32][]int32),
		Parent:   make(map[int32]int32),
		nodes:    make(map[int32]Record, len(records)),
	}
	order := make([]int32, 0, len(records))
	for _, r := range records {
		if _, dup := t.nodes[r.PID]; dup {
			continue
		}
		t.nodes[r.PID] = r
		order = append(order, r.PID)
	}

	state := make(map[int32]uint8, len(order))
	for _, start := range order {
		if state[start] == resolved {
			continue
		}
		var path []int32
		cur := start
		for {
			state[cur] = onPath
			path = append(path, cur)

			rec := t.nodes[cur]
			p := rec.PPID
			if _, ok := t.nodes[p]; !rec.HasParent || p == cur || !ok {
				break
			}
			if state[p] == onPath {
				t.Parent[cur] = p
				delete(t.Parent, p)
				break
			}
			t.Parent[cur] = p
			if state[p] == resolved {
				break
			}
			cur = p
		}
		for _, pid := range path {
			state[pid] = resolved
		}
	}

	for _, pid := range order {
		if p, ok := t.Parent[pid]; ok {
			t.Children[p] = append(t.Children[p], pid)
		} else {
			t.Roots = append(t.Roots, pid)
		}
	}
	return t
}

// Len returns the number of nodes.
func (t *Tree) Len() int { return len(t.nodes) }

// Node returns the record stored for pid.
func (t *Tree) Node(pid int32) (Record, bool) {
	r, ok := t.nodes[pid]
	return r, ok
}

// Flatten walks the tree depth-first and returns one row per node. The walk
// is iterative and skips already-visited pids.
func (t *Tree) Flatten() []TreeRow {
	if t == nil {
		return nil
	}
	type frame struct {
		pid   int32
		depth int
		last  bool
	}
	rows := make([]TreeRow, 0, len(t.nodes))
	visited := make(map[int32]bool, len(t.nodes))

	walk := func(roots []int32) {
		stack := make([]frame, 0, len(roots))
		for i := len(roots) - 1; i >= 0; i-- {
			stack = append(stack, frame{pid: roots[i], last: i == len(roots)-1})
		}
		for len(stack) > 0 {
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[f.pid] {
				continue
			}
			visited[f.pid] = true
			rows = append(rows, TreeRow{Record: t.nodes[f.pid], Depth: f.depth, Last: f.last})

			kids := t.Children[f.pid]
			for i := len(kids) - 1; i >= 0; i-- {
				stack = append(stack, frame{pid: kids[i], depth: f.depth + 1, last: i == len(kids)-1})
			}
		}
	}
	walk(t.Roots)

	if len(rows) < len(t.nodes) {
		var orphans []int32
		for pid := range t.nodes {
			if !visited[pid] {
				orphans = append(orphans, pid)
			}
		}
		sortPIDs(orphans)
		walk(orphans)
	}
	return rows
}
