package hierarchy

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// IssueKind classifies an integrity problem.
type IssueKind string

const (
	IssueCycle         IssueKind = "cycle"
	IssueOrphan        IssueKind = "orphan"
	IssueDepthLimit    IssueKind = "depth_limit"
	IssueDepthMismatch IssueKind = "depth_mismatch"
	IssueLinkMismatch  IssueKind = "link_mismatch"
	IssueCapacity      IssueKind = "capacity"
)

// Issue is one integrity problem found by Validate.
type Issue struct {
	Kind   IssueKind
	Node   string
	Detail string

	// Path lists the nodes of a cycle in traversal order.
	Path []string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s at %s: %s", i.Kind, i.Node, i.Detail)
}

// Report is the result of Validate.
type Report struct {
	Valid  bool
	Issues []Issue
}

// Count returns the number of issues of kind k.
func (r Report) Count(k IssueKind) int {
	n := 0
	for _, i := range r.Issues {
		if i.Kind == k {
			n++
		}
	}
	return n
}

// Validate audits the hierarchy tables and reports every inconsistency. It
// never changes anything.
func (m *Manager) Validate() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var issues []Issue
	nodes := m.knownLocked()

	issues = append(issues, m.findCyclesLocked(nodes)...)

	for _, id := range nodes {
		_, registered := m.children[id]
		_, isRoot := m.roots[id]
		p, hasParent := m.parent[id]

		if !hasParent && !isRoot {
			issues = append(issues, Issue{Kind: IssueOrphan, Node: id, Detail: "neither parented nor a root"})
		}
		if hasParent && isRoot {
			issues = append(issues, Issue{Kind: IssueLinkMismatch, Node: id, Detail: "in root set but has parent " + p})
		}
		if !registered {
			issues = append(issues, Issue{Kind: IssueLinkMismatch, Node: id, Detail: "referenced but not registered"})
		}
		if hasParent && !slices.Contains(m.children[p], id) {
			issues = append(issues, Issue{Kind: IssueLinkMismatch, Node: id, Detail: "parent " + p + " does not list it as a child"})
		}

		d := m.depth[id]
		if d > m.maxDepth {
			issues = append(issues, Issue{Kind: IssueDepthLimit, Node: id, Detail: fmt.Sprintf("depth %d exceeds limit %d", d, m.maxDepth)})
		}
		want := 0
		if hasParent {
			want = m.depth[p] + 1
		}
		if d != want {
			issues = append(issues, Issue{Kind: IssueDepthMismatch, Node: id, Detail: fmt.Sprintf("depth %d, expected %d", d, want)})
		}

		kids := m.children[id]
		if len(kids) > m.maxChildren {
			issues = append(issues, Issue{Kind: IssueCapacity, Node: id, Detail: fmt.Sprintf("%d children exceed limit %d", len(kids), m.maxChildren)})
		}
		for _, c := range kids {
			if cp, ok := m.parent[c]; !ok || cp != id {
				issues = append(issues, Issue{Kind: IssueLinkMismatch, Node: c, Detail: "listed as child of " + id + " but parent map disagrees"})
			}
		}
	}

	return Report{Valid: len(issues) == 0, Issues: issues}
}

// knownLocked returns every id mentioned anywhere in the tables, sorted.
func (m *Manager) knownLocked() []string {
	set := make(map[string]struct{}, len(m.children))
	for id, kids := range m.children {
		set[id] = struct{}{}
		for _, c := range kids {
			set[c] = struct{}{}
		}
	}
	for c, p := range m.parent {
		set[c] = struct{}{}
		set[p] = struct{}{}
	}
	for id := range m.roots {
		set[id] = struct{}{}
	}
	for id := range m.depth {
		set[id] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// findCyclesLocked runs a depth-first search over both link directions'
// union (children lists and parent map) and reports each cycle once.
func (m *Manager) findCyclesLocked(nodes []string) []Issue {
	const (
		white = iota
		gray
		black
	)

	next := func(id string) []string {
		out := slices.Clone(m.children[id])
		for c, p := range m.parent {
			if p == id && !slices.Contains(out, c) {
				out = append(out, c)
			}
		}
		sort.Strings(out[len(m.children[id]):])
		return out
	}

	color := make(map[string]int, len(nodes))
	var stack []string
	seen := make(map[string]bool)
	var issues []Issue

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		stack = append(stack, id)
		for _, c := range next(id) {
			switch color[c] {
			case gray:
				start := slices.Index(stack, c)
				cycle := slices.Clone(stack[start:])
				key := cycleKey(cycle)
				if !seen[key] {
					seen[key] = true
					issues = append(issues, Issue{
						Kind:   IssueCycle,
						Node:   c,
						Detail: strings.Join(append(slices.Clone(cycle), c), " -> "),
						Path:   cycle,
					})
				}
			case white:
				visit(c)
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, id := range nodes {
		if color[id] == white {
			visit(id)
		}
	}
	return issues
}

func cycleKey(nodes []string) string {
	sorted := slices.Clone(nodes)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}

// RepairAction describes one change made by Repair.
type RepairAction struct {
	Kind   IssueKind
	Node   string
	Detail string
}

// RepairReport lists what Repair changed.
type RepairReport struct {
	Actions []RepairAction
}

// Changed reports whether Repair modified anything.
func (r RepairReport) Changed() bool {
	return len(r.Actions) > 0
}

// Repair rebuilds a consistent forest from the parent map. Cycles are cut by
// detaching the node where the cycle was entered, child lists and the root
// set are rebuilt, depths are recomputed, and nodes beyond the depth or
// child limits are detached into roots. The cycle cache is cleared.
func (m *Manager) Repair() RepairReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	var report RepairReport
	act := func(kind IssueKind, node, detail string) {
		report.Actions = append(report.Actions, RepairAction{Kind: kind, Node: node, Detail: detail})
		m.logger.Warn("hierarchy repaired", "kind", string(kind), "node", node, "detail", detail)
	}

	nodes := m.knownLocked()
	for _, id := range nodes {
		if _, ok := m.children[id]; !ok {
			m.children[id] = []string{}
			act(IssueLinkMismatch, id, "registered referenced node")
		}
	}

	// Cut cycles in the parent map.
	for _, id := range nodes {
		onPath := map[string]bool{}
		cur := id
		for {
			onPath[cur] = true
			p, ok := m.parent[cur]
			if !ok {
				break
			}
			if onPath[p] {
				delete(m.parent, cur)
				act(IssueCycle, cur, "detached from "+p+" to break cycle")
				break
			}
			cur = p
		}
	}

	// Rebuild child lists from the parent map, keeping surviving order.
	rebuilt := make(map[string][]string, len(m.children))
	for _, id := range nodes {
		var kids []string
		for _, c := range m.children[id] {
			if m.parent[c] == id && !slices.Contains(kids, c) {
				kids = append(kids, c)
			}
		}
		var extra []string
		for c, p := range m.parent {
			if p == id && !slices.Contains(kids, c) {
				extra = append(extra, c)
			}
		}
		sort.Strings(extra)
		kids = append(kids, extra...)
		if !slices.Equal(kids, m.children[id]) {
			act(IssueLinkMismatch, id, "rebuilt child list")
		}
		if kids == nil {
			kids = []string{}
		}
		rebuilt[id] = kids
	}
	m.children = rebuilt

	// Enforce the child limit by detaching the newest children.
	for _, id := range nodes {
		kids := m.children[id]
		if len(kids) <= m.maxChildren {
			continue
		}
		for _, c := range kids[m.maxChildren:] {
			delete(m.parent, c)
			act(IssueCapacity, c, "detached from "+id+" over child limit")
		}
		m.children[id] = slices.Clone(kids[:m.maxChildren])
	}

	// Rebuild roots and depths.
	roots := make(map[string]struct{})
	for _, id := range nodes {
		if _, ok := m.parent[id]; !ok {
			roots[id] = struct{}{}
			if _, was := m.roots[id]; !was {
				act(IssueOrphan, id, "added to root set")
			}
		}
	}
	m.roots = roots

	oldDepth := m.depth
	m.depth = make(map[string]int, len(nodes))
	rootList := make([]string, 0, len(roots))
	for id := range roots {
		rootList = append(rootList, id)
	}
	sort.Strings(rootList)
	for _, r := range rootList {
		m.depth[r] = 0
		for _, n := range m.subtreeLocked(r) {
			if p, ok := m.parent[n]; ok {
				m.depth[n] = m.depth[p] + 1
			}
			if m.depth[n] > m.maxDepth {
				m.detachLocked(n)
				m.recomputeLocked(n)
				act(IssueDepthLimit, n, "detached over depth limit")
			}
		}
	}
	for _, id := range nodes {
		if m.depth[id] != oldDepth[id] {
			act(IssueDepthMismatch, id, fmt.Sprintf("depth %d -> %d", oldDepth[id], m.depth[id]))
		}
	}

	m.cache.clear()
	return report
}
