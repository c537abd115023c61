package hierarchy

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/dshills/plexus/internal/bus"
)

// Manager maintains the plugin forest. It is safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	parent   map[string]string
	children map[string][]string
	depth    map[string]int
	roots    map[string]struct{}

	maxDepth    int
	maxChildren int

	cache     *cycleCache
	publisher bus.Publisher
	logger    *slog.Logger
}

// NewManager creates an empty hierarchy.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		parent:      make(map[string]string),
		children:    make(map[string][]string),
		depth:       make(map[string]int),
		roots:       make(map[string]struct{}),
		maxDepth:    DefaultMaxDepth,
		maxChildren: DefaultMaxChildren,
		cache:       newCycleCache(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "hierarchy")
	return m
}

// Limits returns the depth and fan-out limits.
func (m *Manager) Limits() (maxDepth, maxChildren int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxDepth, m.maxChildren
}

// SetLimits changes the limits for future mutations. Existing nodes that
// violate the new limits are reported by Validate and fixed by Repair.
// Non-positive values leave the corresponding limit unchanged.
func (m *Manager) SetLimits(maxDepth, maxChildren int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if maxDepth > 0 {
		m.maxDepth = maxDepth
	}
	if maxChildren > 0 {
		m.maxChildren = maxChildren
	}
}

// Register adds id as a root. Registering a known id is a no-op.
func (m *Manager) Register(id string) error {
	if id == "" {
		return ErrInvalidID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureLocked(id)
	return nil
}

// Contains reports whether id is part of the hierarchy.
func (m *Manager) Contains(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasLocked(id)
}

// Len returns the number of nodes.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.children)
}

// Parent returns the parent of id. The second result is false for roots and
// unknown ids.
func (m *Manager) Parent(id string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.parent[id]
	return p, ok
}

// Children returns the children of id in insertion order.
func (m *Manager) Children(id string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kids := m.children[id]
	if len(kids) == 0 {
		return nil
	}
	out := make([]string, len(kids))
	copy(out, kids)
	return out
}

// Depth returns the depth of id. Roots have depth 0.
func (m *Manager) Depth(id string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.hasLocked(id) {
		return 0, false
	}
	return m.depth[id], true
}

// Height returns the length of the longest downward path from id.
// Leaves have height 0.
func (m *Manager) Height(id string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.hasLocked(id) {
		return 0, false
	}
	return m.heightLocked(id), true
}

// Descendants returns every node below id in breadth-first order, with id
// first when includeSelf is set. Unknown ids yield nil.
func (m *Manager) Descendants(id string, includeSelf bool) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.hasLocked(id) {
		return nil
	}
	sub := m.subtreeLocked(id)
	if !includeSelf {
		sub = sub[1:]
	}
	if len(sub) == 0 {
		return nil
	}
	return sub
}

// Ancestors returns the chain above id, nearest first, with id first when
// includeSelf is set.
func (m *Manager) Ancestors(id string, includeSelf bool) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.hasLocked(id) {
		return nil
	}
	return m.ancestorsLocked(id, includeSelf)
}

// Roots returns the unparented nodes in sorted order.
func (m *Manager) Roots() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.roots))
	for id := range m.roots {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// WouldCreateCycle reports whether the edge parent -> child would make a
// node its own ancestor, which is the case iff child is parent or one of
// parent's ancestors. Results are cached until the ancestry of either id
// changes.
func (m *Manager) WouldCreateCycle(parent, child string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.wouldCreateCycleLocked(parent, child)
}

func (m *Manager) wouldCreateCycleLocked(parent, child string) bool {
	if parent == child {
		return true
	}
	if result, ok := m.cache.get(parent, child); ok {
		return result
	}
	result := false
	for _, a := range m.ancestorsLocked(parent, false) {
		if a == child {
			result = true
			break
		}
	}
	m.cache.put(parent, child, result)
	return result
}

// Stats is a snapshot of hierarchy size and cache behavior.
type Stats struct {
	Nodes       int
	Roots       int
	Edges       int
	MaxDepth    int
	MaxChildren int
	DeepestNode string
	Deepest     int
	CacheSize   int
	CacheHits   uint64
	CacheMisses uint64
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	s := Stats{
		Nodes:       len(m.children),
		Roots:       len(m.roots),
		Edges:       len(m.parent),
		MaxDepth:    m.maxDepth,
		MaxChildren: m.maxChildren,
	}
	for id, d := range m.depth {
		if d > s.Deepest || (d == s.Deepest && (s.DeepestNode == "" || id < s.DeepestNode)) {
			s.Deepest, s.DeepestNode = d, id
		}
	}
	m.mu.RUnlock()

	s.CacheSize = m.cache.size()
	s.CacheHits, s.CacheMisses = m.cache.counters()
	return s
}

// Locked helpers. Callers hold m.mu.

func (m *Manager) hasLocked(id string) bool {
	_, ok := m.children[id]
	return ok
}

// ensureLocked registers id as a root if it is unknown.
func (m *Manager) ensureLocked(id string) bool {
	if m.hasLocked(id) {
		return false
	}
	m.children[id] = []string{}
	m.depth[id] = 0
	m.roots[id] = struct{}{}
	return true
}

// depthOfLocked returns the depth of id, 0 for unknown ids.
func (m *Manager) depthOfLocked(id string) int {
	return m.depth[id]
}

// ancestorsLocked walks parent links. A visited set bounds the walk when
// the tables are corrupt.
func (m *Manager) ancestorsLocked(id string, includeSelf bool) []string {
	var out []string
	if includeSelf {
		out = append(out, id)
	}
	seen := map[string]bool{id: true}
	cur := id
	for {
		p, ok := m.parent[cur]
		if !ok || seen[p] {
			return out
		}
		seen[p] = true
		out = append(out, p)
		cur = p
	}
}

// subtreeLocked returns id and its descendants in breadth-first order.
func (m *Manager) subtreeLocked(id string) []string {
	out := []string{id}
	seen := map[string]bool{id: true}
	for i := 0; i < len(out); i++ {
		for _, c := range m.children[out[i]] {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// heightLocked returns the number of edges on the longest downward path.
func (m *Manager) heightLocked(id string) int {
	level := []string{id}
	seen := map[string]bool{id: true}
	h := -1
	for len(level) > 0 {
		h++
		var next []string
		for _, n := range level {
			for _, c := range m.children[n] {
				if !seen[c] {
					seen[c] = true
					next = append(next, c)
				}
			}
		}
		level = next
	}
	return h
}

// attachLocked links child under parent at the end of parent's children.
func (m *Manager) attachLocked(parent, child string) {
	kids := m.children[parent]
	next := make([]string, len(kids), len(kids)+1)
	copy(next, kids)
	m.children[parent] = append(next, child)
	m.parent[child] = parent
	delete(m.roots, child)
}

// detachLocked unlinks child from its parent and makes it a root.
func (m *Manager) detachLocked(child string) {
	p, ok := m.parent[child]
	if ok {
		m.children[p] = without(m.children[p], child)
		delete(m.parent, child)
	}
	m.roots[child] = struct{}{}
}

// recomputeLocked sets the depth of id's subtree in one traversal from the
// depth implied by id's parent. It returns the subtree.
func (m *Manager) recomputeLocked(id string) []string {
	base := 0
	if p, ok := m.parent[id]; ok {
		base = m.depth[p] + 1
	}
	m.depth[id] = base
	sub := m.subtreeLocked(id)
	for _, n := range sub[1:] {
		m.depth[n] = m.depth[m.parent[n]] + 1
	}
	return sub
}

// dropLocked deletes id from every table. The node must already be
// detached and its children relinked.
func (m *Manager) dropLocked(id string) {
	delete(m.children, id)
	delete(m.depth, id)
	delete(m.roots, id)
	delete(m.parent, id)
}

// without returns a copy of s with every occurrence of v removed.
func without(s []string, v string) []string {
	out := make([]string, 0, len(s))
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
