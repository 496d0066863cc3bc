package scene

import (
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/graph/traverse"
)

// Graph is the dependency graph of a scene snapshot. Vertices are nodes ("bundle1") and
// attributes ("bundle1.tx"). An edge a→b means a change to a can change b: an attribute feeds
// its node, expression inputs feed the attribute they drive, a parent feeds its children, and a
// lens feeds the camera shape or lens it is connected to.
type Graph struct {
	forward *simple.DirectedGraph
	reverse *simple.DirectedGraph
	ids     map[string]int64
	names   map[int64]string
}

// DependencyGraph builds the dependency graph of the scene as it is now.
func (s *Scene) DependencyGraph() *Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g := &Graph{
		forward: simple.NewDirectedGraph(),
		reverse: simple.NewDirectedGraph(),
		ids:     map[string]int64{},
		names:   map[int64]string{},
	}
	for _, name := range s.order {
		n := s.nodes[name]
		g.vertex(name)
		for _, attr := range n.plugOrder {
			g.vertex(name + "." + attr)
		}
	}
	for _, name := range s.order {
		n := s.nodes[name]
		for _, attr := range n.plugOrder {
			p := n.plugs[attr]
			g.edge(p.path(), name)
			if p.expr != nil {
				for _, input := range p.expr.Inputs {
					g.edge(input, p.path())
				}
			}
		}
		if n.Parent != "" {
			g.edge(n.Parent, name)
		}
		if n.Lens != "" {
			g.edge(n.Lens, name)
		}
	}
	return g
}

func (g *Graph) vertex(name string) {
	id := int64(len(g.ids))
	g.ids[name] = id
	g.names[id] = name
	g.forward.AddNode(simple.Node(id))
	g.reverse.AddNode(simple.Node(id))
}

func (g *Graph) edge(from, to string) {
	f, ok := g.ids[from]
	if !ok {
		return
	}
	t, ok := g.ids[to]
	if !ok || f == t {
		return
	}
	g.forward.SetEdge(simple.Edge{F: simple.Node(f), T: simple.Node(t)})
	g.reverse.SetEdge(simple.Edge{F: simple.Node(t), T: simple.Node(f)})
}

// Has reports whether name is a vertex.
func (g *Graph) Has(name string) bool {
	_, ok := g.ids[name]
	return ok
}

// Directed exposes the forward graph.
func (g *Graph) Directed() graph.Directed {
	return g.forward
}

// Downstream returns every vertex reachable from the given ones, including themselves.
func (g *Graph) Downstream(from ...string) map[string]bool {
	return g.reach(g.forward, from)
}

// Upstream returns every vertex that reaches any of the given ones, including themselves.
func (g *Graph) Upstream(to ...string) map[string]bool {
	return g.reach(g.reverse, to)
}

func (g *Graph) reach(dg *simple.DirectedGraph, start []string) map[string]bool {
	out := map[string]bool{}
	var bf traverse.BreadthFirst
	bf.Visit = func(n graph.Node) {
		out[g.names[n.ID()]] = true
	}
	for _, name := range start {
		id, ok := g.ids[name]
		if !ok || out[name] {
			continue
		}
		out[name] = true
		bf.Walk(dg, simple.Node(id), nil)
	}
	return out
}

// Cycles returns the names in each dependency cycle, or nil when the graph is acyclic.
func (g *Graph) Cycles() [][]string {
	if _, err := topo.Sort(g.forward); err == nil {
		return nil
	}
	var out [][]string
	for _, scc := range topo.TarjanSCC(g.forward) {
		if len(scc) < 2 {
			continue
		}
		names := make([]string, len(scc))
		for i, n := range scc {
			names[i] = g.names[n.ID()]
		}
		sort.Strings(names)
		out = append(out, names)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}
