package pipeline

import (
	"fmt"
	"sort"
)

// depGraph maps each topic to the topics it reads.
type depGraph struct {
	order map[string]int
	edges map[string][]string
}

func newDepGraph(steps []Step) *depGraph {
	g := &depGraph{order: make(map[string]int), edges: make(map[string][]string)}
	for i, s := range steps {
		g.order[s.topic()] = i
		g.edges[s.topic()] = s.deps()
	}
	return g
}

// check rejects dependencies on later steps and, when strict, on topics no step produces.
func (g *depGraph) check(strict bool) error {
	topics := make([]string, 0, len(g.order))
	for t := range g.order {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool { return g.order[topics[i]] < g.order[topics[j]] })

	for _, t := range topics {
		for _, dep := range g.edges[t] {
			pos, ok := g.order[dep]
			switch {
			case !ok && strict:
				return fmt.Errorf("step %s depends on unknown topic %s", t, dep)
			case ok && pos == g.order[t]:
				return fmt.Errorf("step %s depends on itself", t)
			case ok && pos > g.order[t]:
				return fmt.Errorf("step %s depends on %s which runs later", t, dep)
			}
		}
	}
	if cycle := g.cycle(); cycle != nil {
		return fmt.Errorf("dependency cycle: %v", cycle)
	}
	return nil
}

func (g *depGraph) cycle() []string {
	visited := map[string]bool{}
	inStack := map[string]bool{}
	var dfs func(n string, path []string) []string
	dfs = func(n string, path []string) []string {
		visited[n] = true
		inStack[n] = true
		path = append(path, n)
		for _, next := range g.edges[n] {
			if _, known := g.order[next]; !known {
				continue
			}
			if inStack[next] {
				for i, p := range path {
					if p == next {
						return append(append([]string{}, path[i:]...), next)
					}
				}
			}
			if !visited[next] {
				if c := dfs(next, path); c != nil {
					return c
				}
			}
		}
		inStack[n] = false
		return nil
	}
	names := make([]string, 0, len(g.order))
	for n := range g.order {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if !visited[n] {
			if c := dfs(n, nil); c != nil {
				return c
			}
		}
	}
	return nil
}

// closure returns roots plus every topic they transitively depend on.
func (g *depGraph) closure(roots []string) map[string]bool {
	out := map[string]bool{}
	var visit func(string)
	visit = func(n string) {
		if out[n] {
			return
		}
		out[n] = true
		for _, d := range g.edges[n] {
			if _, ok := g.order[d]; ok {
				visit(d)
			}
		}
	}
	for _, r := range roots {
		visit(r)
	}
	return out
}
