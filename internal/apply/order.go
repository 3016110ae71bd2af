package apply

import (
	"fmt"

	"adpilot/internal/ops"
	"adpilot/internal/snapshot"
)

// executionOrder computes the dependency-safe order as indices into the
// operation list. The remote system materializes a mutation batch atomically
// but rejects intermediate states in which a resource tree is structurally
// invalid, so within one logical tree every create-class operation runs
// before every remove-class operation, and removes run leaves-first. Tree
// membership and ancestry come from the operations' parent references plus
// the snapshot's recorded parent chains, never from hard-coded sequences;
// ties break by plan position.
func executionOrder(operations []ops.Operation, snap *snapshot.Snapshot) ([]int, error) {
	n := len(operations)
	if n == 0 {
		return nil, nil
	}

	for _, op := range operations {
		if !op.OpType.RemoveClass() {
			continue
		}
		if root, ok := snap.Field(op.EntityRef, "is_root"); ok && root.Bool() {
			return nil, &ops.GuardrailViolation{
				Rule:   "tree_root_removal",
				Detail: fmt.Sprintf("operation %s removes tree root %s", op.OpID, op.EntityRef),
			}
		}
	}

	g := newDependencyGraph(operations, snap)

	edges := make(map[int][]int)
	indegree := make([]int, n)
	addEdge := func(from, to int) {
		edges[from] = append(edges[from], to)
		indegree[to]++
	}

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j || !g.sameTree(i, j) {
				continue
			}
			a, b := operations[i], operations[j]
			switch {
			case a.OpType.CreateClass() && b.OpType.RemoveClass():
				addEdge(i, j)
			case a.OpType.RemoveClass() && b.OpType.RemoveClass() && g.isAncestor(a.EntityRef, b.EntityRef):
				// a is b's ancestor: remove the leaf b first.
				addEdge(j, i)
			case a.OpType.CreateClass() && b.OpType.CreateClass() && g.isAncestor(a.EntityRef, b.EntityRef):
				// a is b's ancestor: create the parent a first.
				addEdge(i, j)
			}
		}
	}

	// Kahn's algorithm, always taking the lowest-index ready node so that
	// unconstrained operations keep their plan order.
	order := make([]int, 0, n)
	done := make([]bool, n)
	for len(order) < n {
		next := -1
		for i := 0; i < n; i++ {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next == -1 {
			return nil, fmt.Errorf("operation dependency cycle involving %d unordered operation(s)", n-len(order))
		}
		done[next] = true
		order = append(order, next)
		for _, to := range edges[next] {
			indegree[to]--
		}
	}
	return order, nil
}

// dependencyGraph resolves tree membership and ancestry over entity refs.
type dependencyGraph struct {
	parents map[string][]string
	tree    map[int]string
}

func newDependencyGraph(operations []ops.Operation, snap *snapshot.Snapshot) *dependencyGraph {
	g := &dependencyGraph{
		parents: make(map[string][]string),
		tree:    make(map[int]string, len(operations)),
	}
	var walk func(ref string)
	walk = func(ref string) {
		if _, seen := g.parents[ref]; seen {
			return
		}
		g.parents[ref] = g.lookupParents(ref, snap)
		for _, p := range g.parents[ref] {
			walk(p)
		}
	}
	for _, op := range operations {
		g.parents[op.EntityRef] = append(g.parents[op.EntityRef], op.Entity.ParentRefs...)
	}
	for _, op := range operations {
		for _, p := range op.Entity.ParentRefs {
			walk(p)
		}
		if fromSnap := g.lookupParents(op.EntityRef, snap); len(fromSnap) > 0 {
			g.parents[op.EntityRef] = append(g.parents[op.EntityRef], fromSnap...)
			for _, p := range fromSnap {
				walk(p)
			}
		}
	}
	for i, op := range operations {
		g.tree[i] = g.root(op.EntityRef)
	}
	return g
}

func (g *dependencyGraph) lookupParents(ref string, snap *snapshot.Snapshot) []string {
	v, ok := snap.Field(ref, "parent_refs")
	if !ok {
		return nil
	}
	var out []string
	for _, item := range v.Array() {
		if item.String() != "" {
			out = append(out, item.String())
		}
	}
	return out
}

// root follows parent chains to the root-most reachable ref. Chains are
// short (entity, ad group / asset group, campaign) so a bounded walk with a
// visited set suffices.
func (g *dependencyGraph) root(ref string) string {
	visited := map[string]bool{}
	current := ref
	for !visited[current] {
		visited[current] = true
		parents := g.parents[current]
		if len(parents) == 0 {
			return current
		}
		current = parents[0]
	}
	return current
}

func (g *dependencyGraph) sameTree(i, j int) bool {
	return g.tree[i] != "" && g.tree[i] == g.tree[j]
}

// isAncestor reports whether ancestor appears anywhere in ref's parent chain.
func (g *dependencyGraph) isAncestor(ancestor, ref string) bool {
	visited := map[string]bool{}
	queue := append([]string(nil), g.parents[ref]...)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true
		if current == ancestor {
			return true
		}
		queue = append(queue, g.parents[current]...)
	}
	return false
}
