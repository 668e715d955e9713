// Package trie implements the bitwise prefix trie of spec.md §4.1: a
// patricia-style index keyed by (ip_version, bits, length) supporting
// insert_or_get, get, parent-with-payload walks and child-with-payload
// enumeration.
//
// Only prefixes that were actually inserted materialize as nodes (no
// implicit per-bit branch nodes), mirroring "Each node carries at most one
// payload" plus the fact that a node may outlive its payload (spec.md
// §4.3.3: "release the payload; the trie node remains"). Nodes are held in
// an arena (a slice) and referenced by stable integer handles instead of
// pointers, per spec.md §9's "raw pointer graph" re-architecture note.
package trie

import "net/netip"

// ID is a stable handle to a trie node; the first inserted node gets ID 0.
// Use NoNode to test for absence.
type ID int32

// NoNode is the invalid/absent ID.
const NoNode ID = -1

type node[T any] struct {
	prefix   netip.Prefix
	parent   ID
	children []ID
	payload  *T
}

// Trie is a patricia-style prefix trie over payload type T. It is not
// internally synchronized: spec.md §5 assigns locking to the owning Prefix
// Cache, not the trie itself.
type Trie[T any] struct {
	nodes []node[T]
	index map[netip.Prefix]ID
}

// New returns an empty trie.
func New[T any]() *Trie[T] {
	return &Trie[T]{index: make(map[netip.Prefix]ID)}
}

// containsPrefix reports whether inner is outer or a descendant of outer.
func containsPrefix(outer, inner netip.Prefix) bool {
	return inner.Bits() >= outer.Bits() && outer.Contains(inner.Addr())
}

// InsertOrGet returns the node for p, creating it (and relinking any
// existing descendants of p under it) if it did not already exist.
func (t *Trie[T]) InsertOrGet(p netip.Prefix) (id ID, created bool) {
	p = p.Masked()
	if id, ok := t.index[p]; ok {
		return id, false
	}

	// find the nearest materialized ancestor by walking shorter lengths
	ancestor := NoNode
	addr := p.Addr()
	for l := p.Bits() - 1; l >= 0; l-- {
		cand := netip.PrefixFrom(addr, l).Masked()
		if id, ok := t.index[cand]; ok {
			ancestor = id
			break
		}
	}

	id = ID(len(t.nodes))
	t.nodes = append(t.nodes, node[T]{prefix: p, parent: ancestor})
	t.index[p] = id

	if ancestor != NoNode {
		anc := &t.nodes[ancestor]
		kept := anc.children[:0:0]
		for _, c := range anc.children {
			if containsPrefix(p, t.nodes[c].prefix) && t.nodes[c].prefix != p {
				t.nodes[c].parent = id
				t.nodes[id].children = append(t.nodes[id].children, c)
			} else {
				kept = append(kept, c)
			}
		}
		anc.children = append(kept, id)
	}

	return id, true
}

// Get returns the node for p if it was previously inserted.
func (t *Trie[T]) Get(p netip.Prefix) (ID, bool) {
	id, ok := t.index[p.Masked()]
	return id, ok
}

// Prefix returns the prefix a node represents.
func (t *Trie[T]) Prefix(id ID) netip.Prefix {
	return t.nodes[id].prefix
}

// Payload returns the payload attached to id, or nil if none is attached.
func (t *Trie[T]) Payload(id ID) *T {
	return t.nodes[id].payload
}

// SetPayload attaches v to id.
func (t *Trie[T]) SetPayload(id ID, v *T) {
	t.nodes[id].payload = v
}

// ClearPayload detaches id's payload; the node itself is kept.
func (t *Trie[T]) ClearPayload(id ID) {
	t.nodes[id].payload = nil
}

// ParentWithPayload walks upward from id (exclusive) to the next ancestor
// that carries a payload.
func (t *Trie[T]) ParentWithPayload(id ID) (ID, bool) {
	cur := t.nodes[id].parent
	for cur != NoNode {
		if t.nodes[cur].payload != nil {
			return cur, true
		}
		cur = t.nodes[cur].parent
	}
	return NoNode, false
}

// ChildrenWithPayload returns the closest descendants of id that carry a
// payload; it does not descend past a carrier into its own children.
func (t *Trie[T]) ChildrenWithPayload(id ID) []ID {
	var out []ID
	var walk func(ID)
	walk = func(cur ID) {
		for _, c := range t.nodes[cur].children {
			if t.nodes[c].payload != nil {
				out = append(out, c)
			} else {
				walk(c)
			}
		}
	}
	walk(id)
	return out
}

// Children returns the immediate structural children of id, regardless of
// whether they carry a payload.
func (t *Trie[T]) Children(id ID) []ID {
	return append([]ID(nil), t.nodes[id].children...)
}

// NodeCount returns the number of materialized nodes (inserted prefixes).
func (t *Trie[T]) NodeCount() int {
	return len(t.nodes)
}
