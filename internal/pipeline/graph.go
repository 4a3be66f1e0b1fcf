package pipeline

import (
	"sync"
)

// Graph is an append-only arena of nodes. A node's inputs always have
// smaller ids than the node itself, so the arena is in topological order and
// can never contain a cycle. Consumers are found by scanning, never stored.
//
// Adding nodes is safe while other goroutines evaluate existing ones; nodes
// are never modified after they are added.
type Graph struct {
	mu    sync.RWMutex
	nodes []*Node

	closeOnce sync.Once
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{}
}

// AddNode appends an operation node. It fails with InvalidParameter for
// out-of-domain parameters or input ids that are not already in the graph,
// and with DescriptorMismatch when an input does not suit the operation.
func (g *Graph) AddNode(op Operation, inputs ...NodeID) (NodeID, error) {
	if op == nil {
		return -1, errorf(InvalidParameter, "add node", "nil operation")
	}
	if err := op.validate(); err != nil {
		return -1, err
	}
	if len(inputs) != op.arity() {
		return -1, errorf(InvalidParameter, op.Kind().String(), "need %d inputs, got %d", op.arity(), len(inputs))
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	descs := make([]Descriptor, len(inputs))
	sigs := make([]Signature, len(inputs))
	volatile := false
	for i, id := range inputs {
		if id < 0 || int(id) >= len(g.nodes) {
			return -1, errorf(InvalidParameter, op.Kind().String(), "input %d refers to unknown node %d", i, id)
		}
		in := g.nodes[id]
		descs[i] = in.Desc
		sigs[i] = in.Sig
		volatile = volatile || in.volatile
	}

	desc, err := op.infer(descs)
	if err != nil {
		return -1, err
	}
	if err := desc.Validate(); err != nil {
		return -1, err
	}

	if v, ok := op.(volatileOp); ok && v.volatile() {
		volatile = true
	}

	n := &Node{
		ID:       NodeID(len(g.nodes)),
		Op:       op,
		Inputs:   append([]NodeID(nil), inputs...),
		Desc:     desc,
		Sig:      signatureOf(op, sigs),
		volatile: volatile,
	}
	g.nodes = append(g.nodes, n)
	return n.ID, nil
}

// Node returns the node with the given id.
func (g *Graph) Node(id NodeID) (*Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if id < 0 || int(id) >= len(g.nodes) {
		return nil, errorf(InvalidParameter, "graph", "unknown node %d", id)
	}
	return g.nodes[id], nil
}

// Descriptor returns the output descriptor of a node.
func (g *Graph) Descriptor(id NodeID) (Descriptor, error) {
	n, err := g.Node(id)
	if err != nil {
		return Descriptor{}, err
	}
	return n.Desc, nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Root returns the most recently added node, or -1 for an empty graph.
func (g *Graph) Root() NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return NodeID(len(g.nodes) - 1)
}

// Consumers returns the nodes that take id as a direct input, in id order.
func (g *Graph) Consumers(id NodeID) []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []NodeID
	for _, n := range g.nodes[min(int(id)+1, len(g.nodes)):] {
		for _, in := range n.Inputs {
			if in == id {
				out = append(out, n.ID)
				break
			}
		}
	}
	return out
}

// Ancestors returns every node id reachable upstream from id, including id,
// in ascending order.
func (g *Graph) Ancestors(id NodeID) []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if id < 0 || int(id) >= len(g.nodes) {
		return nil
	}

	seen := make([]bool, id+1)
	seen[id] = true
	for i := int(id); i >= 0; i-- {
		if !seen[i] {
			continue
		}
		for _, in := range g.nodes[i].Inputs {
			seen[in] = true
		}
	}

	var out []NodeID
	for i, ok := range seen {
		if ok {
			out = append(out, NodeID(i))
		}
	}
	return out
}

// Close releases the memory held by the graph's decoded sources. The graph
// must not be evaluated afterwards.
func (g *Graph) Close() {
	g.closeOnce.Do(func() {
		g.mu.RLock()
		defer g.mu.RUnlock()
		for _, n := range g.nodes {
			if s, ok := n.Op.(*SourceOp); ok {
				s.close()
			}
		}
	})
}
