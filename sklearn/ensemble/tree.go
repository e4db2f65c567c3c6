package ensemble

// Node is one node of a regression tree stored in a flat slice. Leaves have
// Feature == -1 and carry the shrunk output in Value.
type Node struct {
	Feature   int     `msgpack:"feature"`
	Threshold float64 `msgpack:"threshold"`
	Left      int     `msgpack:"left"`
	Right     int     `msgpack:"right"`
	Value     float64 `msgpack:"value"`
	// Cover is the number of training rows that reached the node.
	Cover float64 `msgpack:"cover"`
	Gain  float64 `msgpack:"gain"`
	Depth int     `msgpack:"depth"`
}

// IsLeaf reports whether the node is terminal.
func (n *Node) IsLeaf() bool { return n.Feature < 0 }

// Tree is a binary tree whose root is Nodes[0]. Rows go left when
// x[Feature] <= Threshold.
type Tree struct {
	Nodes []Node `msgpack:"nodes"`
}

// Predict returns the leaf value reached by row.
func (t *Tree) Predict(row []float64) float64 {
	i := 0
	for !t.Nodes[i].IsLeaf() {
		n := &t.Nodes[i]
		if row[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return t.Nodes[i].Value
}

// ExpectedValue is the cover-weighted mean leaf value, the tree's output
// averaged over its training rows.
func (t *Tree) ExpectedValue() float64 {
	var sum float64
	for i := range t.Nodes {
		if t.Nodes[i].IsLeaf() {
			sum += t.Nodes[i].Cover * t.Nodes[i].Value
		}
	}
	return sum / t.Nodes[0].Cover
}

// MaxDepth is the depth of the deepest leaf (a single leaf has depth 0).
func (t *Tree) MaxDepth() int {
	d := 0
	for i := range t.Nodes {
		if t.Nodes[i].Depth > d {
			d = t.Nodes[i].Depth
		}
	}
	return d
}

// NumLeaves counts terminal nodes.
func (t *Tree) NumLeaves() int {
	n := 0
	for i := range t.Nodes {
		if t.Nodes[i].IsLeaf() {
			n++
		}
	}
	return n
}
