package ensemble

import (
	"math"
)

// treeParams are the per-tree growth settings.
type treeParams struct {
	maxDepth       int
	learningRate   float64
	minChildWeight float64
	lambda         float64
	gamma          float64
}

// histBin accumulates first and second order statistics for one bin.
type histBin struct {
	grad  float64
	hess  float64
	count int
}

// splitCandidate is the best split found for a node.
type splitCandidate struct {
	feature int
	bin     int
	gain    float64
}

// grower builds one tree from pre-binned features and per-row gradients.
type grower struct {
	params treeParams
	bins   *binMapper
	binned [][]int32
	grad   []float64
	hess   []float64
	hist   []histBin
}

type pendingNode struct {
	index int
	rows  []int
}

// grow builds a tree depth by depth and returns it together with the leaf
// membership of every row, so callers can update cached margins without
// re-walking the tree.
func (g *grower) grow(rows []int) (Tree, [][]int, []float64) {
	t := Tree{Nodes: []Node{g.newNode(rows, 0)}}
	var leafRows [][]int
	var leafVals []float64
	level := []pendingNode{{index: 0, rows: rows}}

	for len(level) > 0 {
		var next []pendingNode
		for _, p := range level {
			node := &t.Nodes[p.index]
			var best splitCandidate
			found := false
			if node.Depth < g.params.maxDepth && len(p.rows) >= 2 {
				best, found = g.bestSplit(p.rows)
			}
			if !found {
				node.Value = g.leafValue(p.rows)
				leafRows = append(leafRows, p.rows)
				leafVals = append(leafVals, node.Value)
				continue
			}

			left, right := g.partition(p.rows, best)
			depth := node.Depth + 1
			node.Feature = best.feature
			node.Threshold = g.bins.bounds[best.feature][best.bin]
			node.Gain = best.gain
			node.Left = len(t.Nodes)
			node.Right = len(t.Nodes) + 1
			t.Nodes = append(t.Nodes, g.newNode(left, depth), g.newNode(right, depth))

			next = append(next,
				pendingNode{index: len(t.Nodes) - 2, rows: left},
				pendingNode{index: len(t.Nodes) - 1, rows: right})
		}
		level = next
	}
	return t, leafRows, leafVals
}

func (g *grower) newNode(rows []int, depth int) Node {
	return Node{Feature: -1, Left: -1, Right: -1, Cover: float64(len(rows)), Depth: depth}
}

// leafValue is the Newton step -G/(H+lambda) shrunk by the learning rate.
func (g *grower) leafValue(rows []int) float64 {
	var G, H float64
	for _, i := range rows {
		G += g.grad[i]
		H += g.hess[i]
	}
	if H+g.params.lambda == 0 {
		return 0
	}
	return -G / (H + g.params.lambda) * g.params.learningRate
}

// bestSplit scans every feature histogram. The first candidate with the
// strictly highest gain wins, and only a positive gain is a split.
func (g *grower) bestSplit(rows []int) (splitCandidate, bool) {
	var G, H float64
	for _, i := range rows {
		G += g.grad[i]
		H += g.hess[i]
	}
	lambda := g.params.lambda
	parentScore := G * G / (H + lambda)

	best := splitCandidate{gain: 0}
	found := false
	for f := range g.binned {
		nb := g.bins.nBins(f)
		if nb < 2 {
			continue
		}
		hist := g.histogram(f, rows, nb)

		var GL, HL float64
		nL := 0
		for k := 0; k < nb-1; k++ {
			GL += hist[k].grad
			HL += hist[k].hess
			nL += hist[k].count
			nR := len(rows) - nL
			if nL < 1 {
				continue
			}
			if nR < 1 {
				break
			}
			GR, HR := G-GL, H-HL
			if HL < g.params.minChildWeight || HR < g.params.minChildWeight {
				continue
			}
			gain := 0.5*(GL*GL/(HL+lambda)+GR*GR/(HR+lambda)-parentScore) - g.params.gamma
			if gain > best.gain && !math.IsNaN(gain) {
				best = splitCandidate{feature: f, bin: k, gain: gain}
				found = true
			}
		}
	}
	return best, found
}

func (g *grower) histogram(f int, rows []int, nb int) []histBin {
	if cap(g.hist) < nb {
		g.hist = make([]histBin, nb)
	}
	hist := g.hist[:nb]
	for k := range hist {
		hist[k] = histBin{}
	}
	col := g.binned[f]
	for _, i := range rows {
		b := col[i]
		hist[b].grad += g.grad[i]
		hist[b].hess += g.hess[i]
		hist[b].count++
	}
	return hist
}

// partition splits rows by bin <= s.bin, keeping their relative order.
func (g *grower) partition(rows []int, s splitCandidate) (left, right []int) {
	col := g.binned[s.feature]
	left = make([]int, 0, len(rows))
	right = make([]int, 0, len(rows))
	for _, i := range rows {
		if int(col[i]) <= s.bin {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}
