package ensemble

import (
	"fmt"
)

// Booster is the fitted additive model. Its raw margin (log-odds) for a row
// is InitScore plus the sum of every tree's leaf value.
type Booster struct {
	InitScore float64 `msgpack:"init_score"`
	Trees     []Tree  `msgpack:"trees"`
	NFeatures int     `msgpack:"n_features"`
}

// Margin returns the raw score of one row.
func (b *Booster) Margin(row []float64) float64 {
	z := b.InitScore
	for i := range b.Trees {
		z += b.Trees[i].Predict(row)
	}
	return z
}

// ExpectedValue is the margin averaged over the training rows, the base
// value of every TreeSHAP explanation.
func (b *Booster) ExpectedValue() float64 {
	v := b.InitScore
	for i := range b.Trees {
		v += b.Trees[i].ExpectedValue()
	}
	return v
}

// validate checks the structural integrity of decoded trees.
func (b *Booster) validate() error {
	for t := range b.Trees {
		nodes := b.Trees[t].Nodes
		if len(nodes) == 0 {
			return fmt.Errorf("tree %d has no nodes", t)
		}
		for i := range nodes {
			n := &nodes[i]
			if n.IsLeaf() {
				continue
			}
			if n.Feature >= b.NFeatures {
				return fmt.Errorf("tree %d node %d splits on feature %d of %d", t, i, n.Feature, b.NFeatures)
			}
			if n.Left <= i || n.Right <= i || n.Left >= len(nodes) || n.Right >= len(nodes) {
				return fmt.Errorf("tree %d node %d has invalid children %d/%d", t, i, n.Left, n.Right)
			}
		}
		if !(nodes[0].Cover > 0) {
			return fmt.Errorf("tree %d root has no cover", t)
		}
	}
	return nil
}
