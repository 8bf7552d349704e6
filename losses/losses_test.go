// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package losses

import (
	"testing"

	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"

	_ "github.com/gomlx/gomlx/backends/simplego"
)

func TestCosineSimilarity(t *testing.T) {
	graphtest.RunTestGraphFn(t, "CosineSimilarity",
		func(g *graph.Graph) (inputs, outputs []*graph.Node) {
			a := graph.Const(g, [][]float32{
				{1, 0, 0},
				{1, 2, 2},
				{3, 0, 0},
				{0, 0, 0},
			})
			b := graph.Const(g, [][]float32{
				{2, 0, 0},    // Same direction, different scale.
				{-1, -2, -2}, // Opposite.
				{0, 5, 0},    // Orthogonal.
				{1, 1, 1},    // Against a zero vector.
			})
			inputs = []*graph.Node{a, b}
			outputs = []*graph.Node{CosineSimilarity(a, b), CosineSimilarity(b, a)}
			return
		}, []any{
			[]float32{1, -1, 0, 0},
			[]float32{1, -1, 0, 0},
		}, 1e-5)
}

func TestCosineSimilarityBadShapes(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	g := graph.NewGraph(backend, "CosineSimilarityBadShapes")
	defer g.Finalize()
	a := graph.Const(g, []float32{1, 2, 3})
	b := graph.Const(g, []float32{1, 2})
	defer func() {
		if recover() == nil {
			t.Fatalf("CosineSimilarity should panic on mismatched shapes")
		}
	}()
	_ = CosineSimilarity(a, b)
}

func TestMarginLoss(t *testing.T) {
	// simPos[0] satisfies muPos, simPos[1] is 0.5 short; the hardest negative
	// (0.1) stays below -muNeg, so only the positive side contributes.
	graphtest.RunTestGraphFn(t, "margin loss, negatives satisfied",
		func(g *graph.Graph) (inputs, outputs []*graph.Node) {
			simPos := graph.Const(g, []float32{0.9, 0.3})
			simNeg := graph.Const(g, []float32{-0.5, 0.1})
			inputs = []*graph.Node{simPos, simNeg}
			outputs = []*graph.Node{MarginLoss(simPos, simNeg)}
			return
		}, []any{float32(0.25)}, 1e-5)

	// Exactly at both margins: simPos == muPos and maxSimNeg == -muNeg, the
	// hinge is exactly zero.
	graphtest.RunTestGraphFn(t, "margin loss, at the margin boundary",
		func(g *graph.Graph) (inputs, outputs []*graph.Node) {
			simPos := graph.Const(g, []float32{0.8, 0.8})
			simNeg := graph.Const(g, []float32{0.2, -0.4})
			inputs = []*graph.Node{simPos, simNeg}
			outputs = []*graph.Node{MarginLoss(simPos, simNeg)}
			return
		}, []any{float32(0)}, 1e-6)

	// Both margins satisfied: the hinge is exactly zero.
	graphtest.RunTestGraphFn(t, "margin loss, both margins satisfied",
		func(g *graph.Graph) (inputs, outputs []*graph.Node) {
			simPos := graph.Const(g, []float32{0.95, 0.9})
			simNeg := graph.Const(g, []float32{-0.6, -0.8})
			inputs = []*graph.Node{simPos, simNeg}
			outputs = []*graph.Node{MarginLoss(simPos, simNeg)}
			return
		}, []any{float32(0)}, 0)

	// The maximum negative similarity is taken over the whole batch: the 0.5
	// from example 0 penalizes example 1 as well.
	graphtest.RunTestGraphFn(t, "margin loss, hardest negative is shared",
		func(g *graph.Graph) (inputs, outputs []*graph.Node) {
			simPos := graph.Const(g, []float32{0.9, 0.9})
			simNeg := graph.Const(g, []float32{0.5, -0.9})
			inputs = []*graph.Node{simPos, simNeg}
			outputs = []*graph.Node{MarginLoss(simPos, simNeg)}
			return
		}, []any{float32(0.3)}, 1e-5)
}

func TestMarginLossAllNegatives(t *testing.T) {
	// useMaxSimNeg=false: the worst penalty over all negatives of all
	// examples (0.3, from example 0's first negative) is added to every
	// example, on top of example 1's 0.5 positive shortfall.
	graphtest.RunTestGraphFn(t, "margin loss over all negatives",
		func(g *graph.Graph) (inputs, outputs []*graph.Node) {
			lossFn := MakeMarginLoss(0.8, -0.2, false)
			simPos := graph.Const(g, []float32{0.9, 0.3})
			simNeg := graph.Const(g, [][]float32{
				{0.5, -0.5},
				{0.1, 0.4},
			})
			inputs = []*graph.Node{simPos, simNeg}
			outputs = []*graph.Node{lossFn(simPos, simNeg)}
			return
		}, []any{float32(0.55)}, 1e-5)
}

func TestHybridLoss(t *testing.T) {
	// With simPos==simNeg==0 both terms are log(2)+log(2) and p=0.25 stays
	// under the scaling trigger.
	graphtest.RunTestGraphFn(t, "hybrid loss, no confidence scaling",
		func(g *graph.Graph) (inputs, outputs []*graph.Node) {
			simPos := graph.Const(g, []float32{0})
			simNeg := graph.Const(g, []float32{0})
			inputs = []*graph.Node{simPos, simNeg}
			outputs = []*graph.Node{HybridLoss(simPos, simNeg)}
			return
		}, []any{float32(1.3862944)}, 1e-4)

	// A fully learned pair: the loss collapses to ~0 under the scaling.
	graphtest.RunTestGraphFn(t, "hybrid loss, learned example",
		func(g *graph.Graph) (inputs, outputs []*graph.Node) {
			simPos := graph.Const(g, []float32{5})
			simNeg := graph.Const(g, []float32{-5})
			inputs = []*graph.Node{simPos, simNeg}
			outputs = []*graph.Node{HybridLoss(simPos, simNeg)}
			return
		}, []any{float32(0)}, 1e-4)

	// The trigger is batch-wide: the confident example 0 switches the scaling
	// on for the uncertain example 1 too, whose raw loss log(4) gets scaled by
	// ((1-0.25)*2)^4 = 5.0625.
	graphtest.RunTestGraphFn(t, "hybrid loss, batch-wide trigger",
		func(g *graph.Graph) (inputs, outputs []*graph.Node) {
			simPos := graph.Const(g, []float32{5, 0})
			simNeg := graph.Const(g, []float32{-5, 0})
			inputs = []*graph.Node{simPos, simNeg}
			outputs = []*graph.Node{HybridLoss(simPos, simNeg)}
			return
		}, []any{float32(3.5090577)}, 1e-4)
}

func TestContrastiveLoss(t *testing.T) {
	lossFn := MakeContrastiveLoss(1.0)

	graphtest.RunTestGraphFn(t, "contrastive loss, identical similar pair",
		func(g *graph.Graph) (inputs, outputs []*graph.Node) {
			a := graph.Const(g, [][]float32{{1, 2}})
			inputs = []*graph.Node{a}
			outputs = []*graph.Node{lossFn(a, a, true)}
			return
		}, []any{float32(0)}, 0)

	graphtest.RunTestGraphFn(t, "contrastive loss, similar pair squared distance",
		func(g *graph.Graph) (inputs, outputs []*graph.Node) {
			a := graph.Const(g, [][]float32{{0, 0}})
			b := graph.Const(g, [][]float32{{3, 4}})
			inputs = []*graph.Node{a, b}
			outputs = []*graph.Node{lossFn(a, b, true)}
			return
		}, []any{float32(25)}, 1e-4)

	// A dissimilar pair already margin apart costs nothing.
	graphtest.RunTestGraphFn(t, "contrastive loss, dissimilar pair beyond margin",
		func(g *graph.Graph) (inputs, outputs []*graph.Node) {
			a := graph.Const(g, [][]float32{{0, 0}})
			b := graph.Const(g, [][]float32{{3, 4}})
			inputs = []*graph.Node{a, b}
			outputs = []*graph.Node{lossFn(a, b, false)}
			return
		}, []any{float32(0)}, 0)

	// A dissimilar pair 0.6 apart is 0.4 short of the margin.
	graphtest.RunTestGraphFn(t, "contrastive loss, dissimilar pair inside margin",
		func(g *graph.Graph) (inputs, outputs []*graph.Node) {
			a := graph.Const(g, [][]float32{{0, 0}})
			b := graph.Const(g, [][]float32{{0.6, 0}})
			inputs = []*graph.Node{a, b}
			outputs = []*graph.Node{lossFn(a, b, false)}
			return
		}, []any{float32(0.16)}, 1e-5)

	// Coincident dissimilar points: distance 0, full margin penalty, no NaN.
	graphtest.RunTestGraphFn(t, "contrastive loss, coincident dissimilar pair",
		func(g *graph.Graph) (inputs, outputs []*graph.Node) {
			a := graph.Const(g, [][]float32{{1, 1}})
			inputs = []*graph.Node{a}
			outputs = []*graph.Node{lossFn(a, a, false)}
			return
		}, []any{float32(1)}, 1e-5)
}
