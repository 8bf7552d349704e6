// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package losses implements the intent losses of a DIET-style ("Dual Intent
// and Entity") classification head: cosine similarity between embedding
// batches, a max-margin hinge loss over positive/negative similarities, an
// alternative hybrid softmax+sigmoid cross-entropy loss with confidence-based
// scaling, and a contrastive loss over embedding pairs.
//
// All functions build graph nodes and follow the conventions of
// gomlx/ml/train/losses: shape violations panic immediately (they are contract
// errors, not recoverable), and reductions to a scalar happen inside the loss
// so the returned node is ready to be minimized.
package losses

import (
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

const (
	// MuPosDefault is the default target minimum cosine similarity between an
	// input embedding and its correct label embedding.
	MuPosDefault = 0.8

	// MuNegDefault is the default target maximum cosine similarity between an
	// input embedding and incorrect label embeddings.
	MuNegDefault = -0.2
)

// PairLossFn is the signature shared by the selectable intent loss engines
// (see MakeMarginLoss and HybridLoss): it takes the similarity of each example
// to its correct label (simPos) and to sampled incorrect labels (simNeg), both
// shaped [batchSize] (or [batchSize, numNegatives]), and returns a scalar loss.
type PairLossFn func(simPos, simNeg *graph.Node) *graph.Node

const (
	Epsilon16 = 1e-4
	Epsilon32 = 1e-7
	Epsilon64 = 1e-8
)

func epsilonForDType(g *graph.Graph, dtype dtypes.DType) *graph.Node {
	var epsilon float64
	switch dtype {
	case dtypes.Float64:
		epsilon = Epsilon64
	case dtypes.Float32:
		epsilon = Epsilon32
	case dtypes.Float16:
		epsilon = Epsilon16
	default:
		Panicf("unknown epsilon value for dtype %s", dtype)
	}
	return graph.Const(g, shapes.CastAsDType(epsilon, dtype))
}

// CosineSimilarity returns the cosine of the angle between the vectors on the
// last axis of a and b, that is `<a, b> / (|a| |b|)` per row.
//
// a and b must have identical shapes `[..., dim]`; the result drops the last
// axis. Rows with zero norm yield similarity 0, never NaN -- the
// normalization denominator has a safe floor (see graph.L2Normalize).
func CosineSimilarity(a, b *graph.Node) *graph.Node {
	if !a.Shape().Equal(b.Shape()) {
		Panicf("CosineSimilarity requires operands of identical shapes, got a=%s and b=%s",
			a.Shape(), b.Shape())
	}
	a = graph.L2Normalize(a, -1)
	b = graph.L2Normalize(b, -1)
	return graph.ReduceSum(graph.Mul(a, b), -1)
}

// MakeMarginLoss returns a max-margin hinge loss over similarity scores.
//
// Per example it penalizes `max(0, muPos - simPos)`, so positive pairs are
// pushed above muPos. For the negative side:
//
//   - If useMaxSimNeg, only the hardest negative is minimized: the maximum
//     similarity over the ENTIRE simNeg tensor -- a single scalar for the whole
//     batch, not a per-example maximum -- enters as `max(0, muNeg + maxSimNeg)`
//     and is added to every example's loss. The batch-wide coupling is
//     deliberate (hardest-negative mining across the batch); do not "fix" it to
//     per-example semantics.
//   - Otherwise every negative similarity is penalized with
//     `max(0, muNeg + simNeg)`, and the largest of those penalties (again a
//     single scalar over the whole tensor) is added to every example.
//
// The returned loss is the mean over the batch. It is a hinge loss: once both
// margins are satisfied the loss -- and its gradient -- is exactly zero.
func MakeMarginLoss(muPos, muNeg float64, useMaxSimNeg bool) PairLossFn {
	return func(simPos, simNeg *graph.Node) *graph.Node {
		loss := graph.MaxScalar(graph.AddScalar(graph.Neg(simPos), muPos), 0)
		if useMaxSimNeg {
			// Minimize only the maximum similarity over incorrect labels.
			maxSimNeg := graph.ReduceAllMax(simNeg)
			loss = graph.Add(loss, graph.MaxScalar(graph.AddScalar(maxSimNeg, muNeg), 0))
		} else {
			// Minimize all similarities with incorrect labels, keeping only the
			// single worst penalty, again shared across the batch.
			maxMargin := graph.MaxScalar(graph.AddScalar(simNeg, muNeg), 0)
			loss = graph.Add(loss, graph.ReduceAllMax(maxMargin))
		}
		return graph.ReduceAllMean(loss)
	}
}

// MarginLoss is MakeMarginLoss with the default margins (MuPosDefault,
// MuNegDefault) and hardest-negative mining enabled.
var MarginLoss = MakeMarginLoss(MuPosDefault, MuNegDefault, true)

// HybridLoss is the alternative intent loss: it treats `[simPos, simNeg]` as
// two-class logits per example (column 0 being the true class) and combines:
//
//   - a softmax term: negative log-likelihood of class 0 under a softmax over
//     the two logits;
//   - a sigmoid term: independent binary cross-entropy of each logit against
//     the labels [1, 0], averaged over the two columns. Applying the sigmoid
//     per logit constrains the similarities individually so they saturate at
//     extreme values.
//
// The raw per-example loss (softmax + sigmoid terms) is then rescaled by the
// implied correctness probability `p = exp(-rawLoss)`: once any example in the
// batch reaches p > 0.5, every example's loss is multiplied by
// `((1-p)/0.5)^4`, detached from the gradient. This focal-style reweighting
// de-emphasizes examples that are already learned. Below the threshold the
// scale is exactly 1.
//
// The returned loss is the mean over the batch. HybridLoss is a drop-in
// PairLossFn alternative to MakeMarginLoss.
func HybridLoss(simPos, simNeg *graph.Node) *graph.Node {
	if !simPos.Shape().Equal(simNeg.Shape()) {
		Panicf("HybridLoss requires simPos (%s) and simNeg (%s) of identical shapes",
			simPos.Shape(), simNeg.Shape())
	}

	// Similarities between input and labels should be optimized relative to
	// each other, hence they are stacked as logits for the softmax term.
	logits := graph.Concatenate([]*graph.Node{graph.InsertAxes(simPos, -1), graph.InsertAxes(simNeg, -1)}, -1)
	logProbs := graph.LogSoftmax(logits, -1)
	softmaxLoss := graph.Neg(graph.Squeeze(graph.Slice(logProbs, graph.AxisRange(), graph.AxisElem(0)), -1))

	// Binary cross-entropy of each logit against labels [1, 0], using the
	// numerically stable logits formulation (max(x,0) - x*z + log1p(exp(-|x|))).
	labels := graph.Concatenate([]*graph.Node{
		graph.OnesLike(graph.InsertAxes(simPos, -1)),
		graph.ZerosLike(graph.InsertAxes(simNeg, -1)),
	}, -1)
	sigmoidLoss := graph.Add(
		graph.Sub(graph.Max(logits, graph.ZerosLike(logits)), graph.Mul(logits, labels)),
		graph.Log1P(graph.Exp(graph.Neg(graph.Abs(logits)))))
	sigmoidLoss = graph.ReduceMean(sigmoidLoss, -1)

	loss := graph.Add(softmaxLoss, sigmoidLoss)
	loss = graph.Mul(loss, scaleByConfidence(graph.Neg(loss)))
	if loss.Rank() > 1 {
		loss = graph.ReduceMean(loss, -1)
	}
	return graph.ReduceAllMean(loss)
}

// scaleByConfidence creates the loss scaling coefficient from the
// log-likelihood of the prediction: `p = exp(logLikelihood)` and, only once
// `max(p) > 0.5` somewhere in the batch, the factor becomes `((1-p)/0.5)^4`
// for every element. The coefficient is detached from the gradient -- it is a
// pure reweighting, not differentiated through.
func scaleByConfidence(logLikelihood *graph.Node) *graph.Node {
	g := logLikelihood.Graph()
	dtype := logLikelihood.DType()
	p := graph.Exp(logLikelihood)
	scale := graph.StopGradient(graph.PowScalar(graph.MulScalar(graph.OneMinus(p), 2), 4))
	triggered := graph.GreaterThan(graph.ReduceAllMax(p), graph.Scalar(g, dtype, 0.5))
	triggered = graph.BroadcastToDims(triggered, p.Shape().Dimensions...)
	return graph.Where(triggered, scale, graph.OnesLike(p))
}

// pairwiseEuclidean returns the rowwise euclidean distance between a and b,
// shaped as a and b minus the last axis. The gradient of sqrt is infinite at
// zero, so exact-zero distances take an epsilon inside the sqrt and are set
// back to zero afterwards.
func pairwiseEuclidean(a, b *graph.Node) *graph.Node {
	if !a.Shape().Equal(b.Shape()) {
		Panicf("euclidean distance requires operands of identical shapes, got a=%s and b=%s",
			a.Shape(), b.Shape())
	}
	g := a.Graph()
	dtype := a.DType()
	diff := graph.Sub(a, b)
	squared := graph.MaxScalar(graph.ReduceSum(graph.Mul(diff, diff), -1), 0.0)
	zero := graph.ScalarZero(g, dtype)
	mask := graph.Equal(squared, zero)
	dist := graph.Sqrt(graph.Where(mask, epsilonForDType(g, dtype), squared))
	return graph.Where(mask, zero, dist)
}

// MakeContrastiveLoss returns a contrastive loss over two embedding batches of
// identical shape `[batchSize, dim]`.
//
// For pairs labeled as similar (sameLabel=true) it returns the mean squared
// euclidean distance; for dissimilar pairs it returns the mean squared hinge
// `max(0, margin - distance)`, pushing the pair at least margin apart.
func MakeContrastiveLoss(margin float64) func(a, b *graph.Node, sameLabel bool) *graph.Node {
	return func(a, b *graph.Node, sameLabel bool) *graph.Node {
		dist := pairwiseEuclidean(a, b)
		if sameLabel {
			return graph.ReduceAllMean(graph.Mul(dist, dist))
		}
		delta := graph.MaxScalar(graph.AddScalar(graph.Neg(dist), margin), 0)
		return graph.ReduceAllMean(graph.Mul(delta, delta))
	}
}
