// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package diet

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	gomlxlosses "github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/diet/losses"
)

// similarityIntents is the embedding-similarity intent path: the pooled
// embedding is projected to the shared similarity space and scored by cosine
// similarity against the projected embedding of every intent in the
// vocabulary. That similarity vector is the decision surface -- there is no
// separate classifier on top of it.
//
// With gold labels, the loss is the configured pair loss over the similarity
// to the gold label's embedding and to one freshly sampled negative per
// example.
func (h *JointHead) similarityIntents(ctx *context.Context, pooled, intentLabels *Node) (logits, loss *Node) {
	g := pooled.Graph()
	dtype := pooled.DType()
	numIntents := h.cfg.NumIntents()
	batchSize := pooled.Shape().Dim(0)

	inputEmbed := layers.DenseWithBias(ctx.In("output_projection"), pooled, h.cfg.EmbeddingDim)
	allEmbed := h.embedAllIntents(ctx, g)

	broadcast := shapes.Make(dtype, batchSize, numIntents, h.cfg.EmbeddingDim)
	logits = losses.CosineSimilarity(
		BroadcastToShape(InsertAxes(inputEmbed, 1), broadcast),
		BroadcastToShape(InsertAxes(allEmbed, 0), broadcast))

	if intentLabels == nil {
		return
	}
	positiveEmbed := h.embedIntentBatch(ctx, intentLabels)
	negativeEmbed := h.sampleNegativeIntents(ctx, allEmbed, intentLabels)
	simPos := losses.CosineSimilarity(inputEmbed, positiveEmbed)
	simNeg := losses.CosineSimilarity(inputEmbed, negativeEmbed)
	loss = h.pairLossFor(ctx)(simPos, simNeg)
	return
}

// classifierIntents is the plain classifier intent path: a linear layer to
// one logit per intent. With a single intent the training target is treated
// as a regression (squared error); otherwise sparse cross-entropy.
func (h *JointHead) classifierIntents(ctx *context.Context, pooled, intentLabels *Node) (logits, loss *Node) {
	numIntents := h.cfg.NumIntents()
	logits = layers.DenseWithBias(ctx.In("classifier"), pooled, numIntents)
	if intentLabels == nil {
		return
	}
	if numIntents == 1 {
		predictions := Squeeze(logits, -1)
		targets := ConvertDType(intentLabels, logits.DType())
		loss = gomlxlosses.MeanSquaredError([]*Node{targets}, []*Node{predictions})
	} else {
		crossEntropy := gomlxlosses.SparseCategoricalCrossEntropyLogits(
			[]*Node{InsertAxes(intentLabels, -1)}, []*Node{logits})
		loss = ReduceAllMean(crossEntropy)
	}
	return
}

// embedAllIntents projects every vocabulary id through the intent embedding
// table and the shared-space projection, shaped [numIntents, embeddingDim].
// Used both for the decision surface and for negative sampling. The table
// keeps reservedIntentRows extra rows for padding/unknown ids; those are
// never projected here.
func (h *JointHead) embedAllIntents(ctx *context.Context, g *Graph) *Node {
	ids := Iota(g, shapes.Make(dtypes.Int32, h.cfg.NumIntents()), 0)
	table := layers.Embedding(ctx.In("label_table"), ids, h.cfg.DType,
		h.cfg.NumIntents()+reservedIntentRows, h.encoder.HiddenDim())
	return layers.DenseWithBias(ctx.In("label_projection"), table, h.cfg.EmbeddingDim)
}

// embedIntentBatch projects a batch of gold intent ids ([batchSize]) to the
// shared similarity space, reusing the same table and projection variables as
// embedAllIntents.
func (h *JointHead) embedIntentBatch(ctx *context.Context, intentLabels *Node) *Node {
	table := layers.Embedding(ctx.In("label_table"), intentLabels, h.cfg.DType,
		h.cfg.NumIntents()+reservedIntentRows, h.encoder.HiddenDim())
	return layers.DenseWithBias(ctx.In("label_projection"), table, h.cfg.EmbeddingDim)
}

// sampleNegativeIntents picks for each example one intent embedding uniformly
// at random from the vocabulary excluding the example's own gold label, and
// returns the corresponding rows of allEmbed, shaped like the positive batch.
//
// Draws are independent per example and resampled fresh on every forward
// call. Randomness comes from the context RNG state, so tests can make the
// sequence deterministic with Context.RngStateFromSeed.
func (h *JointHead) sampleNegativeIntents(ctx *context.Context, allEmbed, intentLabels *Node) *Node {
	draw := h.sampleNegativeIDs(ctx, intentLabels)
	return Gather(allEmbed, InsertAxes(draw, -1))
}

// sampleNegativeIDs draws one non-gold intent id per example: a uniform draw
// over the numIntents-1 non-gold candidates, then a skip over the gold label
// -- draws at or after it shift up by one, so the gold id itself can never be
// selected.
func (h *JointHead) sampleNegativeIDs(ctx *context.Context, intentLabels *Node) *Node {
	g := intentLabels.Graph()
	numIntents := h.cfg.NumIntents()
	batchSize := intentLabels.Shape().Dim(0)
	uniform := ctx.RandomUniform(g, shapes.Make(h.cfg.DType, batchSize))
	draw := ConvertDType(Floor(MulScalar(uniform, float64(numIntents-1))), intentLabels.DType())
	return Where(GreaterOrEqual(draw, intentLabels), AddScalar(draw, 1), draw)
}

// pairLossFor returns the loss engine selected by the configuration. The
// margin values may be overridden by context hyperparameters (ParamMuPos,
// ParamMuNeg, ParamUseMaxSimNeg).
func (h *JointHead) pairLossFor(ctx *context.Context) losses.PairLossFn {
	switch h.cfg.Loss {
	case LossMargin:
		muPos := context.GetParamOr(ctx, ParamMuPos, h.cfg.MuPos)
		muNeg := context.GetParamOr(ctx, ParamMuNeg, h.cfg.MuNeg)
		useMaxSimNeg := context.GetParamOr(ctx, ParamUseMaxSimNeg, h.cfg.UseMaxSimNeg)
		return losses.MakeMarginLoss(muPos, muNeg, useMaxSimNeg)
	case LossHybridCrossEntropy:
		return losses.HybridLoss
	default:
		Panicf("unknown loss strategy %d", h.cfg.Loss)
		return nil
	}
}
