// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package diet

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// JointHead orchestrates the two objectives: it projects encoder outputs to
// entity emissions for the sequence scorer, runs the configured intent path
// over the pooled embedding, and combines both losses into the joint training
// signal. All learned parameters live under the "diet" scope of the context
// passed to the graph-building methods.
//
// A JointHead is stateless between calls apart from those context variables;
// building graphs concurrently on independent contexts is safe, but callers
// must serialize parameter updates against in-flight forward calls.
type JointHead struct {
	cfg     *Config
	encoder Encoder
	scorer  SequenceScorer
}

// NewJointHead validates the configuration and collaborators and returns the
// head. Configuration problems (empty intent vocabulary, missing
// collaborators, a similarity path with nothing to sample negatives from) are
// fatal here rather than at first forward.
func NewJointHead(cfg *Config, encoder Encoder, scorer SequenceScorer) (*JointHead, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid diet configuration")
	}
	if encoder == nil {
		return nil, errors.New("encoder must not be nil")
	}
	if encoder.HiddenDim() <= 0 {
		return nil, errors.Errorf("encoder hidden dimension must be positive, got %d", encoder.HiddenDim())
	}
	if scorer == nil {
		return nil, errors.New("sequence scorer must not be nil")
	}
	return &JointHead{cfg: cfg, encoder: encoder, scorer: scorer}, nil
}

// Config returns the head's (immutable) configuration.
func (h *JointHead) Config() *Config { return h.cfg }

// buildGraph assembles the joint forward graph.
//
// tokenIDs and attentionMask are [batchSize, seqLen]. entityTags
// ([batchSize, seqLen-1], one tag per token after the leading summary token)
// and intentLabels ([batchSize]) may both be nil for inference.
//
// decoded and intentLogits are always produced. entityLoss and intentLoss are
// nil when the corresponding labels are nil; jointLoss is non-nil only when
// both label sets were supplied.
func (h *JointHead) buildGraph(ctx *context.Context, tokenIDs, attentionMask, entityTags, intentLabels *Node) (
	decoded, intentLogits, entityLoss, intentLoss, jointLoss *Node) {
	if tokenIDs.Rank() != 2 {
		Panicf("tokenIDs must be rank-2 [batchSize, seqLen], got %s", tokenIDs.Shape())
	}
	batchSize := tokenIDs.Shape().Dim(0)
	seqLen := tokenIDs.Shape().Dim(1)
	if attentionMask.Rank() != 2 || attentionMask.Shape().Dim(0) != batchSize ||
		attentionMask.Shape().Dim(1) != seqLen {
		Panicf("attentionMask (%s) must match tokenIDs (%s)", attentionMask.Shape(), tokenIDs.Shape())
	}
	ctx = ctx.In("diet")

	tokenEmbeddings, pooled := h.encoder.Encode(ctx.In("encoder"), tokenIDs, attentionMask, nil)
	hidden := h.encoder.HiddenDim()
	if tokenEmbeddings.Rank() != 3 || tokenEmbeddings.Shape().Dim(0) != batchSize ||
		tokenEmbeddings.Shape().Dim(-1) != hidden {
		Panicf("encoder returned token embeddings %s, want [%d, seqLen, %d]",
			tokenEmbeddings.Shape(), batchSize, hidden)
	}
	if pooled.Rank() != 2 || pooled.Shape().Dim(0) != batchSize || pooled.Shape().Dim(-1) != hidden {
		Panicf("encoder returned pooled embedding %s, want [%d, %d]", pooled.Shape(), batchSize, hidden)
	}

	// The leading token summarizes the utterance for the intent path; the
	// remaining tokens feed the entity path.
	entitiesCtx := ctx.In("entities")
	sequence := Slice(tokenEmbeddings, AxisRange(), AxisRangeToEnd(1))
	sequence = layers.DropoutFromContext(entitiesCtx, sequence)
	pooled = layers.DropoutFromContext(ctx.In("intents"), pooled)

	emissions := layers.DenseWithBias(entitiesCtx.In("emissions"), sequence, h.cfg.NumEntities())
	decoded = h.scorer.Decode(ctx.In("scorer"), emissions)
	if entityTags != nil {
		if entityTags.Rank() != 2 || entityTags.Shape().Dim(0) != batchSize ||
			entityTags.Shape().Dim(1) != seqLen-1 {
			Panicf("entityTags (%s) must be [%d, %d], one tag per token after the leading one",
				entityTags.Shape(), batchSize, seqLen-1)
		}
		mask := ConvertDType(Slice(attentionMask, AxisRange(), AxisRangeToEnd(1)), dtypes.Bool)
		entityLoss = Neg(h.scorer.LogLikelihood(ctx.In("scorer"), emissions, entityTags, mask))
	}

	if intentLabels != nil {
		if intentLabels.Rank() != 1 || intentLabels.Shape().Dim(0) != batchSize {
			Panicf("intentLabels (%s) must be [%d]", intentLabels.Shape(), batchSize)
		}
		if !intentLabels.DType().IsInt() {
			Panicf("intentLabels must be integer intent ids, got %s", intentLabels.Shape())
		}
	}
	switch h.cfg.Intent {
	case IntentByEmbeddingSimilarity:
		intentLogits, intentLoss = h.similarityIntents(ctx.In("intents"), pooled, intentLabels)
	case IntentByClassifier:
		intentLogits, intentLoss = h.classifierIntents(ctx.In("intents"), pooled, intentLabels)
	default:
		Panicf("unknown intent strategy %d", h.cfg.Intent)
	}

	if entityLoss != nil && intentLoss != nil {
		// Fixed equal weighting of the two objectives.
		jointLoss = MulScalar(Add(entityLoss, intentLoss), 0.5)
	}
	return
}

// BuildTrainGraph is a train.ModelFn for train.NewTrainer. The dataset must
// yield inputs [tokenIDs, attentionMask, entityTags, intentLabels]; the
// returned predictions are [decodedTagPaths, intentLogits, jointLoss]. Pair
// it with JointLossFn.
func (h *JointHead) BuildTrainGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	_ = spec
	if len(inputs) != 4 {
		Panicf("BuildTrainGraph expects inputs [tokenIDs, attentionMask, entityTags, intentLabels], got %d inputs",
			len(inputs))
	}
	decoded, intentLogits, _, _, jointLoss := h.buildGraph(ctx, inputs[0], inputs[1], inputs[2], inputs[3])
	return []*Node{decoded, intentLogits, jointLoss}
}

// JointLossFn is the train.LossFn companion to JointHead.BuildTrainGraph: the
// joint loss is computed inside the model graph (negative sampling needs the
// labels there), so this just selects it from the predictions.
func JointLossFn(labels, predictions []*Node) *Node {
	_ = labels
	return predictions[2]
}
