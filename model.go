// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package diet

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Model is a JointHead compiled for execution: it owns the context with the
// learned variables and two cached executables, one for inference and one for
// the labeled forward that also yields the losses.
//
// Forward calls are synchronous, bounded computations over a fixed-size
// batch; the Model assumes parameter updates (by an external optimizer over
// the same context) are serialized against them.
type Model struct {
	backend backends.Backend
	ctx     *context.Context
	head    *JointHead

	infer *context.Exec
	loss  *context.Exec
}

// Prediction is the inference output of a forward call.
type Prediction struct {
	// TagPaths holds the best tag path decoded by the sequence scorer, shaped
	// [batchSize, seqLen-1], Int32 tag ids in [0, numEntities).
	TagPaths *tensors.Tensor

	// IntentScores is the intent decision surface, shaped
	// [batchSize, numIntents]: cosine similarities in [-1, 1] under
	// IntentByEmbeddingSimilarity, raw logits under IntentByClassifier.
	IntentScores *tensors.Tensor

	// IntentIDs is the argmax of IntentScores per example, shaped
	// [batchSize], Int32.
	IntentIDs *tensors.Tensor
}

// TagPathSlices returns TagPaths as one []int32 per example.
func (p *Prediction) TagPathSlices() [][]int32 {
	return p.TagPaths.Value().([][]int32)
}

// IntentIDSlice returns IntentIDs as a []int32.
func (p *Prediction) IntentIDSlice() []int32 {
	return p.IntentIDs.Value().([]int32)
}

// Losses is the output of a labeled forward call: the same predictions as
// inference plus the per-task and joint losses. JointLoss is always exactly
// 0.5*EntityLoss + 0.5*IntentLoss.
type Losses struct {
	Prediction

	EntityLoss float64
	IntentLoss float64
	JointLoss  float64
}

// NewModel compiles the head over the given backend and context. The context
// carries (and accumulates) the learned variables; pass a context loaded from
// a checkpoint to serve trained weights.
func NewModel(backend backends.Backend, ctx *context.Context, head *JointHead) (*Model, error) {
	if backend == nil {
		return nil, errors.New("backend must not be nil")
	}
	if ctx == nil {
		return nil, errors.New("context must not be nil")
	}
	if head == nil {
		return nil, errors.New("joint head must not be nil")
	}
	m := &Model{backend: backend, ctx: ctx, head: head}
	m.infer = context.NewExec(backend, ctx,
		func(ctx *context.Context, tokenIDs, attentionMask *Node) []*Node {
			ctx.SetTraining(tokenIDs.Graph(), false)
			decoded, intentLogits, _, _, _ := head.buildGraph(ctx, tokenIDs, attentionMask, nil, nil)
			return []*Node{decoded, intentLogits, ArgMax(intentLogits, -1, dtypes.Int32)}
		})
	m.loss = context.NewExec(backend, ctx,
		func(ctx *context.Context, tokenIDs, attentionMask, entityTags, intentLabels *Node) []*Node {
			ctx.SetTraining(tokenIDs.Graph(), true)
			decoded, intentLogits, entityLoss, intentLoss, jointLoss := head.buildGraph(
				ctx, tokenIDs, attentionMask, entityTags, intentLabels)
			return []*Node{decoded, intentLogits, ArgMax(intentLogits, -1, dtypes.Int32),
				ConvertDType(entityLoss, dtypes.Float64),
				ConvertDType(intentLoss, dtypes.Float64),
				ConvertDType(jointLoss, dtypes.Float64)}
		})
	return m, nil
}

// Context returns the context holding the model's variables.
func (m *Model) Context() *context.Context { return m.ctx }

// Head returns the underlying JointHead.
func (m *Model) Head() *JointHead { return m.head }

// Forward runs inference on a batch. tokenIDs and attentionMask must be
// integer tensors shaped [batchSize, seqLen]. No losses are produced --
// the joint loss is only defined when both label sets are supplied (see
// ForwardWithLabels).
func (m *Model) Forward(tokenIDs, attentionMask *tensors.Tensor) (*Prediction, error) {
	var outputs []*tensors.Tensor
	err := exceptions.TryCatch[error](func() { outputs = m.infer.Call(tokenIDs, attentionMask) })
	if err != nil {
		return nil, err
	}
	return &Prediction{TagPaths: outputs[0], IntentScores: outputs[1], IntentIDs: outputs[2]}, nil
}

// ForwardWithLabels runs the labeled forward: the same predictions as Forward
// plus the entity loss (negated scorer log-likelihood), the intent loss under
// the configured strategy, and the joint loss. entityTags must be shaped
// [batchSize, seqLen-1] and intentLabels [batchSize], both integer.
//
// Dropout is active in this mode: it computes the training objective.
func (m *Model) ForwardWithLabels(tokenIDs, attentionMask, entityTags, intentLabels *tensors.Tensor) (*Losses, error) {
	var outputs []*tensors.Tensor
	err := exceptions.TryCatch[error](func() {
		outputs = m.loss.Call(tokenIDs, attentionMask, entityTags, intentLabels)
	})
	if err != nil {
		return nil, err
	}
	return &Losses{
		Prediction: Prediction{TagPaths: outputs[0], IntentScores: outputs[1], IntentIDs: outputs[2]},
		EntityLoss: tensors.ToScalar[float64](outputs[3]),
		IntentLoss: tensors.ToScalar[float64](outputs[4]),
		JointLoss:  tensors.ToScalar[float64](outputs[5]),
	}, nil
}
