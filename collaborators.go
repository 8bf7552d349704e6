// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package diet

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gopjrt/dtypes"
)

// Encoder is the pretrained contextual encoder consumed by the joint head. It
// is a black box: any implementation mapping token ids and an attention mask
// to per-token hidden vectors works (a BERT-family transformer in practice, a
// toy embedding encoder in tests).
//
// Encode builds the encoder sub-graph. tokenIDs and attentionMask are shaped
// [batchSize, seqLen] (integer ids, 1/0 mask); tokenTypeIDs is optional and
// may be nil. It returns the per-token embeddings shaped
// [batchSize, seqLen, hiddenDim] and the pooled utterance embedding shaped
// [batchSize, hiddenDim] -- by convention the first token's embedding.
type Encoder interface {
	// HiddenDim is the dimension of the returned hidden vectors.
	HiddenDim() int

	Encode(ctx *context.Context, tokenIDs, attentionMask, tokenTypeIDs *Node) (tokenEmbeddings, pooled *Node)
}

// SequenceScorer scores and decodes tag sequences from per-token emission
// scores. It is consumed as a black box so any structured scorer -- typically
// a linear-chain CRF with learned transitions -- can be plugged in.
type SequenceScorer interface {
	// LogLikelihood returns the (scalar) log-likelihood of the gold tags given
	// emissions shaped [batchSize, seqLen, numTags], tags shaped
	// [batchSize, seqLen] and a boolean validity mask of the same shape as
	// tags. The joint head negates it to obtain the entity loss.
	LogLikelihood(ctx *context.Context, emissions, tags, mask *Node) *Node

	// Decode returns the best tag path for each example as an Int32 tensor
	// shaped [batchSize, seqLen].
	Decode(ctx *context.Context, emissions *Node) *Node
}

// EmissionTagScorer is a trivial SequenceScorer that treats every token
// independently: the log-likelihood is the sum of per-token log-softmax
// scores at the gold tags over valid positions, and decoding is a per-token
// argmax. It has no learned parameters and no transition structure.
//
// It makes the head usable -- and testable -- without a CRF; substitute a real
// structured scorer for production tagging.
type EmissionTagScorer struct{}

// LogLikelihood implements SequenceScorer.
func (EmissionTagScorer) LogLikelihood(_ *context.Context, emissions, tags, mask *Node) *Node {
	numTags := emissions.Shape().Dim(-1)
	logProbs := LogSoftmax(emissions, -1)
	gold := OneHot(tags, numTags, emissions.DType())
	perToken := ReduceSum(Mul(gold, logProbs), -1)
	perToken = Where(mask, perToken, ZerosLike(perToken))
	return ReduceAllSum(perToken)
}

// Decode implements SequenceScorer.
func (EmissionTagScorer) Decode(_ *context.Context, emissions *Node) *Node {
	return ArgMax(emissions, -1, dtypes.Int32)
}
