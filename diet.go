// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package diet implements the training objective and decision layer of a
// DIET-style ("Dual Intent and Entity") classifier head: given contextual
// token embeddings from a pretrained encoder, it produces per-token entity
// tags and an utterance-level intent, and trains both jointly.
//
// The encoder and the structured sequence scorer (typically a linear-chain
// CRF) are consumed as injected capabilities -- see Encoder and
// SequenceScorer. The head owns only its learned parameters: the entity
// emission projection, the intent embedding table and its projections, all
// stored in a context.Context scope. The training loop, optimizer and
// checkpointing are external; the head only defines the scalar joint loss to
// be minimized and the inference decisions (best tag path,
// nearest-intent-by-similarity or argmax).
//
// Typical usage:
//
//	cfg := diet.NewConfig(intents, entities)
//	head := must.M1(diet.NewJointHead(cfg, encoder, scorer))
//	model := must.M1(diet.NewModel(backends.MustNew(), context.New(), head))
//	pred := must.M1(model.Forward(tokenIDs, attentionMask))
package diet

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// IntentStrategy selects how the utterance-level intent is classified and
// trained. It is fixed at head construction.
type IntentStrategy int

const (
	// IntentByEmbeddingSimilarity learns an embedding per intent and decides by
	// cosine similarity between the projected utterance embedding and every
	// intent embedding; training uses a metric loss over positive/sampled
	// negative pairs. This is the default.
	IntentByEmbeddingSimilarity IntentStrategy = iota

	// IntentByClassifier projects the utterance embedding through a plain
	// linear layer to one logit per intent; training uses squared error when
	// there is a single intent, and sparse cross-entropy otherwise.
	IntentByClassifier
)

// LossStrategy selects the loss engine of the embedding-similarity intent
// path. It has no effect under IntentByClassifier.
type LossStrategy int

const (
	// LossMargin is the max-margin hinge loss with hardest-negative mining.
	// This is the default.
	LossMargin LossStrategy = iota

	// LossHybridCrossEntropy combines a two-class softmax loss with per-logit
	// sigmoid cross-entropy and confidence-based scaling. See
	// losses.HybridLoss.
	LossHybridCrossEntropy
)

// Context hyperparameters read by the joint head. When set
// (ctx.SetParam(...)), they take precedence over the Config values -- so a
// checkpointed context rebuilds the same objective.
const (
	// ParamMuPos overrides Config.MuPos.
	ParamMuPos = "diet_mu_pos"

	// ParamMuNeg overrides Config.MuNeg.
	ParamMuNeg = "diet_mu_neg"

	// ParamUseMaxSimNeg overrides Config.UseMaxSimNeg.
	ParamUseMaxSimNeg = "diet_use_max_sim_neg"
)

// reservedIntentRows is the number of extra rows in the intent embedding
// table beyond the vocabulary, reserved for padding/unknown ids.
const reservedIntentRows = 2

// Config describes the vocabularies and objective of a joint head. Create it
// with NewConfig, which fills in the defaults, then adjust fields as needed
// before passing it to NewJointHead. The configuration is fixed once the head
// is built; vocabularies are never resized.
type Config struct {
	// Intents is the ordered intent vocabulary. Intent ids are indices into
	// this slice. It must not be empty.
	Intents []string

	// Entities is the ordered entity vocabulary, WITHOUT the "outside" label:
	// "O" is prepended automatically and takes tag id 0.
	Entities []string

	// EmbeddingDim is the dimension of the shared similarity-embedding space
	// of the embedding-similarity intent path. Defaults to 128.
	EmbeddingDim int

	// DType of the learned parameters and activations. Defaults to Float32.
	DType dtypes.DType

	// Intent selects the intent path strategy.
	Intent IntentStrategy

	// Loss selects the loss engine of the embedding-similarity path.
	Loss LossStrategy

	// MuPos is the target minimum cosine similarity for correct labels.
	// Defaults to losses.MuPosDefault (0.8).
	MuPos float64

	// MuNeg is the target maximum cosine similarity for incorrect labels.
	// Defaults to losses.MuNegDefault (-0.2).
	MuNeg float64

	// UseMaxSimNeg, if true, minimizes only the maximum similarity over
	// incorrect labels -- a single maximum across the whole batch. Defaults to
	// true.
	UseMaxSimNeg bool
}

// NewConfig returns a Config with the given vocabularies and the default
// objective: embedding-similarity intents trained with the margin loss,
// muPos=0.8, muNeg=-0.2, hardest-negative mining, embedding dimension 128 and
// Float32 parameters.
func NewConfig(intents, entities []string) *Config {
	return &Config{
		Intents:      intents,
		Entities:     entities,
		EmbeddingDim: 128,
		DType:        dtypes.Float32,
		Intent:       IntentByEmbeddingSimilarity,
		Loss:         LossMargin,
		MuPos:        0.8,
		MuNeg:        -0.2,
		UseMaxSimNeg: true,
	}
}

// NumIntents returns the size of the intent vocabulary.
func (c *Config) NumIntents() int { return len(c.Intents) }

// NumEntities returns the size of the entity tag set, including the "O"
// (outside) tag prepended at id 0.
func (c *Config) NumEntities() int { return len(c.Entities) + 1 }

// EntityLabels returns the full ordered tag vocabulary, with "O" prepended.
func (c *Config) EntityLabels() []string {
	return append([]string{"O"}, c.Entities...)
}

// validate reports configuration errors. These are fatal at construction:
// there is no degraded mode for a head with no vocabulary to classify into.
func (c *Config) validate() error {
	if c.NumIntents() == 0 {
		return errors.New("intent vocabulary is empty")
	}
	if c.EmbeddingDim <= 0 {
		return errors.Errorf("embedding dimension must be positive, got %d", c.EmbeddingDim)
	}
	if !c.DType.IsFloat() {
		return errors.Errorf("parameters require a float dtype, got %s", c.DType)
	}
	if c.Intent == IntentByEmbeddingSimilarity && c.NumIntents() < 2 {
		return errors.New("the embedding-similarity intent path needs at least 2 intents " +
			"to sample a negative label; use IntentByClassifier for a single intent")
	}
	return nil
}
