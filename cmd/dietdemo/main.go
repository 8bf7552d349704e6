// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// dietdemo trains a DIET-style joint intent/entity head on a tiny synthetic
// command language and prints its predictions.
//
// The encoder is a toy learned token-embedding table, so the whole model fits
// a laptop CPU; the point is to exercise the joint objective end to end, not
// to produce a useful NLU model.
package main

import (
	"flag"
	"fmt"
	"math/rand"

	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/gomlx/diet"

	_ "github.com/gomlx/gomlx/backends/simplego"
)

var (
	flagNumExamples  = flag.Int("num_examples", 2048, "Number of synthetic training examples to generate.")
	flagBatchSize    = flag.Int("batch_size", 64, "Training batch size.")
	flagNumSteps     = flag.Int("steps", 1000, "Number of training steps.")
	flagLearningRate = flag.Float64("learning_rate", 1e-3, "Adam learning rate.")
	flagSeed         = flag.Int64("seed", 42, "Seed for data generation and parameter initialization.")
	flagCheckpoint   = flag.String("checkpoint", "", "Directory to save and load checkpoints from. Empty disables checkpointing.")
)

// The synthetic command language: a fixed word list, three intents and two
// entity types. Token id 0 is padding, token id 1 is the leading summary
// token every utterance starts with.
const (
	padToken = iota
	clsToken
	wordHello
	wordBye
	wordWeather
	wordIn
	wordTomorrow
	wordToday
	wordParis
	wordBerlin
	wordLondon
	wordPlease
	wordThere
	vocabSize
)

const seqLen = 5

var (
	intents  = []string{"greet", "ask_weather", "goodbye"}
	entities = []string{"city", "time"} // "O" is implied at tag 0.

	cityWords = []int32{wordParis, wordBerlin, wordLondon}
	timeWords = []int32{wordTomorrow, wordToday}
)

// Entity tag ids, following the "O"-first vocabulary above.
const (
	tagOutside = iota
	tagCity
	tagTime
)

// example is one synthetic utterance: seqLen token ids (leading clsToken,
// padded with padToken), one tag per non-leading token, one intent.
type example struct {
	tokens [seqLen]int32
	mask   [seqLen]int32
	tags   [seqLen - 1]int32
	intent int32
}

func generateExample(rng *rand.Rand) (ex example) {
	ex.tokens[0] = clsToken
	switch rng.Intn(3) {
	case 0: // "hello please"
		ex.intent = 0
		ex.tokens[1], ex.tokens[2] = wordHello, wordPlease
	case 1: // "weather in <city> <time>"
		ex.intent = 1
		ex.tokens[1], ex.tokens[2] = wordWeather, wordIn
		ex.tokens[3] = cityWords[rng.Intn(len(cityWords))]
		ex.tokens[4] = timeWords[rng.Intn(len(timeWords))]
		ex.tags[2], ex.tags[3] = tagCity, tagTime
	case 2: // "bye there"
		ex.intent = 2
		ex.tokens[1], ex.tokens[2] = wordBye, wordThere
	}
	for i, token := range ex.tokens {
		if token != padToken || i == 0 {
			ex.mask[i] = 1
		}
	}
	return
}

func generateDataset(rng *rand.Rand, n int) (tokenIDs, attentionMask, entityTags, intentLabels *tensors.Tensor) {
	tokens := make([][]int32, n)
	masks := make([][]int32, n)
	tags := make([][]int32, n)
	labels := make([]int32, n)
	for i := range tokens {
		ex := generateExample(rng)
		tokens[i] = ex.tokens[:]
		masks[i] = ex.mask[:]
		tags[i] = ex.tags[:]
		labels[i] = ex.intent
	}
	return tensors.FromValue(tokens), tensors.FromValue(masks),
		tensors.FromValue(tags), tensors.FromValue(labels)
}

// tableEncoder is the toy Encoder: a learned embedding per token id, padding
// zeroed by the attention mask, the leading token's embedding as the pooled
// utterance embedding.
type tableEncoder struct {
	hidden int
}

func (e tableEncoder) HiddenDim() int { return e.hidden }

func (e tableEncoder) Encode(ctx *context.Context, tokenIDs, attentionMask, tokenTypeIDs *Node) (tokenEmbeddings, pooled *Node) {
	embedded := layers.Embedding(ctx.In("token_table"), tokenIDs, dtypes.Float32, vocabSize, e.hidden)
	maskF := InsertAxes(ConvertDType(attentionMask, embedded.DType()), -1)
	tokenEmbeddings = Mul(embedded, maskF)
	pooled = Squeeze(Slice(tokenEmbeddings, AxisRange(), AxisElem(0)), 1)
	return
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	backend := backends.MustNew()
	fmt.Printf("Backend %q: %s\n", backend.Name(), backend.Description())

	rng := rand.New(rand.NewSource(*flagSeed))
	tokenIDs, attentionMask, entityTags, intentLabels := generateDataset(rng, *flagNumExamples)

	cfg := diet.NewConfig(intents, entities)
	cfg.EmbeddingDim = 20
	head := must.M1(diet.NewJointHead(cfg, tableEncoder{hidden: 32}, diet.EmissionTagScorer{}))

	ctx := context.New()
	ctx.RngStateFromSeed(*flagSeed)
	ctx.SetParam(optimizers.ParamLearningRate, *flagLearningRate)

	var checkpoint *checkpoints.Handler
	if *flagCheckpoint != "" {
		checkpoint = must.M1(checkpoints.Build(ctx).Dir(*flagCheckpoint).Keep(3).Done())
		fmt.Printf("Checkpointing model to %q\n", checkpoint.Dir())
	}

	// The joint loss is built inside the model graph (negative sampling needs
	// the labels there), so all four columns go in as inputs; the label column
	// is repeated for the trainer's bookkeeping.
	dataset := must.M1(data.InMemoryFromData(backend, "diet synthetic",
		[]any{tokenIDs, attentionMask, entityTags, intentLabels},
		[]any{intentLabels})).
		Infinite(true).Shuffle().BatchSize(*flagBatchSize, true)

	trainer := train.NewTrainer(backend, ctx, head.BuildTrainGraph,
		diet.JointLossFn,
		optimizers.Adam().Done(),
		nil, nil)
	loop := train.NewLoop(trainer)
	commandline.AttachProgressBar(loop)
	if checkpoint != nil {
		train.EveryNSteps(loop, 200, "checkpoint", 100,
			func(loop *train.Loop, metrics []*tensors.Tensor) error {
				return checkpoint.Save()
			})
	}
	must.M1(loop.RunSteps(dataset, *flagNumSteps))
	if checkpoint != nil {
		must.M(checkpoint.Save())
	}

	// Show predictions on a fresh sample.
	model := must.M1(diet.NewModel(backend, ctx, head))
	sampleTokens, sampleMask, _, sampleIntents := generateDataset(rng, 8)
	pred := must.M1(model.Forward(sampleTokens, sampleMask))

	tagNames := cfg.EntityLabels()
	tokens := sampleTokens.Value().([][]int32)
	goldIntents := sampleIntents.Value().([]int32)
	fmt.Println("\nSample predictions:")
	for i, path := range pred.TagPathSlices() {
		intentID := pred.IntentIDSlice()[i]
		tags := make([]string, len(path))
		for j, tag := range path {
			tags[j] = tagNames[tag]
		}
		fmt.Printf("\ttokens=%v\tintent=%s (gold %s)\ttags=%v\n",
			tokens[i], intents[intentID], intents[goldIntents[i]], tags)
	}
}
