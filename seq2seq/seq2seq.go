// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package seq2seq defines the contracts between the checkpoint/embedding
// utilities and the neural sequence-to-sequence training system that owns the
// actual math: models, criteria, optimizers and learning-rate schedulers.
//
// The training loop, the network architectures and the loss computations are
// external to this module. What this package pins down is the narrow surface
// those collaborators must expose so that training state can be captured,
// persisted and restored:
//
//   - Model exports and imports its weights as a name -> tensor map.
//   - Optimizer exports and imports its internal state as a Record.
//   - LRScheduler exposes its best observed loss so far.
//   - Criterion exposes a stable name, used as the compatibility key when
//     deciding whether optimizer state from a checkpoint is resumable.
//
// Architecture selection is explicit: instead of a global registry keyed by
// architecture names, callers pass a ModelBuilder that constructs a model from
// a configuration Record and the source/target dictionaries.
package seq2seq

import (
	"github.com/gomlx/seqtrain/tensors"
	"github.com/gomlx/seqtrain/vocab"
)

// Record is an explicit serializable key-value record, used for model/criterion
// configuration ("args"), opaque optimizer state and checkpoint extra state.
// Values must be JSON-serializable.
type Record = map[string]any

// Model is the weight import/export capability of a neural network.
type Model interface {
	// StateDict exports the model weights as a map from parameter name to tensor.
	StateDict() map[string]*tensors.Tensor

	// LoadStateDict imports the given weights into the model. It must return an
	// error if parameter names or shapes don't match the model's own parameters.
	LoadStateDict(weights map[string]*tensors.Tensor) error
}

// ModelBuilder constructs a fresh model from a configuration record and the
// source/target vocabularies.
type ModelBuilder interface {
	Build(args Record, src, dst *vocab.Dictionary) (Model, error)
}

// ModelBuilderFunc adapts a plain function to the ModelBuilder interface.
type ModelBuilderFunc func(args Record, src, dst *vocab.Dictionary) (Model, error)

// Build implements ModelBuilder.
func (fn ModelBuilderFunc) Build(args Record, src, dst *vocab.Dictionary) (Model, error) {
	return fn(args, src, dst)
}

// Optimizer is the state import/export capability of an optimizer.
type Optimizer interface {
	// StateDict exports the optimizer's internal state.
	StateDict() Record

	// LoadStateDict imports previously exported state.
	LoadStateDict(state Record) error
}

// LRScheduler is the slice of a learning-rate scheduler the checkpoint codec
// interacts with: the best observed validation loss so far.
type LRScheduler interface {
	BestLoss() float64
	SetBestLoss(loss float64)
}

// Criterion identifies a loss function. The loss math lives with the training
// graph; here a criterion acts as a stable identity key recorded in checkpoints
// to decide whether optimizer state is resumable.
type Criterion interface {
	// Name returns a stable type name, constant across processes and versions.
	Name() string
}

// CrossEntropyCriterion is the plain token-level cross-entropy loss.
// Its name also seeds the criterion field when upgrading checkpoints that
// predate per-segment optimizer history.
type CrossEntropyCriterion struct {
	// PadIndex is the target padding index ignored by the loss.
	PadIndex int
}

// Name implements Criterion.
func (CrossEntropyCriterion) Name() string { return "CrossEntropyCriterion" }

// LabelSmoothedCrossEntropyCriterion is cross-entropy with label smoothing.
type LabelSmoothedCrossEntropyCriterion struct {
	Smoothing float64
	PadIndex  int
}

// Name implements Criterion.
func (LabelSmoothedCrossEntropyCriterion) Name() string {
	return "LabelSmoothedCrossEntropyCriterion"
}
