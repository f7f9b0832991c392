// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/seqtrain/seq2seq"
	"github.com/gomlx/seqtrain/tensors"
)

// testModel keeps a state dict, and on import verifies names and shapes, like a
// real model would.
type testModel struct {
	weights map[string]*tensors.Tensor
}

func (m *testModel) StateDict() map[string]*tensors.Tensor { return m.weights }

func (m *testModel) LoadStateDict(weights map[string]*tensors.Tensor) error {
	if len(weights) != len(m.weights) {
		return errors.Errorf("model has %d parameters, checkpoint has %d", len(m.weights), len(weights))
	}
	for name, current := range m.weights {
		loaded, found := weights[name]
		if !found {
			return errors.Errorf("parameter %q missing from checkpoint", name)
		}
		if current.Size() != loaded.Size() || current.Rank() != loaded.Rank() {
			return errors.Errorf("parameter %q has shape %s, checkpoint has %s", name, current, loaded)
		}
		m.weights[name] = loaded
	}
	return nil
}

type testOptimizer struct {
	state seq2seq.Record
}

func (o *testOptimizer) StateDict() seq2seq.Record { return o.state }

func (o *testOptimizer) LoadStateDict(state seq2seq.Record) error {
	o.state = state
	return nil
}

type testScheduler struct {
	best float64
}

func (s *testScheduler) BestLoss() float64        { return s.best }
func (s *testScheduler) SetBestLoss(loss float64) { s.best = loss }

func newTestModel() *testModel {
	return &testModel{weights: map[string]*tensors.Tensor{
		"encoder.embed_tokens": tensors.FromFlat([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6}),
		"decoder.out_bias":     tensors.FromVector([]float32{-0.5, 1.25}).WithDType(tensors.Float16),
	}}
}

func zerosLike(m *testModel) *testModel {
	weights := make(map[string]*tensors.Tensor, len(m.weights))
	for name, t := range m.weights {
		weights[name] = tensors.Zeros(t.Dims()...).WithDType(t.DType())
	}
	return &testModel{weights: weights}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.pt")
	model := newTestModel()
	criterion := seq2seq.CrossEntropyCriterion{}
	optimizer := &testOptimizer{state: seq2seq.Record{"lr": 0.25, "step": 10.0}}
	scheduler := &testScheduler{best: 2.5}
	args := seq2seq.Record{"arch": "fconv", "dropout": 0.1}

	history := SaveState(path, args, model, criterion, optimizer, scheduler, nil,
		seq2seq.Record{"epoch": 3.0})
	require.Len(t, history, 1)
	assert.Equal(t, "CrossEntropyCriterion", history[0].CriterionName)
	assert.Equal(t, 2.5, history[0].BestLoss)

	model2 := zerosLike(model)
	optimizer2 := &testOptimizer{state: seq2seq.Record{}}
	scheduler2 := &testScheduler{}
	extra, loadedHistory, err := LoadState(path, model2, criterion, optimizer2, scheduler2, "")
	require.NoError(t, err)
	require.Len(t, loadedHistory, 1)
	assert.Equal(t, seq2seq.Record{"epoch": 3.0}, extra)
	assert.Equal(t, seq2seq.Record{"lr": 0.25, "step": 10.0}, optimizer2.state)
	assert.Equal(t, 2.5, scheduler2.best)
	for name, want := range model.weights {
		assert.Truef(t, want.Equal(model2.weights[name]), "weights %q changed in the round-trip", name)
	}
	assert.Equal(t, tensors.Float16, model2.weights["decoder.out_bias"].DType(),
		"storage dtype survives the round-trip")
}

func TestLoadMissingSnapshot(t *testing.T) {
	model := newTestModel()
	extra, history, err := LoadState(filepath.Join(t.TempDir(), "none.pt"), model,
		seq2seq.CrossEntropyCriterion{}, &testOptimizer{}, &testScheduler{}, "")
	require.NoError(t, err)
	assert.Nil(t, extra)
	assert.Nil(t, history)
}

func TestHistoryAppendOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.pt")
	model := newTestModel()
	criterion := seq2seq.CrossEntropyCriterion{}
	optimizer := &testOptimizer{state: seq2seq.Record{}}
	scheduler := &testScheduler{}

	var history []OptimizerEpoch
	for ii := 1; ii <= 3; ii++ {
		scheduler.best = float64(ii)
		history = SaveState(path, nil, model, criterion, optimizer, scheduler, history, nil)
		require.Len(t, history, ii)
	}
	_, loaded, err := LoadState(path, zerosLike(model), criterion, optimizer, scheduler, "")
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	for ii, epoch := range loaded {
		assert.Equal(t, float64(ii)+1, epoch.BestLoss, "entries keep call order")
	}
}

func TestCriterionMismatchGuard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.pt")
	model := newTestModel()
	SaveState(path, nil, model, seq2seq.CrossEntropyCriterion{},
		&testOptimizer{state: seq2seq.Record{"lr": 1.0}}, &testScheduler{best: 2.0}, nil, nil)

	// Sentinel values must survive a load under a different criterion.
	optimizer := &testOptimizer{state: seq2seq.Record{"sentinel": true}}
	scheduler := &testScheduler{best: 123.0}
	model2 := zerosLike(model)
	_, history, err := LoadState(path, model2, seq2seq.LabelSmoothedCrossEntropyCriterion{},
		optimizer, scheduler, "")
	require.NoError(t, err)
	assert.Equal(t, seq2seq.Record{"sentinel": true}, optimizer.state)
	assert.Equal(t, 123.0, scheduler.best)
	require.Len(t, history, 1, "history is still returned for bookkeeping")
	for name, want := range model.weights {
		assert.Truef(t, want.Equal(model2.weights[name]), "weights %q must load regardless of the criterion", name)
	}
}

func TestSaveFailureIsSwallowed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "no_such_dir", "checkpoint.pt")
	model := newTestModel()
	history := SaveState(path, nil, model, seq2seq.CrossEntropyCriterion{},
		&testOptimizer{}, &testScheduler{}, nil, nil)
	assert.Len(t, history, 1, "the epoch is still recorded for the caller")
	assert.NoFileExists(t, path)
}

func TestLoadShapeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.pt")
	SaveState(path, nil, newTestModel(), seq2seq.CrossEntropyCriterion{},
		&testOptimizer{}, &testScheduler{}, nil, nil)

	wrong := &testModel{weights: map[string]*tensors.Tensor{
		"encoder.embed_tokens": tensors.Zeros(4, 4),
		"decoder.out_bias":     tensors.Zeros(2),
	}}
	_, _, err := LoadState(path, wrong, seq2seq.CrossEntropyCriterion{},
		&testOptimizer{}, &testScheduler{}, "")
	require.ErrorContains(t, err, "encoder.embed_tokens")
}

func TestHomeDirExpansion(t *testing.T) {
	// A tilde path with an unknown user fails the lookup, which proves the
	// expansion runs before any filesystem access.
	_, _, err := LoadState("~no-such-user-xyzzy/checkpoint.pt", newTestModel(),
		seq2seq.CrossEntropyCriterion{}, &testOptimizer{}, &testScheduler{}, "")
	require.ErrorContains(t, err, "no-such-user-xyzzy")

	_, err = ReadSnapshot("~no-such-user-xyzzy/checkpoint.pt", "")
	require.ErrorContains(t, err, "no-such-user-xyzzy")

	err = WriteSnapshot("~no-such-user-xyzzy/checkpoint.pt", &Snapshot{})
	require.ErrorContains(t, err, "no-such-user-xyzzy")
}

func TestLoadDeviceHint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.pt")
	model := newTestModel()
	SaveState(path, nil, model, seq2seq.CrossEntropyCriterion{}, &testOptimizer{}, &testScheduler{}, nil, nil)

	snapshot, err := ReadSnapshot(path, "cuda:1")
	require.NoError(t, err)
	for name, t2 := range snapshot.Weights {
		assert.Equalf(t, tensors.Device("cuda:1"), t2.Device(), "weights %q not relocated", name)
	}
	snapshot, err = ReadSnapshot(path, "")
	require.NoError(t, err)
	for _, t2 := range snapshot.Weights {
		assert.Equal(t, tensors.CPU, t2.Device())
	}
}
