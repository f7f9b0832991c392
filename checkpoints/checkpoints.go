// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package checkpoints implements saving and restoring of training snapshots for
// a sequence-to-sequence training run.
//
// A snapshot captures the model configuration ("args"), the model weights, the
// append-only optimizer history (one OptimizerEpoch per save, recording which
// criterion was driving training) and a free-form extra-state record for caller
// bookkeeping (epoch counters, running validation loss, ...).
//
// SaveState and LoadState are the high-level entry points, called by the
// training driver around epoch boundaries:
//
//	extra, history, err := checkpoints.LoadState(path, model, criterion, optimizer, scheduler, "")
//	...training...
//	history = checkpoints.SaveState(path, args, model, criterion, optimizer, scheduler, history, extra)
//
// Snapshots written by older versions of the format are upgraded transparently
// on read; see upgradeState. Writers always emit the current (v3) layout.
//
// Save failures are deliberately non-fatal: the write is attempted up to three
// times and, if it still fails, the error is logged and training proceeds with
// that snapshot lost. Loading from a path with no snapshot is also not an
// error; it returns empty state so that fresh runs and resumed runs share one
// code path.
//
// None of the calls are safe for concurrent use on the same path; the training
// driver is expected to serialize them.
package checkpoints

import (
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/seqtrain/seq2seq"
	"github.com/gomlx/seqtrain/support/fsutil"
	"github.com/gomlx/seqtrain/support/xslices"
	"github.com/gomlx/seqtrain/tensors"
)

// maxSaveAttempts is how many times SaveState tries to write the snapshot
// before giving up and logging the failure.
const maxSaveAttempts = 3

// OptimizerEpoch is one entry of a snapshot's optimizer history. A new entry is
// appended on every save and never mutated afterward.
type OptimizerEpoch struct {
	// CriterionName is the stable name of the criterion driving training when
	// the entry was recorded. On load it gates whether the optimizer state is
	// resumable.
	CriterionName string `json:"criterion_name"`

	// Optimizer is the optimizer's exported internal state.
	Optimizer seq2seq.Record `json:"optimizer"`

	// BestLoss is the learning-rate scheduler's best observed loss so far.
	BestLoss float64 `json:"best_loss"`
}

// Snapshot is a complete training snapshot, the unit read and written by this
// package. Each ReadSnapshot/WriteSnapshot call produces or consumes an
// independent value; snapshots are never shared or aliased across calls.
type Snapshot struct {
	// SnapshotID is a unique id stamped on each written snapshot. Informative.
	SnapshotID string

	// Args is the configuration record used to reconstruct model and criterion.
	Args seq2seq.Record

	// Weights maps parameter name to tensor.
	Weights map[string]*tensors.Tensor

	// History is the append-only optimizer history, oldest first.
	History []OptimizerEpoch

	// Extra is the caller-owned extra-state record.
	Extra seq2seq.Record
}

// SaveState captures the current training state into a snapshot and writes it
// to path, returning the snapshot's optimizer history -- the given history plus
// one new OptimizerEpoch -- for the caller to pass back on the next save.
//
// The write is attempted up to three times; a persistent failure is logged and
// swallowed, so a failed checkpoint never interrupts training. The data for
// that save attempt is lost.
func SaveState(path string, args seq2seq.Record, model seq2seq.Model,
	criterion seq2seq.Criterion, optimizer seq2seq.Optimizer, scheduler seq2seq.LRScheduler,
	history []OptimizerEpoch, extra seq2seq.Record) []OptimizerEpoch {
	if extra == nil {
		extra = seq2seq.Record{}
	}
	history = append(xslices.Copy(history), OptimizerEpoch{
		CriterionName: criterion.Name(),
		Optimizer:     optimizer.StateDict(),
		BestLoss:      scheduler.BestLoss(),
	})
	snapshot := &Snapshot{
		SnapshotID: uuid.NewString(),
		Args:       args,
		Weights:    model.StateDict(),
		History:    history,
		Extra:      extra,
	}

	var err error
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		err = WriteSnapshot(path, snapshot)
		if err == nil {
			if klog.V(1).Enabled() {
				var weightBytes int
				for _, t := range snapshot.Weights {
					weightBytes += t.Memory()
				}
				klog.Infof("saved checkpoint %q: %s of weights, %d history entries",
					path, humanize.Bytes(uint64(weightBytes)), len(history))
			}
			return history
		}
	}
	klog.Errorf("failed to save checkpoint %q after %d attempts: %+v", path, maxSaveAttempts, err)
	return history
}

// LoadState restores training state from the snapshot at path. A leading "~"
// in path is expanded to the user's home directory.
//
// If there is no snapshot at path, it returns empty extra state and a nil
// history with no error, so a fresh run starts transparently.
//
// Otherwise the snapshot is read (tensors tagged with device, or CPU if device
// is empty), upgraded from older format versions if needed, and:
//
//   - Model weights are always loaded; a name/shape mismatch surfaces as an
//     error from the model's own import.
//   - Optimizer state and the scheduler's best loss are restored only if the
//     last history entry was recorded under the same criterion name as the
//     current criterion. Otherwise both keep their caller-provided values, and
//     the skip is logged.
//
// It returns the snapshot's extra state and its full optimizer history.
func LoadState(path string, model seq2seq.Model, criterion seq2seq.Criterion,
	optimizer seq2seq.Optimizer, scheduler seq2seq.LRScheduler,
	device tensors.Device) (extra seq2seq.Record, history []OptimizerEpoch, err error) {
	path, err = fsutil.ReplaceTildeInDir(path)
	if err != nil {
		return nil, nil, err
	}
	exists, err := fsutil.FileExists(path)
	if err != nil {
		return nil, nil, err
	}
	if !exists {
		return nil, nil, nil
	}

	snapshot, err := ReadSnapshot(path, device)
	if err != nil {
		return nil, nil, err
	}
	if err = model.LoadStateDict(snapshot.Weights); err != nil {
		return nil, nil, errors.WithMessagef(err, "failed to load model weights from checkpoint %q", path)
	}
	if len(snapshot.History) == 0 {
		// Only possible for hand-built snapshots: every save appends an entry.
		return snapshot.Extra, nil, nil
	}

	lastOptim := xslices.Last(snapshot.History)
	if lastOptim.CriterionName == criterion.Name() {
		if err = optimizer.LoadStateDict(lastOptim.Optimizer); err != nil {
			return nil, nil, errors.WithMessagef(err, "failed to load optimizer state from checkpoint %q", path)
		}
		scheduler.SetBestLoss(lastOptim.BestLoss)
	} else {
		klog.Infof("checkpoint %q was recorded under criterion %q but training resumes with %q: "+
			"optimizer and scheduler state left at their current values", path, lastOptim.CriterionName, criterion.Name())
	}
	return snapshot.Extra, snapshot.History, nil
}
