// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ensemble reconstructs a set of independently trained models from
// their checkpoints, for ensembled inference.
//
// All models of an ensemble share one architecture: the configuration record
// of the FIRST checkpoint is used to build every model, while each model gets
// its own checkpoint's weights. Configurations of the remaining checkpoints are
// not enforced to match -- combining checkpoints of different architectures is
// caller error -- but a divergence is logged when noticed.
package ensemble

import (
	"reflect"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/seqtrain/checkpoints"
	"github.com/gomlx/seqtrain/seq2seq"
	"github.com/gomlx/seqtrain/support/fsutil"
	"github.com/gomlx/seqtrain/tensors"
	"github.com/gomlx/seqtrain/vocab"
)

// LoadForInference loads the checkpoints at paths and returns one freshly built
// model per checkpoint, in input order, with that checkpoint's weights loaded.
// All snapshots are read CPU-resident.
//
// A missing file fails the whole load immediately: no later path is touched.
func LoadForInference(paths []string, builder seq2seq.ModelBuilder,
	src, dst *vocab.Dictionary) ([]seq2seq.Model, error) {
	snapshots := make([]*checkpoints.Snapshot, 0, len(paths))
	for _, path := range paths {
		path, err := fsutil.ReplaceTildeInDir(path)
		if err != nil {
			return nil, err
		}
		exists, err := fsutil.FileExists(path)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, errors.Errorf("model file not found: %s", path)
		}
		snapshot, err := checkpoints.ReadSnapshot(path, tensors.CPU)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to load ensemble member %q", path)
		}
		snapshots = append(snapshots, snapshot)
	}
	if len(snapshots) == 0 {
		return nil, errors.Errorf("no checkpoint paths given for ensemble")
	}

	// The architecture configuration comes from the first checkpoint only.
	args := snapshots[0].Args
	for ii, snapshot := range snapshots[1:] {
		if !reflect.DeepEqual(args, snapshot.Args) {
			klog.Warningf("ensemble member %q has a different configuration than %q; "+
				"using the first member's configuration for all models", paths[ii+1], paths[0])
		}
	}

	models := make([]seq2seq.Model, 0, len(snapshots))
	for ii, snapshot := range snapshots {
		model, err := builder.Build(args, src, dst)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to build ensemble member %q", paths[ii])
		}
		if err = model.LoadStateDict(snapshot.Weights); err != nil {
			return nil, errors.WithMessagef(err, "failed to load weights of ensemble member %q", paths[ii])
		}
		models = append(models, model)
	}
	return models, nil
}
