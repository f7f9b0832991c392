// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/gomlx/seqtrain/seq2seq"
)

// Historic metadata layouts, upgraded in place on every read:
//
//   - v1: top-level "optimizer" and "best_loss" instead of "optimizer_history".
//   - v2: top-level "epoch", "batch_offset" and "val_loss" instead of "extra_state".
//
// The two migrations are independent and order-insensitive, and upgrading an
// already-upgraded record is a no-op, so upgradeState is idempotent.
func upgradeState(state map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	// Add optimizer_history: collapse the legacy top-level optimizer state into
	// a single-entry history, recorded under the plain cross-entropy criterion.
	if _, found := state["optimizer_history"]; !found {
		epoch := OptimizerEpoch{
			CriterionName: seq2seq.CrossEntropyCriterion{}.Name(),
			BestLoss:      0,
		}
		if raw, found := state["optimizer"]; found {
			if err := json.Unmarshal(raw, &epoch.Optimizer); err != nil {
				return nil, errors.Wrap(err, "failed to decode legacy \"optimizer\" field")
			}
		}
		if raw, found := state["best_loss"]; found {
			if err := json.Unmarshal(raw, &epoch.BestLoss); err != nil {
				return nil, errors.Wrap(err, "failed to decode legacy \"best_loss\" field")
			}
		}
		encoded, err := json.Marshal([]OptimizerEpoch{epoch})
		if err != nil {
			return nil, errors.Wrap(err, "failed to re-encode legacy optimizer state")
		}
		state["optimizer_history"] = encoded
		delete(state, "optimizer")
		delete(state, "best_loss")
	}

	// Move the loose bookkeeping fields into the extra_state sub-record.
	if _, found := state["epoch"]; found {
		if _, found := state["extra_state"]; !found {
			extra := make(seq2seq.Record)
			for _, field := range []string{"epoch", "batch_offset", "val_loss"} {
				raw, found := state[field]
				if !found {
					continue
				}
				var value any
				if err := json.Unmarshal(raw, &value); err != nil {
					return nil, errors.Wrapf(err, "failed to decode legacy %q field", field)
				}
				extra[field] = value
				delete(state, field)
			}
			encoded, err := json.Marshal(extra)
			if err != nil {
				return nil, errors.Wrap(err, "failed to re-encode legacy extra state")
			}
			state["extra_state"] = encoded
		}
	}
	return state, nil
}
