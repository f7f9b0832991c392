// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/seqtrain/seq2seq"
	"github.com/gomlx/seqtrain/tensors"
)

// writeLegacyV1File writes an uncompressed, header-less snapshot file with the
// pre-history metadata layout, the way the earliest writers did.
func writeLegacyV1File(t *testing.T, path string, weights *tensors.Tensor) {
	metadata := map[string]any{
		"args": map[string]any{"arch": "fconv"},
		"model": []weightEntry{{
			Name:   "encoder.embed_tokens",
			Dims:   weights.Dims(),
			DType:  weights.DType().String(),
			Pos:    0,
			Length: weights.Memory(),
		}},
		"optimizer":    map[string]any{"momentum": 0.9},
		"best_loss":    2.25,
		"epoch":        5,
		"batch_offset": 12,
		"val_loss":     3.75,
	}
	encoded, err := json.Marshal(metadata)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(len(encoded))))
	buf.Write(encoded)
	_, err = weights.WriteData(&buf)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func TestReadLegacyV1File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.pt")
	weights := tensors.FromFlat([]int{2, 2}, []float32{1, 2, 3, 4})
	writeLegacyV1File(t, path, weights)

	snapshot, err := ReadSnapshot(path, "")
	require.NoError(t, err)

	require.Len(t, snapshot.History, 1, "legacy optimizer state becomes a single-entry history")
	assert.Equal(t, "CrossEntropyCriterion", snapshot.History[0].CriterionName)
	assert.Equal(t, seq2seq.Record{"momentum": 0.9}, snapshot.History[0].Optimizer)
	assert.Equal(t, 2.25, snapshot.History[0].BestLoss)

	assert.Equal(t, seq2seq.Record{"epoch": 5.0, "batch_offset": 12.0, "val_loss": 3.75}, snapshot.Extra)
	assert.Equal(t, seq2seq.Record{"arch": "fconv"}, snapshot.Args)

	require.Contains(t, snapshot.Weights, "encoder.embed_tokens")
	assert.True(t, weights.Equal(snapshot.Weights["encoder.embed_tokens"]))
}

func TestWriteSnapshotFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.pt")
	snapshot := &Snapshot{
		SnapshotID: "test-id",
		Args:       seq2seq.Record{"arch": "fconv"},
		Weights: map[string]*tensors.Tensor{
			"b": tensors.FromVector([]float32{3, 4, 5}),
			"a": tensors.FromVector([]float32{1, 2}).WithDType(tensors.Float16),
		},
		History: []OptimizerEpoch{{CriterionName: "CrossEntropyCriterion", BestLoss: 1.0}},
		Extra:   seq2seq.Record{},
	}
	require.NoError(t, WriteSnapshot(path, snapshot))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(raw), lenBinHeader)
	assert.Equal(t, binHeader, string(raw[:lenBinHeader]), "files start with the magic header")

	decoded, err := ReadSnapshot(path, "")
	require.NoError(t, err)
	assert.Equal(t, "test-id", decoded.SnapshotID)
	assert.True(t, snapshot.Weights["a"].Equal(decoded.Weights["a"]))
	assert.True(t, snapshot.Weights["b"].Equal(decoded.Weights["b"]))
	assert.Equal(t, tensors.Float16, decoded.Weights["a"].DType())
}

func TestReadSnapshotChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.pt")
	snapshot := &Snapshot{
		Args: seq2seq.Record{"arch": "fconv"},
		Weights: map[string]*tensors.Tensor{
			"w": tensors.FromVector([]float32{1, 2, 3, 4}),
		},
		Extra: seq2seq.Record{},
	}
	require.NoError(t, WriteSnapshot(path, snapshot))

	// The last 8 bytes of the gzip member are the CRC32 and ISIZE trailer.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(raw), 8)
	for ii := len(raw) - 8; ii < len(raw)-4; ii++ {
		raw[ii] ^= 0xFF
	}
	require.NoError(t, os.WriteFile(path, raw, 0644))
	_, err = ReadSnapshot(path, "")
	assert.Error(t, err, "corrupted checksum trailer must be rejected")

	// A truncated tail loses the trailer entirely.
	require.NoError(t, os.WriteFile(path, raw[:len(raw)-8], 0644))
	_, err = ReadSnapshot(path, "")
	assert.Error(t, err, "truncated trailer must be rejected")
}

func TestReadSnapshotCorrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pt")
	require.NoError(t, os.WriteFile(path, []byte("not a checkpoint at all, but long enough"), 0644))
	_, err := ReadSnapshot(path, "")
	assert.Error(t, err)
}
