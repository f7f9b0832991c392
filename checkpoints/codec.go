// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/gomlx/seqtrain/seq2seq"
	"github.com/gomlx/seqtrain/support/fsutil"
	"github.com/gomlx/seqtrain/tensors"
)

// Snapshot file layout:
//
//	----------------------------------------------------
//	| "seqtrain_checkpoint" | len | "gzip" | gzip data |
//	----------------------------------------------------
//
// The gzip stream holds a big-endian uint32 with the metadata length, the
// metadata JSON and then the raw tensor payload, in the order given by the
// metadata's weight entries. A file without the magic header is read as an
// uncompressed stream of the same uint32+JSON+payload layout.
const (
	binHeader    = "seqtrain_checkpoint"
	lenBinHeader = len(binHeader)
	gzipHeader   = "gzip"
)

// ErrUnsupportedCompression signifies an error when a compression type is not supported.
var ErrUnsupportedCompression = errors.New("unsupported compression")

// weightEntry locates one named tensor inside the snapshot payload.
type weightEntry struct {
	Name   string `json:"name"`
	Dims   []int  `json:"dims"`
	DType  string `json:"dtype"`
	Pos    int    `json:"pos"`
	Length int    `json:"length"`
}

// stateV3 is the current metadata layout. Older layouts are only ever seen as
// raw JSON records and are rewritten to this shape by upgradeState.
type stateV3 struct {
	SnapshotID       string           `json:"snapshot_id,omitempty"`
	Args             seq2seq.Record   `json:"args"`
	Model            []weightEntry    `json:"model"`
	OptimizerHistory []OptimizerEpoch `json:"optimizer_history"`
	ExtraState       seq2seq.Record   `json:"extra_state"`
}

// WriteSnapshot serializes the snapshot to a single file at path, always in the
// current format version. A leading "~" in path is expanded to the user's home
// directory. The parent directory must exist.
func WriteSnapshot(path string, snapshot *Snapshot) error {
	path, err := fsutil.ReplaceTildeInDir(path)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(snapshot.Weights))
	for name := range snapshot.Weights {
		names = append(names, name)
	}
	sort.Strings(names)

	metadata := &stateV3{
		SnapshotID:       snapshot.SnapshotID,
		Args:             snapshot.Args,
		Model:            make([]weightEntry, 0, len(names)),
		OptimizerHistory: snapshot.History,
		ExtraState:       snapshot.Extra,
	}
	pos := 0
	for _, name := range names {
		t := snapshot.Weights[name]
		metadata.Model = append(metadata.Model, weightEntry{
			Name:   name,
			Dims:   t.Dims(),
			DType:  t.DType().String(),
			Pos:    pos,
			Length: t.Memory(),
		})
		pos += t.Memory()
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return errors.Wrapf(err, "failed to encode checkpoint metadata for %q", path)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create checkpoint file %q", path)
	}
	var header []byte
	header = append(header, binHeader...)
	header = append(header, byte(len(gzipHeader)))
	header = append(header, gzipHeader...)
	if _, err = f.Write(header); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write header of checkpoint file %q", path)
	}

	w := gzip.NewWriter(f)
	err = binary.Write(w, binary.BigEndian, uint32(len(encoded)))
	if err == nil {
		_, err = w.Write(encoded)
	}
	if err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write metadata of checkpoint file %q", path)
	}
	for _, name := range names {
		if _, err = snapshot.Weights[name].WriteData(w); err != nil {
			_ = f.Close()
			return errors.WithMessagef(err, "failed to write weights %q to checkpoint file %q", name, path)
		}
	}
	if err = w.Close(); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to flush checkpoint file %q", path)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "failed to close checkpoint file %q", path)
	}
	return nil
}

// ReadSnapshot reads the snapshot at path, upgrading older format versions
// transparently. A leading "~" in path is expanded to the user's home
// directory. All tensors are tagged with the given device (CPU if empty).
func ReadSnapshot(path string, device tensors.Device) (*Snapshot, error) {
	path, err := fsutil.ReplaceTildeInDir(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open checkpoint file %q", path)
	}
	defer func() { _ = f.Close() }()
	r, err := payloadReader(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to read checkpoint file %q", path)
	}

	var metadataLen uint32
	if err = binary.Read(r, binary.BigEndian, &metadataLen); err != nil {
		return nil, errors.Wrapf(err, "failed to read metadata length of checkpoint file %q", path)
	}
	encoded := make([]byte, metadataLen)
	if _, err = io.ReadFull(r, encoded); err != nil {
		return nil, errors.Wrapf(err, "failed to read metadata of checkpoint file %q", path)
	}
	var state map[string]json.RawMessage
	if err = json.Unmarshal(encoded, &state); err != nil {
		return nil, errors.Wrapf(err, "failed to decode metadata of checkpoint file %q", path)
	}
	if state, err = upgradeState(state); err != nil {
		return nil, errors.WithMessagef(err, "failed to upgrade metadata of checkpoint file %q", path)
	}

	snapshot := &Snapshot{}
	if err = decodeField(state, "snapshot_id", &snapshot.SnapshotID); err != nil {
		return nil, err
	}
	if err = decodeField(state, "args", &snapshot.Args); err != nil {
		return nil, err
	}
	if err = decodeField(state, "optimizer_history", &snapshot.History); err != nil {
		return nil, err
	}
	if err = decodeField(state, "extra_state", &snapshot.Extra); err != nil {
		return nil, err
	}
	var entries []weightEntry
	if err = decodeField(state, "model", &entries); err != nil {
		return nil, err
	}

	// Tensor payloads are stored back-to-back, in entry order.
	snapshot.Weights = make(map[string]*tensors.Tensor, len(entries))
	pos := 0
	for _, entry := range entries {
		if entry.Pos != pos {
			return nil, errors.Errorf("weights %q at position %d of checkpoint file %q is out-of-order, expected position %d",
				entry.Name, entry.Pos, path, pos)
		}
		dtype, err := tensors.DTypeFromString(entry.DType)
		if err != nil {
			return nil, errors.WithMessagef(err, "weights %q of checkpoint file %q", entry.Name, path)
		}
		t := tensors.Zeros(entry.Dims...).WithDType(dtype)
		if t.Memory() != entry.Length {
			return nil, errors.Errorf("weights %q of checkpoint file %q declares %d bytes, shape %s requires %d",
				entry.Name, path, entry.Length, t, t.Memory())
		}
		if err = t.ReadData(r); err != nil {
			return nil, errors.WithMessagef(err, "failed to read weights %q of checkpoint file %q", entry.Name, path)
		}
		pos += entry.Length
		snapshot.Weights[entry.Name] = t.To(device)
	}

	// Drain to EOF so gzip verifies the CRC32/ISIZE trailer: a reader that
	// stops at the last payload byte would accept a corrupted tail.
	if _, err = io.Copy(io.Discard, r); err != nil {
		return nil, errors.Wrapf(err, "corrupted checkpoint file %q", path)
	}
	if err = r.Close(); err != nil {
		return nil, errors.Wrapf(err, "corrupted checkpoint file %q", path)
	}
	return snapshot, nil
}

// decodeField unmarshal one field of the state record into target, leaving
// target untouched if the field is absent.
func decodeField(state map[string]json.RawMessage, field string, target any) error {
	raw, found := state[field]
	if !found {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return errors.Wrapf(err, "failed to decode checkpoint field %q", field)
	}
	return nil
}

// payloadReader returns a reader on the (decompressed) snapshot stream. Files
// without the magic header are assumed uncompressed, for compatibility with
// files written before compression was introduced.
func payloadReader(f io.ReadSeeker) (io.ReadCloser, error) {
	buf := make([]byte, lenBinHeader)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	if string(buf) != binHeader {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, errors.Wrap(err, "seek header")
		}
		return io.NopCloser(bufio.NewReader(f)), nil
	}
	var compressionLen uint8
	if err := binary.Read(f, binary.BigEndian, &compressionLen); err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	compression := make([]byte, compressionLen)
	if _, err := io.ReadFull(f, compression); err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	if string(compression) != gzipHeader {
		return nil, ErrUnsupportedCompression
	}
	r, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "read gzip header")
	}
	return r, nil
}
