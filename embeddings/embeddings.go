// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package embeddings ingests pretrained word-vector files (GloVe, word2vec text
// format and the like) and splices the vectors into a model's embedding matrix.
//
// The expected file format is text, UTF-8: the first line is a header and is
// always skipped -- in legacy files it holds "<vocab_size> <dimension>", but it
// is discarded unconditionally, even when it happens to parse as a vector. Each
// following line holds a token and its vector, space-separated:
//
//	2 5
//	the -0.0230 -0.0264  0.0287  0.0171  0.1403
//	at -0.0395 -0.1286  0.0275  0.0254 -0.0932
//
// Typical usage, once at model-initialization time:
//
//	table, err := embeddings.Parse(path)
//	...
//	embeddings.PrintOverlap(table, dict)
//	embeddings.Load(table, dict, model.EmbeddingMatrix())
package embeddings

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/gomlx/seqtrain/support/sets"
	"github.com/gomlx/seqtrain/tensors"
	"github.com/gomlx/seqtrain/vocab"
)

// Table holds the vectors parsed from one embedding file, mapping token to
// vector. It is built by Parse, read-only afterward, and usually discarded
// right after Load splices it into an embedding matrix.
type Table struct {
	dim     int
	vectors map[string][]float32
}

// Len returns the number of tokens in the table.
func (tbl *Table) Len() int { return len(tbl.vectors) }

// Dim returns the vector dimension of the table: the dimension of the first
// row parsed from the file.
func (tbl *Table) Dim() int { return tbl.dim }

// Has reports whether the table has a vector for the token.
func (tbl *Table) Has(token string) bool {
	_, found := tbl.vectors[token]
	return found
}

// Vector returns the vector for the token, if present.
func (tbl *Table) Vector(token string) ([]float32, bool) {
	vector, found := tbl.vectors[token]
	return vector, found
}

// Tokens returns the set of tokens in the table.
func (tbl *Table) Tokens() sets.Set[string] {
	tokens := sets.Make[string](len(tbl.vectors))
	for token := range tbl.vectors {
		tokens.Insert(token)
	}
	return tokens
}

// Parse reads an embedding text file into a Table.
//
// The first line is always skipped. Rows whose vector dimension differs from
// the first parsed row are kept, with a warning -- the splice in Load is where
// a lingering mismatch becomes fatal. Tokens are not validated against any
// vocabulary here.
func Parse(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open embedding file %q", path)
	}
	defer func() { _ = f.Close() }()
	table, err := parse(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to parse embedding file %q", path)
	}
	return table, nil
}

// ParseWithProgress is Parse displaying a progress bar sized by the file
// length, for the multi-gigabyte vector files commonly used.
func ParseWithProgress(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open embedding file %q", path)
	}
	defer func() { _ = f.Close() }()
	fi, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat embedding file %q", path)
	}
	bar := progressbar.NewOptions64(fi.Size(),
		progressbar.OptionSetDescription(humanize.IBytes(uint64(fi.Size()))),
		progressbar.OptionShowBytes(true),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: ".",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	table, err := parse(io.TeeReader(f, bar))
	_ = bar.Finish()
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to parse embedding file %q", path)
	}
	return table, nil
}

// parse does the streaming work: one pass, one line at a time, so only the
// resulting table is ever held in memory.
func parse(r io.Reader) (*Table, error) {
	table := &Table{vectors: make(map[string][]float32)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if lineNum == 1 {
			// Header line, discarded unconditionally.
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		token := fields[0]
		vector := make([]float32, 0, len(fields)-1)
		for _, field := range fields[1:] {
			value, err := strconv.ParseFloat(field, 32)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d: invalid vector value %q for token %q", lineNum, field, token)
			}
			vector = append(vector, float32(value))
		}
		if table.dim == 0 {
			table.dim = len(vector)
		} else if len(vector) != table.dim {
			klog.Warningf("embedding for token %q has dimension %d, expected %d: keeping the row anyway",
				token, len(vector), table.dim)
		}
		table.vectors[token] = vector
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed reading embedding data")
	}
	return table, nil
}

// PrintOverlap logs how many of the vocabulary's tokens have a vector in the
// table. Diagnostic only.
func PrintOverlap(table *Table, dict *vocab.Dictionary) {
	vocabKeys := sets.MakeWith(dict.Symbols()...)
	tableKeys := table.Tokens()
	overlap := tableKeys.Intersect(vocabKeys)
	klog.Infof("Found %d/%d types in embedding file.", len(overlap), dict.Len())
	if klog.V(1).Enabled() {
		missing := vocabKeys.Sub(tableKeys)
		klog.Infof("%d vocabulary types have no pretrained vector and keep their initialization.", len(missing))
	}
}

// Load overwrites, in place, the rows of matrix whose vocabulary token has a
// vector in the table. Rows without a vector keep their current (typically
// randomly initialized) values. It returns the same matrix, for chaining.
//
// The matrix must be rank-2 with one row per vocabulary entry, and every
// spliced vector must match the matrix's embedding dimension; a mismatch is a
// fatal error.
func Load(table *Table, dict *vocab.Dictionary, matrix *tensors.Tensor) *tensors.Tensor {
	if matrix.Rank() != 2 {
		exceptions.Panicf("embeddings.Load: matrix must be rank-2, got %s", matrix)
	}
	if matrix.Dim(0) != dict.Len() {
		exceptions.Panicf("embeddings.Load: matrix has %d rows, vocabulary has %d tokens", matrix.Dim(0), dict.Len())
	}
	for idx := 0; idx < dict.Len(); idx++ {
		vector, found := table.Vector(dict.Symbol(idx))
		if !found {
			continue
		}
		if len(vector) != matrix.Dim(1) {
			exceptions.Panicf("embeddings.Load: embedding for token %q has dimension %d, matrix has dimension %d",
				dict.Symbol(idx), len(vector), matrix.Dim(1))
		}
		matrix.SetRow(idx, vector)
	}
	return matrix
}
